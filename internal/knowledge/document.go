package knowledge

import (
	"fmt"
	"strings"
	"time"
)

// ContentType enumerates the kinds of knowledge snippets.
type ContentType string

const (
	TypeProduct     ContentType = "product"
	TypeFAQ         ContentType = "faq"
	TypePolicy      ContentType = "policy"
	TypeProcess     ContentType = "process"
	TypeCalculation ContentType = "calculation"
	TypeGeneral     ContentType = "general"
)

// Priority is the editorial importance of a document.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// DefaultEffectiveness is assigned to new documents that arrive without a
// score. A zero effectiveness on insert is treated as unset.
const DefaultEffectiveness = 0.6

// Metadata describes a document. The effectiveness fields are written only by
// the effectiveness tracker.
type Metadata struct {
	Type              ContentType `json:"type"`
	Category          string      `json:"category"`
	Subcategory       string      `json:"subcategory,omitempty"`
	Priority          Priority    `json:"priority"`
	Domain            string      `json:"domain,omitempty"`
	TenantID          string      `json:"tenant_id,omitempty"`
	Tags              []string    `json:"tags,omitempty"`
	CustomerSegments  []string    `json:"customer_segments,omitempty"`
	SeasonalRelevance []string    `json:"seasonal_relevance,omitempty"`
	LocationRelevance []string    `json:"location_relevance,omitempty"`
	LastUpdated       time.Time   `json:"last_updated"`

	Effectiveness    float64   `json:"effectiveness"`
	QueryCount       int       `json:"query_count"`
	AverageRelevance float64   `json:"average_relevance"`
	LastUsed         time.Time `json:"last_used,omitempty"`
}

// Document is a knowledge snippet with its embedding.
type Document struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"embedding,omitempty"`
	Metadata  Metadata  `json:"metadata"`
}

// Clone returns a deep copy of d.
func (d Document) Clone() Document {
	out := d
	out.Embedding = cloneFloats(d.Embedding)
	out.Metadata.Tags = cloneStrings(d.Metadata.Tags)
	out.Metadata.CustomerSegments = cloneStrings(d.Metadata.CustomerSegments)
	out.Metadata.SeasonalRelevance = cloneStrings(d.Metadata.SeasonalRelevance)
	out.Metadata.LocationRelevance = cloneStrings(d.Metadata.LocationRelevance)
	return out
}

// WithoutEmbedding returns a deep copy of d with the vector dropped, which is
// how documents travel in query results.
func (d Document) WithoutEmbedding() Document {
	out := d
	out.Embedding = nil
	out = out.Clone()
	return out
}

// Normalize fills defaults for fields a caller may leave unset and clamps
// effectiveness into [0,1].
func (d *Document) Normalize(now time.Time) {
	if d.Metadata.Type == "" {
		d.Metadata.Type = TypeGeneral
	}
	if d.Metadata.Priority == "" {
		d.Metadata.Priority = PriorityMedium
	}
	if d.Metadata.LastUpdated.IsZero() {
		d.Metadata.LastUpdated = now
	}
	d.Metadata.Effectiveness = Clamp01(d.Metadata.Effectiveness)
}

// Validate checks the fields every stored document must carry.
func (d *Document) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("document id is required")
	}
	if strings.TrimSpace(d.Content) == "" {
		return fmt.Errorf("document %s: content is required", d.ID)
	}
	if d.Metadata.Priority != "" && !d.Metadata.Priority.Valid() {
		return fmt.Errorf("document %s: unknown priority %q", d.ID, d.Metadata.Priority)
	}
	return nil
}

// HasTag reports whether the document carries tag, case-insensitively.
func (m *Metadata) HasTag(tag string) bool {
	return ContainsFold(m.Tags, tag)
}

// Clamp01 clamps v into [0,1].
func Clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// ContainsFold reports whether values contains want, ignoring case and
// surrounding whitespace. An empty want never matches.
func ContainsFold(values []string, want string) bool {
	want = strings.TrimSpace(want)
	if want == "" {
		return false
	}
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), want) {
			return true
		}
	}
	return false
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneFloats(in []float32) []float32 {
	if in == nil {
		return nil
	}
	out := make([]float32, len(in))
	copy(out, in)
	return out
}
