package effectiveness

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/knowd/internal/knowledge"
)

var (
	// ErrUnknownVerdict indicates a verdict other than helpful or not_helpful.
	ErrUnknownVerdict = errors.New("unknown feedback verdict")

	// ErrTrackerClosed indicates a submission after Close.
	ErrTrackerClosed = errors.New("effectiveness tracker closed")

	// ErrQueueFull indicates the async queue had no room for a signal.
	ErrQueueFull = errors.New("effectiveness queue full")
)

// Verdict is explicit user feedback on a document.
type Verdict string

const (
	Helpful    Verdict = "helpful"
	NotHelpful Verdict = "not_helpful"
)

// ParseVerdict accepts helpful, not_helpful and the hyphenated spelling.
func ParseVerdict(s string) (Verdict, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "helpful":
		return Helpful, nil
	case "not_helpful", "not-helpful", "unhelpful":
		return NotHelpful, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownVerdict, s)
	}
}

// Feedback is an explicit verdict on a document. TenantID and Domain scope
// the update to partitions the tenant can see; both may be empty.
type Feedback struct {
	TenantID   string  `json:"tenant_id,omitempty"`
	Domain     string  `json:"domain,omitempty"`
	DocumentID string  `json:"document_id"`
	Verdict    Verdict `json:"verdict"`
}

// Usage reports that a document was served with the given relevance.
type Usage struct {
	TenantID   string  `json:"tenant_id,omitempty"`
	Domain     string  `json:"domain,omitempty"`
	DocumentID string  `json:"document_id"`
	Relevance  float64 `json:"relevance"`
}

// Params are the update constants.
type Params struct {
	HelpfulDelta    float64
	NotHelpfulDelta float64
	UsageAlpha      float64
}

// DefaultParams returns helpful +0.1, not helpful -0.05 and a usage EMA
// factor of 0.2.
func DefaultParams() Params {
	return Params{HelpfulDelta: 0.1, NotHelpfulDelta: -0.05, UsageAlpha: 0.2}
}

// delta returns the effectiveness change for a verdict.
func (p Params) delta(v Verdict) (float64, error) {
	switch v {
	case Helpful:
		return p.HelpfulDelta, nil
	case NotHelpful:
		return p.NotHelpfulDelta, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownVerdict, v)
	}
}

// ApplyVerdict shifts effectiveness by the verdict's delta and clamps.
func (p Params) ApplyVerdict(m *knowledge.Metadata, v Verdict) error {
	d, err := p.delta(v)
	if err != nil {
		return err
	}
	m.Effectiveness = knowledge.Clamp01(m.Effectiveness + d)
	return nil
}

// ApplyUsage folds a relevance observation into effectiveness with an
// exponential moving average and updates the usage counters.
func (p Params) ApplyUsage(m *knowledge.Metadata, relevance float64, now time.Time) {
	r := knowledge.Clamp01(relevance)
	alpha := knowledge.Clamp01(p.UsageAlpha)

	m.Effectiveness = knowledge.Clamp01(m.Effectiveness*(1-alpha) + r*alpha)
	m.QueryCount++
	m.AverageRelevance += (r - m.AverageRelevance) / float64(m.QueryCount)
	m.LastUsed = now
}
