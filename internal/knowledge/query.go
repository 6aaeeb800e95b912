package knowledge

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// Urgency levels accepted in a query context.
const (
	UrgencyLow      = "low"
	UrgencyMedium   = "medium"
	UrgencyHigh     = "high"
	UrgencyCritical = "critical"
)

// CustomerProfile carries the attributes of the person being served.
type CustomerProfile struct {
	Segment   string   `json:"segment,omitempty" validate:"omitempty,max=64"`
	AgeGroup  string   `json:"age_group,omitempty" validate:"omitempty,max=32"`
	Interests []string `json:"interests,omitempty" validate:"omitempty,max=32,dive,max=64"`
}

// QueryContext scopes and flavours a single query. It is immutable for the
// life of the query and never written back to storage.
type QueryContext struct {
	TenantID        string           `json:"tenant_id" validate:"required,identifier"`
	Domain          string           `json:"domain" validate:"required,identifier"`
	Stage           string           `json:"stage,omitempty" validate:"omitempty,max=64"`
	CustomerProfile *CustomerProfile `json:"customer_profile,omitempty" validate:"omitempty"`
	UrgencyLevel    string           `json:"urgency_level,omitempty" validate:"omitempty,oneof=low medium high critical"`
	Season          string           `json:"season,omitempty" validate:"omitempty,max=32"`
	Location        string           `json:"location,omitempty" validate:"omitempty,max=64"`
}

// Segment returns the customer segment, or "" when no profile is set.
func (q *QueryContext) Segment() string {
	if q.CustomerProfile == nil {
		return ""
	}
	return q.CustomerProfile.Segment
}

// Interests returns the customer interests, or nil when no profile is set.
func (q *QueryContext) Interests() []string {
	if q.CustomerProfile == nil {
		return nil
	}
	return q.CustomerProfile.Interests
}

// Validate checks required fields and formats. Failures wrap
// ErrInvalidQueryContext.
func (q *QueryContext) Validate() error {
	if q == nil {
		return fmt.Errorf("%w: context is nil", ErrInvalidQueryContext)
	}
	if err := structValidator().Struct(q); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidQueryContext, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidQueryContext, err)
	}
	return nil
}

// Clone returns a deep copy of q.
func (q QueryContext) Clone() QueryContext {
	out := q
	if q.CustomerProfile != nil {
		p := *q.CustomerProfile
		p.Interests = cloneStrings(q.CustomerProfile.Interests)
		out.CustomerProfile = &p
	}
	return out
}

// ScoredDocument is a ranked document with its provenance.
type ScoredDocument struct {
	Document
	Tier       Tier    `json:"tier"`
	Similarity float64 `json:"similarity"`
	Score      float64 `json:"score"`
}

// ContextualFactors measure how well the selected documents fit the query
// context. Each lies in [0,1].
type ContextualFactors struct {
	CustomerMatch        float64 `json:"customer_match"`
	SituationalRelevance float64 `json:"situational_relevance"`
	MarketAlignment      float64 `json:"market_alignment"`
	UrgencyMatch         float64 `json:"urgency_match"`
}

// SourceBreakdown counts returned documents per tier.
type SourceBreakdown struct {
	TenantSpecific int `json:"tenant_specific"`
	DomainShared   int `json:"domain_shared"`
	GlobalShared   int `json:"global_shared"`
}

// Add increments the counter for tier.
func (s *SourceBreakdown) Add(tier Tier) {
	switch tier {
	case TierTenant:
		s.TenantSpecific++
	case TierDomain:
		s.DomainShared++
	case TierGlobal:
		s.GlobalShared++
	}
}

// Total returns the sum over all tiers.
func (s SourceBreakdown) Total() int {
	return s.TenantSpecific + s.DomainShared + s.GlobalShared
}

// QueryResult is the answer to a query. It is derived, never stored, except
// inside the query cache.
type QueryResult struct {
	Query             string            `json:"query"`
	TenantID          string            `json:"tenant_id"`
	Domain            string            `json:"domain"`
	Documents         []ScoredDocument  `json:"documents"`
	Context           string            `json:"context"`
	Confidence        float64           `json:"confidence"`
	RelevanceScore    float64           `json:"relevance_score"`
	ContextualFactors ContextualFactors `json:"contextual_factors"`
	SourceBreakdown   SourceBreakdown   `json:"source_breakdown"`
	Degraded          bool              `json:"degraded,omitempty"`
	FromCache         bool              `json:"from_cache,omitempty"`
	GeneratedAt       time.Time         `json:"generated_at"`
}

// Clone returns a deep copy of r.
func (r *QueryResult) Clone() *QueryResult {
	if r == nil {
		return nil
	}
	out := *r
	if r.Documents != nil {
		out.Documents = make([]ScoredDocument, len(r.Documents))
		for i, d := range r.Documents {
			out.Documents[i] = d
			out.Documents[i].Document = d.Document.Clone()
		}
	}
	return &out
}

// DocumentIDs returns the ids of the returned documents in rank order.
func (r *QueryResult) DocumentIDs() []string {
	ids := make([]string, len(r.Documents))
	for i, d := range r.Documents {
		ids[i] = d.ID
	}
	return ids
}

var (
	validateOnce sync.Once
	validate     *validator.Validate

	identifierPattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{1,128}$`)
)

// structValidator returns the shared validator, reporting json field names.
func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})
		_ = validate.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
			return identifierPattern.MatchString(fl.Field().String())
		})
	})
	return validate
}

// ValidateStruct runs the shared validator over any request struct, using the
// same tag set as QueryContext (including "identifier").
func ValidateStruct(v interface{}) error {
	return structValidator().Struct(v)
}

// ValidIdentifier reports whether s may be used as a tenant id or domain.
func ValidIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}
