package partition

import (
	"github.com/fyrsmithlabs/knowd/internal/knowledge"
)

// Filter is a conjunction of optional metadata constraints. An empty field
// places no constraint; it never means "match nothing".
type Filter struct {
	// Types matches any of the listed content types.
	Types []knowledge.ContentType `json:"types,omitempty"`
	// Categories matches any of the listed categories, case-insensitively.
	Categories []string `json:"categories,omitempty"`
	// Priorities matches any of the listed priorities.
	Priorities []knowledge.Priority `json:"priorities,omitempty"`
	// CustomerSegments matches documents targeting at least one listed segment.
	CustomerSegments []string `json:"customer_segments,omitempty"`
	// Tags matches documents carrying at least one listed tag.
	Tags []string `json:"tags,omitempty"`
	// MinEffectiveness excludes documents scoring below it.
	MinEffectiveness float64 `json:"min_effectiveness,omitempty"`
}

// IsZero reports whether the filter has no constraints.
func (f Filter) IsZero() bool {
	return len(f.Types) == 0 && len(f.Categories) == 0 && len(f.Priorities) == 0 &&
		len(f.CustomerSegments) == 0 && len(f.Tags) == 0 && f.MinEffectiveness <= 0
}

// Match reports whether d satisfies every constraint.
func (f Filter) Match(d *knowledge.Document) bool {
	m := &d.Metadata
	if len(f.Types) > 0 && !containsType(f.Types, m.Type) {
		return false
	}
	if len(f.Categories) > 0 && !knowledge.ContainsFold(f.Categories, m.Category) {
		return false
	}
	if len(f.Priorities) > 0 && !containsPriority(f.Priorities, m.Priority) {
		return false
	}
	if len(f.CustomerSegments) > 0 && !intersectsFold(f.CustomerSegments, m.CustomerSegments) {
		return false
	}
	if len(f.Tags) > 0 && !intersectsFold(f.Tags, m.Tags) {
		return false
	}
	if f.MinEffectiveness > 0 && m.Effectiveness < f.MinEffectiveness {
		return false
	}
	return true
}

func containsType(types []knowledge.ContentType, t knowledge.ContentType) bool {
	for _, v := range types {
		if v == t {
			return true
		}
	}
	return false
}

func containsPriority(ps []knowledge.Priority, p knowledge.Priority) bool {
	for _, v := range ps {
		if v == p {
			return true
		}
	}
	return false
}

func intersectsFold(want, have []string) bool {
	for _, w := range want {
		if knowledge.ContainsFold(have, w) {
			return true
		}
	}
	return false
}
