package ranking

import (
	"time"

	"github.com/fyrsmithlabs/knowd/internal/config"
	"github.com/fyrsmithlabs/knowd/internal/knowledge"
)

// Weights are the coefficients of the scoring formula. Every term is a
// [0,1] signal multiplied by its weight; the raw sum is divided by the
// largest achievable sum so scores land in [0,1].
type Weights struct {
	Similarity    float64
	TenantBonus   float64
	DomainBonus   float64
	GlobalBonus   float64
	Effectiveness float64
	CriticalBonus float64
	HighBonus     float64
	MediumBonus   float64
	Recency       float64
	RecencyWindow time.Duration
	Segment       float64
	Season        float64
	Location      float64
	Urgency       float64
	Stage         float64
}

// DefaultWeights returns the canonical weights. Similarity carries 0.6 of the
// achievable score; the tenant bonus is large enough to break near-ties but
// not to lift a weak tenant match over a strong shared one.
func DefaultWeights() Weights {
	return Weights{
		Similarity:    0.60,
		TenantBonus:   0.10,
		DomainBonus:   0.05,
		GlobalBonus:   0,
		Effectiveness: 0.08,
		CriticalBonus: 0.05,
		HighBonus:     0.03,
		MediumBonus:   0.015,
		Recency:       0.04,
		RecencyWindow: 30 * 24 * time.Hour,
		Segment:       0.03,
		Season:        0.02,
		Location:      0.02,
		Urgency:       0.02,
		Stage:         0.03,
	}
}

// WeightsFromConfig overlays the configured weights on the defaults. Unset
// weights keep their default; an explicit 0 turns the term off.
func WeightsFromConfig(c config.RankingConfig) Weights {
	w := DefaultWeights()
	set := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	set(&w.Similarity, c.SimilarityWeight)
	set(&w.TenantBonus, c.TenantBonus)
	set(&w.DomainBonus, c.DomainBonus)
	set(&w.GlobalBonus, c.GlobalBonus)
	set(&w.Effectiveness, c.EffectivenessWeight)
	set(&w.CriticalBonus, c.CriticalBonus)
	set(&w.HighBonus, c.HighBonus)
	set(&w.MediumBonus, c.MediumBonus)
	set(&w.Recency, c.RecencyWeight)
	set(&w.Segment, c.SegmentWeight)
	set(&w.Season, c.SeasonWeight)
	set(&w.Location, c.LocationWeight)
	set(&w.Urgency, c.UrgencyWeight)
	set(&w.Stage, c.StageWeight)
	if c.RecencyWindow > 0 {
		w.RecencyWindow = c.RecencyWindow.Duration()
	}
	return w
}

func (w Weights) tierBonus(t knowledge.Tier) float64 {
	switch t {
	case knowledge.TierTenant:
		return w.TenantBonus
	case knowledge.TierDomain:
		return w.DomainBonus
	default:
		return w.GlobalBonus
	}
}

func (w Weights) priorityBonus(p knowledge.Priority) float64 {
	switch p {
	case knowledge.PriorityCritical:
		return w.CriticalBonus
	case knowledge.PriorityHigh:
		return w.HighBonus
	case knowledge.PriorityMedium:
		return w.MediumBonus
	default:
		return 0
	}
}

// maxAchievable is the raw score of a perfect document.
func (w Weights) maxAchievable() float64 {
	return w.Similarity +
		max(w.TenantBonus, w.DomainBonus, w.GlobalBonus) +
		w.Effectiveness +
		max(w.CriticalBonus, w.HighBonus, w.MediumBonus) +
		w.Recency + w.Segment + w.Season + w.Location + w.Urgency + w.Stage
}
