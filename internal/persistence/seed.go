package persistence

import (
	"github.com/fyrsmithlabs/knowd/internal/knowledge"
	"github.com/google/uuid"
)

// seedNamespace derives stable ids for built-in documents, so reseeding
// upserts rather than duplicates.
var seedNamespace = uuid.MustParse("6f1c8f5e-3c1b-4b7e-9a55-2d0f1e7b9c41")

// SeedID returns the stable id of a built-in document.
func SeedID(scope, name string) string {
	return uuid.NewSHA1(seedNamespace, []byte(scope+"/"+name)).String()
}

type seedDoc struct {
	name     string
	content  string
	typ      knowledge.ContentType
	category string
	priority knowledge.Priority
	tags     []string
	segments []string
	seasons  []string
}

func (s seedDoc) document(scope, domain string) knowledge.Document {
	return knowledge.Document{
		ID:      SeedID(scope, s.name),
		Content: s.content,
		Metadata: knowledge.Metadata{
			Type:              s.typ,
			Category:          s.category,
			Priority:          s.priority,
			Domain:            domain,
			Tags:              s.tags,
			CustomerSegments:  s.segments,
			SeasonalRelevance: s.seasons,
			Effectiveness:     knowledge.DefaultEffectiveness,
		},
	}
}

var domainSeeds = map[string][]seedDoc{
	"insurance": {
		{
			name:     "auto-coverage",
			content:  "Auto insurance covers damage to your vehicle and liability for injuries or property damage you cause. Comprehensive plans add theft, fire and flood protection.",
			typ:      knowledge.TypeProduct,
			category: "auto",
			priority: knowledge.PriorityHigh,
			tags:     []string{"auto", "car", "quote", "coverage"},
			segments: []string{"family", "young_driver"},
		},
		{
			name:     "home-coverage",
			content:  "Home insurance protects the building and its contents against fire, storm and burglary. Flood cover is optional in most plans.",
			typ:      knowledge.TypeProduct,
			category: "home",
			priority: knowledge.PriorityMedium,
			tags:     []string{"home", "property", "coverage"},
			segments: []string{"family", "homeowner"},
			seasons:  []string{"rainy"},
		},
		{
			name:     "claim-process",
			content:  "To file a claim, report the incident within 30 days, attach photos and receipts, and keep your policy number at hand. Urgent claims are triaged within 24 hours.",
			typ:      knowledge.TypeProcess,
			category: "claims",
			priority: knowledge.PriorityCritical,
			tags:     []string{"claims", "urgent", "process"},
		},
		{
			name:     "premium-factors",
			content:  "Premiums depend on age, coverage amount, deductible and claim history. A higher deductible lowers the premium.",
			typ:      knowledge.TypeCalculation,
			category: "pricing",
			priority: knowledge.PriorityMedium,
			tags:     []string{"premium", "quote", "pricing"},
		},
		{
			name:     "travel-coverage",
			content:  "Travel insurance covers medical emergencies abroad, trip cancellation and lost luggage for the length of the trip.",
			typ:      knowledge.TypeProduct,
			category: "travel",
			priority: knowledge.PriorityMedium,
			tags:     []string{"travel", "coverage"},
			segments: []string{"traveler"},
			seasons:  []string{"summer", "holiday"},
		},
	},
	"resort": {
		{
			name:     "booking-policy",
			content:  "Rooms can be booked up to twelve months ahead. Free cancellation applies until 48 hours before arrival.",
			typ:      knowledge.TypePolicy,
			category: "booking",
			priority: knowledge.PriorityHigh,
			tags:     []string{"booking", "cancellation", "reservation"},
		},
		{
			name:     "amenities",
			content:  "Guests enjoy an outdoor pool, a kids club, a fitness center and free shuttle service to the beach.",
			typ:      knowledge.TypeProduct,
			category: "amenities",
			priority: knowledge.PriorityMedium,
			tags:     []string{"pool", "kids", "facilities"},
			segments: []string{"family"},
			seasons:  []string{"summer"},
		},
		{
			name:     "spa-packages",
			content:  "The spa offers massage, facial and couples packages. Booking a day in advance is recommended.",
			typ:      knowledge.TypeProduct,
			category: "spa",
			priority: knowledge.PriorityLow,
			tags:     []string{"spa", "wellness", "couples"},
			segments: []string{"couple"},
		},
		{
			name:     "check-in",
			content:  "Check-in starts at 14:00 and check-out is at 12:00. Early check-in depends on availability.",
			typ:      knowledge.TypeFAQ,
			category: "stay",
			priority: knowledge.PriorityMedium,
			tags:     []string{"check-in", "arrival"},
		},
	},
	"pension": {
		{
			name:     "contributions",
			content:  "Members contribute a fixed share of salary each month and employers match up to the plan limit. Voluntary top-ups are allowed.",
			typ:      knowledge.TypeProduct,
			category: "contributions",
			priority: knowledge.PriorityHigh,
			tags:     []string{"contribution", "salary", "employer"},
		},
		{
			name:     "withdrawal-rules",
			content:  "Funds can be withdrawn from retirement age. Early withdrawal is limited to hardship cases and may be taxed.",
			typ:      knowledge.TypePolicy,
			category: "withdrawal",
			priority: knowledge.PriorityCritical,
			tags:     []string{"withdrawal", "retirement", "tax"},
			segments: []string{"senior"},
		},
		{
			name:     "projection",
			content:  "Your projected pension is the current balance plus future contributions, compounded at the expected annual return until retirement age.",
			typ:      knowledge.TypeCalculation,
			category: "planning",
			priority: knowledge.PriorityMedium,
			tags:     []string{"projection", "planning", "retirement"},
		},
	},
}

var globalSeeds = []seedDoc{
	{
		name:     "contact",
		content:  "Our support team is available every day from 08:00 to 20:00. Ask to speak with an agent at any time.",
		typ:      knowledge.TypeGeneral,
		category: "support",
		priority: knowledge.PriorityMedium,
		tags:     []string{"contact", "support", "agent"},
	},
	{
		name:     "privacy",
		content:  "Personal data is used only to answer your questions and is never sold. You can request deletion at any time.",
		typ:      knowledge.TypePolicy,
		category: "privacy",
		priority: knowledge.PriorityHigh,
		tags:     []string{"privacy", "data"},
	},
	{
		name:     "payment-methods",
		content:  "We accept credit cards, bank transfer and QR payments. Receipts are sent by email.",
		typ:      knowledge.TypeFAQ,
		category: "payment",
		priority: knowledge.PriorityLow,
		tags:     []string{"payment", "billing"},
	},
}

// SeedDocuments returns the built-in corpus for a scope. Domains without a
// built-in corpus and tenant scopes get nothing.
func SeedDocuments(scope Scope) []knowledge.Document {
	var src []seedDoc
	domain := ""
	switch scope.Tier {
	case knowledge.TierDomain:
		src = domainSeeds[scope.Name]
		domain = scope.Name
	case knowledge.TierGlobal:
		src = globalSeeds
	}
	out := make([]knowledge.Document, 0, len(src))
	for _, s := range src {
		out = append(out, s.document(scope.String(), domain))
	}
	return out
}

// WelcomeDocument returns the greeting placed in a new tenant partition.
func WelcomeDocument(tenantID, domain string) knowledge.Document {
	return seedDoc{
		name:     "welcome",
		content:  "Welcome! Ask about our " + domain + " products, prices or how to get started.",
		typ:      knowledge.TypeGeneral,
		category: "welcome",
		priority: knowledge.PriorityLow,
		tags:     []string{"welcome", "greeting"},
	}.document(TenantScope(tenantID).String()+"/"+domain, domain)
}
