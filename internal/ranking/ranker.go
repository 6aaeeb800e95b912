// Package ranking merges per-tier search results into a single ranked
// answer.
//
// Each candidate's score is a weighted sum of independent [0,1] signals
// (similarity, tier, effectiveness, editorial priority, recency and five
// contextual matches) divided by the best achievable sum. The ranker then
// orders candidates by score, tier and id, keeps the top results, and derives
// the context blob, confidence and contextual factors from the leading few.
package ranking

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fyrsmithlabs/knowd/internal/knowledge"
)

const (
	// FloorConfidence is reported when nothing was found.
	FloorConfidence = 0.1

	// NoKnowledgeContext is the context blob of an empty result.
	NoKnowledgeContext = "No relevant knowledge was found for this query in the tenant, domain, or global knowledge bases."

	urgentTag = "urgent"
)

// Candidate is a search hit with its provenance.
type Candidate struct {
	Document   knowledge.Document
	Tier       knowledge.Tier
	Similarity float64
}

// Signals are the contextual match indicators for one document. Each is 0 or
// 1; a signal whose context attribute is absent is always 0.
type Signals struct {
	Segment  float64
	Season   float64
	Location float64
	Urgency  float64
	Stage    float64
}

// Options configures a Ranker.
type Options struct {
	Weights          Weights
	MaxResults       int // default 10
	ContextDocuments int // default 5
	MaxContextChars  int // default 2000
	Now              func() time.Time
}

// Ranker scores and merges candidates. It is stateless and safe for
// concurrent use.
type Ranker struct {
	w                Weights
	maxResults       int
	contextDocuments int
	maxContextChars  int
	now              func() time.Time
	norm             float64
}

// New creates a Ranker.
func New(opts Options) *Ranker {
	if opts.Weights == (Weights{}) {
		opts.Weights = DefaultWeights()
	}
	if opts.Weights.RecencyWindow <= 0 {
		opts.Weights.RecencyWindow = DefaultWeights().RecencyWindow
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = 10
	}
	if opts.ContextDocuments <= 0 {
		opts.ContextDocuments = 5
	}
	if opts.ContextDocuments > opts.MaxResults {
		opts.ContextDocuments = opts.MaxResults
	}
	if opts.MaxContextChars <= 0 {
		opts.MaxContextChars = 2000
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	norm := opts.Weights.maxAchievable()
	if norm <= 0 {
		norm = 1
	}
	return &Ranker{
		w:                opts.Weights,
		maxResults:       opts.MaxResults,
		contextDocuments: opts.ContextDocuments,
		maxContextChars:  opts.MaxContextChars,
		now:              opts.Now,
		norm:             norm,
	}
}

// Weights returns the weights in use.
func (r *Ranker) Weights() Weights {
	return r.w
}

// Match computes the contextual signals of doc against qc.
func Match(qc *knowledge.QueryContext, doc *knowledge.Document) Signals {
	var s Signals
	if qc == nil {
		return s
	}
	m := &doc.Metadata
	if knowledge.ContainsFold(m.CustomerSegments, qc.Segment()) {
		s.Segment = 1
	}
	if knowledge.ContainsFold(m.SeasonalRelevance, qc.Season) {
		s.Season = 1
	}
	if knowledge.ContainsFold(m.LocationRelevance, qc.Location) {
		s.Location = 1
	}
	if u := strings.ToLower(strings.TrimSpace(qc.UrgencyLevel)); u != "" {
		if m.HasTag(u) || ((u == knowledge.UrgencyHigh || u == knowledge.UrgencyCritical) && m.HasTag(urgentTag)) {
			s.Urgency = 1
		}
	}
	if m.HasTag(qc.Stage) {
		s.Stage = 1
	} else {
		for _, interest := range qc.Interests() {
			if m.HasTag(interest) {
				s.Stage = 1
				break
			}
		}
	}
	return s
}

// Score returns the normalized score of a candidate and its signals.
func (r *Ranker) Score(qc *knowledge.QueryContext, c *Candidate) (float64, Signals) {
	w := r.w
	m := &c.Document.Metadata
	sig := Match(qc, &c.Document)

	raw := w.Similarity*knowledge.Clamp01(c.Similarity) +
		w.tierBonus(c.Tier) +
		w.Effectiveness*knowledge.Clamp01(m.Effectiveness) +
		w.priorityBonus(m.Priority) +
		w.Recency*r.recency(m.LastUpdated) +
		w.Segment*sig.Segment +
		w.Season*sig.Season +
		w.Location*sig.Location +
		w.Urgency*sig.Urgency +
		w.Stage*sig.Stage

	return knowledge.Clamp01(raw / r.norm), sig
}

// recency decays linearly from 1 (updated now) to 0 at the window edge.
func (r *Ranker) recency(updated time.Time) float64 {
	if updated.IsZero() {
		return 0
	}
	age := r.now().Sub(updated)
	if age <= 0 {
		return 1
	}
	return math.Max(0, 1-float64(age)/float64(r.w.RecencyWindow))
}

type ranked struct {
	knowledge.ScoredDocument
	sig Signals
}

// Rank merges candidates from every tier into a result. It never fails: no
// candidates yields an empty result with floor confidence.
func (r *Ranker) Rank(qc *knowledge.QueryContext, query string, candidates []Candidate) *knowledge.QueryResult {
	res := &knowledge.QueryResult{
		Query:       query,
		Documents:   []knowledge.ScoredDocument{},
		GeneratedAt: r.now(),
	}
	if qc != nil {
		res.TenantID = qc.TenantID
		res.Domain = qc.Domain
	}

	pool := make([]ranked, 0, len(candidates))
	for i := range candidates {
		c := &candidates[i]
		score, sig := r.Score(qc, c)
		pool = append(pool, ranked{
			ScoredDocument: knowledge.ScoredDocument{
				Document:   c.Document.WithoutEmbedding(),
				Tier:       c.Tier,
				Similarity: c.Similarity,
				Score:      score,
			},
			sig: sig,
		})
	}

	sort.SliceStable(pool, func(i, j int) bool {
		a, b := pool[i], pool[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Tier != b.Tier {
			return a.Tier < b.Tier
		}
		return a.ID < b.ID
	})
	if len(pool) > r.maxResults {
		pool = pool[:r.maxResults]
	}

	if len(pool) == 0 {
		res.Context = NoKnowledgeContext
		res.Confidence = FloorConfidence
		return res
	}

	for _, p := range pool {
		res.Documents = append(res.Documents, p.ScoredDocument)
		res.SourceBreakdown.Add(p.Tier)
	}

	top := pool
	if len(top) > r.contextDocuments {
		top = top[:r.contextDocuments]
	}
	res.RelevanceScore = pool[0].Score
	res.Confidence = confidence(pool[0].Score, len(top))
	res.ContextualFactors = factors(qc, top)
	res.Context = r.contextBlob(top)
	return res
}

// confidence rewards corroboration with diminishing returns: one document
// keeps 75% of the top score, three keep 94%, five keep 98%.
func confidence(top float64, n int) float64 {
	corroboration := math.Min(1, 1-math.Pow(0.5, float64(n+1)))
	return knowledge.Clamp01(math.Max(FloorConfidence, top*corroboration))
}

func factors(qc *knowledge.QueryContext, top []ranked) knowledge.ContextualFactors {
	var f knowledge.ContextualFactors
	if qc == nil || len(top) == 0 {
		return f
	}

	market := 0
	if strings.TrimSpace(qc.Season) != "" {
		market++
	}
	if strings.TrimSpace(qc.Location) != "" {
		market++
	}

	for _, d := range top {
		f.CustomerMatch += d.sig.Segment
		f.SituationalRelevance += d.sig.Stage
		f.UrgencyMatch += d.sig.Urgency
		if market > 0 {
			f.MarketAlignment += (d.sig.Season + d.sig.Location) / float64(market)
		}
	}
	n := float64(len(top))
	f.CustomerMatch /= n
	f.SituationalRelevance /= n
	f.MarketAlignment /= n
	f.UrgencyMatch /= n
	return f
}

func (r *Ranker) contextBlob(top []ranked) string {
	parts := make([]string, len(top))
	for i, d := range top {
		label := d.Tier.String()
		if d.Metadata.Category != "" {
			label += "/" + d.Metadata.Category
		}
		parts[i] = fmt.Sprintf("[%d] (%s) %s", i+1, label, strings.TrimSpace(d.Content))
	}
	return truncate(strings.Join(parts, "\n\n"), r.maxContextChars)
}

// truncate cuts s to at most limit characters, marking the cut with "...".
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	if limit <= 3 {
		return string([]rune(s)[:limit])
	}
	return string([]rune(s)[:limit-3]) + "..."
}
