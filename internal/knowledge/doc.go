// Package knowledge defines the shared data model of the retrieval engine:
// documents and their metadata, the three partition tiers, the per-query
// context used for scoring, and the query result handed back to callers.
//
// Values cross ownership boundaries only as copies. The partition store owns
// canonical documents and returns Clone()d values; cached results are cloned
// on the way in and out.
package knowledge
