// Package partition holds documents in tiered, isolated partitions and
// answers metadata scans and cosine similarity searches over them.
//
// The Store owns the canonical documents. Every read returns deep copies, so
// callers can never observe or cause a partially mutated document. Each
// partition has its own reader/writer lock: writers to one partition are
// serialized, readers run concurrently, and partitions never block each other.
package partition
