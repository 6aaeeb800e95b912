// Package embeddings turns text into fixed-length vectors.
//
// Providers: a deterministic feature-hashing embedder (always available),
// OpenAI (go-openai), any OpenAI-compatible endpoint such as TEI
// (langchaingo), and local ONNX models (fastembed, cgo builds only).
//
// Resilient wraps a remote provider with a per-call timeout, a token-bucket
// rate limit, a concurrency cap with a bounded wait queue, and exponential
// backoff between retries. Whenever the provider cannot answer in time the
// hash embedder answers instead, so callers never see a provider failure.
package embeddings
