package http

import (
	"github.com/fyrsmithlabs/knowd/internal/engine"
	"github.com/fyrsmithlabs/knowd/internal/knowledge"
	"github.com/fyrsmithlabs/knowd/internal/partition"
)

// QueryRequest is the request body for POST /api/v1/query.
type QueryRequest struct {
	Query   string                  `json:"query" validate:"required,max=4096"`
	Context *knowledge.QueryContext `json:"context" validate:"required"`
}

// FeedbackRequest is the request body for POST /api/v1/feedback.
type FeedbackRequest struct {
	TenantID   string `json:"tenant_id" validate:"required,identifier"`
	Domain     string `json:"domain,omitempty" validate:"omitempty,identifier"`
	DocumentID string `json:"document_id" validate:"required,max=256"`
	Verdict    string `json:"verdict" validate:"required,oneof=helpful not_helpful"`
}

// UsageRequest is the request body for POST /api/v1/usage.
type UsageRequest struct {
	TenantID   string  `json:"tenant_id" validate:"required,identifier"`
	Domain     string  `json:"domain,omitempty" validate:"omitempty,identifier"`
	DocumentID string  `json:"document_id" validate:"required,max=256"`
	Relevance  float64 `json:"relevance" validate:"min=0,max=1"`
}

// TenantRequest is the request body for POST /api/v1/tenants/:tenant.
type TenantRequest struct {
	Domains []string `json:"domains" validate:"required,min=1,dive,identifier"`
	Welcome *bool    `json:"welcome,omitempty"`
}

// TenantResponse lists the partitions created for a tenant.
type TenantResponse struct {
	TenantID   string   `json:"tenant_id"`
	Partitions []string `json:"partitions"`
}

// DocumentRequest is the request body for POST /api/v1/documents. Leaving
// tenant_id empty targets the domain partition; leaving both empty targets
// the global partition.
type DocumentRequest struct {
	TenantID string             `json:"tenant_id,omitempty" validate:"omitempty,identifier"`
	Domain   string             `json:"domain,omitempty" validate:"omitempty,identifier"`
	Document knowledge.Document `json:"document"`
}

// DocumentResponse is returned after a document is stored.
type DocumentResponse struct {
	ID        string `json:"id"`
	Partition string `json:"partition"`
}

// DocumentsResponse is the response body for GET /api/v1/documents.
type DocumentsResponse struct {
	Partition string               `json:"partition"`
	Filter    partition.Filter     `json:"filter"`
	Documents []knowledge.Document `json:"documents"`
}

// AcceptedResponse acknowledges a queued signal.
type AcceptedResponse struct {
	Status string `json:"status"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string         `json:"status"`
	Version string         `json:"version,omitempty"`
	Engine  *engine.Health `json:"engine,omitempty"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}
