package feedbackbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/knowd/internal/effectiveness"
	"github.com/fyrsmithlabs/knowd/internal/knowledge"
)

// FeedbackEvent is a verdict on a document the tenant was shown.
type FeedbackEvent struct {
	ID         string    `json:"id,omitempty"`
	TenantID   string    `json:"tenant_id" validate:"required,identifier"`
	Domain     string    `json:"domain,omitempty" validate:"omitempty,identifier"`
	DocumentID string    `json:"document_id" validate:"required,max=256"`
	Verdict    string    `json:"verdict" validate:"required,oneof=helpful not_helpful"`
	SentAt     time.Time `json:"sent_at,omitempty"`
}

// UsageEvent reports that a document was used in a response.
type UsageEvent struct {
	ID         string    `json:"id,omitempty"`
	TenantID   string    `json:"tenant_id" validate:"required,identifier"`
	Domain     string    `json:"domain,omitempty" validate:"omitempty,identifier"`
	DocumentID string    `json:"document_id" validate:"required,max=256"`
	Relevance  float64   `json:"relevance" validate:"min=0,max=1"`
	SentAt     time.Time `json:"sent_at,omitempty"`
}

// Feedback converts the event into a tracker signal.
func (e FeedbackEvent) Feedback() (effectiveness.Feedback, error) {
	v, err := effectiveness.ParseVerdict(e.Verdict)
	if err != nil {
		return effectiveness.Feedback{}, err
	}
	return effectiveness.Feedback{
		TenantID:   e.TenantID,
		Domain:     e.Domain,
		DocumentID: e.DocumentID,
		Verdict:    v,
	}, nil
}

// Usage converts the event into a tracker signal.
func (e UsageEvent) Usage() effectiveness.Usage {
	return effectiveness.Usage{
		TenantID:   e.TenantID,
		Domain:     e.Domain,
		DocumentID: e.DocumentID,
		Relevance:  e.Relevance,
	}
}

func decode(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding event: %w", err)
	}
	if err := knowledge.ValidateStruct(v); err != nil {
		return fmt.Errorf("validating event: %w", err)
	}
	return nil
}
