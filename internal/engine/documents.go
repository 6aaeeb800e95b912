package engine

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/knowd/internal/effectiveness"
	"github.com/fyrsmithlabs/knowd/internal/knowledge"
	"github.com/fyrsmithlabs/knowd/internal/partition"
	"github.com/google/uuid"
)

// PartitionFor returns the partition a document belongs to: the tenant
// partition when tenantID is set, the domain partition when only domain is
// set and the global partition otherwise.
func PartitionFor(tenantID, domain string) (knowledge.PartitionKey, error) {
	var key knowledge.PartitionKey
	switch {
	case tenantID != "":
		key = knowledge.TenantPartition(tenantID, domain)
	case domain != "":
		key = knowledge.DomainPartition(domain)
	default:
		key = knowledge.GlobalPartition()
	}
	if err := key.Validate(); err != nil {
		return key, fmt.Errorf("%w: %v", knowledge.ErrInvalidQueryContext, err)
	}
	return key, nil
}

// AddDocument upserts doc into key and returns its id. A document without an
// id gets a random one.
func (e *Engine) AddDocument(ctx context.Context, key knowledge.PartitionKey, doc knowledge.Document) (string, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if err := e.store.Add(ctx, key, doc); err != nil {
		return "", err
	}
	return doc.ID, nil
}

// RemoveDocument deletes a document from key.
func (e *Engine) RemoveDocument(_ context.Context, key knowledge.PartitionKey, id string) error {
	ok, err := e.store.Remove(key, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s in %s", partition.ErrDocumentNotFound, id, key)
	}
	return nil
}

// ListDocuments returns the documents of key matching f, without embeddings.
func (e *Engine) ListDocuments(_ context.Context, key knowledge.PartitionKey, f partition.Filter) ([]knowledge.Document, error) {
	docs, err := e.store.Scan(key, f)
	if err != nil {
		return nil, err
	}
	for i := range docs {
		docs[i].Embedding = nil
	}
	return docs, nil
}

// RecordFeedback queues a helpful or not-helpful verdict for a document the
// tenant was shown. It returns once the signal is queued.
func (e *Engine) RecordFeedback(ctx context.Context, fb effectiveness.Feedback) error {
	return e.tracker.SubmitFeedback(ctx, fb)
}

// RecordQueryUsage queues a usage observation for a document.
func (e *Engine) RecordQueryUsage(ctx context.Context, u effectiveness.Usage) error {
	return e.tracker.SubmitUsage(ctx, u)
}

// ApplyFeedback applies a verdict synchronously and returns how many copies
// of the document were updated.
func (e *Engine) ApplyFeedback(ctx context.Context, fb effectiveness.Feedback) (int, error) {
	return e.tracker.ApplyFeedback(ctx, fb)
}

// WaitSignals blocks until every queued feedback and usage signal is applied.
func (e *Engine) WaitSignals() {
	e.tracker.Wait()
}
