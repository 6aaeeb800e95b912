package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/knowd/internal/knowledge"
	"github.com/fyrsmithlabs/knowd/internal/partition"
	"github.com/fyrsmithlabs/knowd/internal/persistence"
	"go.uber.org/zap"
)

// TeardownReport lists what TeardownTenant removed.
type TeardownReport struct {
	Partitions    []knowledge.PartitionKey `json:"partitions"`
	CacheEntries  int                      `json:"cache_entries"`
	SnapshotError string                   `json:"snapshot_error,omitempty"`
}

// InitializeTenant creates an empty tenant partition per domain and returns
// the keys it created. Existing partitions are left untouched, so calling it
// twice is harmless. With welcome set, each new partition receives a short
// welcome document.
func (e *Engine) InitializeTenant(ctx context.Context, tenantID string, domains []string, welcome bool) ([]knowledge.PartitionKey, error) {
	if len(domains) == 0 {
		return nil, fmt.Errorf("%w: at least one domain is required", knowledge.ErrInvalidQueryContext)
	}
	for _, d := range domains {
		qc := knowledge.QueryContext{TenantID: tenantID, Domain: d}
		if err := qc.Validate(); err != nil {
			return nil, err
		}
	}

	var created []knowledge.PartitionKey
	for _, d := range domains {
		key := knowledge.TenantPartition(tenantID, d)
		if err := e.store.CreatePartition(key); err != nil {
			if errors.Is(err, partition.ErrPartitionExists) {
				continue
			}
			return created, err
		}
		created = append(created, key)

		if welcome {
			if err := e.store.Add(ctx, key, persistence.WelcomeDocument(tenantID, d)); err != nil {
				e.logger.Warn(ctx, "welcome document not added",
					zap.String("partition", key.String()), zap.Error(err))
			}
		}
	}

	e.logger.Info(ctx, "tenant initialized",
		zap.String("tenant_id", tenantID),
		zap.Strings("domains", domains),
		zap.Int("created", len(created)))
	return created, nil
}

// TeardownTenant drops every tenant partition, evicts the tenant's cached
// results and deletes its snapshot. Cache and snapshot failures are logged
// and reported but do not undo the drop.
func (e *Engine) TeardownTenant(ctx context.Context, tenantID string) (TeardownReport, error) {
	if !knowledge.ValidIdentifier(tenantID) {
		return TeardownReport{}, fmt.Errorf("%w: tenant_id (identifier)", knowledge.ErrInvalidQueryContext)
	}

	report := TeardownReport{Partitions: e.store.DropTenant(tenantID)}

	n, err := e.cache.InvalidateTenant(ctx, tenantID)
	if err != nil {
		e.logger.Warn(ctx, "cache invalidation failed", zap.String("tenant_id", tenantID), zap.Error(err))
	}
	report.CacheEntries = n

	if e.gateway != nil {
		if err := e.gateway.DeleteTenant(ctx, tenantID); err != nil {
			e.logger.Warn(ctx, "tenant snapshot not deleted", zap.String("tenant_id", tenantID), zap.Error(err))
			report.SnapshotError = err.Error()
		}
	}

	e.logger.Info(ctx, "tenant torn down",
		zap.String("tenant_id", tenantID),
		zap.Int("partitions", len(report.Partitions)),
		zap.Int("cache_entries", report.CacheEntries))
	return report, nil
}
