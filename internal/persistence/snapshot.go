// Package persistence saves and restores partition snapshots.
//
// A snapshot covers one scope: a tenant (every domain partition the tenant
// owns), a shared domain, or the global partition. Snapshots are versioned
// JSON, optionally gzip-compressed, and round-trip documents losslessly,
// embeddings included.
package persistence

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fyrsmithlabs/knowd/internal/knowledge"
)

// FormatVersion is the snapshot format written by this package.
const FormatVersion = 1

var (
	// ErrSnapshotNotFound indicates no snapshot exists for a scope.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrPersistenceFailure wraps backend I/O errors.
	ErrPersistenceFailure = errors.New("persistence failure")

	// ErrUnsupportedFormat indicates a snapshot with an unknown format version
	// or an undecodable payload.
	ErrUnsupportedFormat = errors.New("unsupported snapshot format")
)

// Scope names what a snapshot covers.
type Scope struct {
	Tier knowledge.Tier
	// Name is the tenant id for tenant scopes and the domain for domain
	// scopes. It is empty for the global scope.
	Name string
}

// TenantScope covers every partition of a tenant.
func TenantScope(tenantID string) Scope {
	return Scope{Tier: knowledge.TierTenant, Name: tenantID}
}

// DomainScope covers a shared domain partition.
func DomainScope(domain string) Scope {
	return Scope{Tier: knowledge.TierDomain, Name: domain}
}

// GlobalScope covers the global partition.
func GlobalScope() Scope {
	return Scope{Tier: knowledge.TierGlobal}
}

// ScopeOf returns the scope a partition is saved under.
func ScopeOf(key knowledge.PartitionKey) Scope {
	switch key.Tier {
	case knowledge.TierTenant:
		return TenantScope(key.TenantID)
	case knowledge.TierDomain:
		return DomainScope(key.Domain)
	default:
		return GlobalScope()
	}
}

// String returns the storage path of the scope: tenants/<id>, domains/<d>
// or global.
func (s Scope) String() string {
	switch s.Tier {
	case knowledge.TierTenant:
		return "tenants/" + s.Name
	case knowledge.TierDomain:
		return "domains/" + s.Name
	default:
		return "global"
	}
}

// ParseScope is the inverse of String.
func ParseScope(path string) (Scope, error) {
	if path == "global" {
		return GlobalScope(), nil
	}
	kind, name, ok := strings.Cut(path, "/")
	if !ok || name == "" || strings.Contains(name, "/") {
		return Scope{}, fmt.Errorf("invalid snapshot scope %q", path)
	}
	switch kind {
	case "tenants":
		return TenantScope(name), nil
	case "domains":
		return DomainScope(name), nil
	default:
		return Scope{}, fmt.Errorf("invalid snapshot scope %q", path)
	}
}

// Snapshot is the persisted form of a scope.
type Snapshot struct {
	FormatVersion int    `json:"format_version"`
	TenantID      string `json:"tenant_id,omitempty"`
	Domain        string `json:"domain,omitempty"`
	// Domains lists a tenant's partitions, including empty ones.
	Domains   []string             `json:"domains,omitempty"`
	Documents []knowledge.Document `json:"documents"`
	LastSaved time.Time            `json:"last_saved"`
}

// Scope derives the snapshot's scope from its identifying fields.
func (s *Snapshot) Scope() Scope {
	switch {
	case s.TenantID != "":
		return TenantScope(s.TenantID)
	case s.Domain != "":
		return DomainScope(s.Domain)
	default:
		return GlobalScope()
	}
}

// Partitions groups the documents by the partition they belong to. Every
// listed tenant domain gets an entry even when it holds no documents.
func (s *Snapshot) Partitions() map[knowledge.PartitionKey][]knowledge.Document {
	out := make(map[knowledge.PartitionKey][]knowledge.Document)
	switch sc := s.Scope(); sc.Tier {
	case knowledge.TierTenant:
		for _, d := range s.Domains {
			out[knowledge.TenantPartition(s.TenantID, d)] = nil
		}
		for _, doc := range s.Documents {
			key := knowledge.TenantPartition(s.TenantID, doc.Metadata.Domain)
			out[key] = append(out[key], doc)
		}
	case knowledge.TierDomain:
		out[knowledge.DomainPartition(s.Domain)] = s.Documents
	default:
		out[knowledge.GlobalPartition()] = s.Documents
	}
	return out
}

var gzipMagic = []byte{0x1f, 0x8b}

// Encode serializes a snapshot, gzip-compressing it when compress is set.
func Encode(s *Snapshot, compress bool) ([]byte, error) {
	if s.FormatVersion == 0 {
		s.FormatVersion = FormatVersion
	}
	if s.Documents == nil {
		s.Documents = []knowledge.Document{}
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot %s: %w", s.Scope(), err)
	}
	if !compress {
		return data, nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("compressing snapshot %s: %w", s.Scope(), err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compressing snapshot %s: %w", s.Scope(), err)
	}
	return buf.Bytes(), nil
}

// Decode parses a snapshot written by Encode, compressed or not.
func Decode(data []byte) (*Snapshot, error) {
	if bytes.HasPrefix(data, gzipMagic) {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
		}
		defer zr.Close()
		if data, err = io.ReadAll(zr); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
		}
	}

	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	if s.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("%w: version %d", ErrUnsupportedFormat, s.FormatVersion)
	}
	return &s, nil
}
