package persistence

import (
	"testing"
	"time"

	"github.com/fyrsmithlabs/knowd/internal/knowledge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var savedAt = time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)

func tenantSnapshot() *Snapshot {
	return &Snapshot{
		FormatVersion: FormatVersion,
		TenantID:      "t1",
		Domains:       []string{"insurance", "resort"},
		Documents: []knowledge.Document{
			{
				ID:        "a",
				Content:   "Comprehensive auto cover",
				Embedding: []float32{0.25, -0.5, 0.125},
				Metadata: knowledge.Metadata{
					Type:             knowledge.TypeProduct,
					Category:         "auto",
					Priority:         knowledge.PriorityHigh,
					Domain:           "insurance",
					TenantID:         "t1",
					Tags:             []string{"auto"},
					LastUpdated:      savedAt,
					Effectiveness:    0.72,
					QueryCount:       3,
					AverageRelevance: 0.61,
					LastUsed:         savedAt,
				},
			},
		},
		LastSaved: savedAt,
	}
}

func TestScope_StringAndParse(t *testing.T) {
	tests := []struct {
		scope Scope
		path  string
	}{
		{scope: TenantScope("t1"), path: "tenants/t1"},
		{scope: DomainScope("insurance"), path: "domains/insurance"},
		{scope: GlobalScope(), path: "global"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.path, tt.scope.String())
			got, err := ParseScope(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.scope, got)
		})
	}

	for _, bad := range []string{"", "tenants", "tenants/", "users/x", "tenants/a/b"} {
		_, err := ParseScope(bad)
		assert.Error(t, err, bad)
	}

	assert.Equal(t, TenantScope("t1"), ScopeOf(knowledge.TenantPartition("t1", "resort")))
	assert.Equal(t, DomainScope("resort"), ScopeOf(knowledge.DomainPartition("resort")))
	assert.Equal(t, GlobalScope(), ScopeOf(knowledge.GlobalPartition()))
}

func TestEncodeDecode_Lossless(t *testing.T) {
	for _, compress := range []bool{true, false} {
		data, err := Encode(tenantSnapshot(), compress)
		require.NoError(t, err)
		if compress {
			assert.Equal(t, gzipMagic, data[:2])
		} else {
			assert.Equal(t, byte('{'), data[0])
		}

		got, err := Decode(data)
		require.NoError(t, err)
		assert.Equal(t, tenantSnapshot(), got)
	}
}

func TestDecode_Rejects(t *testing.T) {
	_, err := Decode([]byte(`{"format_version": 2, "documents": []}`))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Decode([]byte(`not json`))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Decode([]byte{0x1f, 0x8b, 0x00})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestSnapshot_Partitions(t *testing.T) {
	parts := tenantSnapshot().Partitions()
	require.Len(t, parts, 2)
	assert.Len(t, parts[knowledge.TenantPartition("t1", "insurance")], 1)
	docs, ok := parts[knowledge.TenantPartition("t1", "resort")]
	assert.True(t, ok, "empty tenant domains survive")
	assert.Empty(t, docs)

	global := (&Snapshot{Documents: []knowledge.Document{{ID: "g"}}}).Partitions()
	assert.Len(t, global[knowledge.GlobalPartition()], 1)
}

func TestSeedDocuments(t *testing.T) {
	for _, scope := range []Scope{DomainScope("insurance"), DomainScope("resort"), DomainScope("pension"), GlobalScope()} {
		docs := SeedDocuments(scope)
		require.NotEmpty(t, docs, scope.String())
		for _, d := range docs {
			assert.NoError(t, d.Validate())
			assert.Empty(t, d.Metadata.TenantID)
			assert.Equal(t, scope.Name, d.Metadata.Domain)
		}
	}
	assert.Empty(t, SeedDocuments(DomainScope("mining")))
	assert.Empty(t, SeedDocuments(TenantScope("t1")))

	first := SeedDocuments(GlobalScope())
	again := SeedDocuments(GlobalScope())
	assert.Equal(t, first[0].ID, again[0].ID, "seed ids are stable")

	w := WelcomeDocument("t1", "resort")
	assert.NotEqual(t, w.ID, WelcomeDocument("t2", "resort").ID)
	assert.Contains(t, w.Content, "resort")
}
