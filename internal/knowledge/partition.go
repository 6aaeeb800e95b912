package knowledge

import (
	"fmt"
	"strings"
)

// Tier is a retrieval isolation level. Lower values rank first on ties.
type Tier int

const (
	TierTenant Tier = iota
	TierDomain
	TierGlobal
)

// Tiers lists every tier in priority order.
var Tiers = []Tier{TierTenant, TierDomain, TierGlobal}

func (t Tier) String() string {
	switch t {
	case TierTenant:
		return "tenant"
	case TierDomain:
		return "domain"
	case TierGlobal:
		return "global"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// MarshalText encodes the tier by name.
func (t Tier) MarshalText() ([]byte, error) {
	if t < TierTenant || t > TierGlobal {
		return nil, fmt.Errorf("unknown tier %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText decodes a tier name.
func (t *Tier) UnmarshalText(text []byte) error {
	tier, err := ParseTier(string(text))
	if err != nil {
		return err
	}
	*t = tier
	return nil
}

// ParseTier parses "tenant", "domain" or "global".
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tenant", "tenant-specific", "tenant_specific":
		return TierTenant, nil
	case "domain", "domain-shared", "domain_shared":
		return TierDomain, nil
	case "global", "global-shared", "global_shared":
		return TierGlobal, nil
	}
	return 0, fmt.Errorf("unknown tier %q", s)
}

// PartitionKey scopes a partition. Tenant partitions carry both tenant and
// domain, domain partitions only the domain, the global partition neither.
type PartitionKey struct {
	Tier     Tier   `json:"tier"`
	TenantID string `json:"tenant_id,omitempty"`
	Domain   string `json:"domain,omitempty"`
}

// TenantPartition returns the key of a tenant's partition in a domain.
func TenantPartition(tenantID, domain string) PartitionKey {
	return PartitionKey{Tier: TierTenant, TenantID: tenantID, Domain: domain}
}

// DomainPartition returns the key of a domain's shared partition.
func DomainPartition(domain string) PartitionKey {
	return PartitionKey{Tier: TierDomain, Domain: domain}
}

// GlobalPartition returns the key of the cross-domain partition.
func GlobalPartition() PartitionKey {
	return PartitionKey{Tier: TierGlobal}
}

// PartitionsFor returns the three keys a query for tenantID/domain searches,
// in tier order.
func PartitionsFor(tenantID, domain string) []PartitionKey {
	return []PartitionKey{
		TenantPartition(tenantID, domain),
		DomainPartition(domain),
		GlobalPartition(),
	}
}

// Validate checks that the key's fields match its tier.
func (k PartitionKey) Validate() error {
	switch k.Tier {
	case TierTenant:
		if k.TenantID == "" || k.Domain == "" {
			return fmt.Errorf("tenant partition requires tenant and domain")
		}
	case TierDomain:
		if k.TenantID != "" || k.Domain == "" {
			return fmt.Errorf("domain partition requires a domain and no tenant")
		}
	case TierGlobal:
		if k.TenantID != "" || k.Domain != "" {
			return fmt.Errorf("global partition takes no tenant or domain")
		}
	default:
		return fmt.Errorf("unknown tier %d", int(k.Tier))
	}
	return nil
}

func (k PartitionKey) String() string {
	switch k.Tier {
	case TierTenant:
		return "tenant/" + k.TenantID + "/" + k.Domain
	case TierDomain:
		return "domain/" + k.Domain
	default:
		return k.Tier.String()
	}
}
