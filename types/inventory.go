package types

import (
	"fmt"
	"time"
)

// Environment classification for a discovered instance.
type Environment string

const (
	EnvProduction    Environment = "production"
	EnvNonProduction Environment = "non-production"
	EnvUnknown       Environment = "unknown"
)

// InventoryRecord is one discovered managed database instance.
type InventoryRecord struct {
	InstanceID   string            `json:"instance_id"`
	AccountID    string            `json:"account_id"`
	Region       string            `json:"region"`
	Engine       string            `json:"engine"`
	EngineMode   string            `json:"engine_mode,omitempty"`
	Status       string            `json:"status"`
	Environment  Environment       `json:"environment"`
	Endpoint     string            `json:"endpoint,omitempty"`
	Port         int32             `json:"port,omitempty"`
	MultiAZ      bool              `json:"multi_az,omitempty"`
	Tags         map[string]string `json:"tags,omitempty"`
	DiscoveredAt time.Time         `json:"discovered_at"`
	LastUpdated  time.Time         `json:"last_updated"`
	Stale        bool              `json:"stale,omitempty"`
}

// NaturalKey uniquely identifies a record across accounts and regions.
func (r *InventoryRecord) NaturalKey() string {
	return fmt.Sprintf("%s/%s/%s", r.AccountID, r.Region, r.InstanceID)
}

// IsProduction reports whether the record was classified as production.
func (r *InventoryRecord) IsProduction() bool {
	return r.Environment == EnvProduction
}

// AccountTarget is one account in the discovery matrix. Loaded from
// configuration at startup and immutable during a run.
type AccountTarget struct {
	AccountID  string   `yaml:"account_id" json:"account_id"`
	ExternalID string   `yaml:"external_id" json:"-"`
	RoleName   string   `yaml:"role_name" json:"role_name"`
	Regions    []string `yaml:"regions" json:"regions"`
}

// RoleARN derives the cross-account role ARN for this target.
func (a *AccountTarget) RoleARN() string {
	return fmt.Sprintf("arn:aws:iam::%s:role/%s", a.AccountID, a.RoleName)
}

// InventoryFilter narrows inventory queries.
type InventoryFilter struct {
	AccountID   string      `json:"account_id,omitempty"`
	Region      string      `json:"region,omitempty"`
	Engine      string      `json:"engine,omitempty"`
	Environment Environment `json:"environment,omitempty"`
}

// Matches checks a record against the filter.
func (r *InventoryRecord) Matches(f InventoryFilter) bool {
	if f.AccountID != "" && r.AccountID != f.AccountID {
		return false
	}
	if f.Region != "" && r.Region != f.Region {
		return false
	}
	if f.Engine != "" && r.Engine != f.Engine {
		return false
	}
	if f.Environment != "" && r.Environment != f.Environment {
		return false
	}
	return true
}
