package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dbfleet/dbfleet/types"
)

// Config is the full dbfleet configuration. Loaded once at process
// start and treated as immutable afterwards.
type Config struct {
	Version   string                `yaml:"version"`
	HubRegion string                `yaml:"hub_region"`
	Accounts  []types.AccountTarget `yaml:"accounts"`

	CrossAccountEnabled bool `yaml:"cross_account_enabled"`

	Classification Classification `yaml:"classification,omitempty"`
	Cache          Cache          `yaml:"cache,omitempty"`
	Discovery      Discovery      `yaml:"discovery,omitempty"`
	Resolver       Resolver       `yaml:"resolver,omitempty"`
	Dispatch       Dispatch       `yaml:"dispatch,omitempty"`
	Server         Server         `yaml:"server,omitempty"`
	Telemetry      Telemetry      `yaml:"telemetry,omitempty"`
}

// Server controls the HTTP API listener.
type Server struct {
	ListenAddr    string        `yaml:"listen_addr"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// Classification controls environment classification of scanned instances.
type Classification struct {
	// Tag keys checked, in order, for an explicit environment value.
	TagKeys []string `yaml:"tag_keys,omitempty"`
	// Name prefixes mapped to environments, checked when no tag matches.
	ProductionPatterns    []string `yaml:"production_patterns,omitempty"`
	NonProductionPatterns []string `yaml:"non_production_patterns,omitempty"`
	// Fallback when neither tags nor patterns match.
	Default types.Environment `yaml:"default,omitempty"`
}

// Cache controls the inventory cache.
type Cache struct {
	TTL        time.Duration `yaml:"ttl"`
	StorageDir string        `yaml:"storage_dir"`
	// Optional DynamoDB mirror; empty disables it.
	DynamoTable string `yaml:"dynamo_table,omitempty"`
}

// Discovery controls the multi-account fan-out.
type Discovery struct {
	Deadline    time.Duration `yaml:"deadline"`
	Interval    time.Duration `yaml:"interval"`
	MaxInFlight int           `yaml:"max_in_flight"`
}

// Resolver controls service discovery and health checking.
type Resolver struct {
	// SelfIdentity is this service's own front-door identifier. Any
	// endpoint URL containing it is rejected as circular.
	SelfIdentity     string            `yaml:"self_identity"`
	Endpoints        map[string]string `yaml:"endpoints"`
	HealthInterval   time.Duration     `yaml:"health_interval"`
	FailureThreshold int               `yaml:"failure_threshold"`
	ResolutionTTL    time.Duration     `yaml:"resolution_ttl"`
}

// Dispatch controls operation dispatch.
type Dispatch struct {
	ExecutorService   string        `yaml:"executor_service"`
	ExecutorFunction  string        `yaml:"executor_function,omitempty"`
	Timeout           time.Duration `yaml:"timeout"`
	IdempotencyWindow time.Duration `yaml:"idempotency_window"`
	WALDir            string        `yaml:"wal_dir"`
}

// Telemetry controls logging and OTEL export.
type Telemetry struct {
	OTELEndpoint string `yaml:"otel_endpoint,omitempty"`
	Insecure     bool   `yaml:"insecure,omitempty"`
	Debug        bool   `yaml:"debug,omitempty"`
}

// Load reads and validates configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if len(c.Classification.TagKeys) == 0 {
		c.Classification.TagKeys = []string{"Environment", "environment", "env", "Env"}
	}
	if len(c.Classification.ProductionPatterns) == 0 {
		c.Classification.ProductionPatterns = []string{"prod-", "prd-", "production-"}
	}
	if len(c.Classification.NonProductionPatterns) == 0 {
		c.Classification.NonProductionPatterns = []string{"dev-", "test-", "stg-", "staging-", "qa-", "sandbox-"}
	}
	if c.Classification.Default == "" {
		c.Classification.Default = types.EnvUnknown
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = 5 * time.Minute
	}
	if c.Discovery.Deadline == 0 {
		c.Discovery.Deadline = 2 * time.Minute
	}
	if c.Discovery.Interval == 0 {
		c.Discovery.Interval = 10 * time.Minute
	}
	if c.Discovery.MaxInFlight == 0 {
		c.Discovery.MaxInFlight = 8
	}
	if c.Resolver.HealthInterval == 0 {
		c.Resolver.HealthInterval = 30 * time.Second
	}
	if c.Resolver.FailureThreshold == 0 {
		c.Resolver.FailureThreshold = 3
	}
	if c.Resolver.ResolutionTTL == 0 {
		c.Resolver.ResolutionTTL = 30 * time.Second
	}
	if c.Dispatch.Timeout == 0 {
		c.Dispatch.Timeout = 30 * time.Second
	}
	if c.Dispatch.IdempotencyWindow == 0 {
		c.Dispatch.IdempotencyWindow = 5 * time.Minute
	}
	if c.Dispatch.WALDir == "" {
		c.Dispatch.WALDir = "wal"
	}
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.ShutdownGrace == 0 {
		c.Server.ShutdownGrace = 10 * time.Second
	}
}

// Validate ensures config has required fields.
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("version is required")
	}
	if c.HubRegion == "" {
		return fmt.Errorf("hub_region is required")
	}
	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account is required")
	}
	for i, acct := range c.Accounts {
		if acct.AccountID == "" {
			return fmt.Errorf("accounts[%d]: account_id is required", i)
		}
		if acct.RoleName == "" {
			return fmt.Errorf("accounts[%d]: role_name is required", i)
		}
		if len(acct.Regions) == 0 {
			return fmt.Errorf("accounts[%d]: at least one region is required", i)
		}
	}
	if c.Resolver.SelfIdentity == "" {
		return fmt.Errorf("resolver.self_identity is required")
	}
	if c.Dispatch.ExecutorService == "" {
		return fmt.Errorf("dispatch.executor_service is required")
	}
	if _, ok := c.Resolver.Endpoints[c.Dispatch.ExecutorService]; !ok {
		return fmt.Errorf("dispatch.executor_service %q has no resolver endpoint", c.Dispatch.ExecutorService)
	}
	return nil
}
