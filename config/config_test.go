package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dbfleet/dbfleet/types"
)

const validConfig = `
version: v1
hub_region: eu-west-1
cross_account_enabled: true

accounts:
  - account_id: "111122223333"
    external_id: "fleet-xid-1"
    role_name: fleet-discovery
    regions: [eu-west-1, us-east-1]
  - account_id: "444455556666"
    external_id: "fleet-xid-2"
    role_name: fleet-discovery
    regions: [eu-west-1]

cache:
  ttl: 300s
  storage_dir: /var/lib/dbfleet

resolver:
  self_identity: api-front-door
  endpoints:
    executor: https://executor.internal.example.com
    reporting: https://reporting.internal.example.com
  health_interval: 15s
  failure_threshold: 2

dispatch:
  executor_service: executor
  timeout: 20s
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dbfleet.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.HubRegion != "eu-west-1" {
		t.Errorf("HubRegion = %v, want eu-west-1", cfg.HubRegion)
	}
	if len(cfg.Accounts) != 2 {
		t.Fatalf("Accounts count = %v, want 2", len(cfg.Accounts))
	}
	if cfg.Accounts[0].RoleARN() != "arn:aws:iam::111122223333:role/fleet-discovery" {
		t.Errorf("RoleARN = %v", cfg.Accounts[0].RoleARN())
	}
	if cfg.Cache.TTL != 300*time.Second {
		t.Errorf("Cache.TTL = %v, want 300s", cfg.Cache.TTL)
	}
	if cfg.Resolver.FailureThreshold != 2 {
		t.Errorf("FailureThreshold = %v, want 2", cfg.Resolver.FailureThreshold)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Classification.Default != types.EnvUnknown {
		t.Errorf("Classification.Default = %v, want unknown", cfg.Classification.Default)
	}
	if len(cfg.Classification.ProductionPatterns) == 0 {
		t.Error("ProductionPatterns should have defaults")
	}
	if cfg.Dispatch.IdempotencyWindow != 5*time.Minute {
		t.Errorf("IdempotencyWindow = %v, want 5m", cfg.Dispatch.IdempotencyWindow)
	}
	if cfg.Discovery.MaxInFlight != 8 {
		t.Errorf("MaxInFlight = %v, want 8", cfg.Discovery.MaxInFlight)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("Server.ListenAddr = %v, want :8080", cfg.Server.ListenAddr)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing version", func(c *Config) { c.Version = "" }},
		{"missing hub region", func(c *Config) { c.HubRegion = "" }},
		{"no accounts", func(c *Config) { c.Accounts = nil }},
		{"account without role", func(c *Config) { c.Accounts[0].RoleName = "" }},
		{"account without regions", func(c *Config) { c.Accounts[0].Regions = nil }},
		{"missing self identity", func(c *Config) { c.Resolver.SelfIdentity = "" }},
		{"executor not in endpoints", func(c *Config) { c.Dispatch.ExecutorService = "ghost" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, validConfig))
			if err != nil {
				t.Fatal(err)
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() error = nil, want error")
			}
		})
	}
}
