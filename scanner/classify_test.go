package scanner

import (
	"testing"

	"github.com/dbfleet/dbfleet/config"
	"github.com/dbfleet/dbfleet/types"
)

func testClassification() config.Classification {
	return config.Classification{
		TagKeys:               []string{"Environment", "env"},
		ProductionPatterns:    []string{"prod-", "prd-"},
		NonProductionPatterns: []string{"dev-", "test-", "stg-"},
		Default:               types.EnvUnknown,
	}
}

func TestClassify(t *testing.T) {
	c := NewClassifier(testClassification())

	tests := []struct {
		name     string
		instance string
		tags     map[string]string
		want     types.Environment
	}{
		{
			name:     "explicit production tag",
			instance: "orders-db",
			tags:     map[string]string{"Environment": "production"},
			want:     types.EnvProduction,
		},
		{
			name:     "tag variant key",
			instance: "orders-db",
			tags:     map[string]string{"env": "staging"},
			want:     types.EnvNonProduction,
		},
		{
			name:     "tag wins over conflicting name pattern",
			instance: "prod-orders",
			tags:     map[string]string{"Environment": "dev"},
			want:     types.EnvNonProduction,
		},
		{
			name:     "production name prefix",
			instance: "prod-orders",
			want:     types.EnvProduction,
		},
		{
			name:     "non-production name prefix",
			instance: "test-orders",
			want:     types.EnvNonProduction,
		},
		{
			name:     "prefix match is case insensitive",
			instance: "PROD-ORDERS",
			want:     types.EnvProduction,
		},
		{
			name:     "production beats test when both could match",
			instance: "prod-test-orders",
			want:     types.EnvProduction,
		},
		{
			name:     "unrecognized tag value falls through to pattern",
			instance: "stg-orders",
			tags:     map[string]string{"Environment": "whatever"},
			want:     types.EnvNonProduction,
		},
		{
			name:     "no match falls back to default",
			instance: "orders-db",
			want:     types.EnvUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Classify(tt.instance, tt.tags); got != tt.want {
				t.Errorf("Classify(%q) = %v, want %v", tt.instance, got, tt.want)
			}
		})
	}
}

func TestClassify_Deterministic(t *testing.T) {
	c := NewClassifier(testClassification())
	first := c.Classify("prod-test-orders", nil)
	for i := 0; i < 10; i++ {
		if got := c.Classify("prod-test-orders", nil); got != first {
			t.Fatalf("classification not deterministic: %v != %v", got, first)
		}
	}
}
