package types

import (
	"testing"
	"time"
)

func TestInventoryRecord_NaturalKey(t *testing.T) {
	r := InventoryRecord{
		InstanceID: "orders-db",
		AccountID:  "111122223333",
		Region:     "eu-west-1",
	}
	want := "111122223333/eu-west-1/orders-db"
	if got := r.NaturalKey(); got != want {
		t.Errorf("NaturalKey() = %v, want %v", got, want)
	}
}

func TestAccountTarget_RoleARN(t *testing.T) {
	a := AccountTarget{AccountID: "111122223333", RoleName: "fleet-discovery"}
	want := "arn:aws:iam::111122223333:role/fleet-discovery"
	if got := a.RoleARN(); got != want {
		t.Errorf("RoleARN() = %v, want %v", got, want)
	}
}

func TestInventoryRecord_Matches(t *testing.T) {
	record := InventoryRecord{
		InstanceID:   "orders-db",
		AccountID:    "111122223333",
		Region:       "eu-west-1",
		Engine:       "postgres",
		Environment:  EnvProduction,
		DiscoveredAt: time.Now(),
	}

	tests := []struct {
		name   string
		filter InventoryFilter
		want   bool
	}{
		{name: "empty filter matches", filter: InventoryFilter{}, want: true},
		{name: "matching account", filter: InventoryFilter{AccountID: "111122223333"}, want: true},
		{name: "wrong account", filter: InventoryFilter{AccountID: "444455556666"}, want: false},
		{name: "matching engine and env", filter: InventoryFilter{Engine: "postgres", Environment: EnvProduction}, want: true},
		{name: "wrong region", filter: InventoryFilter{Region: "us-east-1"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := record.Matches(tt.filter); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOperation_Valid(t *testing.T) {
	for _, op := range []Operation{OpStart, OpStop, OpReboot, OpSnapshot, OpHealthCheck} {
		if !op.Valid() {
			t.Errorf("Valid() = false for %s", op)
		}
	}
	if Operation("terminate").Valid() {
		t.Error("Valid() = true for terminate, want false")
	}
}

func TestServiceEndpoint_Reachable(t *testing.T) {
	tests := []struct {
		name     string
		status   HealthStatus
		failures int
		want     bool
	}{
		{"healthy", HealthHealthy, 0, true},
		{"degraded", HealthDegraded, 5, true},
		{"unknown unprobed", HealthUnknown, 0, true},
		{"unknown failing", HealthUnknown, 2, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := ServiceEndpoint{HealthStatus: tt.status, ConsecutiveFailures: tt.failures}
			if got := e.Reachable(); got != tt.want {
				t.Errorf("Reachable() = %v, want %v", got, tt.want)
			}
		})
	}
}
