package config

import (
	"context"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func requiredEnv() map[string]string {
	return map[string]string{
		"JWT_SECRET":      "test-jwt-secret-key",
		"ENCRYPTION_KEYS": "k1:" + testSecret,
	}
}

func load(t *testing.T, env map[string]string) (*Config, error) {
	t.Helper()
	return LoadFrom(context.Background(), envconfig.MapLookuper(env))
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(t, requiredEnv())
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.Addr() != "0.0.0.0:8080" {
		t.Errorf("Server.Addr() = %q", cfg.Server.Addr())
	}
	if cfg.Database.Port != 5432 || cfg.Database.MaxOpenConns != 25 {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if cfg.Scheduler.SweepInterval != time.Minute {
		t.Errorf("Scheduler.SweepInterval = %v, want 1m", cfg.Scheduler.SweepInterval)
	}
	if cfg.Scheduler.SweepLimit != 20 {
		t.Errorf("Scheduler.SweepLimit = %d, want 20", cfg.Scheduler.SweepLimit)
	}
	if cfg.Scheduler.JobTimeout != 5*time.Minute {
		t.Errorf("Scheduler.JobTimeout = %v, want 5m", cfg.Scheduler.JobTimeout)
	}
	if cfg.Scheduler.SchedulerTenant() != nil {
		t.Error("SchedulerTenant() should be nil by default")
	}
	if !cfg.Listener.Enabled {
		t.Error("Listener.Enabled should default to true")
	}
	if cfg.Firebase.AlertsTopicPrefix != "bank-connectors" {
		t.Errorf("Firebase.AlertsTopicPrefix = %q", cfg.Firebase.AlertsTopicPrefix)
	}
	if cfg.Encryption.Keys["k1"] != testSecret {
		t.Errorf("Encryption.Keys = %v", cfg.Encryption.Keys)
	}
}

func TestLoad_Overrides(t *testing.T) {
	env := requiredEnv()
	env["ENCRYPTION_KEYS"] = "k1:" + testSecret + ",k2:" + testSecret + "ff"
	env["ENCRYPTION_ACTIVE_KID"] = "k2"
	env["SCHEDULER_TENANT_ID"] = "42"
	env["SCHEDULER_SWEEP_INTERVAL"] = "30s"
	env["SERVER_ALLOWED_ORIGINS"] = "https://a.example,https://b.example"
	env["DB_NAME"] = "ledger"

	cfg, err := load(t, env)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if len(cfg.Encryption.Keys) != 2 || cfg.Encryption.ActiveKID != "k2" {
		t.Errorf("Encryption = %+v", cfg.Encryption)
	}
	if tenant := cfg.Scheduler.SchedulerTenant(); tenant == nil || *tenant != 42 {
		t.Errorf("SchedulerTenant() = %v, want 42", tenant)
	}
	if cfg.Scheduler.SweepInterval != 30*time.Second {
		t.Errorf("SweepInterval = %v", cfg.Scheduler.SweepInterval)
	}
	if len(cfg.Server.AllowedOrigins) != 2 {
		t.Errorf("AllowedOrigins = %v", cfg.Server.AllowedOrigins)
	}
	if got := cfg.Database.ConnectionString(); got != "host=localhost port=5432 user=bankfeed password= dbname=ledger sslmode=disable" {
		t.Errorf("ConnectionString() = %q", got)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing jwt secret", map[string]string{"ENCRYPTION_KEYS": "k1:" + testSecret}},
		{"missing keys", map[string]string{"JWT_SECRET": "s"}},
		{"short secret", map[string]string{"JWT_SECRET": "s", "ENCRYPTION_KEYS": "k1:short"}},
		{"ambiguous active kid", map[string]string{"JWT_SECRET": "s", "ENCRYPTION_KEYS": "a:" + testSecret + ",b:" + testSecret}},
		{"unknown active kid", map[string]string{"JWT_SECRET": "s", "ENCRYPTION_KEYS": "a:" + testSecret, "ENCRYPTION_ACTIVE_KID": "z"}},
		{"sweep limit too high", merge(requiredEnv(), "SCHEDULER_SWEEP_LIMIT", "500")},
		{"no workers", merge(requiredEnv(), "SCHEDULER_WORKERS", "0")},
		{"bad log format", merge(requiredEnv(), "LOG_FORMAT", "xml")},
		{"bad port", merge(requiredEnv(), "DB_PORT", "not-a-number")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := load(t, tt.env); err == nil {
				t.Errorf("Load() expected error, got nil")
			}
		})
	}
}

func merge(env map[string]string, key, value string) map[string]string {
	env[key] = value
	return env
}
