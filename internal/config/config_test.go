package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("ldap.host", "ldap.example.edu")
	configViper.Set("ldap.base_dn", "dc=example,dc=edu")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.HTTPAddress != "0.0.0.0:8080" {
		t.Fatalf("unexpected http address %q", cfg.HTTPAddress)
	}
	if cfg.LDAP.Port != 389 || cfg.LDAP.PageSize != 100 || cfg.LDAP.MaxEntries != 0 {
		t.Fatalf("unexpected ldap defaults: %+v", cfg.LDAP)
	}
	if cfg.Sync.BatchSize != 20 || cfg.Sync.Interval != 60*time.Minute || cfg.Sync.Enabled {
		t.Fatalf("unexpected sync defaults: %+v", cfg.Sync)
	}
	if !cfg.LDAP.AllowAnonymous {
		t.Fatalf("anonymous binding must default to allowed")
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name     string
		mutate   map[string]any
		fragment string
	}{
		{
			name:     "missing-ldap-host",
			mutate:   map[string]any{"ldap.host": ""},
			fragment: "ldap.host",
		},
		{
			name:     "missing-base-dn",
			mutate:   map[string]any{"ldap.base_dn": " "},
			fragment: "ldap.base_dn",
		},
		{
			name:     "invalid-port",
			mutate:   map[string]any{"ldap.port": 70000},
			fragment: "ldap.port",
		},
		{
			name:     "zero-page-size",
			mutate:   map[string]any{"ldap.page_size": 0},
			fragment: "ldap.page_size",
		},
		{
			name:     "negative-entry-bound",
			mutate:   map[string]any{"ldap.max_entries": -5},
			fragment: "ldap.max_entries",
		},
		{
			name:     "zero-batch-size",
			mutate:   map[string]any{"sync.batch_size": 0},
			fragment: "sync.batch_size",
		},
		{
			name:     "enabled-sync-without-interval",
			mutate:   map[string]any{"sync.enabled": true, "sync.interval": 0},
			fragment: "sync.interval",
		},
		{
			name:     "missing-database-path",
			mutate:   map[string]any{"database.path": ""},
			fragment: "database.path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configViper := NewViper()
			configViper.Set("ldap.host", "ldap.example.edu")
			configViper.Set("ldap.base_dn", "dc=example,dc=edu")
			for key, value := range tt.mutate {
				configViper.Set(key, value)
			}

			_, err := Load(configViper)
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.fragment) {
				t.Fatalf("error %q does not name %q", err, tt.fragment)
			}
		})
	}
}
