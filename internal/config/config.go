// Package config loads service settings from the environment and the tenant
// registry from a YAML file. Environment variables cover process-level knobs;
// the file covers everything an operator edits per tenant.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Babel-Snake/vinagent-backend-sub000/pkg/types"
)

const (
	DefaultListenAddr        = ":8080"
	DefaultDatabasePath      = "vinagent.db"
	DefaultTokenTTL          = 7 * 24 * time.Hour
	DefaultClassifierTimeout = 10 * time.Second
)

type Config struct {
	ListenAddr        string
	DatabasePath      string
	RegistryPath      string
	PublicBaseURL     string
	TokenTTL          time.Duration
	ClassifierURL     string
	ClassifierTimeout time.Duration
}

// FromEnv builds a Config from VINAGENT_* variables, applying defaults for
// anything unset.
func FromEnv() Config {
	cfg := Config{
		ListenAddr:        envOr("VINAGENT_LISTEN_ADDR", DefaultListenAddr),
		DatabasePath:      envOr("VINAGENT_DB_PATH", DefaultDatabasePath),
		RegistryPath:      envOr("VINAGENT_REGISTRY_PATH", "registry.yaml"),
		PublicBaseURL:     envOr("VINAGENT_PUBLIC_BASE_URL", "http://localhost:8080"),
		TokenTTL:          envDuration("VINAGENT_TOKEN_TTL", DefaultTokenTTL),
		ClassifierURL:     os.Getenv("VINAGENT_CLASSIFIER_URL"),
		ClassifierTimeout: envDuration("VINAGENT_CLASSIFIER_TIMEOUT", DefaultClassifierTimeout),
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// ProviderConfig points a channel at an outbound provider endpoint. An empty
// config means the channel falls back to logged-only delivery.
type ProviderConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

type TenantEntry struct {
	ID             string                            `yaml:"id"`
	Name           string                            `yaml:"name"`
	InboundSMS     string                            `yaml:"inbound_sms"`
	InboundEmail   string                            `yaml:"inbound_email"`
	InboundVoice   string                            `yaml:"inbound_voice"`
	EnabledModules map[string]bool                   `yaml:"enabled_modules"`
	AutoExecute    bool                              `yaml:"auto_execute"`
	Notify         map[types.Channel]ProviderConfig  `yaml:"notify"`
	Booking        *ProviderConfig                   `yaml:"booking"`
}

type StaffEntry struct {
	ID       string     `yaml:"id"`
	TenantID string     `yaml:"tenant_id"`
	Name     string     `yaml:"name"`
	Role     types.Role `yaml:"role"`
	Token    string     `yaml:"token"`
}

// Registry is the operator-edited tenant and staff roster.
type Registry struct {
	Tenants []TenantEntry `yaml:"tenants"`
	Staff   []StaffEntry  `yaml:"staff"`
}

// LoadRegistry reads and validates the YAML registry file.
func LoadRegistry(path string) (Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Registry{}, fmt.Errorf("read registry: %w", err)
	}
	return ParseRegistry(data)
}

func ParseRegistry(data []byte) (Registry, error) {
	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return Registry{}, fmt.Errorf("parse registry: %w", err)
	}

	seen := map[string]bool{}
	for _, t := range reg.Tenants {
		if t.ID == "" {
			return Registry{}, fmt.Errorf("tenant missing id")
		}
		if seen[t.ID] {
			return Registry{}, fmt.Errorf("duplicate tenant id %q", t.ID)
		}
		seen[t.ID] = true
	}
	for _, s := range reg.Staff {
		if s.ID == "" || s.TenantID == "" {
			return Registry{}, fmt.Errorf("staff entry missing id or tenant_id")
		}
		if !seen[s.TenantID] {
			return Registry{}, fmt.Errorf("staff %q references unknown tenant %q", s.ID, s.TenantID)
		}
		switch s.Role {
		case types.RoleBasic, types.RoleManager, types.RoleAdmin:
		default:
			return Registry{}, fmt.Errorf("staff %q has unknown role %q", s.ID, s.Role)
		}
	}
	return reg, nil
}

// Tenant converts a registry entry into the domain record.
func (e TenantEntry) Tenant() types.Tenant {
	return types.Tenant{
		ID:             e.ID,
		Name:           e.Name,
		InboundSMS:     e.InboundSMS,
		InboundEmail:   e.InboundEmail,
		InboundVoice:   e.InboundVoice,
		EnabledModules: e.EnabledModules,
		AutoExecute:    e.AutoExecute,
	}
}
