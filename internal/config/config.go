// Package config assembles the service configuration from an optional YAML
// file overridden by environment variables.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds everything the binary needs at startup. Secrets may be left
// empty here when a parameter-store prefix is configured; the wiring in
// main resolves them from SSM in that case.
type Config struct {
	Port string `yaml:"port"`

	// Store selects the record store driver: memory, supabase or dynamodb.
	Store string `yaml:"store"`

	SupabaseURL    string `yaml:"supabase_url"`
	SupabaseAPIKey string `yaml:"supabase_api_key"`

	DynamoTable string `yaml:"dynamo_table"`

	// AskAPIURL is the base URL of the answering service.
	AskAPIURL string `yaml:"ask_api_url"`

	// ParamPrefix enables SSM Parameter Store secret resolution when set,
	// e.g. "/krishmitra".
	ParamPrefix string `yaml:"param_prefix"`
}

const (
	defaultPort      = "8080"
	defaultStore     = "memory"
	defaultAskAPIURL = "http://127.0.0.1:8000"
)

// Load builds the configuration: defaults, then the YAML file named by
// KRISHMITRA_CONFIG (if any), then environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:      defaultPort,
		Store:     defaultStore,
		AskAPIURL: defaultAskAPIURL,
	}

	if path := os.Getenv("KRISHMITRA_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.loadEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() {
	setFromEnv(&c.Port, "KRISHMITRA_PORT")
	setFromEnv(&c.Store, "KRISHMITRA_STORE")
	setFromEnv(&c.SupabaseURL, "SUPABASE_URL")
	setFromEnv(&c.SupabaseAPIKey, "SUPABASE_API_KEY")
	setFromEnv(&c.DynamoTable, "DYNAMO_TABLE")
	setFromEnv(&c.AskAPIURL, "ASK_API_URL")
	setFromEnv(&c.ParamPrefix, "PARAM_PREFIX")
}

func (c *Config) validate() error {
	switch c.Store {
	case "memory":
	case "supabase":
		if c.SupabaseURL == "" {
			return fmt.Errorf("config: supabase store requires SUPABASE_URL")
		}
		if c.SupabaseAPIKey == "" && c.ParamPrefix == "" {
			return fmt.Errorf("config: supabase store requires SUPABASE_API_KEY or PARAM_PREFIX")
		}
	case "dynamodb":
		if c.DynamoTable == "" {
			return fmt.Errorf("config: dynamodb store requires DYNAMO_TABLE")
		}
	default:
		return fmt.Errorf("config: unknown store %q", c.Store)
	}

	if c.AskAPIURL == "" {
		return fmt.Errorf("config: ASK_API_URL must not be empty")
	}
	return nil
}

func setFromEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
