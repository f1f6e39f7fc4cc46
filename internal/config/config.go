// Package config loads and validates the gateway configuration.
//
// Configuration is environment-first: every knob is a flat environment
// variable, suitable for container deployment. Only PG_DSN has no default;
// everything else falls back to the values used by the reference compose
// setup.
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the complete gateway configuration.
type Config struct {
	// HTTPAddr is the listen address for the HTTP server.
	HTTPAddr string `mapstructure:"http_addr" validate:"required"`

	// PGDSN is the Postgres connection string for the audit store. Required.
	PGDSN string `mapstructure:"pg_dsn" validate:"required"`

	// RedisURL is the connection URL for the anti-replay and rate-limit store.
	RedisURL string `mapstructure:"redis_url" validate:"required"`

	// OPAURL is the base URL of the policy engine.
	OPAURL string `mapstructure:"opa_url" validate:"required,url"`

	// AntiReplayEnabled gates the anti-replay stage. Disabling it removes
	// idempotency guarantees; meant for development only.
	AntiReplayEnabled bool `mapstructure:"anti_replay_enabled"`

	// AntiReplayTTLSeconds is the lifetime of anti-replay records.
	AntiReplayTTLSeconds int `mapstructure:"anti_replay_ttl_seconds" validate:"min=1"`

	// SMSRateLimit is the default per-patient SMS count per window.
	SMSRateLimit int64 `mapstructure:"sms_rate_limit" validate:"min=1"`

	// SMSRateWindowSeconds is the default SMS rate window.
	SMSRateWindowSeconds int `mapstructure:"sms_rate_window_s" validate:"min=1"`

	// SMSRateTenantOverrides is a JSON object mapping tenant_id to
	// {"limit": n, "window_s": n}. Empty means no overrides.
	SMSRateTenantOverrides string `mapstructure:"sms_rate_tenant_overrides"`

	// LogLevel is the minimum slog level: debug, info, warn, error.
	LogLevel string `mapstructure:"log_level" validate:"oneof=debug info warn error"`

	// LogFormat selects the slog handler: json or text.
	LogFormat string `mapstructure:"log_format" validate:"oneof=json text"`
}

// SMSOverride is one tenant's replacement SMS burst policy.
type SMSOverride struct {
	Limit         int64 `json:"limit" validate:"min=1"`
	WindowSeconds int   `json:"window_s" validate:"min=1"`
}

// envKeys maps viper keys to their exact environment variable names.
var envKeys = map[string]string{
	"http_addr":                 "HTTP_ADDR",
	"pg_dsn":                    "PG_DSN",
	"redis_url":                 "REDIS_URL",
	"opa_url":                   "OPA_URL",
	"anti_replay_enabled":       "ANTI_REPLAY_ENABLED",
	"anti_replay_ttl_seconds":   "ANTI_REPLAY_TTL_SECONDS",
	"sms_rate_limit":            "SMS_RATE_LIMIT",
	"sms_rate_window_s":         "SMS_RATE_WINDOW_S",
	"sms_rate_tenant_overrides": "SMS_RATE_TENANT_OVERRIDES",
	"log_level":                 "LOG_LEVEL",
	"log_format":                "LOG_FORMAT",
}

// Load reads configuration from the environment, applies defaults, and
// validates the result.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("http_addr", ":8000")
	v.SetDefault("redis_url", "redis://redis:6379/0")
	v.SetDefault("opa_url", "http://opa:8181")
	v.SetDefault("anti_replay_enabled", true)
	v.SetDefault("anti_replay_ttl_seconds", 86400)
	v.SetDefault("sms_rate_limit", 1)
	v.SetDefault("sms_rate_window_s", 3600)
	v.SetDefault("sms_rate_tenant_overrides", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	for key, env := range envKeys {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags and the tenant-overrides document.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	overrides, err := c.TenantOverrides()
	if err != nil {
		return err
	}
	for tenant, o := range overrides {
		if err := v.Struct(o); err != nil {
			return fmt.Errorf("SMS_RATE_TENANT_OVERRIDES[%s]: %w", tenant, formatValidationErrors(err))
		}
	}
	return nil
}

// TenantOverrides parses SMSRateTenantOverrides. Empty input yields nil.
func (c *Config) TenantOverrides() (map[string]SMSOverride, error) {
	if strings.TrimSpace(c.SMSRateTenantOverrides) == "" {
		return nil, nil
	}
	var overrides map[string]SMSOverride
	if err := json.Unmarshal([]byte(c.SMSRateTenantOverrides), &overrides); err != nil {
		return nil, fmt.Errorf("SMS_RATE_TENANT_OVERRIDES is not a valid JSON object: %w", err)
	}
	return overrides, nil
}

// ReplayTTL returns the anti-replay record lifetime.
func (c *Config) ReplayTTL() time.Duration {
	return time.Duration(c.AntiReplayTTLSeconds) * time.Second
}

// SMSWindow returns the default SMS rate window.
func (c *Config) SMSWindow() time.Duration {
	return time.Duration(c.SMSRateWindowSeconds) * time.Second
}

// formatValidationErrors converts validator errors into actionable messages
// naming the environment variable, not the Go field.
func formatValidationErrors(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	fieldToEnv := map[string]string{
		"HTTPAddr":             "HTTP_ADDR",
		"PGDSN":                "PG_DSN",
		"RedisURL":             "REDIS_URL",
		"OPAURL":               "OPA_URL",
		"AntiReplayTTLSeconds": "ANTI_REPLAY_TTL_SECONDS",
		"SMSRateLimit":         "SMS_RATE_LIMIT",
		"SMSRateWindowSeconds": "SMS_RATE_WINDOW_S",
		"LogLevel":             "LOG_LEVEL",
		"LogFormat":            "LOG_FORMAT",
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		name := fe.Field()
		if env, ok := fieldToEnv[name]; ok {
			name = env
		}
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", name))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", name, fe.Param()))
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s", name, fe.Param()))
		case "url":
			msgs = append(msgs, fmt.Sprintf("%s must be a valid URL", name))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s validation", name, fe.Tag()))
		}
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}
