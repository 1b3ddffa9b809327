package dynds

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment variables read by LoadConfig.
// A double underscore separates levels:
// DYNDS_DATASOURCES__ORDERS__URL sets datasources.orders.url.
const EnvPrefix = "DYNDS_"

// Default pool settings, applied by Open when a field is zero.
const (
	DefaultMaxConns          int32 = 10
	DefaultHealthCheckPeriod       = 30 * time.Second
	DefaultMaxConnLifetime         = 30 * time.Minute
	DefaultMaxConnIdleTime         = 5 * time.Minute
	DefaultConnectTimeout          = 10 * time.Second
)

// DefaultPrimary is the primary data source name when none is configured.
const DefaultPrimary = "primary"

// Config describes the set of data sources a Router dispatches to.
type Config struct {
	// Primary names the data source used when no key, or the empty key, is
	// active.
	Primary string `koanf:"primary" validate:"required"`

	// Strict makes the Router fail on unknown keys instead of falling back
	// to the primary.
	Strict bool `koanf:"strict"`

	// DataSources maps names to connection settings. Names of the form
	// group_suffix also form the group "group".
	DataSources map[string]DataSourceConfig `koanf:"datasources" validate:"required,min=1,dive"`
}

// DataSourceConfig controls one pgx pool.
type DataSourceConfig struct {
	// URL is the connection string.
	URL string `koanf:"url" validate:"required"`

	// MaxConns defaults to 10.
	MaxConns int32 `koanf:"max_conns" validate:"min=0"`

	// MinConns defaults to 0.
	MinConns int32 `koanf:"min_conns" validate:"min=0"`

	// SimpleProtocol forces the simple query protocol and disables statement
	// and description caches, as transaction-mode poolers require.
	SimpleProtocol bool `koanf:"simple_protocol"`

	// AllowInsecure permits connection strings without TLS. Local
	// development only.
	AllowInsecure bool `koanf:"allow_insecure"`

	// HealthChecksDisabled turns off idle-connection health checks. The pool
	// keeps its ticker but it never fires.
	HealthChecksDisabled bool `koanf:"health_checks_disabled"`

	// HealthCheckPeriod defaults to 30s when health checks are enabled.
	HealthCheckPeriod time.Duration `koanf:"health_check_period" validate:"min=0"`

	// MaxConnLifetime defaults to 30m.
	MaxConnLifetime time.Duration `koanf:"max_conn_lifetime" validate:"min=0"`

	// MaxConnIdleTime defaults to 5m.
	MaxConnIdleTime time.Duration `koanf:"max_conn_idle_time" validate:"min=0"`

	// ConnectTimeout defaults to 10s.
	ConnectTimeout time.Duration `koanf:"connect_timeout" validate:"min=0"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and that Primary names a configured
// data source.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationErrors(err)
	}
	if _, ok := c.DataSources[c.Primary]; !ok {
		return fmt.Errorf("dynds: config validation failed:\n  primary %q is not a configured data source", c.Primary)
	}
	return nil
}

// Names returns the configured data source names in sorted order.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.DataSources))
	for name := range c.DataSources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func defaults() map[string]any {
	return map[string]any{
		"primary": DefaultPrimary,
		"strict":  false,
	}
}

// LoadConfig loads configuration with the following precedence (highest to
// lowest):
//  1. Environment variables (DYNDS_ prefix)
//  2. The YAML file at path, when path is non-empty and the file exists
//  3. Default values
//
// The result is validated.
func LoadConfig(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := loadFileIfExists(k, path); err != nil {
			return nil, fmt.Errorf("loading config file %q: %w", path, err)
		}
	}

	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, EnvPrefix)),
			"__",
			".",
		)
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFileIfExists(k *koanf.Koanf, path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return k.Load(file.Provider(path), yaml.Parser())
}

func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	errs := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		errs = append(errs, formatFieldError(e))
	}
	return fmt.Errorf("dynds: config validation failed:\n  %s", strings.Join(errs, "\n  "))
}

func formatFieldError(e validator.FieldError) string {
	field := formatFieldPath(e.Namespace())

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}

// formatFieldPath converts "Config.DataSources[orders].URL" to
// "datasources[orders].url".
func formatFieldPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, part := range parts {
		if open := strings.IndexByte(part, '['); open >= 0 {
			parts[i] = strings.ToLower(part[:open]) + part[open:]
			continue
		}
		parts[i] = strings.ToLower(part)
	}
	return strings.Join(parts, ".")
}
