package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config is the hostfacts configuration.
type Config struct {
	// Facts configures resolution.
	Facts FactsConfig `json:"facts"`

	// Cache configures the fact cache.
	Cache CacheConfig `json:"cache"`

	// Logging configures the logger.
	Logging LoggingConfig `json:"logging"`

	// Telemetry configures metrics and tracing.
	Telemetry TelemetryConfig `json:"telemetry"`

	// Remote selects a remote host to resolve over SSH.
	Remote RemoteConfig `json:"remote"`

	// Server configures `hostfacts serve`.
	Server ServerConfig `json:"server"`

	// Policy configures fact assertions.
	Policy PolicyConfig `json:"policy"`
}

// FactsConfig configures a resolution pass.
type FactsConfig struct {
	// Blocklist lists fact path prefixes that are never stored.
	Blocklist []string `json:"blocklist"`

	// ExternalDirs are searched for YAML, JSON and key=value fact files.
	ExternalDirs []string `json:"external_dirs"`

	// ScriptDirs are searched for Starlark scripted facts.
	ScriptDirs []string `json:"script_dirs"`

	// ProbeTimeout bounds a single probe of the host.
	ProbeTimeout Duration `json:"probe_timeout" validate:"gt=0"`

	// ResolverTimeout bounds a single resolver.
	ResolverTimeout Duration `json:"resolver_timeout" validate:"gt=0"`

	// Parallelism is the number of resolvers run at once.
	Parallelism int `json:"parallelism" validate:"min=1,max=64"`
}

// CacheConfig configures the SQLite fact cache.
type CacheConfig struct {
	Enabled bool `json:"enabled"`

	// Path is the database file. Empty means the user cache directory.
	Path string `json:"path"`

	// TTLs maps resolver names or top-level fact groups to a lifetime.
	TTLs map[string]Duration `json:"ttls" validate:"dive,keys,required,endkeys,gt=0"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `json:"level" validate:"oneof=debug info warn error"`
	Format string `json:"format" validate:"oneof=console json"`
}

// TelemetryConfig configures metrics and tracing.
type TelemetryConfig struct {
	MetricsEnabled bool          `json:"metrics_enabled"`
	Tracing        TracingConfig `json:"tracing"`
}

// TracingConfig selects the span exporter.
type TracingConfig struct {
	Exporter string `json:"exporter" validate:"oneof=none stdout otlp"`
	Endpoint string `json:"endpoint" validate:"required_if=Exporter otlp"`
}

// RemoteConfig describes an SSH target.
type RemoteConfig struct {
	Host                  string `json:"host"`
	Port                  int    `json:"port" validate:"min=1,max=65535"`
	User                  string `json:"user"`
	AuthMethod            string `json:"auth_method" validate:"oneof=password key agent"`
	Password              string `json:"password,omitempty"`
	PrivateKeyPath        string `json:"private_key_path"`
	KnownHostsPath        string `json:"known_hosts_path"`
	StrictHostKeyChecking bool   `json:"strict_host_key_checking"`
}

// Enabled reports whether a remote host is configured.
func (r RemoteConfig) Enabled() bool {
	return r.Host != ""
}

// ServerConfig configures the HTTP query API.
type ServerConfig struct {
	Listen          string   `json:"listen" validate:"hostname_port"`
	RefreshInterval Duration `json:"refresh_interval" validate:"gt=0"`
}

// PolicyConfig configures fact assertions.
type PolicyConfig struct {
	// Paths are directories of .rego files evaluated next to the builtin
	// policies.
	Paths []string `json:"paths"`
}

// Duration is a time.Duration written as a Go duration string ("5s").
type Duration time.Duration

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// UnmarshalJSON accepts a duration string.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	return d.UnmarshalText([]byte(s))
}

// ValidationError represents a configuration error with its location.
type ValidationError struct {
	// File is the source file where the error occurred.
	File string `json:"file,omitempty"`

	// Line is the line number where the error occurred.
	Line int `json:"line,omitempty"`

	// Column is the column number where the error occurred.
	Column int `json:"column,omitempty"`

	// Path is the configuration path (e.g., "facts.parallelism").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

// Error implements the error interface.
func (ve ValidationError) Error() string {
	switch {
	case ve.File != "" && ve.Line > 0:
		return fmt.Sprintf("%s:%d:%d: %s", ve.File, ve.Line, ve.Column, ve.Message)
	case ve.Path != "":
		return fmt.Sprintf("%s: %s", ve.Path, ve.Message)
	default:
		return ve.Message
	}
}

// LoadError is returned when a configuration file is invalid. It carries
// every problem found, not only the first.
type LoadError struct {
	Errors []ValidationError
}

func (e *LoadError) Error() string {
	if len(e.Errors) == 1 {
		return "invalid configuration: " + e.Errors[0].Error()
	}
	return fmt.Sprintf("invalid configuration: %s (and %d more)", e.Errors[0].Error(), len(e.Errors)-1)
}
