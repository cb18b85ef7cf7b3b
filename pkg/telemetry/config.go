package telemetry

import (
	"fmt"
	"io"
	"time"
)

// Config contains the telemetry configuration for a hostfacts process.
type Config struct {
	// ServiceName identifies the process in traces.
	ServiceName string

	// ServiceVersion is the build version.
	ServiceVersion string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Events  EventsConfig
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	// The LOG_LEVEL environment variable overrides it.
	Level string

	// Format is console or json.
	Format string

	// Output is stdout, stderr or a file path. Ignored when Writer is set.
	Output string

	// Writer replaces Output, mainly in tests.
	Writer io.Writer

	// EnableCaller adds file:line caller information to logs.
	EnableCaller bool

	// TimeFormat specifies the timestamp format (unix, unixms, rfc3339).
	TimeFormat string
}

// TracingConfig configures span export.
type TracingConfig struct {
	// Exporter is none, stdout or otlp.
	Exporter string

	// Endpoint is the OTLP gRPC collector address.
	Endpoint string

	// Insecure disables TLS towards the collector.
	Insecure bool

	// SamplingRate is the trace sampling rate (0.0 to 1.0).
	SamplingRate float64

	// Output receives stdout exporter spans. Defaults to os.Stdout.
	Output io.Writer

	ExportTimeout time.Duration
}

// Enabled reports whether spans are exported at all.
func (c TracingConfig) Enabled() bool {
	return c.Exporter != "" && c.Exporter != ExporterNone
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool

	// Namespace prefixes every metric name.
	Namespace string

	// DurationBuckets are the histogram buckets for resolver and pass
	// durations, in seconds.
	DurationBuckets []float64
}

// EventsConfig configures resolution event publishing.
type EventsConfig struct {
	Enabled bool

	// BufferSize is the number of events kept for Recent.
	BufferSize int
}

// Tracing exporters.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "hostfacts",
		ServiceVersion: "dev",
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stderr",
			TimeFormat: "rfc3339",
		},
		Tracing: TracingConfig{
			Exporter:      ExporterNone,
			Insecure:      true,
			SamplingRate:  1.0,
			ExportTimeout: 10 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:         true,
			Namespace:       "hostfacts",
			DurationBuckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		Events: EventsConfig{
			Enabled:    true,
			BufferSize: 256,
		},
	}
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}

	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log format: %s (must be console or json)", c.Logging.Format)
	}
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return err
	}

	switch c.Tracing.Exporter {
	case "", ExporterNone, ExporterStdout:
	case ExporterOTLP:
		if c.Tracing.Endpoint == "" {
			return fmt.Errorf("tracing endpoint is required for the otlp exporter")
		}
	default:
		return fmt.Errorf("invalid tracing exporter: %s (must be none, stdout or otlp)", c.Tracing.Exporter)
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("sampling rate must be between 0.0 and 1.0, got %f", c.Tracing.SamplingRate)
	}

	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		return fmt.Errorf("event buffer size must be positive when events are enabled")
	}
	return nil
}
