package telemetry

import (
	"context"
	"errors"

	"github.com/openfroyo/hostfacts/pkg/engine"
)

// Telemetry bundles the logger, tracer, metrics and event publisher of one
// process.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  NewEventPublisher(cfg.Events),
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance and its logger to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext retrieves the telemetry instance from the context,
// or nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown flushes and stops the tracer.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.Tracer.Shutdown(ctx)
}

// Observer returns an engine.Observer feeding this telemetry instance.
func (t *Telemetry) Observer() *Observer {
	return &Observer{logger: t.Logger, metrics: t.Metrics, events: t.Events}
}

// SchedulerOptions returns the scheduler options wiring this telemetry
// instance into a pass.
func (t *Telemetry) SchedulerOptions() []engine.Option {
	return []engine.Option{
		engine.WithLogger(t.Logger.NewComponentLogger("engine").Zerolog()),
		engine.WithObserver(t.Observer()),
		engine.WithTracer(t.Tracer.Tracer()),
	}
}

// Observer records pass outcomes as metrics and events.
type Observer struct {
	logger  *Logger
	metrics *Metrics
	events  *EventPublisher
}

// NewObserver creates an observer. Any argument may be nil.
func NewObserver(logger *Logger, metrics *Metrics, events *EventPublisher) *Observer {
	if logger == nil {
		logger = Discard
	}
	if metrics == nil {
		metrics = &Metrics{}
	}
	if events == nil {
		events = NewEventPublisher(EventsConfig{})
	}
	return &Observer{logger: logger, metrics: metrics, events: events}
}

var _ engine.Observer = (*Observer)(nil)

func (o *Observer) PassStarted(_ context.Context, passID string) {
	o.events.PublishPassStarted(passID)
}

func (o *Observer) ResolverFinished(_ context.Context, passID string, outcome engine.Outcome) {
	o.metrics.RecordResolver(outcome.Resolver, string(outcome.Status), outcome.Duration)
	o.events.PublishResolver(passID, outcome.Resolver, string(outcome.Status), outcome.Reason, outcome.Duration)
}

func (o *Observer) ProbeFailed(_ context.Context, _, probe string, _ error) {
	o.metrics.RecordProbeFailure(probe)
}

func (o *Observer) PassFinished(_ context.Context, result *engine.Result, err error) {
	status := PassStatus(err)
	factCount := 0
	if result.Tree != nil {
		factCount = result.Tree.Len()
	}

	o.metrics.RecordPass(status, result.Duration, factCount)
	o.events.PublishPassCompleted(result.ID, status, factCount, result.Duration)

	o.logger.WithPassID(result.ID).zlog.Info().
		Str("status", status).
		Int("facts", factCount).
		Int("failed", result.Count(engine.StatusFailed)).
		Dur("duration", result.Duration).
		Msg("Resolution pass finished")
}

// PassStatus names the end state of a pass for metrics and events.
func PassStatus(err error) string {
	switch {
	case err == nil:
		return "completed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "failed"
	}
}
