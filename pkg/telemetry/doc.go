// Package telemetry provides the observability stack of hostfacts.
//
// It combines structured logging (zerolog), tracing (OpenTelemetry),
// metrics (Prometheus) and resolution events behind one Telemetry value:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	sched := engine.NewScheduler(reg, tel.SchedulerOptions()...)
//
// # Metrics
//
// The scheduler reports through Observer, which maintains:
//
//	hostfacts_resolver_runs_total{resolver,outcome}
//	hostfacts_resolver_duration_seconds{resolver}
//	hostfacts_probe_failures_total{probe}
//	hostfacts_passes_total{status}
//	hostfacts_pass_duration_seconds
//	hostfacts_facts_resolved
//	hostfacts_http_requests_total{route,code}
//
// Metrics.Handler serves them in the Prometheus exposition format.
//
// # Tracing
//
// Each pass produces a resolve.pass span with one resolve.resolver child per
// executed resolver. Spans are exported to stdout or an OTLP gRPC collector;
// the none exporter disables recording entirely.
//
// # Events
//
// Every pass publishes pass.started, one resolver.completed,
// resolver.skipped or resolver.failed event per resolver, and
// pass.completed. Subscribers run synchronously on the publishing
// goroutine.
package telemetry
