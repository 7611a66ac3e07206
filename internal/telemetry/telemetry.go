// Package telemetry wires OpenTelemetry tracing and metrics.
//
// Telemetry is off by default and costs nothing when off.
//
//	NEXUS_OTEL_STDOUT=1   pretty-print spans and metrics to stdout
package telemetry

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationScope = "github.com/lucasnoah/nexus"

// EnvStdout enables the stdout exporters.
const EnvStdout = "NEXUS_OTEL_STDOUT"

// Enabled reports whether the environment asks for telemetry.
func Enabled() bool {
	v := os.Getenv(EnvStdout)
	return v == "1" || v == "true"
}

// Provider owns the tracer, the instruments and the shutdown hooks.
type Provider struct {
	tracer trace.Tracer

	gateRuns      metric.Int64Counter
	gateRollbacks metric.Int64Counter
	checkDuration metric.Float64Histogram
	fixRuns       metric.Int64Counter
	fixDuration   metric.Float64Histogram

	shutdown []func(context.Context) error
}

// Noop returns a provider whose instruments discard everything.
func Noop() *Provider {
	p, _ := newProvider(tracenoop.NewTracerProvider().Tracer(instrumentationScope),
		metricnoop.NewMeterProvider().Meter(instrumentationScope))
	return p
}

// Setup builds a provider. When enabled is false the no-op provider is
// returned. Otherwise spans and metrics are written to w (stdout when nil).
func Setup(ctx context.Context, enabled bool, w io.Writer, version string) (*Provider, error) {
	if !enabled {
		return Noop(), nil
	}
	if w == nil {
		w = os.Stdout
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", "nexus"),
		attribute.String("service.version", version),
	)

	spanExp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithSyncer(spanExp),
	)

	metricExp, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(15*time.Second))),
	)

	p, err := newProvider(tp.Tracer(instrumentationScope), mp.Meter(instrumentationScope))
	if err != nil {
		return nil, err
	}
	p.shutdown = []func(context.Context) error{tp.Shutdown, mp.Shutdown}
	return p, nil
}

func newProvider(tracer trace.Tracer, meter metric.Meter) (*Provider, error) {
	p := &Provider{tracer: tracer}
	var errs []error
	var err error

	p.gateRuns, err = meter.Int64Counter("nexus.gate.runs", metric.WithDescription("Quality gate runs"))
	errs = append(errs, err)
	p.gateRollbacks, err = meter.Int64Counter("nexus.gate.rollbacks", metric.WithDescription("Rollbacks after a failed gate"))
	errs = append(errs, err)
	p.checkDuration, err = meter.Float64Histogram("nexus.gate.check.duration", metric.WithUnit("ms"))
	errs = append(errs, err)
	p.fixRuns, err = meter.Int64Counter("nexus.fix.verifications", metric.WithDescription("Fix verification runs"))
	errs = append(errs, err)
	p.fixDuration, err = meter.Float64Histogram("nexus.fix.duration", metric.WithUnit("s"))
	errs = append(errs, err)

	return p, errors.Join(errs...)
}

// Tracer returns the provider's tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil {
		return tracenoop.NewTracerProvider().Tracer(instrumentationScope)
	}
	return p.tracer
}

// Start opens a span. It is safe on a nil provider.
func (p *Provider) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// GateRun counts one gate verdict.
func (p *Provider) GateRun(ctx context.Context, passed bool) {
	if p == nil || p.gateRuns == nil {
		return
	}
	p.gateRuns.Add(ctx, 1, metric.WithAttributes(attribute.Bool("passed", passed)))
}

// Rollback counts one rollback.
func (p *Provider) Rollback(ctx context.Context, method string) {
	if p == nil || p.gateRollbacks == nil {
		return
	}
	p.gateRollbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
}

// CheckDuration records one check's wall time.
func (p *Provider) CheckDuration(ctx context.Context, kind string, ok bool, ms int) {
	if p == nil || p.checkDuration == nil {
		return
	}
	p.checkDuration.Record(ctx, float64(ms), metric.WithAttributes(
		attribute.String("check", kind),
		attribute.Bool("ok", ok),
	))
}

// FixVerification records one verify_cmd run.
func (p *Provider) FixVerification(ctx context.Context, status string, seconds float64) {
	if p == nil || p.fixRuns == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	p.fixRuns.Add(ctx, 1, attrs)
	p.fixDuration.Record(ctx, seconds, attrs)
}

// Shutdown flushes and stops the exporters.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	for _, fn := range p.shutdown {
		errs = append(errs, fn(ctx))
	}
	p.shutdown = nil
	return errors.Join(errs...)
}
