package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/section6nz/3scale-sync/pkg/engine"
)

// Telemetry provides a unified telemetry interface combining logging,
// tracing, metrics, and events.
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

	// Initialize logger
	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	// Initialize tracer
	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	// Initialize metrics
	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	// Initialize event publisher
	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	ctx = t.Logger.WithContext(ctx)
	return ctx
}

// FromTelemetryContext retrieves the telemetry instance from the context.
// If no telemetry is found, it returns nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown gracefully shuts down all telemetry components.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	// Shutdown in reverse order of initialization
	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}

	if err := t.Tracer.Shutdown(ctx); err != nil {
		return err
	}

	// The metrics server keeps serving until the process exits so the last
	// run's metrics remain scrapeable in watch mode.

	return nil
}

// Flush forces all pending telemetry data to be exported.
func (t *Telemetry) Flush(ctx context.Context) error {
	return t.Tracer.ForceFlush(ctx)
}

// StartMetricsServer starts the metrics HTTP server if metrics are enabled.
func (t *Telemetry) StartMetricsServer() error {
	return t.Metrics.StartMetricsServer()
}

// Context Helpers for common instrumentation patterns

// InstrumentedContext carries telemetry, logger fields, and a trace span
// for one operation.
type InstrumentedContext struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
	Timer  *Timer
}

// StartOperation begins an instrumented operation with logging, tracing,
// and timing.
func StartOperation(ctx context.Context, operation string, attrs ...attribute.KeyValue) *InstrumentedContext {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return &InstrumentedContext{
			Ctx:    ctx,
			Logger: FromContext(ctx),
			Timer:  NewTimer(),
		}
	}

	// Start trace span
	spanCtx, span := tel.Tracer.StartSpan(ctx, operation, attrs...)

	// Create logger with operation field
	logger := tel.Logger.WithField("operation", operation)

	// Add trace context to logger if available
	if span.SpanContext().IsValid() {
		logger = logger.WithFields(map[string]interface{}{
			"trace_id": span.SpanContext().TraceID().String(),
			"span_id":  span.SpanContext().SpanID().String(),
		})
	}

	return &InstrumentedContext{
		Ctx:    spanCtx,
		Span:   span,
		Logger: logger,
		Timer:  NewTimer(),
	}
}

// End finishes the instrumented operation, recording success or failure.
func (ic *InstrumentedContext) End(err error) {
	if ic.Span != nil {
		if err != nil {
			RecordError(ic.Span, err)
		} else {
			RecordSuccess(ic.Span)
		}
		ic.Span.End()
	}
}

// runSpanKey is the context key for run spans.
type runSpanKey struct{}

// runTimerKey is the context key for run timers.
type runTimerKey struct{}

// WithRunContext creates a context enriched with run-level telemetry. The
// run ID is not known until the dispatcher builds the run, so the span is
// tagged with it in EndRunContext.
func WithRunContext(ctx context.Context, trigger string, dryRun bool) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	spanCtx, span := tel.Tracer.StartSpan(ctx, "run.sync",
		AttrDryRun.Bool(dryRun),
		attribute.String("run.trigger", trigger),
		attribute.String("span.kind", "run"),
	)

	logger := tel.Logger.WithField("dry_run", dryRun)
	spanCtx = logger.WithContext(spanCtx)

	tel.Metrics.RecordRunStarted(trigger)

	spanCtx = context.WithValue(spanCtx, runSpanKey{}, span)
	spanCtx = context.WithValue(spanCtx, runTimerKey{}, NewTimer())

	return spanCtx
}

// EndRunContext completes the run context, recording span status and run,
// document and entity metrics from the aggregated result. A nil run counts
// as a failed run that produced no result.
func EndRunContext(ctx context.Context, run *engine.Run, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	status := string(engine.RunStatusFailed)
	var duration time.Duration
	if timer, ok := ctx.Value(runTimerKey{}).(*Timer); ok {
		duration = timer.Duration()
	}
	if run != nil {
		status = string(run.Status)
		duration = run.Duration
	}

	if span, ok := ctx.Value(runSpanKey{}).(trace.Span); ok {
		if run != nil {
			span.SetAttributes(
				AttrRunID.String(run.ID),
				AttrRunStatus.String(status),
			)
		}
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}

	tel.Metrics.RecordRunCompleted(status, duration)
	if run == nil {
		return
	}

	for _, doc := range run.Documents {
		docStatus := "succeeded"
		if !doc.Succeeded() {
			docStatus = "failed"
		}
		tel.Metrics.RecordDocument(doc.Environment, docStatus, doc.Duration)

		for _, e := range doc.Entities {
			tel.Metrics.RecordEntity(string(e.Kind), string(e.Outcome), e.Duration)
			if e.Error != nil {
				tel.Metrics.RecordError(string(e.Error.Class), e.Error.Code)
			}
		}
	}
}

// ObservePolicyResult records governance gate metrics for one evaluation.
func ObservePolicyResult(ctx context.Context, result *engine.PolicyResult) {
	tel := FromTelemetryContext(ctx)
	if tel == nil || result == nil {
		return
	}
	for _, v := range result.Violations {
		tel.Metrics.RecordPolicyViolation(v.Policy, v.Severity)
	}
}

// RecordTenantOperation traces a tenant Admin API operation such as
// "service.create". Request-level metrics come from the client's observer
// hook; this helper adds the span around a logical operation.
func RecordTenantOperation(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return fn(ctx)
	}

	spanCtx, span := tel.Tracer.StartTenantSpan(ctx, operation)
	defer span.End()

	err := fn(spanCtx)
	if err != nil {
		RecordError(span, err)
	} else {
		RecordSuccess(span)
	}
	return err
}
