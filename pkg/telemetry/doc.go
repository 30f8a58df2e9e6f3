// Package telemetry provides observability instrumentation for 3scale-sync.
//
// The telemetry package integrates structured logging (zerolog), distributed
// tracing (OpenTelemetry), metrics (Prometheus), and run event publishing
// into a unified system for monitoring sync runs.
//
// # Architecture
//
// The telemetry system is built on four pillars:
//
//  1. Structured Logging - Context-aware logging with zerolog
//  2. Distributed Tracing - OpenTelemetry traces with multiple exporters
//  3. Metrics Collection - Prometheus metrics for operational insights
//  4. Event Publishing - Buffered run event delivery for subscribers
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	// Serve /metrics in watch mode
//	if err := tel.StartMetricsServer(); err != nil {
//	    log.Fatal(err)
//	}
//
// Add telemetry to context:
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// The logger provides component-specific logging with automatic context
// propagation:
//
//	logger := tel.Logger.NewComponentLogger("reconciler")
//	logger = logger.WithRunID("run-123").WithSource("configs/petstore.yml")
//	logger.Info("Reconciling document")
//	logger.WithError(err).Error("Backend creation failed")
//
// Log levels: trace, debug, info, warn, error, fatal. Packages that take a
// zerolog.Logger directly receive it from Logger.Zerolog().
//
// # Distributed Tracing
//
// Tracing covers the run, its documents and each entity step:
//
//	ctx, span := tel.Tracer.StartDocumentSpan(ctx, source, env, product)
//	defer span.End()
//
//	span.SetAttributes(
//	    telemetry.AttrEntityKind.String("backend"),
//	    telemetry.AttrEntityKey.String("petstore"),
//	)
//
//	if err != nil {
//	    telemetry.RecordError(span, err)
//	}
//
// Supported exporters: OTLP/gRPC (production), Stdout (development), None
// (generate but do not export).
//
// # Metrics
//
// Prometheus metrics track run outcomes and tenant Admin API traffic:
//
//	tel.Metrics.RecordRunStarted("cli")
//	tel.Metrics.RecordRunCompleted("succeeded", duration)
//	tel.Metrics.RecordDocument("dev", "succeeded", duration)
//	tel.Metrics.RecordEntity("backend", "created", duration)
//	tel.Metrics.RecordError("transient", "REMOTE_UNAVAILABLE")
//
// The threescale client reports per-request metrics through its observer
// hook:
//
//	clientCfg.Observer = tel.Metrics.TenantRequestObserver()
//
// Key metrics exposed (namespace threescale_sync):
//
//   - threescale_sync_runs_started_total{trigger}
//   - threescale_sync_runs_completed_total{status}
//   - threescale_sync_run_duration_seconds{status}
//   - threescale_sync_documents_reconciled_total{environment,status}
//   - threescale_sync_entity_outcomes_total{kind,outcome}
//   - threescale_sync_tenant_requests_total{method,status}
//   - threescale_sync_tenant_request_duration_seconds{method}
//   - threescale_sync_errors_by_class_total{class}
//   - threescale_sync_policy_violations_total{policy,severity}
//   - threescale_sync_active_runs
//   - threescale_sync_watch_reloads_total{trigger}
//
// Metrics are exposed via HTTP at /metrics (default: :9090/metrics) when
// enabled; watch mode serves them for the lifetime of the process.
//
// # Event Publishing
//
// The publisher delivers the engine's run events with buffering and
// filtering; it satisfies the engine's EventPublisher interface and plugs
// straight into the dispatcher:
//
//	events := tel.Events
//	events.Subscribe(telemetry.LogSubscriber(tel.Logger), nil)
//	events.Subscribe(func(event *engine.Event) {
//	    fmt.Printf("%s: %s\n", event.Type, event.Message)
//	}, telemetry.FilterByLevel("warning"))
//
//	dispatcher := engine.NewDispatcher(4, reconciler, events, recorder, zlog)
//
// Event filters: FilterByLevel, FilterByType, FilterByRunID, FilterBySource.
// Subscribers run on the delivery goroutine and must not block.
//
// # Run Instrumentation
//
// High-level helpers wrap a full run:
//
//	ctx = telemetry.WithRunContext(ctx, "cli", dryRun)
//	run, err := dispatcher.Run(ctx, batch, opts)
//	telemetry.EndRunContext(ctx, run, err)
//
// EndRunContext closes the run span and derives document and entity metrics
// from the aggregated result, so the engine itself stays metrics-free.
//
// # Configuration
//
// The package provides pre-configured setups for different environments:
//
//	// Development (verbose logging, stdout traces, full sampling)
//	cfg := telemetry.DevelopmentConfig()
//
//	// Production (JSON logs, OTLP traces, 10% sampling, metrics on)
//	cfg := telemetry.ProductionConfig()
//
// Tracing and metrics are disabled in the default configuration; a one-shot
// CLI invocation should not open listen sockets unless asked to.
//
// # Graceful Shutdown
//
// Always shut down telemetry to flush pending events and spans:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//
//	if err := tel.Shutdown(ctx); err != nil {
//	    log.Printf("telemetry shutdown error: %v", err)
//	}
//
// # Security Considerations
//
//   - Access tokens and client secrets are never logged or attached to spans
//   - Use TLS for the OTLP exporter in production (Insecure: false)
//   - Limit metrics endpoint access via network policies
package telemetry
