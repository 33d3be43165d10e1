// Package telemetry provides observability instrumentation for the targetd
// workflow engine.
//
// The telemetry package integrates structured logging (zerolog), distributed
// tracing (OpenTelemetry), metrics (Prometheus), and event publishing into a
// unified system for monitoring and debugging the engine's driver, store, and
// executors.
//
// # Architecture
//
// The telemetry system is built on four pillars:
//
//  1. Structured Logging - Context-aware logging with zerolog
//  2. Distributed Tracing - OpenTelemetry traces with multiple exporters
//  3. Metrics Collection - Prometheus metrics for operational insights
//  4. Event Publishing - Async event system for audit and notifications
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "targetd"
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	// Start metrics server
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
// The logger provides component-specific logging with automatic context propagation:
//
//	logger := tel.Logger.NewComponentLogger("driver")
//	logger = logger.WithTargetID("target-123").WithHost("worker-01")
//	logger.Info("stepping target")
//	logger.WithError(err).Error("executor call failed")
//
// Log levels: trace, debug, info, warn, error, fatal
//
// # Distributed Tracing
//
// Tracing provides visibility into batch processing and executor dispatch:
//
//	ctx, span := tel.Tracer.Start(ctx, "operation.name")
//	defer span.End()
//
//	// Add attributes
//	span.SetAttributes(
//	    attribute.String("target.id", targetID),
//	    attribute.String("target.state", "building"),
//	)
//
//	// Record events
//	span.AddEvent("selection.complete")
//
//	// Record errors
//	if err != nil {
//	    telemetry.RecordError(span, err)
//	}
//
// Supported exporters: OTLP (production), Stdout (development), none (testing)
//
// # Metrics
//
// Prometheus metrics track the step driver's behavior:
//
//	// Record a completed batch
//	tel.Metrics.RecordBatch(batchSize, duration)
//
//	// Record a state transition and an attempt
//	tel.Metrics.RecordTransition("successful")
//	tel.Metrics.RecordAttempt()
//
//	// Record an executor dispatch
//	tel.Metrics.RecordExecutorCall("start", duration)
//	tel.Metrics.RecordExecutorError("start", "unix_error")
//
//	// Record errors by class
//	tel.Metrics.RecordError("unix_error")
//
// Metrics are exposed via HTTP at /metrics (default: :9090/metrics)
//
// # Event Publishing
//
// The event system provides async publishing with buffering and filtering:
//
//	// Publish events
//	tel.Events.PublishTargetActivated(targetID, cause)
//	tel.Events.PublishTargetSuccessful(targetID, attempts)
//	tel.Events.PublishOrphanReaped(targetID)
//
//	// Subscribe to events
//	tel.Events.Subscribe(func(event telemetry.Event) {
//	    fmt.Printf("Event: %s - %s\n", event.Type, event.Message)
//	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))
//
// Event filters: FilterByLevel, FilterByType, FilterByTargetID
//
// # Context Helpers
//
// High-level helpers simplify common instrumentation patterns:
//
//	// Instrument an operation
//	ic := telemetry.StartOperation(ctx, "validate_config",
//	    attribute.String("config.path", path))
//	defer ic.End(err)
//
//	ic.Logger.Info("validating configuration")
//
//	// Batch context, one per step driver pass (§4.5)
//	ctx = telemetry.WithBatchContext(ctx, batchSize)
//	defer telemetry.EndBatchContext(ctx, batchSize, err)
//
//	// Target-step context, one per automaton.Step call
//	ctx = telemetry.WithTargetStepContext(ctx, targetID, state)
//	defer telemetry.EndTargetStepContext(ctx, targetID, newState, err)
//
//	// Executor dispatch
//	err := telemetry.RecordExecutorOperation(ctx, host, "start", func() error {
//	    return executor.Start(ctx, target)
//	})
//
// # Configuration
//
// The package provides pre-configured setups for different environments:
//
//	// Development (verbose logging, stdout traces, full sampling)
//	cfg := telemetry.DevelopmentConfig()
//
//	// Production (JSON logs, OTLP traces, 10% sampling)
//	cfg := telemetry.ProductionConfig()
//
//	// Custom configuration
//	cfg := &telemetry.Config{
//	    ServiceName: "targetd",
//	    ServiceVersion: "1.0.0",
//	    Environment: "staging",
//	    Logging: telemetry.LoggingConfig{
//	        Level: "info",
//	        Format: "json",
//	    },
//	    Tracing: telemetry.TracingConfig{
//	        Enabled: true,
//	        Exporter: "otlp",
//	        Endpoint: "otel-collector:4317",
//	        SamplingRate: 0.1,
//	    },
//	    Metrics: telemetry.MetricsConfig{
//	        Enabled: true,
//	        ListenAddress: ":9090",
//	    },
//	}
//
// # Performance Considerations
//
// The telemetry system is designed for minimal overhead:
//
//  - Structured logging uses zerolog's zero-allocation approach
//  - Tracing uses sampling to reduce data volume in production
//  - Metrics use Prometheus's efficient storage format
//  - Events are buffered and batched to reduce I/O
//  - All operations are non-blocking when possible
//
// # Graceful Shutdown
//
// Always shut down telemetry gracefully to flush pending data:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//
//	if err := tel.Shutdown(ctx); err != nil {
//	    log.Printf("telemetry shutdown error: %v", err)
//	}
//
// This ensures:
//  - All buffered events are published
//  - All pending traces are exported
//
// # Integration with the step driver
//
// The driver integrates with telemetry when a non-nil
// *telemetry.Metrics is wired in at construction:
//
//  1. Batches: RecordBatch tracks batch size and wall-clock duration
//  2. Transitions: RecordTransition and RecordAttempt track automaton progress
//  3. Executors: RecordExecutorCall/RecordExecutorError track dispatch latency
//     and failure classification
//  4. Orphan sweep: RecordOrphanReaped tracks reclamation
//
// # Exporters
//
// Tracing supports multiple exporters:
//
//  - "stdout": Print traces to stdout (development)
//  - "otlp": Export via OTLP/gRPC (production, works with collectors)
//  - "none": Generate traces but don't export (testing)
//
// Configure via TracingConfig.Exporter and TracingConfig.Endpoint
//
// # Common Metrics
//
// Key metrics exposed (namespace defaults to "targetd"):
//
//  - targetd_batch_size
//  - targetd_batch_duration_seconds
//  - targetd_state_transitions_total{state}
//  - targetd_attempts_total
//  - targetd_orphans_reaped_total
//  - targetd_executor_calls_total{action}
//  - targetd_executor_call_duration_seconds{action}
//  - targetd_executor_errors_total{action,kind}
//  - targetd_errors_by_class_total{class}
//  - targetd_active_targets
//  - targetd_alive_targets
//
// # Best Practices
//
//  1. Always use context to propagate telemetry
//  2. Use component-specific loggers for clarity
//  3. Add meaningful attributes to spans
//  4. Record both success and failure metrics
//  5. Use appropriate log levels
//  6. Filter events to avoid overwhelming subscribers
//  7. Configure sampling for high-volume systems
//  8. Always call defer span.End() after starting a span
//  9. Shut down gracefully to avoid data loss
//
// # Security Considerations
//
//  - Never log sensitive data (auth tokens, SSH keys)
//  - Use secure connections (TLS) for trace exporters in production
//  - Limit metrics endpoint access via network policies
package telemetry
