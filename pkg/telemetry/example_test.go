package telemetry_test

import (
	"context"
	"fmt"
	"time"

	"github.com/openfroyo/targetd/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceName = "targetd"
	cfg.ServiceVersion = "1.0.0"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	if err := tel.StartMetricsServer(); err != nil {
		panic(err)
	}

	ctx := tel.WithContext(context.Background())

	logger := telemetry.FromContext(ctx)
	logger.Info("engine started")

	// Output can vary, so we don't specify output for this example
}

// Example_structuredLogging demonstrates structured logging features.
func Example_structuredLogging() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Logging.Output = "stdout"

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	logger := tel.Logger.NewComponentLogger("driver")

	logger = logger.WithFields(map[string]interface{}{
		"target_id": "target-123",
		"host":      "worker-01",
	})

	logger.Debug("stepping target")
	logger.Info("target started running")
	logger.Warn("probe returned unix_error, retrying")

	err := fmt.Errorf("connection timeout")
	logger.WithError(err).Error("failed to reach host")

	// Output varies, no output specified
}

// Example_distributedTracing demonstrates distributed tracing usage.
func Example_distributedTracing() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Tracing.Exporter = "stdout"

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	ctx, span := tel.Tracer.Start(ctx, "driver.batch")
	defer span.End()

	span.SetAttributes(
		attribute.String("batch.id", "batch-789"),
		attribute.Int("batch.size", 5),
	)

	span.AddEvent("selection.complete")

	ctx, childSpan := tel.Tracer.Start(ctx, "automaton.step")
	defer childSpan.End()

	childSpan.SetAttributes(
		attribute.String("target.id", "target-456"),
		attribute.String("target.state", "building"),
	)

	time.Sleep(10 * time.Millisecond)

	telemetry.RecordSuccess(childSpan)

	// Output varies, no output specified
}

// Example_metricsCollection demonstrates metrics collection.
func Example_metricsCollection() {
	cfg := telemetry.DefaultConfig()
	cfg.Metrics.Enabled = true

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	tel.Metrics.RecordBatch(12, 25*time.Millisecond)
	tel.Metrics.RecordTransition("successful")
	tel.Metrics.RecordAttempt()
	tel.Metrics.RecordExecutorCall("start", 15*time.Millisecond)
	tel.Metrics.RecordError("unix_error")
	tel.Metrics.SetActiveTargets(10)
	tel.Metrics.SetAliveTargets(15)

	fmt.Println("Metrics recorded successfully")
	// Output: Metrics recorded successfully
}

// Example_eventPublishing demonstrates event publishing and subscription.
func Example_eventPublishing() {
	cfg := telemetry.DefaultConfig()
	cfg.Events.Enabled = true
	cfg.Events.EnableAsync = false

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("Event: %s - %s\n", event.Type, event.Message)
	}, nil)

	tel.Events.PublishTargetActivated("target-123", "user submission")
	tel.Events.PublishTargetSuccessful("target-123", 0)
	tel.Events.PublishOrphanReaped("target-999")

	// Output varies due to async nature, no output specified
}

// Example_batchInstrumentation demonstrates instrumenting a complete driver batch.
func Example_batchInstrumentation() {
	cfg := telemetry.DevelopmentConfig()
	// Keep logs off stdout so only the printed line is output.
	cfg.Logging.Output = "stderr"
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	ctx = telemetry.WithBatchContext(ctx, 4)

	stepTarget(ctx, "target-123")

	telemetry.EndBatchContext(ctx, 4, nil)

	fmt.Println("Batch instrumentation complete")
	// Output: Batch instrumentation complete
}

func stepTarget(ctx context.Context, targetID string) {
	ctx = telemetry.WithTargetStepContext(ctx, targetID, "building")

	logger := telemetry.FromContext(ctx)
	logger.Info("stepping target")

	time.Sleep(10 * time.Millisecond)

	telemetry.EndTargetStepContext(ctx, targetID, "successful", nil)
}

// Example_executorInstrumentation demonstrates instrumenting executor calls.
func Example_executorInstrumentation() {
	cfg := telemetry.DevelopmentConfig()
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	ctx = telemetry.WithExecutorContext(ctx, "worker-01", "start")

	err := telemetry.RecordExecutorOperation(ctx, "worker-01", "start", func() error {
		time.Sleep(15 * time.Millisecond)
		return nil
	})

	if err == nil {
		fmt.Println("Executor operation completed successfully")
	}

	// Output: Executor operation completed successfully
}

// Example_instrumentedOperation demonstrates using the InstrumentedContext helper.
func Example_instrumentedOperation() {
	cfg := telemetry.DevelopmentConfig()
	// Keep logs off stdout so only the printed line is output.
	cfg.Logging.Output = "stderr"
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	ic := telemetry.StartOperation(ctx, "validate_config",
		attribute.String("config.path", "/etc/targetd/config.json"),
	)
	defer ic.End(nil)

	ic.Logger.Info("validating configuration")

	time.Sleep(5 * time.Millisecond)

	ic.Logger.Debug("configuration validation complete")

	fmt.Println("Operation instrumentation complete")
	// Output: Operation instrumentation complete
}

// Example_eventFiltering demonstrates event filtering.
func Example_eventFiltering() {
	cfg := telemetry.DefaultConfig()
	cfg.Events.Enabled = true
	cfg.Events.EnableAsync = false

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("Important event: %s\n", event.Type)
	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))

	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("Orphan event: %s\n", event.Message)
	}, telemetry.FilterByType(telemetry.EventTypeOrphanReaped))

	tel.Events.PublishTargetActivated("target-123", "user") // Info - filtered by level filter
	tel.Events.PublishOrphanReaped("target-1")               // Warning - passes level filter
	tel.Events.PublishTargetDead("target-123", "error")      // Error - passes level filter

	// Output varies, no output specified
}

// Example_productionConfiguration demonstrates production-ready configuration.
func Example_productionConfiguration() {
	cfg := telemetry.ProductionConfig()

	cfg.ServiceName = "targetd"
	cfg.ServiceVersion = "1.2.3"
	cfg.Environment = "production"

	cfg.Tracing.Exporter = "otlp"
	cfg.Tracing.Endpoint = "otel-collector.monitoring.svc.cluster.local:4317"
	cfg.Tracing.SamplingRate = 0.1
	cfg.Tracing.Insecure = false

	cfg.Metrics.ListenAddress = ":9090"
	cfg.Metrics.Namespace = "targetd"

	cfg.Events.BufferSize = 10000
	cfg.Events.FlushInterval = 5 * time.Second

	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	fmt.Println("Production configuration validated")
	// Output: Production configuration validated
}

// Example_errorRecording demonstrates error recording with proper classification.
func Example_errorRecording() {
	cfg := telemetry.DevelopmentConfig()
	// Keep logs off stdout so only the printed line is output.
	cfg.Logging.Output = "stderr"
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	ctx, span := tel.Tracer.Start(ctx, "risky_operation")
	defer span.End()

	err := fmt.Errorf("connection timeout")

	if err != nil {
		telemetry.RecordError(span, err)
		tel.Metrics.RecordError("unix_error")

		logger := telemetry.FromContext(ctx)
		logger.WithError(err).Error("operation failed")
	}

	fmt.Println("Error recording complete")
	// Output: Error recording complete
}

// Example_multipleComponents demonstrates telemetry in a multi-component system.
func Example_multipleComponents() {
	cfg := telemetry.DevelopmentConfig()
	// Keep logs off stdout so only the printed line is output.
	cfg.Logging.Output = "stderr"
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	driverLogger := tel.Logger.NewComponentLogger("driver")
	storeLogger := tel.Logger.NewComponentLogger("store.sqlite")
	executorLogger := tel.Logger.NewComponentLogger("executor.ssh")

	driverLogger.Info("driver initialized")
	storeLogger.Info("store opened")
	executorLogger.Info("ssh pool ready")

	fmt.Println("Multi-component logging complete")
	// Output: Multi-component logging complete
}
