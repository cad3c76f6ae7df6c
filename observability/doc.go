// Package observability provides OpenTelemetry metrics for the
// resilience pipeline and health aggregation types.
//
// Metrics:
//
//	mc := observability.DefaultMeterConfig("my-service")
//	mp, err := observability.InitMeter(ctx, &mc)
//	defer mp.Shutdown(ctx)
//
//	metrics, err := observability.NewMetrics(observability.Meter("my-service"))
//	metrics.RecordFault(ctx, "NETWORK", "medium")
//
// Health:
//
//	health := observability.NewServiceHealth("my-service", "1.0.0")
//	health.AddComponent(observability.Health{Name: "queue", Status: observability.HealthStatusUp})
package observability
