// Package telemetry sets up OpenTelemetry tracing and metrics for storyforge.
//
// # Overview
//
// Spans are opened by the orchestrator (one per task) and the dispatcher
// (one per file). When telemetry is enabled they are exported over OTLP,
// gRPC by default or HTTP/protobuf on request. When it is disabled the
// global no-op providers stay in place and instrumentation costs nothing.
//
// # Usage
//
//	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry, version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
// # Configuration
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  protocol: "grpc"
//	  service_name: "storyforge"
//	  sample_rate: 1.0
//
// # Error Handling
//
// Exporter failures never stop a run. The instance degrades to no-op
// providers and reports the reason through Health.
//
// # Testing
//
// SpanCapture records spans in memory:
//
//	capture := telemetry.NewSpanCapture()
//	restore := capture.Install()
//	defer restore()
//	// run instrumented code
//	spans := capture.Named("dispatch.file")
package telemetry
