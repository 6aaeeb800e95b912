// Package telemetry wires the OpenTelemetry SDK for knowd.
//
// New installs global tracer and meter providers exporting over OTLP (gRPC
// or HTTP). When disabled, the global no-op providers stay in place and every
// instrumented package keeps working unchanged.
//
//	tel, err := telemetry.New(ctx, telemetry.NewDefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
// NewTestTelemetry records spans in memory for assertions.
package telemetry
