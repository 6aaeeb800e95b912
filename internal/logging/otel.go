package logging

import (
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap/zapcore"
)

// instrumentationScope names the OTEL logger knowd records bridge through.
const instrumentationScope = "github.com/fyrsmithlabs/knowd"

// newCore tees the console stream and the OTEL log bridge, then applies
// sampling. otelProvider may be nil, in which case the bridge is skipped
// even when configured.
func newCore(cfg *Config, otelProvider log.LoggerProvider) (zapcore.Core, error) {
	var cores []zapcore.Core

	if w := cfg.Output.writer(); w != nil {
		encoder, err := NewRedactingEncoder(newEncoder(cfg.Format), cfg.Redaction)
		if err != nil {
			return nil, fmt.Errorf("failed to create redacting encoder: %w", err)
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(w), cfg.Level))
	}
	if cfg.Output.OTEL && otelProvider != nil {
		cores = append(cores, otelzap.NewCore(instrumentationScope, otelzap.WithLoggerProvider(otelProvider)))
	}

	switch len(cores) {
	case 0:
		return nil, fmt.Errorf("no log output available: enable stdout or stderr, or pass an OTEL logger provider")
	case 1:
		return newSampledCore(cores[0], cfg.Sampling), nil
	default:
		return newSampledCore(zapcore.NewTee(cores...), cfg.Sampling), nil
	}
}

// writer picks the console stream. Stderr wins when both are set so that
// client commands keep stdout for their own output.
func (o OutputConfig) writer() io.Writer {
	switch {
	case o.Stderr:
		return os.Stderr
	case o.Stdout:
		return os.Stdout
	default:
		return nil
	}
}
