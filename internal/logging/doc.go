// Package logging provides structured logging with OpenTelemetry integration.
//
// Logger wraps Zap with:
//   - a Trace level (-2, below Debug)
//   - stdout or stderr output, plus the OpenTelemetry log bridge
//   - automatic correlation fields (trace_id, tenant.id, domain, request.id)
//   - encoder-level secret redaction
//   - per-level sampling (Warn and above are never sampled)
//   - Fingerprint, for logging customer text without its content
//
// Usage:
//
//	cfg, _ := logging.FromSettings("info", "json", false)
//	logger, err := logging.NewLogger(cfg, nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithTenantID(ctx, "acme")
//	ctx = logging.WithDomain(ctx, "insurance")
//	logger.Info(ctx, "query served", zap.Int("documents", 4))
//
// The embedding and HTTP metrics take the underlying *zap.Logger via
// Underlying(); everything else takes *Logger.
//
// Use NewTestLogger in tests to assert on emitted entries.
package logging
