package http

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/knowd/internal/http"

// unmatchedRoute labels requests that hit no registered route, so probes
// for arbitrary paths cannot grow the label set.
const unmatchedRoute = "unmatched"

// HTTPMetrics records OTEL request metrics for the API. Instruments that
// fail to register are left nil and skipped.
type HTTPMetrics struct {
	meter          metric.Meter
	logger         *zap.Logger
	requestsTotal  metric.Int64Counter
	requestDur     metric.Float64Histogram
	responseSize   metric.Int64Histogram
	activeRequests metric.Int64UpDownCounter
}

// NewHTTPMetrics registers the instruments on the global meter provider.
func NewHTTPMetrics(logger *zap.Logger) *HTTPMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &HTTPMetrics{meter: otel.Meter(httpInstrumentationName), logger: logger}
	m.init()
	return m
}

func (m *HTTPMetrics) init() {
	var err error
	warn := func(name string) {
		if err != nil {
			m.logger.Warn("failed to create instrument", zap.String("instrument", name), zap.Error(err))
		}
	}

	m.requestsTotal, err = m.meter.Int64Counter("knowd.http.requests_total",
		metric.WithDescription("API requests by method, route and status class."),
		metric.WithUnit("{request}"))
	warn("knowd.http.requests_total")

	m.requestDur, err = m.meter.Float64Histogram("knowd.http.request_duration_seconds",
		metric.WithDescription("API request latency by method, route and status class. Query latency is bounded by retrieval.query_timeout."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10))
	warn("knowd.http.request_duration_seconds")

	m.responseSize, err = m.meter.Int64Histogram("knowd.http.response_size_bytes",
		metric.WithDescription("API response body size. Query responses grow with max_results and max_context_chars."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(100, 500, 1000, 5000, 10000, 50000, 100000, 500000))
	warn("knowd.http.response_size_bytes")

	m.activeRequests, err = m.meter.Int64UpDownCounter("knowd.http.active_requests",
		metric.WithDescription("API requests in flight."),
		metric.WithUnit("{request}"))
	warn("knowd.http.active_requests")
}

// MetricsMiddleware records one data point per request once the handler
// and the error handler have produced the final status.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			ctx := c.Request().Context()

			if m.activeRequests != nil {
				m.activeRequests.Add(ctx, 1)
				defer m.activeRequests.Add(ctx, -1)
			}

			err := next(c)
			if err != nil {
				// Resolve the status now; the error is already handled.
				c.Error(err)
				err = nil
			}

			res := c.Response()
			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("route", routeLabel(c.Path())),
				attribute.String("status_class", statusClass(res.Status)),
			)
			if m.requestsTotal != nil {
				m.requestsTotal.Add(ctx, 1, attrs)
			}
			if m.requestDur != nil {
				m.requestDur.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			if m.responseSize != nil {
				m.responseSize.Record(ctx, res.Size, attrs)
			}
			return err
		}
	}
}

// routeLabel uses echo's route template (/api/v1/tenants/:tenant), so
// tenant and document ids never become label values.
func routeLabel(path string) string {
	if path == "" {
		return unmatchedRoute
	}
	return path
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}
