package telemetry

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/jsamuelsen/scopelog/internal/telemetry"

// Middleware returns Gin middleware for OpenTelemetry tracing. It wraps
// otelgin, tracks in-flight requests and echoes the trace ID on the
// X-Trace-ID response header. Apply before the scope middleware so span IDs
// are available when the scope opens.
func Middleware(serviceName string) gin.HandlerFunc {
	meter := otel.Meter(instrumentationName)

	activeRequests, err := meter.Int64UpDownCounter(
		"http.server.active_requests",
		metric.WithDescription("Number of active HTTP requests"),
	)
	if err != nil {
		otel.Handle(err)
	}

	traced := otelgin.Middleware(serviceName)

	return func(c *gin.Context) {
		if activeRequests != nil {
			attrs := metric.WithAttributes(
				attribute.String("http.method", c.Request.Method),
				attribute.String("http.route", c.FullPath()),
			)

			activeRequests.Add(c.Request.Context(), 1, attrs)
			defer activeRequests.Add(c.Request.Context(), -1, attrs)
		}

		traced(c)

		if span := trace.SpanFromContext(c.Request.Context()); span.SpanContext().HasTraceID() {
			c.Header("X-Trace-ID", span.SpanContext().TraceID().String())
		}
	}
}
