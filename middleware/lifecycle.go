package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"github.com/jsamuelsen/scopelog"
	"github.com/jsamuelsen/scopelog/scope"
)

// DefaultEnrichTimeout bounds the enrichment callback. Enrichment is best
// effort; a slow callback must never hold up the request.
const DefaultEnrichTimeout = 2 * time.Second

// Enricher adds extra context fields once per request. It receives the raw
// request (path, method, headers, auth state) and returns fields to merge
// into the scope. Errors and panics are logged and otherwise ignored; no
// partial fields are merged on failure.
type Enricher func(ctx context.Context, r *http.Request) (scopelog.Fields, error)

// Config configures the RequestScope middleware.
type Config struct {
	// Logger emits the terminal request records. Defaults to a logger with
	// category "http".
	Logger *scopelog.Logger

	// Enrich is the optional per-request enrichment callback.
	Enrich Enricher

	// EnrichTimeout bounds Enrich. Defaults to DefaultEnrichTimeout.
	EnrichTimeout time.Duration

	// Exclude decides which paths skip context tracking. Nil excludes
	// nothing.
	Exclude *ExclusionMatcher

	// Metrics records lifecycle metrics when set.
	Metrics *Metrics
}

// RequestScope returns middleware that runs the request lifecycle:
//  1. Excluded paths pass straight through, no scope, no logging.
//  2. A scope is opened seeded with correlation_id, request_id and the
//     start timestamp; IDs are echoed on the response headers. If an OTel
//     span is present its trace/span IDs are seeded too.
//  3. The enrichment callback runs, bounded and best effort; its result is
//     merged before the handler starts.
//  4. The handler runs inside the scope and may mutate it via
//     scopelog.UpdateContext.
//  5. Finalization always runs, panics included: duration is merged into
//     the scope and a terminal record carrying the accumulated context is
//     emitted.
//
// Apply after Recovery so panics still produce a response, and before any
// middleware that logs.
func RequestScope(cfg Config) gin.HandlerFunc {
	logger := cfg.Logger
	if logger == nil {
		logger = scopelog.New("http")
	}

	enrichTimeout := cfg.EnrichTimeout
	if enrichTimeout <= 0 {
		enrichTimeout = DefaultEnrichTimeout
	}

	return func(c *gin.Context) {
		if cfg.Exclude.IsExcluded(c.Request.URL.Path) {
			c.Next()
			return
		}

		start := time.Now()

		correlationID := resolveID(c, HeaderCorrelationID)
		requestID := resolveID(c, HeaderRequestID)

		initial := map[string]any{
			FieldCorrelationID: correlationID,
			FieldRequestID:     requestID,
			"start_timestamp":  start.UTC().Format(time.RFC3339Nano),
		}

		// A surrounding span's IDs are log correlation data, not tracing:
		// they are read once and never written back.
		if span := trace.SpanFromContext(c.Request.Context()); span.SpanContext().HasTraceID() {
			initial["trace_id"] = span.SpanContext().TraceID().String()
			initial["span_id"] = span.SpanContext().SpanID().String()
		}

		ctx := scope.Begin(c.Request.Context(), initial)
		c.Request = c.Request.WithContext(ctx)

		c.Set(FieldCorrelationID, correlationID)
		c.Set(FieldRequestID, requestID)
		c.Header(HeaderCorrelationID, correlationID)
		c.Header(HeaderRequestID, requestID)

		if cfg.Enrich != nil {
			fields, err := runEnricher(ctx, cfg.Enrich, enrichTimeout, c.Request)
			if err != nil {
				cfg.Metrics.observeEnrichmentFailure()
				logger.Warn(ctx, "context enrichment failed", scopelog.Fields{
					"reason": err.Error(),
				})
			} else {
				scope.Merge(ctx, fields)
			}
		}

		defer func() {
			recovered := recover()
			finalize(ctx, c, logger, cfg.Metrics, start, recovered != nil)

			if recovered != nil {
				panic(recovered)
			}
		}()

		c.Next()
	}
}

// finalize computes the request duration, merges it into the scope and
// emits the terminal record with the fully accumulated context.
func finalize(ctx context.Context, c *gin.Context, logger *scopelog.Logger, metrics *Metrics, start time.Time, panicked bool) {
	duration := time.Since(start)
	if s := scope.FromContext(ctx); s != nil {
		s.Set("duration_ms", duration.Milliseconds())
	}

	status := c.Writer.Status()
	if panicked {
		status = http.StatusInternalServerError
	}

	metrics.observeRequest(c.Request.Method, status, duration)

	fields := scopelog.Fields{
		"method": c.Request.Method,
		"path":   c.Request.URL.Path,
		"status": status,
	}

	switch {
	case panicked || status >= http.StatusInternalServerError:
		logger.Error(ctx, "request failed", nil, fields)
	case status >= http.StatusBadRequest:
		logger.Warn(ctx, "request completed", fields)
	default:
		logger.Info(ctx, "request completed", fields)
	}
}

type enrichResult struct {
	fields scopelog.Fields
	err    error
}

// runEnricher invokes enrich with a deadline, recovering panics. On timeout
// the callback's eventual result is discarded.
func runEnricher(ctx context.Context, enrich Enricher, timeout time.Duration, r *http.Request) (scopelog.Fields, error) {
	enrichCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultCh := make(chan enrichResult, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				resultCh <- enrichResult{err: fmt.Errorf("enricher panicked: %v", p)}
			}
		}()

		fields, err := enrich(enrichCtx, r)
		resultCh <- enrichResult{fields: fields, err: err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, res.err
		}

		return res.fields, nil
	case <-enrichCtx.Done():
		return nil, fmt.Errorf("enrichment timed out after %s", timeout)
	}
}
