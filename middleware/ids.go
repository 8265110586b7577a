package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jsamuelsen/scopelog/scope"
)

const (
	// HeaderCorrelationID carries the cross-service transaction identifier.
	// Unlike the request ID (fresh per request), it is propagated unchanged
	// across service boundaries.
	HeaderCorrelationID = "X-Correlation-ID"

	// HeaderRequestID carries the per-request identifier.
	HeaderRequestID = "X-Request-ID"

	// FieldCorrelationID is the scope/log field name for the correlation ID.
	FieldCorrelationID = "correlation_id"

	// FieldRequestID is the scope/log field name for the request ID.
	FieldRequestID = "request_id"
)

// maxInboundIDLength bounds accepted inbound identifiers; anything longer
// is treated as malformed and regenerated.
const maxInboundIDLength = 128

// resolveID returns the inbound header value when well-formed, otherwise a
// freshly generated UUID.
func resolveID(c *gin.Context, header string) string {
	if id := c.GetHeader(header); wellFormedID(id) {
		return id
	}

	return uuid.New().String()
}

// wellFormedID accepts non-empty printable ASCII without spaces, capped at
// maxInboundIDLength.
func wellFormedID(id string) bool {
	if id == "" || len(id) > maxInboundIDLength {
		return false
	}

	for i := 0; i < len(id); i++ {
		if id[i] <= ' ' || id[i] > '~' {
			return false
		}
	}

	return true
}

// GetCorrelationID extracts the correlation ID from the gin.Context.
// Returns empty string if the request was excluded from context tracking.
func GetCorrelationID(c *gin.Context) string {
	return getStringFromGin(c, FieldCorrelationID)
}

// GetRequestID extracts the request ID from the gin.Context.
func GetRequestID(c *gin.Context) string {
	return getStringFromGin(c, FieldRequestID)
}

// CorrelationIDFromContext extracts the correlation ID from the request
// scope. Used by client code to propagate the ID to downstream services.
func CorrelationIDFromContext(ctx context.Context) string {
	return getStringFromScope(ctx, FieldCorrelationID)
}

// RequestIDFromContext extracts the request ID from the request scope.
func RequestIDFromContext(ctx context.Context) string {
	return getStringFromScope(ctx, FieldRequestID)
}

func getStringFromGin(c *gin.Context, key string) string {
	if v, exists := c.Get(key); exists {
		if s, ok := v.(string); ok {
			return s
		}
	}

	return ""
}

func getStringFromScope(ctx context.Context, key string) string {
	if v, ok := scope.Value(ctx, key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}

	return ""
}
