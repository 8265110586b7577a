package demo

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jsamuelsen/scopelog"
	"github.com/jsamuelsen/scopelog/internal/telemetry"
	"github.com/jsamuelsen/scopelog/middleware"
)

// RouterConfig contains everything needed to wire the demo routes.
type RouterConfig struct {
	Logger      *scopelog.Logger
	ServiceName string
	Scope       middleware.Config
}

// SetupRouter configures middleware and routes on the engine. Order
// matters: recovery outermost, then tracing (so span IDs exist when the
// scope opens), then the scope lifecycle.
func SetupRouter(engine *gin.Engine, cfg RouterConfig) {
	engine.Use(
		recovery(cfg.Logger),
		telemetry.Middleware(cfg.ServiceName),
		middleware.RequestScope(cfg.Scope),
	)

	// Operational endpoints; typically excluded from context tracking.
	engine.GET("/-/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/-/metrics", gin.WrapH(promhttp.Handler()))

	orders := NewOrderHandler(NewOrderService())

	apiV1 := engine.Group("/api/v1")
	apiV1.GET("/orders/:id", orders.Get)
}

// AuthEnricher reads identity headers into scope fields. Used as the demo's
// enrichment callback.
func AuthEnricher(logger *scopelog.Logger) middleware.Enricher {
	return func(ctx context.Context, r *http.Request) (scopelog.Fields, error) {
		fields := scopelog.Fields{}

		if subject := r.Header.Get("X-User-ID"); subject != "" {
			fields["user_id"] = subject
		}

		if roles := r.Header.Get("X-User-Roles"); roles != "" {
			fields["roles"] = strings.Split(roles, ",")
		}

		if len(fields) == 0 {
			logger.Verbose(ctx, "no identity headers on request")
		}

		return fields, nil
	}
}
