package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsamuelsen/scopelog"
	"github.com/jsamuelsen/scopelog/scope"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testRig wires a gin router with RequestScope and a JSON log buffer.
type testRig struct {
	router *gin.Engine
	buf    *bytes.Buffer
	mu     sync.Mutex
}

func newTestRig(t *testing.T, cfg Config) *testRig {
	t.Helper()

	rig := &testRig{buf: &bytes.Buffer{}}

	handler := slog.NewJSONHandler(syncWriter{rig}, &slog.HandlerOptions{
		Level:       scopelog.LevelVerbose,
		ReplaceAttr: scopelog.NewReplaceAttr(),
	})

	if cfg.Logger == nil {
		cfg.Logger = scopelog.NewWithHandler("http", handler)
	}

	rig.router = gin.New()
	rig.router.Use(RequestScope(cfg))

	return rig
}

type syncWriter struct{ rig *testRig }

func (w syncWriter) Write(p []byte) (int, error) {
	w.rig.mu.Lock()
	defer w.rig.mu.Unlock()

	return w.rig.buf.Write(p)
}

func (r *testRig) records(t *testing.T) []map[string]any {
	t.Helper()

	r.mu.Lock()
	defer r.mu.Unlock()

	var records []map[string]any

	for _, line := range strings.Split(strings.TrimSpace(r.buf.String()), "\n") {
		if line == "" {
			continue
		}

		var record map[string]any

		require.NoError(t, json.Unmarshal([]byte(line), &record))
		records = append(records, record)
	}

	return records
}

func (r *testRig) do(method, path string, headers map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	r.router.ServeHTTP(w, req)

	return w
}

func TestRequestScope_InboundCorrelationHeader(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t, Config{})
	rig.router.GET("/test", func(c *gin.Context) {
		logger := scopelog.NewWithHandler("handler", slog.NewJSONHandler(syncWriter{rig}, nil))
		logger.Info(c.Request.Context(), "inside handler")
		c.Status(http.StatusOK)
	})

	w := rig.do(http.MethodGet, "/test", map[string]string{HeaderCorrelationID: "abc-123"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "abc-123", w.Header().Get(HeaderCorrelationID))

	// Every record emitted during the request carries the inbound ID.
	records := rig.records(t)
	require.Len(t, records, 2)

	for _, record := range records {
		assert.Equal(t, "abc-123", record["correlation_id"])
	}
}

func TestRequestScope_MalformedCorrelationHeaderRegenerated(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t, Config{})
	rig.router.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := rig.do(http.MethodGet, "/test", map[string]string{HeaderCorrelationID: "has spaces in it"})

	generated := w.Header().Get(HeaderCorrelationID)
	assert.NotEmpty(t, generated)
	assert.NotEqual(t, "has spaces in it", generated)
}

func TestRequestScope_GeneratedIDsDistinctAcrossConcurrentRequests(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t, Config{})
	rig.router.GET("/slow", func(c *gin.Context) {
		time.Sleep(5 * time.Millisecond)
		c.String(http.StatusOK, GetCorrelationID(c))
	})

	const requests = 20

	var wg sync.WaitGroup

	ids := make([]string, requests)

	for i := 0; i < requests; i++ {
		wg.Add(1)

		go func(n int) {
			defer wg.Done()

			w := rig.do(http.MethodGet, "/slow", nil)
			ids[n] = w.Body.String()
		}(i)
	}

	wg.Wait()

	seen := make(map[string]struct{}, requests)
	for _, id := range ids {
		require.NotEmpty(t, id)
		seen[id] = struct{}{}
	}

	assert.Len(t, seen, requests, "generated correlation IDs must be distinct")
}

func TestRequestScope_UpdateContextVisibleInLaterLogs(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t, Config{})
	rig.router.GET("/orders", func(c *gin.Context) {
		scopelog.UpdateContext(c.Request.Context(), scopelog.Fields{"user_id": "u1"})
		c.Status(http.StatusOK)
	})

	rig.do(http.MethodGet, "/orders", nil)

	records := rig.records(t)
	require.Len(t, records, 1)

	// The terminal record carries the handler's scope mutation.
	record := records[0]
	assert.Equal(t, "request completed", record["msg"])
	assert.Equal(t, "u1", record["user_id"])
	assert.NotEmpty(t, record["correlation_id"])
	assert.NotEmpty(t, record["request_id"])
	assert.Contains(t, record, "duration_ms")
}

func TestRequestScope_IsolationBetweenConcurrentRequests(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t, Config{})
	rig.router.GET("/tag/:v", func(c *gin.Context) {
		scopelog.UpdateContext(c.Request.Context(), scopelog.Fields{"tag": c.Param("v")})
		time.Sleep(2 * time.Millisecond)
		c.String(http.StatusOK, scope.Get(c.Request.Context())["tag"].(string))
	})

	var wg sync.WaitGroup

	for i := 0; i < 30; i++ {
		wg.Add(2)

		go func() {
			defer wg.Done()

			w := rig.do(http.MethodGet, "/tag/alpha", nil)
			assert.Equal(t, "alpha", w.Body.String())
		}()

		go func() {
			defer wg.Done()

			w := rig.do(http.MethodGet, "/tag/beta", nil)
			assert.Equal(t, "beta", w.Body.String())
		}()
	}

	wg.Wait()
}

func TestRequestScope_ExcludedPath(t *testing.T) {
	t.Parallel()

	matcher, err := NewExclusionMatcher([]string{"/health"})
	require.NoError(t, err)

	rig := newTestRig(t, Config{Exclude: matcher})

	var sawScope bool

	rig.router.GET("/health", func(c *gin.Context) {
		// UpdateContext outside a scope is a no-op.
		scopelog.UpdateContext(c.Request.Context(), scopelog.Fields{"leak": true})
		sawScope = scope.FromContext(c.Request.Context()) != nil
		c.Status(http.StatusOK)
	})

	w := rig.do(http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, sawScope, "excluded request must not get a scope")
	assert.Empty(t, w.Header().Get(HeaderCorrelationID))
	assert.Empty(t, rig.records(t), "excluded request must not emit lifecycle records")
}

func TestRequestScope_EnrichmentMergedBeforeHandler(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t, Config{
		Enrich: func(ctx context.Context, r *http.Request) (scopelog.Fields, error) {
			return scopelog.Fields{"tenant_id": r.Header.Get("X-Tenant")}, nil
		},
	})

	var handlerSaw any

	rig.router.GET("/test", func(c *gin.Context) {
		handlerSaw = scope.Get(c.Request.Context())["tenant_id"]
		c.Status(http.StatusOK)
	})

	rig.do(http.MethodGet, "/test", map[string]string{"X-Tenant": "t42"})

	assert.Equal(t, "t42", handlerSaw, "enrichment fields must be visible before the handler runs")

	records := rig.records(t)
	require.Len(t, records, 1)
	assert.Equal(t, "t42", records[0]["tenant_id"])
}

func TestRequestScope_EnrichmentFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		enrich  Enricher
		timeout time.Duration
	}{
		{
			name: "enricher returns error",
			enrich: func(context.Context, *http.Request) (scopelog.Fields, error) {
				return scopelog.Fields{"partial": "leak"}, errors.New("directory unavailable")
			},
		},
		{
			name: "enricher panics",
			enrich: func(context.Context, *http.Request) (scopelog.Fields, error) {
				panic("boom")
			},
		},
		{
			name: "enricher times out",
			enrich: func(ctx context.Context, _ *http.Request) (scopelog.Fields, error) {
				<-ctx.Done()
				return scopelog.Fields{"late": true}, nil
			},
			timeout: 10 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rig := newTestRig(t, Config{Enrich: tt.enrich, EnrichTimeout: tt.timeout})
			rig.router.GET("/test", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

			w := rig.do(http.MethodGet, "/test", nil)

			// Request outcome unaffected.
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "ok", w.Body.String())

			records := rig.records(t)
			require.Len(t, records, 2)

			// First record is the warn about the failure.
			assert.Equal(t, "context enrichment failed", records[0]["msg"])
			assert.Equal(t, "WARN", records[0]["level"])
			assert.NotEmpty(t, records[0]["reason"])

			// No partial enrichment fields leak into any record.
			for _, record := range records {
				assert.NotContains(t, record, "partial")
				assert.NotContains(t, record, "late")
			}
		})
	}
}

func TestRequestScope_DurationNonNegativeAndMonotonic(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t, Config{})
	rig.router.GET("/sleep/:d", func(c *gin.Context) {
		d, _ := time.ParseDuration(c.Param("d"))
		time.Sleep(d)
		c.Status(http.StatusOK)
	})

	rig.do(http.MethodGet, "/sleep/1ms", nil)
	rig.do(http.MethodGet, "/sleep/30ms", nil)

	records := rig.records(t)
	require.Len(t, records, 2)

	short, ok := records[0]["duration_ms"].(float64)
	require.True(t, ok)
	long, ok := records[1]["duration_ms"].(float64)
	require.True(t, ok)

	assert.GreaterOrEqual(t, short, float64(0))
	assert.GreaterOrEqual(t, long, float64(30))
	assert.Greater(t, long, short)
}

func TestRequestScope_StatusLevels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		wantLevel string
		wantMsg   string
	}{
		{name: "success", status: http.StatusOK, wantLevel: "INFO", wantMsg: "request completed"},
		{name: "client error", status: http.StatusNotFound, wantLevel: "WARN", wantMsg: "request completed"},
		{name: "server error", status: http.StatusBadGateway, wantLevel: "ERROR", wantMsg: "request failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rig := newTestRig(t, Config{})
			rig.router.GET("/test", func(c *gin.Context) { c.Status(tt.status) })

			rig.do(http.MethodGet, "/test", nil)

			records := rig.records(t)
			require.Len(t, records, 1)
			assert.Equal(t, tt.wantLevel, records[0]["level"])
			assert.Equal(t, tt.wantMsg, records[0]["msg"])
			assert.Equal(t, float64(tt.status), records[0]["status"])
		})
	}
}

func TestRequestScope_FinalizesOnPanic(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t, Config{})

	// Recovery sits outside RequestScope, as in a real router.
	rig.router.Use(func(c *gin.Context) { c.Next() })
	rig.router.GET("/panic", func(c *gin.Context) {
		scopelog.UpdateContext(c.Request.Context(), scopelog.Fields{"step": "before-panic"})
		panic("handler exploded")
	})

	assert.Panics(t, func() {
		rig.do(http.MethodGet, "/panic", nil)
	})

	records := rig.records(t)
	require.Len(t, records, 1)
	assert.Equal(t, "request failed", records[0]["msg"])
	assert.Equal(t, "ERROR", records[0]["level"])
	assert.Equal(t, "before-panic", records[0]["step"])
	assert.Contains(t, records[0], "duration_ms")
}

func TestRequestScope_ScopeAccessors(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t, Config{})

	var fromGin, fromCtx string

	rig.router.GET("/test", func(c *gin.Context) {
		fromGin = GetCorrelationID(c)
		fromCtx = CorrelationIDFromContext(c.Request.Context())
		c.Status(http.StatusOK)
	})

	w := rig.do(http.MethodGet, "/test", map[string]string{HeaderCorrelationID: "corr-1"})

	assert.Equal(t, "corr-1", fromGin)
	assert.Equal(t, "corr-1", fromCtx)
	assert.Equal(t, "corr-1", w.Header().Get(HeaderCorrelationID))
	assert.NotEmpty(t, w.Header().Get(HeaderRequestID))
}

func TestRequestScope_BackgroundWorkSharesScope(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t, Config{})

	done := make(chan map[string]any, 1)

	rig.router.GET("/fire", func(c *gin.Context) {
		ctx := c.Request.Context()

		go func() {
			// Work that outlives the response still reads and writes the
			// same scope.
			scopelog.UpdateContext(ctx, scopelog.Fields{"background": true})
			done <- scope.Get(ctx)
		}()

		c.Status(http.StatusAccepted)
	})

	rig.do(http.MethodGet, "/fire", nil)

	select {
	case fields := <-done:
		assert.Equal(t, true, fields["background"])
		assert.NotEmpty(t, fields["correlation_id"])
	case <-time.After(time.Second):
		t.Fatal("background goroutine never ran")
	}
}
