// Package scopelog provides context-aware structured logging: every record
// automatically carries the fields accumulated in the request's scope (see
// the scope package), merged with call-site bindings and the logger's
// category label.
package scopelog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/jsamuelsen/scopelog/scope"
)

// Fields is a set of key/value bindings attached to a log record or merged
// into the request scope. Values must be JSON-serializable.
type Fields map[string]any

var (
	defaultMu      sync.RWMutex
	defaultHandler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		ReplaceAttr: NewReplaceAttr(),
	})
)

// SetDefault replaces the handler used by loggers created with New.
func SetDefault(h slog.Handler) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	defaultHandler = h
}

// Default returns the current default handler.
func Default() slog.Handler {
	defaultMu.RLock()
	defer defaultMu.RUnlock()

	return defaultHandler
}

// Logger emits structured records tagged with a static category label,
// typically the originating component name. Loggers are cheap; create one
// per component.
type Logger struct {
	category string
	handler  slog.Handler
}

// New creates a logger bound to the package default handler. The handler is
// resolved per call, so New may run before Init.
func New(category string) *Logger {
	return &Logger{category: category}
}

// NewWithHandler creates a logger writing to a specific handler, bypassing
// the package default. Mainly useful in tests.
func NewWithHandler(category string, h slog.Handler) *Logger {
	return &Logger{category: category, handler: h}
}

// Verbose logs at verbose level (below debug).
func (l *Logger) Verbose(ctx context.Context, msg string, bindings ...Fields) {
	l.emit(ctx, LevelVerbose, msg, nil, bindings)
}

// Debug logs at debug level.
func (l *Logger) Debug(ctx context.Context, msg string, bindings ...Fields) {
	l.emit(ctx, slog.LevelDebug, msg, nil, bindings)
}

// Info logs at info level.
func (l *Logger) Info(ctx context.Context, msg string, bindings ...Fields) {
	l.emit(ctx, slog.LevelInfo, msg, nil, bindings)
}

// Warn logs at warn level.
func (l *Logger) Warn(ctx context.Context, msg string, bindings ...Fields) {
	l.emit(ctx, slog.LevelWarn, msg, nil, bindings)
}

// Error logs at error level. A non-nil err is normalized into the record's
// "error" and "error_type" fields; nil is tolerated.
func (l *Logger) Error(ctx context.Context, msg string, err error, bindings ...Fields) {
	l.emit(ctx, slog.LevelError, msg, err, bindings)
}

// Log emits a record at info level. Kept for call sites ported from
// loggers that expose a plain log method alongside the leveled ones.
func (l *Logger) Log(ctx context.Context, msg string, bindings ...Fields) {
	l.emit(ctx, slog.LevelInfo, msg, nil, bindings)
}

// UpdateContext merges partial into the current request scope. Identical to
// the package-level UpdateContext; provided on the logger for call sites
// that already hold one.
func (l *Logger) UpdateContext(ctx context.Context, partial Fields) {
	scope.Merge(ctx, partial)
}

// UpdateContext merges partial into the current request scope. Outside any
// scope it is a no-op.
func UpdateContext(ctx context.Context, partial Fields) {
	scope.Merge(ctx, partial)
}

// emit builds one flat record: scope fields, then call-site bindings (which
// win on key conflict), then error normalization and the category label.
// Sink write failures are dropped; logging never disturbs business logic.
func (l *Logger) emit(ctx context.Context, level slog.Level, msg string, err error, bindings []Fields) {
	if ctx == nil {
		ctx = context.Background()
	}

	h := l.handler
	if h == nil {
		h = Default()
	}

	if !h.Enabled(ctx, level) {
		return
	}

	merged := scope.Get(ctx)
	for _, b := range bindings {
		for k, v := range b {
			merged[k] = v
		}
	}

	if err != nil {
		merged["error"] = err.Error()
		merged["error_type"] = fmt.Sprintf("%T", err)
	}

	if l.category != "" {
		merged["category"] = l.category
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	record := slog.NewRecord(time.Now(), level, msg, 0)
	for _, k := range keys {
		record.AddAttrs(slog.Any(k, merged[k]))
	}

	_ = h.Handle(ctx, record)
}
