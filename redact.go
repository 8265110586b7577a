package scopelog

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/m-mizutani/masq"
)

// Value patterns that are always secrets regardless of field name.
var (
	jwtPattern    = regexp.MustCompile(`^eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*$`)
	bearerPattern = regexp.MustCompile(`(?i)^bearer\s+.+$`)
)

// DefaultRedactOptions returns the masq options applied to every handler
// built by this package. Scope fields come from arbitrary enrichment
// callbacks and handler code, so redaction runs on the full record.
func DefaultRedactOptions() []masq.Option {
	return []masq.Option{
		masq.WithFieldName("password"),
		masq.WithFieldName("secret"),
		masq.WithFieldName("token"),
		masq.WithFieldName("api_key"),
		masq.WithFieldName("apiKey"),
		masq.WithFieldName("access_token"),
		masq.WithFieldName("refresh_token"),
		masq.WithFieldName("authorization"),
		masq.WithFieldName("cookie"),
		masq.WithFieldName("session"),
		masq.WithFieldPrefix("secret"),
		masq.WithFieldPrefix("private"),
		masq.WithRegex(jwtPattern),
		masq.WithRegex(bearerPattern),
	}
}

// NewReplaceAttr builds the ReplaceAttr function for slog.HandlerOptions:
// masq secret redaction plus rendering of the custom verbose level name.
func NewReplaceAttr(opts ...masq.Option) func(groups []string, a slog.Attr) slog.Attr {
	redact := masq.New(append(DefaultRedactOptions(), opts...)...)

	return func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.LevelKey && len(groups) == 0 {
			if level, ok := a.Value.Any().(slog.Level); ok && level == LevelVerbose {
				return slog.String(slog.LevelKey, strings.ToUpper(LevelName(level)))
			}
		}

		return redact(groups, a)
	}
}

// redactingHandler runs a ReplaceAttr pipeline in front of handlers that
// cannot run one themselves, such as the pretty console handler.
type redactingHandler struct {
	inner   slog.Handler
	replace func(groups []string, a slog.Attr) slog.Attr
}

// Redacting wraps h so every record attribute passes through the given
// ReplaceAttr function before h sees it.
func Redacting(h slog.Handler, replace func(groups []string, a slog.Attr) slog.Attr) slog.Handler {
	return &redactingHandler{inner: h, replace: replace}
}

func (h *redactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *redactingHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)

	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(h.replace(nil, a))
		return true
	})

	return h.inner.Handle(ctx, out)
}

func (h *redactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	replaced := make([]slog.Attr, 0, len(attrs))
	for _, a := range attrs {
		replaced = append(replaced, h.replace(nil, a))
	}

	return &redactingHandler{inner: h.inner.WithAttrs(replaced), replace: h.replace}
}

func (h *redactingHandler) WithGroup(name string) slog.Handler {
	return &redactingHandler{inner: h.inner.WithGroup(name), replace: h.replace}
}
