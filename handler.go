package scopelog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	charmlog "github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds sink configuration, consumed once at startup.
type Config struct {
	Level   string // verbose, debug, info, warn, error
	Format  string // json, text, pretty
	Service string // service name stamped on every record
	Version string // service version stamped on every record
	File    FileConfig
}

// FileConfig enables an additional rotating JSON file sink.
type FileConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Init validates cfg, builds the sink and installs it as the package
// default. Invalid configuration is fatal; call this before serving.
func Init(cfg Config) error {
	handler, err := NewHandler(cfg, os.Stdout)
	if err != nil {
		return err
	}

	SetDefault(handler)

	return nil
}

// NewHandler builds the slog.Handler described by cfg, writing console
// output to w. With file output enabled, records fan out to both sinks.
func NewHandler(cfg Config, w io.Writer) (slog.Handler, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log config: %w", err)
	}

	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: NewReplaceAttr(),
	}

	var console slog.Handler

	switch strings.ToLower(cfg.Format) {
	case "pretty":
		// The charm handler has no ReplaceAttr hook, so redaction is
		// applied in front of it.
		console = Redacting(charmlog.NewWithOptions(w, charmlog.Options{
			ReportTimestamp: true,
			Level:           charmlog.Level(level),
		}), opts.ReplaceAttr)
	case "text":
		console = slog.NewTextHandler(w, opts)
	case "", "json":
		console = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("log config: unknown format %q (want json, text or pretty)", cfg.Format)
	}

	handler := console

	if cfg.File.Enabled {
		fileWriter := &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSizeMB,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAgeDays,
			Compress:   cfg.File.Compress,
		}
		handler = Fanout(console, slog.NewJSONHandler(fileWriter, opts))
	}

	if cfg.Service != "" || cfg.Version != "" {
		attrs := make([]slog.Attr, 0, 2)
		if cfg.Service != "" {
			attrs = append(attrs, slog.String("service_name", cfg.Service))
		}

		if cfg.Version != "" {
			attrs = append(attrs, slog.String("service_version", cfg.Version))
		}

		handler = handler.WithAttrs(attrs)
	}

	return handler, nil
}
