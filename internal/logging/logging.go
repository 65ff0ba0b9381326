// Package logging provides structured logging for alm using Go's slog.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// contextKey is a type for context keys to avoid collisions.
type contextKey string

const (
	issueKeyKey contextKey = "issue"
	labelKey    contextKey = "label"
	cycleIDKey  contextKey = "cycle_id"
)

var (
	defaultLogger *slog.Logger
	loggerMu      sync.RWMutex

	// runFile is the per-run log file opened by Init, if any.
	runFile io.Closer
)

func init() {
	defaultLogger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// Config holds logging configuration.
type Config struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
	Output string `yaml:"output"` // stdout or stderr

	// Dir, when set, receives one debug-level file per daemon run
	// (run-YYYYMMDD-HHMMSS.log) next to the console output.
	Dir string `yaml:"dir"`

	// KeepRuns bounds how many run files are kept in Dir. Zero keeps all.
	KeepRuns int `yaml:"keep_runs"`
}

// DefaultConfig returns sensible defaults for logging.
func DefaultConfig() *Config {
	return &Config{
		Level:    "info",
		Format:   "text",
		Output:   "stdout",
		KeepRuns: 30,
	}
}

// Init initializes the global logger with the given configuration.
func Init(cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	console, err := consoleWriter(cfg.Output)
	if err != nil {
		return err
	}

	handlers := []slog.Handler{newHandler(cfg.Format, console, parseLevel(cfg.Level))}

	var file io.WriteCloser
	if cfg.Dir != "" {
		file, err = openRunFile(cfg.Dir)
		if err != nil {
			return err
		}
		// The run file always captures debug output.
		handlers = append(handlers, newHandler(cfg.Format, file, slog.LevelDebug))
		pruneRunFiles(cfg.Dir, cfg.KeepRuns)
	}

	var handler slog.Handler = handlers[0]
	if len(handlers) > 1 {
		handler = &fanoutHandler{handlers: handlers}
	}

	loggerMu.Lock()
	if runFile != nil {
		_ = runFile.Close()
	}
	runFile = file
	defaultLogger = slog.New(handler)
	loggerMu.Unlock()

	return nil
}

// Close releases the run log file opened by Init.
func Close() error {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if runFile == nil {
		return nil
	}
	err := runFile.Close()
	runFile = nil
	return err
}

// Suppress redirects all logging to io.Discard.
func Suppress() {
	discardLogger := slog.New(slog.NewTextHandler(io.Discard, nil))

	loggerMu.Lock()
	defaultLogger = discardLogger
	loggerMu.Unlock()

	slog.SetDefault(discardLogger)
}

func newHandler(format string, w io.Writer, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// parseLevel converts a string level to slog.Level.
func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func consoleWriter(output string) (io.Writer, error) {
	switch output {
	case "stdout", "":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	default:
		return nil, fmt.Errorf("unsupported log output %q (use stdout, stderr, or logging.dir for files)", output)
	}
}

// Logger returns the global logger.
func Logger() *slog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return defaultLogger
}

// WithComponent returns a logger with a component attribute.
func WithComponent(component string) *slog.Logger {
	return Logger().With(slog.String("component", component))
}

// FromContext decorates base with the issue, label and cycle stored in ctx.
func FromContext(ctx context.Context, base *slog.Logger) *slog.Logger {
	logger := base
	if v, ok := ctx.Value(cycleIDKey).(string); ok {
		logger = logger.With(slog.String("cycle_id", v))
	}
	if v, ok := ctx.Value(issueKeyKey).(string); ok {
		logger = logger.With(slog.String("issue", v))
	}
	if v, ok := ctx.Value(labelKey).(string); ok {
		logger = logger.With(slog.String("label", v))
	}
	return logger
}

// ContextWithCycleID tags ctx with the poll cycle identifier.
func ContextWithCycleID(ctx context.Context, cycleID string) context.Context {
	return context.WithValue(ctx, cycleIDKey, cycleID)
}

// ContextWithIssue tags ctx with the work item being dispatched.
func ContextWithIssue(ctx context.Context, issueKey, label string) context.Context {
	ctx = context.WithValue(ctx, issueKeyKey, issueKey)
	return context.WithValue(ctx, labelKey, label)
}
