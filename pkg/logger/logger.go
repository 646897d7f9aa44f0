package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config describes how the application logger should behave.
type Config struct {
	Level  string
	Format string
	// OutputPaths accepts "stdout", "stderr" or file paths. Files rotate
	// with the same limits as the audit log.
	OutputPaths []string
	Audit       AuditConfig
}

// AuditConfig controls the audit sink. Each transfer request writes exactly
// one audit entry carrying its terminal state.
type AuditConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// ErrInitialized is returned when Init runs more than once.
var ErrInitialized = errors.New("logger already initialised")

type sinks struct {
	app     *slog.Logger
	audit   *slog.Logger
	closers []io.Closer
}

var (
	mu      sync.RWMutex
	current *sinks
)

// sensitiveKeys lists credential names. An attribute is redacted when its key
// equals one of them or ends with it after a separator, so bot_token and
// openai_api_key are masked while total_tokens is not.
var sensitiveKeys = []string{"key", "token", "secret", "password", "authorization"}

// Init configures the process-wide app and audit loggers.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()
	if current != nil {
		return ErrInitialized
	}
	s, err := build(cfg)
	if err != nil {
		return err
	}
	current = s
	return nil
}

func build(cfg Config) (*sinks, error) {
	s := &sinks{}
	rotation := cfg.Audit.withDefaults()

	var writers []io.Writer
	for _, out := range cfg.OutputPaths {
		w, closer, err := openOutput(out, rotation)
		if err != nil {
			s.close()
			return nil, err
		}
		if closer != nil {
			s.closers = append(s.closers, closer)
		}
		writers = append(writers, w)
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level), AddSource: true, ReplaceAttr: redact}
	s.app = slog.New(newHandler(cfg.Format, io.MultiWriter(writers...), opts))
	s.audit = s.app

	if cfg.Audit.Enabled {
		if strings.TrimSpace(cfg.Audit.Path) == "" {
			s.close()
			return nil, errors.New("audit log path cannot be empty when enabled")
		}
		w, err := rotating(cfg.Audit.Path, rotation)
		if err != nil {
			s.close()
			return nil, err
		}
		s.closers = append(s.closers, w)
		// 审计日志固定为 JSON，便于离线检索。
		s.audit = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo, ReplaceAttr: redact}))
	}
	return s, nil
}

func (a AuditConfig) withDefaults() AuditConfig {
	if a.MaxSizeMB <= 0 {
		a.MaxSizeMB = 100
	}
	if a.MaxBackups <= 0 {
		a.MaxBackups = 7
	}
	if a.MaxAgeDays <= 0 {
		a.MaxAgeDays = 30
	}
	return a
}

func newHandler(format string, w io.Writer, opts *slog.HandlerOptions) slog.Handler {
	if strings.EqualFold(format, "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

func openOutput(path string, rotation AuditConfig) (io.Writer, io.Closer, error) {
	switch strings.ToLower(strings.TrimSpace(path)) {
	case "", "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	}
	w, err := rotating(path, rotation)
	if err != nil {
		return nil, nil, err
	}
	return w, w, nil
}

func rotating(path string, rotation AuditConfig) (*lumberjack.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory for %s: %w", path, err)
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    rotation.MaxSizeMB,
		MaxBackups: rotation.MaxBackups,
		MaxAge:     rotation.MaxAgeDays,
	}, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// redact masks attributes whose key names a credential.
func redact(_ []string, attr slog.Attr) slog.Attr {
	if isSensitive(attr.Key) {
		return slog.String(attr.Key, "[REDACTED]")
	}
	return attr
}

func isSensitive(key string) bool {
	key = strings.ToLower(key)
	for _, name := range sensitiveKeys {
		if key == name {
			return true
		}
		for _, sep := range []string{"_", "-", "."} {
			if strings.HasSuffix(key, sep+name) {
				return true
			}
		}
	}
	return false
}

func (s *sinks) close() error {
	var err error
	for _, c := range s.closers {
		err = errors.Join(err, c.Close())
	}
	s.closers = nil
	return err
}

func loaded() *sinks {
	mu.RLock()
	s := current
	mu.RUnlock()
	if s != nil {
		return s
	}
	// 未显式初始化时退回到 stdout JSON。
	_ = Init(Config{})
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// L returns the application logger.
func L() *slog.Logger {
	return loaded().app
}

// Audit returns the audit logger, which is the application logger unless an
// audit file was configured.
func Audit() *slog.Logger {
	return loaded().audit
}

// Sync closes file sinks so rotated writers flush to disk.
func Sync() error {
	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		return nil
	}
	return current.close()
}

// Named returns a child logger tagged with the provided component name.
func Named(name string) *slog.Logger {
	return L().With(slog.String("component", name))
}
