package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	dberror "litepage/pkg/error"
)

// LogLevel names a slog level. Matching is case-insensitive.
type LogLevel string

const (
	LevelDebug LogLevel = "DEBUG"
	LevelInfo  LogLevel = "INFO"
	LevelWarn  LogLevel = "WARN"
	LevelError LogLevel = "ERROR"
)

func (l LogLevel) slog() slog.Level {
	switch LogLevel(strings.ToUpper(string(l))) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Format selects the record encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Config describes where the storage core logs and how much.
type Config struct {
	// Level is the minimum level written. Empty means INFO.
	Level LogLevel

	// Format defaults to FormatText.
	Format Format

	// Path appends records to a file, creating its directory. Writer wins
	// when both are set; with neither, records go to stderr.
	Path string

	Writer io.Writer

	// AddSource records the file and line of each call site.
	AddSource bool
}

// quiet is what the core logs with until Init is called: its hot paths
// only log at DEBUG, so WARN keeps an embedding program's stderr clean.
var quiet = Config{Level: LevelWarn}

var global struct {
	mu     sync.RWMutex
	logger *slog.Logger
	file   *os.File
	set    bool
}

// Init installs the process-wide logger. It fails if a logger is already
// installed; Close first to replace it.
func Init(cfg Config) error {
	global.mu.Lock()
	defer global.mu.Unlock()

	if global.set {
		return dberror.New(dberror.ErrCategoryUser, dberror.CodeInvalidConfig, "logger already initialized").
			WithOp("Init", "Logging")
	}
	return install(cfg)
}

// install must be called with global.mu held.
func install(cfg Config) error {
	w := cfg.Writer
	if w == nil && cfg.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
			return dberror.Wrap(err, dberror.CodeIOFailure, "Init", "Logging")
		}
		f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return dberror.Wrap(err, dberror.CodeIOFailure, "Init", "Logging")
		}
		global.file = f
		w = f
	}
	if w == nil {
		w = os.Stderr
	}

	global.logger = slog.New(newHandler(w, cfg))
	global.set = true
	return nil
}

func newHandler(w io.Writer, cfg Config) slog.Handler {
	opts := &slog.HandlerOptions{Level: cfg.Level.slog(), AddSource: cfg.AddSource}
	if Format(strings.ToLower(string(cfg.Format))) == FormatJSON {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// InitDefault installs the quiet default logger (WARN, text, stderr) unless
// one is already installed.
func InitDefault() {
	global.mu.Lock()
	defer global.mu.Unlock()
	ensureInstalled()
}

// ensureInstalled must be called with global.mu held. Installing the
// quiet config cannot fail since it opens no file.
func ensureInstalled() *slog.Logger {
	if !global.set {
		_ = install(quiet)
	}
	return global.logger
}

// Close drops the installed logger and closes its log file, if any. The
// next GetLogger falls back to the default again. Safe to call repeatedly.
func Close() error {
	global.mu.Lock()
	defer global.mu.Unlock()

	var err error
	if global.file != nil {
		err = global.file.Close()
		global.file = nil
	}
	global.logger = nil
	global.set = false
	return err
}

// GetLogger returns the installed logger, installing the default on first
// use.
func GetLogger() *slog.Logger {
	global.mu.RLock()
	l := global.logger
	global.mu.RUnlock()
	if l != nil {
		return l
	}

	global.mu.Lock()
	defer global.mu.Unlock()
	return ensureInstalled()
}

func Debug(msg string, args ...any) { GetLogger().Debug(msg, args...) }

func Info(msg string, args ...any) { GetLogger().Info(msg, args...) }

func Warn(msg string, args ...any) { GetLogger().Warn(msg, args...) }

func Error(msg string, args ...any) { GetLogger().Error(msg, args...) }
