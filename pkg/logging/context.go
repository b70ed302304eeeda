package logging

import (
	"log/slog"

	"litepage/pkg/primitives"
)

// WithComponent creates a logger with component/subsystem context.
//
// Example:
//
//	log := logging.WithComponent("StreamPool")
//	log.Debug("handle opened", "open", n)
func WithComponent(component string) *slog.Logger {
	return GetLogger().With("component", component)
}

// WithPage creates a logger with page identity context.
// Useful for cache and disk operations.
//
// Example:
//
//	log := logging.WithPage(pos, primitives.Data)
//	log.Debug("page loaded", "hit", false)
func WithPage(pos primitives.Position, mode primitives.FileMode) *slog.Logger {
	return GetLogger().With("position", int64(pos), "mode", mode.String())
}

// WithStream creates a logger for a stream pool bound to one physical file.
func WithStream(name, path string) *slog.Logger {
	return GetLogger().With("component", "StreamPool", "pool", name, "path", path)
}

// WithFacade creates a logger carrying the id of a disk reader or writer.
func WithFacade(kind, id string) *slog.Logger {
	return GetLogger().With("component", kind, "facade", id)
}

// WithError creates a logger with error context.
func WithError(err error) *slog.Logger {
	return GetLogger().With("error", err.Error())
}
