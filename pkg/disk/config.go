package disk

import (
	"time"

	dberror "litepage/pkg/error"
	"litepage/pkg/primitives"
	"litepage/pkg/storage/stream"
)

// DefaultCloseTimeout bounds the final flush when Config.CloseTimeout is zero.
const DefaultCloseTimeout = 10 * time.Second

// Config holds everything needed to open the page files.
type Config struct {
	// DataPath is the main data file. It is created unless ReadOnly is set.
	DataPath string

	// LogPath is the write-ahead log file. Defaults to DataPath + "-log".
	LogPath string

	// PageSize is shared by both files and the cache.
	PageSize int

	// CacheSize is the soft limit of resident pages in memory.
	CacheSize int

	// MaxStreams bounds the open handles per file.
	MaxStreams int

	// RentPolicy and RentTimeout apply when MaxStreams handles are rented.
	RentPolicy  stream.Policy
	RentTimeout time.Duration

	// CloseTimeout bounds how long Close waits for streams to flush dirty
	// pages. Zero means DefaultCloseTimeout.
	CloseTimeout time.Duration

	// Password enables AES encryption when set.
	Password string

	// ReadOnly opens existing files without write access.
	ReadOnly bool
}

// DefaultConfig returns a configuration for the data file at dataPath.
func DefaultConfig(dataPath string) Config {
	return Config{
		DataPath:     dataPath,
		LogPath:      dataPath + "-log",
		PageSize:     8192,
		CacheSize:    1000,
		MaxStreams:   16,
		RentPolicy:   stream.Block,
		CloseTimeout: DefaultCloseTimeout,
	}
}

// Validate checks the configuration and fills LogPath and CloseTimeout when
// empty.
func (c *Config) Validate() error {
	invalid := func(message, format string, args ...any) error {
		return dberror.Newf(dberror.ErrCategoryUser, dberror.CodeInvalidConfig, message, format, args...).
			WithOp("Validate", "Config")
	}

	if c.DataPath == "" {
		return invalid("data path is required", "")
	}
	if c.LogPath == "" {
		c.LogPath = c.DataPath + "-log"
	}
	if c.LogPath == c.DataPath {
		return invalid("data and log must be different files", "%s", c.DataPath)
	}
	if err := primitives.ValidatePageSize(c.PageSize); err != nil {
		return invalid("invalid page size", "%v", err)
	}
	if c.CacheSize <= 0 {
		return invalid("cache size must be positive", "got %d", c.CacheSize)
	}
	if c.MaxStreams <= 0 {
		return invalid("max streams must be positive", "got %d", c.MaxStreams)
	}
	if c.RentPolicy != stream.Block && c.RentPolicy != stream.FailFast {
		return invalid("unknown rent policy", "%d", int(c.RentPolicy))
	}
	if c.RentTimeout < 0 {
		return invalid("rent timeout cannot be negative", "%s", c.RentTimeout)
	}
	if c.CloseTimeout < 0 {
		return invalid("close timeout cannot be negative", "%s", c.CloseTimeout)
	}
	if c.CloseTimeout == 0 {
		c.CloseTimeout = DefaultCloseTimeout
	}
	return nil
}
