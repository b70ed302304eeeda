package disk

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"

	"litepage/pkg/encryption"
	dberror "litepage/pkg/error"
	"litepage/pkg/logging"
	"litepage/pkg/memory"
	"litepage/pkg/storage/stream"

	"golang.org/x/sync/errgroup"
)

// SaltSuffix names the side file holding the key derivation salt.
const SaltSuffix = ".salt"

// Service owns everything shared between facades: the file lock, the page
// cache, one stream pool per file and the codec. Facades are cheap and
// created per goroutine with GetReader and GetWriter.
type Service struct {
	config Config
	lock   *stream.FileLock
	cache  *memory.Cache
	data   *stream.Pool
	log    *stream.Pool
	codec  encryption.Codec

	mu     sync.Mutex
	closed bool

	logger *slog.Logger
}

// Open validates cfg, locks the data file and prepares the cache and pools.
// Streams are opened lazily by the first facade that needs them.
func Open(cfg Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := logging.WithComponent("DiskService").With("data", cfg.DataPath)

	lock, err := stream.Lock(cfg.DataPath, !cfg.ReadOnly)
	if err != nil {
		return nil, dberror.Wrap(err, dberror.CodeIOFailure, "Open", "DiskService")
	}

	s := &Service{config: cfg, lock: lock, logger: logger}
	if err := s.init(); err != nil {
		lock.Unlock()
		return nil, err
	}

	logger.Info("disk service opened",
		"log", cfg.LogPath,
		"page_size", cfg.PageSize,
		"encrypted", cfg.Password != "",
		"read_only", cfg.ReadOnly)
	return s, nil
}

func (s *Service) init() error {
	cfg := s.config

	codec, err := openCodec(cfg)
	if err != nil {
		return err
	}
	s.codec = codec

	s.cache, err = memory.NewCache(memory.Options{
		PageSize: cfg.PageSize,
		MaxPages: cfg.CacheSize,
		MaxFree:  cfg.CacheSize / 4,
	})
	if err != nil {
		return err
	}

	opts := stream.Options{Max: cfg.MaxStreams, Policy: cfg.RentPolicy, Timeout: cfg.RentTimeout}
	files := stream.FileOptions{ReadOnly: cfg.ReadOnly}

	if s.data, err = stream.NewPool("data", stream.FileFactory(cfg.DataPath, files), opts); err != nil {
		return err
	}
	if s.log, err = stream.NewPool("log", stream.FileFactory(cfg.LogPath, files), opts); err != nil {
		return err
	}
	return nil
}

// openCodec picks the plain codec, or derives an AES key from the password
// and the salt stored next to the data file.
func openCodec(cfg Config) (encryption.Codec, error) {
	if cfg.Password == "" {
		return encryption.Plain{}, nil
	}

	salt, err := loadSalt(cfg.DataPath+SaltSuffix, cfg.ReadOnly)
	if err != nil {
		return nil, err
	}
	return encryption.NewAESFromPassword(cfg.Password, salt)
}

// loadSalt reads the salt file, creating it with a fresh salt on first use.
func loadSalt(path string, readOnly bool) ([]byte, error) {
	salt, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(salt) != encryption.SaltSize {
			return nil, dberror.Newf(dberror.ErrCategoryData, dberror.CodeDecryptionFailed,
				"corrupt salt file", "%s holds %d bytes", path, len(salt)).WithOp("Open", "DiskService")
		}
		return salt, nil

	case errors.Is(err, fs.ErrNotExist) && !readOnly:
		if salt, err = encryption.NewSalt(); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, salt, 0o644); err != nil {
			return nil, dberror.Wrap(err, dberror.CodeIOFailure, "Open", "DiskService")
		}
		return salt, nil

	default:
		return nil, dberror.Wrap(err, dberror.CodeIOFailure, "Open", "DiskService").
			WithDetail("read salt %s", path)
	}
}

// Cache returns the shared page cache.
func (s *Service) Cache() *memory.Cache {
	return s.cache
}

// Codec returns the codec used for every page.
func (s *Service) Codec() encryption.Codec {
	return s.codec
}

// Config returns the validated configuration.
func (s *Service) Config() Config {
	return s.config
}

// PoolStats is a snapshot of one stream pool.
type PoolStats struct {
	Name        string
	Outstanding int
	Idle        int
	Opened      int
}

// PoolStats returns a snapshot of the data and log pools.
func (s *Service) PoolStats() []PoolStats {
	stats := make([]PoolStats, 0, 2)
	for _, p := range []*stream.Pool{s.data, s.log} {
		stats = append(stats, PoolStats{
			Name:        p.Name(),
			Outstanding: p.Outstanding(),
			Idle:        p.Idle(),
			Opened:      p.Opened(),
		})
	}
	return stats
}

func (s *Service) checkOpen(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return dberror.Newf(dberror.ErrCategoryUser, dberror.CodeFacadeClosed,
			"disk service closed", "%s", s.config.DataPath).WithOp(op, "DiskService")
	}
	return nil
}

// GetReader returns a new Reader. ctx bounds the stream rentals it makes.
func (s *Service) GetReader(ctx context.Context) (*Reader, error) {
	if err := s.checkOpen("GetReader"); err != nil {
		return nil, err
	}
	return NewReader(ctx, s.cache, s.data, s.log, s.codec), nil
}

// GetWriter returns a new Writer. It fails on a read-only service.
func (s *Service) GetWriter(ctx context.Context) (*Writer, error) {
	if err := s.checkOpen("GetWriter"); err != nil {
		return nil, err
	}
	if s.config.ReadOnly {
		return nil, dberror.New(dberror.ErrCategoryUser, dberror.CodeInvalidConfig,
			"service is read only").WithOp("GetWriter", "DiskService")
	}
	return NewWriter(ctx, s.cache, s.data, s.log, s.codec), nil
}

// Close flushes dirty pages, closes both pools and releases the file lock.
// Facades still open keep their streams until they are closed. When no
// stream frees up within CloseTimeout the flush is abandoned, the dirty
// pages are lost and Close returns POOL_EXHAUSTED.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var errs []error
	if !s.config.ReadOnly {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.CloseTimeout)
		w := NewWriter(ctx, s.cache, s.data, s.log, s.codec)
		if n, err := w.Flush(); err != nil {
			s.logger.Error("flush on close failed, dirty pages dropped", "error", err)
			errs = append(errs, fmt.Errorf("flush on close: %w", err))
		} else if n > 0 {
			s.logger.Info("flushed pages on close", "pages", n)
		}
		w.Close()
		cancel()
	}

	var g errgroup.Group
	for _, p := range []*stream.Pool{s.data, s.log} {
		g.Go(p.Close)
	}
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}

	if err := s.lock.Unlock(); err != nil {
		errs = append(errs, err)
	}

	s.logger.Info("disk service closed")
	return errors.Join(errs...)
}
