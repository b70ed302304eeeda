// Package disk exposes the per-goroutine facades through which pages are
// read from and written to the data and log files.
package disk

import (
	"context"
	"io"
	"log/slog"

	"litepage/pkg/encryption"
	dberror "litepage/pkg/error"
	"litepage/pkg/logging"
	"litepage/pkg/primitives"
	"litepage/pkg/storage/stream"

	"github.com/google/uuid"
)

// facade is the state shared by Reader and Writer: at most one rented stream
// per file mode, populated on first use. A facade belongs to one goroutine
// and does no locking of its own.
type facade struct {
	kind     string
	id       uuid.UUID
	ctx      context.Context
	pools    [2]*stream.Pool
	rented   [2]stream.Stream
	codec    encryption.Codec
	pageSize int
	closed   bool
	log      *slog.Logger
}

func newFacade(ctx context.Context, kind string, data, log *stream.Pool, codec encryption.Codec, pageSize int) facade {
	if codec == nil {
		codec = encryption.Plain{}
	}
	id := uuid.New()
	return facade{
		kind:     kind,
		id:       id,
		ctx:      ctx,
		pools:    [2]*stream.Pool{primitives.Data: data, primitives.Log: log},
		codec:    codec,
		pageSize: pageSize,
		log:      logging.WithFacade(kind, id.String()),
	}
}

// ID identifies the facade in logs.
func (f *facade) ID() uuid.UUID {
	return f.id
}

func (f *facade) checkOpen(op string) error {
	if f.closed {
		return dberror.Newf(dberror.ErrCategoryUser, dberror.CodeFacadeClosed,
			"facade already closed", "%s %s", f.kind, f.id).WithOp(op, f.kind)
	}
	return nil
}

// stream returns the rented stream for mode, renting it on first use.
func (f *facade) stream(mode primitives.FileMode) (stream.Stream, error) {
	if !mode.IsValid() {
		return nil, dberror.InvalidArg(f.kind, "Rent", "unknown file mode", "%s", mode)
	}
	if s := f.rented[mode]; s != nil {
		return s, nil
	}

	s, err := f.pools[mode].Rent(f.ctx)
	if err != nil {
		return nil, err
	}
	f.rented[mode] = s
	f.log.Debug("stream rented", "mode", mode.String())
	return s, nil
}

// seek positions s at the physical offset of the page at pos.
func (f *facade) seek(s stream.Stream, pos primitives.Position, op string) error {
	offset := f.codec.Offset(pos, f.pageSize)
	if _, err := s.Seek(offset, io.SeekStart); err != nil {
		return dberror.Wrap(err, dberror.CodeIOFailure, op, f.kind).
			WithDetail("seek to %d for page %d", offset, pos)
	}
	return nil
}

// Close returns every rented stream to its pool. It is safe to call more
// than once and on a facade that never rented anything.
func (f *facade) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true

	for mode, s := range f.rented {
		if s == nil {
			continue
		}
		f.pools[mode].Return(s)
		f.rented[mode] = nil
	}
	return nil
}
