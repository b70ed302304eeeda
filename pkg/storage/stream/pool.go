package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	dberror "litepage/pkg/error"
	"litepage/pkg/logging"

	"golang.org/x/sync/semaphore"
)

const component = "StreamPool"

// Policy decides what Rent does when every handle is already rented.
type Policy int

const (
	// Block waits for a Return, bounded by the caller's context and
	// Options.Timeout.
	Block Policy = iota

	// FailFast returns POOL_EXHAUSTED immediately.
	FailFast
)

// String returns the policy name.
func (p Policy) String() string {
	if p == FailFast {
		return "fail-fast"
	}
	return "block"
}

// Options configures a Pool.
type Options struct {
	// Max is the maximum number of handles rented at the same time. It must
	// be positive; a pool is never unbounded.
	Max int

	// Policy applies when Max handles are rented.
	Policy Policy

	// Timeout bounds a blocking Rent. Zero waits until the context ends.
	Timeout time.Duration
}

// Pool bounds the number of open handles to one physical file and lends
// each to a single caller between Rent and Return. The pool never seeks a
// handle; the cursor belongs to the renter.
type Pool struct {
	name    string
	factory Factory
	opts    Options
	sem     *semaphore.Weighted

	mu     sync.Mutex
	idle   []Stream
	rented map[Stream]struct{}
	opened int
	closed bool

	log *slog.Logger
}

// NewPool creates a pool named name (used in logs and errors).
func NewPool(name string, factory Factory, opts Options) (*Pool, error) {
	if factory == nil {
		return nil, dberror.Newf(dberror.ErrCategoryUser, dberror.CodeInvalidConfig,
			"stream factory cannot be nil", "pool %s", name).WithOp("NewPool", component)
	}
	if opts.Max <= 0 {
		return nil, dberror.Newf(dberror.ErrCategoryUser, dberror.CodeInvalidConfig,
			"max streams must be positive", "pool %s, max %d", name, opts.Max).WithOp("NewPool", component)
	}

	return &Pool{
		name:    name,
		factory: factory,
		opts:    opts,
		sem:     semaphore.NewWeighted(int64(opts.Max)),
		rented:  make(map[Stream]struct{}),
		log:     logging.WithComponent(component).With("pool", name),
	}, nil
}

// Name returns the pool name.
func (p *Pool) Name() string {
	return p.name
}

// Rent returns an idle handle, opening a new one when none is idle and the
// pool is below Max. At capacity it follows the pool's Policy.
func (p *Pool) Rent(ctx context.Context) (Stream, error) {
	if err := p.acquire(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		return nil, p.closedError()
	}
	if n := len(p.idle); n > 0 {
		s := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.rented[s] = struct{}{}
		p.mu.Unlock()
		return s, nil
	}
	p.mu.Unlock()

	s, err := p.factory()
	if err != nil {
		p.sem.Release(1)
		return nil, dberror.Wrap(err, dberror.CodeIOFailure, "Rent", component)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		s.Close()
		p.sem.Release(1)
		return nil, p.closedError()
	}
	p.rented[s] = struct{}{}
	p.opened++
	opened := p.opened
	p.mu.Unlock()

	p.log.Debug("stream opened", "open", opened)
	return s, nil
}

func (p *Pool) acquire(ctx context.Context) error {
	if p.opts.Policy == FailFast {
		if !p.sem.TryAcquire(1) {
			p.log.Warn("stream pool exhausted", "max", p.opts.Max)
			return dberror.Newf(dberror.ErrCategoryTransient, dberror.CodePoolExhausted,
				"stream pool exhausted", "pool %s has %d handles rented", p.name, p.opts.Max).
				WithOp("Rent", component)
		}
		return nil
	}

	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.log.Warn("stream rent timed out", "max", p.opts.Max, "error", err)
		return dberror.Newf(dberror.ErrCategoryTransient, dberror.CodePoolExhausted,
			"stream pool exhausted", "pool %s: waited for a handle", p.name).
			WithOp("Rent", component).
			WithCause(err)
	}
	return nil
}

// Return hands a rented handle back. Returning a handle this pool did not
// rent out, or returning it twice, panics.
func (p *Pool) Return(s Stream) {
	p.mu.Lock()
	if _, ok := p.rented[s]; !ok {
		p.mu.Unlock()
		dberror.Violation(component, "Return", "pool %s: stream %v is not rented", p.name, s)
	}
	delete(p.rented, s)

	if p.closed {
		p.opened--
		p.mu.Unlock()
		if err := s.Close(); err != nil {
			p.log.Warn("failed to close returned stream", "error", err)
		}
		p.sem.Release(1)
		return
	}

	p.idle = append(p.idle, s)
	p.mu.Unlock()
	p.sem.Release(1)
}

// Outstanding returns the number of handles currently rented.
func (p *Pool) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.rented)
}

// Idle returns the number of open handles waiting to be rented.
func (p *Pool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Opened returns the number of handles currently open, rented or idle.
func (p *Pool) Opened() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opened
}

// Close closes idle handles and rejects further Rent calls. Handles still
// rented are closed when they are returned.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	for _, s := range p.idle {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
		p.opened--
	}
	p.idle = nil

	if n := len(p.rented); n > 0 {
		p.log.Debug("pool closed with rented streams", "rented", n)
	}
	return errors.Join(errs...)
}

func (p *Pool) closedError() error {
	return dberror.Newf(dberror.ErrCategoryUser, dberror.CodePoolClosed,
		"stream pool closed", "pool %s", p.name).WithOp("Rent", component)
}
