package stream

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	dberror "litepage/pkg/error"

	"golang.org/x/sync/errgroup"
)

// memStream is an in-memory Stream used to count opens and closes.
type memStream struct {
	data   []byte
	pos    int64
	closed atomic.Bool
}

func (m *memStream) Read(p []byte) (int, error) {
	if m.pos >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[m.pos:])
	m.pos += int64(n)
	return n, nil
}

func (m *memStream) Write(p []byte) (int, error) {
	end := m.pos + int64(len(p))
	if end > int64(len(m.data)) {
		m.data = append(m.data, make([]byte, end-int64(len(m.data)))...)
	}
	copy(m.data[m.pos:], p)
	m.pos = end
	return len(p), nil
}

func (m *memStream) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		m.pos = offset
	case io.SeekCurrent:
		m.pos += offset
	case io.SeekEnd:
		m.pos = int64(len(m.data)) + offset
	}
	return m.pos, nil
}

func (m *memStream) Sync() error { return nil }
func (m *memStream) Size() (int64, error) { return int64(len(m.data)), nil }
func (m *memStream) Truncate(size int64) error { m.data = m.data[:size]; return nil }
func (m *memStream) Close() error { m.closed.Store(true); return nil }

type countingFactory struct {
	mu      sync.Mutex
	streams []*memStream
}

func (f *countingFactory) open() (Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &memStream{}
	f.streams = append(f.streams, s)
	return s, nil
}

func (f *countingFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.streams)
}

func TestNewPool_Validation(t *testing.T) {
	f := &countingFactory{}

	if _, err := NewPool("data", f.open, Options{Max: 0}); !dberror.HasCode(err, dberror.CodeInvalidConfig) {
		t.Error("expected error for zero max")
	}
	if _, err := NewPool("data", nil, Options{Max: 1}); !dberror.HasCode(err, dberror.CodeInvalidConfig) {
		t.Error("expected error for nil factory")
	}
}

func TestPool_RentReturnReuses(t *testing.T) {
	f := &countingFactory{}
	pool, err := NewPool("data", f.open, Options{Max: 4})
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	ctx := context.Background()

	s1, err := pool.Rent(ctx)
	if err != nil {
		t.Fatalf("Rent failed: %v", err)
	}
	if pool.Outstanding() != 1 {
		t.Errorf("expected 1 outstanding, got %d", pool.Outstanding())
	}

	pool.Return(s1)
	if pool.Outstanding() != 0 || pool.Idle() != 1 {
		t.Errorf("expected 0 outstanding and 1 idle, got %d/%d", pool.Outstanding(), pool.Idle())
	}

	s2, err := pool.Rent(ctx)
	if err != nil {
		t.Fatalf("second Rent failed: %v", err)
	}
	if s2 != s1 {
		t.Error("expected the returned handle to be reused")
	}
	if f.count() != 1 {
		t.Errorf("expected one handle opened, got %d", f.count())
	}
	pool.Return(s2)
}

func TestPool_DoesNotSeek(t *testing.T) {
	f := &countingFactory{}
	pool, _ := NewPool("log", f.open, Options{Max: 1})
	ctx := context.Background()

	s, _ := pool.Rent(ctx)
	s.Write([]byte("abcdef"))
	s.Seek(3, io.SeekStart)
	pool.Return(s)

	again, _ := pool.Rent(ctx)
	pos, _ := again.Seek(0, io.SeekCurrent)
	if pos != 3 {
		t.Errorf("expected cursor to be left at 3, got %d", pos)
	}
	pool.Return(again)
}

func TestPool_FailFast(t *testing.T) {
	f := &countingFactory{}
	pool, _ := NewPool("data", f.open, Options{Max: 2, Policy: FailFast})
	ctx := context.Background()

	a, _ := pool.Rent(ctx)
	b, _ := pool.Rent(ctx)

	_, err := pool.Rent(ctx)
	if !errors.Is(err, dberror.ErrPoolExhausted) {
		t.Fatalf("expected pool exhaustion, got %v", err)
	}
	if cat, _ := dberror.CategoryOf(err); cat != dberror.ErrCategoryTransient {
		t.Errorf("expected transient category, got %s", cat)
	}

	pool.Return(a)
	c, err := pool.Rent(ctx)
	if err != nil {
		t.Fatalf("expected Rent to succeed after Return: %v", err)
	}
	pool.Return(b)
	pool.Return(c)
}

func TestPool_BlockTimeout(t *testing.T) {
	f := &countingFactory{}
	pool, _ := NewPool("data", f.open, Options{Max: 1, Policy: Block, Timeout: 20 * time.Millisecond})
	ctx := context.Background()

	s, _ := pool.Rent(ctx)
	defer pool.Return(s)

	start := time.Now()
	_, err := pool.Rent(ctx)
	if !dberror.IsExhausted(err) {
		t.Fatalf("expected exhaustion after timeout, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline cause, got %v", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("Rent returned before the timeout elapsed")
	}
}

func TestPool_BlockWaitsForReturn(t *testing.T) {
	f := &countingFactory{}
	pool, _ := NewPool("data", f.open, Options{Max: 1})
	ctx := context.Background()

	s, _ := pool.Rent(ctx)

	got := make(chan Stream)
	go func() {
		r, err := pool.Rent(ctx)
		if err != nil {
			t.Errorf("blocked Rent failed: %v", err)
		}
		got <- r
	}()

	time.Sleep(10 * time.Millisecond)
	pool.Return(s)

	select {
	case r := <-got:
		if r != s {
			t.Error("expected the waiter to receive the returned handle")
		}
		pool.Return(r)
	case <-time.After(time.Second):
		t.Fatal("blocked Rent never completed")
	}
}

func TestPool_OutstandingNeverExceedsMax(t *testing.T) {
	const maxStreams = 3
	f := &countingFactory{}
	pool, _ := NewPool("data", f.open, Options{Max: maxStreams})

	var inUse, peak atomic.Int32
	var g errgroup.Group
	for i := 0; i < 32; i++ {
		g.Go(func() error {
			for j := 0; j < 20; j++ {
				s, err := pool.Rent(context.Background())
				if err != nil {
					return err
				}
				n := inUse.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				inUse.Add(-1)
				pool.Return(s)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("worker failed: %v", err)
	}

	if peak.Load() > maxStreams {
		t.Errorf("peak outstanding %d exceeds max %d", peak.Load(), maxStreams)
	}
	if f.count() > maxStreams {
		t.Errorf("opened %d handles, max is %d", f.count(), maxStreams)
	}
}

func TestPool_ReturnUnknownPanics(t *testing.T) {
	f := &countingFactory{}
	pool, _ := NewPool("data", f.open, Options{Max: 1})

	defer func() {
		if recover() == nil {
			t.Error("expected panic when returning a handle that was not rented")
		}
	}()
	pool.Return(&memStream{})
}

func TestPool_DoubleReturnPanics(t *testing.T) {
	f := &countingFactory{}
	pool, _ := NewPool("data", f.open, Options{Max: 1})
	s, _ := pool.Rent(context.Background())
	pool.Return(s)

	defer func() {
		if recover() == nil {
			t.Error("expected panic on double return")
		}
	}()
	pool.Return(s)
}

func TestPool_Close(t *testing.T) {
	f := &countingFactory{}
	pool, _ := NewPool("data", f.open, Options{Max: 2})
	ctx := context.Background()

	idle, _ := pool.Rent(ctx)
	held, _ := pool.Rent(ctx)
	pool.Return(idle)

	if err := pool.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !idle.(*memStream).closed.Load() {
		t.Error("expected idle handle to be closed")
	}
	if held.(*memStream).closed.Load() {
		t.Error("rented handle must stay open until returned")
	}

	if _, err := pool.Rent(ctx); !dberror.HasCode(err, dberror.CodePoolClosed) {
		t.Errorf("expected POOL_CLOSED, got %v", err)
	}

	pool.Return(held)
	if !held.(*memStream).closed.Load() {
		t.Error("expected handle returned after Close to be closed")
	}
	if pool.Opened() != 0 {
		t.Errorf("expected no open handles, got %d", pool.Opened())
	}
	if err := pool.Close(); err != nil {
		t.Errorf("second Close must be a no-op, got %v", err)
	}
}

func TestPool_FileFactory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	pool, err := NewPool("data", FileFactory(path, FileOptions{}), Options{Max: 2})
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	defer pool.Close()
	ctx := context.Background()

	w, err := pool.Rent(ctx)
	if err != nil {
		t.Fatalf("Rent failed: %v", err)
	}
	r, err := pool.Rent(ctx)
	if err != nil {
		t.Fatalf("Rent failed: %v", err)
	}
	if w == r {
		t.Fatal("concurrent rentals must be distinct handles")
	}

	if _, err := w.Write([]byte("page")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := w.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != nil {
		t.Fatalf("Read through second handle failed: %v", err)
	}
	if string(buf) != "page" {
		t.Errorf("expected 'page', got %q", buf)
	}

	pool.Return(w)
	pool.Return(r)
}
