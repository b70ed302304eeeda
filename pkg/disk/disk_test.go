package disk

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"litepage/pkg/encryption"
	dberror "litepage/pkg/error"
	"litepage/pkg/primitives"
	"litepage/pkg/storage/page"
	"litepage/pkg/storage/stream"

	"golang.org/x/sync/errgroup"
)

const testPageSize = 8192

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig(filepath.Join(t.TempDir(), "test.db"))
	cfg.CacheSize = 64
	cfg.MaxStreams = 4
	return cfg
}

func openService(t *testing.T, cfg Config) *Service {
	t.Helper()
	svc, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return svc
}

func newReader(t *testing.T, svc *Service) *Reader {
	t.Helper()
	r, err := svc.GetReader(context.Background())
	if err != nil {
		t.Fatalf("GetReader failed: %v", err)
	}
	return r
}

func newWriter(t *testing.T, svc *Service) *Writer {
	t.Helper()
	w, err := svc.GetWriter(context.Background())
	if err != nil {
		t.Fatalf("GetWriter failed: %v", err)
	}
	return w
}

// writeFilled writes a page filled with b at pos through the cache.
func writeFilled(t *testing.T, svc *Service, pos primitives.Position, mode primitives.FileMode, b byte) {
	t.Helper()
	r := newReader(t, svc)
	defer r.Close()

	buf, err := r.ReadPage(pos, true, mode)
	if err != nil {
		t.Fatalf("ReadPage(%d, writable) failed: %v", pos, err)
	}
	buf.Full().Fill(b)
	svc.Cache().Commit(buf)
}

func expectFilled(t *testing.T, buf *page.Buffer, b byte) {
	t.Helper()
	for i, v := range buf.Bytes() {
		if v != b {
			t.Fatalf("byte %d of %s = %#x, expected %#x", i, buf.Identity(), v, b)
		}
	}
}

func TestReader_EmptyFileReadsZeroPage(t *testing.T) {
	svc := openService(t, testConfig(t))
	defer svc.Close()

	r := newReader(t, svc)
	defer r.Close()

	buf, err := r.ReadPage(0, false, primitives.Data)
	if err != nil {
		t.Fatalf("ReadPage failed: %v", err)
	}
	if buf.Size() != testPageSize {
		t.Fatalf("expected %d byte page, got %d", testPageSize, buf.Size())
	}
	expectFilled(t, buf, 0)

	again, err := r.ReadPage(0, false, primitives.Data)
	if err != nil {
		t.Fatalf("second ReadPage failed: %v", err)
	}
	if again != buf {
		t.Error("expected the cached buffer to be returned")
	}
	if st := svc.Cache().Stats(); st.Misses != 1 {
		t.Errorf("expected one physical read, got %d", st.Misses)
	}

	svc.Cache().Release(buf)
	svc.Cache().Release(again)
}

func TestReader_CommitVisibleToOtherGoroutine(t *testing.T) {
	svc := openService(t, testConfig(t))
	defer svc.Close()

	r := newReader(t, svc)
	buf, err := r.ReadPage(testPageSize, true, primitives.Data)
	if err != nil {
		t.Fatalf("ReadPage(writable) failed: %v", err)
	}
	buf.Bytes()[0] = 0xFF
	svc.Cache().Commit(buf)
	r.Close()

	var g errgroup.Group
	g.Go(func() error {
		other, err := svc.GetReader(context.Background())
		if err != nil {
			return err
		}
		defer other.Close()

		got, err := other.ReadPage(testPageSize, false, primitives.Data)
		if err != nil {
			return err
		}
		defer svc.Cache().Release(got)
		if got.Bytes()[0] != 0xFF {
			return errors.New("committed byte not visible")
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestService_PersistsAcrossReopen(t *testing.T) {
	cfg := testConfig(t)

	svc := openService(t, cfg)
	writeFilled(t, svc, 0, primitives.Data, 0x11)
	writeFilled(t, svc, 2*testPageSize, primitives.Data, 0x22)
	writeFilled(t, svc, 0, primitives.Log, 0x33)
	if err := svc.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	svc = openService(t, cfg)
	defer svc.Close()
	r := newReader(t, svc)
	defer r.Close()

	for _, tt := range []struct {
		pos  primitives.Position
		mode primitives.FileMode
		b    byte
	}{
		{0, primitives.Data, 0x11},
		{testPageSize, primitives.Data, 0x00},
		{2 * testPageSize, primitives.Data, 0x22},
		{0, primitives.Log, 0x33},
		{testPageSize, primitives.Log, 0x00},
	} {
		buf, err := r.ReadPage(tt.pos, false, tt.mode)
		if err != nil {
			t.Fatalf("ReadPage(%d, %s) failed: %v", tt.pos, tt.mode, err)
		}
		expectFilled(t, buf, tt.b)
		svc.Cache().Release(buf)
	}
}

func TestService_EncryptedRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	cfg.Password = "correct horse"
	const pos primitives.Position = 2 * testPageSize

	svc := openService(t, cfg)
	w := newWriter(t, svc)
	buf := boundPage(t, svc, pos)
	for i := range buf.Bytes() {
		buf.Bytes()[i] = byte(i * 7)
	}
	original := append([]byte(nil), buf.Bytes()...)

	if err := w.WritePage(buf); err != nil {
		t.Fatalf("WritePage failed: %v", err)
	}
	if err := w.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	svc.Cache().Discard(buf)
	w.Close()
	svc.Close()

	// right key
	svc = openService(t, cfg)
	r := newReader(t, svc)
	got, err := r.ReadPage(pos, false, primitives.Data)
	if err != nil {
		t.Fatalf("ReadPage with the right key failed: %v", err)
	}
	for i, b := range got.Bytes() {
		if b != original[i] {
			t.Fatalf("byte %d = %#x, expected %#x", i, b, original[i])
		}
	}
	svc.Cache().Release(got)

	// pages below the written one were filled with encrypted empty pages
	below, err := r.ReadPage(0, false, primitives.Data)
	if err != nil {
		t.Fatalf("reading a page below the written one failed: %v", err)
	}
	expectFilled(t, below, 0)
	svc.Cache().Release(below)
	r.Close()
	svc.Close()

	// wrong key
	cfg.Password = "wrong horse"
	svc = openService(t, cfg)
	defer svc.Close()
	r = newReader(t, svc)
	defer r.Close()

	if _, err := r.ReadPage(pos, false, primitives.Data); !errors.Is(err, dberror.ErrDecryption) {
		t.Fatalf("expected decryption error with the wrong key, got %v", err)
	}
	if st := svc.Cache().Stats(); st.Readable != 0 {
		t.Errorf("failed read must not leave a cached page, got %+v", st)
	}
}

// boundPage returns a new writable page bound to pos in the data file.
func boundPage(t *testing.T, svc *Service, pos primitives.Position) *page.Buffer {
	t.Helper()
	buf := svc.Cache().NewPage()
	if err := buf.SetPosition(pos, primitives.Data); err != nil {
		t.Fatalf("SetPosition failed: %v", err)
	}
	return buf
}

func TestFacade_CloseWithoutRental(t *testing.T) {
	cfg := testConfig(t)
	svc := openService(t, cfg)
	defer svc.Close()

	busy := newReader(t, svc)
	defer busy.Close()
	buf, err := busy.ReadPage(0, false, primitives.Data)
	if err != nil {
		t.Fatal(err)
	}
	svc.Cache().Release(buf)

	idle := newReader(t, svc)
	if err := idle.Close(); err != nil {
		t.Fatalf("Close of an unused reader failed: %v", err)
	}
	if err := idle.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if n := svc.data.Outstanding(); n != 1 {
		t.Errorf("expected the busy reader to keep its stream, got %d outstanding", n)
	}

	next, err := busy.ReadPage(testPageSize, false, primitives.Data)
	if err != nil {
		t.Fatalf("busy reader broken by another facade's Close: %v", err)
	}
	svc.Cache().Release(next)
}

func TestFacade_ClosedRejectsUse(t *testing.T) {
	svc := openService(t, testConfig(t))
	defer svc.Close()

	r := newReader(t, svc)
	buf, _ := r.ReadPage(0, false, primitives.Data)
	svc.Cache().Release(buf)
	r.Close()

	if svc.data.Outstanding() != 0 {
		t.Error("expected Close to return the rented stream")
	}
	if _, err := r.ReadPage(0, false, primitives.Data); !errors.Is(err, dberror.ErrFacadeClosed) {
		t.Errorf("expected FACADE_CLOSED, got %v", err)
	}
	if _, err := r.NewPage(); !errors.Is(err, dberror.ErrFacadeClosed) {
		t.Errorf("expected FACADE_CLOSED from NewPage, got %v", err)
	}

	w := newWriter(t, svc)
	w.Close()
	if _, err := w.Flush(); !errors.Is(err, dberror.ErrFacadeClosed) {
		t.Errorf("expected FACADE_CLOSED from Flush, got %v", err)
	}
}

func TestReader_NewPageRentsNothing(t *testing.T) {
	svc := openService(t, testConfig(t))
	defer svc.Close()

	r := newReader(t, svc)
	defer r.Close()

	buf, err := r.NewPage()
	if err != nil {
		t.Fatalf("NewPage failed: %v", err)
	}
	defer svc.Cache().Discard(buf)

	if !buf.IsWritable() || buf.IsBound() {
		t.Errorf("expected unbound writable page, got %s", buf)
	}
	if svc.data.Opened() != 0 || svc.log.Opened() != 0 {
		t.Error("NewPage must not open any stream")
	}
}

func TestWriter_FlushAndLength(t *testing.T) {
	for _, password := range []string{"", "secret"} {
		t.Run("password="+password, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Password = password
			svc := openService(t, cfg)
			defer svc.Close()

			writeFilled(t, svc, 0, primitives.Data, 0x01)
			writeFilled(t, svc, 3*testPageSize, primitives.Data, 0x02)

			w := newWriter(t, svc)
			defer w.Close()

			n, err := w.Flush()
			if err != nil {
				t.Fatalf("Flush failed: %v", err)
			}
			if n != 2 {
				t.Errorf("expected 2 pages flushed, got %d", n)
			}
			if len(svc.Cache().DirtyPages()) != 0 {
				t.Error("expected no dirty pages after flush")
			}

			length, err := w.Length(primitives.Data)
			if err != nil {
				t.Fatalf("Length failed: %v", err)
			}
			if length != 4*testPageSize {
				t.Errorf("expected length %d, got %d", 4*testPageSize, length)
			}
			if length, _ := w.Length(primitives.Log); length != 0 {
				t.Errorf("expected empty log, got %d", length)
			}

			if err := w.SetLength(primitives.Data, testPageSize); err != nil {
				t.Fatalf("SetLength failed: %v", err)
			}
			if length, _ := w.Length(primitives.Data); length != testPageSize {
				t.Errorf("expected length %d after truncate, got %d", testPageSize, length)
			}
			if err := w.SetLength(primitives.Data, 100); !errors.Is(err, dberror.ErrInvalidArg) {
				t.Errorf("expected invalid argument for unaligned length, got %v", err)
			}
		})
	}
}

func TestWriter_RejectsUnboundPage(t *testing.T) {
	svc := openService(t, testConfig(t))
	defer svc.Close()

	w := newWriter(t, svc)
	defer w.Close()

	buf := svc.Cache().NewPage()
	defer svc.Cache().Discard(buf)
	if err := w.WritePage(buf); !errors.Is(err, dberror.ErrInvalidArg) {
		t.Errorf("expected error for page without position, got %v", err)
	}
}

func TestService_ReadOnly(t *testing.T) {
	cfg := testConfig(t)
	svc := openService(t, cfg)
	writeFilled(t, svc, 0, primitives.Data, 0x7E)
	writeFilled(t, svc, 0, primitives.Log, 0x7F)
	svc.Close()

	cfg.ReadOnly = true
	ro := openService(t, cfg)
	defer ro.Close()

	if _, err := ro.GetWriter(context.Background()); !dberror.HasCode(err, dberror.CodeInvalidConfig) {
		t.Errorf("expected GetWriter to fail on a read-only service, got %v", err)
	}

	r := newReader(t, ro)
	defer r.Close()
	buf, err := r.ReadPage(0, false, primitives.Data)
	if err != nil {
		t.Fatalf("ReadPage failed: %v", err)
	}
	expectFilled(t, buf, 0x7E)
	ro.Cache().Release(buf)
}

func TestService_ClosedRejectsFacades(t *testing.T) {
	svc := openService(t, testConfig(t))
	if err := svc.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	if _, err := svc.GetReader(context.Background()); !dberror.HasCode(err, dberror.CodeFacadeClosed) {
		t.Errorf("expected FACADE_CLOSED, got %v", err)
	}
	if _, err := svc.GetWriter(context.Background()); !dberror.HasCode(err, dberror.CodeFacadeClosed) {
		t.Errorf("expected FACADE_CLOSED, got %v", err)
	}
}

func TestService_FailFastPool(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxStreams = 1
	cfg.RentPolicy = stream.FailFast
	svc := openService(t, cfg)
	defer svc.Close()

	a := newReader(t, svc)
	defer a.Close()
	buf, err := a.ReadPage(0, false, primitives.Data)
	if err != nil {
		t.Fatal(err)
	}
	svc.Cache().Release(buf)

	b := newReader(t, svc)
	defer b.Close()
	if _, err := b.ReadPage(testPageSize, false, primitives.Data); !dberror.IsExhausted(err) {
		t.Errorf("expected POOL_EXHAUSTED, got %v", err)
	}
}

func TestService_ConcurrentFacades(t *testing.T) {
	cfg := testConfig(t)
	svc := openService(t, cfg)
	defer svc.Close()

	for p := 0; p < 8; p++ {
		writeFilled(t, svc, primitives.Position(p*testPageSize), primitives.Data, byte(p+1))
	}
	w := newWriter(t, svc)
	if _, err := w.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	w.Close()
	if err := svc.Cache().Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	before := svc.Cache().Stats().Misses

	var g errgroup.Group
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			r, err := svc.GetReader(context.Background())
			if err != nil {
				return err
			}
			defer r.Close()

			for p := 0; p < 8; p++ {
				buf, err := r.ReadPage(primitives.Position(p*testPageSize), false, primitives.Data)
				if err != nil {
					return err
				}
				ok := buf.Bytes()[0] == byte(p+1) && buf.Bytes()[testPageSize-1] == byte(p+1)
				svc.Cache().Release(buf)
				if !ok {
					return errors.New("reader saw wrong page contents")
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	if n := svc.data.Outstanding(); n != 0 {
		t.Errorf("expected every stream returned, got %d outstanding", n)
	}
	if ps := svc.PoolStats(); ps[0].Name != "data" || ps[0].Idle != ps[0].Opened || ps[1].Name != "log" {
		t.Errorf("unexpected pool stats %+v", ps)
	}
	if n := svc.data.Opened(); n > cfg.MaxStreams {
		t.Errorf("opened %d streams, max is %d", n, cfg.MaxStreams)
	}
	if loads := svc.Cache().Stats().Misses - before; loads != 8 {
		t.Errorf("expected each page loaded once, got %d loads", loads)
	}
}

func TestWriter_StaleSnapshotNeverOverwritesNewerPage(t *testing.T) {
	svc := openService(t, testConfig(t))
	defer svc.Close()

	writeFilled(t, svc, 0, primitives.Data, 1)
	snapshot := svc.Cache().DirtyPages()
	writeFilled(t, svc, 0, primitives.Data, 2)

	b := newWriter(t, svc)
	if n, err := b.Flush(); err != nil || n != 1 {
		t.Fatalf("Flush = %d, %v; expected 1 page", n, err)
	}
	b.Close()

	a := newWriter(t, svc)
	n, err := a.WritePages(snapshot)
	if err != nil {
		t.Fatalf("WritePages failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected the superseded copy to be skipped, wrote %d pages", n)
	}
	a.Close()
	for _, buf := range snapshot {
		svc.Cache().Release(buf)
	}

	if err := svc.Cache().Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	r := newReader(t, svc)
	defer r.Close()
	buf, err := r.ReadPage(0, false, primitives.Data)
	if err != nil {
		t.Fatalf("ReadPage failed: %v", err)
	}
	expectFilled(t, buf, 2)
	svc.Cache().Release(buf)
}

func TestWriter_ConcurrentFlushKeepsLatest(t *testing.T) {
	svc := openService(t, testConfig(t))
	defer svc.Close()

	const last = 50
	var done atomic.Bool
	var g errgroup.Group

	g.Go(func() error {
		defer done.Store(true)
		r, err := svc.GetReader(context.Background())
		if err != nil {
			return err
		}
		defer r.Close()
		for v := 1; v <= last; v++ {
			buf, err := r.ReadPage(0, true, primitives.Data)
			if err != nil {
				return err
			}
			buf.Full().Fill(byte(v))
			svc.Cache().Commit(buf)
		}
		return nil
	})
	for i := 0; i < 2; i++ {
		g.Go(func() error {
			w, err := svc.GetWriter(context.Background())
			if err != nil {
				return err
			}
			defer w.Close()
			for !done.Load() {
				if _, err := w.Flush(); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	w := newWriter(t, svc)
	if _, err := w.Flush(); err != nil {
		t.Fatalf("final Flush failed: %v", err)
	}
	w.Close()
	if err := svc.Cache().Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	r := newReader(t, svc)
	defer r.Close()
	buf, err := r.ReadPage(0, false, primitives.Data)
	if err != nil {
		t.Fatalf("ReadPage failed: %v", err)
	}
	expectFilled(t, buf, last)
	svc.Cache().Release(buf)
}

// syncFailure is a stream whose writes succeed but never become durable.
type syncFailure struct {
	stream.Stream
}

func (syncFailure) Sync() error { return errors.New("device lost") }

func TestWriter_FailedSyncKeepsPagesDirty(t *testing.T) {
	svc := openService(t, testConfig(t))
	defer svc.Close()

	writeFilled(t, svc, 0, primitives.Data, 0x5A)

	path := svc.Config().DataPath
	pool, err := stream.NewPool("data", func() (stream.Stream, error) {
		f, err := stream.OpenFile(path, stream.FileOptions{})
		if err != nil {
			return nil, err
		}
		return syncFailure{f}, nil
	}, stream.Options{Max: 1})
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	bad := NewWriter(context.Background(), svc.Cache(), pool, svc.log, svc.Codec())
	n, err := bad.Flush()
	bad.Close()
	if !dberror.IsIO(err) {
		t.Fatalf("expected IO_FAILURE from a failed sync, got %v", err)
	}
	if n != 0 {
		t.Errorf("expected no durable pages, got %d", n)
	}

	dirty := svc.Cache().DirtyPages()
	if len(dirty) != 1 {
		t.Fatalf("expected the page to stay dirty after a failed sync, got %d dirty", len(dirty))
	}
	svc.Cache().Release(dirty[0])

	good := newWriter(t, svc)
	defer good.Close()
	if n, err := good.Flush(); err != nil || n != 1 {
		t.Errorf("retry Flush = %d, %v; expected 1 page", n, err)
	}
}

func TestService_CloseGivesUpWhenStreamsAreHeld(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxStreams = 1
	cfg.CloseTimeout = 50 * time.Millisecond
	svc := openService(t, cfg)

	writeFilled(t, svc, 0, primitives.Data, 0x42)

	holder := newReader(t, svc)
	buf, err := holder.ReadPage(testPageSize, false, primitives.Data)
	if err != nil {
		t.Fatal(err)
	}
	svc.Cache().Release(buf)

	done := make(chan error, 1)
	go func() { done <- svc.Close() }()

	select {
	case err := <-done:
		if !dberror.IsExhausted(err) {
			t.Errorf("expected POOL_EXHAUSTED from Close, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Close blocked while every stream was rented")
	}

	holder.Close()
	if n := svc.data.Opened(); n != 0 {
		t.Errorf("expected the held stream closed on return, got %d open", n)
	}
}

func TestService_EncryptedFileHasNoHoles(t *testing.T) {
	cfg := testConfig(t)
	cfg.Password = "secret"
	physical := int64(testPageSize + encryption.Overhead)

	svc := openService(t, cfg)
	w := newWriter(t, svc)
	if err := w.SetLength(primitives.Data, 3*testPageSize); err != nil {
		t.Fatalf("SetLength failed: %v", err)
	}
	if length, _ := w.Length(primitives.Data); length != 3*testPageSize {
		t.Errorf("expected length %d, got %d", 3*testPageSize, length)
	}
	w.Close()

	r := newReader(t, svc)
	buf, err := r.ReadPage(2*testPageSize, false, primitives.Data)
	if err != nil {
		t.Fatalf("page added by SetLength must decrypt: %v", err)
	}
	expectFilled(t, buf, 0)
	svc.Cache().Release(buf)
	r.Close()
	svc.Close()

	info, err := os.Stat(cfg.DataPath)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 3*physical {
		t.Fatalf("expected %d bytes on disk, got %d", 3*physical, info.Size())
	}

	// zero out the middle block as a torn or tampered write would
	f, err := os.OpenFile(cfg.DataPath, os.O_RDWR, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteAt(make([]byte, physical), physical); err != nil {
		t.Fatal(err)
	}
	f.Close()

	svc = openService(t, cfg)
	defer svc.Close()
	r = newReader(t, svc)
	defer r.Close()

	if _, err := r.ReadPage(testPageSize, false, primitives.Data); !errors.Is(err, dberror.ErrDecryption) {
		t.Errorf("expected decryption error for a zeroed block, got %v", err)
	}
	buf, err = r.ReadPage(0, false, primitives.Data)
	if err != nil {
		t.Fatalf("untouched page failed to decrypt: %v", err)
	}
	svc.Cache().Release(buf)
}
