//go:build unix

package stream

import (
	"errors"
	"os"

	dberror "litepage/pkg/error"

	"golang.org/x/sys/unix"
)

// FileLock is an advisory lock on a file, held through its own descriptor.
type FileLock struct {
	file *os.File
}

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("file is locked by another process")

// Lock takes a flock on path without blocking: exclusive for writers,
// shared for read-only opens. Handles opened by the pools are separate
// descriptors and are not affected by it.
func Lock(path string, exclusive bool) (*FileLock, error) {
	flag, how := os.O_RDWR|os.O_CREATE, unix.LOCK_EX
	if !exclusive {
		flag, how = os.O_RDONLY, unix.LOCK_SH
	}

	file, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, fileError(err, "Lock", path)
	}

	if err := unix.Flock(int(file.Fd()), how|unix.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, dberror.Newf(dberror.ErrCategoryConcurrency, dberror.CodeCacheInUse,
				"file is locked", "%s", path).WithOp("Lock", "FileLock").WithCause(ErrLocked)
		}
		return nil, fileError(err, "Lock", path)
	}

	return &FileLock{file: file}, nil
}

// Unlock releases the lock and closes its descriptor.
func (l *FileLock) Unlock() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	if cerr := l.file.Close(); err == nil {
		err = cerr
	}
	l.file = nil
	return err
}
