//go:build !unix

package stream

import "errors"

// FileLock is a no-op on platforms without flock.
type FileLock struct{}

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("file is locked by another process")

// Lock is a no-op on platforms without flock.
func Lock(path string, exclusive bool) (*FileLock, error) {
	return &FileLock{}, nil
}

// Unlock is a no-op on platforms without flock.
func (l *FileLock) Unlock() error {
	return nil
}
