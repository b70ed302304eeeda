// Package stream owns the physical file handles of the storage core: a
// seekable Stream abstraction over *os.File and a bounded Pool that rents
// handles to one caller at a time.
package stream

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"

	dberror "litepage/pkg/error"
)

// Stream is one open handle to a physical file. Its cursor belongs to
// whoever currently holds the handle.
type Stream interface {
	io.Reader
	io.Writer
	io.Seeker

	// Sync flushes written data to stable storage.
	Sync() error

	// Size returns the current length of the file in bytes.
	Size() (int64, error)

	// Truncate changes the length of the file.
	Truncate(size int64) error

	// Close releases the OS handle.
	Close() error
}

// Factory opens a new handle each time it is called.
type Factory func() (Stream, error)

// FileOptions controls how FileFactory opens handles.
type FileOptions struct {
	ReadOnly bool
}

// FileStream is a Stream over an *os.File.
type FileStream struct {
	file *os.File
	path string
	id   uint64
}

var streamIDs atomic.Uint64

// OpenFile opens path as a FileStream. Writable handles create the file
// when it does not exist.
func OpenFile(path string, opts FileOptions) (*FileStream, error) {
	if path == "" {
		return nil, dberror.New(dberror.ErrCategoryUser, dberror.CodeInvalidConfig, "path cannot be empty").
			WithOp("OpenFile", "FileStream")
	}

	flag := os.O_RDWR | os.O_CREATE
	if opts.ReadOnly {
		flag = os.O_RDONLY
	}

	file, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, fileError(err, "OpenFile", path)
	}

	return &FileStream{
		file: file,
		path: path,
		id:   streamIDs.Add(1),
	}, nil
}

// FileFactory returns a Factory that opens path with opts.
func FileFactory(path string, opts FileOptions) Factory {
	return func() (Stream, error) {
		return OpenFile(path, opts)
	}
}

// Read implements io.Reader.
func (f *FileStream) Read(p []byte) (int, error) {
	return f.file.Read(p)
}

// Write implements io.Writer.
func (f *FileStream) Write(p []byte) (int, error) {
	return f.file.Write(p)
}

// Seek implements io.Seeker.
func (f *FileStream) Seek(offset int64, whence int) (int64, error) {
	return f.file.Seek(offset, whence)
}

// Sync flushes file data to disk. On Linux only data is flushed
// (fdatasync); elsewhere it falls back to a full fsync.
func (f *FileStream) Sync() error {
	if err := datasync(f.file); err != nil {
		return fileError(err, "Sync", f.path)
	}
	return nil
}

// Size returns the current file length.
func (f *FileStream) Size() (int64, error) {
	info, err := f.file.Stat()
	if err != nil {
		return 0, fileError(err, "Size", f.path)
	}
	return info.Size(), nil
}

// Truncate changes the file length.
func (f *FileStream) Truncate(size int64) error {
	return f.file.Truncate(size)
}

// Close closes the OS handle. Closing twice returns an error from os.File.
func (f *FileStream) Close() error {
	return f.file.Close()
}

// Path returns the path the handle was opened with.
func (f *FileStream) Path() string {
	return f.path
}

// String returns a string representation of the handle
func (f *FileStream) String() string {
	return fmt.Sprintf("FileStream(%s#%d)", f.path, f.id)
}

func fileError(cause error, op, path string) error {
	return dberror.Wrap(cause, dberror.CodeIOFailure, op, "FileStream").WithDetail("%s", path)
}
