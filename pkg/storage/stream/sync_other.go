//go:build !linux

package stream

import "os"

func datasync(f *os.File) error {
	return f.Sync()
}
