package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"litepage/pkg/disk"
	dberror "litepage/pkg/error"
	"litepage/pkg/primitives"
	"litepage/pkg/ui/base"

	"github.com/dustin/go-humanize"
)

// openFiles opens the page files read only.
func openFiles(path, password string, pageSize int) (*disk.Service, error) {
	cfg := disk.DefaultConfig(path)
	cfg.PageSize = pageSize
	cfg.Password = password
	cfg.ReadOnly = true
	cfg.MaxStreams = 2
	return disk.Open(cfg)
}

// fileInfo describes one page file on disk.
type fileInfo struct {
	Mode  primitives.FileMode
	Path  string
	Size  int64
	Pages int64
}

func describe(svc *disk.Service, mode primitives.FileMode) (fileInfo, error) {
	cfg := svc.Config()
	info := fileInfo{Mode: mode, Path: cfg.DataPath}
	if mode == primitives.Log {
		info.Path = cfg.LogPath
	}

	st, err := os.Stat(info.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return info, nil
	}
	if err != nil {
		return info, err
	}

	info.Size = st.Size()
	info.Pages = info.Size / int64(cfg.PageSize+svc.Codec().Overhead())
	return info, nil
}

// pageReport is the outcome of reading one page.
type pageReport struct {
	Index    primitives.PageIndex
	Position primitives.Position
	Mode     primitives.FileMode
	Digest   string
	Zero     bool
	Err      error
}

func (r pageReport) status() string {
	switch {
	case dberror.IsDecryption(r.Err):
		return "UNREADABLE (decryption failed)"
	case r.Err != nil:
		return "ERROR " + r.Err.Error()
	case r.Zero:
		return "empty"
	default:
		return "ok"
	}
}

// readPage reads one page and returns its report and a copy of its bytes.
func readPage(ctx context.Context, svc *disk.Service, mode primitives.FileMode, index primitives.PageIndex) (pageReport, []byte, error) {
	pageSize := svc.Config().PageSize
	rep := pageReport{Index: index, Position: primitives.PositionOf(index, pageSize), Mode: mode}

	r, err := svc.GetReader(ctx)
	if err != nil {
		return rep, nil, err
	}
	defer r.Close()

	buf, err := r.ReadPage(rep.Position, false, mode)
	if err != nil {
		if dberror.IsDecryption(err) || dberror.IsIO(err) {
			rep.Err = err
			return rep, nil, nil
		}
		return rep, nil, err
	}
	defer svc.Cache().Release(buf)

	rep.Digest = buf.DigestHex()
	rep.Zero = buf.Full().IsZero()
	return rep, append([]byte(nil), buf.Bytes()...), nil
}

// verify reads every page of mode and reports each one. Only failures
// unrelated to page contents abort the scan.
func verify(ctx context.Context, svc *disk.Service, mode primitives.FileMode) ([]pageReport, error) {
	info, err := describe(svc, mode)
	if err != nil {
		return nil, err
	}

	reports := make([]pageReport, 0, info.Pages)
	for i := int64(0); i < info.Pages; i++ {
		rep, _, err := readPage(ctx, svc, mode, primitives.PageIndex(i))
		if err != nil {
			return reports, err
		}
		reports = append(reports, rep)
	}
	return reports, nil
}

func writeVerify(w io.Writer, reports []pageReport, verbose bool) (failed int) {
	for _, rep := range reports {
		if rep.Err != nil {
			failed++
		}
		if verbose || rep.Err != nil {
			digest := rep.Digest
			if len(digest) > 16 {
				digest = digest[:16]
			}
			fmt.Fprintf(w, "%-4s page %-6d @%-10d %-16s %s\n", rep.Mode, rep.Index, rep.Position, digest, rep.status())
		}
	}
	return failed
}

// dump writes a header and hex dump of one page.
func dump(ctx context.Context, w io.Writer, svc *disk.Service, mode primitives.FileMode, index primitives.PageIndex, full bool) error {
	rep, data, err := readPage(ctx, svc, mode, index)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "page     %s (index %d)\n", primitives.PageIdentity{Position: rep.Position, Mode: mode}, index)
	fmt.Fprintf(w, "status   %s\n", rep.status())
	if rep.Err != nil {
		return rep.Err
	}
	fmt.Fprintf(w, "blake3   %s\n\n", rep.Digest)

	rows := base.CompactRows(0, data)
	if full {
		rows = base.HexRows(0, data)
	}
	for _, row := range rows {
		fmt.Fprintln(w, row)
	}
	return nil
}

// writeStats prints the size and page count of both files.
func writeStats(w io.Writer, svc *disk.Service) error {
	cfg := svc.Config()
	fmt.Fprintf(w, "page size   %s\n", humanize.IBytes(uint64(cfg.PageSize)))
	fmt.Fprintf(w, "encrypted   %t (overhead %d bytes per page)\n", cfg.Password != "", svc.Codec().Overhead())

	for _, mode := range []primitives.FileMode{primitives.Data, primitives.Log} {
		info, err := describe(svc, mode)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%-4s file   %s: %s, %s pages\n",
			mode, info.Path, humanize.Bytes(uint64(info.Size)), humanize.Comma(info.Pages))
	}
	return nil
}
