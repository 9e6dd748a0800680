// Package archive compresses log files into zstd streams and restores them.
// Packed files are plain zstd frames, readable by the zstd command line tool.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/polysync/rnr/internal/logfile"
	"github.com/polysync/rnr/internal/logger"
	"github.com/polysync/rnr/internal/rnrerr"
)

// Extension is appended to packed file names
const Extension = ".zst"

// ParseLevel maps a level name (fastest, default, better, best) to a zstd
// encoder level
func ParseLevel(s string) (zstd.EncoderLevel, error) {
	switch strings.ToLower(s) {
	case "", "default":
		return zstd.SpeedDefault, nil
	case "fastest":
		return zstd.SpeedFastest, nil
	case "better":
		return zstd.SpeedBetterCompression, nil
	case "best":
		return zstd.SpeedBestCompression, nil
	default:
		return 0, rnrerr.ConfigError{Reason: fmt.Sprintf("invalid compression level: %s", s)}
	}
}

// Stats reports the sizes on both sides of a pack or unpack
type Stats struct {
	Records   uint64
	RawBytes  int64
	PackBytes int64
}

// Ratio returns raw/packed, 0 when nothing was packed
func (s Stats) Ratio() float64 {
	if s.PackBytes == 0 {
		return 0
	}
	return float64(s.RawBytes) / float64(s.PackBytes)
}

// PackedName returns the default archive name for a log file
func PackedName(path string) string {
	return path + Extension
}

// UnpackedName strips the archive extension, or appends ".rnr" when absent
func UnpackedName(path string) string {
	if trimmed, ok := strings.CutSuffix(path, Extension); ok {
		return trimmed
	}
	return path + ".rnr"
}

// Pack validates that src is a readable log file and compresses it to dst
func Pack(ctx context.Context, src, dst string, level string) (Stats, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return Stats{}, err
	}

	// refuse to pack anything that is not a log file
	r, err := logfile.OpenForRead(ctx, src)
	if err != nil {
		return Stats{}, err
	}
	attrs := r.Attributes()
	if err := r.Close(); err != nil {
		return Stats{}, err
	}

	in, err := os.Open(src)
	if err != nil {
		return Stats{}, rnrerr.IOError{Path: src, Err: err}
	}
	defer in.Close()

	stats := Stats{Records: attrs.DataCount}
	err = writeAtomic(dst, func(out io.Writer) error {
		enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(lvl))
		if err != nil {
			return err
		}
		n, err := io.Copy(enc, contextReader{ctx: ctx, r: in})
		if err != nil {
			//nolint:errcheck // Copy error is reported
			_ = enc.Close()
			return err
		}
		stats.RawBytes = n
		return enc.Close()
	})
	if err != nil {
		return Stats{}, err
	}

	stats.PackBytes, err = fileSize(dst)
	if err != nil {
		return Stats{}, err
	}

	lg := logger.WithComponent("archive")
	lg.Info().
		Str("source", src).
		Str("target", dst).
		Int64("raw_bytes", stats.RawBytes).
		Int64("packed_bytes", stats.PackBytes).
		Msg("Log file packed")
	return stats, nil
}

// Unpack decompresses src into dst and checks the result opens as a log file.
// dst is not left behind when either step fails.
func Unpack(ctx context.Context, src, dst string) (Stats, error) {
	in, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return Stats{}, logfile.FileNotFoundError{Path: src}
		}
		return Stats{}, rnrerr.IOError{Path: src, Err: err}
	}
	defer in.Close()

	dec, err := zstd.NewReader(in)
	if err != nil {
		return Stats{}, rnrerr.IOError{Path: src, Err: err}
	}
	defer dec.Close()

	stats := Stats{}
	err = writeAtomic(dst, func(out io.Writer) error {
		n, err := io.Copy(out, contextReader{ctx: ctx, r: dec})
		if err != nil {
			return CorruptArchiveError{Path: src, Err: err}
		}
		stats.RawBytes = n
		return nil
	})
	if err != nil {
		return Stats{}, err
	}

	r, err := logfile.OpenForRead(ctx, dst)
	if err != nil {
		//nolint:errcheck // The open error is reported
		_ = os.Remove(dst)
		return Stats{}, err
	}
	stats.Records = r.Attributes().DataCount
	if err := r.Close(); err != nil {
		return Stats{}, err
	}

	stats.PackBytes, err = fileSize(src)
	if err != nil {
		return Stats{}, err
	}

	lg := logger.WithComponent("archive")
	lg.Info().
		Str("source", src).
		Str("target", dst).
		Uint64("records", stats.Records).
		Msg("Log file unpacked")
	return stats, nil
}

// writeAtomic writes through a temp file in dst's directory and renames it
func writeAtomic(dst string, write func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return rnrerr.IOError{Path: dst, Err: err}
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".tmp-*")
	if err != nil {
		return rnrerr.IOError{Path: dst, Err: err}
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		//nolint:errcheck // The write error is reported
		_ = tmp.Close()
		if rnrerr.KindOf(err) != rnrerr.KindUnknown || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return rnrerr.IOError{Path: dst, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		//nolint:errcheck // The sync error is reported
		_ = tmp.Close()
		return rnrerr.IOError{Path: dst, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return rnrerr.IOError{Path: dst, Err: err}
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return rnrerr.IOError{Path: dst, Err: err}
	}
	return nil
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, rnrerr.IOError{Path: path, Err: err}
	}
	return info.Size(), nil
}

// contextReader stops a copy once ctx is done
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// CorruptArchiveError indicates a packed file that does not decompress
type CorruptArchiveError struct {
	Path string
	Err  error
}

func (e CorruptArchiveError) Error() string {
	return fmt.Sprintf("corrupt archive %s: %v", e.Path, e.Err)
}

func (e CorruptArchiveError) Unwrap() error { return e.Err }

// Kind implements rnrerr.Kinded
func (e CorruptArchiveError) Kind() rnrerr.Kind { return rnrerr.KindFormat }
