// Package testutil holds helpers shared by package tests.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/polysync/rnr/internal/logfile"
	"github.com/polysync/rnr/internal/msgtype"
)

// TempDir returns a directory removed when the test ends. Its path has
// no symlinks, so it can be compared against paths reported by rnr code.
func TempDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return dir
}

// DataDir creates the rnrd data layout (sessions/ and catalog/) under base
func DataDir(t *testing.T, base string) string {
	t.Helper()
	data := filepath.Join(base, "data")
	for _, sub := range []string{"sessions", "catalog"} {
		require.NoError(t, os.MkdirAll(filepath.Join(data, sub), 0o755))
	}
	return data
}

// AssertFileExists fails the test when path is missing
func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	require.FileExists(t, path)
}

// AssertFileNotExists fails the test when path exists
func AssertFileNotExists(t *testing.T, path string) {
	t.Helper()
	require.NoFileExists(t, path)
}

// Messages builds n byte-array messages spaced step microseconds apart,
// starting at start. Payloads are "msg-<i>".
func Messages(n int, start, step uint64) []msgtype.Message {
	out := make([]msgtype.Message, n)
	for i := range out {
		out[i] = msgtype.Message{
			Type:      msgtype.ByteArray,
			Timestamp: start + uint64(i)*step,
			Payload:   []byte("msg-" + strconv.Itoa(i)),
		}
	}
	return out
}

// WriteLogFile writes msgs to a new log file at path and closes it
func WriteLogFile(t *testing.T, path string, msgs []msgtype.Message) {
	t.Helper()
	w, err := logfile.Open(context.Background(), path, logfile.WriterOptions{})
	require.NoError(t, err)
	for _, m := range msgs {
		_, err := w.WriteRecord(m.Type, m.Timestamp, m.Payload)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
}

// OpenLogFile opens path for reading and closes it when the test ends
func OpenLogFile(t *testing.T, path string) *logfile.Reader {
	t.Helper()
	r, err := logfile.OpenForRead(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}
