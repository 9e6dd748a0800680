package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polysync/rnr/internal/logfile"
	"github.com/polysync/rnr/internal/msgtype"
	"github.com/polysync/rnr/internal/testutil"
)

var fixtureSession = uuid.MustParse("00000000-0000-0000-0102-030405060708")

// writeFixture writes drive.rnr with three records, the middle one gps
func writeFixture(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "drive.rnr")
	w, err := logfile.Open(context.Background(), path, logfile.WriterOptions{
		SessionID: fixtureSession,
		Now: func() time.Time {
			return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		},
	})
	require.NoError(t, err)
	for i, m := range testutil.Messages(3, 1000, 100) {
		if i == 1 {
			m.Type = msgtype.GPS
		}
		_, err := w.WriteRecord(m.Type, m.Timestamp, m.Payload)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return path
}

// run executes rnrctl and returns the exit code with stdout and stderr
func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func assertGolden(t *testing.T, name, dir, got string) {
	t.Helper()
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, []byte(strings.ReplaceAll(got, dir, "$DIR")))
}

func TestLogfileGolden(t *testing.T) {
	dir := testutil.TempDir(t)
	path := writeFixture(t, dir)

	tests := []struct {
		name string
		args []string
	}{
		{"logfile_info", []string{"logfile", "info", path}},
		{"logfile_info_json", []string{"logfile", "info", path, "--format", "json"}},
		{"logfile_dump", []string{"logfile", "dump", path}},
		{"logfile_dump_hex", []string{"logfile", "dump", path, "--hex", "--limit", "2"}},
		{"logfile_dump_gps_json", []string{"logfile", "dump", path, "--types", "gps", "--format", "json"}},
		{"logfile_seek_time", []string{"logfile", "seek", path, "--time", "1050", "--count", "5"}},
		{"logfile_tail", []string{"logfile", "tail", path, "-n", "1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, stdout, stderr := run(t, tt.args...)
			require.Equal(t, ExitSuccess, code, stderr)
			assertGolden(t, tt.name, dir, stdout)
		})
	}
}

func TestLogfileInfo_Missing(t *testing.T) {
	dir := testutil.TempDir(t)

	code, stdout, stderr := run(t, "logfile", "info", filepath.Join(dir, "missing.rnr"))
	assert.Equal(t, ExitFailure, code)
	assert.Empty(t, stdout)
	assertGolden(t, "logfile_info_missing", dir, stderr)
}

func TestLogfileSeek(t *testing.T) {
	dir := testutil.TempDir(t)
	path := writeFixture(t, dir)

	t.Run("by index", func(t *testing.T) {
		code, stdout, stderr := run(t, "logfile", "seek", path, "--index", "1", "--format", "json")
		require.Equal(t, ExitSuccess, code, stderr)

		var recs []RecordOutput
		require.NoError(t, json.Unmarshal([]byte(stdout), &recs))
		require.Len(t, recs, 1)
		assert.Equal(t, uint64(1100), recs[0].Timestamp)
		assert.Equal(t, "gps", recs[0].Type)
	})

	t.Run("index out of range", func(t *testing.T) {
		code, _, stderr := run(t, "logfile", "seek", path, "--index", "3")
		assert.Equal(t, ExitFailure, code)
		assert.Contains(t, stderr, "error [OutOfRangeError] seek:")
	})

	t.Run("time after last record", func(t *testing.T) {
		code, _, stderr := run(t, "logfile", "seek", path, "--time", "5000")
		assert.Equal(t, ExitFailure, code)
		assert.Contains(t, stderr, "OutOfRangeError")
	})

	t.Run("requires index or time", func(t *testing.T) {
		code, _, stderr := run(t, "logfile", "seek", path)
		assert.Equal(t, ExitCommandError, code)
		assert.Contains(t, stderr, "error [UsageError] seek:")
	})
}

func TestLogfileDump_EmptyFile(t *testing.T) {
	dir := testutil.TempDir(t)
	path := filepath.Join(dir, "empty.rnr")
	testutil.WriteLogFile(t, path, nil)

	code, stdout, stderr := run(t, "logfile", "dump", path, "--format", "json")
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Equal(t, "[]\n", stdout)
}

func TestLogfileDump_UnknownType(t *testing.T) {
	dir := testutil.TempDir(t)
	path := writeFixture(t, dir)

	code, _, stderr := run(t, "logfile", "dump", path, "--types", "sonar")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, `unknown message type "sonar"`)
}

func TestLogfileWrite(t *testing.T) {
	dir := testutil.TempDir(t)
	path := filepath.Join(dir, "demo.rnr")

	code, stdout, stderr := run(t, "logfile", "write", path,
		"--type", "imu", "--count", "4", "--interval", "10ms", "--start", "5000",
		"--session", fixtureSession.String(), "--format", "json")
	require.Equal(t, ExitSuccess, code, stderr)

	var out WriteOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.Equal(t, uint64(4), out.Records)
	assert.Equal(t, uint64(5000), out.First)
	assert.Equal(t, uint64(35000), out.Last)

	r := testutil.OpenLogFile(t, path)
	attrs := r.Attributes()
	assert.Equal(t, uint64(4), attrs.DataCount)
	assert.Equal(t, logfile.SessionTag(fixtureSession), attrs.SessionTag)
	assert.True(t, attrs.Checksums)

	rec, err := r.Seek(3)
	require.NoError(t, err)
	assert.Equal(t, msgtype.IMU, rec.Type)
	assert.Equal(t, "msg-3", string(rec.Payload))
}

func TestLogfileWrite_InvalidInput(t *testing.T) {
	dir := testutil.TempDir(t)
	path := filepath.Join(dir, "demo.rnr")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"negative count", []string{"--count", "-1"}, "--count"},
		{"unknown type", []string{"--type", "sonar"}, "sonar"},
		{"interval fsync", []string{"--fsync", "interval"}, "only available in rnrd"},
		{"bad fsync", []string{"--fsync", "sometimes"}, "invalid fsync policy"},
		{"bad session", []string{"--session", "nope"}, "invalid session id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"logfile", "write", path}, tt.args...)
			code, _, stderr := run(t, args...)
			assert.Equal(t, ExitCommandError, code)
			assert.Contains(t, stderr, tt.want)
			testutil.AssertFileNotExists(t, path)
		})
	}
}

func TestLogfileExport(t *testing.T) {
	dir := testutil.TempDir(t)
	path := writeFixture(t, dir)
	dbPath := filepath.Join(dir, "drive.db")

	code, stdout, stderr := run(t, "logfile", "export", path, dbPath, "--exclude", "gps", "--format", "json")
	require.Equal(t, ExitSuccess, code, stderr)

	var out ExportOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.Equal(t, uint64(2), out.Exported)
	assert.Equal(t, uint64(1), out.Skipped)
	testutil.AssertFileExists(t, dbPath)

	code, _, stderr = run(t, "logfile", "export", path, dbPath, "--include", "gps", "--exclude", "gps")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "both included and excluded")
}

func TestLogfilePackUnpack(t *testing.T) {
	dir := testutil.TempDir(t)
	path := writeFixture(t, dir)
	restored := filepath.Join(dir, "restored.rnr")

	code, stdout, stderr := run(t, "logfile", "pack", path, "--level", "best", "--format", "json")
	require.Equal(t, ExitSuccess, code, stderr)

	var packed ArchiveOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &packed))
	assert.Equal(t, path+".zst", packed.Destination)
	assert.Equal(t, uint64(3), packed.Records)
	testutil.AssertFileExists(t, packed.Destination)

	code, _, stderr = run(t, "logfile", "unpack", packed.Destination, "-o", restored)
	require.Equal(t, ExitSuccess, code, stderr)

	r := testutil.OpenLogFile(t, restored)
	assert.Equal(t, uint64(3), r.Attributes().DataCount)
	assert.Equal(t, logfile.SessionTag(fixtureSession), r.Attributes().SessionTag)

	code, _, stderr = run(t, "logfile", "pack", path, "--level", "ludicrous")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "ludicrous")
}

func TestLogfileDump_Where(t *testing.T) {
	dir := testutil.TempDir(t)
	path := writeFixture(t, dir)

	code, stdout, stderr := run(t, "logfile", "dump", path, "--format", "json",
		"--where", `type != "gps" && timestamp > 1000`)
	require.Equal(t, ExitSuccess, code, stderr)

	var recs []RecordOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, uint64(2), recs[0].Index)

	code, _, stderr = run(t, "logfile", "dump", path, "--where", "speed > 3")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, `unknown field "speed"`)
}

func TestLogfileDump_Decode(t *testing.T) {
	dir := testutil.TempDir(t)
	path := filepath.Join(dir, "decode.rnr")

	fix, err := msgtype.GPSFix{Latitude: 42.5, Longitude: -83.25, Altitude: 200, Speed: 10, Heading: 90}.MarshalBinary()
	require.NoError(t, err)
	frame, err := msgtype.CANFrameData{ID: 0x244, Data: []byte{0x01, 0xff}}.MarshalBinary()
	require.NoError(t, err)
	testutil.WriteLogFile(t, path, []msgtype.Message{
		{Type: msgtype.GPS, Timestamp: 100, Payload: fix},
		{Type: msgtype.CANFrame, Timestamp: 200, Payload: frame},
		{Type: msgtype.GPS, Timestamp: 300, Payload: []byte("no fix")},
		{Type: msgtype.IMU, Timestamp: 400, Payload: []byte("opaque")},
	})

	code, stdout, stderr := run(t, "logfile", "dump", path, "--decode", "--format", "json")
	require.Equal(t, ExitSuccess, code, stderr)

	var recs []RecordOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &recs))
	require.Len(t, recs, 4)

	gps, ok := recs[0].Decoded.(map[string]any)
	require.True(t, ok, "decoded gps: %#v", recs[0].Decoded)
	assert.Equal(t, 42.5, gps["latitude"])
	assert.Equal(t, -83.25, gps["longitude"])

	can, ok := recs[1].Decoded.(map[string]any)
	require.True(t, ok, "decoded can: %#v", recs[1].Decoded)
	assert.Equal(t, float64(0x244), can["id"])

	assert.Nil(t, recs[2].Decoded)
	assert.Contains(t, recs[2].DecodeError, "malformed payload")
	assert.Nil(t, recs[3].Decoded)
	assert.Empty(t, recs[3].DecodeError)

	code, stdout, stderr = run(t, "logfile", "dump", path, "--decode")
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Contains(t, stdout, "lat=42.500000 lon=-83.250000")
	assert.Contains(t, stdout, "id=244 dlc=2 data=01 ff")
	assert.Contains(t, stdout, "<decode gps: malformed payload")
	assert.Contains(t, stdout, `"opaque"`)
}
