package cli

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/polysync/rnr/internal/logfile"
	"github.com/polysync/rnr/internal/msgtype"
	"github.com/polysync/rnr/internal/query"
	"github.com/polysync/rnr/internal/rnrerr"
)

// previewLen bounds the payload bytes shown per record in text output
const previewLen = 24

// NewLogfileCommand creates the logfile command group.
func NewLogfileCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "logfile",
		Aliases: []string{"lf"},
		Short:   "Inspect, write and convert log files",
		Long: `Work with record & replay log files on the local filesystem.

Subcommands:
  info    - Show header attributes and timestamp bounds
  dump    - List records in order
  seek    - Show records from an index or timestamp
  tail    - Show the last records
  write   - Write a synthetic log file
  export  - Export records into a SQLite database
  pack    - Compress a log file with zstd
  unpack  - Restore a packed log file`,
	}

	cmd.AddCommand(newInfoCommand(rootOpts))
	cmd.AddCommand(newDumpCommand(rootOpts))
	cmd.AddCommand(newSeekCommand(rootOpts))
	cmd.AddCommand(newTailCommand(rootOpts))
	cmd.AddCommand(newWriteCommand(rootOpts))
	cmd.AddCommand(newExportCommand(rootOpts))
	cmd.AddCommand(newPackCommand(rootOpts))
	cmd.AddCommand(newUnpackCommand(rootOpts))

	return cmd
}

// InfoOutput is the JSON form of logfile info
type InfoOutput struct {
	Path           string    `json:"path"`
	Version        uint16    `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	SessionTag     string    `json:"session_tag"`
	Records        uint64    `json:"records"`
	Checksums      bool      `json:"checksums"`
	FirstTimestamp uint64    `json:"first_timestamp"`
	LastTimestamp  uint64    `json:"last_timestamp"`
	DurationMicros int64     `json:"duration_us"`
	Recovered      bool      `json:"recovered"`
}

// RecordOutput is the JSON form of one record
type RecordOutput struct {
	Index       uint64 `json:"index"`
	Timestamp   uint64 `json:"timestamp"`
	Type        string `json:"type"`
	TypeID      uint32 `json:"type_id"`
	Size        uint32 `json:"size"`
	Payload     []byte `json:"payload"`
	Decoded     any    `json:"decoded,omitempty"`
	DecodeError string `json:"decode_error,omitempty"`
}

// recordView selects how payloads are rendered
type recordView struct {
	hex    bool
	decode bool
}

func (v *recordView) bind(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&v.hex, "hex", false, "show payloads as hex")
	cmd.Flags().BoolVar(&v.decode, "decode", false, "decode payloads of types with a known layout (gps, can_frame)")
}

func newInfoCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info <file>",
		Short: "Show log file attributes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := logfile.OpenForRead(cmd.Context(), args[0])
			if err != nil {
				return fail(rnrerr.WithOp("info", err))
			}
			defer r.Close()

			a := r.Attributes()
			out := InfoOutput{
				Path:           a.Path,
				Version:        a.Version,
				CreatedAt:      a.CreatedAt,
				SessionTag:     sessionTag(a.SessionTag),
				Records:        a.DataCount,
				Checksums:      a.Checksums,
				FirstTimestamp: a.FirstTimestamp,
				LastTimestamp:  a.LastTimestamp,
				DurationMicros: a.Duration().Microseconds(),
				Recovered:      a.Recovered,
			}

			w := cmd.OutOrStdout()
			if opts.JSON() {
				return writeJSON(w, out)
			}
			field(w, "path", out.Path)
			field(w, "version", out.Version)
			field(w, "created", out.CreatedAt.Format(time.RFC3339))
			field(w, "session", out.SessionTag)
			field(w, "records", out.Records)
			field(w, "checksums", out.Checksums)
			field(w, "first", out.FirstTimestamp)
			field(w, "last", out.LastTimestamp)
			field(w, "duration", a.Duration())
			if out.Recovered {
				field(w, "recovered", "header count was stale; records recovered by scan")
			}
			return nil
		},
	}
}

func newDumpCommand(opts *RootOptions) *cobra.Command {
	var (
		limit int
		types string
		where string
		view  recordView
	)

	cmd := &cobra.Command{
		Use:   "dump <file>",
		Short: "List records in file order",
		Example: `  rnrctl logfile dump drive.rnr --limit 20
  rnrctl logfile dump drive.rnr --types gps,imu --hex
  rnrctl logfile dump drive.rnr --types gps --decode --format json
  rnrctl logfile dump drive.rnr --where 'type == "can_frame" && size > 8'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return usageErr("dump", "--limit must be >= 0")
			}
			filter, err := opts.registry.ParseTypeList(types)
			if err != nil {
				return usageErr("dump", "%v", err)
			}
			pred, err := query.Compile(where, opts.registry)
			if err != nil {
				return usageErr("dump", "%v", err)
			}

			r, err := logfile.OpenForRead(cmd.Context(), args[0])
			if err != nil {
				return fail(rnrerr.WithOp("dump", err))
			}
			defer r.Close()

			var recs []*logfile.Record
			it := r.Iterator()
			for limit == 0 || len(recs) < limit {
				rec, err := it.Next()
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return fail(rnrerr.WithOp("dump", err))
				}
				if len(filter) > 0 && !slices.Contains(filter, rec.Type) {
					continue
				}
				if ok, err := pred.Match(rec); err != nil {
					return fail(rnrerr.WithOp("dump", err))
				} else if !ok {
					continue
				}
				recs = append(recs, rec)
			}
			return printRecords(opts, cmd.OutOrStdout(), recs, view)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "maximum records to show (0 = all)")
	cmd.Flags().StringVar(&types, "types", "", "comma separated message types to show")
	cmd.Flags().StringVar(&where, "where", "", "record predicate (fields: index, timestamp, size, type, type_id, payload)")
	view.bind(cmd)

	return cmd
}

func newSeekCommand(opts *RootOptions) *cobra.Command {
	var (
		index uint64
		ts    uint64
		count int
		view  recordView
	)

	cmd := &cobra.Command{
		Use:   "seek <file>",
		Short: "Show records from an index or timestamp",
		Long: `Show records starting at a record index, or at the first record whose
timestamp is at or after --time.`,
		Example: `  rnrctl logfile seek drive.rnr --index 100 --count 5
  rnrctl logfile seek drive.rnr --time 1700000000000000`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			byIndex, byTime := cmd.Flags().Changed("index"), cmd.Flags().Changed("time")
			if byIndex == byTime {
				return usageErr("seek", "exactly one of --index or --time is required")
			}
			if count < 1 {
				return usageErr("seek", "--count must be >= 1")
			}

			r, err := logfile.OpenForRead(cmd.Context(), args[0])
			if err != nil {
				return fail(rnrerr.WithOp("seek", err))
			}
			defer r.Close()

			start := index
			if byTime {
				start, err = r.FindByTimestamp(ts)
				if err != nil {
					return fail(rnrerr.WithOp("seek", err))
				}
			}
			if start >= r.Attributes().DataCount {
				return fail(rnrerr.WithOp("seek", logfile.RecordOutOfRangeError{
					Index: start,
					Count: r.Attributes().DataCount,
				}))
			}

			it, err := r.IteratorAt(start)
			if err != nil {
				return fail(rnrerr.WithOp("seek", err))
			}
			var recs []*logfile.Record
			for len(recs) < count {
				rec, err := it.Next()
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return fail(rnrerr.WithOp("seek", err))
				}
				recs = append(recs, rec)
			}
			return printRecords(opts, cmd.OutOrStdout(), recs, view)
		},
	}

	cmd.Flags().Uint64Var(&index, "index", 0, "record index to start at")
	cmd.Flags().Uint64Var(&ts, "time", 0, "timestamp in microseconds to start at")
	cmd.Flags().IntVar(&count, "count", 1, "number of records to show")
	view.bind(cmd)
	cmd.MarkFlagsMutuallyExclusive("index", "time")

	return cmd
}

func newTailCommand(opts *RootOptions) *cobra.Command {
	var (
		n    int
		view recordView
	)

	cmd := &cobra.Command{
		Use:   "tail <file>",
		Short: "Show the last records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if n < 1 {
				return usageErr("tail", "-n must be >= 1")
			}

			r, err := logfile.OpenForRead(cmd.Context(), args[0])
			if err != nil {
				return fail(rnrerr.WithOp("tail", err))
			}
			defer r.Close()

			it, err := r.IteratorAt(r.Attributes().DataCount)
			if err != nil {
				return fail(rnrerr.WithOp("tail", err))
			}
			var recs []*logfile.Record
			for len(recs) < n {
				rec, err := it.Prev()
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return fail(rnrerr.WithOp("tail", err))
				}
				recs = append(recs, rec)
			}
			slices.Reverse(recs)
			return printRecords(opts, cmd.OutOrStdout(), recs, view)
		},
	}

	cmd.Flags().IntVarP(&n, "lines", "n", 10, "number of records to show")
	view.bind(cmd)

	return cmd
}

func printRecords(opts *RootOptions, w io.Writer, recs []*logfile.Record, view recordView) error {
	if opts.JSON() {
		out := make([]RecordOutput, 0, len(recs))
		for _, rec := range recs {
			ro := RecordOutput{
				Index:     rec.Index,
				Timestamp: rec.Timestamp,
				Type:      opts.registry.Name(rec.Type),
				TypeID:    uint32(rec.Type),
				Size:      rec.Size,
				Payload:   rec.Payload,
			}
			if view.decode {
				ro.Decoded, ro.DecodeError = decodeRecord(opts.registry, rec)
			}
			out = append(out, ro)
		}
		return writeJSON(w, out)
	}

	fmt.Fprintf(w, "%6s %14s %-12s %6s %s\n", "INDEX", "TIMESTAMP", "TYPE", "SIZE", "PAYLOAD")
	for _, rec := range recs {
		shown := preview(rec.Payload, view.hex)
		if view.decode {
			if v, errText := decodeRecord(opts.registry, rec); errText != "" {
				shown = "<" + errText + ">"
			} else if s, ok := v.(fmt.Stringer); ok {
				shown = s.String()
			}
		}
		fmt.Fprintf(w, "%6d %14d %-12s %6d %s\n",
			rec.Index, rec.Timestamp, opts.registry.Name(rec.Type), rec.Size, shown)
	}
	return nil
}

// decodeRecord returns the decoded payload, or the decode failure as text.
// Types without a decoder yield neither.
func decodeRecord(reg *msgtype.Registry, rec *logfile.Record) (any, string) {
	v, err := rec.Message().Decode(reg)
	var none msgtype.NoDecoderError
	switch {
	case errors.As(err, &none):
		return nil, ""
	case err != nil:
		return nil, err.Error()
	}
	if _, raw := v.([]byte); raw {
		// byte arrays are already shown as the payload
		return nil, ""
	}
	return v, ""
}

// preview renders up to previewLen payload bytes, quoted when they are
// valid UTF-8 and hex otherwise
func preview(payload []byte, showHex bool) string {
	head, more := payload, ""
	if len(head) > previewLen {
		head, more = head[:previewLen], "..."
	}
	if showHex || !utf8.Valid(head) {
		return hex.EncodeToString(head) + more
	}
	return strconv.Quote(string(head)) + more
}

func sessionTag(tag uint64) string {
	if tag == 0 {
		return "-"
	}
	return fmt.Sprintf("%016x", tag)
}

// typeFilter builds a filter from include/exclude flag values
func typeFilter(reg *msgtype.Registry, include, exclude []string) (msgtype.Filter, error) {
	var f msgtype.Filter
	for _, s := range include {
		t, err := reg.Resolve(s)
		if err != nil {
			return f, err
		}
		f.Include = append(f.Include, t)
	}
	for _, s := range exclude {
		t, err := reg.Resolve(s)
		if err != nil {
			return f, err
		}
		f.Exclude = append(f.Exclude, t)
	}
	return f, f.Validate()
}
