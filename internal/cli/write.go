package cli

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/polysync/rnr/internal/logfile"
	"github.com/polysync/rnr/internal/rnrerr"
)

// WriteOutput is the JSON form of logfile write
type WriteOutput struct {
	Path      string `json:"path"`
	Records   uint64 `json:"records"`
	SessionID string `json:"session_id"`
	First     uint64 `json:"first_timestamp"`
	Last      uint64 `json:"last_timestamp"`
}

type writeOptions struct {
	msgType     string
	count       int
	interval    time.Duration
	start       uint64
	payload     string
	fsync       string
	noChecksums bool
	session     string
	realtime    bool
}

func newWriteCommand(opts *RootOptions) *cobra.Command {
	w := &writeOptions{}

	cmd := &cobra.Command{
		Use:   "write <file>",
		Short: "Write a synthetic log file",
		Long: `Write count records of one message type, spaced interval apart. Payloads
are "<payload>-<n>". With --realtime the command sleeps between records.`,
		Example: `  rnrctl logfile write demo.rnr --count 100 --interval 10ms
  rnrctl logfile write gps.rnr --type gps --start 1700000000000000`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(opts, w, cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&w.msgType, "type", "byte_array", "message type name or tag")
	cmd.Flags().IntVar(&w.count, "count", 10, "number of records")
	cmd.Flags().DurationVar(&w.interval, "interval", 100*time.Millisecond, "timestamp step between records")
	cmd.Flags().Uint64Var(&w.start, "start", 0, "first timestamp in microseconds (default now)")
	cmd.Flags().StringVar(&w.payload, "payload", "msg", "payload prefix")
	cmd.Flags().StringVar(&w.fsync, "fsync", "close", "fsync policy (always|close)")
	cmd.Flags().BoolVar(&w.noChecksums, "no-checksums", false, "omit per-record checksums")
	cmd.Flags().StringVar(&w.session, "session", "", "session id stamped into the header (default random)")
	cmd.Flags().BoolVar(&w.realtime, "realtime", false, "sleep interval between records")

	return cmd
}

func runWrite(opts *RootOptions, w *writeOptions, cmd *cobra.Command, path string) error {
	if w.count < 0 {
		return usageErr("write", "--count must be >= 0")
	}
	if w.interval < 0 {
		return usageErr("write", "--interval must be >= 0")
	}
	msgType, err := opts.registry.Resolve(w.msgType)
	if err != nil {
		return usageErr("write", "%v", err)
	}
	policy, err := logfile.ParseFsyncPolicy(w.fsync)
	if err != nil {
		return usageErr("write", "%v", err)
	}
	// interval syncing needs a scheduler owned by a long-running process
	if policy == logfile.FsyncInterval {
		return usageErr("write", "fsync policy %q is only available in rnrd", w.fsync)
	}
	id := uuid.New()
	if w.session != "" {
		if id, err = uuid.Parse(w.session); err != nil {
			return usageErr("write", "invalid session id %q", w.session)
		}
	}

	start := w.start
	if !cmd.Flags().Changed("start") {
		start = uint64(time.Now().UnixMicro())
	}
	step := uint64(w.interval.Microseconds())

	ctx := cmd.Context()
	lw, err := logfile.Open(ctx, path, logfile.WriterOptions{
		FsyncPolicy:      policy,
		DisableChecksums: w.noChecksums,
		SessionID:        id,
	})
	if err != nil {
		return fail(rnrerr.WithOp("write", err))
	}

	out := WriteOutput{Path: path, SessionID: id.String()}
	for i := 0; i < w.count; i++ {
		if w.realtime && i > 0 {
			select {
			case <-ctx.Done():
				//nolint:errcheck // Ignore close error, the interruption is reported
				_ = lw.Close()
				return fail(rnrerr.WithOp("write", ctx.Err()))
			case <-time.After(w.interval):
			}
		}
		ts := start + uint64(i)*step
		payload := fmt.Sprintf("%s-%d", w.payload, i)
		if _, err := lw.WriteRecord(msgType, ts, []byte(payload)); err != nil {
			//nolint:errcheck // Ignore close error, the write error is reported
			_ = lw.Close()
			return fail(rnrerr.WithOp("write", err))
		}
		if i == 0 {
			out.First = ts
		}
		out.Last = ts
	}
	if err := lw.Close(); err != nil {
		return fail(rnrerr.WithOp("write", err))
	}
	out.Records = lw.Count()

	if opts.JSON() {
		return writeJSON(cmd.OutOrStdout(), out)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d %s records to %s (session %s)\n",
		out.Records, opts.registry.Name(msgType), out.Path, out.SessionID)
	return nil
}
