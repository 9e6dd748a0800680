package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/polysync/rnr/internal/client"
)

// ControlOptions holds flags for the control command.
type ControlOptions struct {
	*RootOptions
	Record    bool
	Replay    bool
	Off       bool
	Session   string
	File      string
	StartTime uint64
	Absolute  bool
	Include   []string
	Exclude   []string
	Enable    bool
	Disable   bool
}

// NewControlCommand creates the control command.
func NewControlCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ControlOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "control",
		Short: "Select the node mode and session settings",
		Long: `Select a mode and configure the next session of a running node.

The settings are applied in order: mode, file, type filters, start time, and
finally the enabled state. File, filters and start time cannot change while
a session is enabled.

Examples:
  rnrctl control --record --file drive.rnr --exclude image_data --enable
  rnrctl control --replay --file drive.rnr --start-time 2000000 --enable
  rnrctl control --off`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runControl(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Record, "record", false, "select write mode")
	cmd.Flags().BoolVar(&opts.Replay, "replay", false, "select replay mode")
	cmd.Flags().BoolVar(&opts.Off, "off", false, "switch the node off")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session id (UUID); assigned by the node when empty")
	cmd.Flags().StringVar(&opts.File, "file", "", "log file of the session")
	cmd.Flags().Uint64Var(&opts.StartTime, "start-time", 0, "replay start in microseconds")
	cmd.Flags().BoolVar(&opts.Absolute, "absolute", false, "treat --start-time as an absolute timestamp")
	cmd.Flags().StringSliceVar(&opts.Include, "include", nil, "message types to keep (names or tags)")
	cmd.Flags().StringSliceVar(&opts.Exclude, "exclude", nil, "message types to drop (names or tags)")
	cmd.Flags().BoolVar(&opts.Enable, "enable", false, "enable the selected mode")
	cmd.Flags().BoolVar(&opts.Disable, "disable", false, "disable the selected mode")
	cmd.MarkFlagsMutuallyExclusive("record", "replay", "off")
	cmd.MarkFlagsMutuallyExclusive("enable", "disable")
	cmd.MarkFlagsMutuallyExclusive("off", "enable")

	return cmd
}

func runControl(opts *ControlOptions, cmd *cobra.Command) error {
	flags := cmd.Flags()
	changed := flags.Changed("file") || flags.Changed("include") || flags.Changed("exclude") ||
		flags.Changed("start-time") || opts.Enable || opts.Disable
	if !opts.Record && !opts.Replay && !opts.Off && !changed {
		return usageErr("control", "nothing to do: pass --record, --replay, --off or a session setting")
	}
	if opts.Absolute && !flags.Changed("start-time") {
		return usageErr("control", "--absolute requires --start-time")
	}

	c, err := newClient(opts.RootOptions)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := opts.remoteContext(cmd)
	defer cancel()

	var st *client.Status
	step := func(call func() (*client.Status, error)) error {
		if err != nil {
			return err
		}
		st, err = call()
		return err
	}

	switch {
	case opts.Off:
		err = step(func() (*client.Status, error) { return c.SetMode(ctx, "off", "") })
	case opts.Record:
		err = step(func() (*client.Status, error) { return c.SetMode(ctx, "write", opts.Session) })
	case opts.Replay:
		err = step(func() (*client.Status, error) { return c.SetMode(ctx, "replay", opts.Session) })
	}
	if flags.Changed("file") {
		err = step(func() (*client.Status, error) { return c.SetFilePath(ctx, opts.File) })
	}
	if flags.Changed("include") || flags.Changed("exclude") {
		err = step(func() (*client.Status, error) { return c.SetTypeFilters(ctx, opts.Include, opts.Exclude) })
	}
	if flags.Changed("start-time") {
		err = step(func() (*client.Status, error) { return c.SetStartTime(ctx, opts.StartTime, opts.Absolute) })
	}
	if opts.Enable || opts.Disable {
		err = step(func() (*client.Status, error) { return c.SetState(ctx, opts.Enable) })
	}
	if err != nil {
		return fail(err)
	}

	return printStatus(opts.RootOptions, cmd.OutOrStdout(), st)
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the node mode, session and progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(rootOpts)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, cancel := rootOpts.remoteContext(cmd)
			defer cancel()

			st, err := c.Status(ctx)
			if err != nil {
				return fail(err)
			}
			return printStatus(rootOpts, cmd.OutOrStdout(), st)
		},
	}
}

func newClient(opts *RootOptions) (*client.Client, error) {
	var copts []client.Option
	if opts.Token != "" {
		copts = append(copts, client.WithAuthToken(opts.Token))
	}
	c, err := client.NewClient(opts.Addr, copts...)
	if err != nil {
		return nil, usageErr("connect", "invalid address %q: %v", opts.Addr, err)
	}
	return c, nil
}

func printStatus(opts *RootOptions, w io.Writer, st *client.Status) error {
	if opts.JSON() {
		return writeJSON(w, st)
	}

	mode := st.Mode
	if !st.ModeSet {
		mode += " (not set)"
	}
	field(w, "mode", mode)
	field(w, "enabled", st.Enabled)
	field(w, "session", st.SessionID)
	field(w, "file", orDash(st.FilePath))
	start := "relative"
	if st.StartTimeIsAbsolute {
		start = "absolute"
	}
	field(w, "start", fmt.Sprintf("%d (%s)", st.StartTime, start))
	field(w, "include", orDash(strings.Join(st.Include, ",")))
	field(w, "exclude", orDash(strings.Join(st.Exclude, ",")))
	field(w, "delivery", st.Delivery)
	field(w, "queue", st.QueueDepth)
	if r := st.Recorder; r != nil {
		field(w, "recorder", fmt.Sprintf("written=%d filtered=%d bytes=%d buffered=%d",
			r.Written, r.Filtered, r.Bytes, r.Buffered))
	}
	if p := st.Replay; p != nil {
		field(w, "replay", fmt.Sprintf("%s delivered=%d suppressed=%d position=%d/%d lag=%s",
			p.Status, p.Delivered, p.Suppressed, p.Index, p.Total, p.Lag))
	}
	if st.PendingError != "" {
		field(w, "pending", st.PendingError)
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
