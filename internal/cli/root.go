// Package cli implements the rnrctl command line
package cli

import (
	"context"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"

	"github.com/polysync/rnr/internal/config"
	"github.com/polysync/rnr/internal/msgtype"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format  string        `env:"FORMAT" envDefault:"text"`
	Addr    string        `env:"ADDR" envDefault:"127.0.0.1:50051"`
	Token   string        `env:"AUTH_TOKEN"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"5s"`

	registry *msgtype.Registry
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// JSON reports whether JSON output was requested
func (o *RootOptions) JSON() bool {
	return o.Format == "json"
}

// remoteContext bounds one remote call by the --timeout flag
func (o *RootOptions) remoteContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), o.Timeout)
}

// NewRootCommand creates the root command for rnrctl. Flag defaults come
// from RNR_-prefixed environment variables.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{registry: msgtype.DefaultRegistry()}
	// a malformed variable leaves the built-in defaults in place
	if err := env.ParseWithOptions(opts, env.Options{Prefix: config.EnvPrefix}); err != nil {
		opts.Format, opts.Addr, opts.Timeout = "text", "127.0.0.1:50051", 5*time.Second
	}

	cmd := &cobra.Command{
		Use:   "rnrctl",
		Short: "rnrctl - record & replay control and log file tools",
		Long: `Control a running rnrd node and inspect record & replay log files.

Remote commands (control, status) talk to the node's gRPC control service.
The logfile commands work on local files.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Validate format flag
			if !slices.Contains(ValidFormats, opts.Format) {
				return usageErr("rnrctl", "invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&opts.Format, "format", opts.Format, "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Addr, "addr", opts.Addr, "node gRPC address")
	cmd.PersistentFlags().StringVar(&opts.Token, "token", opts.Token, "bearer token for the node")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", opts.Timeout, "timeout of each remote call")

	// Add subcommands
	cmd.AddCommand(NewControlCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewLogfileCommand(opts))
	cmd.AddCommand(NewVersionCommand(opts))

	return cmd
}

// Run executes rnrctl with args and returns the process exit code. Errors
// are printed to stderr.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(stderr, FormatError(err))
	}
	return GetExitCode(err)
}
