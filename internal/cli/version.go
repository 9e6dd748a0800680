package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/polysync/rnr/internal/version"
)

// NewVersionCommand creates the version command.
func NewVersionCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Get()
			if opts.JSON() {
				return writeJSON(cmd.OutOrStdout(), info)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "rnrctl %s\n", info.Version)
			field(w, "commit", info.GitCommit)
			field(w, "built", info.BuildTime)
			field(w, "go", info.GoVersion)
			field(w, "format", info.FormatVersion)
			return nil
		},
	}
}
