package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/polysync/rnr/internal/archive"
	"github.com/polysync/rnr/internal/export"
	"github.com/polysync/rnr/internal/logfile"
	"github.com/polysync/rnr/internal/query"
	"github.com/polysync/rnr/internal/rnrerr"
)

// ExportOutput is the JSON form of logfile export
type ExportOutput struct {
	Source   string `json:"source"`
	Database string `json:"database"`
	FileID   int64  `json:"file_id"`
	Exported uint64 `json:"exported"`
	Skipped  uint64 `json:"skipped"`
	GPSFixes uint64 `json:"gps_fixes"`
}

// ArchiveOutput is the JSON form of logfile pack and unpack
type ArchiveOutput struct {
	Source      string  `json:"source"`
	Destination string  `json:"destination"`
	Records     uint64  `json:"records"`
	RawBytes    int64   `json:"raw_bytes"`
	PackedBytes int64   `json:"packed_bytes"`
	Ratio       float64 `json:"ratio"`
}

func newExportCommand(opts *RootOptions) *cobra.Command {
	var (
		include      []string
		exclude      []string
		where        string
		omitPayloads bool
		batchSize    int
	)

	cmd := &cobra.Command{
		Use:   "export <file> <database>",
		Short: "Export records into a SQLite database",
		Long: `Export the records of a log file into a SQLite database. The database is
created when missing; every export adds one log_files row and its records.
GPS records with a well-formed payload are also decoded into gps_fixes.`,
		Example: `  rnrctl logfile export drive.rnr drive.db
  rnrctl logfile export drive.rnr drive.db --exclude image_data --omit-payloads`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := typeFilter(opts.registry, include, exclude)
			if err != nil {
				return usageErr("export", "%v", err)
			}
			pred, err := query.Compile(where, opts.registry)
			if err != nil {
				return usageErr("export", "%v", err)
			}
			if batchSize < 0 {
				return usageErr("export", "--batch-size must be >= 0")
			}

			r, err := logfile.OpenForRead(cmd.Context(), args[0])
			if err != nil {
				return fail(rnrerr.WithOp("export", err))
			}
			defer r.Close()

			db, err := export.Open(args[1])
			if err != nil {
				return fail(rnrerr.WithOp("export", err))
			}
			defer db.Close()

			stats, err := db.Export(cmd.Context(), r, export.Options{
				Registry:     opts.registry,
				Filter:       filter,
				Where:        pred,
				OmitPayloads: omitPayloads,
				BatchSize:    batchSize,
			})
			if err != nil {
				return fail(rnrerr.WithOp("export", err))
			}

			out := ExportOutput{
				Source:   args[0],
				Database: args[1],
				FileID:   stats.FileID,
				Exported: stats.Exported,
				Skipped:  stats.Skipped,
				GPSFixes: stats.GPSFixes,
			}
			if opts.JSON() {
				return writeJSON(cmd.OutOrStdout(), out)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d records (%d skipped) from %s to %s (file_id %d)\n",
				out.Exported, out.Skipped, out.Source, out.Database, out.FileID)
			if stats.Malformed > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%d gps fixes decoded, %d malformed gps payloads\n", out.GPSFixes, stats.Malformed)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&include, "include", nil, "message types to export")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "message types to skip")
	cmd.Flags().StringVar(&where, "where", "", "record predicate, as for dump")
	cmd.Flags().BoolVar(&omitPayloads, "omit-payloads", false, "store record metadata only")
	cmd.Flags().IntVar(&batchSize, "batch-size", export.DefaultBatchSize, "records per transaction")

	return cmd
}

func newPackCommand(opts *RootOptions) *cobra.Command {
	var (
		output string
		level  string
	)

	cmd := &cobra.Command{
		Use:   "pack <file>",
		Short: "Compress a log file with zstd",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dst := output
			if dst == "" {
				dst = archive.PackedName(args[0])
			}
			stats, err := archive.Pack(cmd.Context(), args[0], dst, level)
			if err != nil {
				if rnrerr.KindOf(err) == rnrerr.KindConfig {
					return usageErr("pack", "%v", err)
				}
				return fail(rnrerr.WithOp("pack", err))
			}
			return printArchive(opts, cmd, "packed", args[0], dst, stats)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "archive path (default <file>"+archive.Extension+")")
	cmd.Flags().StringVar(&level, "level", "default", "compression level (fastest|default|better|best)")

	return cmd
}

func newUnpackCommand(opts *RootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "unpack <archive>",
		Short: "Restore a packed log file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dst := output
			if dst == "" {
				dst = archive.UnpackedName(args[0])
			}
			stats, err := archive.Unpack(cmd.Context(), args[0], dst)
			if err != nil {
				return fail(rnrerr.WithOp("unpack", err))
			}
			return printArchive(opts, cmd, "unpacked", args[0], dst, stats)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "log file path (default <archive> without "+archive.Extension+")")

	return cmd
}

func printArchive(opts *RootOptions, cmd *cobra.Command, verb, src, dst string, stats archive.Stats) error {
	out := ArchiveOutput{
		Source:      src,
		Destination: dst,
		Records:     stats.Records,
		RawBytes:    stats.RawBytes,
		PackedBytes: stats.PackBytes,
		Ratio:       stats.Ratio(),
	}
	if opts.JSON() {
		return writeJSON(cmd.OutOrStdout(), out)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s -> %s: %d records, %d -> %d bytes (ratio %.2f)\n",
		verb, src, dst, out.Records, out.RawBytes, out.PackedBytes, out.Ratio)
	return nil
}
