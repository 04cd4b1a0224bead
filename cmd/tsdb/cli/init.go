package cli

import (
	"log/slog"

	"tsdbengine/internal/tsdb"

	"github.com/spf13/cobra"
)

// NewInitCommand returns the "init" command, which creates a new tsdb root
// directory (the only command that does not require one to already exist).
func NewInitCommand(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init <path>",
		Short: "Initialize a new tsdb root directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chunkSize, _ := cmd.Flags().GetInt64("chunk-size")
			walMax, _ := cmd.Flags().GetInt("wal-max-entries")
			throttle, _ := cmd.Flags().GetInt64("write-throttle-ns")

			cfg := tsdb.Config{ChunkSizeBytes: chunkSize, WALMaxEntries: walMax, WriteThrottleNs: throttle}
			root, err := tsdb.CreateRoot(args[0], cfg, logger)
			if err != nil {
				return err
			}
			defer root.Close()
			cmd.Printf("initialized tsdb root at %s\n", root.Path())
			return nil
		},
	}
	cmd.Flags().Int64("chunk-size", 1<<20, "chunk size in bytes, must be a power of two")
	cmd.Flags().Int("wal-max-entries", 4096, "WAL entries before an inline commit is triggered")
	cmd.Flags().Int64("write-throttle-ns", 0, "write throttle in nanoseconds, recorded in config.txt (the write path does not apply it)")
	return cmd
}
