// Package cli implements the tsdb command-line subcommand tree: init,
// db, measurement, and series, each operating directly on a local tsdb
// root directory (there is no server process — the engine is embedded).
package cli

import (
	"log/slog"

	"tsdbengine/internal/tsdb"

	"github.com/spf13/cobra"
)

// openRoot opens the tsdb root named by the --root persistent flag.
func openRoot(cmd *cobra.Command, logger *slog.Logger) (*tsdb.Root, error) {
	path, _ := cmd.Flags().GetString("root")
	return tsdb.OpenRoot(path, logger)
}

func outputFormat(cmd *cobra.Command) string {
	f, _ := cmd.Flags().GetString("output")
	if f == "" {
		f = "table"
	}
	return f
}
