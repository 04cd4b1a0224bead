// Command tsdb operates a local embedded time-series storage root: create
// it, declare databases and measurements, and write, select, and aggregate
// points against a series.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
package main

import (
	"log/slog"
	"os"

	"tsdbengine/cmd/tsdb/cli"
	"tsdbengine/internal/logging"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	filterHandler := logging.NewComponentFilterHandler(baseHandler, slog.LevelInfo)
	logger := slog.New(filterHandler)

	rootCmd := &cobra.Command{
		Use:   "tsdb",
		Short: "Embedded time-series storage engine CLI",
	}
	rootCmd.PersistentFlags().String("root", "", "tsdb root directory (required for all commands but init)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(version)
		},
	}

	rootCmd.AddCommand(
		cli.NewInitCommand(logger),
		cli.NewDatabaseCommand(logger),
		cli.NewMeasurementCommand(logger),
		cli.NewSeriesCommand(logger),
		versionCmd,
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
