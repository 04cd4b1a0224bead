package cli

import (
	"log/slog"

	"github.com/spf13/cobra"
)

// NewDatabaseCommand returns the "db" command tree.
func NewDatabaseCommand(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "db",
		Aliases: []string{"database"},
		Short:   "Manage databases within a tsdb root",
	}
	cmd.PersistentFlags().StringP("output", "o", "table", "output format: table or json")
	cmd.AddCommand(newDatabaseCreateCmd(logger), newDatabaseListCmd(logger))
	return cmd
}

func newDatabaseCreateCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create a database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := openRoot(cmd, logger)
			if err != nil {
				return err
			}
			defer root.Close()
			db, err := root.CreateDatabase(args[0])
			if err != nil {
				return err
			}
			defer db.Close()
			cmd.Printf("created database %q\n", db.Name())
			return nil
		},
	}
}

func newDatabaseListCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List databases",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := openRoot(cmd, logger)
			if err != nil {
				return err
			}
			defer root.Close()
			names, err := root.ListDatabases()
			if err != nil {
				return err
			}
			p := newPrinter(outputFormat(cmd))
			if outputFormat(cmd) == "json" {
				return p.json(names)
			}
			var rows [][]string
			for _, n := range names {
				rows = append(rows, []string{n})
			}
			p.table([]string{"NAME"}, rows)
			return nil
		},
	}
}
