package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"tsdbengine/internal/schema"
	"tsdbengine/internal/tsdb"

	"github.com/spf13/cobra"
)

// NewMeasurementCommand returns the "measurement" command tree.
func NewMeasurementCommand(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "measurement",
		Aliases: []string{"m"},
		Short:   "Manage measurements within a database",
	}
	cmd.PersistentFlags().String("db", "", "database name (required)")
	cmd.PersistentFlags().StringP("output", "o", "table", "output format: table or json")
	cmd.AddCommand(newMeasurementCreateCmd(logger), newMeasurementListCmd(logger), newMeasurementSchemaCmd(logger))
	return cmd
}

func newMeasurementCreateCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a measurement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fieldSpecs, _ := cmd.Flags().GetStringArray("field")
			names, types, err := parseFieldSpecs(fieldSpecs)
			if err != nil {
				return err
			}

			root, dbName, err := openRootAndDB(cmd, logger)
			if err != nil {
				return err
			}
			defer root.Close()
			db, err := root.OpenDatabase(dbName)
			if err != nil {
				return err
			}
			defer db.Close()

			m, err := db.CreateMeasurement(args[0], names, types)
			if err != nil {
				return err
			}
			defer m.Close()
			cmd.Printf("created measurement %q with %d fields\n", m.Name(), m.Schema().FieldCount())
			return nil
		},
	}
	cmd.Flags().StringArray("field", nil, "field spec name:type, repeatable (types: bool, u32, u64, f32, f64, i32, i64)")
	return cmd
}

func newMeasurementListCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List measurements in a database",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, dbName, err := openRootAndDB(cmd, logger)
			if err != nil {
				return err
			}
			defer root.Close()
			db, err := root.OpenDatabase(dbName)
			if err != nil {
				return err
			}
			defer db.Close()
			names, err := db.ListMeasurements()
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

// newMeasurementSchemaCmd prints a measurement's declared fields, grounded
// on tsdbcli2's "LIST SCHEMA FROM <database/measurement>" handler
// (handle_list_schema in main.cc), which walks m.fields printing each
// entry's ftinfos[].name and field name.
func newMeasurementSchemaCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "schema <name>",
		Short: "Show a measurement's declared fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, dbName, err := openRootAndDB(cmd, logger)
			if err != nil {
				return err
			}
			defer root.Close()
			db, err := root.OpenDatabase(dbName)
			if err != nil {
				return err
			}
			defer db.Close()
			m, err := db.OpenMeasurement(args[0])
			if err != nil {
				return err
			}
			defer m.Close()

			p := newPrinter(outputFormat(cmd))
			fields := m.Schema().Fields
			if outputFormat(cmd) == "json" {
				return p.json(fields)
			}
			var rows [][]string
			for _, f := range fields {
				rows = append(rows, []string{f.Type.Name(), f.Name})
			}
			p.table([]string{"TYPE", "NAME"}, rows)
			return nil
		},
	}
}

// openRootAndDB opens the root named by --root and returns it along with
// the database name from --db (validated non-empty).
func openRootAndDB(cmd *cobra.Command, logger *slog.Logger) (*tsdb.Root, string, error) {
	dbName, _ := cmd.Flags().GetString("db")
	if dbName == "" {
		return nil, "", fmt.Errorf("--db is required")
	}
	root, err := openRoot(cmd, logger)
	if err != nil {
		return nil, "", err
	}
	return root, dbName, nil
}

func parseFieldSpecs(specs []string) ([]string, []schema.FieldType, error) {
	names := make([]string, 0, len(specs))
	types := make([]schema.FieldType, 0, len(specs))
	for _, spec := range specs {
		parts := strings.SplitN(spec, ":", 2)
		if len(parts) != 2 {
			return nil, nil, fmt.Errorf("invalid field spec %q, want name:type", spec)
		}
		ft, err := schema.ParseFieldType(parts[1])
		if err != nil {
			return nil, nil, err
		}
		names = append(names, parts[0])
		types = append(types, ft)
	}
	return names, types, nil
}
