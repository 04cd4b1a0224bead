package cli

import (
	"bufio"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"

	"tsdbengine/internal/schema"
	"tsdbengine/internal/tsdb"

	"github.com/spf13/cobra"
)

// NewSeriesCommand returns the "series" command tree: write, select, count,
// sum, integral, delete.
func NewSeriesCommand(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "series",
		Short: "Write and query points in a series",
	}
	cmd.PersistentFlags().String("db", "", "database name (required)")
	cmd.PersistentFlags().String("measurement", "", "measurement name (required)")
	cmd.PersistentFlags().StringP("output", "o", "table", "output format: table or json")
	cmd.AddCommand(
		newSeriesListCmd(logger),
		newSeriesWriteCmd(logger),
		newSeriesSelectCmd(logger),
		newSeriesCountCmd(logger),
		newSeriesSumCmd(logger),
		newSeriesIntegralCmd(logger),
		newSeriesDeleteCmd(logger),
	)
	return cmd
}

// openSeriesMeasurement opens the root/db/measurement trio named by the
// persistent --db/--measurement flags, returning the measurement plus the
// already-open root and database so the caller can defer their Close.
func openSeriesMeasurement(cmd *cobra.Command, logger *slog.Logger) (*tsdb.Root, *tsdb.Database, *tsdb.Measurement, error) {
	root, dbName, err := openRootAndDB(cmd, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	measurementName, _ := cmd.Flags().GetString("measurement")
	if measurementName == "" {
		root.Close()
		return nil, nil, nil, fmt.Errorf("--measurement is required")
	}
	db, err := root.OpenDatabase(dbName)
	if err != nil {
		root.Close()
		return nil, nil, nil, err
	}
	m, err := db.OpenMeasurement(measurementName)
	if err != nil {
		db.Close()
		root.Close()
		return nil, nil, nil, err
	}
	return root, db, m, nil
}

// newSeriesListCmd lists series names under a measurement, grounded on
// tsdbcli2's "LIST SERIES FROM <database/measurement>" handler
// (handle_list_series in main.cc).
func newSeriesListCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List series in a measurement",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, dbName, err := openRootAndDB(cmd, logger)
			if err != nil {
				return err
			}
			defer root.Close()
			measurementName, _ := cmd.Flags().GetString("measurement")
			if measurementName == "" {
				return fmt.Errorf("--measurement is required")
			}
			db, err := root.OpenDatabase(dbName)
			if err != nil {
				return err
			}
			defer db.Close()
			m, err := db.OpenMeasurement(measurementName)
			if err != nil {
				return err
			}
			defer m.Close()

			names, err := m.ListSeries()
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

func newSeriesWriteCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "write <series> <csv-file>",
		Short: "Write points to a series from a CSV file (time_ns,field1,field2,...)",
		Long:  "Each CSV row is a timestamp in nanoseconds followed by one value per field in schema order (unless --field restricts the columns present). An empty cell marks that field null for that point.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fieldNames, _ := cmd.Flags().GetStringArray("field")

			root, db, m, err := openSeriesMeasurement(cmd, logger)
			if err != nil {
				return err
			}
			defer db.Close()
			defer root.Close()

			fields, err := m.GenEntries(fieldNames)
			if err != nil {
				return err
			}

			series, lock, err := m.OpenOrCreateAndLockSeries(args[0])
			if err != nil {
				return err
			}
			defer lock.Release()
			defer series.Close()

			npoints, buf, bitmapOffset, err := readCSVIntoWriteBuffer(args[1], fields, m.Schema())
			if err != nil {
				return err
			}
			if err := series.WriteWAL(lock, npoints, bitmapOffset, buf); err != nil {
				return err
			}
			cmd.Printf("wrote %d points to series %q\n", npoints, args[0])
			return nil
		},
	}
	cmd.Flags().StringArray("field", nil, "restrict the CSV's value columns to these fields, in order (default: full schema order)")
	return cmd
}

func newSeriesSelectCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "select <series>",
		Short: "Select points from a series in [t0, t1]",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t0, _ := cmd.Flags().GetInt64("t0")
			t1, _ := cmd.Flags().GetInt64("t1")
			limit, _ := cmd.Flags().GetInt("limit")
			last, _ := cmd.Flags().GetBool("last")
			fieldNames, _ := cmd.Flags().GetStringArray("field")

			root, db, m, err := openSeriesMeasurement(cmd, logger)
			if err != nil {
				return err
			}
			defer db.Close()
			defer root.Close()

			fields, err := m.GenEntries(fieldNames)
			if err != nil {
				return err
			}
			series, err := m.OpenSeriesForRead(args[0])
			if err != nil {
				return err
			}
			defer series.Close()
			lock, err := series.LockRead()
			if err != nil {
				return err
			}
			defer lock.Release()

			batch, err := series.SelectRange(lock, fields, t0, t1, limit, last)
			if err != nil {
				return err
			}
			printBatch(cmd, batch)
			return nil
		},
	}
	cmd.Flags().Int64("t0", 0, "interval start (inclusive)")
	cmd.Flags().Int64("t1", 1<<62, "interval end (inclusive)")
	cmd.Flags().Int("limit", 0, "maximum points to return (0 = unlimited)")
	cmd.Flags().Bool("last", false, "return the last limit points instead of the first")
	cmd.Flags().StringArray("field", nil, "fields to select (default: all, schema order)")
	return cmd
}

func newSeriesCountCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "count <series>",
		Short: "Count points in [t0, t1]",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t0, _ := cmd.Flags().GetInt64("t0")
			t1, _ := cmd.Flags().GetInt64("t1")

			root, db, m, err := openSeriesMeasurement(cmd, logger)
			if err != nil {
				return err
			}
			defer db.Close()
			defer root.Close()

			series, err := m.OpenSeriesForRead(args[0])
			if err != nil {
				return err
			}
			defer series.Close()
			lock, err := series.LockRead()
			if err != nil {
				return err
			}
			defer lock.Release()

			res, err := series.CountPoints(lock, t0, t1)
			if err != nil {
				return err
			}
			p := newPrinter(outputFormat(cmd))
			if outputFormat(cmd) == "json" {
				return p.json(res)
			}
			p.kv([][2]string{
				{"NPoints", strconv.FormatInt(res.NPoints, 10)},
				{"FirstTS", strconv.FormatInt(res.FirstTS, 10)},
				{"LastTS", strconv.FormatInt(res.LastTS, 10)},
			})
			return nil
		},
	}
	cmd.Flags().Int64("t0", 0, "interval start (inclusive)")
	cmd.Flags().Int64("t1", 1<<62, "interval end (inclusive)")
	return cmd
}

func newSeriesSumCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sum <series>",
		Short: "Windowed sum/min/max/npoints over [t0, t1]",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t0, _ := cmd.Flags().GetInt64("t0")
			t1, _ := cmd.Flags().GetInt64("t1")
			windowNs, _ := cmd.Flags().GetInt64("window")
			fieldNames, _ := cmd.Flags().GetStringArray("field")

			root, db, m, err := openSeriesMeasurement(cmd, logger)
			if err != nil {
				return err
			}
			defer db.Close()
			defer root.Close()

			fields, err := m.GenEntries(fieldNames)
			if err != nil {
				return err
			}
			series, err := m.OpenSeriesForRead(args[0])
			if err != nil {
				return err
			}
			defer series.Close()
			lock, err := series.LockRead()
			if err != nil {
				return err
			}
			defer lock.Release()

			windows, err := series.SumWindows(lock, fields, t0, t1, windowNs)
			if err != nil {
				return err
			}
			p := newPrinter(outputFormat(cmd))
			if outputFormat(cmd) == "json" {
				return p.json(windows)
			}
			header := []string{"WINDOW_START", "WINDOW_END"}
			for _, f := range fields {
				header = append(header, strings.ToUpper(f.Name)+"_SUM", strings.ToUpper(f.Name)+"_MIN", strings.ToUpper(f.Name)+"_MAX", strings.ToUpper(f.Name)+"_N")
			}
			var rows [][]string
			for _, w := range windows {
				row := []string{strconv.FormatInt(w.WindowStart, 10), strconv.FormatInt(w.WindowEnd, 10)}
				for fi := range fields {
					row = append(row,
						strconv.FormatFloat(w.Sum[fi], 'g', -1, 64),
						strconv.FormatFloat(w.Min[fi], 'g', -1, 64),
						strconv.FormatFloat(w.Max[fi], 'g', -1, 64),
						strconv.FormatInt(w.NPoints[fi], 10))
				}
				rows = append(rows, row)
			}
			p.table(header, rows)
			return nil
		},
	}
	cmd.Flags().Int64("t0", 0, "interval start (inclusive)")
	cmd.Flags().Int64("t1", 1<<62, "interval end (inclusive)")
	cmd.Flags().Int64("window", 0, "window size in nanoseconds (required)")
	cmd.Flags().StringArray("field", nil, "fields to aggregate (default: all, schema order)")
	_ = cmd.MarkFlagRequired("window")
	return cmd
}

func newSeriesIntegralCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "integral <series>",
		Short: "Trapezoidal integral over [t0, t1]",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t0, _ := cmd.Flags().GetInt64("t0")
			t1, _ := cmd.Flags().GetInt64("t1")
			fieldNames, _ := cmd.Flags().GetStringArray("field")

			root, db, m, err := openSeriesMeasurement(cmd, logger)
			if err != nil {
				return err
			}
			defer db.Close()
			defer root.Close()

			fields, err := m.GenEntries(fieldNames)
			if err != nil {
				return err
			}
			series, err := m.OpenSeriesForRead(args[0])
			if err != nil {
				return err
			}
			defer series.Close()
			lock, err := series.LockRead()
			if err != nil {
				return err
			}
			defer lock.Release()

			res, err := series.Integral(lock, fields, t0, t1)
			if err != nil {
				return err
			}
			p := newPrinter(outputFormat(cmd))
			if outputFormat(cmd) == "json" {
				return p.json(res)
			}
			var rows [][]string
			for fi, f := range fields {
				v := "null"
				if !res.IsNull[fi] {
					v = strconv.FormatFloat(res.Value[fi], 'g', -1, 64)
				}
				rows = append(rows, []string{f.Name, v})
			}
			p.table([]string{"FIELD", "INTEGRAL"}, rows)
			return nil
		},
	}
	cmd.Flags().Int64("t0", 0, "interval start (inclusive)")
	cmd.Flags().Int64("t1", 1<<62, "interval end (inclusive)")
	cmd.Flags().StringArray("field", nil, "fields to integrate (default: all, schema order)")
	return cmd
}

func newSeriesDeleteCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <series>",
		Short: "Delete every point with time_ns <= t",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, _ := cmd.Flags().GetInt64("t")

			root, db, m, err := openSeriesMeasurement(cmd, logger)
			if err != nil {
				return err
			}
			defer db.Close()
			defer root.Close()

			series, err := m.OpenSeriesForRead(args[0])
			if err != nil {
				return err
			}
			defer series.Close()
			lock, err := series.LockTotal()
			if err != nil {
				return err
			}
			defer lock.Release()

			if err := series.DeletePoints(lock, t); err != nil {
				return err
			}
			cmd.Printf("deleted points with time_ns <= %d from series %q\n", t, args[0])
			return nil
		},
	}
	cmd.Flags().Int64("t", 0, "delete every point with time_ns <= t (required)")
	_ = cmd.MarkFlagRequired("t")
	return cmd
}

// maxPrintRows caps how many rows a table-format select prints before
// eliding the middle, matching tsdbcli2's print_op_results.cc
// (MAX_PRINT_RESULTS = 12, print the first/last 6 with a "[N points
// omitted]" gap between them).
const maxPrintRows = 12

// printBatch renders a PointBatch, grounded on tsdbcli2's
// print_op_results.cc: a fixed column per field (name as header, "null"
// for unset cells, per-FieldType formatting of the rest), with large
// results elided in the middle rather than dumped in full.
func printBatch(cmd *cobra.Command, batch tsdb.PointBatch) {
	if outputFormat(cmd) == "json" {
		p := newPrinter("json")
		_ = p.json(batch)
		return
	}

	header := []string{"TIME_NS"}
	for _, f := range batch.Fields {
		header = append(header, strings.ToUpper(f.Name))
	}

	n := batch.NPoints()
	rowAt := func(i int) []string {
		row := []string{strconv.FormatInt(batch.Times[i], 10)}
		for fi, f := range batch.Fields {
			if !batch.NotNull[fi][i] {
				row = append(row, "null")
				continue
			}
			row = append(row, formatFieldValue(f.Type, batch.Values[fi][i]))
		}
		return row
	}

	var rows [][]string
	if n <= maxPrintRows {
		for i := 0; i < n; i++ {
			rows = append(rows, rowAt(i))
		}
	} else {
		half := maxPrintRows / 2
		for i := 0; i < half; i++ {
			rows = append(rows, rowAt(i))
		}
		omitted := make([]string, len(header))
		omitted[0] = fmt.Sprintf("... [%d points omitted] ...", n-maxPrintRows)
		rows = append(rows, omitted)
		for i := n - half; i < n; i++ {
			rows = append(rows, rowAt(i))
		}
	}
	newPrinter("table").table(header, rows)
}

// formatFieldValue renders one field's raw native-width bytes per
// FieldType, the same per-type switch tsdbcli2's print_op_points uses
// (bool -> true/false, unsigned/signed widths, float/double).
func formatFieldValue(t schema.FieldType, raw []byte) string {
	bo := schema.ByteOrder()
	switch t {
	case schema.Bool:
		if raw[0] != 0 {
			return "true"
		}
		return "false"
	case schema.U32:
		return strconv.FormatUint(uint64(bo.Uint32(raw)), 10)
	case schema.U64:
		return strconv.FormatUint(bo.Uint64(raw), 10)
	case schema.I32:
		return strconv.FormatInt(int64(int32(bo.Uint32(raw))), 10)
	case schema.I64:
		return strconv.FormatInt(int64(bo.Uint64(raw)), 10)
	case schema.F32:
		return strconv.FormatFloat(float64(math.Float32frombits(bo.Uint32(raw))), 'g', -1, 32)
	case schema.F64:
		return strconv.FormatFloat(math.Float64frombits(bo.Uint64(raw)), 'g', -1, 64)
	default:
		return "?"
	}
}

// readCSVIntoWriteBuffer parses a simple "time_ns,v1,v2,..." CSV file into
// the flat write-buffer format write_wal expects: npoints timestamps then,
// per field of sch, a padded bitmap followed by padded values. The CSV's
// value columns are fields, in order; schema fields not among them are
// written as null.
func readCSVIntoWriteBuffer(path string, fields []schema.Field, sch schema.Schema) (int, []byte, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, nil, 0, err
	}
	defer f.Close()

	var times []int64
	notNull := make([][]bool, len(fields))
	values := make([][][]byte, len(fields))

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		cols := strings.Split(line, ",")
		if len(cols) != len(fields)+1 {
			return 0, nil, 0, fmt.Errorf("row %q: expected %d columns, got %d", line, len(fields)+1, len(cols))
		}
		t, err := strconv.ParseInt(strings.TrimSpace(cols[0]), 10, 64)
		if err != nil {
			return 0, nil, 0, fmt.Errorf("row %q: bad timestamp: %w", line, err)
		}
		times = append(times, t)
		for fi, f := range fields {
			cell := strings.TrimSpace(cols[fi+1])
			if cell == "" {
				notNull[fi] = append(notNull[fi], false)
				values[fi] = append(values[fi], make([]byte, f.Type.Width()))
				continue
			}
			v, err := parseFieldValue(f.Type, cell)
			if err != nil {
				return 0, nil, 0, fmt.Errorf("row %q field %s: %w", line, f.Name, err)
			}
			notNull[fi] = append(notNull[fi], true)
			values[fi] = append(values[fi], v)
		}
	}
	if err := sc.Err(); err != nil {
		return 0, nil, 0, err
	}

	npoints := len(times)
	buf := make([]byte, sch.ComputeWriteChunkLen(npoints, 0))
	off := 0
	for _, t := range times {
		putLE64(buf[off:off+8], uint64(t))
		off += 8
	}
	for _, fd := range sch.Fields {
		fi := -1
		for j, c := range fields {
			if c.Name == fd.Name {
				fi = j
			}
		}
		bitmapBytes := ((npoints + 63) / 64) * 8
		for i := 0; i < npoints; i++ {
			if fi >= 0 && notNull[fi][i] {
				setBit(buf[off:off+bitmapBytes], i)
			}
		}
		off += bitmapBytes
		dataBytes := ((npoints*fd.Type.Width() + 7) / 8) * 8
		for i := 0; i < npoints && fi >= 0; i++ {
			copy(buf[off+i*fd.Type.Width():off+(i+1)*fd.Type.Width()], values[fi][i])
		}
		off += dataBytes
	}
	return npoints, buf, 0, nil
}

func putLE64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
}

func setBit(b []byte, i int) {
	b[i/8] |= 1 << uint(i%8)
}

func parseFieldValue(t schema.FieldType, s string) ([]byte, error) {
	switch t {
	case schema.Bool:
		v, err := strconv.ParseBool(s)
		if err != nil {
			return nil, err
		}
		if v {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case schema.U32:
		v, err := strconv.ParseUint(s, 10, 32)
		return le32(uint32(v)), err
	case schema.U64:
		v, err := strconv.ParseUint(s, 10, 64)
		return le64(v), err
	case schema.I32:
		v, err := strconv.ParseInt(s, 10, 32)
		return le32(uint32(int32(v))), err
	case schema.I64:
		v, err := strconv.ParseInt(s, 10, 64)
		return le64(uint64(v)), err
	case schema.F32:
		v, err := strconv.ParseFloat(s, 32)
		return le32(math.Float32bits(float32(v))), err
	case schema.F64:
		v, err := strconv.ParseFloat(s, 64)
		return le64(math.Float64bits(v)), err
	default:
		return nil, fmt.Errorf("unsupported field type")
	}
}

func le32(v uint32) []byte {
	b := make([]byte, 4)
	for i := 0; i < 4; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
	return b
}

func le64(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
	return b
}
