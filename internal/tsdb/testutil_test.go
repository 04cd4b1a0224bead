package tsdb

import (
	"encoding/binary"
	"math"
	"path/filepath"
	"testing"

	"tsdbengine/internal/bitmap"
	"tsdbengine/internal/schema"
)

// testConfig returns a Config with a deliberately tiny chunk size so tests
// can exercise multi-chunk growth and sealing without writing thousands of
// points. ChunkSizeBytes=128 gives CHUNK_NPOINTS=16.
func testConfig() Config {
	return Config{ChunkSizeBytes: 128, WALMaxEntries: 1 << 20, WriteThrottleNs: 0}
}

// newTestRoot creates a fresh root under t.TempDir() with the given config.
func newTestRoot(t *testing.T, cfg Config) *Root {
	t.Helper()
	path := filepath.Join(t.TempDir(), "root")
	root, err := CreateRoot(path, cfg, nil)
	if err != nil {
		t.Fatalf("CreateRoot: %v", err)
	}
	t.Cleanup(func() { root.Close() })
	return root
}

// newTestMeasurement creates a database and measurement with the given
// fields under a fresh test root.
func newTestMeasurement(t *testing.T, cfg Config, names []string, types []schema.FieldType) *Measurement {
	t.Helper()
	root := newTestRoot(t, cfg)
	db, err := root.CreateDatabase("db")
	if err != nil {
		t.Fatalf("CreateDatabase: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	m, err := db.CreateMeasurement("m", names, types)
	if err != nil {
		t.Fatalf("CreateMeasurement: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

// newVNMeasurement creates a fresh test measurement with the two-field
// schema (v float64, n int64) most tests exercise.
func newVNMeasurement(t *testing.T, cfg Config) *Measurement {
	t.Helper()
	names, types := vnSchema()
	return newTestMeasurement(t, cfg, names, types)
}

// vnSchema returns the field vector for the (v float64, n int64) schema.
func vnSchema() ([]string, []schema.FieldType) {
	return []string{"v", "n"}, []schema.FieldType{schema.F64, schema.I64}
}

func floatBytes(v float64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
	return b[:]
}

func int64Bytes(v int64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	return b[:]
}

// buildWriteBuffer is the test-side inverse of parseWriteBuffer: given
// per-point timestamps and, for each field in schema order, a null mask and
// native-width value bytes, renders the flat write-buffer format write_wal
// expects.
func buildWriteBuffer(sch schema.Schema, bitmapOffset int, times []int64, notNull [][]bool, values [][][]byte) []byte {
	npoints := len(times)
	var buf []byte
	for _, t := range times {
		buf = append(buf, int64Bytes(t)...)
	}
	for fi, f := range sch.Fields {
		bmBytes := bitmap.BytesForBits(npoints + bitmapOffset)
		bm := make([]byte, bmBytes)
		for i := 0; i < npoints; i++ {
			if notNull[fi][i] {
				bitmap.SetByte(bm, bitmapOffset+i, true)
			}
		}
		buf = append(buf, bm...)

		width := f.Type.Width()
		dataBytes := ((npoints*width + 7) / 8) * 8
		data := make([]byte, dataBytes)
		for i := 0; i < npoints; i++ {
			if notNull[fi][i] {
				copy(data[i*width:(i+1)*width], values[fi][i])
			}
		}
		buf = append(buf, data...)
	}
	return buf
}

// allTrue returns an nfields x npoints all-true null mask.
func allTrue(nfields, npoints int) [][]bool {
	out := make([][]bool, nfields)
	for i := range out {
		row := make([]bool, npoints)
		for j := range row {
			row[j] = true
		}
		out[i] = row
	}
	return out
}

// vnRows builds times/notNull/values for the vnSchema() (v float64, n
// int64), all points non-null, v[i]=vals[i], n[i]=int64(vals[i]).
func vnRows(times []int64, vals []float64) ([][]bool, [][][]byte) {
	notNull := allTrue(2, len(times))
	values := make([][][]byte, 2)
	values[0] = make([][]byte, len(times))
	values[1] = make([][]byte, len(times))
	for i, v := range vals {
		values[0][i] = floatBytes(v)
		values[1][i] = int64Bytes(int64(v))
	}
	return notNull, values
}
