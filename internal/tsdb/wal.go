package tsdb

import (
	"encoding/binary"
	"io"
	"os"

	"tsdbengine/internal/fsio"
	"tsdbengine/internal/schema"
)

// WALRow is one decoded WAL entry: a timestamp, a null bitmap (bit i set
// iff field i is non-null), and one coerced u64 per field (the raw value
// reinterpreted as 8 bytes, per the on-disk WAL format).
type WALRow struct {
	TimeNs int64
	Bitmap uint64
	Fields []uint64
}

func walEntrySize(fieldCount int) int { return schema.WALEntrySize(fieldCount) }

func encodeWALRow(row WALRow) []byte {
	buf := make([]byte, walEntrySize(len(row.Fields)))
	binary.LittleEndian.PutUint64(buf[0:8], uint64(row.TimeNs))
	binary.LittleEndian.PutUint64(buf[8:16], row.Bitmap)
	for i, v := range row.Fields {
		binary.LittleEndian.PutUint64(buf[16+i*8:16+i*8+8], v)
	}
	return buf
}

func decodeWALRow(buf []byte, fieldCount int) WALRow {
	row := WALRow{
		TimeNs: int64(binary.LittleEndian.Uint64(buf[0:8])),
		Bitmap: binary.LittleEndian.Uint64(buf[8:16]),
		Fields: make([]uint64, fieldCount),
	}
	for i := range row.Fields {
		row.Fields[i] = binary.LittleEndian.Uint64(buf[16+i*8 : 16+i*8+8])
	}
	return row
}

// readWALRows reads and decodes the full contents of the WAL file.
func (s *Series) readWALRows() ([]WALRow, error) {
	f, err := s.dir.OpenFile("wal", os.O_RDONLY, 0o644)
	if err != nil {
		return nil, ioError("read_wal", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, ioError("read_wal", err)
	}
	entrySize := walEntrySize(s.measurement.schema.FieldCount())
	if entrySize == 0 || len(data)%entrySize != 0 {
		return nil, newErrf(StatusCorruptTailInvalid, "wal size %d not a multiple of entry size %d", len(data), entrySize)
	}
	n := len(data) / entrySize
	rows := make([]WALRow, n)
	for i := 0; i < n; i++ {
		rows[i] = decodeWALRow(data[i*entrySize:(i+1)*entrySize], s.measurement.schema.FieldCount())
	}
	return rows, nil
}

// appendWAL appends rows to the end of the WAL file and fsync_and_flushes
// it. The caller (write path) is responsible for the ordering checks: the
// first new timestamp must exceed both the last existing WAL timestamp and
// the locked time_last.
func (s *Series) appendWAL(rows []WALRow) error {
	if len(rows) == 0 {
		return nil
	}
	f, err := s.dir.OpenFile("wal", os.O_RDWR, 0o644)
	if err != nil {
		return ioError("append_wal", err)
	}
	defer f.Close()

	buf := make([]byte, 0, len(rows)*walEntrySize(len(rows[0].Fields)))
	for _, r := range rows {
		buf = append(buf, encodeWALRow(r)...)
	}
	if _, err := f.Seek(0, os.SEEK_END); err != nil {
		return ioError("append_wal", err)
	}
	if _, err := f.Write(buf); err != nil {
		return ioError("append_wal", err)
	}
	return fsio.FsyncAndFlush(f)
}

// QueryWAL returns the WAL rows in [t0, t1], after masking out anything
// already covered by the chunk store's live range: effective
// t0 = max(t0, time_first, time_last+1). If the mask pushes t0 past t1 the
// result is empty. This is what lets read operators naively concatenate
// chunk-store results with WAL results without overcounting.
func (s *Series) QueryWAL(lock *SeriesLock, t0, t1 int64) ([]WALRow, error) {
	effT0 := t0
	if lock.TimeFirst > effT0 {
		effT0 = lock.TimeFirst
	}
	if lock.TimeLast+1 > effT0 {
		effT0 = lock.TimeLast + 1
	}
	if effT0 > t1 {
		return nil, nil
	}
	rows, err := s.readWALRows()
	if err != nil {
		return nil, err
	}
	out := rows[:0:0]
	for _, r := range rows {
		if r.TimeNs >= effT0 && r.TimeNs <= t1 {
			out = append(out, r)
		}
	}
	return out, nil
}

// walLen returns the number of pending entries currently in the WAL.
func (s *Series) walLen() (int, error) {
	f, err := s.dir.OpenFile("wal", os.O_RDONLY, 0o644)
	if err != nil {
		return 0, ioError("wal_len", err)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return 0, ioError("wal_len", err)
	}
	entrySize := walEntrySize(s.measurement.schema.FieldCount())
	return int(fi.Size()) / entrySize, nil
}

// commitWAL drains the WAL's pending rows into the chunk store and
// atomically truncates the committed prefix from the WAL, per §4.7:
// transpose rows into the columnar append format, perform the chunk-store
// append, then build a replacement WAL in tmp/ containing only the
// uncommitted suffix (always empty under the simple full-drain commit
// strategy this engine uses — see DESIGN.md), fsync it, rename over wal,
// fsync the series directory.
func (s *Series) commitWAL(lock *SeriesLock, npoints int) error {
	rows, err := s.readWALRows()
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	times := make([]int64, len(rows))
	fieldCount := s.measurement.schema.FieldCount()
	cols := make([]fieldColumn, fieldCount)
	for fi, f := range s.measurement.schema.Fields {
		cols[fi] = fieldColumn{
			name:    f.Name,
			width:   f.Type.Width(),
			notNull: make([]bool, len(rows)),
			values:  make([][]byte, len(rows)),
		}
	}
	for ri, r := range rows {
		times[ri] = r.TimeNs
		for fi := range cols {
			notNull := (r.Bitmap>>uint(fi))&1 != 0
			cols[fi].notNull[ri] = notNull
			if notNull {
				cols[fi].values[ri] = coerceFromU64(r.Fields[fi], cols[fi].width)
			} else {
				cols[fi].values[ri] = make([]byte, cols[fi].width)
			}
		}
	}

	if err := s.appendBatch(lock, npoints, times, cols); err != nil {
		return err
	}

	return s.truncateWAL(0)
}

// truncateWAL atomically replaces the WAL with only its entries at index
// keepFrom onward (always 0 under this engine's full-drain commit
// strategy, i.e. the replacement is empty).
func (s *Series) truncateWAL(keepFrom int) error {
	rows, err := s.readWALRows()
	if err != nil {
		return err
	}
	var remainder []byte
	if keepFrom < len(rows) {
		for _, r := range rows[keepFrom:] {
			remainder = append(remainder, encodeWALRow(r)...)
		}
	}

	tmp := s.measurement.root.tmp
	staging, err := fsio.RandomName("wal")
	if err != nil {
		return err
	}
	f, err := tmp.Create(staging)
	if err != nil {
		return ioError("commit_wal", err)
	}
	if _, err := f.Write(remainder); err != nil {
		f.Close()
		return ioError("commit_wal", err)
	}
	if err := fsio.Fsync(f); err != nil {
		f.Close()
		return ioError("commit_wal", err)
	}
	if err := f.Close(); err != nil {
		return ioError("commit_wal", err)
	}
	if err := os.Rename(tmp.Path()+"/"+staging, s.path+"/wal"); err != nil {
		return ioError("commit_wal", err)
	}
	return s.dir.Sync()
}

// coerceFromU64 reinterprets the low width bytes of a WAL-stored u64 back
// into native-width little-endian value bytes.
func coerceFromU64(v uint64, width int) []byte {
	var full [8]byte
	binary.LittleEndian.PutUint64(full[:], v)
	out := make([]byte, width)
	copy(out, full[:width])
	return out
}

// coerceToU64 widens a native-width little-endian value to the WAL's u64
// storage form.
func coerceToU64(v []byte) uint64 {
	var full [8]byte
	copy(full[:], v)
	return binary.LittleEndian.Uint64(full[:])
}
