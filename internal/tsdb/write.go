package tsdb

import (
	"bytes"

	"tsdbengine/internal/bitmap"
	"tsdbengine/internal/schema"
)

// WriteWAL implements the spec's write_wal(lock, npoints, bitmap_offset,
// len, buf) operation (§4.9): validate the buffer length against the
// measurement's schema, verify strictly increasing timestamps, trim any
// byte-identical overlap with already-committed chunk-store data (raising
// ErrOverwriteMismatch on any mismatch), reject what remains with
// ErrOutOfOrder unless it starts after the WAL's last entry, append it to
// the WAL, and trigger an inline commit once the WAL holds wal_max_entries
// or more entries.
//
// lock must be a write lock already held over the series (normally
// obtained via OpenOrCreateAndLockSeries).
func (s *Series) WriteWAL(lock *SeriesLock, npoints, bitmapOffset int, buf []byte) error {
	if npoints == 0 {
		return nil
	}
	sch := s.measurement.schema

	expected := sch.ComputeWriteChunkLen(npoints, bitmapOffset)
	if int64(len(buf)) != expected {
		return newErrf(StatusBadWriteLength, "write buffer is %d bytes, expected %d for npoints=%d bitmap_offset=%d", len(buf), expected, npoints, bitmapOffset)
	}

	times, cols, err := parseWriteBuffer(sch, npoints, bitmapOffset, buf)
	if err != nil {
		return err
	}
	for i := 1; i < len(times); i++ {
		if times[i] <= times[i-1] {
			return ErrOutOfOrder
		}
	}

	startIdx := 0
	if len(times) > 0 && times[0] <= lock.TimeLast {
		entries, _, err := s.recoverTail(lock)
		if err != nil {
			return err
		}
		for startIdx < len(times) && times[startIdx] <= lock.TimeLast {
			startIdx++
		}
		existing, err := s.scanChunkStore(entries, times[0], lock.TimeLast, sch.Fields)
		if err != nil {
			return err
		}
		if err := verifyOverlapMatches(times[:startIdx], cols, existing); err != nil {
			return err
		}
	}

	if startIdx >= len(times) {
		// Fully-overlapping write: reported and silently discarded.
		return nil
	}
	times = times[startIdx:]
	for i := range cols {
		cols[i].notNull = cols[i].notNull[startIdx:]
		cols[i].values = cols[i].values[startIdx:]
	}

	walRows, err := s.readWALRows()
	if err != nil {
		return err
	}
	if len(walRows) > 0 && times[0] <= walRows[len(walRows)-1].TimeNs {
		return ErrOutOfOrder
	}

	rows := make([]WALRow, len(times))
	for i, t := range times {
		var bm uint64
		fieldVals := make([]uint64, len(cols))
		for fi, c := range cols {
			if c.notNull[i] {
				bm |= 1 << uint(fi)
				fieldVals[fi] = coerceToU64(c.values[i])
			}
		}
		rows[i] = WALRow{TimeNs: t, Bitmap: bm, Fields: fieldVals}
	}
	if err := s.appendWAL(rows); err != nil {
		return err
	}

	n, err := s.walLen()
	if err != nil {
		return err
	}
	if n >= s.measurement.root.config.WALMaxEntries {
		return s.commitWAL(lock, s.measurement.root.config.ChunkNPoints())
	}
	return nil
}

// verifyOverlapMatches byte-compares the overlapping prefix of a write
// against already-stored chunk-store values, per §4.8: a timestamp may be
// rewritten iff every field value (byte-exact) and null bit matches. Any
// mismatch raises ErrOverwriteMismatch and the whole write is aborted
// without touching any state (the caller has not yet appended anything).
func verifyOverlapMatches(times []int64, cols []fieldColumn, existing PointBatch) error {
	if len(times) != existing.NPoints() {
		return ErrOverwriteMismatch
	}
	for i, t := range times {
		if existing.Times[i] != t {
			return ErrOverwriteMismatch
		}
	}
	for fi := range cols {
		for i := range times {
			wantNull := !cols[fi].notNull[i]
			gotNull := !existing.NotNull[fi][i]
			if wantNull != gotNull {
				return ErrOverwriteMismatch
			}
			if !wantNull && !bytes.Equal(cols[fi].values[i], existing.Values[fi][i]) {
				return ErrOverwriteMismatch
			}
		}
	}
	return nil
}

// parseWriteBuffer decodes the caller-supplied flat write buffer: npoints
// timestamps, then for each field in schema order a bitmap
// (pad-rounded to 8 bytes, shifted by bitmap_offset) followed by the
// field's values (pad-rounded to 8 bytes).
func parseWriteBuffer(sch schema.Schema, npoints, bitmapOffset int, buf []byte) ([]int64, []fieldColumn, error) {
	off := 0
	times := make([]int64, npoints)
	for i := 0; i < npoints; i++ {
		times[i] = int64(leUint64(buf[off : off+8]))
		off += 8
	}

	cols := make([]fieldColumn, sch.FieldCount())
	for fi, f := range sch.Fields {
		bitmapBytes := bitmap.BytesForBits(npoints + bitmapOffset)
		bmSlice := buf[off : off+bitmapBytes]
		off += bitmapBytes

		width := f.Type.Width()
		dataBytes := ((npoints*width + 7) / 8) * 8
		dataSlice := buf[off : off+dataBytes]
		off += dataBytes

		notNull := make([]bool, npoints)
		values := make([][]byte, npoints)
		for i := 0; i < npoints; i++ {
			nn := bitmap.GetByte(bmSlice, bitmapOffset+i)
			notNull[i] = nn
			v := make([]byte, width)
			if nn {
				copy(v, dataSlice[i*width:(i+1)*width])
			}
			values[i] = v
		}
		cols[fi] = fieldColumn{name: f.Name, width: width, notNull: notNull, values: values}
	}
	return times, cols, nil
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
