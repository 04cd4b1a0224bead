package tsdb

import (
	"sort"

	"tsdbengine/internal/schema"
)

// PointBatch is the result of scanning a contiguous range of points from
// the chunk store, column-major over the requested fields.
type PointBatch struct {
	Times   []int64
	Fields  []schema.Field
	NotNull [][]bool  // NotNull[fieldIdx][pointIdx]
	Values  [][][]byte // Values[fieldIdx][pointIdx], width-sized native bytes (zero if null)
}

// NPoints returns the number of points in the batch.
func (b PointBatch) NPoints() int { return len(b.Times) }

// scanChunkStore reads every point in [t0, t1] (inclusive) from the chunk
// store across every index slot that can contain one, for the given
// fields. It does not consult the WAL; callers splice WAL rows in
// separately (select/aggregate operators) or intentionally omit them
// (the write-path overlap check, since WAL entries are always > time_last
// and so never overlap a new write's leading prefix).
func (s *Series) scanChunkStore(entries []IndexEntry, t0, t1 int64, fields []schema.Field) (PointBatch, error) {
	batch := PointBatch{Fields: fields}
	if len(entries) == 0 || t0 > t1 {
		batch.NotNull = make([][]bool, len(fields))
		batch.Values = make([][][]byte, len(fields))
		return batch, nil
	}

	// First slot whose range could contain t0: the last entry with
	// TimeNs <= t0, or the first entry if all entries start after t0.
	startSlot := sort.Search(len(entries), func(i int) bool { return entries[i].TimeNs > t0 }) - 1
	if startSlot < 0 {
		startSlot = 0
	}

	notNull := make([][]bool, len(fields))
	values := make([][][]byte, len(fields))

	for slot := startSlot; slot < len(entries); slot++ {
		if entries[slot].TimeNs > t1 {
			break
		}
		chunk := entries[slot].Name
		ts, err := s.readTimestamps(chunk)
		if err != nil {
			return PointBatch{}, err
		}
		if len(ts) == 0 {
			continue
		}
		lo := sort.Search(len(ts), func(i int) bool { return ts[i] >= t0 })
		hi := sort.Search(len(ts), func(i int) bool { return ts[i] > t1 })
		if lo >= hi {
			continue
		}
		batch.Times = append(batch.Times, ts[lo:hi]...)

		for fi, f := range fields {
			fieldBytes, err := s.readFieldFile(f.Name, chunk)
			if err != nil {
				return PointBatch{}, err
			}
			bitmapBytes, err := s.readBitmapFile(f.Name, chunk)
			if err != nil {
				return PointBatch{}, err
			}
			for i := lo; i < hi; i++ {
				nn := getBitmapByte(bitmapBytes, i)
				notNull[fi] = append(notNull[fi], nn)
				w := f.Type.Width()
				v := make([]byte, w)
				if nn && (i+1)*w <= len(fieldBytes) {
					copy(v, fieldBytes[i*w:(i+1)*w])
				}
				values[fi] = append(values[fi], v)
			}
		}
	}

	batch.NotNull = notNull
	batch.Values = values
	return batch, nil
}

func getBitmapByte(b []byte, i int) bool {
	byteIdx := i / 8
	if byteIdx >= len(b) {
		return false
	}
	bit := uint(i) % 8
	return (b[byteIdx]>>bit)&1 != 0
}
