package tsdb

import "tsdbengine/internal/schema"

// SelectRange implements the shared machinery behind the "first" and "last"
// select variants (§4.11): read the chunk-store portion of [t0, t1] clamped
// to the series's live range, append the WAL's contribution above
// time_last, then trim to at most limit points (from the front for
// "first", from the back for "last"). limit <= 0 means unlimited.
//
// lock must be a read lock (or better) already held over the series.
func (s *Series) SelectRange(lock *SeriesLock, fields []schema.Field, t0, t1 int64, limit int, fromEnd bool) (PointBatch, error) {
	if len(fields) == 0 {
		fields = s.measurement.schema.Fields
	}

	effT0 := t0
	if lock.TimeFirst > effT0 {
		effT0 = lock.TimeFirst
	}
	effT1 := t1
	if lock.TimeLast < effT1 {
		effT1 = lock.TimeLast
	}

	batch := PointBatch{Fields: fields, NotNull: make([][]bool, len(fields)), Values: make([][][]byte, len(fields))}
	if effT0 <= effT1 {
		entries, err := s.readIndex()
		if err != nil {
			return PointBatch{}, err
		}
		chunkBatch, err := s.scanChunkStore(entries, effT0, effT1, fields)
		if err != nil {
			return PointBatch{}, err
		}
		batch = appendBatch(batch, chunkBatch)
	}

	walRows, err := s.QueryWAL(lock, t0, t1)
	if err != nil {
		return PointBatch{}, err
	}
	if len(walRows) > 0 {
		batch = appendWALRows(batch, fields, s.measurement.schema, walRows)
	}

	if limit > 0 && batch.NPoints() > limit {
		if fromEnd {
			batch = trimBatch(batch, batch.NPoints()-limit, batch.NPoints())
		} else {
			batch = trimBatch(batch, 0, limit)
		}
	}
	return batch, nil
}

// SelectFirst returns up to limit points starting from the earliest
// timestamp >= t0 within [t0, t1].
func (s *Series) SelectFirst(lock *SeriesLock, fields []schema.Field, t0, t1 int64, limit int) (PointBatch, error) {
	return s.SelectRange(lock, fields, t0, t1, limit, false)
}

// SelectLast returns up to the last limit points within [t0, t1] (i.e. the
// points closest to t1).
func (s *Series) SelectLast(lock *SeriesLock, fields []schema.Field, t0, t1 int64, limit int) (PointBatch, error) {
	return s.SelectRange(lock, fields, t0, t1, limit, true)
}

func appendBatch(dst, src PointBatch) PointBatch {
	dst.Times = append(dst.Times, src.Times...)
	for fi := range dst.Fields {
		dst.NotNull[fi] = append(dst.NotNull[fi], src.NotNull[fi]...)
		dst.Values[fi] = append(dst.Values[fi], src.Values[fi]...)
	}
	return dst
}

func appendWALRows(dst PointBatch, fields []schema.Field, sch schema.Schema, rows []WALRow) PointBatch {
	for _, r := range rows {
		dst.Times = append(dst.Times, r.TimeNs)
		for fi, f := range fields {
			_, schemaIdx, ok := sch.ByName(f.Name)
			if !ok {
				dst.NotNull[fi] = append(dst.NotNull[fi], false)
				dst.Values[fi] = append(dst.Values[fi], make([]byte, f.Type.Width()))
				continue
			}
			notNull := (r.Bitmap>>uint(schemaIdx))&1 != 0
			dst.NotNull[fi] = append(dst.NotNull[fi], notNull)
			if notNull {
				dst.Values[fi] = append(dst.Values[fi], coerceFromU64(r.Fields[schemaIdx], f.Type.Width()))
			} else {
				dst.Values[fi] = append(dst.Values[fi], make([]byte, f.Type.Width()))
			}
		}
	}
	return dst
}

func trimBatch(b PointBatch, lo, hi int) PointBatch {
	b.Times = b.Times[lo:hi]
	for fi := range b.Fields {
		b.NotNull[fi] = b.NotNull[fi][lo:hi]
		b.Values[fi] = b.Values[fi][lo:hi]
	}
	return b
}
