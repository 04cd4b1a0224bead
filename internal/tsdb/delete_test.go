package tsdb

import (
	"testing"
)

// TestDeletePointsWALOnly exercises the slot==0 sub-case: no chunk-store
// data exists yet (everything pending is in the WAL), so delete_points only
// has to bump time_first past t; the WAL rows below it become unreachable
// without being touched directly.
func TestDeletePointsWALOnly(t *testing.T) {
	m := newVNMeasurement(t, testConfig())
	s, wlock, err := m.OpenOrCreateAndLockSeries("host-1")
	if err != nil {
		t.Fatalf("OpenOrCreateAndLockSeries: %v", err)
	}
	writeVN(t, s, wlock, []int64{10, 20, 30}, []float64{1, 2, 3})
	wlock.Release()
	s.Close()

	s, err = m.OpenSeriesForRead("host-1")
	if err != nil {
		t.Fatalf("OpenSeriesForRead: %v", err)
	}
	tlock, err := s.LockTotal()
	if err != nil {
		t.Fatalf("LockTotal: %v", err)
	}
	if err := s.DeletePoints(tlock, 20); err != nil {
		t.Fatalf("DeletePoints: %v", err)
	}
	tlock.Release()
	s.Close()

	s, err = m.OpenSeriesForRead("host-1")
	if err != nil {
		t.Fatalf("OpenSeriesForRead: %v", err)
	}
	defer s.Close()
	rlock, err := s.LockRead()
	if err != nil {
		t.Fatalf("LockRead: %v", err)
	}
	defer rlock.Release()

	if rlock.TimeFirst != 21 {
		t.Fatalf("TimeFirst = %d, want 21", rlock.TimeFirst)
	}
	batch, err := s.SelectRange(rlock, nil, 0, 100, 0, false)
	if err != nil {
		t.Fatalf("SelectRange: %v", err)
	}
	if batch.NPoints() != 1 || batch.Times[0] != 30 {
		t.Fatalf("SelectRange after delete = %v, want just [30]", batch.Times)
	}
}

// TestDeletePointsMidChunk exercises the "upper_bound lands inside a
// surviving chunk" sub-case: deleting a timestamp that falls strictly
// inside the tail chunk's range just advances time_first to the next
// surviving point without unlinking anything.
func TestDeletePointsMidChunk(t *testing.T) {
	m := newVNMeasurement(t, testConfig())
	s, wlock, err := m.OpenOrCreateAndLockSeries("host-1")
	if err != nil {
		t.Fatalf("OpenOrCreateAndLockSeries: %v", err)
	}
	times := []int64{10, 20, 30, 40, 50}
	writeVN(t, s, wlock, times, []float64{1, 2, 3, 4, 5})
	if err := s.commitWAL(wlock, m.root.config.ChunkNPoints()); err != nil {
		t.Fatalf("commitWAL: %v", err)
	}
	wlock.Release()
	s.Close()

	s, err = m.OpenSeriesForRead("host-1")
	if err != nil {
		t.Fatalf("OpenSeriesForRead: %v", err)
	}
	tlock, err := s.LockTotal()
	if err != nil {
		t.Fatalf("LockTotal: %v", err)
	}
	if err := s.DeletePoints(tlock, 30); err != nil {
		t.Fatalf("DeletePoints: %v", err)
	}
	tlock.Release()
	s.Close()

	s, err = m.OpenSeriesForRead("host-1")
	if err != nil {
		t.Fatalf("OpenSeriesForRead: %v", err)
	}
	defer s.Close()
	rlock, err := s.LockRead()
	if err != nil {
		t.Fatalf("LockRead: %v", err)
	}
	defer rlock.Release()

	if rlock.TimeFirst != 40 {
		t.Fatalf("TimeFirst = %d, want 40", rlock.TimeFirst)
	}
	batch, err := s.SelectRange(rlock, nil, 0, 100, 0, false)
	if err != nil {
		t.Fatalf("SelectRange: %v", err)
	}
	if batch.NPoints() != 2 || batch.Times[0] != 40 || batch.Times[1] != 50 {
		t.Fatalf("SelectRange after delete = %v, want [40 50]", batch.Times)
	}
}

// TestDeletePointsWholeChunkObsolete writes two full 16-point chunks (the
// chunk boundary lands exactly at CHUNK_NPOINTS) then deletes through the
// end of the first chunk, exercising the "entirely obsolete chunk, a
// following slot takes over" sub-case, which unlinks the dropped chunk's
// files and rewrites the index.
func TestDeletePointsWholeChunkObsolete(t *testing.T) {
	m := newVNMeasurement(t, testConfig())
	s, wlock, err := m.OpenOrCreateAndLockSeries("host-1")
	if err != nil {
		t.Fatalf("OpenOrCreateAndLockSeries: %v", err)
	}
	const npoints = 32 // exactly two CHUNK_NPOINTS(16)-sized chunks
	times := make([]int64, npoints)
	vals := make([]float64, npoints)
	for i := range times {
		times[i] = int64(i+1) * 10
		vals[i] = float64(i)
	}
	writeVN(t, s, wlock, times, vals)
	if err := s.commitWAL(wlock, m.root.config.ChunkNPoints()); err != nil {
		t.Fatalf("commitWAL: %v", err)
	}
	entriesBefore, err := s.readIndex()
	if err != nil {
		t.Fatalf("readIndex: %v", err)
	}
	if len(entriesBefore) != 2 {
		t.Fatalf("len(entriesBefore) = %d, want 2 (one per sealed/tail chunk)", len(entriesBefore))
	}
	wlock.Release()
	s.Close()

	s, err = m.OpenSeriesForRead("host-1")
	if err != nil {
		t.Fatalf("OpenSeriesForRead: %v", err)
	}
	tlock, err := s.LockTotal()
	if err != nil {
		t.Fatalf("LockTotal: %v", err)
	}
	// Delete through the last point of the first chunk (times[15] = 160).
	if err := s.DeletePoints(tlock, times[15]); err != nil {
		t.Fatalf("DeletePoints: %v", err)
	}
	tlock.Release()
	s.Close()

	s, err = m.OpenSeriesForRead("host-1")
	if err != nil {
		t.Fatalf("OpenSeriesForRead: %v", err)
	}
	defer s.Close()

	entriesAfter, err := s.readIndex()
	if err != nil {
		t.Fatalf("readIndex: %v", err)
	}
	if len(entriesAfter) != 1 {
		t.Fatalf("len(entriesAfter) = %d, want 1 (first chunk dropped)", len(entriesAfter))
	}

	rlock, err := s.LockRead()
	if err != nil {
		t.Fatalf("LockRead: %v", err)
	}
	defer rlock.Release()
	if rlock.TimeFirst != times[16] {
		t.Fatalf("TimeFirst = %d, want %d", rlock.TimeFirst, times[16])
	}
	batch, err := s.SelectRange(rlock, nil, 0, times[npoints-1], 0, false)
	if err != nil {
		t.Fatalf("SelectRange: %v", err)
	}
	if batch.NPoints() != 16 {
		t.Fatalf("NPoints() after delete = %d, want 16", batch.NPoints())
	}
	if batch.Times[0] != times[16] {
		t.Fatalf("first surviving time = %d, want %d", batch.Times[0], times[16])
	}
}

// TestDeletePointsLastChunkAllDropped deletes through the final timestamp
// of a single-chunk series, the "last chunk, every timestamp <= t" sub-case:
// time_first becomes t+1 and the sole chunk is unlinked entirely.
func TestDeletePointsLastChunkAllDropped(t *testing.T) {
	m := newVNMeasurement(t, testConfig())
	s, wlock, err := m.OpenOrCreateAndLockSeries("host-1")
	if err != nil {
		t.Fatalf("OpenOrCreateAndLockSeries: %v", err)
	}
	times := []int64{10, 20, 30}
	writeVN(t, s, wlock, times, []float64{1, 2, 3})
	if err := s.commitWAL(wlock, m.root.config.ChunkNPoints()); err != nil {
		t.Fatalf("commitWAL: %v", err)
	}
	wlock.Release()
	s.Close()

	s, err = m.OpenSeriesForRead("host-1")
	if err != nil {
		t.Fatalf("OpenSeriesForRead: %v", err)
	}
	tlock, err := s.LockTotal()
	if err != nil {
		t.Fatalf("LockTotal: %v", err)
	}
	if err := s.DeletePoints(tlock, 30); err != nil {
		t.Fatalf("DeletePoints: %v", err)
	}
	tlock.Release()
	s.Close()

	s, err = m.OpenSeriesForRead("host-1")
	if err != nil {
		t.Fatalf("OpenSeriesForRead: %v", err)
	}
	defer s.Close()

	entries, err := s.readIndex()
	if err != nil {
		t.Fatalf("readIndex: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("len(entries) = %d, want 0", len(entries))
	}
	rlock, err := s.LockRead()
	if err != nil {
		t.Fatalf("LockRead: %v", err)
	}
	defer rlock.Release()
	if rlock.TimeFirst != 31 {
		t.Fatalf("TimeFirst = %d, want 31", rlock.TimeFirst)
	}
}

func TestDeletePointsBelowTimeFirstIsNoop(t *testing.T) {
	m := newVNMeasurement(t, testConfig())
	s, wlock, err := m.OpenOrCreateAndLockSeries("host-1")
	if err != nil {
		t.Fatalf("OpenOrCreateAndLockSeries: %v", err)
	}
	writeVN(t, s, wlock, []int64{10, 20}, []float64{1, 2})
	if err := s.commitWAL(wlock, m.root.config.ChunkNPoints()); err != nil {
		t.Fatalf("commitWAL: %v", err)
	}
	wlock.Release()
	s.Close()

	s, err = m.OpenSeriesForRead("host-1")
	if err != nil {
		t.Fatalf("OpenSeriesForRead: %v", err)
	}
	defer s.Close()
	tlock, err := s.LockTotal()
	if err != nil {
		t.Fatalf("LockTotal: %v", err)
	}
	defer tlock.Release()
	if err := s.DeletePoints(tlock, 5); err != nil {
		t.Fatalf("DeletePoints: %v", err)
	}
	if err := tlock.refreshTimeFirst(); err != nil {
		t.Fatalf("refreshTimeFirst: %v", err)
	}
	if tlock.TimeFirst != 10 {
		t.Fatalf("TimeFirst = %d, want unchanged 10", tlock.TimeFirst)
	}
}
