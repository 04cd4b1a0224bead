package tsdb

import (
	"testing"
)

// TestRecoverTailConsistent is the steady-state case: time_last's snapshot
// matches the tail chunk's last timestamp exactly, so recoverTail must
// return the index untouched and the tail's live point count.
func TestRecoverTailConsistent(t *testing.T) {
	m := newVNMeasurement(t, testConfig())
	s, lock := openWriteLocked(t, m, "host-1")

	times := []int64{10, 20, 30}
	writeVN(t, s, lock, times, []float64{1, 2, 3})
	if err := s.commitWAL(lock, m.root.config.ChunkNPoints()); err != nil {
		t.Fatalf("commitWAL: %v", err)
	}
	if err := lock.refreshTimeLast(); err != nil {
		t.Fatalf("refreshTimeLast: %v", err)
	}

	entriesBefore, err := s.readIndex()
	if err != nil {
		t.Fatalf("readIndex: %v", err)
	}

	entries, tailLen, err := s.recoverTail(lock)
	if err != nil {
		t.Fatalf("recoverTail: %v", err)
	}
	if len(entries) != len(entriesBefore) {
		t.Fatalf("len(entries) = %d, want %d (untouched)", len(entries), len(entriesBefore))
	}
	if tailLen != 3 {
		t.Fatalf("tailLen = %d, want 3", tailLen)
	}
}

// TestRecoverTailTruncatesInterruptedWrite fabricates the "interrupted
// in-flight write" case (§4.6): the tail chunk's timestamp file holds points
// beyond what time_last was ever bumped to, simulating a crash between
// appendTimestamps and the time_last fsync_and_barrier that should have
// published them. recoverTail must truncate the timestamp file back to the
// point whose value equals the locked time_last.
func TestRecoverTailTruncatesInterruptedWrite(t *testing.T) {
	m := newVNMeasurement(t, testConfig())
	s, lock := openWriteLocked(t, m, "host-1")

	times := []int64{10, 20, 30}
	writeVN(t, s, lock, times, []float64{1, 2, 3})
	if err := s.commitWAL(lock, m.root.config.ChunkNPoints()); err != nil {
		t.Fatalf("commitWAL: %v", err)
	}
	if err := lock.refreshTimeLast(); err != nil {
		t.Fatalf("refreshTimeLast: %v", err)
	}
	if lock.TimeLast != 30 {
		t.Fatalf("TimeLast = %d, want 30", lock.TimeLast)
	}

	entries, err := s.readIndex()
	if err != nil {
		t.Fatalf("readIndex: %v", err)
	}
	tail := entries[len(entries)-1].Name

	// Simulate a crash mid-append: the timestamp file already has two more
	// points appended, but time_last (and lock.TimeLast) never advanced
	// past 30.
	if err := s.appendTimestamps(tail, 3, []int64{40, 50}); err != nil {
		t.Fatalf("appendTimestamps: %v", err)
	}

	ts, err := s.readTimestamps(tail)
	if err != nil {
		t.Fatalf("readTimestamps: %v", err)
	}
	if len(ts) != 5 {
		t.Fatalf("len(ts) before recovery = %d, want 5", len(ts))
	}

	recovered, tailLen, err := s.recoverTail(lock)
	if err != nil {
		t.Fatalf("recoverTail: %v", err)
	}
	if len(recovered) != len(entries) {
		t.Fatalf("len(recovered) = %d, want %d", len(recovered), len(entries))
	}
	if tailLen != 3 {
		t.Fatalf("tailLen after recovery = %d, want 3", tailLen)
	}

	tsAfter, err := s.readTimestamps(tail)
	if err != nil {
		t.Fatalf("readTimestamps after recovery: %v", err)
	}
	if len(tsAfter) != 3 {
		t.Fatalf("len(tsAfter) = %d, want 3 (truncated back to time_last)", len(tsAfter))
	}
	if tsAfter[2] != 30 {
		t.Fatalf("tsAfter[2] = %d, want 30", tsAfter[2])
	}
}

// TestRecoverTailUnlinksOrphanChunk fabricates the "entirely orphaned
// chunk" case (§4.6): a brand-new chunk's files and index entry were
// published, but time_last was never bumped into it (crash right after the
// index append). recoverTail must unlink the orphan's files, drop its
// index entry, and fall back to the previous (consistent) tail.
func TestRecoverTailUnlinksOrphanChunk(t *testing.T) {
	m := newVNMeasurement(t, testConfig())
	s, lock := openWriteLocked(t, m, "host-1")

	times := []int64{10, 20, 30}
	writeVN(t, s, lock, times, []float64{1, 2, 3})
	if err := s.commitWAL(lock, m.root.config.ChunkNPoints()); err != nil {
		t.Fatalf("commitWAL: %v", err)
	}
	if err := lock.refreshTimeLast(); err != nil {
		t.Fatalf("refreshTimeLast: %v", err)
	}

	entriesBefore, err := s.readIndex()
	if err != nil {
		t.Fatalf("readIndex: %v", err)
	}

	orphan := chunkName(1000)
	if err := s.createChunkFiles(orphan, m.root.config.ChunkNPoints()); err != nil {
		t.Fatalf("createChunkFiles: %v", err)
	}
	if err := s.barrierTimestampFile(orphan); err != nil {
		t.Fatalf("barrierTimestampFile: %v", err)
	}
	if err := s.appendIndexEntry(IndexEntry{TimeNs: 1000, Name: orphan}); err != nil {
		t.Fatalf("appendIndexEntry: %v", err)
	}

	entriesMid, err := s.readIndex()
	if err != nil {
		t.Fatalf("readIndex (mid): %v", err)
	}
	if len(entriesMid) != len(entriesBefore)+1 {
		t.Fatalf("len(entriesMid) = %d, want %d", len(entriesMid), len(entriesBefore)+1)
	}

	recovered, tailLen, err := s.recoverTail(lock)
	if err != nil {
		t.Fatalf("recoverTail: %v", err)
	}
	if len(recovered) != len(entriesBefore) {
		t.Fatalf("len(recovered) = %d, want %d (orphan dropped)", len(recovered), len(entriesBefore))
	}
	if tailLen != 3 {
		t.Fatalf("tailLen = %d, want 3 (falls back to the real tail)", tailLen)
	}

	if _, err := s.readTimestamps(orphan); err == nil {
		t.Fatal("expected orphan chunk's timestamp file to be unlinked")
	}
}

// TestRecoverTailEmptySeries exercises the zero-chunk case: a freshly
// created series has no chunks at all, and recoverTail must report that
// without error.
func TestRecoverTailEmptySeries(t *testing.T) {
	m := newVNMeasurement(t, testConfig())
	s, lock := openWriteLocked(t, m, "host-1")

	entries, tailLen, err := s.recoverTail(lock)
	if err != nil {
		t.Fatalf("recoverTail: %v", err)
	}
	if len(entries) != 0 || tailLen != 0 {
		t.Fatalf("recoverTail on empty series = (%d entries, tailLen %d), want (0, 0)", len(entries), tailLen)
	}
}
