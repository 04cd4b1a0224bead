package tsdb

import (
	"sort"

	"tsdbengine/internal/fsio"
)

// DeletePoints implements delete_points(t) (§4.10): remove every point with
// time_ns <= t, advancing time_first to the smallest remaining timestamp.
// lock must be a total lock already held over the series.
func (s *Series) DeletePoints(lock *SeriesLock, t int64) error {
	if t < lock.TimeFirst {
		return nil
	}

	entries, err := s.readIndex()
	if err != nil {
		return err
	}

	// upper_bound(t): first slot whose TimeNs > t.
	slot := sort.Search(len(entries), func(i int) bool { return entries[i].TimeNs > t })

	if slot == 0 {
		// All surviving on-disk data (if any) starts after t; anything at
		// or below t lives only in the WAL, which delete does not touch
		// directly — it becomes unreachable once time_first passes it.
		return lock.setTimeFirst(t+1, fsio.FsyncAndFlush)
	}

	// Inspect the candidate last-dropped slot.
	slot--
	chunk := entries[slot].Name
	ts, err := s.readTimestamps(chunk)
	if err != nil {
		return err
	}

	var newTimeFirst int64
	dropFrom := 0 // entries[0:dropFrom] are dropped

	// upper_bound(t) within ts: first index with ts[i] > t.
	pos := sort.Search(len(ts), func(i int) bool { return ts[i] > t })

	switch {
	case pos < len(ts):
		// Found mid-file: this chunk is kept and its points at or below t
		// are hidden by the new time_first — nothing to unlink for it.
		newTimeFirst = ts[pos]
		dropFrom = slot
	case slot+1 < len(entries):
		// Entirely obsolete chunk, but there is a following slot to take
		// over as the new first-kept.
		newTimeFirst = entries[slot+1].TimeNs
		dropFrom = slot + 1
	default:
		// Last chunk, and every one of its timestamps is <= t.
		newTimeFirst = t + 1
		dropFrom = slot + 1
	}

	dropping := dropFrom > 0
	syncFn := fsio.FsyncAndFlush
	if dropping {
		syncFn = fsio.FsyncAndBarrier
	}
	if err := lock.setTimeFirst(newTimeFirst, syncFn); err != nil {
		return err
	}
	if !dropping {
		return nil
	}

	for i := 0; i < dropFrom; i++ {
		if err := s.unlinkChunkFiles(entries[i].Name); err != nil {
			return err
		}
	}

	return s.rewriteIndex(entries[dropFrom:])
}
