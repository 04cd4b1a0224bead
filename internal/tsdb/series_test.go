package tsdb

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestOpenOrCreateAndLockSeriesBuildsLayout(t *testing.T) {
	m := newVNMeasurement(t, testConfig())
	s, lock, err := m.OpenOrCreateAndLockSeries("host-1")
	if err != nil {
		t.Fatalf("OpenOrCreateAndLockSeries: %v", err)
	}
	defer s.Close()
	defer lock.Release()

	if lock.TimeFirst != 1 || lock.TimeLast != 0 {
		t.Fatalf("fresh series lock = (%d, %d), want (1, 0)", lock.TimeFirst, lock.TimeLast)
	}

	for _, rel := range []string{"time_ns", "index", "wal", "time_first", "time_last", "fields/v", "fields/n", "bitmaps/v", "bitmaps/n"} {
		if _, err := os.Stat(filepath.Join(s.Path(), rel)); err != nil {
			t.Fatalf("expected %s to exist: %v", rel, err)
		}
	}
}

func TestOpenOrCreateAndLockSeriesIsIdempotent(t *testing.T) {
	m := newVNMeasurement(t, testConfig())
	s1, lock1, err := m.OpenOrCreateAndLockSeries("host-1")
	if err != nil {
		t.Fatalf("OpenOrCreateAndLockSeries: %v", err)
	}
	lock1.Release()
	s1.Close()

	s2, lock2, err := m.OpenOrCreateAndLockSeries("host-1")
	if err != nil {
		t.Fatalf("OpenOrCreateAndLockSeries (second): %v", err)
	}
	defer s2.Close()
	defer lock2.Release()
	if s2.Name() != "host-1" {
		t.Fatalf("Name() = %q", s2.Name())
	}
}

func TestOpenSeriesForReadNoSuchSeries(t *testing.T) {
	m := newVNMeasurement(t, testConfig())
	_, err := m.OpenSeriesForRead("missing")
	if !errors.Is(err, ErrNoSuchSeries) {
		t.Fatalf("expected ErrNoSuchSeries, got %v", err)
	}
}

// TestCleanDanglingTailChunks exercises the §9 known-issue cleanup: a
// writer crash can leave a chunk's files created (by createChunkFiles) with
// an index entry never appended for it. Reopening the series must unlink
// the orphan rather than leave it to confuse later recovery.
func TestCleanDanglingTailChunks(t *testing.T) {
	m := newVNMeasurement(t, testConfig())
	s, lock, err := m.OpenOrCreateAndLockSeries("host-1")
	if err != nil {
		t.Fatalf("OpenOrCreateAndLockSeries: %v", err)
	}
	lock.Release()
	s.Close()

	s, err = m.OpenSeriesForRead("host-1")
	if err != nil {
		t.Fatalf("OpenSeriesForRead: %v", err)
	}
	const orphan = "999"
	if err := s.createChunkFiles(orphan, 16); err != nil {
		t.Fatalf("createChunkFiles: %v", err)
	}
	s.Close()

	if _, err := os.Stat(filepath.Join(m.Path(), "host-1", "time_ns", orphan)); err != nil {
		t.Fatalf("expected orphan chunk file to exist before reopen: %v", err)
	}

	s, err = m.OpenSeriesForRead("host-1")
	if err != nil {
		t.Fatalf("OpenSeriesForRead (reopen): %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(filepath.Join(m.Path(), "host-1", "time_ns", orphan)); !os.IsNotExist(err) {
		t.Fatalf("expected orphan chunk file to be removed on reopen, stat err = %v", err)
	}
	for _, field := range []string{"v", "n"} {
		if _, err := os.Stat(filepath.Join(m.Path(), "host-1", "fields", field, orphan)); !os.IsNotExist(err) {
			t.Fatalf("expected orphan field file %s to be removed, stat err = %v", field, err)
		}
		if _, err := os.Stat(filepath.Join(m.Path(), "host-1", "bitmaps", field, orphan)); !os.IsNotExist(err) {
			t.Fatalf("expected orphan bitmap file %s to be removed, stat err = %v", field, err)
		}
	}
}
