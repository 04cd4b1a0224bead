package tsdb

import "testing"

func TestSelectFirstLimitsFromFront(t *testing.T) {
	m := newVNMeasurement(t, testConfig())
	s, lock := openWriteLocked(t, m, "host-1")

	times := []int64{10, 20, 30, 40, 50}
	writeVN(t, s, lock, times, []float64{1, 2, 3, 4, 5})
	if err := s.commitWAL(lock, m.root.config.ChunkNPoints()); err != nil {
		t.Fatalf("commitWAL: %v", err)
	}

	batch, err := s.SelectFirst(lock, nil, 0, 100, 2)
	if err != nil {
		t.Fatalf("SelectFirst: %v", err)
	}
	if batch.NPoints() != 2 {
		t.Fatalf("NPoints() = %d, want 2", batch.NPoints())
	}
	if batch.Times[0] != 10 || batch.Times[1] != 20 {
		t.Fatalf("SelectFirst times = %v, want [10 20]", batch.Times)
	}
}

func TestSelectLastLimitsFromBack(t *testing.T) {
	m := newVNMeasurement(t, testConfig())
	s, lock := openWriteLocked(t, m, "host-1")

	times := []int64{10, 20, 30, 40, 50}
	writeVN(t, s, lock, times, []float64{1, 2, 3, 4, 5})
	if err := s.commitWAL(lock, m.root.config.ChunkNPoints()); err != nil {
		t.Fatalf("commitWAL: %v", err)
	}

	batch, err := s.SelectLast(lock, nil, 0, 100, 2)
	if err != nil {
		t.Fatalf("SelectLast: %v", err)
	}
	if batch.NPoints() != 2 {
		t.Fatalf("NPoints() = %d, want 2", batch.NPoints())
	}
	if batch.Times[0] != 40 || batch.Times[1] != 50 {
		t.Fatalf("SelectLast times = %v, want [40 50]", batch.Times)
	}
}

// TestSelectRangeMergesChunkStoreAndWAL writes some points then commits,
// leaves further points pending in the WAL, and verifies a single
// SelectRange call transparently concatenates both sources in order.
func TestSelectRangeMergesChunkStoreAndWAL(t *testing.T) {
	m := newVNMeasurement(t, testConfig())
	s, lock := openWriteLocked(t, m, "host-1")

	writeVN(t, s, lock, []int64{10, 20}, []float64{1, 2})
	if err := s.commitWAL(lock, m.root.config.ChunkNPoints()); err != nil {
		t.Fatalf("commitWAL: %v", err)
	}
	writeVN(t, s, lock, []int64{30, 40}, []float64{3, 4})

	batch, err := s.SelectRange(lock, nil, 0, 100, 0, false)
	if err != nil {
		t.Fatalf("SelectRange: %v", err)
	}
	want := []int64{10, 20, 30, 40}
	if batch.NPoints() != len(want) {
		t.Fatalf("NPoints() = %d, want %d", batch.NPoints(), len(want))
	}
	for i, w := range want {
		if batch.Times[i] != w {
			t.Fatalf("point %d: time = %d, want %d", i, batch.Times[i], w)
		}
	}
}

func TestSelectRangeClampsToEffectiveInterval(t *testing.T) {
	m := newVNMeasurement(t, testConfig())
	s, lock := openWriteLocked(t, m, "host-1")

	times := []int64{10, 20, 30, 40, 50}
	writeVN(t, s, lock, times, []float64{1, 2, 3, 4, 5})
	if err := s.commitWAL(lock, m.root.config.ChunkNPoints()); err != nil {
		t.Fatalf("commitWAL: %v", err)
	}

	batch, err := s.SelectRange(lock, nil, 25, 45, 0, false)
	if err != nil {
		t.Fatalf("SelectRange: %v", err)
	}
	if batch.NPoints() != 2 || batch.Times[0] != 30 || batch.Times[1] != 40 {
		t.Fatalf("SelectRange(25,45) = %v, want [30 40]", batch.Times)
	}
}
