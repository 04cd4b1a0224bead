package tsdb

import (
	"math"
	"testing"
)

func TestCountPointsAcrossChunkStoreAndWAL(t *testing.T) {
	m := newVNMeasurement(t, testConfig())
	s, lock := openWriteLocked(t, m, "host-1")

	committed := []int64{10, 20, 30, 40}
	writeVN(t, s, lock, committed, []float64{1, 2, 3, 4})
	if err := s.commitWAL(lock, m.root.config.ChunkNPoints()); err != nil {
		t.Fatalf("commitWAL: %v", err)
	}
	// These two stay in the WAL (WALMaxEntries is large in testConfig).
	writeVN(t, s, lock, []int64{50, 60}, []float64{5, 6})

	res, err := s.CountPoints(lock, 0, 60)
	if err != nil {
		t.Fatalf("CountPoints: %v", err)
	}
	if res.NPoints != 6 {
		t.Fatalf("NPoints = %d, want 6", res.NPoints)
	}
	if res.FirstTS != 10 || res.LastTS != 60 {
		t.Fatalf("FirstTS/LastTS = %d/%d, want 10/60", res.FirstTS, res.LastTS)
	}

	res, err = s.CountPoints(lock, 15, 45)
	if err != nil {
		t.Fatalf("CountPoints(narrow): %v", err)
	}
	if res.NPoints != 3 {
		t.Fatalf("NPoints(narrow) = %d, want 3", res.NPoints)
	}
}

func TestSumWindows(t *testing.T) {
	m := newVNMeasurement(t, testConfig())
	s, lock := openWriteLocked(t, m, "host-1")

	times := []int64{1e9, 2e9, 11e9, 12e9}
	vals := []float64{1, 2, 10, 20}
	writeVN(t, s, lock, times, vals)
	if err := s.commitWAL(lock, m.root.config.ChunkNPoints()); err != nil {
		t.Fatalf("commitWAL: %v", err)
	}

	windows, err := s.SumWindows(lock, nil, 0, 20e9, 10e9)
	if err != nil {
		t.Fatalf("SumWindows: %v", err)
	}
	if len(windows) != 2 {
		t.Fatalf("len(windows) = %d, want 2", len(windows))
	}
	if windows[0].Sum[0] != 3 || windows[0].NPoints[0] != 2 {
		t.Fatalf("window 0: sum=%v npoints=%v, want sum=3 npoints=2", windows[0].Sum[0], windows[0].NPoints[0])
	}
	if windows[1].Sum[0] != 30 || windows[1].NPoints[0] != 2 {
		t.Fatalf("window 1: sum=%v npoints=%v, want sum=30 npoints=2", windows[1].Sum[0], windows[1].NPoints[0])
	}
	if windows[0].Min[0] != 1 || windows[0].Max[0] != 2 {
		t.Fatalf("window 0: min=%v max=%v, want min=1 max=2", windows[0].Min[0], windows[0].Max[0])
	}
}

func TestSumWindowsRejectsNonPositiveWindow(t *testing.T) {
	m := newVNMeasurement(t, testConfig())
	s, lock := openWriteLocked(t, m, "host-1")
	if _, err := s.SumWindows(lock, nil, 0, 10, 0); err == nil {
		t.Fatal("expected error for window_ns <= 0")
	}
}

func TestIntegralTwoPointTrapezoid(t *testing.T) {
	m := newVNMeasurement(t, testConfig())
	s, lock := openWriteLocked(t, m, "host-1")

	// v goes 0 -> 10 linearly over 1 second (1e9 ns): integral = 0.5*10*1 = 5.
	times := []int64{0, 1e9}
	writeVN(t, s, lock, times, []float64{0, 10})
	if err := s.commitWAL(lock, m.root.config.ChunkNPoints()); err != nil {
		t.Fatalf("commitWAL: %v", err)
	}

	res, err := s.Integral(lock, nil, 0, 1e9)
	if err != nil {
		t.Fatalf("Integral: %v", err)
	}
	if res.IsNull[0] {
		t.Fatal("expected v's integral to be non-null")
	}
	if math.Abs(res.Value[0]-5) > 1e-9 {
		t.Fatalf("Value[0] = %v, want 5", res.Value[0])
	}
}

func TestIntegralSinglePointPassthrough(t *testing.T) {
	m := newVNMeasurement(t, testConfig())
	s, lock := openWriteLocked(t, m, "host-1")

	writeVN(t, s, lock, []int64{5}, []float64{42})
	if err := s.commitWAL(lock, m.root.config.ChunkNPoints()); err != nil {
		t.Fatalf("commitWAL: %v", err)
	}

	res, err := s.Integral(lock, nil, 0, 100)
	if err != nil {
		t.Fatalf("Integral: %v", err)
	}
	if res.IsNull[0] || res.Value[0] != 42 {
		t.Fatalf("single-point integral = %v (null=%v), want 42", res.Value[0], res.IsNull[0])
	}
}

func TestIntegralEmptyRangeIsNull(t *testing.T) {
	m := newVNMeasurement(t, testConfig())
	s, lock := openWriteLocked(t, m, "host-1")
	res, err := s.Integral(lock, nil, 0, 100)
	if err != nil {
		t.Fatalf("Integral: %v", err)
	}
	for fi, null := range res.IsNull {
		if !null {
			t.Fatalf("field %d: expected null on an empty series", fi)
		}
	}
}

func TestIntegralStickyNullOnAnyNullSample(t *testing.T) {
	m := newVNMeasurement(t, testConfig())
	s, lock := openWriteLocked(t, m, "host-1")

	times := []int64{0, 1e9, 2e9}
	notNull := [][]bool{{true, false, true}, {true, true, true}}
	values := [][][]byte{
		{floatBytes(1), floatBytes(0), floatBytes(2)},
		{int64Bytes(1), int64Bytes(2), int64Bytes(3)},
	}
	buf := buildWriteBuffer(s.measurement.schema, 0, times, notNull, values)
	if err := s.WriteWAL(lock, 3, 0, buf); err != nil {
		t.Fatalf("WriteWAL: %v", err)
	}
	if err := s.commitWAL(lock, m.root.config.ChunkNPoints()); err != nil {
		t.Fatalf("commitWAL: %v", err)
	}

	res, err := s.Integral(lock, nil, 0, 2e9)
	if err != nil {
		t.Fatalf("Integral: %v", err)
	}
	if !res.IsNull[0] {
		t.Fatal("expected v's integral to be null: a sample in range was null")
	}
	if res.IsNull[1] {
		t.Fatal("expected n's integral to be non-null: no null samples")
	}
}
