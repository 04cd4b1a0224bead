package tsdb

import (
	"math"
	"sort"

	"tsdbengine/internal/schema"
)

// CountResult is the result of CountPoints: the number of points in range
// and the first/last timestamps actually seen (zero values if npoints==0).
type CountResult struct {
	NPoints  int64
	FirstTS  int64
	LastTS   int64
}

// CountPoints implements count_points (§4.12): read the timestamps of each
// chunk that can hold points in the clamped range and binary-search them
// for the exact endpoints, then merge in the WAL's contribution above
// time_last.
func (s *Series) CountPoints(lock *SeriesLock, t0, t1 int64) (CountResult, error) {
	var res CountResult
	effT0 := t0
	if lock.TimeFirst > effT0 {
		effT0 = lock.TimeFirst
	}
	effT1 := t1
	if lock.TimeLast < effT1 {
		effT1 = lock.TimeLast
	}

	if effT0 <= effT1 {
		entries, err := s.readIndex()
		if err != nil {
			return res, err
		}
		startSlot := sort.Search(len(entries), func(i int) bool { return entries[i].TimeNs > effT0 }) - 1
		if startSlot < 0 {
			startSlot = 0
		}
		for slot := startSlot; slot < len(entries); slot++ {
			if entries[slot].TimeNs > effT1 {
				break
			}
			ts, err := s.readTimestamps(entries[slot].Name)
			if err != nil {
				return res, err
			}
			if len(ts) == 0 {
				continue
			}
			lo := sort.Search(len(ts), func(i int) bool { return ts[i] >= effT0 })
			hi := sort.Search(len(ts), func(i int) bool { return ts[i] > effT1 })
			if lo >= hi {
				continue
			}
			if res.NPoints == 0 {
				res.FirstTS = ts[lo]
			}
			res.LastTS = ts[hi-1]
			res.NPoints += int64(hi - lo)
		}
	}

	walRows, err := s.QueryWAL(lock, t0, t1)
	if err != nil {
		return res, err
	}
	for _, r := range walRows {
		if res.NPoints == 0 {
			res.FirstTS = r.TimeNs
		}
		res.LastTS = r.TimeNs
		res.NPoints++
	}
	return res, nil
}

// WindowResult is one window's contribution from SumWindows: per-field
// running sum, min, max (as float64, the common representation across
// integer and float field types), and the count of non-null samples.
type WindowResult struct {
	WindowStart int64
	WindowEnd   int64
	Sum         []float64
	Min         []float64
	Max         []float64
	NPoints     []int64
}

// SumWindows implements the windowed sum/min/max/npoints aggregate
// (§4.12). The first window starts at the largest multiple of window_ns
// that is <= time_first but >= the clamped t0. Each window walks forward
// through the select range (chunk store then WAL); a window with zero
// points anywhere is skipped, matching next()'s "at least one point
// anywhere" contract.
func (s *Series) SumWindows(lock *SeriesLock, fields []schema.Field, t0, t1, windowNs int64) ([]WindowResult, error) {
	if windowNs <= 0 {
		return nil, newErr(StatusInvalidConfig, "window_ns must be positive")
	}
	if len(fields) == 0 {
		fields = s.measurement.schema.Fields
	}

	clampedT0 := t0
	if lock.TimeFirst > clampedT0 {
		clampedT0 = lock.TimeFirst
	}
	start := (lock.TimeFirst / windowNs) * windowNs
	if start < clampedT0 {
		start = (clampedT0 / windowNs) * windowNs
	}

	var out []WindowResult
	for ws := start; ws <= t1; ws += windowNs {
		we := ws + windowNs - 1
		lo := ws
		if lo < t0 {
			lo = t0
		}
		hi := we
		if hi > t1 {
			hi = t1
		}
		if lo > hi {
			continue
		}
		batch, err := s.SelectRange(lock, fields, lo, hi, 0, false)
		if err != nil {
			return nil, err
		}
		if batch.NPoints() == 0 {
			continue
		}
		w := WindowResult{
			WindowStart: ws,
			WindowEnd:   we,
			Sum:         make([]float64, len(fields)),
			Min:         make([]float64, len(fields)),
			Max:         make([]float64, len(fields)),
			NPoints:     make([]int64, len(fields)),
		}
		for fi, f := range fields {
			first := true
			for pi := 0; pi < batch.NPoints(); pi++ {
				if !batch.NotNull[fi][pi] {
					continue
				}
				v := decodeFloat(f.Type, batch.Values[fi][pi])
				w.Sum[fi] += v
				w.NPoints[fi]++
				if first {
					w.Min[fi], w.Max[fi] = v, v
					first = false
					continue
				}
				if v < w.Min[fi] {
					w.Min[fi] = v
				}
				if v > w.Max[fi] {
					w.Max[fi] = v
				}
			}
		}
		out = append(out, w)
	}
	return out, nil
}

// IntegralResult is the trapezoidal integral of each requested field over
// a select range. IsNull[j] is true iff fewer than one sample contributed
// (zero points) or any sample in the range had a null in field j.
type IntegralResult struct {
	Value  []float64
	IsNull []bool
}

// Integral implements the trapezoidal integral aggregate (§4.12): for
// every non-null sample in timestamp order, each field accumulates
// 0.5*(prev+cur)*(t-prev_t)/1e9. With zero points every field is null;
// with exactly one point each integral equals that single sample's value.
func (s *Series) Integral(lock *SeriesLock, fields []schema.Field, t0, t1 int64) (IntegralResult, error) {
	if len(fields) == 0 {
		fields = s.measurement.schema.Fields
	}
	res := IntegralResult{Value: make([]float64, len(fields)), IsNull: make([]bool, len(fields))}
	for fi := range fields {
		res.IsNull[fi] = true
	}

	batch, err := s.SelectRange(lock, fields, t0, t1, 0, false)
	if err != nil {
		return res, err
	}
	if batch.NPoints() == 0 {
		return res, nil
	}

	prevT := make([]int64, len(fields))
	prevV := make([]float64, len(fields))
	haveFirst := make([]bool, len(fields))
	sawNull := make([]bool, len(fields))

	for fi, f := range fields {
		for pi := 0; pi < batch.NPoints(); pi++ {
			if !batch.NotNull[fi][pi] {
				sawNull[fi] = true
				continue
			}
			t := batch.Times[pi]
			v := decodeFloat(f.Type, batch.Values[fi][pi])
			if !haveFirst[fi] {
				prevT[fi], prevV[fi] = t, v
				haveFirst[fi] = true
				continue
			}
			res.Value[fi] += 0.5 * (prevV[fi] + v) * float64(t-prevT[fi]) / 1e9
			prevT[fi], prevV[fi] = t, v
		}
		if batch.NPoints() == 1 && haveFirst[fi] {
			res.Value[fi] = prevV[fi]
		}
		if haveFirst[fi] && !sawNull[fi] {
			res.IsNull[fi] = false
		}
	}
	return res, nil
}

// decodeFloat coerces a native-width field value to float64 for
// aggregate arithmetic.
func decodeFloat(t schema.FieldType, v []byte) float64 {
	switch t {
	case schema.Bool:
		if v[0] != 0 {
			return 1
		}
		return 0
	case schema.U32:
		return float64(leUint32(v))
	case schema.U64:
		return float64(leUint64(v))
	case schema.F32:
		return float64(math.Float32frombits(leUint32(v)))
	case schema.F64:
		return math.Float64frombits(leUint64(v))
	case schema.I32:
		return float64(int32(leUint32(v)))
	case schema.I64:
		return float64(int64(leUint64(v)))
	default:
		return 0
	}
}

func leUint32(b []byte) uint32 {
	var v uint32
	for i := 3; i >= 0; i-- {
		v = v<<8 | uint32(b[i])
	}
	return v
}
