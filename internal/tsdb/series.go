package tsdb

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"tsdbengine/internal/fsio"
)

// Series is a directory under its measurement holding time_first,
// time_last, index, wal, time_ns/, fields/<f>/, and bitmaps/<f>/.
type Series struct {
	measurement *Measurement
	dir         *fsio.Dir
	name        string
	path        string
}

// Name returns the series's name.
func (s *Series) Name() string { return s.name }

// Path returns the series's filesystem path.
func (s *Series) Path() string { return s.path }

// Measurement returns the series's owning measurement.
func (s *Series) Measurement() *Measurement { return s.measurement }

// Close releases the series's directory handle.
func (s *Series) Close() error { return s.dir.Close() }

// OpenOrCreateAndLockSeries implements the spec's combined operation: find
// or atomically build the named series under m, clean up any dangling
// tail-chunk files left by a prior crash (§9), then acquire and return a
// write lock over it.
func (m *Measurement) OpenOrCreateAndLockSeries(name string) (*Series, *SeriesLock, error) {
	s, err := m.openOrCreateSeries(name)
	if err != nil {
		return nil, nil, err
	}
	lock, err := s.LockWrite()
	if err != nil {
		s.Close()
		return nil, nil, err
	}
	return s, lock, nil
}

// openOrCreateSeries performs the find-or-atomically-build half of
// OpenOrCreateAndLockSeries, per §4.5: with the measurement's
// create_series_lock held exclusively, check for existence; if absent,
// build the complete subtree in tmp/ under a random name, fsync
// everything, then rename_if_not_exists into place. A lost race falls back
// to the open path.
func (m *Measurement) openOrCreateSeries(name string) (*Series, error) {
	if !validName(name) {
		return nil, ErrInvalidSeries
	}

	createLock, err := m.dir.OpenFile("create_series_lock", os.O_RDWR, 0o644)
	if err != nil {
		return nil, ioError("open_or_create_and_lock_series", err)
	}
	defer createLock.Close()
	if err := fsio.Flock(createLock, fsio.LockExclusive); err != nil {
		return nil, ioError("open_or_create_and_lock_series", err)
	}
	defer fsio.Unlock(createLock)

	for {
		if m.dir.Exists(name) {
			return m.openSeries(name)
		}
		ok, err := m.stageSeries(name)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		return m.openSeries(name)
	}
}

func (m *Measurement) stageSeries(name string) (bool, error) {
	tmp := m.root.tmp
	build := func(staging string) error {
		stagingDir, err := tmp.MkdirScoped(staging, 0o755)
		if err != nil {
			return ioError("open_or_create_and_lock_series", err)
		}
		defer stagingDir.Close()

		if err := stagingDir.Mkdir("time_ns", 0o755); err != nil {
			return ioError("open_or_create_and_lock_series", err)
		}
		fieldsDir, err := stagingDir.MkdirScoped("fields", 0o755)
		if err != nil {
			return ioError("open_or_create_and_lock_series", err)
		}
		defer fieldsDir.Close()
		bitmapsDir, err := stagingDir.MkdirScoped("bitmaps", 0o755)
		if err != nil {
			return ioError("open_or_create_and_lock_series", err)
		}
		defer bitmapsDir.Close()

		for _, f := range m.schema.Fields {
			if err := fieldsDir.Mkdir(f.Name, 0o755); err != nil {
				return ioError("open_or_create_and_lock_series", err)
			}
			if err := bitmapsDir.Mkdir(f.Name, 0o755); err != nil {
				return ioError("open_or_create_and_lock_series", err)
			}
		}

		if err := createEmptyFileSynced(stagingDir, "index"); err != nil {
			return err
		}
		if err := createEmptyFileSynced(stagingDir, "wal"); err != nil {
			return err
		}
		if err := createInt64FileSynced(stagingDir, "time_first", 1); err != nil {
			return err
		}
		if err := createInt64FileSynced(stagingDir, "time_last", 0); err != nil {
			return err
		}
		return stagingDir.Sync()
	}
	ok, err := fsio.BuildAndPublish(tmp, m.dir, "series", name, build)
	if err != nil {
		return false, ioError("open_or_create_and_lock_series", err)
	}
	if ok {
		if err := m.dir.Sync(); err != nil {
			return false, ioError("open_or_create_and_lock_series", err)
		}
		m.root.logger.Info("series created", "measurement", m.name, "series", name)
	}
	return ok, nil
}

func createEmptyFileSynced(dir *fsio.Dir, name string) error {
	f, err := dir.Create(name)
	if err != nil {
		return ioError("open_or_create_and_lock_series", err)
	}
	if err := fsio.Fsync(f); err != nil {
		f.Close()
		return ioError("open_or_create_and_lock_series", err)
	}
	return f.Close()
}

func createInt64FileSynced(dir *fsio.Dir, name string, v int64) error {
	f, err := dir.Create(name)
	if err != nil {
		return ioError("open_or_create_and_lock_series", err)
	}
	if err := writeInt64File(f, v); err != nil {
		f.Close()
		return ioError("open_or_create_and_lock_series", err)
	}
	if err := fsio.Fsync(f); err != nil {
		f.Close()
		return ioError("open_or_create_and_lock_series", err)
	}
	return f.Close()
}

// OpenSeriesForRead opens an existing series for read/delete access
// (select, count, sum, integral, delete_points) without the
// create-if-missing semantics of OpenOrCreateAndLockSeries.
func (m *Measurement) OpenSeriesForRead(name string) (*Series, error) {
	if !m.dir.Exists(name) {
		return nil, ErrNoSuchSeries
	}
	return m.openSeries(name)
}

// openSeries opens an existing series directory and performs the
// dangling-tail-chunk cleanup described in §9: if the writer created a new
// timestamp file but crashed before extending the index, the empty file is
// orphaned. On open, unlink any file in time_ns/ whose numeric name is not
// present in the index.
func (m *Measurement) openSeries(name string) (*Series, error) {
	path := filepath.Join(m.path, name)
	dir, err := fsio.OpenDir(path)
	if err != nil {
		return nil, ioError("open_series", err)
	}
	s := &Series{measurement: m, dir: dir, name: name, path: path}
	if err := s.cleanDanglingTailChunks(); err != nil {
		dir.Close()
		return nil, err
	}
	return s, nil
}

// cleanDanglingTailChunks implements the §9 known-issue cleanup.
func (s *Series) cleanDanglingTailChunks() error {
	idx, err := s.readIndex()
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(idx))
	for _, e := range idx {
		known[e.Name] = true
	}

	timeNsDir, err := fsio.OpenDir(filepath.Join(s.path, "time_ns"))
	if err != nil {
		return ioError("open_series", err)
	}
	defer timeNsDir.Close()

	entries, err := timeNsDir.ReadDir()
	if err != nil {
		return ioError("open_series", err)
	}
	fieldsDir, err := fsio.OpenDir(filepath.Join(s.path, "fields"))
	if err != nil {
		return ioError("open_series", err)
	}
	defer fieldsDir.Close()
	bitmapsDir, err := fsio.OpenDir(filepath.Join(s.path, "bitmaps"))
	if err != nil {
		return ioError("open_series", err)
	}
	defer bitmapsDir.Close()

	for _, e := range entries {
		nameStr := e.Name()
		if known[nameStr] {
			continue
		}
		if _, err := strconv.ParseUint(nameStr, 10, 64); err != nil {
			// Not a chunk-name-shaped entry; leave it alone.
			continue
		}
		if err := timeNsDir.RemoveIfExists(nameStr); err != nil {
			return ioError("open_series", err)
		}
		for _, f := range s.measurement.schema.Fields {
			fd, err := fsio.OpenDir(filepath.Join(fieldsDir.Path(), f.Name))
			if err == nil {
				fd.RemoveIfExists(nameStr)
				fd.RemoveIfExists(nameStr + ".gz")
				fd.Close()
			}
			bd, err := fsio.OpenDir(filepath.Join(bitmapsDir.Path(), f.Name))
			if err == nil {
				bd.RemoveIfExists(nameStr)
				bd.Close()
			}
		}
	}
	return nil
}

// chunkName renders a first-timestamp into its decimal chunk-name stem.
func chunkName(firstTS int64) string {
	return strconv.FormatInt(firstTS, 10)
}

// stripGzSuffix returns name with a trailing ".gz" removed, if present.
func stripGzSuffix(name string) string {
	return strings.TrimSuffix(name, ".gz")
}
