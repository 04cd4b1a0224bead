package tsdb

import (
	"os"
	"path/filepath"

	"tsdbengine/internal/fsio"
	"tsdbengine/internal/schema"
)

// Measurement is a directory under its database holding exactly one
// `schema` file and one subdirectory per series. The schema is immutable
// after creation; field metadata is decoded from a read-only mmap of the
// schema file into a schema.Schema when the measurement is opened.
type Measurement struct {
	db       *Database
	root     *Root
	dir      *fsio.Dir
	name     string
	path     string
	schema   schema.Schema
	schemaMF *os.File
	schemaMM *fsio.Mapping
}

// Name returns the measurement's name.
func (m *Measurement) Name() string { return m.name }

// Path returns the measurement's filesystem path.
func (m *Measurement) Path() string { return m.path }

// Schema returns the measurement's immutable field schema.
func (m *Measurement) Schema() schema.Schema { return m.schema }

// Close releases the measurement's open handles.
func (m *Measurement) Close() error {
	if m.schemaMM != nil {
		m.schemaMM.Close()
	}
	if m.schemaMF != nil {
		m.schemaMF.Close()
	}
	return m.dir.Close()
}

// CreateMeasurement creates (or idempotently opens) a measurement with the
// requested field vector, per spec §4.4:
//
//  1. If the measurement already exists with a matching schema (same
//     count, types, names, order), return it.
//  2. If it exists with a different schema, fail ErrMeasurementExists.
//  3. Otherwise atomically build a `measurement.XXXXXX` staging directory
//     in tmp/ containing an empty create_series_lock file and the schema
//     file, fsync, then rename_if_not_exists into place; on a lost race,
//     loop back to step 1.
func (db *Database) CreateMeasurement(name string, fieldNames []string, fieldTypes []schema.FieldType) (*Measurement, error) {
	if !validName(name) {
		return nil, ErrInvalidMeasurement
	}
	requested, err := schema.New(fieldNames, fieldTypes)
	if err != nil {
		return nil, err
	}

	for {
		if db.dir.Exists(name) {
			existing, err := db.OpenMeasurement(name)
			if err != nil {
				return nil, err
			}
			if existing.schema.Equal(requested) {
				return existing, nil
			}
			existing.Close()
			return nil, ErrMeasurementExists
		}

		ok, err := db.stageMeasurement(name, requested)
		if err != nil {
			return nil, err
		}
		if !ok {
			// Lost the race: someone else published it first. Loop back
			// to the existence check above.
			continue
		}
		m, err := db.OpenMeasurement(name)
		if err != nil {
			return nil, err
		}
		db.root.logger.Info("measurement created", "database", db.name, "measurement", name)
		return m, nil
	}
}

func (db *Database) stageMeasurement(name string, s schema.Schema) (bool, error) {
	encoded, err := s.EncodeAll()
	if err != nil {
		return false, err
	}
	tmp := db.root.tmp
	build := func(staging string) error {
		stagingDir, err := tmp.MkdirScoped(staging, 0o755)
		if err != nil {
			return ioError("create_measurement", err)
		}
		defer stagingDir.Close()

		lockFile, err := stagingDir.Create("create_series_lock")
		if err != nil {
			return ioError("create_measurement", err)
		}
		if err := fsio.Fsync(lockFile); err != nil {
			lockFile.Close()
			return ioError("create_measurement", err)
		}
		lockFile.Close()

		schemaFile, err := stagingDir.Create("schema")
		if err != nil {
			return ioError("create_measurement", err)
		}
		if _, err := schemaFile.Write(encoded); err != nil {
			schemaFile.Close()
			return ioError("create_measurement", err)
		}
		if err := fsio.Fsync(schemaFile); err != nil {
			schemaFile.Close()
			return ioError("create_measurement", err)
		}
		schemaFile.Close()
		return stagingDir.Sync()
	}
	ok, err := fsio.BuildAndPublish(tmp, db.dir, "measurement", name, build)
	if err != nil {
		return false, ioError("create_measurement", err)
	}
	if ok {
		if err := db.dir.Sync(); err != nil {
			return false, ioError("create_measurement", err)
		}
	}
	return ok, nil
}

// OpenMeasurement opens an existing measurement, memory-mapping its schema
// file.
func (db *Database) OpenMeasurement(name string) (*Measurement, error) {
	if !validName(name) {
		return nil, ErrInvalidMeasurement
	}
	path := filepath.Join(db.path, name)
	if !db.dir.Exists(name) {
		return nil, ErrNoSuchMeasurement
	}
	dir, err := fsio.OpenDir(path)
	if err != nil {
		return nil, ioError("open_measurement", err)
	}
	schemaFile, err := dir.Open("schema")
	if err != nil {
		dir.Close()
		return nil, ioError("open_measurement", err)
	}
	mm, err := fsio.MapReadOnly(schemaFile)
	if err != nil {
		schemaFile.Close()
		dir.Close()
		return nil, ioError("open_measurement", err)
	}
	s, err := schema.DecodeAll(mm.Bytes)
	if err != nil {
		mm.Close()
		schemaFile.Close()
		dir.Close()
		return nil, err
	}
	return &Measurement{
		db: db, root: db.root, dir: dir, name: name, path: path,
		schema: s, schemaMF: schemaFile, schemaMM: mm,
	}, nil
}

// ListMeasurements returns the names of every measurement under db.
func (db *Database) ListMeasurements() ([]string, error) {
	entries, err := db.dir.ReadDir()
	if err != nil {
		return nil, ioError("list_measurements", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// ListSeries returns the names of every series under the measurement.
func (m *Measurement) ListSeries() ([]string, error) {
	entries, err := m.dir.ReadDir()
	if err != nil {
		return nil, ioError("list_series", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// GenEntries resolves a query's field-name list to schema entries,
// preserving caller order. An empty list means "all fields, in schema
// order". Duplicate or unknown names are errors.
func (m *Measurement) GenEntries(names []string) ([]schema.Field, error) {
	if len(names) == 0 {
		out := make([]schema.Field, len(m.schema.Fields))
		copy(out, m.schema.Fields)
		return out, nil
	}
	out := make([]schema.Field, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			return nil, ErrDuplicateField
		}
		seen[name] = true
		f, _, ok := m.schema.ByName(name)
		if !ok {
			return nil, ErrNoSuchField
		}
		out = append(out, f)
	}
	return out, nil
}
