package tsdb

import (
	"path/filepath"

	"tsdbengine/internal/fsio"
)

// Database is a pure namespace directory under root/databases holding one
// subdirectory per measurement. It carries no metadata file of its own.
type Database struct {
	root *Root
	dir  *fsio.Dir
	name string
	path string
}

// Name returns the database's name.
func (d *Database) Name() string { return d.name }

// Path returns the database's filesystem path.
func (d *Database) Path() string { return d.path }

// Close releases the database's directory handle.
func (d *Database) Close() error { return d.dir.Close() }

// CreateDatabase creates a new database namespace directory. A bare mkdir
// is sufficient for atomicity here: unlike a measurement or series, a
// database directory carries no internal content whose partial
// construction could be observed mid-build, so there is no temp-and-rename
// step to perform.
func (r *Root) CreateDatabase(name string) (*Database, error) {
	if !validName(name) {
		return nil, ErrInvalidPath
	}
	path := filepath.Join(r.path, "databases", name)
	if err := r.databases.Mkdir(name, 0o755); err != nil {
		if r.databases.Exists(name) {
			return r.OpenDatabase(name)
		}
		return nil, ioError("create_database", err)
	}
	if err := r.databases.Sync(); err != nil {
		return nil, ioError("create_database", err)
	}
	dir, err := fsio.OpenDir(path)
	if err != nil {
		return nil, ioError("create_database", err)
	}
	r.logger.Info("database created", "name", name)
	return &Database{root: r, dir: dir, name: name, path: path}, nil
}

// OpenDatabase opens an existing database namespace.
func (r *Root) OpenDatabase(name string) (*Database, error) {
	if !validName(name) {
		return nil, ErrInvalidPath
	}
	path := filepath.Join(r.path, "databases", name)
	if !r.databases.Exists(name) {
		return nil, ErrNoSuchDatabase
	}
	dir, err := fsio.OpenDir(path)
	if err != nil {
		return nil, ioError("open_database", err)
	}
	return &Database{root: r, dir: dir, name: name, path: path}, nil
}

// ListDatabases returns the names of every database under the root.
func (r *Root) ListDatabases() ([]string, error) {
	entries, err := r.databases.ReadDir()
	if err != nil {
		return nil, ioError("list_databases", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
