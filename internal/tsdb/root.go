package tsdb

import (
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	"tsdbengine/internal/fsio"
	"tsdbengine/internal/logging"
)

func mkdirAll(path string) error {
	return os.Mkdir(path, 0o755)
}

// nameRE matches the name restriction shared by databases, measurements,
// and series: no '/', whitespace, or '\'.
var nameRE = regexp.MustCompile(`^[^/\\\s]+$`)

func validName(name string) bool {
	return name != "" && nameRE.MatchString(name)
}

// Root is the engine's single on-disk entry point: one directory holding
// databases/, tmp/, the credential store, and config.txt.
type Root struct {
	dir       *fsio.Dir
	tmp       *fsio.Dir
	databases *fsio.Dir
	path      string
	config    Config
	logger    *slog.Logger
}

// Path returns the root directory's filesystem path.
func (r *Root) Path() string { return r.path }

// Config returns the root's parsed configuration.
func (r *Root) Config() Config { return r.config }

// CreateRoot initializes a brand-new root directory at path: the parent
// directory must already exist and path must not. Builds databases/, tmp/,
// writes config.txt, and touches the (out-of-scope) credential store files
// so the on-disk layout matches a fully-initialized root. logger may be
// nil.
func CreateRoot(path string, config Config, logger *slog.Logger) (*Root, error) {
	logger = logging.Default(logger).With("component", "tsdb.root")
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if _, err := fsio.OpenDir(filepath.Dir(path)); err != nil {
		return nil, ioError("init", err)
	}
	if err := mkdirAll(path); err != nil {
		return nil, ioError("init", err)
	}
	dir, err := fsio.OpenDir(path)
	if err != nil {
		return nil, ioError("init", err)
	}
	if err := dir.Mkdir("databases", 0o755); err != nil {
		dir.Close()
		return nil, ioError("init", err)
	}
	if err := dir.Mkdir("tmp", 0o755); err != nil {
		dir.Close()
		return nil, ioError("init", err)
	}
	if err := touchEmpty(dir, "passwd"); err != nil {
		dir.Close()
		return nil, ioError("init", err)
	}
	if err := touchEmpty(dir, "passwd.lock"); err != nil {
		dir.Close()
		return nil, ioError("init", err)
	}
	cfgFile, err := dir.Create("config.txt")
	if err != nil {
		dir.Close()
		return nil, ioError("init", err)
	}
	if _, err := cfgFile.Write(config.Encode()); err != nil {
		cfgFile.Close()
		dir.Close()
		return nil, ioError("init", err)
	}
	if err := fsio.Fsync(cfgFile); err != nil {
		cfgFile.Close()
		dir.Close()
		return nil, ioError("init", err)
	}
	cfgFile.Close()
	if err := dir.Sync(); err != nil {
		dir.Close()
		return nil, ioError("init", err)
	}

	databases, err := fsio.OpenDir(filepath.Join(path, "databases"))
	if err != nil {
		dir.Close()
		return nil, ioError("init", err)
	}
	tmp, err := fsio.OpenDir(filepath.Join(path, "tmp"))
	if err != nil {
		databases.Close()
		dir.Close()
		return nil, ioError("init", err)
	}
	logger.Info("root created", "path", path)
	return &Root{dir: dir, tmp: tmp, databases: databases, path: path, config: config, logger: logger}, nil
}

// OpenRoot opens an existing root directory, validating it looks like one
// (databases/, tmp/, config.txt all present) and parsing config.txt.
func OpenRoot(path string, logger *slog.Logger) (*Root, error) {
	logger = logging.Default(logger).With("component", "tsdb.root")
	dir, err := fsio.OpenDir(path)
	if err != nil {
		return nil, wrapErr(StatusNotATSDBRoot, "open root", err)
	}
	if !dir.Exists("databases") || !dir.Exists("config.txt") {
		dir.Close()
		return nil, ErrNotATSDBRoot
	}
	cfg, err := LoadConfig(filepath.Join(path, "config.txt"))
	if err != nil {
		dir.Close()
		return nil, err
	}
	databases, err := fsio.OpenDir(filepath.Join(path, "databases"))
	if err != nil {
		dir.Close()
		return nil, ioError("open_root", err)
	}
	tmpPath := filepath.Join(path, "tmp")
	tmp, err := fsio.OpenDir(tmpPath)
	if err != nil {
		databases.Close()
		dir.Close()
		return nil, ioError("open_root", err)
	}
	logger.Info("root opened", "path", path)
	return &Root{dir: dir, tmp: tmp, databases: databases, path: path, config: cfg, logger: logger}, nil
}

// Close releases the root's directory handles.
func (r *Root) Close() error {
	r.tmp.Close()
	r.databases.Close()
	return r.dir.Close()
}

func touchEmpty(dir *fsio.Dir, name string) error {
	f, err := dir.Create(name)
	if err != nil {
		return err
	}
	if err := fsio.Fsync(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
