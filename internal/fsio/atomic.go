package fsio

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// RandomName returns a random hex-suffixed name with the given prefix, used
// for staging names under tmp/ (e.g. "measurement.XXXXXX", "series.XXXXXX").
func RandomName(prefix string) (string, error) {
	var raw [8]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("fsio: random name: %w", err)
	}
	return fmt.Sprintf("%s.%s", prefix, hex.EncodeToString(raw[:])), nil
}

// BuildAndPublish implements the engine-wide atomic construction pattern:
// build an artifact under a random name inside tmp, let build populate and
// fsync it, then rename_if_not_exists it into destDir/destName. If the
// rename loses the race (destName already exists), the staged artifact is
// removed and ok is false so the caller can fall back to opening the
// existing artifact.
//
// build receives the staging name (relative to tmpDir) and must create and
// fully fsync the artifact (file or directory tree) before returning.
func BuildAndPublish(tmpDir, destDir *Dir, prefix, destName string, build func(stagingName string) error) (ok bool, err error) {
	stagingName, err := RandomName(prefix)
	if err != nil {
		return false, err
	}
	if err := build(stagingName); err != nil {
		return false, err
	}
	published, err := tmpDir.renameAcross(stagingName, destDir, destName)
	if err != nil {
		return false, err
	}
	if !published {
		_ = tmpDir.RemoveTree(stagingName)
		return false, nil
	}
	return true, nil
}

// RemoveTree recursively removes a file or directory relative to d. Used to
// clean up a staged tmp/ artifact that lost a rename_if_not_exists race.
func (d *Dir) RemoveTree(name string) error {
	if err := os.RemoveAll(d.path + "/" + name); err != nil {
		return fmt.Errorf("fsio: remove tree %s/%s: %w", d.path, name, err)
	}
	return nil
}

// renameAcross performs a rename_if_not_exists from one directory to
// another, possibly distinct, directory.
func (d *Dir) renameAcross(name string, destDir *Dir, destName string) (bool, error) {
	if d.path == destDir.path {
		return d.RenameIfNotExists(name, destName)
	}
	srcf, err := os.Open(d.path)
	if err != nil {
		return false, fmt.Errorf("fsio: open dir %s for rename: %w", d.path, err)
	}
	defer srcf.Close()
	dstf, err := os.Open(destDir.path)
	if err != nil {
		return false, fmt.Errorf("fsio: open dir %s for rename: %w", destDir.path, err)
	}
	defer dstf.Close()
	err = unix.Renameat2(int(srcf.Fd()), name, int(dstf.Fd()), destName, unix.RENAME_NOREPLACE)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, unix.EEXIST) {
		return false, nil
	}
	return false, fmt.Errorf("fsio: renameat_if_not_exists %s/%s -> %s/%s: %w", d.path, name, destDir.path, destName, err)
}
