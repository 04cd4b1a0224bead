package fsio

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Mapping is a memory-mapped region backed by a file, released via Close.
// Mirrors the teacher's mmapCursor approach (internal/chunk/file/record_reader.go)
// of mapping a file directly with syscall-level Mmap/Munmap rather than a
// third-party mmap wrapper, since the pack never imports one.
type Mapping struct {
	Bytes []byte
}

// MapReadOnly maps the full contents of f for reading. A zero-length file
// yields a Mapping with nil Bytes and no error.
func MapReadOnly(f *os.File) (*Mapping, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("fsio: stat for mmap %s: %w", f.Name(), err)
	}
	size := fi.Size()
	if size == 0 {
		return &Mapping{Bytes: nil}, nil
	}
	b, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("fsio: mmap %s: %w", f.Name(), err)
	}
	return &Mapping{Bytes: b}, nil
}

// MapReadWrite maps the full contents of f for reading and writing (used
// for bitmap updates, which set bits in place via the mapping).
func MapReadWrite(f *os.File) (*Mapping, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("fsio: stat for mmap %s: %w", f.Name(), err)
	}
	size := fi.Size()
	if size == 0 {
		return &Mapping{Bytes: nil}, nil
	}
	b, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("fsio: mmap %s: %w", f.Name(), err)
	}
	return &Mapping{Bytes: b}, nil
}

// Msync flushes dirty mapped pages back to the underlying file.
func (m *Mapping) Msync() error {
	if len(m.Bytes) == 0 {
		return nil
	}
	if err := unix.Msync(m.Bytes, unix.MS_SYNC); err != nil {
		return fmt.Errorf("fsio: msync: %w", err)
	}
	return nil
}

// Close unmaps the region. Safe to call on an empty mapping.
func (m *Mapping) Close() error {
	if m == nil || len(m.Bytes) == 0 {
		return nil
	}
	b := m.Bytes
	m.Bytes = nil
	if err := unix.Munmap(b); err != nil {
		return fmt.Errorf("fsio: munmap: %w", err)
	}
	return nil
}

// Remap releases m's current mapping, if any, and maps f in its place.
// Nothing in this module calls it; the select operators read chunk files
// whole. golang.org/x/sys/unix does not expose a portable MAP_FIXED
// remap-at-fixed-address primitive the way the C mmap(2) flag does, so
// instead of reserving one anonymous region and remapping pieces of the
// address space into it (the teacher's native-C-level idiom this is
// grounded on), each call maps the new file fresh and drops the old one.
// The visible contract — a stable Mapping handle the operator re-reads
// across advance() calls — is preserved; only the micro-optimization of a
// literally unmoving virtual address is not.
func (m *Mapping) Remap(f *os.File) error {
	if err := m.Close(); err != nil {
		return err
	}
	fresh, err := MapReadOnly(f)
	if err != nil {
		return err
	}
	m.Bytes = fresh.Bytes
	return nil
}
