package tsdb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strconv"

	"tsdbengine/internal/fsio"
)

// IndexEntrySize is the on-disk size of one index record: an 8-byte
// time_ns plus a 24-byte NUL-terminated ASCII decimal chunk-name stem.
const IndexEntrySize = 32

const indexNameLen = IndexEntrySize - 8

// IndexEntry is one (first_timestamp, chunk_name) pair. Name is the bare
// numeric stem; whether a chunk's field files are individually gzipped is
// a per-field-file detail discovered when opening them, not stored here.
type IndexEntry struct {
	TimeNs int64
	Name   string
}

// encode renders one index record.
func (e IndexEntry) encode() ([IndexEntrySize]byte, error) {
	var buf [IndexEntrySize]byte
	if len(e.Name) > indexNameLen-1 {
		return buf, fmt.Errorf("tsdb: chunk name %q too long for index record", e.Name)
	}
	binary.LittleEndian.PutUint64(buf[0:8], uint64(e.TimeNs))
	copy(buf[8:], e.Name)
	return buf, nil
}

func decodeIndexEntry(buf []byte) (IndexEntry, error) {
	if len(buf) != IndexEntrySize {
		return IndexEntry{}, fmt.Errorf("tsdb: index record must be %d bytes, got %d", IndexEntrySize, len(buf))
	}
	timeNs := int64(binary.LittleEndian.Uint64(buf[0:8]))
	nameBytes := buf[8:]
	nul := bytes.IndexByte(nameBytes, 0)
	if nul < 0 {
		nul = len(nameBytes)
	}
	return IndexEntry{TimeNs: timeNs, Name: string(nameBytes[:nul])}, nil
}

// readIndex reads and decodes the full contents of a series's index file.
func (s *Series) readIndex() ([]IndexEntry, error) {
	f, err := s.dir.OpenFile("index", os.O_RDONLY, 0o644)
	if err != nil {
		return nil, ioError("read_index", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, ioError("read_index", err)
	}
	if len(data)%IndexEntrySize != 0 {
		return nil, newErrf(StatusCorruptSchema, "series index size %d not a multiple of %d", len(data), IndexEntrySize)
	}
	n := len(data) / IndexEntrySize
	entries := make([]IndexEntry, n)
	for i := 0; i < n; i++ {
		e, err := decodeIndexEntry(data[i*IndexEntrySize : (i+1)*IndexEntrySize])
		if err != nil {
			return nil, err
		}
		entries[i] = e
	}
	return entries, nil
}

// appendIndexEntry appends one entry to the index file under an exclusive
// lock on the index itself, then fsyncs it. Used when growing into a new
// chunk (§4.6 step 5).
func (s *Series) appendIndexEntry(e IndexEntry) error {
	f, err := s.dir.OpenFile("index", os.O_RDWR, 0o644)
	if err != nil {
		return ioError("append_index", err)
	}
	defer f.Close()
	if err := fsio.Flock(f, fsio.LockExclusive); err != nil {
		return ioError("append_index", err)
	}
	defer fsio.Unlock(f)

	rec, err := e.encode()
	if err != nil {
		return err
	}
	if _, err := f.Seek(0, os.SEEK_END); err != nil {
		return ioError("append_index", err)
	}
	if _, err := f.Write(rec[:]); err != nil {
		return ioError("append_index", err)
	}
	return fsio.Fsync(f)
}

// truncateLastIndexEntry drops the last entry from the index file, under
// an exclusive lock, used by chunk-store recovery when an entire trailing
// chunk was created but time_last was never bumped into it (§4.6).
func (s *Series) truncateLastIndexEntry() error {
	f, err := s.dir.OpenFile("index", os.O_RDWR, 0o644)
	if err != nil {
		return ioError("truncate_index", err)
	}
	defer f.Close()
	if err := fsio.Flock(f, fsio.LockExclusive); err != nil {
		return ioError("truncate_index", err)
	}
	defer fsio.Unlock(f)

	fi, err := f.Stat()
	if err != nil {
		return ioError("truncate_index", err)
	}
	if fi.Size() < IndexEntrySize {
		return newErrf(StatusCorruptSchema, "cannot truncate empty index")
	}
	if err := f.Truncate(fi.Size() - IndexEntrySize); err != nil {
		return ioError("truncate_index", err)
	}
	return fsio.Fsync(f)
}

// rewriteIndex atomically replaces the index file with the given entries,
// per the delete path (§4.10 step 6): build the replacement in tmp/,
// fsync_and_barrier it, rename over index, fsync the series directory.
func (s *Series) rewriteIndex(entries []IndexEntry) error {
	buf := make([]byte, 0, len(entries)*IndexEntrySize)
	for _, e := range entries {
		rec, err := e.encode()
		if err != nil {
			return err
		}
		buf = append(buf, rec[:]...)
	}

	tmp := s.measurement.root.tmp
	staging, err := fsio.RandomName("index")
	if err != nil {
		return err
	}
	f, err := tmp.Create(staging)
	if err != nil {
		return ioError("rewrite_index", err)
	}
	if _, err := f.Write(buf); err != nil {
		f.Close()
		return ioError("rewrite_index", err)
	}
	if err := fsio.FsyncAndBarrier(f); err != nil {
		f.Close()
		return ioError("rewrite_index", err)
	}
	if err := f.Close(); err != nil {
		return ioError("rewrite_index", err)
	}
	// tmp/ and the series directory are not the same os.Root scope, so
	// the replace-over-existing rename goes through a plain os.Rename by
	// absolute path rather than the directory-relative Dir methods.
	if err := os.Rename(tmp.Path()+"/"+staging, s.path+"/index"); err != nil {
		return ioError("rewrite_index", err)
	}
	return s.dir.Sync()
}

func chunkNameToInt(name string) (int64, error) {
	return strconv.ParseInt(name, 10, 64)
}
