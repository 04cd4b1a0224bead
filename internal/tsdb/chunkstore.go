package tsdb

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/gzip"

	"tsdbengine/internal/fsio"
)

// fieldColumn is one field's contribution to a columnar write batch: a
// per-point null mask and native-width value bytes (only meaningful where
// NotNull[i] is true).
type fieldColumn struct {
	name     string
	width    int
	notNull  []bool
	values   [][]byte // len == width per entry
}

func timeNsRelPath(chunk string) string        { return filepath.Join("time_ns", chunk) }
func fieldRelPath(field, chunk string) string   { return filepath.Join("fields", field, chunk) }
func fieldGzRelPath(field, chunk string) string { return fieldRelPath(field, chunk) + ".gz" }
func bitmapRelPath(field, chunk string) string  { return filepath.Join("bitmaps", field, chunk) }

// recoverTail implements the §4.6 recovery walkthrough: walk the index
// from the back, inspecting each trailing chunk's last timestamp against
// the locked time_last snapshot, repairing or dropping orphaned trailing
// chunks until a consistent tail is found (or the series has none).
// Returns the (possibly shrunk) index entries and the live point count of
// the tail chunk, 0 if the series has no chunks at all.
func (s *Series) recoverTail(lock *SeriesLock) ([]IndexEntry, int, error) {
	entries, err := s.readIndex()
	if err != nil {
		return nil, 0, err
	}

	for len(entries) > 0 {
		last := entries[len(entries)-1]
		ts, err := s.readTimestamps(last.Name)
		if err != nil {
			return nil, 0, err
		}

		if len(ts) > 0 && ts[len(ts)-1] == lock.TimeLast {
			return entries, len(ts), nil
		}

		if len(ts) > 0 && ts[0] <= lock.TimeLast && lock.TimeLast <= ts[len(ts)-1] {
			pos := sort.Search(len(ts), func(i int) bool { return ts[i] >= lock.TimeLast })
			if pos >= len(ts) || ts[pos] != lock.TimeLast {
				return nil, 0, newErrf(StatusCorruptTimeLast, "series corrupt: time_last %d not found in tail chunk %s", lock.TimeLast, last.Name)
			}
			if err := s.truncateTimestampFile(last.Name, pos+1); err != nil {
				return nil, 0, err
			}
			return entries, pos + 1, nil
		}

		// All timestamps in this chunk are strictly greater than
		// time_last (or the chunk is empty): an entire chunk was
		// created but time_last was never bumped into it. Unlink it
		// and drop back one index slot, then keep walking.
		if err := s.unlinkChunkFiles(last.Name); err != nil {
			return nil, 0, err
		}
		if err := s.truncateLastIndexEntry(); err != nil {
			return nil, 0, err
		}
		entries = entries[:len(entries)-1]
	}
	return entries, 0, nil
}

// readTimestamps reads the full packed u64 contents of a chunk's timestamp
// file.
func (s *Series) readTimestamps(chunk string) ([]int64, error) {
	f, err := s.dir.OpenFile(timeNsRelPath(chunk), os.O_RDONLY, 0o644)
	if err != nil {
		return nil, ioError("read_timestamps", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, ioError("read_timestamps", err)
	}
	if len(data)%8 != 0 {
		return nil, newErrf(StatusCorruptTailInvalid, "chunk %s: timestamp file size %d not a multiple of 8", chunk, len(data))
	}
	n := len(data) / 8
	out := make([]int64, n)
	for i := 0; i < n; i++ {
		out[i] = int64(binary.LittleEndian.Uint64(data[i*8 : i*8+8]))
	}
	return out, nil
}

// truncateTimestampFile truncates chunk's timestamp file to keep exactly
// keep entries, per the in-flight-interrupted-write recovery case.
func (s *Series) truncateTimestampFile(chunk string, keep int) error {
	f, err := s.dir.OpenFile(timeNsRelPath(chunk), os.O_RDWR, 0o644)
	if err != nil {
		return ioError("truncate_timestamps", err)
	}
	defer f.Close()
	if err := f.Truncate(int64(keep) * 8); err != nil {
		return ioError("truncate_timestamps", err)
	}
	return fsio.Fsync(f)
}

// unlinkChunkFiles removes every file belonging to an orphaned chunk: its
// timestamp file, bitmap files, and both compressed and uncompressed field
// files.
func (s *Series) unlinkChunkFiles(chunk string) error {
	if err := s.dir.RemoveIfExists(timeNsRelPath(chunk)); err != nil {
		return ioError("unlink_chunk", err)
	}
	for _, f := range s.measurement.schema.Fields {
		if err := s.dir.RemoveIfExists(fieldRelPath(f.Name, chunk)); err != nil {
			return ioError("unlink_chunk", err)
		}
		if err := s.dir.RemoveIfExists(fieldGzRelPath(f.Name, chunk)); err != nil {
			return ioError("unlink_chunk", err)
		}
		if err := s.dir.RemoveIfExists(bitmapRelPath(f.Name, chunk)); err != nil {
			return ioError("unlink_chunk", err)
		}
	}
	return nil
}

// createChunkFiles builds the empty files for a brand-new chunk: zero-filled
// bitmap files sized CHUNK_NPOINTS/8 bytes (I6), empty field files, and an
// empty timestamp file. Each is fsynced individually.
func (s *Series) createChunkFiles(chunk string, npoints int) error {
	bitmapBytes := npoints / 8
	if npoints%8 != 0 {
		bitmapBytes++
	}
	zeros := make([]byte, bitmapBytes)

	for _, f := range s.measurement.schema.Fields {
		ff, err := s.dir.Create(fieldRelPath(f.Name, chunk))
		if err != nil {
			return ioError("create_chunk", err)
		}
		if err := fsio.Fsync(ff); err != nil {
			ff.Close()
			return ioError("create_chunk", err)
		}
		ff.Close()

		bf, err := s.dir.Create(bitmapRelPath(f.Name, chunk))
		if err != nil {
			return ioError("create_chunk", err)
		}
		if _, err := bf.Write(zeros); err != nil {
			bf.Close()
			return ioError("create_chunk", err)
		}
		if err := fsio.Fsync(bf); err != nil {
			bf.Close()
			return ioError("create_chunk", err)
		}
		bf.Close()
	}

	tf, err := s.dir.Create(timeNsRelPath(chunk))
	if err != nil {
		return ioError("create_chunk", err)
	}
	if err := fsio.Fsync(tf); err != nil {
		tf.Close()
		return ioError("create_chunk", err)
	}
	return tf.Close()
}

// barrierTimestampFile issues fsync_and_barrier on a chunk's (possibly
// still-empty) timestamp file, the ordering primitive that makes the
// upcoming index-entry publish atomic with respect to the chunk's
// existence.
func (s *Series) barrierTimestampFile(chunk string) error {
	f, err := s.dir.OpenFile(timeNsRelPath(chunk), os.O_RDWR, 0o644)
	if err != nil {
		return ioError("barrier_timestamps", err)
	}
	defer f.Close()
	return fsio.FsyncAndBarrier(f)
}

// sealChunk gzip-compresses every field file of a now-full chunk into a
// sibling `.gz` file, per I5/§4.6 step 1. The uncompressed originals are
// left in place; their unlink is fused with the later time_last bump
// (unlinkSealedRaw).
func (s *Series) sealChunk(chunk string) error {
	for _, f := range s.measurement.schema.Fields {
		if err := s.gzipFieldFile(f.Name, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (s *Series) gzipFieldFile(field, chunk string) error {
	src, err := s.dir.OpenFile(fieldRelPath(field, chunk), os.O_RDONLY, 0o644)
	if err != nil {
		return ioError("seal_chunk", err)
	}
	defer src.Close()

	dst, err := s.dir.Create(fieldGzRelPath(field, chunk))
	if err != nil {
		return ioError("seal_chunk", err)
	}
	gw := gzip.NewWriter(dst)
	if _, err := io.Copy(gw, src); err != nil {
		gw.Close()
		dst.Close()
		return ioError("seal_chunk", err)
	}
	if err := gw.Close(); err != nil {
		dst.Close()
		return ioError("seal_chunk", err)
	}
	if err := fsio.Fsync(dst); err != nil {
		dst.Close()
		return ioError("seal_chunk", err)
	}
	return dst.Close()
}

// unlinkSealedRaw removes a sealed chunk's uncompressed field files once
// its gzip siblings are durable and time_last has advanced past it,
// per §4.6 step 8.
func (s *Series) unlinkSealedRaw(chunk string) error {
	for _, f := range s.measurement.schema.Fields {
		if err := s.dir.RemoveIfExists(fieldRelPath(f.Name, chunk)); err != nil {
			return ioError("unlink_sealed", err)
		}
	}
	fieldsDir, err := fsio.OpenDir(filepath.Join(s.path, "fields"))
	if err != nil {
		return ioError("unlink_sealed", err)
	}
	defer fieldsDir.Close()
	return fieldsDir.Sync()
}

// appendToTail writes rem points (times[off:off+n], with each field
// column's corresponding slice) into the tail chunk starting at point
// index startPos, per the durability order in §4.6: field bytes first
// (fsynced individually), then bitmaps via mmap (msync + fsync), then
// timestamps (fsync_and_barrier).
func (s *Series) appendToTail(chunk string, startPos int, times []int64, fields []fieldColumn, off, n int) error {
	for _, col := range fields {
		if err := s.writeFieldValues(col, chunk, startPos, off, n); err != nil {
			return err
		}
	}
	for _, col := range fields {
		if err := s.writeBitmapBits(col, chunk, startPos, off, n); err != nil {
			return err
		}
	}
	return s.appendTimestamps(chunk, startPos, times[off:off+n])
}

func (s *Series) writeFieldValues(col fieldColumn, chunk string, startPos, off, n int) error {
	f, err := s.dir.OpenFile(fieldRelPath(col.name, chunk), os.O_RDWR, 0o644)
	if err != nil {
		return ioError("write_field", err)
	}
	defer f.Close()
	for i := 0; i < n; i++ {
		v := col.values[off+i]
		if !col.notNull[off+i] {
			continue // null points leave their slot as zero bytes
		}
		if _, err := f.WriteAt(v, int64(startPos+i)*int64(col.width)); err != nil {
			return ioError("write_field", err)
		}
	}
	return fsio.Fsync(f)
}

func (s *Series) writeBitmapBits(col fieldColumn, chunk string, startPos, off, n int) error {
	f, err := s.dir.OpenFile(bitmapRelPath(col.name, chunk), os.O_RDWR, 0o644)
	if err != nil {
		return ioError("write_bitmap", err)
	}
	defer f.Close()
	mm, err := fsio.MapReadWrite(f)
	if err != nil {
		return ioError("write_bitmap", err)
	}
	defer mm.Close()
	for i := 0; i < n; i++ {
		setBitmapByte(mm.Bytes, startPos+i, col.notNull[off+i])
	}
	if err := mm.Msync(); err != nil {
		return ioError("write_bitmap", err)
	}
	if err := mm.Close(); err != nil {
		return ioError("write_bitmap", err)
	}
	return fsio.Fsync(f)
}

func setBitmapByte(b []byte, i int, v bool) {
	byteIdx := i / 8
	bit := uint(i) % 8
	if v {
		b[byteIdx] |= 1 << bit
	} else {
		b[byteIdx] &^= 1 << bit
	}
}

func (s *Series) appendTimestamps(chunk string, startPos int, times []int64) error {
	f, err := s.dir.OpenFile(timeNsRelPath(chunk), os.O_RDWR, 0o644)
	if err != nil {
		return ioError("append_timestamps", err)
	}
	defer f.Close()
	buf := make([]byte, len(times)*8)
	for i, t := range times {
		binary.LittleEndian.PutUint64(buf[i*8:i*8+8], uint64(t))
	}
	if _, err := f.WriteAt(buf, int64(startPos)*8); err != nil {
		return ioError("append_timestamps", err)
	}
	return fsio.FsyncAndBarrier(f)
}

// appendBatch is the chunk store's core write-absorbing operation: it
// commits a strictly-ordered batch of points into columnar chunk files,
// growing into new chunks and sealing full tails as needed, maintaining
// every durability ordering constraint in §4.6.
func (s *Series) appendBatch(lock *SeriesLock, npoints int, times []int64, fields []fieldColumn) error {
	if len(times) == 0 {
		return nil
	}
	entries, tailLen, err := s.recoverTail(lock)
	if err != nil {
		return err
	}

	idx := 0
	pendingSealedUnlink := ""
	for idx < len(times) {
		if len(entries) == 0 || tailLen >= npoints {
			if len(entries) > 0 && tailLen >= npoints {
				if err := s.sealChunk(entries[len(entries)-1].Name); err != nil {
					return err
				}
				pendingSealedUnlink = entries[len(entries)-1].Name
			}
			newName := chunkName(times[idx])
			if err := s.createChunkFiles(newName, npoints); err != nil {
				return err
			}
			if lock.TimeFirst > lock.TimeLast {
				if err := lock.setTimeFirst(times[idx], fsio.Fsync); err != nil {
					return err
				}
			}
			if err := s.barrierTimestampFile(newName); err != nil {
				return err
			}
			newEntry := IndexEntry{TimeNs: times[idx], Name: newName}
			if err := s.appendIndexEntry(newEntry); err != nil {
				return err
			}
			entries = append(entries, newEntry)
			tailLen = 0
		}

		avail := npoints - tailLen
		n := avail
		if rem := len(times) - idx; n > rem {
			n = rem
		}
		tailName := entries[len(entries)-1].Name
		if err := s.appendToTail(tailName, tailLen, times, fields, idx, n); err != nil {
			return err
		}
		tailLen += n
		idx += n

		newTimeLast := times[idx-1]
		if pendingSealedUnlink != "" {
			if err := lock.setTimeLast(newTimeLast, fsio.FsyncAndBarrier); err != nil {
				return err
			}
			if err := s.unlinkSealedRaw(pendingSealedUnlink); err != nil {
				return err
			}
			pendingSealedUnlink = ""
		} else {
			if err := lock.setTimeLast(newTimeLast, fsio.Fsync); err != nil {
				return err
			}
		}
	}

	// Final fence: time_last is fsync_and_flush-ed at the end of the
	// full write batch.
	return fsio.FsyncAndFlush(lock.lastFile)
}

// readFieldFile opens a chunk's field file for reading, transparently
// decompressing if only the `.gz` sibling exists (a sealed chunk). Returns
// the full decoded native-width value bytes.
func (s *Series) readFieldFile(field, chunk string) ([]byte, error) {
	if f, err := s.dir.OpenFile(fieldRelPath(field, chunk), os.O_RDONLY, 0o644); err == nil {
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, ioError("read_field", err)
		}
		return data, nil
	}
	f, err := s.dir.OpenFile(fieldGzRelPath(field, chunk), os.O_RDONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("tsdb: chunk %s field %s: neither bare nor .gz file present: %w", chunk, field, err)
	}
	defer f.Close()
	gr, err := gzip.NewReader(f)
	if err != nil {
		return nil, ioError("read_field", err)
	}
	defer gr.Close()
	data, err := io.ReadAll(gr)
	if err != nil {
		return nil, ioError("read_field", err)
	}
	return data, nil
}

func (s *Series) readBitmapFile(field, chunk string) ([]byte, error) {
	f, err := s.dir.OpenFile(bitmapRelPath(field, chunk), os.O_RDONLY, 0o644)
	if err != nil {
		return nil, ioError("read_bitmap", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, ioError("read_bitmap", err)
	}
	return data, nil
}
