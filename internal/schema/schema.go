// Package schema defines the measurement field-type taxonomy and the
// 128-byte on-disk schema record format, grounded on
// _examples/original_source/src/libtsdb/measurement.h's `field_type` enum
// and `schema_entry` struct (the canonical definitions; the older
// src/libtsdb/tsdb.h duplicates carry a stale, 5-type, zero-based tag
// table superseded by measurement.h's 7-type, one-based one used
// everywhere else in the original tree).
package schema

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// FieldType is the tagged enum of primitive field types a measurement's
// schema may declare. Each type has a fixed on-disk width. Tag values match
// measurement.h's `field_type` exactly: tag 0 is reserved (measurement.cc's
// constructor rejects `f.type == 0` as a corrupt schema file), so the
// concrete types start at 1.
type FieldType uint8

const (
	Bool FieldType = iota + 1
	U32
	U64
	F32
	F64
	I32
	I64
)

// Width returns the native byte width of the type. All field values are
// stored coerced to 8 bytes in the WAL, but chunk-store field files use the
// native width.
func (t FieldType) Width() int {
	switch t {
	case Bool:
		return 1
	case U32, F32, I32:
		return 4
	case U64, F64, I64:
		return 8
	default:
		return 0
	}
}

// Name returns the wire/display name of the type.
func (t FieldType) Name() string {
	switch t {
	case Bool:
		return "bool"
	case U32:
		return "u32"
	case U64:
		return "u64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	case I32:
		return "i32"
	case I64:
		return "i64"
	default:
		return "invalid"
	}
}

// Valid reports whether t is one of the seven declared field types. Tag 0
// is reserved and never valid.
func (t FieldType) Valid() bool {
	return t >= Bool && t <= I64
}

// IsFloat reports whether t is a floating-point type, relevant to
// aggregate operators that need float coercion (integral, sum).
func (t FieldType) IsFloat() bool {
	return t == F32 || t == F64
}

// ParseFieldType resolves a type name (as used by config/CLI input) to a
// FieldType. Returns an error for unrecognized names.
func ParseFieldType(name string) (FieldType, error) {
	switch name {
	case "bool":
		return Bool, nil
	case "u32":
		return U32, nil
	case "u64":
		return U64, nil
	case "f32":
		return F32, nil
	case "f64":
		return F64, nil
	case "i32":
		return I32, nil
	case "i64":
		return I64, nil
	default:
		return 0, fmt.Errorf("schema: unrecognized field type %q", name)
	}
}

const (
	// RecordSize is the fixed on-disk size of one schema record.
	RecordSize = 128
	// MaxFields is the maximum number of fields a measurement may declare.
	MaxFields = 64
	// nameFieldLen is the size of the trailing name array, including its
	// mandatory terminating NUL.
	nameFieldLen = RecordSize - 4
	// MaxNameLen is the longest name that fits with a trailing NUL.
	MaxNameLen = nameFieldLen - 1
)

// Field describes one schema record: a field's type, its position in the
// schema, its byte offset within a packed WAL row, and its name. Index and
// RecordOffset are stored in bytes 2 and 3 of the on-disk record; New and
// DecodeAll set them from a field's position when a Schema is assembled.
type Field struct {
	Type         FieldType
	Index        uint8
	RecordOffset uint8
	Name         string
}

// Encode writes the 128-byte on-disk representation of f into a freshly
// allocated buffer: a 1-byte type tag, a zero version byte, the Index
// byte, the RecordOffset byte, then a 124-byte NUL-terminated name. The
// size and the name's position match measurement.h's `schema_entry`
// (`{field_type type; uint8_t rsrv[3]; char name[124];}`).
func (f Field) Encode() ([RecordSize]byte, error) {
	var buf [RecordSize]byte
	if !f.Type.Valid() {
		return buf, fmt.Errorf("schema: invalid type tag %d", f.Type)
	}
	if len(f.Name) == 0 {
		return buf, fmt.Errorf("schema: field name must be non-empty")
	}
	if len(f.Name) > MaxNameLen {
		return buf, fmt.Errorf("schema: field name %q exceeds %d bytes", f.Name, MaxNameLen)
	}
	buf[0] = byte(f.Type)
	// buf[1] is the version byte, already zero.
	buf[2] = f.Index
	buf[3] = f.RecordOffset
	copy(buf[4:], f.Name)
	// Remaining name bytes, including the mandatory trailing NUL, are
	// already zero from the array's zero value.
	return buf, nil
}

// Decode parses a 128-byte schema record. It validates the invariants from
// measurement.cc's constructor: type tag non-zero and in range, name[0]
// non-NUL, name[123] NUL. Index and RecordOffset are read from bytes 2
// and 3; DecodeAll then sets them from the record's position in the
// schema file.
func Decode(buf []byte) (Field, error) {
	if len(buf) != RecordSize {
		return Field{}, fmt.Errorf("schema: record must be %d bytes, got %d", RecordSize, len(buf))
	}
	ft := FieldType(buf[0])
	if !ft.Valid() {
		return Field{}, fmt.Errorf("schema: corrupt schema: invalid type tag %d", buf[0])
	}
	nameBytes := buf[4:]
	if nameBytes[0] == 0 {
		return Field{}, fmt.Errorf("schema: corrupt schema: empty name")
	}
	if nameBytes[nameFieldLen-1] != 0 {
		return Field{}, fmt.Errorf("schema: corrupt schema: name[%d] is not NUL", nameFieldLen-1)
	}
	nul := bytes.IndexByte(nameBytes, 0)
	if nul < 0 {
		return Field{}, fmt.Errorf("schema: corrupt schema: name missing trailing NUL")
	}
	return Field{
		Type:         ft,
		Index:        buf[2],
		RecordOffset: buf[3],
		Name:         string(nameBytes[:nul]),
	}, nil
}

// Schema is the immutable, ordered set of a measurement's declared fields.
type Schema struct {
	Fields []Field
}

// New builds a Schema from an ordered list of (name, type) pairs, assigning
// Index and RecordOffset per field. RecordOffset is the byte offset of the
// field's slot within a packed WAL row, following the time_ns(8) + bitmap(8)
// header.
func New(names []string, types []FieldType) (Schema, error) {
	if len(names) != len(types) {
		return Schema{}, fmt.Errorf("schema: names and types length mismatch")
	}
	if len(names) == 0 {
		return Schema{}, fmt.Errorf("schema: measurement must declare at least one field")
	}
	if len(names) > MaxFields {
		return Schema{}, fmt.Errorf("schema: too many fields: %d exceeds max %d", len(names), MaxFields)
	}
	seen := make(map[string]bool, len(names))
	fields := make([]Field, len(names))
	for i, name := range names {
		if seen[name] {
			return Schema{}, fmt.Errorf("schema: duplicate field name %q", name)
		}
		seen[name] = true
		fields[i] = Field{
			Type:         types[i],
			Index:        uint8(i),
			RecordOffset: uint8(i * 8),
			Name:         name,
		}
	}
	return Schema{Fields: fields}, nil
}

// EncodeAll serializes every field record back to back, the on-disk
// contents of a measurement's `schema` file.
func (s Schema) EncodeAll() ([]byte, error) {
	buf := make([]byte, 0, len(s.Fields)*RecordSize)
	for _, f := range s.Fields {
		rec, err := f.Encode()
		if err != nil {
			return nil, err
		}
		buf = append(buf, rec[:]...)
	}
	return buf, nil
}

// DecodeAll parses a `schema` file's full contents into a Schema.
func DecodeAll(buf []byte) (Schema, error) {
	if len(buf)%RecordSize != 0 {
		return Schema{}, fmt.Errorf("schema: corrupt schema: size %d not a multiple of %d", len(buf), RecordSize)
	}
	n := len(buf) / RecordSize
	if n > MaxFields {
		return Schema{}, fmt.Errorf("schema: corrupt schema: %d fields exceeds max %d", n, MaxFields)
	}
	fields := make([]Field, n)
	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		f, err := Decode(buf[i*RecordSize : (i+1)*RecordSize])
		if err != nil {
			return Schema{}, err
		}
		if seen[f.Name] {
			return Schema{}, fmt.Errorf("schema: corrupt schema: duplicate name %q", f.Name)
		}
		seen[f.Name] = true
		f.Index = uint8(i)
		f.RecordOffset = uint8(i * 8)
		fields[i] = f
	}
	return Schema{Fields: fields}, nil
}

// FieldCount returns the number of declared fields.
func (s Schema) FieldCount() int {
	return len(s.Fields)
}

// ByName returns the field with the given name and its schema index, or
// false if no such field exists.
func (s Schema) ByName(name string) (Field, int, bool) {
	for i, f := range s.Fields {
		if f.Name == name {
			return f, i, true
		}
	}
	return Field{}, 0, false
}

// Equal reports whether two schemas have the same fields, in the same
// order, with the same names and types — the check used by
// create_measurement to decide between "already exists, matches" and
// "measurement_exists with different schema".
func (s Schema) Equal(other Schema) bool {
	if len(s.Fields) != len(other.Fields) {
		return false
	}
	for i := range s.Fields {
		if s.Fields[i].Name != other.Fields[i].Name || s.Fields[i].Type != other.Fields[i].Type {
			return false
		}
	}
	return true
}

// WALEntrySize returns the byte size of one WAL row for a schema with this
// many fields: 16 header bytes (time_ns, bitmap) plus 8 bytes per field.
func (s Schema) WALEntrySize() int {
	return WALEntrySize(s.FieldCount())
}

// WALEntrySize computes the WAL row size for a given field count without
// requiring a Schema value.
func WALEntrySize(fieldCount int) int {
	return 16 + 8*fieldCount
}

// ComputeWriteChunkLen returns the number of bytes a write-chunk append of
// npoints points requires for this schema, given bitmap_offset (the number
// of already-occupied leading bitmap bits in the first byte group of the
// caller's buffer). Per field: ceil((npoints+bitmap_offset)/64)*8 bitmap
// bytes plus ceil(npoints*width/8)*8 data bytes, plus npoints*8 timestamp
// bytes shared across all fields.
func (s Schema) ComputeWriteChunkLen(npoints, bitmapOffset int) int64 {
	total := int64(npoints) * 8 // timestamps
	for _, f := range s.Fields {
		bitmapBits := npoints + bitmapOffset
		bitmapBytes := ((bitmapBits + 63) / 64) * 8
		dataBytes := ((npoints*f.Type.Width() + 7) / 8) * 8
		total += int64(bitmapBytes) + int64(dataBytes)
	}
	return total
}

// MaxPointsForDataLen returns the largest N, a multiple of 64, such that
// ComputeWriteChunkLen(N, 0) <= dataLen.
func (s Schema) MaxPointsForDataLen(dataLen int64) int {
	if dataLen <= 0 {
		return 0
	}
	// ComputeWriteChunkLen only grows with npoints, so binary search for the
	// largest multiple of 64 that still fits.
	lo, hi := 0, 1
	for s.ComputeWriteChunkLen(hi*64, 0) <= dataLen {
		lo = hi
		hi *= 2
		if hi > 1<<30 {
			break
		}
	}
	for lo+1 < hi {
		mid := (lo + hi) / 2
		if s.ComputeWriteChunkLen(mid*64, 0) <= dataLen {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo * 64
}

// byteOrder is the native-endian codec used for all on-disk multi-byte
// integers, per spec: native-endian, not a fixed wire endianness. This
// module targets little-endian hosts (amd64/arm64), the common case for
// embedded-engine deployment targets in this corpus.
var byteOrder = binary.LittleEndian

// ByteOrder exposes the codec used for index/WAL/chunk integers so callers
// in internal/tsdb share one native-endian definition instead of each
// picking their own.
func ByteOrder() binary.ByteOrder {
	return byteOrder
}
