// Package metadata implements a reader for the physical ECMA-335 metadata
// layout shared by managed PE images and Portable PDBs: the BSJB root, the
// #Strings/#US/#GUID/#Blob heaps and the #~ table stream. Only the tables the
// rest of dotpdb consumes get typed accessors; everything else is sized and
// skipped so row offsets stay correct.
package metadata

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Signature is the metadata root magic ("BSJB" little-endian).
const Signature = 0x424A5342

// ErrNotMetadata is returned when the buffer does not start with a BSJB root.
var ErrNotMetadata = errors.New("buffer is not ECMA-335 metadata (no BSJB signature)")

// Root is a parsed metadata root with its heaps and table stream.
type Root struct {
	Version string

	Strings []byte
	US      []byte
	GUIDs   []byte
	Blobs   []byte

	Tables *TableStream
	Pdb    *PdbStream // non-nil only for standalone Portable PDB metadata
}

// Parse reads a metadata root from data. The buffer must start at the BSJB
// signature (offset 0 of a standalone Portable PDB, or the CLI-header
// metadata RVA inside a PE image).
func Parse(data []byte) (*Root, error) {
	if len(data) < 20 || binary.LittleEndian.Uint32(data) != Signature {
		return nil, ErrNotMetadata
	}

	verLen := binary.LittleEndian.Uint32(data[12:])
	if verLen > 255 || 16+int(verLen) > len(data) {
		return nil, fmt.Errorf("metadata root version string length %d out of range", verLen)
	}

	r := &Root{
		Version: string(bytes.TrimRight(data[16:16+verLen], "\x00")),
	}

	off := 16 + int(verLen)
	if off+4 > len(data) {
		return nil, errors.New("metadata root truncated before stream count")
	}
	numStreams := int(binary.LittleEndian.Uint16(data[off+2:]))
	off += 4

	var tableData []byte
	for i := 0; i < numStreams; i++ {
		if off+8 > len(data) {
			return nil, fmt.Errorf("stream header %d truncated", i)
		}
		sOff := binary.LittleEndian.Uint32(data[off:])
		sSize := binary.LittleEndian.Uint32(data[off+4:])
		off += 8

		nameEnd := bytes.IndexByte(data[off:], 0)
		if nameEnd < 0 || nameEnd > 31 {
			return nil, fmt.Errorf("stream header %d has an unterminated name", i)
		}
		name := string(data[off : off+nameEnd])
		// names are padded with NULs to a 4-byte boundary
		off += (nameEnd + 4) & ^3

		if uint64(sOff)+uint64(sSize) > uint64(len(data)) {
			return nil, fmt.Errorf("stream %q [%#x+%#x] exceeds metadata size %#x", name, sOff, sSize, len(data))
		}
		body := data[sOff : sOff+sSize]

		switch name {
		case "#Strings":
			r.Strings = body
		case "#US":
			r.US = body
		case "#GUID":
			r.GUIDs = body
		case "#Blob":
			r.Blobs = body
		case "#~", "#-":
			tableData = body
		case "#Pdb":
			pdb, err := parsePdbStream(body)
			if err != nil {
				return nil, errors.Wrap(err, "failed to parse #Pdb stream")
			}
			r.Pdb = pdb
		}
	}

	if tableData != nil {
		var external *[TableCount]uint32
		if r.Pdb != nil {
			external = &r.Pdb.TypeSystemRows
		}
		ts, err := parseTableStream(tableData, external)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse #~ stream")
		}
		r.Tables = ts
	}

	return r, nil
}

// String resolves a #Strings heap offset to its NUL-terminated UTF-8 value.
func (r *Root) String(off uint32) string {
	if int(off) >= len(r.Strings) {
		return ""
	}
	end := bytes.IndexByte(r.Strings[off:], 0)
	if end < 0 {
		return string(r.Strings[off:])
	}
	return string(r.Strings[off : int(off)+end])
}

// GUID resolves a 1-based #GUID heap index.
func (r *Root) GUID(index uint32) (uuid.UUID, error) {
	if index == 0 {
		return uuid.Nil, errors.New("GUID heap index is nil")
	}
	off := (int(index) - 1) * 16
	if off+16 > len(r.GUIDs) {
		return uuid.Nil, fmt.Errorf("GUID heap index %d out of range", index)
	}
	return guidFromBytes(r.GUIDs[off : off+16]), nil
}

// Blob resolves a #Blob heap offset to its contents (compressed length prefix
// not included).
func (r *Root) Blob(off uint32) ([]byte, error) {
	if off == 0 {
		return nil, nil
	}
	if int(off) >= len(r.Blobs) {
		return nil, fmt.Errorf("blob heap offset %#x out of range", off)
	}
	size, n, err := ReadCompressedUInt(r.Blobs[off:])
	if err != nil {
		return nil, errors.Wrapf(err, "bad blob length at %#x", off)
	}
	start := int(off) + n
	if start+int(size) > len(r.Blobs) {
		return nil, fmt.Errorf("blob at %#x runs past the heap", off)
	}
	return r.Blobs[start : start+int(size)], nil
}

// ReadCompressedUInt decodes an ECMA-335 compressed unsigned integer:
// 1 byte for values <= 0x7F, 2 bytes (top bits 10) for <= 0x3FFF, 4 bytes
// (top bits 110) otherwise. Returns the value and the bytes consumed.
func ReadCompressedUInt(b []byte) (uint32, int, error) {
	if len(b) == 0 {
		return 0, 0, errors.New("empty input")
	}
	switch {
	case b[0]&0x80 == 0:
		return uint32(b[0]), 1, nil
	case b[0]&0xC0 == 0x80:
		if len(b) < 2 {
			return 0, 0, errors.New("truncated 2-byte compressed integer")
		}
		return uint32(b[0]&0x3F)<<8 | uint32(b[1]), 2, nil
	case b[0]&0xE0 == 0xC0:
		if len(b) < 4 {
			return 0, 0, errors.New("truncated 4-byte compressed integer")
		}
		return uint32(b[0]&0x1F)<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), 4, nil
	}
	return 0, 0, fmt.Errorf("invalid compressed integer lead byte %#02x", b[0])
}

// AppendCompressedUInt encodes v with the same scheme (used by test harnesses
// and the length-prefixed reference-blob encoding).
func AppendCompressedUInt(dst []byte, v uint32) []byte {
	switch {
	case v <= 0x7F:
		return append(dst, byte(v))
	case v <= 0x3FFF:
		return append(dst, 0x80|byte(v>>8), byte(v))
	default:
		return append(dst, 0xC0|byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	}
}

// guidFromBytes builds a uuid.UUID from the mixed-endian layout metadata
// stores GUIDs in (Data1-3 little-endian, Data4 big-endian).
func guidFromBytes(b []byte) uuid.UUID {
	var g uuid.UUID
	g[0], g[1], g[2], g[3] = b[3], b[2], b[1], b[0]
	g[4], g[5] = b[5], b[4]
	g[6], g[7] = b[7], b[6]
	copy(g[8:], b[8:16])
	return g
}

// GUIDBytes is the inverse of guidFromBytes (test fixtures need to write
// GUID heaps in on-disk order).
func GUIDBytes(g uuid.UUID) []byte {
	b := make([]byte, 16)
	b[0], b[1], b[2], b[3] = g[3], g[2], g[1], g[0]
	b[4], b[5] = g[5], g[4]
	b[6], b[7] = g[7], g[6]
	copy(b[8:], g[8:16])
	return b
}
