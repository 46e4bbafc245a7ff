// Package pe reads the parts of a managed PE image that matter for debug
// reconstruction: the debug directory (CodeView, PDB checksum, reproducible
// marker, embedded Portable PDB), the CLI header, and the optional-header
// characteristics that map back to compiler flags.
package pe

import (
	"bytes"
	"compress/flate"
	"debug/pe"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Debug directory entry types (winnt.h).
const (
	debugTypeCodeView            = 2
	debugTypeReproducible        = 16
	debugTypeEmbeddedPortablePdb = 17
	debugTypePdbChecksum         = 19
)

const (
	codeViewSignature    = 0x53445352 // "RSDS"
	embeddedPdbSignature = 0x4244504D // "MPDB"

	dllCharacteristicsHighEntropyVA = 0x0020

	dirEntryDebug         = 6
	dirEntryComDescriptor = 14
)

// ErrNotPE marks input that is not a valid PE image at all; processing of
// that assembly stops, nothing else does.
var ErrNotPE = errors.New("not a valid PE image")

type debugDirEntry struct {
	Characteristics  uint32
	TimeDateStamp    uint32
	MajorVersion     uint16
	MinorVersion     uint16
	Type             uint32
	SizeOfData       uint32
	AddressOfRawData uint32
	PointerToRawData uint32
}

// File is an opened managed PE image.
type File struct {
	data []byte
	pe   *pe.File

	Timestamp     uint32
	HighEntropyVA bool

	// debug directory facts
	HasCodeView     bool
	HasEmbeddedPdb  bool
	HasPdbChecksum  bool
	HasReproducible bool

	CodeViewGUID uuid.UUID
	CodeViewAge  uint32
	CodeViewPath string

	ChecksumAlgorithm string
	Checksum          []byte

	embeddedPdbRaw []byte

	metadataOffset uint32
	metadataSize   uint32

	resourcesOffset uint32
	resourcesSize   uint32
}

// Parse opens a PE image from memory and walks its debug directory and CLI
// header. A non-PE buffer fails with ErrNotPE; a PE with a malformed debug
// entry keeps whatever parsed before it.
func Parse(data []byte) (*File, error) {
	pf, err := pe.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(ErrNotPE, err.Error())
	}

	f := &File{data: data, pe: pf, Timestamp: pf.FileHeader.TimeDateStamp}

	var dirs []pe.DataDirectory
	switch oh := pf.OptionalHeader.(type) {
	case *pe.OptionalHeader64:
		f.HighEntropyVA = oh.DllCharacteristics&dllCharacteristicsHighEntropyVA != 0
		dirs = oh.DataDirectory[:]
	case *pe.OptionalHeader32:
		f.HighEntropyVA = oh.DllCharacteristics&dllCharacteristicsHighEntropyVA != 0
		dirs = oh.DataDirectory[:]
	default:
		return nil, errors.Wrap(ErrNotPE, "missing optional header")
	}

	if err := f.parseDebugDirectory(dirs); err != nil {
		return nil, err
	}
	f.parseCLIHeader(dirs)

	return f, nil
}

func (f *File) parseDebugDirectory(dirs []pe.DataDirectory) error {
	if len(dirs) <= dirEntryDebug || dirs[dirEntryDebug].Size == 0 {
		return nil // no debug directory is a normal outcome
	}
	dd := dirs[dirEntryDebug]
	off, err := f.rvaToOffset(dd.VirtualAddress)
	if err != nil {
		return errors.Wrap(err, "debug directory")
	}
	if int(off)+int(dd.Size) > len(f.data) {
		return fmt.Errorf("debug directory [%#x+%#x] outside image", off, dd.Size)
	}

	r := bytes.NewReader(f.data[off : off+dd.Size])
	for i := 0; i < int(dd.Size)/28; i++ {
		var e debugDirEntry
		if err := binary.Read(r, binary.LittleEndian, &e); err != nil {
			return fmt.Errorf("failed to read debug directory entry %d: %v", i, err)
		}
		raw, err := f.debugEntryData(e)
		if err != nil {
			// skip the record, keep the rest
			continue
		}
		switch e.Type {
		case debugTypeCodeView:
			f.parseCodeView(raw)
		case debugTypeReproducible:
			f.HasReproducible = true
		case debugTypeEmbeddedPortablePdb:
			if len(raw) > 8 && binary.LittleEndian.Uint32(raw) == embeddedPdbSignature {
				f.HasEmbeddedPdb = true
				f.embeddedPdbRaw = raw
			}
		case debugTypePdbChecksum:
			if n := bytes.IndexByte(raw, 0); n > 0 && n+1 < len(raw) {
				f.HasPdbChecksum = true
				f.ChecksumAlgorithm = string(raw[:n])
				f.Checksum = raw[n+1:]
			}
		}
	}
	return nil
}

func (f *File) debugEntryData(e debugDirEntry) ([]byte, error) {
	if e.SizeOfData == 0 {
		return nil, nil
	}
	start := int(e.PointerToRawData)
	end := start + int(e.SizeOfData)
	if start <= 0 || end > len(f.data) || end < start {
		return nil, fmt.Errorf("debug entry data [%#x+%#x] outside image", start, e.SizeOfData)
	}
	return f.data[start:end], nil
}

func (f *File) parseCodeView(raw []byte) {
	if len(raw) < 24 || binary.LittleEndian.Uint32(raw) != codeViewSignature {
		return
	}
	f.HasCodeView = true
	var g [16]byte
	copy(g[:], raw[4:20])
	f.CodeViewGUID = mixedEndianGUID(g)
	f.CodeViewAge = binary.LittleEndian.Uint32(raw[20:])
	if n := bytes.IndexByte(raw[24:], 0); n >= 0 {
		f.CodeViewPath = string(raw[24 : 24+n])
	} else {
		f.CodeViewPath = string(raw[24:])
	}
}

func (f *File) parseCLIHeader(dirs []pe.DataDirectory) {
	if len(dirs) <= dirEntryComDescriptor || dirs[dirEntryComDescriptor].Size == 0 {
		return
	}
	off, err := f.rvaToOffset(dirs[dirEntryComDescriptor].VirtualAddress)
	if err != nil || int(off)+16 > len(f.data) {
		return
	}
	// cb, runtime major/minor, then MetaData RVA+size
	mdRVA := binary.LittleEndian.Uint32(f.data[off+8:])
	mdSize := binary.LittleEndian.Uint32(f.data[off+12:])
	mdOff, err := f.rvaToOffset(mdRVA)
	if err != nil || int(mdOff)+int(mdSize) > len(f.data) {
		return
	}
	f.metadataOffset = mdOff
	f.metadataSize = mdSize

	if int(off)+32 > len(f.data) {
		return
	}
	resRVA := binary.LittleEndian.Uint32(f.data[off+24:])
	resSize := binary.LittleEndian.Uint32(f.data[off+28:])
	if resSize == 0 {
		return
	}
	resOff, err := f.rvaToOffset(resRVA)
	if err != nil || int(resOff)+int(resSize) > len(f.data) {
		return
	}
	f.resourcesOffset = resOff
	f.resourcesSize = resSize
}

// ResourceAt returns the managed resource blob at the given offset into the
// CLI resources directory (the offset stored in a ManifestResource row). The
// blob is a 4-byte length followed by the payload.
func (f *File) ResourceAt(offset uint32) ([]byte, error) {
	if f.resourcesSize == 0 {
		return nil, errors.New("image has no CLI resources directory")
	}
	if uint64(offset)+4 > uint64(f.resourcesSize) {
		return nil, fmt.Errorf("resource offset %#x outside resources directory", offset)
	}
	start := uint64(f.resourcesOffset) + uint64(offset)
	if start+4 > uint64(len(f.data)) {
		return nil, fmt.Errorf("resource offset %#x outside image", offset)
	}
	size := uint64(binary.LittleEndian.Uint32(f.data[start:]))
	if uint64(offset)+4+size > uint64(f.resourcesSize) || start+4+size > uint64(len(f.data)) {
		return nil, fmt.Errorf("resource at %#x (%d bytes) overruns resources directory", offset, size)
	}
	return f.data[start+4 : start+4+size], nil
}

// Metadata returns the raw ECMA-335 metadata of the image, or nil for a
// native PE with no CLI header.
func (f *File) Metadata() []byte {
	if f.metadataSize == 0 {
		return nil
	}
	return f.data[f.metadataOffset : f.metadataOffset+f.metadataSize]
}

// IsManaged reports whether the image carries a CLI header.
func (f *File) IsManaged() bool { return f.metadataSize != 0 }

// EmbeddedPdb inflates and returns the embedded Portable PDB, if any. The
// MPDB payload is raw-DEFLATE with a declared uncompressed size that the
// inflated data must match exactly.
func (f *File) EmbeddedPdb() ([]byte, error) {
	if f.embeddedPdbRaw == nil {
		return nil, nil
	}
	uncompressed := binary.LittleEndian.Uint32(f.embeddedPdbRaw[4:])
	fr := flate.NewReader(bytes.NewReader(f.embeddedPdbRaw[8:]))
	defer fr.Close()

	var out bytes.Buffer
	if _, err := io.Copy(&out, io.LimitReader(fr, int64(uncompressed)+1)); err != nil {
		return nil, errors.Wrap(err, "failed to inflate embedded PDB")
	}
	if out.Len() != int(uncompressed) {
		return nil, fmt.Errorf("embedded PDB inflated to %d bytes, header declared %d", out.Len(), uncompressed)
	}
	return out.Bytes(), nil
}

func (f *File) rvaToOffset(rva uint32) (uint32, error) {
	for _, s := range f.pe.Sections {
		if rva >= s.VirtualAddress && rva < s.VirtualAddress+s.VirtualSize {
			return rva - s.VirtualAddress + s.Offset, nil
		}
	}
	return 0, fmt.Errorf("RVA %#x not mapped by any section", rva)
}

func mixedEndianGUID(b [16]byte) uuid.UUID {
	var g uuid.UUID
	g[0], g[1], g[2], g[3] = b[3], b[2], b[1], b[0]
	g[4], g[5] = b[5], b[4]
	g[6], g[7] = b[7], b[6]
	copy(g[8:], b[8:])
	return g
}
