package fixtures

import (
	"bytes"
	"compress/flate"
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/blacktop/dotpdb/pkg/metadata"
)

// PEOptions selects what the synthetic image carries.
type PEOptions struct {
	Metadata      []byte // assembly metadata image (BuildAssemblyMetadata)
	Resources     []byte // CLI resources directory (BuildAssemblyImage)
	EmbeddedPDB   []byte // raw Portable PDB image, deflated into an MPDB entry
	CodeViewGUID  uuid.UUID
	CodeViewPath  string // "" = no CodeView entry
	ChecksumAlg   string // "" = no PdbChecksum entry
	Checksum      []byte
	Reproducible  bool
	HighEntropyVA bool
	Timestamp     uint32
}

const (
	peHeaderOff = 0x80
	sectionOff  = 0x200
	sectionRVA  = 0x1000
)

type debugEntry struct {
	typ  uint32
	data []byte
}

// BuildPE assembles a minimal but well-formed PE64 image with one section
// holding the CLI header, metadata, and debug directory.
func BuildPE(opts PEOptions) []byte {
	var entries []debugEntry
	if opts.CodeViewPath != "" {
		cv := binary.LittleEndian.AppendUint32(nil, 0x53445352) // RSDS
		cv = append(cv, metadata.GUIDBytes(opts.CodeViewGUID)...)
		cv = binary.LittleEndian.AppendUint32(cv, 1) // age
		cv = append(cv, opts.CodeViewPath...)
		cv = append(cv, 0)
		entries = append(entries, debugEntry{2, cv})
	}
	if opts.Reproducible {
		entries = append(entries, debugEntry{16, nil})
	}
	if opts.EmbeddedPDB != nil {
		var deflated bytes.Buffer
		fw, _ := flate.NewWriter(&deflated, flate.BestSpeed)
		fw.Write(opts.EmbeddedPDB)
		fw.Close()
		mpdb := binary.LittleEndian.AppendUint32(nil, 0x4244504D) // MPDB
		mpdb = binary.LittleEndian.AppendUint32(mpdb, uint32(len(opts.EmbeddedPDB)))
		mpdb = append(mpdb, deflated.Bytes()...)
		entries = append(entries, debugEntry{17, mpdb})
	}
	if opts.ChecksumAlg != "" {
		ck := append([]byte(opts.ChecksumAlg), 0)
		ck = append(ck, opts.Checksum...)
		entries = append(entries, debugEntry{19, ck})
	}

	// section layout: CLI header, metadata, resources, debug directory,
	// debug blobs
	cliOff := sectionOff
	mdOff := cliOff + 72
	resOff := (mdOff + len(opts.Metadata) + 3) &^ 3
	dbgOff := (resOff + len(opts.Resources) + 3) &^ 3
	blobOff := dbgOff + 28*len(entries)

	rva := func(fileOff int) uint32 { return uint32(fileOff - sectionOff + sectionRVA) }

	section := make([]byte, blobOff-sectionOff)
	// CLI header
	cli := section[:72]
	binary.LittleEndian.PutUint32(cli[0:], 72)
	binary.LittleEndian.PutUint16(cli[4:], 2)
	binary.LittleEndian.PutUint16(cli[6:], 5)
	binary.LittleEndian.PutUint32(cli[8:], rva(mdOff))
	binary.LittleEndian.PutUint32(cli[12:], uint32(len(opts.Metadata)))
	binary.LittleEndian.PutUint32(cli[16:], 1) // ILONLY
	if len(opts.Resources) > 0 {
		binary.LittleEndian.PutUint32(cli[24:], rva(resOff))
		binary.LittleEndian.PutUint32(cli[28:], uint32(len(opts.Resources)))
	}
	copy(section[mdOff-sectionOff:], opts.Metadata)
	copy(section[resOff-sectionOff:], opts.Resources)

	// debug directory entries, then their payloads
	off := blobOff
	for i, e := range entries {
		hdr := section[dbgOff-sectionOff+28*i:]
		binary.LittleEndian.PutUint32(hdr[4:], opts.Timestamp)
		binary.LittleEndian.PutUint32(hdr[12:], e.typ)
		if len(e.data) > 0 {
			binary.LittleEndian.PutUint32(hdr[16:], uint32(len(e.data)))
			binary.LittleEndian.PutUint32(hdr[20:], rva(off))
			binary.LittleEndian.PutUint32(hdr[24:], uint32(off))
			section = append(section, e.data...)
			off += len(e.data)
		}
	}

	return assemblePE(section, entries, dbgOff, opts)
}

func assemblePE(section []byte, entries []debugEntry, dbgOff int, opts PEOptions) []byte {
	rawSize := (len(section) + 0x1FF) &^ 0x1FF
	img := make([]byte, sectionOff+rawSize)
	copy(img[sectionOff:], section)

	// DOS stub
	img[0], img[1] = 'M', 'Z'
	binary.LittleEndian.PutUint32(img[0x3C:], peHeaderOff)

	// PE signature + COFF header
	copy(img[peHeaderOff:], "PE\x00\x00")
	coff := img[peHeaderOff+4:]
	binary.LittleEndian.PutUint16(coff[0:], 0x8664)
	binary.LittleEndian.PutUint16(coff[2:], 1) // one section
	binary.LittleEndian.PutUint32(coff[4:], opts.Timestamp)
	binary.LittleEndian.PutUint16(coff[16:], 0xF0)   // optional header size
	binary.LittleEndian.PutUint16(coff[18:], 0x2022) // DLL | EXECUTABLE | LARGE_ADDRESS_AWARE

	// optional header (PE32+)
	oh := img[peHeaderOff+24:]
	binary.LittleEndian.PutUint16(oh[0:], 0x20B)
	binary.LittleEndian.PutUint32(oh[16:], sectionRVA)        // entry point
	binary.LittleEndian.PutUint32(oh[20:], sectionRVA)        // base of code
	binary.LittleEndian.PutUint64(oh[24:], 0x180000000)       // image base
	binary.LittleEndian.PutUint32(oh[32:], 0x1000)            // section align
	binary.LittleEndian.PutUint32(oh[36:], 0x200)             // file align
	binary.LittleEndian.PutUint16(oh[48:], 6)                 // subsystem version
	binary.LittleEndian.PutUint32(oh[56:], uint32(sectionRVA+rvaRound(len(section)))) // size of image
	binary.LittleEndian.PutUint32(oh[60:], sectionOff)        // size of headers
	binary.LittleEndian.PutUint16(oh[68:], 3)                 // console subsystem
	var dllChars uint16
	if opts.HighEntropyVA {
		dllChars |= 0x0020
	}
	binary.LittleEndian.PutUint16(oh[70:], dllChars)
	binary.LittleEndian.PutUint32(oh[108:], 16) // number of RVAs

	dirs := oh[112:]
	if len(entries) > 0 {
		binary.LittleEndian.PutUint32(dirs[6*8:], uint32(dbgOff-sectionOff+sectionRVA))
		binary.LittleEndian.PutUint32(dirs[6*8+4:], uint32(28*len(entries)))
	}
	binary.LittleEndian.PutUint32(dirs[14*8:], sectionRVA) // CLI header
	binary.LittleEndian.PutUint32(dirs[14*8+4:], 72)

	// section header
	sh := img[peHeaderOff+24+0xF0:]
	copy(sh, ".text\x00\x00\x00")
	binary.LittleEndian.PutUint32(sh[8:], uint32(rvaRound(len(section)))) // virtual size
	binary.LittleEndian.PutUint32(sh[12:], sectionRVA)
	binary.LittleEndian.PutUint32(sh[16:], uint32(rawSize))
	binary.LittleEndian.PutUint32(sh[20:], sectionOff)
	binary.LittleEndian.PutUint32(sh[36:], 0x60000020) // code | execute | read

	return img
}

func rvaRound(n int) int { return (n + 0xFFF) &^ 0xFFF }
