// Package fixtures builds synthetic Portable PDB and managed-PE images for
// the round-trip test harnesses. The writers here are deliberately minimal:
// heaps stay under 64 KB and row counts stay small so every heap and table
// index encodes in two bytes.
package fixtures

import (
	"encoding/binary"
	"strings"

	"github.com/google/uuid"

	"github.com/blacktop/dotpdb/pkg/metadata"
)

// image accumulates heaps and table rows for one metadata image.
type image struct {
	version string

	strs  []byte
	guids []byte
	blobs []byte

	tables map[int][][]colval
	pdb    []byte // raw #Pdb stream, PDBs only
}

type colval struct {
	v     uint32
	width int
}

func c16(v uint32) colval { return colval{v, 2} }
func c32(v uint32) colval { return colval{v, 4} }

func newImage(version string) *image {
	return &image{
		version: version,
		strs:    []byte{0},
		blobs:   []byte{0},
		tables:  make(map[int][][]colval),
	}
}

func (im *image) addString(s string) uint32 {
	off := uint32(len(im.strs))
	im.strs = append(im.strs, s...)
	im.strs = append(im.strs, 0)
	return off
}

func (im *image) addGUID(g uuid.UUID) uint32 {
	im.guids = append(im.guids, metadata.GUIDBytes(g)...)
	return uint32(len(im.guids) / 16)
}

func (im *image) addBlob(b []byte) uint32 {
	off := uint32(len(im.blobs))
	im.blobs = metadata.AppendCompressedUInt(im.blobs, uint32(len(b)))
	im.blobs = append(im.blobs, b...)
	return off
}

// docNameBlob encodes a document path the way the document table stores it:
// a separator byte followed by compressed blob offsets of the parts.
func (im *image) docNameBlob(path string) uint32 {
	name := []byte{'/'}
	for _, part := range strings.Split(path, "/") {
		if part == "" {
			name = metadata.AppendCompressedUInt(name, 0)
			continue
		}
		name = metadata.AppendCompressedUInt(name, im.addBlob([]byte(part)))
	}
	return im.addBlob(name)
}

func (im *image) addRow(table int, cols ...colval) uint32 {
	im.tables[table] = append(im.tables[table], cols)
	return uint32(len(im.tables[table]))
}

func (im *image) tableStream() []byte {
	var valid uint64
	for t := range im.tables {
		valid |= 1 << uint(t)
	}

	out := make([]byte, 0, 256)
	out = binary.LittleEndian.AppendUint32(out, 0) // reserved
	out = append(out, 2, 0, 0, 1)                  // major, minor, heap sizes, rid
	out = binary.LittleEndian.AppendUint64(out, valid)
	out = binary.LittleEndian.AppendUint64(out, 0) // sorted

	for t := 0; t < metadata.TableCount; t++ {
		if rows, ok := im.tables[t]; ok {
			out = binary.LittleEndian.AppendUint32(out, uint32(len(rows)))
		}
	}
	for t := 0; t < metadata.TableCount; t++ {
		for _, row := range im.tables[t] {
			for _, col := range row {
				if col.width == 2 {
					out = binary.LittleEndian.AppendUint16(out, uint16(col.v))
				} else {
					out = binary.LittleEndian.AppendUint32(out, col.v)
				}
			}
		}
	}
	return out
}

// build assembles the metadata image: BSJB root, stream headers, stream
// bodies.
func (im *image) build() []byte {
	type stream struct {
		name string
		body []byte
	}
	streams := []stream{}
	if im.pdb != nil {
		streams = append(streams, stream{"#Pdb", im.pdb})
	}
	streams = append(streams,
		stream{"#~", im.tableStream()},
		stream{"#Strings", im.strs},
		stream{"#US", []byte{0}},
		stream{"#GUID", im.guids},
		stream{"#Blob", im.blobs},
	)

	ver := []byte(im.version)
	ver = append(ver, 0)
	for len(ver)%4 != 0 {
		ver = append(ver, 0)
	}

	headerSize := 16 + len(ver) + 4
	for _, s := range streams {
		headerSize += 8 + (len(s.name)+4)&^3
	}

	out := make([]byte, 0, headerSize)
	out = binary.LittleEndian.AppendUint32(out, metadata.Signature)
	out = binary.LittleEndian.AppendUint16(out, 1) // major
	out = binary.LittleEndian.AppendUint16(out, 1) // minor
	out = binary.LittleEndian.AppendUint32(out, 0) // reserved
	out = binary.LittleEndian.AppendUint32(out, uint32(len(ver)))
	out = append(out, ver...)
	out = binary.LittleEndian.AppendUint16(out, 0) // flags
	out = binary.LittleEndian.AppendUint16(out, uint16(len(streams)))

	off := headerSize
	for _, s := range streams {
		out = binary.LittleEndian.AppendUint32(out, uint32(off))
		out = binary.LittleEndian.AppendUint32(out, uint32(len(s.body)))
		name := []byte(s.name)
		name = append(name, 0)
		for len(name)%4 != 0 {
			name = append(name, 0)
		}
		out = append(out, name...)
		off += len(s.body)
	}
	for _, s := range streams {
		out = append(out, s.body...)
	}
	return out
}

// TypeFixture describes one type row for skeleton-rendering tests.
type TypeFixture struct {
	Namespace string
	Name      string
	Flags     uint32
	Methods   []MethodFixture
}

// MethodFixture is one method row of a TypeFixture.
type MethodFixture struct {
	Name   string
	Static bool
}

// BuildTypeMetadata builds an assembly image whose TypeDef/MethodDef tables
// hold the given types, method lists laid out contiguously in order.
func BuildTypeMetadata(module string, mvid uuid.UUID, types []TypeFixture) []byte {
	im := newImage("v4.0.30319")
	im.addRow(metadata.TblModule,
		c16(0), c16(im.addString(module)), c16(im.addGUID(mvid)), c16(0), c16(0))

	nextMethod := uint32(1)
	for _, tf := range types {
		im.addRow(metadata.TblTypeDef,
			c32(tf.Flags),
			c16(im.addString(tf.Name)),
			c16(im.addString(tf.Namespace)),
			c16(0), c16(0),
			c16(nextMethod))
		for _, mf := range tf.Methods {
			var flags uint32
			if mf.Static {
				flags = 0x0010
			}
			im.addRow(metadata.TblMethodDef,
				c32(0), c16(0), c16(flags),
				c16(im.addString(mf.Name)), c16(0), c16(0))
			nextMethod++
		}
	}
	return im.build()
}

// BuildAssemblyMetadata builds the metadata image of an assembly with a
// Module row carrying mvid and, when publicKey is non-nil, an Assembly row
// carrying the key.
func BuildAssemblyMetadata(name string, mvid uuid.UUID, publicKey []byte) []byte {
	md, _ := BuildAssemblyImage(name, mvid, publicKey, nil)
	return md
}

// ResourceFixture is one embedded manifest resource.
type ResourceFixture struct {
	Name   string
	Public bool
	Data   []byte
}

// BuildAssemblyImage is BuildAssemblyMetadata plus embedded manifest
// resources: each one becomes a ManifestResource row with a null
// Implementation index, pointing into the returned CLI resources directory
// (4-byte length prefix per resource).
func BuildAssemblyImage(name string, mvid uuid.UUID, publicKey []byte, resources []ResourceFixture) (meta, resDir []byte) {
	im := newImage("v4.0.30319")

	nameIdx := im.addString(name)
	mvidIdx := im.addGUID(mvid)
	im.addRow(metadata.TblModule, c16(0), c16(nameIdx), c16(mvidIdx), c16(0), c16(0))

	if publicKey != nil {
		keyIdx := im.addBlob(publicKey)
		im.addRow(metadata.TblAssembly,
			c32(0x8004),              // SHA1 hash algorithm
			c16(1), c16(0), c16(0), c16(0), // version
			c32(0x0001), // PublicKey flag
			c16(keyIdx), c16(nameIdx), c16(0))
	}

	for _, r := range resources {
		off := uint32(len(resDir))
		resDir = binary.LittleEndian.AppendUint32(resDir, uint32(len(r.Data)))
		resDir = append(resDir, r.Data...)
		flags := uint32(0x2) // private
		if r.Public {
			flags = 0x1
		}
		im.addRow(metadata.TblManifestResource,
			c32(off), c32(flags), c16(im.addString(r.Name)), c16(0))
	}

	return im.build(), resDir
}
