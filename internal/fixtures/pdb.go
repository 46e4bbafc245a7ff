package fixtures

import (
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/blacktop/dotpdb/pkg/metadata"
)

// PDB builds synthetic standalone Portable PDB images.
type PDB struct {
	im *image

	id     [20]byte
	modCDI [][2]uint32 // guid idx, blob off
	docs   []pdbDoc
}

type pdbDoc struct {
	path     string
	embedded []byte
}

// NewPDB starts a PDB whose identity GUID is id (stamp bytes fixed).
func NewPDB(id uuid.UUID) *PDB {
	p := &PDB{im: newImage("PDB v1.0")}
	copy(p.id[:16], metadata.GUIDBytes(id))
	binary.LittleEndian.PutUint32(p.id[16:], 0x5EED)
	return p
}

// ID returns the 20-byte PDB identity.
func (p *PDB) ID() []byte { return p.id[:] }

// AddModuleRecord attaches a custom-debug-information record to the module.
func (p *PDB) AddModuleRecord(kind uuid.UUID, value []byte) *PDB {
	p.modCDI = append(p.modCDI, [2]uint32{p.im.addGUID(kind), p.im.addBlob(value)})
	return p
}

// AddDocument appends a document; a non-nil embedded blob becomes its
// embedded-source record.
func (p *PDB) AddDocument(path string, embedded []byte) *PDB {
	p.docs = append(p.docs, pdbDoc{path, embedded})
	return p
}

// EmbeddedSourceKind must match ppdb's constant; redeclared here so fixtures
// does not import the package it helps test.
var embeddedSourceKind = uuid.MustParse("0E8A571B-6926-466E-B4AD-8AB04611F5FE")

// Build assembles the PDB image.
func (p *PDB) Build() []byte {
	// #Pdb stream declares one external Module row so the coded parent
	// index can point at it
	pdb := make([]byte, 0, 36)
	pdb = append(pdb, p.id[:]...)
	pdb = binary.LittleEndian.AppendUint32(pdb, 0) // entry point
	pdb = binary.LittleEndian.AppendUint64(pdb, 1<<metadata.TblModule)
	pdb = binary.LittleEndian.AppendUint32(pdb, 1)
	p.im.pdb = pdb

	type cdiRow struct{ parent, guid, blob uint32 }
	var cdis []cdiRow
	for _, rec := range p.modCDI {
		cdis = append(cdis, cdiRow{
			parent: metadata.EncodeCoded(metadata.CodedHasCustomDebugInformation, metadata.TblModule, 1),
			guid:   rec[0],
			blob:   rec[1],
		})
	}

	for i, d := range p.docs {
		nameOff := p.im.docNameBlob(d.path)
		p.im.addRow(metadata.TblDocument, c16(nameOff), c16(0), c16(0), c16(0))
		if d.embedded != nil {
			cdis = append(cdis, cdiRow{
				parent: metadata.EncodeCoded(metadata.CodedHasCustomDebugInformation, metadata.TblDocument, uint32(i+1)),
				guid:   p.im.addGUID(embeddedSourceKind),
				blob:   p.im.addBlob(d.embedded),
			})
		}
	}

	for _, c := range cdis {
		p.im.addRow(metadata.TblCustomDebugInformation, c16(c.parent), c16(c.guid), c16(c.blob))
	}

	return p.im.build()
}
