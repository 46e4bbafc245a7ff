// Package ppdb reads Portable PDBs: documents, module-level custom debug
// information (compilation options, metadata references, Source Link) and
// per-document embedded source. It sits on pkg/metadata the way a symbol
// reader sits on a metadata reader; it never reads outside the blob ranges
// the tables hand it.
package ppdb

import (
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/blacktop/dotpdb/pkg/metadata"
)

// PDB is an opened Portable PDB.
type PDB struct {
	md *metadata.Root
}

// Open parses a Portable PDB from memory (a standalone .pdb file or an
// inflated embedded PDB; both carry the same BSJB metadata image).
func Open(data []byte) (*PDB, error) {
	md, err := metadata.Parse(data)
	if err != nil {
		return nil, err
	}
	if md.Tables == nil {
		return nil, errors.New("portable PDB has no #~ table stream")
	}
	return &PDB{md: md}, nil
}

// ID returns the 20-byte PDB identity from the #Pdb stream (GUID + stamp),
// or nil if the stream is absent.
func (p *PDB) ID() []byte {
	if p.md.Pdb == nil {
		return nil
	}
	return p.md.Pdb.ID[:]
}

// Record is one custom-debug-information record, already dispatched by kind.
type Record struct {
	Kind    Kind
	RawGUID uuid.UUID
	Blob    []byte
}

// ModuleRecords enumerates the custom-debug-information records attached to
// the module definition, in table order. Records whose GUID is not one of the
// well-known kinds come back as KindUnknown; malformed rows are skipped.
func (p *PDB) ModuleRecords() []Record {
	var out []Record
	t := p.md.Tables
	for row := uint32(1); row <= t.RowCount(metadata.TblCustomDebugInformation); row++ {
		parent, err := t.Uint(metadata.TblCustomDebugInformation, 0, row)
		if err != nil {
			continue
		}
		tbl, prow := metadata.DecodeCoded(metadata.CodedHasCustomDebugInformation, parent)
		if tbl != metadata.TblModule || prow != 1 {
			continue
		}
		rec, ok := p.record(row)
		if ok {
			out = append(out, rec)
		}
	}
	return out
}

func (p *PDB) record(row uint32) (Record, bool) {
	t := p.md.Tables
	gidx, err := t.Uint(metadata.TblCustomDebugInformation, 1, row)
	if err != nil {
		return Record{}, false
	}
	guid, err := p.md.GUID(gidx)
	if err != nil {
		return Record{}, false
	}
	boff, err := t.Uint(metadata.TblCustomDebugInformation, 2, row)
	if err != nil {
		return Record{}, false
	}
	blob, err := p.md.Blob(boff)
	if err != nil {
		return Record{}, false
	}
	return Record{Kind: KindOf(guid), RawGUID: guid, Blob: blob}, true
}

// Document is one row of the document table. Ordering mirrors the table
// exactly; downstream consumers compare positionally.
type Document struct {
	Name          string
	HashAlgorithm uuid.UUID
	Hash          []byte
	Language      uuid.UUID

	// EmbeddedSource is the raw embedded-source blob attached to this
	// document, nil when the source was not embedded.
	EmbeddedSource []byte
}

// Documents reads the document table and attaches per-document embedded
// source records found while scanning custom debug information.
func (p *PDB) Documents() ([]Document, error) {
	t := p.md.Tables
	n := t.RowCount(metadata.TblDocument)
	if n == 0 {
		return nil, nil
	}

	embedded := p.embeddedSourceByDocument()

	docs := make([]Document, 0, n)
	for row := uint32(1); row <= n; row++ {
		var d Document
		if off, err := t.Uint(metadata.TblDocument, 0, row); err == nil {
			if blob, err := p.md.Blob(off); err == nil {
				d.Name = decodeDocumentName(p.md, blob)
			}
		}
		if gidx, err := t.Uint(metadata.TblDocument, 1, row); err == nil && gidx != 0 {
			d.HashAlgorithm, _ = p.md.GUID(gidx)
		}
		if off, err := t.Uint(metadata.TblDocument, 2, row); err == nil {
			d.Hash, _ = p.md.Blob(off)
		}
		if gidx, err := t.Uint(metadata.TblDocument, 3, row); err == nil && gidx != 0 {
			d.Language, _ = p.md.GUID(gidx)
		}
		d.EmbeddedSource = embedded[row]
		docs = append(docs, d)
	}
	return docs, nil
}

func (p *PDB) embeddedSourceByDocument() map[uint32][]byte {
	t := p.md.Tables
	out := make(map[uint32][]byte)
	for row := uint32(1); row <= t.RowCount(metadata.TblCustomDebugInformation); row++ {
		parent, err := t.Uint(metadata.TblCustomDebugInformation, 0, row)
		if err != nil {
			continue
		}
		tbl, prow := metadata.DecodeCoded(metadata.CodedHasCustomDebugInformation, parent)
		if tbl != metadata.TblDocument {
			continue
		}
		rec, ok := p.record(row)
		if !ok || rec.Kind != KindEmbeddedSource {
			continue
		}
		out[prow] = rec.Blob
	}
	return out
}

// decodeDocumentName rebuilds a document path from its blob: one separator
// byte followed by compressed blob-heap offsets of the path parts (offset 0
// is an empty part, which is how absolute paths start).
func decodeDocumentName(md *metadata.Root, blob []byte) string {
	if len(blob) == 0 {
		return ""
	}
	sep := string(blob[0:1])
	rest := blob[1:]

	var parts []string
	for len(rest) > 0 {
		off, n, err := metadata.ReadCompressedUInt(rest)
		if err != nil {
			break
		}
		rest = rest[n:]
		if off == 0 {
			parts = append(parts, "")
			continue
		}
		part, err := md.Blob(off)
		if err != nil {
			break
		}
		parts = append(parts, string(part))
	}
	return strings.Join(parts, sep)
}
