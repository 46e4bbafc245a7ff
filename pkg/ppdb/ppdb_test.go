package ppdb_test

import (
	"bytes"
	"testing"

	"github.com/google/uuid"

	"github.com/blacktop/dotpdb/internal/fixtures"
	"github.com/blacktop/dotpdb/pkg/ppdb"
)

func TestOpenRejectsGarbage(t *testing.T) {
	if _, err := ppdb.Open([]byte("BSJB but not really")); err == nil {
		t.Error("garbage opened without error")
	}
}

func TestModuleRecordsAndDocuments(t *testing.T) {
	id := uuid.MustParse("0F8FAD5B-D9CB-469F-A165-70867728950E")
	options := []byte("/optimize+\x00/define:TRACE\x00")
	refs := ppdb.EncodeReferences([]ppdb.Reference{
		{FileName: "System.Runtime.dll", Kind: ppdb.ImageAssembly},
	}, ppdb.RefBlobNulTerminated)
	link := []byte(`{"documents":{"/_/src/*":"https://raw.example/*"}}`)
	embedded := ppdb.EncodeEmbeddedSource([]byte("class C { }"))

	fix := fixtures.NewPDB(id)
	fix.AddModuleRecord(ppdb.CompilationOptionsGUID, options)
	fix.AddModuleRecord(ppdb.MetadataReferencesGUID, refs)
	fix.AddModuleRecord(ppdb.SourceLinkGUID, link)
	fix.AddDocument("/_/src/Lib/C.cs", embedded)
	fix.AddDocument("/_/src/Lib/D.cs", nil)

	p, err := ppdb.Open(fix.Build())
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(p.ID(), fix.ID()) {
		t.Errorf("ID = % x; want % x", p.ID(), fix.ID())
	}

	recs := p.ModuleRecords()
	if len(recs) != 3 {
		t.Fatalf("got %d module records, want 3", len(recs))
	}
	wantKinds := []ppdb.Kind{ppdb.KindCompilationOptions, ppdb.KindMetadataReferences, ppdb.KindSourceLink}
	for i, rec := range recs {
		if rec.Kind != wantKinds[i] {
			t.Errorf("record %d kind = %s; want %s", i, rec.Kind, wantKinds[i])
		}
	}
	if !bytes.Equal(recs[0].Blob, options) {
		t.Error("compilation options blob mangled")
	}
	if !bytes.Equal(recs[2].Blob, link) {
		t.Error("source link blob mangled")
	}

	docs, err := p.Documents()
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d documents, want 2", len(docs))
	}
	if docs[0].Name != "/_/src/Lib/C.cs" {
		t.Errorf("document 0 name = %q", docs[0].Name)
	}
	if docs[1].Name != "/_/src/Lib/D.cs" {
		t.Errorf("document 1 name = %q", docs[1].Name)
	}
	if !bytes.Equal(docs[0].EmbeddedSource, embedded) {
		t.Error("embedded source record not attached to its document")
	}
	if docs[1].EmbeddedSource != nil {
		t.Error("document without embedded source got a blob")
	}
}

func TestModuleRecordsUnknownKind(t *testing.T) {
	fix := fixtures.NewPDB(uuid.New())
	fix.AddModuleRecord(uuid.MustParse("00000000-1111-2222-3333-444444444444"), []byte{1, 2, 3})

	p, err := ppdb.Open(fix.Build())
	if err != nil {
		t.Fatal(err)
	}
	recs := p.ModuleRecords()
	if len(recs) != 1 || recs[0].Kind != ppdb.KindUnknown {
		t.Fatalf("got %+v, want one KindUnknown record", recs)
	}
}
