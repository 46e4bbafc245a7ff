package rebuild

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/blacktop/dotpdb/internal/fixtures"
	"github.com/blacktop/dotpdb/pkg/pe"
	"github.com/blacktop/dotpdb/pkg/ppdb"
)

func TestRunRejectsNonPE(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("just some text"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Run(context.Background(), path, Options{}); !errors.Is(err, pe.ErrNotPE) {
		t.Errorf("got %v, want ErrNotPE", err)
	}
}

func TestRunWithoutSymbols(t *testing.T) {
	img := fixtures.BuildPE(fixtures.PEOptions{
		Metadata: fixtures.BuildAssemblyMetadata("Bare.dll", uuid.New(), nil),
	})
	path := filepath.Join(t.TempDir(), "Bare.dll")
	if err := os.WriteFile(path, img, 0o644); err != nil {
		t.Fatal(err)
	}

	rec, err := Run(context.Background(), path, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Classification.Kind != pe.DebugNone {
		t.Errorf("classification = %s", rec.Classification.Kind)
	}
	if len(rec.CompilerArguments) == 0 {
		t.Error("missing symbols must still yield the baseline arguments")
	}
	found := false
	for _, d := range rec.Diagnostics {
		if strings.Contains(d, "no portable PDB") {
			found = true
		}
	}
	if !found {
		t.Errorf("missing-PDB diagnostic absent: %v", rec.Diagnostics)
	}
}

func TestRunReadsEmbeddedResources(t *testing.T) {
	want := []ResourceBlob{
		{Name: "Res.strings.resources", Public: true, Data: []byte("payload-one")},
		{Name: "Res.icons.resources", Public: false, Data: bytes.Repeat([]byte{0xAB}, 300)},
	}
	md, resDir := fixtures.BuildAssemblyImage("Res.dll", uuid.New(), nil,
		[]fixtures.ResourceFixture{
			{Name: want[0].Name, Public: true, Data: want[0].Data},
			{Name: want[1].Name, Public: false, Data: want[1].Data},
		})
	img := fixtures.BuildPE(fixtures.PEOptions{Metadata: md, Resources: resDir})

	path := filepath.Join(t.TempDir(), "Res.dll")
	if err := os.WriteFile(path, img, 0o644); err != nil {
		t.Fatal(err)
	}

	// no PDB anywhere; the record must still carry the resources
	rec, err := Run(context.Background(), path, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.EmbeddedResources) != len(want) {
		t.Fatalf("got %d resources, want %d", len(rec.EmbeddedResources), len(want))
	}
	for i, res := range rec.EmbeddedResources {
		if res.Name != want[i].Name {
			t.Errorf("resource %d name = %q; want %q", i, res.Name, want[i].Name)
		}
		if res.Public != want[i].Public {
			t.Errorf("resource %d public = %t; want %t", i, res.Public, want[i].Public)
		}
		if !bytes.Equal(res.Data, want[i].Data) {
			t.Errorf("resource %d payload does not round-trip (%d bytes)", i, len(res.Data))
		}
	}
}

func TestRunEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "// fetched %s\n", r.URL.Path)
	}))
	defer srv.Close()

	mvid := uuid.MustParse("E4A3022C-74D8-4E8F-89B1-9A2C6D3B1F40")
	ecmaKey, _ := hex.DecodeString("00000000000000000400000000000000")
	md := fixtures.BuildAssemblyMetadata("TestLib.dll", mvid, ecmaKey)

	wantRefs := []ppdb.Reference{
		{FileName: "System.Runtime.dll", Kind: ppdb.ImageAssembly, Timestamp: 100, ImageSize: 0x31000},
		{FileName: "System.Linq.dll", Kind: ppdb.ImageAssembly, Timestamp: 200, ImageSize: 0x12000},
		{FileName: "TestDep.dll", Kind: ppdb.ImageAssembly, Timestamp: 300, ImageSize: 0x8000},
	}

	class1 := []byte("namespace Lib { class Class1 { } }\n")
	class2 := []byte("namespace Lib { class Class2 { } }\n")

	fix := fixtures.NewPDB(uuid.New())
	fix.AddModuleRecord(ppdb.CompilationOptionsGUID,
		[]byte("/optimize+\x00/define:TRACE;NET8_0\x00/debug:portable\x00"))
	fix.AddModuleRecord(ppdb.MetadataReferencesGUID,
		ppdb.EncodeReferences(wantRefs, ppdb.RefBlobNulTerminated))
	fix.AddModuleRecord(ppdb.SourceLinkGUID,
		[]byte(fmt.Sprintf(`{"documents":{"/_/src/*":%q}}`, srv.URL+"/src/*")))
	fix.AddDocument("/_/src/Lib/Class1.cs", ppdb.EncodeEmbeddedSource(class1))
	fix.AddDocument("/_/src/Lib/Class2.cs", ppdb.EncodeEmbeddedSource(class2))
	fix.AddDocument("/_/src/Lib/Remote.cs", nil)

	img := fixtures.BuildPE(fixtures.PEOptions{
		Metadata:     md,
		EmbeddedPDB:  fix.Build(),
		ChecksumAlg:  "SHA256",
		Checksum:     bytes.Repeat([]byte{0xCD}, 32),
		Reproducible: true,
		Timestamp:    0x65000001,
	})

	asmPath := filepath.Join(t.TempDir(), "TestLib.dll")
	if err := os.WriteFile(asmPath, img, 0o644); err != nil {
		t.Fatal(err)
	}
	sourcesDir := t.TempDir()

	rec, err := Run(context.Background(), asmPath, Options{
		SourcesDir:     sourcesDir,
		ExtractSources: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	if rec.Classification.Kind != pe.DebugEmbedded {
		t.Errorf("classification = %s; want embedded", rec.Classification.Kind)
	}
	if len(rec.Diagnostics) != 0 {
		t.Errorf("unexpected diagnostics: %v", rec.Diagnostics)
	}

	nargs := len(rec.CompilerArguments)
	if nargs < 2 || rec.CompilerArguments[nargs-1] != "/debug:embedded" {
		t.Fatalf("arguments do not end in /debug:embedded: %v", rec.CompilerArguments)
	}
	if rec.CompilerArguments[nargs-2] != "/deterministic+" {
		t.Errorf("deterministic flag misplaced: %v", rec.CompilerArguments)
	}
	debugFlags := 0
	for _, a := range rec.CompilerArguments {
		if strings.HasPrefix(a, "/debug") {
			debugFlags++
		}
	}
	if debugFlags != 1 {
		t.Errorf("%d debug flags in %v", debugFlags, rec.CompilerArguments)
	}

	if rec.TargetFramework != "net8.0" {
		t.Errorf("target framework = %q; want net8.0", rec.TargetFramework)
	}

	if rec.Identity == nil {
		t.Fatal("identity missing")
	}
	if rec.Identity.MVID != mvid {
		t.Errorf("MVID = %s; want %s", rec.Identity.MVID, mvid)
	}
	if got := hex.EncodeToString(rec.Identity.PublicKeyToken); got != "b77a5c561934e089" {
		t.Errorf("public key token = %s", got)
	}
	if !rec.Identity.HasReproducibleMarker {
		t.Error("reproducible marker lost")
	}

	if len(rec.MetadataReferences) != len(wantRefs) {
		t.Fatalf("got %d references, want %d", len(rec.MetadataReferences), len(wantRefs))
	}
	for i, ref := range rec.MetadataReferences {
		if ref.FileName != wantRefs[i].FileName {
			t.Errorf("reference %d = %s; want %s", i, ref.FileName, wantRefs[i].FileName)
		}
	}

	if len(rec.SourceFiles) != 3 {
		t.Fatalf("got %d source files", len(rec.SourceFiles))
	}
	if !rec.SourceFiles[0].IsEmbedded || !bytes.Equal(rec.SourceFiles[0].Content, class1) {
		t.Errorf("source 0: %+v", rec.SourceFiles[0])
	}
	if !rec.SourceFiles[1].IsEmbedded || !bytes.Equal(rec.SourceFiles[1].Content, class2) {
		t.Errorf("source 1: %+v", rec.SourceFiles[1])
	}
	remote := rec.SourceFiles[2]
	if remote.ResolvedURL != srv.URL+"/src/Lib/Remote.cs" {
		t.Errorf("resolved URL = %q", remote.ResolvedURL)
	}
	if !strings.Contains(string(remote.Content), "/src/Lib/Remote.cs") {
		t.Errorf("remote content = %q", remote.Content)
	}

	written, err := os.ReadFile(filepath.Join(sourcesDir, "Lib", "Class1.cs"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(written, class1) {
		t.Error("written source does not match the embedded content")
	}
}
