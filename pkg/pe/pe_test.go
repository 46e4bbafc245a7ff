package pe_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/blacktop/dotpdb/internal/fixtures"
	"github.com/blacktop/dotpdb/pkg/pe"
)

func TestParseNotPE(t *testing.T) {
	for _, in := range [][]byte{nil, []byte("not an executable"), make([]byte, 4096)} {
		if _, err := pe.Parse(in); !errors.Is(err, pe.ErrNotPE) {
			t.Errorf("Parse: got %v, want ErrNotPE", err)
		}
	}
}

func TestParseDebugDirectory(t *testing.T) {
	cvGUID := uuid.MustParse("11223344-5566-7788-99AA-BBCCDDEEFF00")
	md := fixtures.BuildAssemblyMetadata("App.dll", uuid.New(), nil)
	pdbImage := fixtures.NewPDB(cvGUID).Build()

	img := fixtures.BuildPE(fixtures.PEOptions{
		Metadata:      md,
		EmbeddedPDB:   pdbImage,
		CodeViewGUID:  cvGUID,
		CodeViewPath:  `D:\a\1\obj\App.pdb`,
		ChecksumAlg:   "SHA256",
		Checksum:      bytes.Repeat([]byte{0xAB}, 32),
		Reproducible:  true,
		HighEntropyVA: true,
		Timestamp:     0x6543F00D,
	})

	f, err := pe.Parse(img)
	if err != nil {
		t.Fatal(err)
	}

	if !f.HasCodeView || !f.HasEmbeddedPdb || !f.HasPdbChecksum || !f.HasReproducible {
		t.Fatalf("debug facts incomplete: cv=%v embedded=%v checksum=%v repro=%v",
			f.HasCodeView, f.HasEmbeddedPdb, f.HasPdbChecksum, f.HasReproducible)
	}
	if f.CodeViewGUID != cvGUID {
		t.Errorf("CodeView GUID = %s; want %s", f.CodeViewGUID, cvGUID)
	}
	if f.CodeViewPath != `D:\a\1\obj\App.pdb` {
		t.Errorf("CodeView path = %q", f.CodeViewPath)
	}
	if f.ChecksumAlgorithm != "SHA256" || len(f.Checksum) != 32 {
		t.Errorf("checksum = %s (%d bytes)", f.ChecksumAlgorithm, len(f.Checksum))
	}
	if !f.HighEntropyVA {
		t.Error("high entropy VA flag lost")
	}
	if f.Timestamp != 0x6543F00D {
		t.Errorf("timestamp = %#x", f.Timestamp)
	}

	if !f.IsManaged() {
		t.Fatal("image should be managed")
	}
	if !bytes.Equal(f.Metadata(), md) {
		t.Error("CLI metadata does not round trip")
	}

	embedded, err := f.EmbeddedPdb()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(embedded, pdbImage) {
		t.Errorf("embedded PDB inflated to %d bytes, want %d", len(embedded), len(pdbImage))
	}
}

func TestParseNativeImage(t *testing.T) {
	img := fixtures.BuildPE(fixtures.PEOptions{})
	f, err := pe.Parse(img)
	if err != nil {
		t.Fatal(err)
	}
	if f.IsManaged() {
		t.Error("image without metadata reported as managed")
	}
	if f.Metadata() != nil {
		t.Error("native image returned metadata")
	}
	if data, err := f.EmbeddedPdb(); err != nil || data != nil {
		t.Errorf("EmbeddedPdb = (%d bytes, %v); want (nil, nil)", len(data), err)
	}
	if got := f.Classify().Kind; got != pe.DebugNone {
		t.Errorf("classification = %s; want none", got)
	}
}
