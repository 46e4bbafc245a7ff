package extract

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/blacktop/dotpdb/pkg/ppdb"
)

func TestNormalizeDestPath(t *testing.T) {
	tests := []struct {
		doc  string
		pkg  string
		want string
	}{
		{`C:\repo\Lib\Program.cs`, "", "repo/Lib/Program.cs"},
		{"/_/src/Lib/Class1.cs", "", "Lib/Class1.cs"},
		{"_/src/Lib/Class1.cs", "", "Lib/Class1.cs"},
		{"src/Program.cs", "", "Program.cs"},
		{"/_/src/Lib/Class1.cs", "Lib", "Class1.cs"},
		// package segment matches case-insensitively
		{"/_/src/lib/Class1.cs", "Lib", "Class1.cs"},
		// package name only strips a whole leading segment
		{"/_/src/Library/Class1.cs", "Lib", "Library/Class1.cs"},
		// known roots match case-insensitively
		{`C:\SRC\Deep\Nested\F.cs`, "", "Deep/Nested/F.cs"},
		{"plain.cs", "", "plain.cs"},
	}
	for _, tt := range tests {
		if got := NormalizeDestPath(tt.doc, tt.pkg); got != tt.want {
			t.Errorf("NormalizeDestPath(%q, %q) = %q; want %q", tt.doc, tt.pkg, got, tt.want)
		}
	}
}

func TestRunEmbeddedOnly(t *testing.T) {
	content := []byte("class C { }\n")
	docs := []ppdb.Document{
		{Name: "/_/src/Lib/C.cs", EmbeddedSource: ppdb.EncodeEmbeddedSource(content)},
		{Name: "/_/src/Lib/Missing.cs"},
	}

	dest := t.TempDir()
	out, err := Run(context.Background(), docs, Options{DestDir: dest})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d documents", len(out))
	}

	if !out[0].IsEmbedded || !bytes.Equal(out[0].Content, content) {
		t.Errorf("embedded document not decoded: %+v", out[0])
	}
	written, err := os.ReadFile(filepath.Join(dest, "Lib", "C.cs"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(written, content) {
		t.Error("written file does not match decoded content")
	}

	if out[1].Content != nil {
		t.Error("unresolvable document got content")
	}
	if out[1].Error == "" {
		t.Error("unresolved document carries no explanation")
	}
	if _, err := os.Stat(filepath.Join(dest, "Lib", "Missing.cs")); err == nil {
		t.Error("unresolved document was written to disk")
	}
}

func TestRunCorruptEmbeddedRecordIsIsolated(t *testing.T) {
	good := []byte("ok\n")
	docs := []ppdb.Document{
		{Name: "bad.cs", EmbeddedSource: []byte{1, 2}}, // shorter than the size field
		{Name: "good.cs", EmbeddedSource: ppdb.EncodeEmbeddedSource(good)},
	}

	out, err := Run(context.Background(), docs, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if out[0].Content != nil || out[0].Error == "" {
		t.Errorf("corrupt record: %+v", out[0])
	}
	if !bytes.Equal(out[1].Content, good) {
		t.Error("good record did not survive its corrupt neighbor")
	}
}
