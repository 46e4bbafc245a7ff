package ppdb

import (
	"reflect"
	"testing"
)

var sampleRefs = []Reference{
	{
		FileName:  "System.Runtime.dll",
		Kind:      ImageAssembly,
		Timestamp: 0x5F00BA11,
		ImageSize: 0x31000,
		MVID:      [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
	},
	{
		FileName:          "Interop.Word.dll",
		ExternAliases:     []string{"office", "word"},
		EmbedInteropTypes: true,
		Kind:              ImageAssembly,
		Timestamp:         -1,
		ImageSize:         0x2000,
	},
	{
		FileName: "netmodule.obj",
		Kind:     ImageModule,
	},
}

func TestReferencesRoundTrip(t *testing.T) {
	for _, format := range []RefBlobFormat{RefBlobNulTerminated, RefBlobLengthPrefixed} {
		blob := EncodeReferences(sampleRefs, format)
		got, err := ParseReferences(blob, format)
		if err != nil {
			t.Fatalf("format %d: %v", format, err)
		}
		if !reflect.DeepEqual(got, sampleRefs) {
			t.Errorf("format %d: round trip mismatch\n got %+v\nwant %+v", format, got, sampleRefs)
		}
	}
}

func TestReferencesTruncatedKeepsPrefix(t *testing.T) {
	blob := EncodeReferences(sampleRefs, RefBlobNulTerminated)
	// cut into the middle of the last entry's fixed-size tail
	cut := blob[:len(blob)-10]

	got, err := ParseReferences(cut, RefBlobNulTerminated)
	if err == nil {
		t.Fatal("truncated blob parsed without error")
	}
	if len(got) != 2 {
		t.Fatalf("got %d references from truncated blob, want the 2 complete ones", len(got))
	}
	if got[0].FileName != "System.Runtime.dll" || got[1].FileName != "Interop.Word.dll" {
		t.Errorf("wrong prefix survived: %+v", got)
	}
}

func TestReferencesUnterminatedString(t *testing.T) {
	got, err := ParseReferences([]byte("no terminator here"), RefBlobNulTerminated)
	if err == nil {
		t.Fatal("expected an error")
	}
	if len(got) != 0 {
		t.Errorf("got %d references, want 0", len(got))
	}
}

func TestReferencesEmptyBlob(t *testing.T) {
	got, err := ParseReferences(nil, RefBlobNulTerminated)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("empty blob produced %d references", len(got))
	}
}

func TestFormatsAreNotInterchangeable(t *testing.T) {
	// a length-prefixed blob read as NUL-terminated must fail or misparse,
	// never be silently accepted as the same references; this is why the
	// format is an explicit parameter
	blob := EncodeReferences(sampleRefs[:1], RefBlobLengthPrefixed)
	got, err := ParseReferences(blob, RefBlobNulTerminated)
	if err == nil && reflect.DeepEqual(got, sampleRefs[:1]) {
		t.Error("formats decoded identically; the discriminator would be pointless")
	}
}
