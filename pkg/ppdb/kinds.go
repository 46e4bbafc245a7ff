package ppdb

import "github.com/google/uuid"

// Kind classifies a custom-debug-information record by its GUID. The set is
// closed; anything else is KindUnknown and gets ignored.
type Kind int

const (
	KindUnknown Kind = iota
	KindCompilationOptions
	KindMetadataReferences
	KindSourceLink
	KindEmbeddedSource
)

func (k Kind) String() string {
	switch k {
	case KindCompilationOptions:
		return "CompilationOptions"
	case KindMetadataReferences:
		return "MetadataReferences"
	case KindSourceLink:
		return "SourceLink"
	case KindEmbeddedSource:
		return "EmbeddedSource"
	}
	return "Unknown"
}

// Well-known custom-debug-information kind GUIDs.
var (
	CompilationOptionsGUID = uuid.MustParse("B5FEEC05-8CD0-4A83-96DA-466284BB4BD8")
	MetadataReferencesGUID = uuid.MustParse("7E4D4708-096E-4C5C-AEDA-CB10BA6A740D")
	SourceLinkGUID         = uuid.MustParse("CC110556-A091-4D38-9FEC-25AB9A351A6A")
	EmbeddedSourceGUID     = uuid.MustParse("0E8A571B-6926-466E-B4AD-8AB04611F5FE")
)

// kindByGUID is built once and never mutated. uuid.UUID is a byte array, so
// lookups are inherently case-insensitive.
var kindByGUID = map[uuid.UUID]Kind{
	CompilationOptionsGUID: KindCompilationOptions,
	MetadataReferencesGUID: KindMetadataReferences,
	SourceLinkGUID:         KindSourceLink,
	EmbeddedSourceGUID:     KindEmbeddedSource,
}

// KindOf resolves a record GUID to its kind.
func KindOf(g uuid.UUID) Kind {
	if k, ok := kindByGUID[g]; ok {
		return k
	}
	return KindUnknown
}
