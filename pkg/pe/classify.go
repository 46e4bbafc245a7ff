package pe

import "fmt"

// DebugKind is the debug configuration an assembly was compiled with,
// recovered from its debug directory.
type DebugKind int

const (
	// DebugNone - no symbols were produced.
	DebugNone DebugKind = iota
	// DebugPortableExternal - a portable PDB exists next to (or apart from)
	// the assembly, referenced via a CodeView entry.
	DebugPortableExternal
	// DebugPortableEmbedded - a portable PDB is embedded but carries no
	// checksum entry.
	DebugPortableEmbedded
	// DebugEmbedded - an embedded, checksummed portable PDB (/debug:embedded).
	DebugEmbedded
)

func (k DebugKind) String() string {
	switch k {
	case DebugPortableExternal:
		return "portable"
	case DebugPortableEmbedded:
		return "portable embedded"
	case DebugEmbedded:
		return "embedded"
	}
	return "none"
}

// Classification is the immutable debug classification of one assembly.
// It must be computed before any compiler-argument reconstruction; the
// regenerated debug flags derive from it, never from the options blob.
type Classification struct {
	Kind DebugKind

	HasReproducibleMarker bool
	HasPdbChecksum        bool
	ChecksumAlgorithm     string
	ReferencedPdbPath     string
	HighEntropyVA         bool
}

// Classify derives the debug classification from the parsed debug directory.
// First match wins: embedded+checksum, embedded, codeview-only, none.
func (f *File) Classify() Classification {
	c := Classification{
		HasReproducibleMarker: f.HasReproducible,
		HasPdbChecksum:        f.HasPdbChecksum,
		ChecksumAlgorithm:     f.ChecksumAlgorithm,
		ReferencedPdbPath:     f.CodeViewPath,
		HighEntropyVA:         f.HighEntropyVA,
	}
	switch {
	case f.HasEmbeddedPdb && f.HasPdbChecksum:
		c.Kind = DebugEmbedded
	case f.HasEmbeddedPdb:
		c.Kind = DebugPortableEmbedded
	case f.HasCodeView:
		c.Kind = DebugPortableExternal
	default:
		c.Kind = DebugNone
	}
	return c
}

// ToCompilerFlags regenerates the debug-related compiler flags for this
// classification. The sequence (including the leading "/debug-" and the
// explicit "/embed-" in the external case) is a contract: downstream tooling
// compares argument lists positionally and must never see duplicate or
// conflicting debug flags.
func (c Classification) ToCompilerFlags(pdbOutputPath string) []string {
	var flags []string
	switch c.Kind {
	case DebugEmbedded:
		flags = []string{"/debug:embedded"}
	case DebugPortableEmbedded:
		flags = []string{"/debug:portable", "/embed"}
	case DebugPortableExternal:
		flags = []string{"/debug-", "/debug:portable", "/embed-"}
		if pdbOutputPath != "" {
			flags = append(flags, fmt.Sprintf("/pdb:%s", pdbOutputPath))
		}
	case DebugNone:
		flags = []string{}
	}
	if c.HighEntropyVA {
		flags = append(flags, "/highentropyva+")
	}
	return flags
}
