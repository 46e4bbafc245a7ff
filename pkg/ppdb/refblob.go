package ppdb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/blacktop/dotpdb/pkg/metadata"
)

// ImageKind distinguishes module from assembly references.
type ImageKind int

const (
	ImageModule ImageKind = iota
	ImageAssembly
)

func (k ImageKind) String() string {
	if k == ImageAssembly {
		return "assembly"
	}
	return "module"
}

// RefBlobFormat selects the string encoding of the metadata-references blob.
// The compiler writes NUL-terminated UTF-8; a length-prefixed variant exists
// in the wild and must be requested explicitly, never auto-detected.
type RefBlobFormat int

const (
	RefBlobNulTerminated RefBlobFormat = iota
	RefBlobLengthPrefixed
)

// Reference is one referenced-assembly descriptor. Field values and ordering
// mirror the encoding bit for bit; consumers compare positionally.
type Reference struct {
	FileName          string
	ExternAliases     []string
	EmbedInteropTypes bool
	Kind              ImageKind
	Timestamp         int32
	ImageSize         int32
	MVID              [16]byte
}

const (
	refPropKindAssembly = 0x01
	refPropEmbedInterop = 0x02
)

// ParseReferences decodes a metadata-references blob. There is no leading
// count; entries run until the bytes are exhausted. Ending exactly on an
// entry boundary is a clean stop; ending mid-entry returns everything decoded
// so far along with the diagnostic.
func ParseReferences(blob []byte, format RefBlobFormat) ([]Reference, error) {
	var refs []Reference
	rest := blob
	for len(rest) > 0 {
		ref, n, err := parseReference(rest, format)
		if err != nil {
			return refs, fmt.Errorf("reference %d (at blob offset %d): %w", len(refs), len(blob)-len(rest), err)
		}
		refs = append(refs, ref)
		rest = rest[n:]
	}
	return refs, nil
}

func parseReference(b []byte, format RefBlobFormat) (Reference, int, error) {
	var ref Reference
	off := 0

	name, n, err := readString(b, format)
	if err != nil {
		return ref, 0, fmt.Errorf("file name: %w", err)
	}
	ref.FileName = name
	off += n

	aliases, n, err := readString(b[off:], format)
	if err != nil {
		return ref, 0, fmt.Errorf("extern aliases: %w", err)
	}
	if aliases != "" {
		ref.ExternAliases = strings.Split(aliases, ",")
	}
	off += n

	if off+1+4+4+16 > len(b) {
		return ref, 0, fmt.Errorf("truncated after strings (%d bytes left, need %d)", len(b)-off, 1+4+4+16)
	}

	props := b[off]
	off++
	if props&refPropKindAssembly != 0 {
		ref.Kind = ImageAssembly
	}
	ref.EmbedInteropTypes = props&refPropEmbedInterop != 0

	ref.Timestamp = int32(binary.LittleEndian.Uint32(b[off:]))
	off += 4
	ref.ImageSize = int32(binary.LittleEndian.Uint32(b[off:]))
	off += 4
	copy(ref.MVID[:], b[off:off+16])
	off += 16

	return ref, off, nil
}

func readString(b []byte, format RefBlobFormat) (string, int, error) {
	switch format {
	case RefBlobLengthPrefixed:
		size, n, err := metadata.ReadCompressedUInt(b)
		if err != nil {
			return "", 0, err
		}
		if n+int(size) > len(b) {
			return "", 0, fmt.Errorf("length-prefixed string of %d bytes overruns blob", size)
		}
		return string(b[n : n+int(size)]), n + int(size), nil
	default:
		i := bytes.IndexByte(b, 0)
		if i < 0 {
			return "", 0, fmt.Errorf("unterminated string")
		}
		return string(b[:i]), i + 1, nil
	}
}

// EncodeReferences is the paired encoder, used by verification tooling and
// the round-trip tests.
func EncodeReferences(refs []Reference, format RefBlobFormat) []byte {
	var out []byte
	for _, ref := range refs {
		out = appendString(out, ref.FileName, format)
		out = appendString(out, strings.Join(ref.ExternAliases, ","), format)

		var props byte
		if ref.Kind == ImageAssembly {
			props |= refPropKindAssembly
		}
		if ref.EmbedInteropTypes {
			props |= refPropEmbedInterop
		}
		out = append(out, props)
		out = binary.LittleEndian.AppendUint32(out, uint32(ref.Timestamp))
		out = binary.LittleEndian.AppendUint32(out, uint32(ref.ImageSize))
		out = append(out, ref.MVID[:]...)
	}
	return out
}

func appendString(dst []byte, s string, format RefBlobFormat) []byte {
	if format == RefBlobLengthPrefixed {
		dst = metadata.AppendCompressedUInt(dst, uint32(len(s)))
		return append(dst, s...)
	}
	dst = append(dst, s...)
	return append(dst, 0)
}
