package ppdb

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// DecodeEmbeddedSource decodes an embedded-source blob: a 4-byte little-endian
// uncompressed size, then either raw UTF-8 (size 0) or DEFLATE data that must
// inflate to exactly that many bytes.
func DecodeEmbeddedSource(blob []byte) ([]byte, error) {
	if len(blob) < 4 {
		return nil, errors.New("embedded source blob shorter than its size field")
	}
	size := binary.LittleEndian.Uint32(blob)
	body := blob[4:]

	if size == 0 {
		return body, nil
	}

	fr := flate.NewReader(bytes.NewReader(body))
	defer fr.Close()

	var out bytes.Buffer
	out.Grow(int(size))
	if _, err := io.Copy(&out, io.LimitReader(fr, int64(size)+1)); err != nil {
		return nil, errors.Wrap(err, "failed to inflate embedded source")
	}
	if out.Len() != int(size) {
		return nil, fmt.Errorf("embedded source inflated to %d bytes, header declared %d", out.Len(), size)
	}
	return out.Bytes(), nil
}

// EncodeEmbeddedSource builds an embedded-source blob without compression
// (size field 0, raw content). The compressing variant is only needed by the
// compiler; tests use this one.
func EncodeEmbeddedSource(content []byte) []byte {
	out := make([]byte, 4, 4+len(content))
	return append(out, content...)
}

// DecodeCompilationOptions splits the compilation-options blob into its
// NUL-separated tokens, dropping empties (the blob ends with a trailing NUL).
func DecodeCompilationOptions(blob []byte) []string {
	var tokens []string
	for _, tok := range bytes.Split(blob, []byte{0}) {
		if len(tok) > 0 {
			tokens = append(tokens, string(tok))
		}
	}
	return tokens
}
