// Package identity derives the deterministic-build identity facts of an
// assembly: MVID, public key and its token, PE timestamp, and the presence of
// the reproducible marker. It assembles facts for display and archival; it
// performs no verification itself.
package identity

import (
	"crypto/sha1"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/blacktop/dotpdb/pkg/metadata"
	"github.com/blacktop/dotpdb/pkg/pe"
)

// Identity is the assembled fact set.
type Identity struct {
	MVID                  uuid.UUID
	PublicKey             []byte
	PublicKeyToken        []byte
	PETimestamp           uint32
	HasReproducibleMarker bool
	ChecksumAlgorithm     string
}

// Analyze reads MVID and the public-key blob straight from the assembly's
// metadata tables (not from custom debug information).
func Analyze(f *pe.File) (*Identity, error) {
	raw := f.Metadata()
	if raw == nil {
		return nil, errors.New("image has no CLI metadata")
	}
	md, err := metadata.Parse(raw)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse assembly metadata")
	}
	if md.Tables == nil || md.Tables.RowCount(metadata.TblModule) == 0 {
		return nil, errors.New("assembly metadata has no module table")
	}

	id := &Identity{
		PETimestamp:           f.Timestamp,
		HasReproducibleMarker: f.HasReproducible,
		ChecksumAlgorithm:     f.ChecksumAlgorithm,
	}

	if gidx, err := md.Tables.Uint(metadata.TblModule, 2, 1); err == nil && gidx != 0 {
		id.MVID, _ = md.GUID(gidx)
	}

	if md.Tables.RowCount(metadata.TblAssembly) > 0 {
		if boff, err := md.Tables.Uint(metadata.TblAssembly, 6, 1); err == nil && boff != 0 {
			if key, err := md.Blob(boff); err == nil && len(key) > 0 {
				id.PublicKey = key
				id.PublicKeyToken = PublicKeyToken(key)
			}
		}
	}

	return id, nil
}

// PublicKeyToken computes the token for a public-key blob: the low 8 bytes of
// its SHA-1 digest, byte-reversed.
func PublicKeyToken(publicKey []byte) []byte {
	sum := sha1.Sum(publicKey)
	token := make([]byte, 8)
	for i := 0; i < 8; i++ {
		token[i] = sum[len(sum)-1-i]
	}
	return token
}
