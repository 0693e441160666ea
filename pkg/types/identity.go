package types

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// ComputeID derives the stable artifact identifier from
// (filePath, name, startLine, contentHash). The same inputs always
// produce the same id on every run and every process, so upsert-by-id
// replaces stale entries instead of duplicating them. Changing the
// code text changes contentHash and therefore the id.
func ComputeID(filePath, name string, startLine int, contentHash [32]byte) string {
	h := xxhash.New()

	// Field separators keep ("a", "bc") distinct from ("ab", "c")
	_, _ = h.WriteString(filePath)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(name)
	_, _ = h.Write([]byte{0})

	var line [8]byte
	binary.BigEndian.PutUint64(line[:], uint64(startLine))
	_, _ = h.Write(line[:])
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(contentHash[:])

	return fmt.Sprintf("%016x", h.Sum64())
}

// AssignID computes and sets the artifact's id from its identity fields
func (a *Artifact) AssignID() string {
	a.ID = ComputeID(a.FilePath, a.Name, a.StartLine, a.ContentHash())
	return a.ID
}

// IDToUint64 converts an artifact id back to its numeric form. Vector
// store backends with numeric point ids rely on this being lossless.
func IDToUint64(id string) (uint64, error) {
	raw, err := hex.DecodeString(id)
	if err != nil || len(raw) != 8 {
		return 0, fmt.Errorf("malformed artifact id %q", id)
	}
	return binary.BigEndian.Uint64(raw), nil
}
