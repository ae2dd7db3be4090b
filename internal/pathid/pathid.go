// Package pathid computes the deterministic 64-bit identifier used as the
// primary key in both the local priority database and the remote metadata
// database (spec §4.1).
package pathid

import (
	"crypto/sha256"
	"encoding/binary"
)

// ID is a signed 64-bit path identifier.
type ID int64

// Compute returns the signed 64-bit integer formed by the high-order 8
// bytes of SHA-256(path || salt). salt is the empty string for paths with
// no recorded collision.
func Compute(path, salt string) ID {
	h := sha256.New()
	h.Write([]byte(path))
	h.Write([]byte(salt))

	sum := h.Sum(nil)

	return ID(int64(binary.BigEndian.Uint64(sum[:8])))
}

// Resolver looks up the current salt for a path, returning "" if no
// collision has ever been recorded for it. Implemented by the collision
// table of a pathstore.Store.
type Resolver interface {
	SaltFor(path string) (string, error)
}

// ComputeWithResolver computes the id for path using whatever salt the
// resolver currently has on file.
func ComputeWithResolver(path string, r Resolver) (ID, error) {
	salt, err := r.SaltFor(path)
	if err != nil {
		return 0, err
	}

	return Compute(path, salt), nil
}
