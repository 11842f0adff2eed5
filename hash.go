// Snapshot fingerprints.
//
// A fingerprint is a 16 hex character digest of a collection file's exact
// bytes. Collections use it as the key of their parse cache and to skip
// writes whose encoded snapshot would be byte-identical to the file on
// disk. Stats reports it, so two copies of a collection can be compared
// without reading either. The algorithm is chosen per database via
// Config.Fingerprint and is never stored, so it can change between opens.
package jsondb

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"

	"github.com/zeebo/xxh3"
	"golang.org/x/crypto/blake2b"
)

// Fingerprint algorithms.
const (
	// AlgXXHash3 is the default. Every operation fingerprints the whole
	// file before consulting the cache, so speed on large collections
	// dominates.
	AlgXXHash3 = 1

	// AlgFNV1a uses only the standard library. Adequate for small
	// collections; throughput falls behind xxh3 as files grow.
	AlgFNV1a = 2

	// AlgBlake2b is for fingerprints kept outside the process, such as
	// Stats output recorded next to a backup and checked after restore.
	AlgBlake2b = 3
)

// fingerprint digests data with the given algorithm. Unknown algorithms
// return "", which never matches a cached fingerprint.
func fingerprint(data []byte, alg int) string {
	var sum uint64
	switch alg {
	case AlgXXHash3:
		sum = xxh3.Hash(data)
	case AlgFNV1a:
		h := fnv.New64a()
		h.Write(data)
		sum = h.Sum64()
	case AlgBlake2b:
		h, _ := blake2b.New(8, nil) // never fails for size 8 without a key
		h.Write(data)
		sum = binary.BigEndian.Uint64(h.Sum(nil))
	default:
		return ""
	}
	return fmt.Sprintf("%016x", sum)
}
