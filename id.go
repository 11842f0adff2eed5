// Document identifiers.
//
// An _id is 12 bytes rendered as 24 lowercase hex characters:
//
//	[0:4]  Unix seconds, big-endian
//	[4:9]  process-unique value: 3 random bytes + low 2 bytes of the pid
//	[9:12] rolling counter, random start, wraps at 2^24
//
// IDs therefore sort by creation second without coordination. Within one
// generator no value repeats unless more than 2^24 IDs are minted in the
// same second; across processes collisions are bounded by the random bytes.
package jsondb

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

// IDLength is the length of an encoded _id in characters.
const IDLength = 24

const counterMask = 1<<24 - 1

// IDGenerator mints document identifiers. Its process-unique bytes and
// counter are fixed at construction, so independent generators (one per
// test, say) never share state. Safe for concurrent use.
type IDGenerator struct {
	unique  [5]byte
	counter atomic.Uint32
	now     func() time.Time
}

// NewIDGenerator returns a generator seeded from crypto/rand and the
// current process id.
func NewIDGenerator() *IDGenerator {
	var seed [6]byte
	if _, err := rand.Read(seed[:]); err != nil {
		// crypto/rand only fails when the OS entropy source is gone.
		panic(fmt.Sprintf("jsondb: read random seed: %v", err))
	}

	var unique [5]byte
	copy(unique[:3], seed[:3])
	binary.BigEndian.PutUint16(unique[3:], uint16(os.Getpid()))

	start := uint32(seed[3])<<16 | uint32(seed[4])<<8 | uint32(seed[5])
	return newIDGenerator(unique, start, time.Now)
}

func newIDGenerator(unique [5]byte, start uint32, now func() time.Time) *IDGenerator {
	g := &IDGenerator{unique: unique, now: now}
	// Next pre-increments, so store one below the first value handed out.
	g.counter.Store((start - 1) & counterMask)
	return g
}

// Next returns a fresh 24-character id.
func (g *IDGenerator) Next() string {
	var b [12]byte
	binary.BigEndian.PutUint32(b[0:4], uint32(g.now().Unix()))
	copy(b[4:9], g.unique[:])

	c := g.counter.Add(1) & counterMask
	b[9] = byte(c >> 16)
	b[10] = byte(c >> 8)
	b[11] = byte(c)

	return hex.EncodeToString(b[:])
}

var defaultIDs = NewIDGenerator()

// ValidateID checks that id is 24 hex characters and returns it in
// canonical lowercase form. Uppercase input is accepted.
func ValidateID(id string) (string, error) {
	if len(id) != IDLength {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
		}
	}
	return strings.ToLower(id), nil
}

// IDTime returns the creation second embedded in id.
func IDTime(id string) (time.Time, error) {
	id, err := ValidateID(id)
	if err != nil {
		return time.Time{}, err
	}
	b, _ := hex.DecodeString(id[:8])
	return time.Unix(int64(binary.BigEndian.Uint32(b)), 0), nil
}
