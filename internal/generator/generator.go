// Package generator produces request IDs for requests that arrive without one.
package generator

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type names a request ID format.
type Type string

const (
	// TypeUUID generates UUID v4 request IDs.
	TypeUUID Type = "uuid"
	// TypeULID generates lexicographically sortable ULID request IDs.
	TypeULID Type = "ulid"
)

// Generator generates request IDs.
type Generator interface {
	Generate() string
}

// UUIDGenerator generates UUID v4 values.
type UUIDGenerator struct{}

// Generate returns a new UUID v4 string.
func (g *UUIDGenerator) Generate() string {
	return uuid.New().String()
}

// ULIDGenerator generates ULID values.
// IDs generated within the same millisecond keep increasing.
type ULIDGenerator struct {
	mu      sync.Mutex
	lastMS  uint64
	entropy [10]byte
	now     func() time.Time
}

// NewULIDGenerator creates a new ULID generator.
func NewULIDGenerator() *ULIDGenerator {
	return &ULIDGenerator{now: time.Now}
}

// Generate returns a new 26 character ULID string.
func (g *ULIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := uint64(g.now().UTC().UnixMilli())
	if ms == g.lastMS {
		incrementEntropy(&g.entropy)
	} else {
		g.lastMS = ms
		_, _ = rand.Read(g.entropy[:])
	}
	return encodeULID(ms, g.entropy)
}

// incrementEntropy adds one to the 80-bit entropy, big-endian.
func incrementEntropy(e *[10]byte) {
	for i := len(e) - 1; i >= 0; i-- {
		e[i]++
		if e[i] != 0 {
			return
		}
	}
}

// New creates a generator for the specified type.
func New(genType Type) (Generator, error) {
	switch genType {
	case TypeUUID:
		return &UUIDGenerator{}, nil
	case TypeULID:
		return NewULIDGenerator(), nil
	default:
		return nil, fmt.Errorf("unknown request ID generator: %s (valid types: uuid, ulid)", genType)
	}
}

// Crockford's Base32 alphabet (excludes I, L, O, U).
const crockfordAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// encodeULID writes the 48-bit millisecond timestamp as 10 characters followed by
// the 80 bits of entropy as 16 characters.
func encodeULID(ms uint64, entropy [10]byte) string {
	var out [26]byte

	for i := 9; i >= 0; i-- {
		out[i] = crockfordAlphabet[ms&0x1F]
		ms >>= 5
	}

	// Two 40-bit halves, each encoded as 8 characters.
	for half := 0; half < 2; half++ {
		var v uint64
		for _, b := range entropy[half*5 : half*5+5] {
			v = v<<8 | uint64(b)
		}
		for i := 7; i >= 0; i-- {
			out[10+half*8+i] = crockfordAlphabet[v&0x1F]
			v >>= 5
		}
	}

	return string(out[:])
}
