// Package shortcode generates the compact identifiers embedded in tracking
// URLs.
package shortcode

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
)

// MaxLen is the longest code the service accepts on the tracking path.
const MaxLen = 16

// codeLen caps the generated code at 8 base36 characters (48 bits encode to
// at most 10).
const codeLen = 8

// Generator mints random short codes. The zero value is not usable; call New.
type Generator struct {
	entropy io.Reader
}

// New returns a Generator backed by crypto/rand. NewWithEntropy exists for
// tests that need a fixed source.
func New() *Generator {
	return &Generator{entropy: rand.Reader}
}

func NewWithEntropy(r io.Reader) *Generator {
	return &Generator{entropy: r}
}

// Generate returns a code matching ^[0-9a-z]{1,8}$, derived from 48 bits of
// a fresh 128-bit random identifier. Uniqueness is probabilistic only; no
// store is consulted. An entropy read failure is an environment fault the
// caller should treat as fatal.
func (g *Generator) Generate() (string, error) {
	var id [16]byte
	if _, err := io.ReadFull(g.entropy, id[:]); err != nil {
		return "", fmt.Errorf("failed to read entropy: %w", err)
	}

	n := binary.BigEndian.Uint64(id[:8]) >> 16 // keep the top 48 bits
	code := strconv.FormatUint(n, 36)
	if len(code) > codeLen {
		code = code[:codeLen]
	}
	return code, nil
}
