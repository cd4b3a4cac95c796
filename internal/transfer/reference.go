package transfer

import (
	"crypto/rand"
	"fmt"
	"strings"
)

const (
	referencePrefix   = "TXF-"
	referenceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	referenceLength   = 12
)

// NewReference generates a transfer reference of the form
// TXF-<12 uppercase alphanumerics>. References carry no business meaning;
// uniqueness is enforced by the store, and callers regenerate on collision.
func NewReference() (string, error) {
	buf := make([]byte, referenceLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate reference: %w", err)
	}
	var b strings.Builder
	b.WriteString(referencePrefix)
	for _, c := range buf {
		b.WriteByte(referenceAlphabet[int(c)%len(referenceAlphabet)])
	}
	return b.String(), nil
}

// ValidReference reports whether v has the generated reference shape.
func ValidReference(v string) bool {
	if !strings.HasPrefix(v, referencePrefix) {
		return false
	}
	body := strings.TrimPrefix(v, referencePrefix)
	if len(body) != referenceLength {
		return false
	}
	for i := 0; i < len(body); i++ {
		if !strings.ContainsRune(referenceAlphabet, rune(body[i])) {
			return false
		}
	}
	return true
}

// ReversalRef derives the client reference used for compensating port
// calls. It never collides with the forward reference, so the remote side
// treats forward and reversal as independent idempotent operations.
func ReversalRef(reference string) string {
	return reference + "-REVERSAL"
}
