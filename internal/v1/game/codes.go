package game

import (
	"crypto/rand"
	"strings"
)

// Game codes avoid 0/O/1/I so they survive being read aloud or copied by
// hand. The alphabet has 32 symbols, so reducing a random byte modulo the
// alphabet length introduces no bias.
const (
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	CodeLength   = 6
)

// Code is a game code in canonical (uppercase) form.
type Code string

// CanonicalCode converts a wire-form code to canonical form. Codes are
// case-insensitive on the wire and stored uppercase.
func CanonicalCode(raw string) Code {
	return Code(strings.ToUpper(strings.TrimSpace(raw)))
}

// newCode returns a random game code.
func newCode() (Code, error) {
	b := make([]byte, CodeLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = codeAlphabet[b[i]%byte(len(codeAlphabet))]
	}
	return Code(b), nil
}
