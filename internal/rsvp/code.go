package rsvp

import (
	"crypto/rand"
	"fmt"
)

// codeAlphabet avoids characters operators misread on scans (0/O, 1/I/L).
const codeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

// codeLength gives ~49 bits of entropy, plenty for a uniqueness-constrained token.
const codeLength = 10

// NewCheckInCode generates a random check-in code. Uniqueness is enforced by
// the store; callers regenerate on conflict.
func NewCheckInCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate check-in code: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}
