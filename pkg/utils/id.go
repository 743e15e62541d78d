package utils

import (
	"crypto/rand"
	"math/big"
)

const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// SessionIDLength is the length of generated session link tokens.
const SessionIDLength = 10

// GenerateID returns a random alphanumeric string of the given length,
// suitable for shareable session link tokens.
func GenerateID(length int) string {
	max := big.NewInt(int64(len(idAlphabet)))
	b := make([]byte, length)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the platform source is broken
			b[i] = idAlphabet[0]
			continue
		}
		b[i] = idAlphabet[n.Int64()]
	}
	return string(b)
}
