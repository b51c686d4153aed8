// Package roomcode generates and checks the short codes players type to find a room.
package roomcode

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// Alphabet leaves out 0/O and 1/I/L so codes survive being read aloud or copied by hand.
const Alphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const Length = 6

func Generate() (string, error) {
	code := make([]byte, Length)
	max := big.NewInt(int64(len(Alphabet)))
	for i := range code {
		num, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		code[i] = Alphabet[num.Int64()]
	}
	return string(code), nil
}

func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Valid reports whether code is an already-normalized room code.
func Valid(code string) bool {
	if len(code) != Length {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(Alphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}
