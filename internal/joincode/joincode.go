// internal/joincode/joincode.go
package joincode

import (
	"crypto/rand"
	"fmt"
)

// alphabet deliberately omits characters that read ambiguously when an
// organizer dictates a code out loud (0/O, 1/I/L).
const alphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// Length is the number of characters in a join code.
const Length = 6

// Generate returns a random join code. Uniqueness against existing
// competitions is the caller's responsibility (collision check at creation).
func Generate() (string, error) {
	buf := make([]byte, Length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes for join code: %w", err)
	}
	for i := range buf {
		buf[i] = alphabet[int(buf[i])%len(alphabet)]
	}
	return string(buf), nil
}

// Valid reports whether s has the shape of a join code: exactly Length
// characters, all from the code alphabet.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	for i := 0; i < len(s); i++ {
		found := false
		for j := 0; j < len(alphabet); j++ {
			if s[i] == alphabet[j] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
