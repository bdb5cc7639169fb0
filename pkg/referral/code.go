package referral

import (
	"crypto/rand"
	"strings"
	"unicode"
)

const (
	codePrefix   = "REF"
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	suffixLen    = 4
)

// newCode builds REF + last four digits of userID (zero padded) + four
// random characters.
func newCode(userID string) (string, error) {
	var digits []rune
	for _, r := range userID {
		if unicode.IsDigit(r) && r < unicode.MaxASCII {
			digits = append(digits, r)
		}
	}
	if len(digits) > 4 {
		digits = digits[len(digits)-4:]
	}
	tail := strings.Repeat("0", 4-len(digits)) + string(digits)

	b := make([]byte, suffixLen)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return codePrefix + tail + string(b), nil
}

// NormalizeCode upper-cases and trims user input.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
