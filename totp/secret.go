package totp

import (
	"encoding/base32"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var ErrInvalidSecret = errors.New("totp: invalid base32 secret")

// DecodeSecret decodes a base32 seed as typed by users or printed by
// providers: whitespace and dashes are ignored, case does not matter and
// trailing padding is optional.
func DecodeSecret(s string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '-' {
			return -1
		}
		return unicode.ToUpper(r)
	}, s)
	cleaned = strings.TrimRight(cleaned, "=")
	if cleaned == "" {
		return nil, ErrEmptySecret
	}
	b, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	if len(b) == 0 {
		return nil, ErrEmptySecret
	}
	return b, nil
}

// EncodeSecret is the unpadded upper-case inverse of DecodeSecret.
func EncodeSecret(b []byte) string {
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(b)
}
