// Package totp generates RFC 6238 time-based one-time passwords.
//
// Generate is a pure function of (secret, time, params): it keeps no state
// and can be called on every UI refresh tick.
package totp

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"strings"
	"time"
)

const (
	DefaultDigits = 6
	DefaultPeriod = 30
)

var (
	ErrInvalidDigits    = errors.New("totp: digits must be 6 or 8")
	ErrInvalidPeriod    = errors.New("totp: period must be positive")
	ErrInvalidAlgorithm = errors.New("totp: unknown algorithm")
	ErrEmptySecret      = errors.New("totp: empty secret")
	ErrInvalidTime      = errors.New("totp: time before unix epoch")
)

// Algorithm is the HMAC hash used by the TOTP construction. The zero value
// is SHA1, the one every authenticator understands.
type Algorithm uint8

const (
	SHA1 Algorithm = iota
	SHA256
	SHA512
)

// Algorithms lists every supported algorithm.
func Algorithms() []Algorithm { return []Algorithm{SHA1, SHA256, SHA512} }

func (a Algorithm) String() string {
	switch a {
	case SHA1:
		return "SHA1"
	case SHA256:
		return "SHA256"
	case SHA512:
		return "SHA512"
	default:
		return fmt.Sprintf("Algorithm(%d)", uint8(a))
	}
}

func (a Algorithm) Valid() bool { return a <= SHA512 }

func (a Algorithm) hash() func() hash.Hash {
	switch a {
	case SHA256:
		return sha256.New
	case SHA512:
		return sha512.New
	default:
		return sha1.New
	}
}

// ParseAlgorithm accepts "SHA1", "sha-256", "SHA512" and similar spellings.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "")) {
	case "", "SHA1":
		return SHA1, nil
	case "SHA256":
		return SHA256, nil
	case "SHA512":
		return SHA512, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidAlgorithm, s)
}

func (a Algorithm) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAlgorithm, uint8(a))
	}
	return []byte(a.String()), nil
}

func (a *Algorithm) UnmarshalText(text []byte) error {
	parsed, err := ParseAlgorithm(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Params are the per-account code parameters.
type Params struct {
	Digits    int
	Period    uint32
	Algorithm Algorithm
}

func DefaultParams() Params {
	return Params{Digits: DefaultDigits, Period: DefaultPeriod, Algorithm: SHA1}
}

func (p Params) Validate() error {
	if p.Digits != 6 && p.Digits != 8 {
		return ErrInvalidDigits
	}
	if p.Period == 0 {
		return ErrInvalidPeriod
	}
	if !p.Algorithm.Valid() {
		return ErrInvalidAlgorithm
	}
	return nil
}

// Code is a generated one-time password and the number of seconds it stays
// valid.
type Code struct {
	Value     string
	Remaining uint32
}

var pow10 = [...]uint32{1, 10, 100, 1000, 10000, 100000, 1000000, 10000000, 100000000}

// Generate computes the code for secret at time t.
func Generate(secret []byte, t time.Time, p Params) (Code, error) {
	if err := p.Validate(); err != nil {
		return Code{}, err
	}
	if len(secret) == 0 {
		return Code{}, ErrEmptySecret
	}
	unix := t.Unix()
	if unix < 0 {
		return Code{}, ErrInvalidTime
	}

	period := uint64(p.Period)
	counter := uint64(unix) / period

	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(p.Algorithm.hash(), secret)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	// dynamic truncation, RFC 4226 section 5.3
	offset := sum[len(sum)-1] & 0x0f
	bin := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff
	otp := bin % pow10[p.Digits]

	return Code{
		Value:     fmt.Sprintf("%0*d", p.Digits, otp),
		Remaining: uint32(period - uint64(unix)%period),
	}, nil
}
