package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"strings"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/scrypt"
)

// hkdfInfo labels the key expansion so a key derived here is never usable
// for anything but vault payloads.
var hkdfInfo = []byte("clockode vault v1")

func wipe(b []byte) {
	memguard.WipeBytes(b)
}

func randBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}

// KDFAlgorithm identifies the password hash stored in the file header.
type KDFAlgorithm uint8

const (
	KDFScrypt   KDFAlgorithm = 0x01
	KDFArgon2id KDFAlgorithm = 0x02
)

func (a KDFAlgorithm) String() string {
	switch a {
	case KDFScrypt:
		return "scrypt"
	case KDFArgon2id:
		return "argon2id"
	default:
		return fmt.Sprintf("kdf(%d)", uint8(a))
	}
}

func ParseKDFAlgorithm(s string) (KDFAlgorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "scrypt":
		return KDFScrypt, nil
	case "argon2id", "argon2":
		return KDFArgon2id, nil
	}
	return 0, fmt.Errorf("%w: unknown kdf %q", ErrInvalidParams, s)
}

// KDFParams are the work factors persisted next to the salt. For scrypt
// Cost is N, BlockSize is r and Parallelism is p. For argon2id Cost is the
// time parameter, BlockSize the memory in KiB and Parallelism the thread
// count.
type KDFParams struct {
	Algorithm   KDFAlgorithm
	Cost        uint32
	BlockSize   uint32
	Parallelism uint32
}

func DefaultKDFParams() KDFParams {
	return KDFParams{Algorithm: KDFScrypt, Cost: 1 << 15, BlockSize: 8, Parallelism: 1}
}

// Bounds keep a crafted header from asking for unbounded memory or time.
const (
	maxScryptN      = 1 << 20
	maxScryptR      = 64
	maxScryptP      = 16
	maxArgonTime    = 64
	maxArgonMemory  = 1 << 20 // KiB
	maxArgonThreads = 255

	// scrypt needs 128*N*r bytes.
	maxScryptMemory = 1 << 30
)

func (p KDFParams) Validate() error {
	switch p.Algorithm {
	case KDFScrypt:
		if p.Cost < 2 || p.Cost&(p.Cost-1) != 0 || p.Cost > maxScryptN {
			return fmt.Errorf("%w: scrypt N must be a power of two in [2, %d]", ErrInvalidParams, maxScryptN)
		}
		if p.BlockSize == 0 || p.BlockSize > maxScryptR {
			return fmt.Errorf("%w: scrypt r must be in [1, %d]", ErrInvalidParams, maxScryptR)
		}
		if p.Parallelism == 0 || p.Parallelism > maxScryptP {
			return fmt.Errorf("%w: scrypt p must be in [1, %d]", ErrInvalidParams, maxScryptP)
		}
		if 128*uint64(p.Cost)*uint64(p.BlockSize) > maxScryptMemory {
			return fmt.Errorf("%w: scrypt N*r needs more than %d MiB", ErrInvalidParams, maxScryptMemory>>20)
		}
	case KDFArgon2id:
		if p.Cost == 0 || p.Cost > maxArgonTime {
			return fmt.Errorf("%w: argon2 time must be in [1, %d]", ErrInvalidParams, maxArgonTime)
		}
		if p.Parallelism == 0 || p.Parallelism > maxArgonThreads {
			return fmt.Errorf("%w: argon2 threads must be in [1, %d]", ErrInvalidParams, maxArgonThreads)
		}
		if p.BlockSize < 8*p.Parallelism || p.BlockSize > maxArgonMemory {
			return fmt.Errorf("%w: argon2 memory must be in [%d, %d] KiB", ErrInvalidParams, 8*p.Parallelism, maxArgonMemory)
		}
	default:
		return fmt.Errorf("%w: unknown kdf %d", ErrInvalidParams, uint8(p.Algorithm))
	}
	return nil
}

// DeriveKey turns a password and salt into a KeyLen key. It is
// deterministic and deliberately slow; it never checks whether the
// password is right.
func DeriveKey(password, salt []byte, params KDFParams) ([]byte, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if len(salt) < SaltLen {
		return nil, fmt.Errorf("%w: salt shorter than %d bytes", ErrInvalidParams, SaltLen)
	}

	var master []byte
	switch params.Algorithm {
	case KDFScrypt:
		var err error
		master, err = scrypt.Key(password, salt, int(params.Cost), int(params.BlockSize), int(params.Parallelism), KeyLen)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
	case KDFArgon2id:
		master = argon2.IDKey(password, salt, params.Cost, params.BlockSize, uint8(params.Parallelism), KeyLen)
	}
	defer wipe(master)

	h := hkdf.New(sha256.New, master, nil, hkdfInfo)
	key := make([]byte, KeyLen)
	if _, err := io.ReadFull(h, key); err != nil {
		wipe(key)
		return nil, err
	}
	return key, nil
}

// CipherSuite identifies the AEAD stored in the file header. Both suites
// take a 96-bit nonce.
type CipherSuite uint8

const (
	CipherAES256GCM        CipherSuite = 0x01
	CipherChaCha20Poly1305 CipherSuite = 0x02
)

func (c CipherSuite) String() string {
	switch c {
	case CipherAES256GCM:
		return "aes-256-gcm"
	case CipherChaCha20Poly1305:
		return "chacha20-poly1305"
	default:
		return fmt.Sprintf("cipher(%d)", uint8(c))
	}
}

func ParseCipherSuite(s string) (CipherSuite, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "aes-256-gcm", "aes256gcm", "aes-gcm":
		return CipherAES256GCM, nil
	case "chacha20-poly1305", "chacha20poly1305":
		return CipherChaCha20Poly1305, nil
	}
	return 0, fmt.Errorf("%w: unknown cipher %q", ErrInvalidParams, s)
}

func (c CipherSuite) Valid() bool {
	return c == CipherAES256GCM || c == CipherChaCha20Poly1305
}

func (c CipherSuite) aead(key []byte) (cipher.AEAD, error) {
	switch c {
	case CipherAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	case CipherChaCha20Poly1305:
		return chacha20poly1305.New(key)
	}
	return nil, fmt.Errorf("%w: unknown cipher %d", ErrInvalidParams, uint8(c))
}

// Seal encrypts plaintext under key with a fresh random nonce.
func Seal(suite CipherSuite, key, plaintext, aad []byte) (nonce, ciphertext []byte, err error) {
	aead, err := suite.aead(key)
	if err != nil {
		return nil, nil, err
	}
	nonce, err = randBytes(NonceLen)
	if err != nil {
		return nil, nil, fmt.Errorf("vault: generate nonce: %w", err)
	}
	return nonce, aead.Seal(nil, nonce, plaintext, aad), nil
}

// Open authenticates and decrypts. Every failure, whatever its cause, is
// ErrAuthFailed.
func Open(suite CipherSuite, key, nonce, ciphertext, aad []byte) ([]byte, error) {
	aead, err := suite.aead(key)
	if err != nil || len(nonce) != aead.NonceSize() || len(ciphertext) < aead.Overhead() {
		return nil, ErrAuthFailed
	}
	pt, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return pt, nil
}
