// Package vault stores TOTP accounts in a single password-encrypted file.
//
// A Store names the file and the key-derivation and cipher settings new
// writes use. Create or Unlock return the one live Handle of a store; the
// Handle owns the decrypted accounts and the derived key until Lock or
// Discard wipes them. A Handle is meant for one goroutine at a time.
package vault

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/charmbracelet/log"

	"github.com/fahmaliyi/clockode/logging"
)

type Store struct {
	path   string
	kdf    KDFParams
	cipher CipherSuite
	log    *log.Logger
	now    func() time.Time
	active *Handle
}

type Option func(*Store)

func WithLogger(l *log.Logger) Option { return func(s *Store) { s.log = l } }

// WithKDF sets the parameters used for new vaults and for re-keying
// vaults written with different ones.
func WithKDF(p KDFParams) Option { return func(s *Store) { s.kdf = p } }

func WithCipher(c CipherSuite) Option { return func(s *Store) { s.cipher = c } }

func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// NewStore validates the options up front so that a bad configuration
// fails here and not halfway through a save.
func NewStore(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:   path,
		kdf:    DefaultKDFParams(),
		cipher: CipherAES256GCM,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logging.Component("vault")
	}
	if path == "" {
		return nil, fmt.Errorf("%w: empty vault path", ErrInvalidParams)
	}
	if err := s.kdf.Validate(); err != nil {
		return nil, err
	}
	if !s.cipher.Valid() {
		return nil, fmt.Errorf("%w: unknown cipher %d", ErrInvalidParams, uint8(s.cipher))
	}
	return s, nil
}

func (s *Store) Path() string { return s.path }

// Exists reports whether a vault file is present at the store path.
func (s *Store) Exists() (bool, error) {
	_, err := os.Stat(s.path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, ioErr("stat", s.path, err)
}

func (s *Store) checkNoActive() error {
	if s.active != nil && !s.active.locked {
		return ErrAlreadyUnlocked
	}
	return nil
}

// Create writes a new empty vault protected by password. It never
// overwrites an existing file.
func (s *Store) Create(password []byte) (*Handle, error) {
	if err := s.checkNoActive(); err != nil {
		return nil, err
	}
	exists, err := s.Exists()
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, s.path)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, ioErr("mkdir", dir, err)
	}

	salt, err := randBytes(SaltLen)
	if err != nil {
		return nil, fmt.Errorf("vault: generate salt: %w", err)
	}
	key, err := DeriveKey(password, salt, s.kdf)
	if err != nil {
		return nil, err
	}

	h := s.newHandle(key, salt, s.kdf, NewVault())
	raw, err := h.seal()
	if err == nil {
		err = createFileExclusive(s.path, raw, 0o600)
	}
	if err != nil {
		h.Discard()
		if errors.Is(err, ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, s.path)
		}
		return nil, err
	}
	s.log.Info("vault created", "path", s.path, "kdf", s.kdf.Algorithm, "cipher", s.cipher)
	return h, nil
}

// Unlock reads and decrypts the vault. Any authentication failure is
// reported as ErrWrongPassword whatever its cause; the cause is logged at
// debug level only.
func (s *Store) Unlock(password []byte) (*Handle, error) {
	if err := s.checkNoActive(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, ioErr("read", s.path, err)
	}

	hdr, aad, ct, err := decodeFile(raw)
	if err != nil {
		s.log.Debug("vault header rejected", "path", s.path, "err", err)
		return nil, err
	}

	key, err := DeriveKey(password, hdr.Salt, hdr.KDF)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}

	pt, err := Open(hdr.Cipher, key, hdr.Nonce, ct, aad)
	if err != nil {
		wipe(key)
		s.log.Debug("vault authentication failed", "path", s.path, "ciphertext_len", len(ct))
		return nil, ErrWrongPassword
	}
	data, err := Decode(pt)
	wipe(pt)
	if err != nil {
		wipe(key)
		s.log.Warn("vault authenticated but payload is unreadable", "path", s.path, "err", err)
		return nil, err
	}

	h := s.newHandle(key, hdr.Salt, hdr.KDF, data)
	if hdr.Cipher != s.cipher {
		h.dirty = true
	}
	if hdr.KDF != s.kdf {
		if err := h.rekey(password); err != nil {
			s.log.Warn("vault re-key skipped", "err", err)
		} else {
			s.log.Info("vault key parameters changed, re-encrypting on next save",
				"from", hdr.KDF.Algorithm, "to", s.kdf.Algorithm)
		}
	}
	s.log.Info("vault unlocked", "path", s.path, "accounts", len(data.Accounts))
	return h, nil
}

// session holds everything that must be wiped when the handle goes away.
// It is kept apart from Handle so a GC cleanup can reach it without
// keeping the handle alive.
type session struct {
	key  []byte
	data *Vault
}

func (s *session) wipe() {
	wipe(s.key)
	s.key = nil
	if s.data != nil {
		wipeAccounts(s.data.Accounts)
		s.data.Accounts = nil
		s.data = nil
	}
}

func wipeAccounts(accounts []Account) {
	for i := range accounts {
		wipe(accounts[i].Secret)
		accounts[i].Secret = nil
	}
}

// Handle is an unlocked vault session.
type Handle struct {
	store   *Store
	sess    *session
	salt    []byte
	kdf     KDFParams
	cipher  CipherSuite
	dirty   bool
	locked  bool
	cleanup runtime.Cleanup
}

func (s *Store) newHandle(key, salt []byte, kdf KDFParams, data *Vault) *Handle {
	h := &Handle{
		store:  s,
		sess:   &session{key: key, data: data},
		salt:   salt,
		kdf:    kdf,
		cipher: s.cipher,
	}
	h.cleanup = runtime.AddCleanup(h, (*session).wipe, h.sess)
	s.active = h
	return h
}

func (h *Handle) Dirty() bool  { return h.dirty }
func (h *Handle) Locked() bool { return h.locked }

// KDFParams returns the parameters the next save will write.
func (h *Handle) KDFParams() KDFParams { return h.kdf }

// rekey derives a new key under a fresh salt and the store's parameters.
func (h *Handle) rekey(password []byte) error {
	salt, err := randBytes(SaltLen)
	if err != nil {
		return fmt.Errorf("vault: generate salt: %w", err)
	}
	key, err := DeriveKey(password, salt, h.store.kdf)
	if err != nil {
		return err
	}
	wipe(h.sess.key)
	h.sess.key = key
	h.salt = salt
	h.kdf = h.store.kdf
	h.dirty = true
	return nil
}

// ChangePassword re-keys the vault under newPassword. The file keeps the
// old password until the next Save.
func (h *Handle) ChangePassword(newPassword []byte) error {
	if h.locked {
		return ErrLocked
	}
	if err := h.rekey(newPassword); err != nil {
		return err
	}
	h.store.log.Info("vault password changed, re-encrypting on next save")
	return nil
}

// Save re-encrypts the whole vault under a fresh nonce and atomically
// replaces the file. On failure the previous file is untouched.
func (h *Handle) Save() error {
	if h.locked {
		return ErrLocked
	}
	if err := h.persist(); err != nil {
		return err
	}
	h.dirty = false
	return nil
}

func (h *Handle) persist() error {
	raw, err := h.seal()
	if err != nil {
		return err
	}
	if err := WriteFileAtomic(h.store.path, raw, 0o600); err != nil {
		h.store.log.Error("vault save failed", "path", h.store.path, "err", err)
		return err
	}
	h.store.log.Debug("vault saved", "path", h.store.path, "accounts", len(h.sess.data.Accounts))
	return nil
}

// seal encodes and encrypts the vault under a fresh nonce and returns the
// complete file.
func (h *Handle) seal() ([]byte, error) {
	pt, err := Encode(h.sess.data)
	if err != nil {
		return nil, fmt.Errorf("vault: encode: %w", err)
	}
	defer wipe(pt)

	hdr := fileHeader{Version: Version, KDF: h.kdf, Cipher: h.cipher, Salt: h.salt}
	aad, err := hdr.prefix()
	if err != nil {
		return nil, err
	}
	nonce, ct, err := Seal(h.cipher, h.sess.key, pt, aad)
	if err != nil {
		return nil, err
	}
	hdr.Nonce = nonce
	return encodeFile(hdr, ct)
}

// Lock saves pending changes and wipes the key and every secret. If the
// save fails the handle stays unlocked so the caller can retry or Discard.
func (h *Handle) Lock() error {
	if h.locked {
		return nil
	}
	if h.dirty {
		if err := h.Save(); err != nil {
			return err
		}
	}
	h.Discard()
	return nil
}

// Discard wipes the session without saving.
func (h *Handle) Discard() {
	if h.locked {
		return
	}
	h.cleanup.Stop()
	h.sess.wipe()
	wipe(h.salt)
	h.salt = nil
	h.locked = true
	h.dirty = false
	if h.store.active == h {
		h.store.active = nil
	}
	h.store.log.Info("vault locked", "path", h.store.path)
}
