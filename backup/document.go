package backup

import (
	"fmt"
	"time"

	"github.com/fahmaliyi/clockode/totp"
	"github.com/fahmaliyi/clockode/vault"
)

const (
	DocumentFormat  = "clockode-backup"
	DocumentVersion = 1
)

// Document is the portable plaintext export of a vault. Secrets are base32
// so the file can be read back by other authenticator apps and by hand.
type Document struct {
	Format     string    `json:"format" yaml:"format"`
	Version    int       `json:"version" yaml:"version"`
	ExportedAt time.Time `json:"exported_at" yaml:"exported_at"`
	Accounts   []Entry   `json:"accounts" yaml:"accounts"`
}

type Entry struct {
	ID        string    `json:"id,omitempty" yaml:"id,omitempty"`
	Label     string    `json:"label" yaml:"label"`
	Issuer    string    `json:"issuer,omitempty" yaml:"issuer,omitempty"`
	Secret    string    `json:"secret" yaml:"secret"`
	Digits    int       `json:"digits,omitempty" yaml:"digits,omitempty"`
	Period    uint32    `json:"period,omitempty" yaml:"period,omitempty"`
	Algorithm string    `json:"algorithm,omitempty" yaml:"algorithm,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at,omitempty"`
}

func newDocument(accounts []vault.Account, at time.Time) *Document {
	doc := &Document{
		Format:     DocumentFormat,
		Version:    DocumentVersion,
		ExportedAt: at.UTC(),
		Accounts:   make([]Entry, len(accounts)),
	}
	for i, a := range accounts {
		doc.Accounts[i] = Entry{
			ID:        a.ID,
			Label:     a.Label,
			Issuer:    a.Issuer,
			Secret:    totp.EncodeSecret(a.Secret),
			Digits:    a.Digits,
			Period:    a.Period,
			Algorithm: a.Algorithm.String(),
			CreatedAt: a.CreatedAt,
		}
	}
	return doc
}

// accounts converts the document entries. Missing digits, period and
// algorithm take the TOTP defaults; every other check is left to
// Handle.ImportAccounts.
func (d *Document) accounts() ([]vault.Account, error) {
	if d.Format != DocumentFormat {
		return nil, fmt.Errorf("%w: not a clockode backup (format %q)", vault.ErrImportValidationFailed, d.Format)
	}
	if d.Version != DocumentVersion {
		return nil, fmt.Errorf("%w: %w: backup version %d",
			vault.ErrImportValidationFailed, vault.ErrUnsupportedVersion, d.Version)
	}

	out := make([]vault.Account, 0, len(d.Accounts))
	for i, e := range d.Accounts {
		a, err := e.account()
		if err != nil {
			wipeAccounts(out)
			return nil, fmt.Errorf("%w: entry %d: %v", vault.ErrImportValidationFailed, i+1, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func (e Entry) account() (vault.Account, error) {
	secret, err := totp.DecodeSecret(e.Secret)
	if err != nil {
		return vault.Account{}, err
	}
	alg, err := totp.ParseAlgorithm(e.Algorithm)
	if err != nil {
		return vault.Account{}, err
	}
	a := vault.Account{
		ID:        e.ID,
		Label:     e.Label,
		Issuer:    e.Issuer,
		Secret:    secret,
		Digits:    e.Digits,
		Period:    e.Period,
		Algorithm: alg,
		CreatedAt: e.CreatedAt.UTC(),
	}
	if a.Digits == 0 {
		a.Digits = totp.DefaultDigits
	}
	if a.Period == 0 {
		a.Period = totp.DefaultPeriod
	}
	return a, nil
}
