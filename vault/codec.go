package vault

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fahmaliyi/clockode/totp"
)

type plaintextVault struct {
	Version  int              `json:"version"`
	Accounts []accountRecord `json:"accounts"`
}

type accountRecord struct {
	ID        string         `json:"id"`
	Label     string         `json:"label"`
	Issuer    string         `json:"issuer,omitempty"`
	Secret    []byte         `json:"secret"`
	Digits    int            `json:"digits"`
	Period    uint32         `json:"period"`
	Algorithm totp.Algorithm `json:"algorithm"`
	CreatedAt time.Time      `json:"created_at"`
}

// Encode serializes v to the canonical plaintext payload.
func Encode(v *Vault) ([]byte, error) {
	doc := plaintextVault{Version: v.Version, Accounts: make([]accountRecord, len(v.Accounts))}
	for i, a := range v.Accounts {
		doc.Accounts[i] = accountRecord(a)
	}
	return json.Marshal(doc)
}

// Decode parses a payload produced by Encode. It rejects unknown versions
// before looking at the accounts.
func Decode(b []byte) (*Vault, error) {
	var head struct {
		Version *int `json:"version"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	if head.Version == nil {
		return nil, fmt.Errorf("%w: missing version", ErrCorrupted)
	}
	if *head.Version != DataVersion {
		return nil, fmt.Errorf("%w: data version %d", ErrUnsupportedVersion, *head.Version)
	}

	var doc plaintextVault
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	v := &Vault{Version: doc.Version, Accounts: make([]Account, len(doc.Accounts))}
	for i, r := range doc.Accounts {
		v.Accounts[i] = Account(r)
	}
	if err := v.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	return v, nil
}
