package vault

import (
	"strconv"
	"time"

	"github.com/fahmaliyi/clockode/totp"
)

const (
	KeyLen      = 32
	SaltLen     = 16
	NonceLen    = 12
	Version     = 0x01
	DataVersion = 1
)

// Account is one stored TOTP seed.
type Account struct {
	ID        string
	Label     string
	Issuer    string
	Secret    []byte
	Digits    int
	Period    uint32
	Algorithm totp.Algorithm
	CreatedAt time.Time
}

// Params returns the code parameters of the account.
func (a Account) Params() totp.Params {
	return totp.Params{Digits: a.Digits, Period: a.Period, Algorithm: a.Algorithm}
}

// Validate checks the account invariants.
func (a Account) Validate() error {
	if a.ID == "" {
		return invalidAccount("empty id")
	}
	if a.Label == "" {
		return invalidAccount("empty label")
	}
	if len(a.Secret) == 0 {
		return invalidAccount("empty secret")
	}
	if err := a.Params().Validate(); err != nil {
		return invalidAccount(err.Error())
	}
	return nil
}

func (a Account) clone() Account {
	c := a
	c.Secret = append([]byte(nil), a.Secret...)
	return c
}

// AccountFields are the caller-supplied fields of a new account. Zero
// Digits, Period and Algorithm take the TOTP defaults.
type AccountFields struct {
	Label     string
	Issuer    string
	Secret    []byte
	Digits    int
	Period    uint32
	Algorithm totp.Algorithm
}

// AccountUpdate carries the mutable fields to change; nil fields are left
// alone. Secret exists only so callers can be told that it is immutable:
// any value other than nil or the current secret is rejected.
type AccountUpdate struct {
	Label     *string
	Issuer    *string
	Digits    *int
	Period    *uint32
	Algorithm *totp.Algorithm
	Secret    []byte
}

// Vault is the decrypted document.
type Vault struct {
	Version  int
	Accounts []Account
}

// NewVault returns an empty vault of the current data version.
func NewVault() *Vault {
	return &Vault{Version: DataVersion, Accounts: []Account{}}
}

// Validate checks every account and id uniqueness.
func (v *Vault) Validate() error {
	seen := make(map[string]struct{}, len(v.Accounts))
	for i, a := range v.Accounts {
		if err := a.Validate(); err != nil {
			return err
		}
		if _, dup := seen[a.ID]; dup {
			return invalidAccount("duplicate id at position " + strconv.Itoa(i))
		}
		seen[a.ID] = struct{}{}
	}
	return nil
}

func (v *Vault) index(id string) int {
	for i, a := range v.Accounts {
		if a.ID == id {
			return i
		}
	}
	return -1
}

// ImportMode selects how imported accounts meet the current ones.
type ImportMode int

const (
	// ImportMerge appends accounts whose id is not already present.
	ImportMerge ImportMode = iota
	// ImportReplace swaps the whole account list.
	ImportReplace
)

func (m ImportMode) String() string {
	if m == ImportReplace {
		return "replace"
	}
	return "merge"
}
