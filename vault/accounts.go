package vault

import (
	"bytes"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fahmaliyi/clockode/totp"
)

// Accounts returns deep copies of the accounts in display order. The
// caller owns the copied secrets.
func (h *Handle) Accounts() ([]Account, error) {
	if h.locked {
		return nil, ErrLocked
	}
	out := make([]Account, len(h.sess.data.Accounts))
	for i, a := range h.sess.data.Accounts {
		out[i] = a.clone()
	}
	return out, nil
}

func (h *Handle) Account(id string) (Account, error) {
	if h.locked {
		return Account{}, ErrLocked
	}
	i := h.sess.data.index(id)
	if i < 0 {
		return Account{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return h.sess.data.Accounts[i].clone(), nil
}

// AddAccount validates f, assigns a fresh id and appends the account.
func (h *Handle) AddAccount(f AccountFields) (Account, error) {
	if h.locked {
		return Account{}, ErrLocked
	}
	a := Account{
		ID:        h.newID(),
		Label:     f.Label,
		Issuer:    f.Issuer,
		Secret:    append([]byte(nil), f.Secret...),
		Digits:    f.Digits,
		Period:    f.Period,
		Algorithm: f.Algorithm,
		CreatedAt: h.store.now().UTC(),
	}
	if a.Digits == 0 {
		a.Digits = totp.DefaultDigits
	}
	if a.Period == 0 {
		a.Period = totp.DefaultPeriod
	}
	if err := a.Validate(); err != nil {
		wipe(a.Secret)
		return Account{}, err
	}
	h.sess.data.Accounts = append(h.sess.data.Accounts, a)
	h.dirty = true
	return a.clone(), nil
}

func (h *Handle) newID() string {
	for {
		id := uuid.New().String()
		if h.sess.data.index(id) < 0 {
			return id
		}
	}
}

// UpdateAccount changes the mutable fields of an account in place. The
// update is validated as a whole before anything is written.
func (h *Handle) UpdateAccount(id string, u AccountUpdate) error {
	if h.locked {
		return ErrLocked
	}
	i := h.sess.data.index(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cur := h.sess.data.Accounts[i]
	if u.Secret != nil && !bytes.Equal(u.Secret, cur.Secret) {
		return fmt.Errorf("%w: secret", ErrImmutableField)
	}

	next := cur
	if u.Label != nil {
		next.Label = *u.Label
	}
	if u.Issuer != nil {
		next.Issuer = *u.Issuer
	}
	if u.Digits != nil {
		next.Digits = *u.Digits
	}
	if u.Period != nil {
		next.Period = *u.Period
	}
	if u.Algorithm != nil {
		next.Algorithm = *u.Algorithm
	}
	if err := next.Validate(); err != nil {
		return err
	}
	h.sess.data.Accounts[i] = next
	h.dirty = true
	return nil
}

func (h *Handle) DeleteAccount(id string) error {
	if h.locked {
		return ErrLocked
	}
	i := h.sess.data.index(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	accounts := h.sess.data.Accounts
	wipe(accounts[i].Secret)
	h.sess.data.Accounts = append(accounts[:i], accounts[i+1:]...)
	accounts[len(accounts)-1] = Account{}
	h.dirty = true
	return nil
}

// Reorder sets the display order. ids must name every account exactly once.
func (h *Handle) Reorder(ids []string) error {
	if h.locked {
		return ErrLocked
	}
	cur := h.sess.data.Accounts
	if len(ids) != len(cur) {
		return fmt.Errorf("%w: got %d ids for %d accounts", ErrInvalidSet, len(ids), len(cur))
	}
	ordered := make([]Account, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate id %s", ErrInvalidSet, id)
		}
		seen[id] = struct{}{}
		i := h.sess.data.index(id)
		if i < 0 {
			return fmt.Errorf("%w: unknown id %s", ErrInvalidSet, id)
		}
		ordered = append(ordered, cur[i])
	}
	h.sess.data.Accounts = ordered
	h.dirty = true
	return nil
}

// GenerateCode returns the current code of an account.
func (h *Handle) GenerateCode(id string, now time.Time) (totp.Code, error) {
	if h.locked {
		return totp.Code{}, ErrLocked
	}
	i := h.sess.data.index(id)
	if i < 0 {
		return totp.Code{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	a := h.sess.data.Accounts[i]
	return totp.Generate(a.Secret, now, a.Params())
}

// ImportAccounts applies a batch of accounts all or nothing. Accounts
// without an id get a fresh one and a zero CreatedAt becomes now. In merge
// mode accounts whose id already exists are skipped. It returns how many
// accounts were added.
func (h *Handle) ImportAccounts(accounts []Account, mode ImportMode) (int, error) {
	if h.locked {
		return 0, ErrLocked
	}

	batch := make([]Account, len(accounts))
	seen := make(map[string]struct{}, len(accounts))
	for i, a := range accounts {
		a = a.clone()
		if a.ID == "" {
			a.ID = h.newID()
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = h.store.now().UTC()
		}
		if err := a.Validate(); err != nil {
			wipeAccounts(batch[:i])
			return 0, fmt.Errorf("%w: entry %d: %v", ErrImportValidationFailed, i+1, err)
		}
		if _, dup := seen[a.ID]; dup {
			wipeAccounts(batch[:i])
			return 0, fmt.Errorf("%w: entry %d: duplicate id %s", ErrImportValidationFailed, i+1, a.ID)
		}
		seen[a.ID] = struct{}{}
		batch[i] = a
	}

	switch mode {
	case ImportReplace:
		wipeAccounts(h.sess.data.Accounts)
		h.sess.data.Accounts = batch
		h.dirty = true
		return len(batch), nil
	default:
		added := 0
		for _, a := range batch {
			if h.sess.data.index(a.ID) >= 0 {
				wipe(a.Secret)
				continue
			}
			h.sess.data.Accounts = append(h.sess.data.Accounts, a)
			added++
		}
		if added > 0 {
			h.dirty = true
		}
		return added, nil
	}
}
