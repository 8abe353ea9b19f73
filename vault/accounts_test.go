package vault

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fahmaliyi/clockode/totp"
)

func unlockedHandle(t *testing.T) *Handle {
	t.Helper()
	h, err := newTestStore(t).Create([]byte("pw"))
	require.NoError(t, err)
	t.Cleanup(h.Discard)
	return h
}

func ids(t *testing.T, h *Handle) []string {
	t.Helper()
	accounts, err := h.Accounts()
	require.NoError(t, err)
	out := make([]string, len(accounts))
	for i, a := range accounts {
		out[i] = a.ID
	}
	return out
}

func TestAddAccount(t *testing.T) {
	h := unlockedHandle(t)

	a, err := h.AddAccount(AccountFields{Label: "GitHub", Secret: []byte("s1")})
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, 6, a.Digits)
	assert.Equal(t, uint32(30), a.Period)
	assert.Equal(t, totp.SHA1, a.Algorithm)
	assert.True(t, h.Dirty())

	seen := map[string]bool{a.ID: true}
	for i := 0; i < 50; i++ {
		b, err := h.AddAccount(AccountFields{Label: "x", Secret: []byte("s")})
		require.NoError(t, err)
		require.False(t, seen[b.ID], "duplicate id %s", b.ID)
		seen[b.ID] = true
	}

	// returned copies do not alias vault memory
	a.Secret[0] = 'X'
	stored, err := h.Account(a.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("s1"), stored.Secret)
}

func TestAddAccount_Invalid(t *testing.T) {
	h := unlockedHandle(t)

	cases := map[string]AccountFields{
		"empty secret":  {Label: "a"},
		"empty label":   {Secret: []byte("s")},
		"seven digits":  {Label: "a", Secret: []byte("s"), Digits: 7},
		"bad algorithm": {Label: "a", Secret: []byte("s"), Algorithm: totp.Algorithm(5)},
	}
	for name, f := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.AddAccount(f)
			assert.ErrorIs(t, err, ErrInvalidAccount)
		})
	}
	assert.Empty(t, ids(t, h))
}

func TestUpdateAccount(t *testing.T) {
	h := unlockedHandle(t)
	a, err := h.AddAccount(AccountFields{Label: "old", Secret: []byte("seed")})
	require.NoError(t, err)

	label, issuer, digits, period, alg := "new", "ACME", 8, uint32(60), totp.SHA512
	require.NoError(t, h.UpdateAccount(a.ID, AccountUpdate{
		Label: &label, Issuer: &issuer, Digits: &digits, Period: &period, Algorithm: &alg,
	}))

	got, err := h.Account(a.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", got.Label)
	assert.Equal(t, "ACME", got.Issuer)
	assert.Equal(t, 8, got.Digits)
	assert.Equal(t, uint32(60), got.Period)
	assert.Equal(t, totp.SHA512, got.Algorithm)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, a.Secret, got.Secret)
	assert.Equal(t, a.CreatedAt, got.CreatedAt)

	// same secret is accepted, a different one is not
	require.NoError(t, h.UpdateAccount(a.ID, AccountUpdate{Secret: []byte("seed")}))
	err = h.UpdateAccount(a.ID, AccountUpdate{Secret: []byte("other")})
	assert.ErrorIs(t, err, ErrImmutableField)

	bad := 7
	err = h.UpdateAccount(a.ID, AccountUpdate{Label: &label, Digits: &bad})
	assert.ErrorIs(t, err, ErrInvalidAccount)
	got, err = h.Account(a.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, got.Digits, "rejected update leaves the account untouched")

	err = h.UpdateAccount("missing", AccountUpdate{Label: &label})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteAccount(t *testing.T) {
	h := unlockedHandle(t)
	a, err := h.AddAccount(AccountFields{Label: "a", Secret: []byte("1")})
	require.NoError(t, err)
	b, err := h.AddAccount(AccountFields{Label: "b", Secret: []byte("2")})
	require.NoError(t, err)
	c, err := h.AddAccount(AccountFields{Label: "c", Secret: []byte("3")})
	require.NoError(t, err)
	require.NoError(t, h.Save())

	err = h.DeleteAccount("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, []string{a.ID, b.ID, c.ID}, ids(t, h))
	assert.False(t, h.Dirty(), "failed delete must not mark the vault dirty")

	require.NoError(t, h.DeleteAccount(b.ID))
	assert.Equal(t, []string{a.ID, c.ID}, ids(t, h))
	assert.True(t, h.Dirty())

	got, err := h.Account(c.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), got.Secret)
}

func TestReorder(t *testing.T) {
	h := unlockedHandle(t)
	var all []string
	for _, l := range []string{"a", "b", "c"} {
		acc, err := h.AddAccount(AccountFields{Label: l, Secret: []byte(l)})
		require.NoError(t, err)
		all = append(all, acc.ID)
	}

	require.NoError(t, h.Reorder([]string{all[2], all[0], all[1]}))
	assert.Equal(t, []string{all[2], all[0], all[1]}, ids(t, h))

	for name, set := range map[string][]string{
		"missing":   {all[0], all[1]},
		"extra":     {all[0], all[1], all[2], "x"},
		"unknown":   {all[0], all[1], "x"},
		"duplicate": {all[0], all[0], all[1]},
	} {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, h.Reorder(set), ErrInvalidSet)
			assert.Equal(t, []string{all[2], all[0], all[1]}, ids(t, h))
		})
	}
}

func TestGenerateCode(t *testing.T) {
	h := unlockedHandle(t)
	a, err := h.AddAccount(AccountFields{Label: "rfc", Secret: []byte("12345678901234567890"), Digits: 8})
	require.NoError(t, err)

	code, err := h.GenerateCode(a.ID, time.Unix(59, 0))
	require.NoError(t, err)
	assert.Equal(t, "94287082", code.Value)
	assert.Equal(t, uint32(1), code.Remaining)

	_, err = h.GenerateCode("missing", time.Unix(59, 0))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestImportAccounts(t *testing.T) {
	h := unlockedHandle(t)
	existing, err := h.AddAccount(AccountFields{Label: "existing", Secret: []byte("e")})
	require.NoError(t, err)
	require.NoError(t, h.Save())

	t.Run("all or nothing", func(t *testing.T) {
		bad := sampleAccount("new-1", "ok", "")
		invalid := sampleAccount("new-2", "bad", "")
		invalid.Digits = 7

		n, err := h.ImportAccounts([]Account{bad, invalid}, ImportReplace)
		assert.ErrorIs(t, err, ErrImportValidationFailed)
		assert.Zero(t, n)
		assert.Equal(t, []string{existing.ID}, ids(t, h))
		assert.False(t, h.Dirty())
	})

	t.Run("duplicate ids in batch", func(t *testing.T) {
		_, err := h.ImportAccounts([]Account{sampleAccount("d", "a", ""), sampleAccount("d", "b", "")}, ImportMerge)
		assert.ErrorIs(t, err, ErrImportValidationFailed)
		assert.Equal(t, []string{existing.ID}, ids(t, h))
	})

	t.Run("merge skips known ids", func(t *testing.T) {
		dup := sampleAccount(existing.ID, "shadow", "")
		fresh := sampleAccount("", "fresh", "")
		fresh.CreatedAt = time.Time{}

		n, err := h.ImportAccounts([]Account{dup, fresh}, ImportMerge)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		accounts, err := h.Accounts()
		require.NoError(t, err)
		require.Len(t, accounts, 2)
		assert.Equal(t, "existing", accounts[0].Label)
		assert.Equal(t, "fresh", accounts[1].Label)
		assert.NotEmpty(t, accounts[1].ID)
		assert.Equal(t, fixedNow, accounts[1].CreatedAt)
	})

	t.Run("replace", func(t *testing.T) {
		n, err := h.ImportAccounts([]Account{sampleAccount("r", "only", "")}, ImportReplace)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, []string{"r"}, ids(t, h))
		assert.True(t, h.Dirty())
	})
}
