package backup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tobischo/gokeepasslib/v3"
	w "github.com/tobischo/gokeepasslib/v3/wrappers"

	"github.com/fahmaliyi/clockode/totp"
	"github.com/fahmaliyi/clockode/vault"
)

const kdbxPassword = "keepass-pw"

func kdbxEntry(values map[string]string) gokeepasslib.Entry {
	e := gokeepasslib.NewEntry()
	for k, v := range values {
		e.Values = append(e.Values, gokeepasslib.ValueData{
			Key:   k,
			Value: gokeepasslib.V{Content: v, Protected: w.NewBoolWrapper(k == kdbxFieldOTP)},
		})
	}
	return e
}

func writeKDBX(t *testing.T, entries []gokeepasslib.Entry, nested []gokeepasslib.Entry) string {
	t.Helper()
	db := gokeepasslib.NewDatabase()
	db.Credentials = gokeepasslib.NewPasswordCredentials(kdbxPassword)
	db.Content = gokeepasslib.NewContent()

	sub := gokeepasslib.NewGroup()
	sub.Name = "2FA"
	sub.Entries = nested

	root := gokeepasslib.NewGroup()
	root.Name = "Root"
	root.Entries = entries
	root.Groups = []gokeepasslib.Group{sub}
	db.Content.Root = &gokeepasslib.RootData{Groups: []gokeepasslib.Group{root}}

	require.NoError(t, db.LockProtectedEntries())

	path := filepath.Join(t.TempDir(), "db.kdbx")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, gokeepasslib.NewEncoder(f).Encode(db))
	return path
}

func TestImportKDBX(t *testing.T) {
	path := writeKDBX(t,
		[]gokeepasslib.Entry{
			kdbxEntry(map[string]string{
				"Title":      "GitHub",
				kdbxFieldOTP: "otpauth://totp/GitHub:alice?secret=JBSWY3DPEHPK3PXP&issuer=GitHub",
			}),
			kdbxEntry(map[string]string{"Title": "Plain login", "Password": "hunter2"}),
		},
		[]gokeepasslib.Entry{
			kdbxEntry(map[string]string{
				"Title":      "Mail",
				kdbxFieldOTP: "otpauth://totp/?secret=GEZDGNBVGY3TQOJQ&digits=8",
			}),
			kdbxEntry(map[string]string{
				"Title":           "Legacy",
				kdbxFieldSeed:     "JBSWY3DPEHPK3PXP",
				kdbxFieldSettings: "60;8",
			}),
		},
	)

	h := newHandle(t)
	n, err := ImportKDBX(h, path, []byte(kdbxPassword), vault.ImportMerge)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got := accounts(t, h)
	require.Len(t, got, 3)

	assert.Equal(t, "alice", got[0].Label)
	assert.Equal(t, "GitHub", got[0].Issuer)
	assert.Equal(t, []byte("Hello!\xde\xad\xbe\xef"), got[0].Secret)

	assert.Equal(t, "Mail", got[1].Label, "entry title is the fallback label")
	assert.Equal(t, 8, got[1].Digits)

	assert.Equal(t, "Legacy", got[2].Label)
	assert.Equal(t, totp.Params{Digits: 8, Period: 60, Algorithm: totp.SHA1}, got[2].Params())
}

func TestImportKDBX_WrongPassword(t *testing.T) {
	path := writeKDBX(t, nil, nil)
	_, err := ImportKDBX(newHandle(t), path, []byte("nope"), vault.ImportMerge)
	assert.ErrorIs(t, err, vault.ErrWrongPassword)
}

func TestImportKDBX_BadEntryRejectsAll(t *testing.T) {
	path := writeKDBX(t,
		[]gokeepasslib.Entry{
			kdbxEntry(map[string]string{"Title": "ok", kdbxFieldOTP: "otpauth://totp/ok?secret=JBSWY3DPEHPK3PXP"}),
		},
		[]gokeepasslib.Entry{
			kdbxEntry(map[string]string{"Title": "broken", kdbxFieldOTP: "otpauth://totp/b?secret=JBSWY3DPEHPK3PXP&digits=7"}),
		},
	)

	h := newHandle(t)
	_, err := ImportKDBX(h, path, []byte(kdbxPassword), vault.ImportMerge)
	assert.ErrorIs(t, err, vault.ErrImportValidationFailed)
	assert.Empty(t, accounts(t, h))

	_, err = ImportKDBX(h, filepath.Join(t.TempDir(), "missing.kdbx"), []byte(kdbxPassword), vault.ImportMerge)
	assert.ErrorIs(t, err, vault.ErrIO)
}
