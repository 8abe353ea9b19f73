package backup

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/tobischo/gokeepasslib/v3"

	"github.com/fahmaliyi/clockode/logging"
	"github.com/fahmaliyi/clockode/totp"
	"github.com/fahmaliyi/clockode/vault"
)

// KeePass field names holding TOTP data. "otp" is the otpauth URI written
// by KeePassXC and Clockode's own KeePass store; the seed/settings pair is
// the older KeeOtp layout.
const (
	kdbxFieldOTP      = "otp"
	kdbxFieldSeed     = "TOTP Seed"
	kdbxFieldSettings = "TOTP Settings"
)

// ImportKDBX imports every entry of a KeePass database that carries TOTP
// data. Entries without TOTP fields are ignored; an entry whose TOTP data
// does not parse rejects the whole import.
func ImportKDBX(h *vault.Handle, path string, password []byte, mode vault.ImportMode) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, &vault.IOError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	db := gokeepasslib.NewDatabase()
	db.Credentials = gokeepasslib.NewPasswordCredentials(string(password))
	if err := gokeepasslib.NewDecoder(f).Decode(db); err != nil {
		logging.Component("backup").Debug("kdbx decode failed", "path", path, "err", err)
		return 0, fmt.Errorf("%w: keepass database %s", vault.ErrWrongPassword, path)
	}
	if err := db.UnlockProtectedEntries(); err != nil {
		return 0, fmt.Errorf("%w: unlock protected entries: %v", vault.ErrCorrupted, err)
	}

	accounts, err := kdbxAccounts(db)
	if err != nil {
		return 0, err
	}
	defer wipeAccounts(accounts)

	n, err := h.ImportAccounts(accounts, mode)
	if err != nil {
		return 0, err
	}
	logging.Component("backup").Info("keepass database imported", "path", path, "mode", mode, "found", len(accounts), "added", n)
	return n, nil
}

func kdbxAccounts(db *gokeepasslib.Database) ([]vault.Account, error) {
	var out []vault.Account
	if db.Content == nil || db.Content.Root == nil {
		return out, nil
	}
	var walk func(groups []gokeepasslib.Group) error
	walk = func(groups []gokeepasslib.Group) error {
		for gi := range groups {
			g := &groups[gi]
			for ei := range g.Entries {
				e := &g.Entries[ei]
				a, ok, err := kdbxAccount(e)
				if err != nil {
					return fmt.Errorf("%w: entry %q: %v", vault.ErrImportValidationFailed, e.GetTitle(), err)
				}
				if ok {
					out = append(out, a)
				}
			}
			if err := walk(g.Groups); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(db.Content.Root.Groups); err != nil {
		wipeAccounts(out)
		return nil, err
	}
	return out, nil
}

func kdbxAccount(e *gokeepasslib.Entry) (vault.Account, bool, error) {
	var a vault.Account
	var err error
	switch {
	case e.GetContent(kdbxFieldOTP) != "":
		a, err = parseURI(e.GetContent(kdbxFieldOTP))
	case e.GetContent(kdbxFieldSeed) != "":
		a, err = keeOtpAccount(e.GetContent(kdbxFieldSeed), e.GetContent(kdbxFieldSettings))
	default:
		return vault.Account{}, false, nil
	}
	if err != nil {
		return vault.Account{}, false, err
	}
	if a.Label == "" {
		a.Label = strings.TrimSpace(e.GetTitle())
	}
	if a.Label == "" {
		a.Label = DefaultLabel
	}
	return a, true, nil
}

// keeOtpAccount reads the "period;digits" settings string; missing parts
// take the defaults.
func keeOtpAccount(seed, settings string) (vault.Account, error) {
	secret, err := totp.DecodeSecret(seed)
	if err != nil {
		return vault.Account{}, err
	}
	a := vault.Account{Secret: secret, Digits: totp.DefaultDigits, Period: totp.DefaultPeriod}
	parts := strings.Split(settings, ";")
	if p := strings.TrimSpace(parts[0]); p != "" {
		v, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return vault.Account{}, fmt.Errorf("period %q", p)
		}
		a.Period = uint32(v)
	}
	if len(parts) > 1 {
		if d := strings.TrimSpace(parts[1]); d != "" {
			if a.Digits, err = strconv.Atoi(d); err != nil {
				return vault.Account{}, fmt.Errorf("digits %q", d)
			}
		}
	}
	return a, nil
}
