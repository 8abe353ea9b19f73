package cli

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/awnumar/memguard"

	"github.com/fahmaliyi/clockode/backup"
	"github.com/fahmaliyi/clockode/totp"
	"github.com/fahmaliyi/clockode/vault"
)

// promptAccount asks for a new account field by field. An otpauth URI
// pasted at the secret prompt fills in everything it carries.
func promptAccount(p *prompter) (vault.AccountFields, error) {
	fmt.Fprint(p.out, "\n--- Add account ---\n")

	label, err := p.line("Label: ")
	if err != nil {
		return vault.AccountFields{}, err
	}
	issuer, err := p.line("Issuer (optional): ")
	if err != nil {
		return vault.AccountFields{}, err
	}

	raw, err := p.secret("Secret (base32 or otpauth URI): ")
	if err != nil {
		return vault.AccountFields{}, err
	}
	defer memguard.WipeBytes(raw)

	if isURI(raw) {
		return uriFields(raw, label, issuer)
	}

	secret, err := totp.DecodeSecret(string(raw))
	if err != nil {
		return vault.AccountFields{}, err
	}
	f := vault.AccountFields{Label: label, Issuer: issuer, Secret: secret}
	fail := func(err error) (vault.AccountFields, error) {
		memguard.WipeBytes(secret)
		return vault.AccountFields{}, err
	}

	digits, err := p.line(fmt.Sprintf("Digits [%d]: ", totp.DefaultDigits))
	if err != nil {
		return fail(err)
	}
	if f.Digits, err = parseDigits(digits); err != nil {
		return fail(err)
	}

	period, err := p.line(fmt.Sprintf("Period [%d]: ", totp.DefaultPeriod))
	if err != nil {
		return fail(err)
	}
	if f.Period, err = parsePeriod(period); err != nil {
		return fail(err)
	}

	alg, err := p.line("Algorithm [SHA1]: ")
	if err != nil {
		return fail(err)
	}
	if f.Algorithm, err = totp.ParseAlgorithm(alg); err != nil {
		return fail(err)
	}
	return f, nil
}

func isURI(raw []byte) bool {
	return bytes.HasPrefix(bytes.TrimSpace(raw), []byte("otpauth://"))
}

// uriFields parses an otpauth URI. Non-empty label and issuer override the
// ones it carries.
func uriFields(raw []byte, label, issuer string) (vault.AccountFields, error) {
	acc, err := backup.ParseURI(string(bytes.TrimSpace(raw)))
	if err != nil {
		return vault.AccountFields{}, err
	}
	f := vault.AccountFields{
		Label: acc.Label, Issuer: acc.Issuer, Secret: acc.Secret,
		Digits: acc.Digits, Period: acc.Period, Algorithm: acc.Algorithm,
	}
	if label != "" {
		f.Label = label
	}
	if issuer != "" {
		f.Issuer = issuer
	}
	return f, nil
}

// Empty answers leave the value zero so the vault applies its default.
func parseDigits(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("digits: %w", err)
	}
	return n, nil
}

func parsePeriod(s string) (uint32, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("period: %w", err)
	}
	return uint32(v), nil
}
