package backup

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/pquerna/otp"
	gotp "github.com/pquerna/otp/totp"

	"github.com/fahmaliyi/clockode/totp"
	"github.com/fahmaliyi/clockode/vault"
)

var ErrInvalidURI = errors.New("backup: invalid otpauth uri")

// DefaultLabel names accounts whose URI carries no account name.
const DefaultLabel = "Default"

// ParseURI reads an otpauth://totp/ URI as exported by most authenticator
// apps. The label may be "Issuer:Account"; an issuer query parameter takes
// precedence over the label prefix. The returned account has no id.
func ParseURI(raw string) (vault.Account, error) {
	a, err := parseURI(raw)
	if err != nil {
		return vault.Account{}, err
	}
	if a.Label == "" {
		a.Label = DefaultLabel
	}
	return a, nil
}

func parseURI(raw string) (vault.Account, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return vault.Account{}, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}
	if !strings.EqualFold(u.Scheme, "otpauth") {
		return vault.Account{}, fmt.Errorf("%w: scheme %q", ErrInvalidURI, u.Scheme)
	}
	key, err := otp.NewKeyFromURL(raw)
	if err != nil {
		return vault.Account{}, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}
	if !strings.EqualFold(key.Type(), "totp") {
		return vault.Account{}, fmt.Errorf("%w: type %q is not supported", ErrInvalidURI, key.Type())
	}

	a := vault.Account{
		Issuer: strings.TrimSpace(key.Issuer()),
		Label:  strings.TrimSpace(accountName(key, u.Path)),
	}

	// otp.Key falls back to defaults on malformed digits, period and
	// algorithm, so the raw parameters are checked here first.
	q := u.Query()
	a.Digits = key.Digits().Length()
	if v := q.Get("digits"); v != "" {
		if a.Digits, err = strconv.Atoi(v); err != nil {
			return vault.Account{}, fmt.Errorf("%w: digits %q", ErrInvalidURI, v)
		}
	}
	if v := q.Get("period"); v != "" {
		if _, err := strconv.ParseUint(v, 10, 32); err != nil {
			return vault.Account{}, fmt.Errorf("%w: period %q", ErrInvalidURI, v)
		}
	}
	a.Period = uint32(key.Period())
	if a.Algorithm, err = totp.ParseAlgorithm(q.Get("algorithm")); err != nil {
		return vault.Account{}, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}
	if a.Secret, err = totp.DecodeSecret(key.Secret()); err != nil {
		return vault.Account{}, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}
	return a, nil
}

// accountName strips the issuer prefix from the label. An issuer that
// itself holds ':' is matched whole before falling back to the first ':'.
func accountName(key *otp.Key, path string) string {
	label := strings.TrimPrefix(path, "/")
	if issuer := key.Issuer(); issuer != "" {
		if name, ok := strings.CutPrefix(label, issuer+":"); ok {
			return name
		}
	}
	return key.AccountName()
}

var otpAlgorithms = map[totp.Algorithm]otp.Algorithm{
	totp.SHA1:   otp.AlgorithmSHA1,
	totp.SHA256: otp.AlgorithmSHA256,
	totp.SHA512: otp.AlgorithmSHA512,
}

// FormatURI renders an account as an otpauth URI. The result holds the
// secret in plain base32.
func FormatURI(a vault.Account) string {
	if a.Issuer != "" && a.Label != "" {
		key, err := gotp.Generate(gotp.GenerateOpts{
			Issuer:      a.Issuer,
			AccountName: a.Label,
			Period:      uint(a.Period),
			Secret:      a.Secret,
			Digits:      otp.Digits(a.Digits),
			Algorithm:   otpAlgorithms[a.Algorithm],
		})
		if err == nil {
			return key.URL()
		}
	}

	// Without an issuer a ':' in the label would read back as one, so such
	// labels get an empty issuer prefix.
	label := a.Label
	if a.Issuer != "" || strings.Contains(label, ":") {
		label = a.Issuer + ":" + label
	}
	q := url.Values{}
	q.Set("secret", totp.EncodeSecret(a.Secret))
	if a.Issuer != "" {
		q.Set("issuer", a.Issuer)
	}
	q.Set("algorithm", a.Algorithm.String())
	q.Set("digits", strconv.Itoa(a.Digits))
	q.Set("period", strconv.FormatUint(uint64(a.Period), 10))

	u := url.URL{Scheme: "otpauth", Host: "totp", Path: "/" + label, RawQuery: q.Encode()}
	return u.String()
}

func parseURIList(data []byte) ([]vault.Account, error) {
	var out []vault.Account
	for n, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		a, err := ParseURI(line)
		if err != nil {
			wipeAccounts(out)
			return nil, fmt.Errorf("%w: line %d: %v", vault.ErrImportValidationFailed, n+1, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func formatURIList(accounts []vault.Account) []byte {
	var b strings.Builder
	b.WriteString("# clockode export, one otpauth URI per line\n")
	for _, a := range accounts {
		b.WriteString(FormatURI(a))
		b.WriteByte('\n')
	}
	return []byte(b.String())
}
