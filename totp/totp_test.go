package totp_test

import (
	"testing"
	"time"

	"github.com/fahmaliyi/clockode/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Seeds from RFC 6238 appendix B.
var rfcSeeds = map[totp.Algorithm][]byte{
	totp.SHA1:   []byte("12345678901234567890"),
	totp.SHA256: []byte("12345678901234567890123456789012"),
	totp.SHA512: []byte("1234567890123456789012345678901234567890123456789012345678901234"),
}

func TestGenerate_RFC6238Vectors(t *testing.T) {
	vectors := []struct {
		unix  int64
		alg   totp.Algorithm
		code8 string
	}{
		{59, totp.SHA1, "94287082"},
		{59, totp.SHA256, "46119246"},
		{59, totp.SHA512, "90693936"},
		{1111111109, totp.SHA1, "07081804"},
		{1111111109, totp.SHA256, "68084774"},
		{1111111109, totp.SHA512, "25091201"},
		{1111111111, totp.SHA1, "14050471"},
		{1111111111, totp.SHA256, "67062674"},
		{1111111111, totp.SHA512, "99943326"},
		{1234567890, totp.SHA1, "89005924"},
		{1234567890, totp.SHA256, "91819424"},
		{1234567890, totp.SHA512, "93441116"},
		{2000000000, totp.SHA1, "69279037"},
		{2000000000, totp.SHA256, "90698825"},
		{2000000000, totp.SHA512, "38618901"},
		{20000000000, totp.SHA1, "65353130"},
		{20000000000, totp.SHA256, "77737706"},
		{20000000000, totp.SHA512, "47863826"},
	}

	for _, v := range vectors {
		t.Run(v.alg.String()+"/"+time.Unix(v.unix, 0).UTC().Format(time.RFC3339), func(t *testing.T) {
			at := time.Unix(v.unix, 0)

			code, err := totp.Generate(rfcSeeds[v.alg], at, totp.Params{Digits: 8, Period: 30, Algorithm: v.alg})
			require.NoError(t, err)
			assert.Equal(t, v.code8, code.Value)

			code, err = totp.Generate(rfcSeeds[v.alg], at, totp.Params{Digits: 6, Period: 30, Algorithm: v.alg})
			require.NoError(t, err)
			assert.Equal(t, v.code8[2:], code.Value)
		})
	}
}

func TestGenerate_Remaining(t *testing.T) {
	secret := []byte("12345678901234567890")

	code, err := totp.Generate(secret, time.Unix(59, 0), totp.DefaultParams())
	require.NoError(t, err)
	assert.Equal(t, uint32(1), code.Remaining)

	code, err = totp.Generate(secret, time.Unix(60, 0), totp.DefaultParams())
	require.NoError(t, err)
	assert.Equal(t, uint32(30), code.Remaining)

	code, err = totp.Generate(secret, time.Unix(100, 0), totp.Params{Digits: 6, Period: 60})
	require.NoError(t, err)
	assert.Equal(t, uint32(20), code.Remaining)
}

func TestGenerate_Deterministic(t *testing.T) {
	secret := []byte("12345678901234567890")
	at := time.Unix(1700000000, 0)

	a, err := totp.Generate(secret, at, totp.DefaultParams())
	require.NoError(t, err)
	b, err := totp.Generate(secret, at.Add(5*time.Second), totp.DefaultParams())
	require.NoError(t, err)

	assert.Equal(t, a.Value, b.Value, "same window must give the same code")
	assert.Len(t, a.Value, 6)
}

func TestGenerate_InvalidInput(t *testing.T) {
	secret := []byte("12345678901234567890")
	now := time.Unix(1700000000, 0)

	_, err := totp.Generate(secret, now, totp.Params{Digits: 7, Period: 30})
	assert.ErrorIs(t, err, totp.ErrInvalidDigits)

	_, err = totp.Generate(secret, now, totp.Params{Digits: 6, Period: 0})
	assert.ErrorIs(t, err, totp.ErrInvalidPeriod)

	_, err = totp.Generate(secret, now, totp.Params{Digits: 6, Period: 30, Algorithm: totp.Algorithm(9)})
	assert.ErrorIs(t, err, totp.ErrInvalidAlgorithm)

	_, err = totp.Generate(nil, now, totp.DefaultParams())
	assert.ErrorIs(t, err, totp.ErrEmptySecret)

	_, err = totp.Generate(secret, time.Unix(-1, 0), totp.DefaultParams())
	assert.ErrorIs(t, err, totp.ErrInvalidTime)
}

func TestDecodeSecret(t *testing.T) {
	want := []byte("Hello!\xde\xad\xbe\xef")

	for _, in := range []string{
		"JBSWY3DPEHPK3PXP",
		"jbswy3dpehpk3pxp",
		"JBSW Y3DP EHPK 3PXP",
		"JBSW-Y3DP-EHPK-3PXP",
	} {
		got, err := totp.DecodeSecret(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	assert.Equal(t, "JBSWY3DPEHPK3PXP", totp.EncodeSecret(want))

	_, err := totp.DecodeSecret("   ")
	assert.ErrorIs(t, err, totp.ErrEmptySecret)

	_, err = totp.DecodeSecret("not base32!")
	assert.ErrorIs(t, err, totp.ErrInvalidSecret)
}

func TestAlgorithmText(t *testing.T) {
	for _, a := range totp.Algorithms() {
		text, err := a.MarshalText()
		require.NoError(t, err)

		var back totp.Algorithm
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, a, back)
	}

	alg, err := totp.ParseAlgorithm("sha-256")
	require.NoError(t, err)
	assert.Equal(t, totp.SHA256, alg)

	_, err = totp.ParseAlgorithm("MD5")
	assert.ErrorIs(t, err, totp.ErrInvalidAlgorithm)
}
