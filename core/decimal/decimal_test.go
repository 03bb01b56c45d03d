package decimal

import (
	"testing"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/require"
)

func TestParseAndString(t *testing.T) {
	cases := map[string]string{
		"100":                  "100",
		"0.25":                 "0.25",
		"12.000001":            "12.000001",
		"007.5000":             "7.5",
		".5":                   "0.5",
		"0":                    "0",
		"1.000000000000000001": "1.000000000000000001",
	}
	for in, want := range cases {
		d, err := Parse(in)
		require.NoError(t, err, in)
		require.Equal(t, want, d.String(), in)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "-1", "1.", "1.2.3", "abc", "1.0000000000000000001", "1e5"} {
		_, err := Parse(in)
		require.ErrorIs(t, err, ErrSyntax, in)
	}
}

func TestAddSubExact(t *testing.T) {
	a := MustParse("0.1")
	b := MustParse("0.2")
	sum, err := a.Add(b)
	require.NoError(t, err)
	require.True(t, sum.Equal(MustParse("0.3")))

	diff, err := sum.Sub(a)
	require.NoError(t, err)
	require.True(t, diff.Equal(b))

	_, err = a.Sub(b)
	require.ErrorIs(t, err, ErrUnderflow)
}

func TestAddOverflow(t *testing.T) {
	huge, err := Parse("100000000000000000000000000000000000000000000000000000000000")
	require.NoError(t, err)
	_, err = huge.Add(huge)
	require.ErrorIs(t, err, ErrOverflow)
}

func TestDivisibility(t *testing.T) {
	require.True(t, MustParse("5").RespectsDivisibility(0))
	require.False(t, MustParse("5.5").RespectsDivisibility(0))
	require.True(t, MustParse("5.55").RespectsDivisibility(2))
	require.False(t, MustParse("5.555").RespectsDivisibility(2))
	require.True(t, MustParse("0.000000000000000001").RespectsDivisibility(18))
}

func TestRLPAndText(t *testing.T) {
	d := MustParse("42.125")
	enc, err := rlp.EncodeToBytes(d)
	require.NoError(t, err)
	var back Decimal
	require.NoError(t, rlp.DecodeBytes(enc, &back))
	require.True(t, back.Equal(d))

	text, err := d.MarshalText()
	require.NoError(t, err)
	var fromText Decimal
	require.NoError(t, fromText.UnmarshalText(text))
	require.True(t, fromText.Equal(d))
}
