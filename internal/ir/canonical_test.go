package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_SortsKeysByUTF16(t *testing.T) {
	// U+1F600 encodes as a surrogate pair (0xD83D...) which sorts before
	// U+FF5E in UTF-16 but after it in UTF-8.
	obj := map[string]any{
		"\uFF5E":     int64(1),
		"\U0001F600": int64(2),
		"a":          int64(3),
	}

	out, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":3,\"\U0001F600\":2,\"\uFF5E\":1}", string(out))
}

func TestMarshalCanonical_NoHTMLEscape(t *testing.T) {
	out, err := MarshalCanonical("<a&b>")
	require.NoError(t, err)
	assert.Equal(t, `"<a&b>"`, string(out))
}

func TestMarshalCanonical_LineSeparatorsLiteral(t *testing.T) {
	out, err := MarshalCanonical("x\u2028y\u2029z")
	require.NoError(t, err)
	assert.Equal(t, "\"x\u2028y\u2029z\"", string(out))
}

func TestMarshalCanonical_EscapesControls(t *testing.T) {
	out, err := MarshalCanonical("a\"b\\c\n\x01")
	require.NoError(t, err)
	assert.Equal(t, `"a\"b\\c\n\u0001"`, string(out))
}

func TestMarshalCanonical_NFCNormalizes(t *testing.T) {
	decomposed := "e\u0301"
	composed := "\u00e9"

	a, err := MarshalCanonical(decomposed)
	require.NoError(t, err)
	b, err := MarshalCanonical(composed)
	require.NoError(t, err)
	assert.Equal(t, b, a)
}

func TestMarshalCanonical_BinaryAsHex(t *testing.T) {
	addr := Address{0xab}
	out, err := MarshalCanonical(map[string]any{
		"addr": addr,
		"raw":  []byte{0x01, 0xff},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"addr":"ab00000000000000000000000000000000000000000000000000000000000000","raw":"01ff"}`, string(out))
}

func TestMarshalCanonical_Integers(t *testing.T) {
	out, err := MarshalCanonical([]any{int64(-5), uint64(18446744073709551615), 7, true})
	require.NoError(t, err)
	assert.Equal(t, `[-5,18446744073709551615,7,true]`, string(out))
}

func TestMarshalCanonical_RejectsFloatsAndNull(t *testing.T) {
	_, err := MarshalCanonical(map[string]any{"f": 1.5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats are forbidden")

	_, err = MarshalCanonical([]any{nil})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "null is forbidden")
}

func TestMarshalCanonical_UnsupportedType(t *testing.T) {
	_, err := MarshalCanonical(struct{}{})
	require.Error(t, err)
}
