package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "keyregistry/pkg/domain-errors"
)

// TestParseIdentityID_Invariants validates the parsing invariant:
// "identities are non-zero unsigned integers".
func TestParseIdentityID_Invariants(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    IdentityID
		wantErr bool
	}{
		{"empty string", "", 0, true},
		{"whitespace only", "   ", 0, true},
		{"zero", "0", 0, true},
		{"negative", "-1", 0, true},
		{"overflow", "18446744073709551616", 0, true},
		{"hex is not accepted", "0x10", 0, true},
		{"SQL injection attempt", "1; DROP TABLE keys;--", 0, true},
		{"oversized input", strings.Repeat("9", 1000), 0, true},
		{"valid", "42", 42, false},
		{"valid with padding", " 7 ", 7, false},
		{"max uint64", "18446744073709551615", IdentityID(^uint64(0)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseIdentityID(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAddress(t *testing.T) {
	t.Run("accepts prefixed and bare hex", func(t *testing.T) {
		a, err := ParseAddress("0x00000000000000000000000000000000000000aa")
		require.NoError(t, err)
		b, err := ParseAddress("00000000000000000000000000000000000000AA")
		require.NoError(t, err)
		assert.Equal(t, a, b)
		assert.Equal(t, "0x00000000000000000000000000000000000000aa", a.String())
	})

	t.Run("rejects wrong length and non hex", func(t *testing.T) {
		for _, in := range []string{"", "0x1234", "0xzz00000000000000000000000000000000000000", strings.Repeat("ab", 21)} {
			_, err := ParseAddress(in)
			require.Error(t, err, in)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
		}
	})

	t.Run("round trips through JSON", func(t *testing.T) {
		a := MustParseAddress("0x1111111111111111111111111111111111111111")
		raw, err := json.Marshal(struct {
			Owner Address `json:"owner"`
		}{a})
		require.NoError(t, err)
		assert.JSONEq(t, `{"owner":"0x1111111111111111111111111111111111111111"}`, string(raw))

		var decoded struct {
			Owner Address `json:"owner"`
		}
		require.NoError(t, json.Unmarshal(raw, &decoded))
		assert.Equal(t, a, decoded.Owner)
	})
}

func TestHashKey(t *testing.T) {
	// Keccak-256 of the empty string.
	assert.Equal(t,
		"0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470",
		HashKey(nil).String())

	a := HashKey([]byte{1, 2, 3})
	b := HashKey([]byte{1, 2, 3})
	c := HashKey([]byte{1, 2, 4})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	parsed, err := ParseKeyHash(a.String())
	require.NoError(t, err)
	assert.Equal(t, a, parsed)
}

func TestHexBytes(t *testing.T) {
	b, err := ParseHexBytes("0xdeadbeef")
	require.NoError(t, err)
	assert.Equal(t, HexBytes{0xde, 0xad, 0xbe, 0xef}, b)
	assert.Equal(t, "0xdeadbeef", b.String())

	_, err = ParseHexBytes("0xabc")
	require.Error(t, err)
}
