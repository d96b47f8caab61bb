package crypto

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// cheap keeps the suite fast; production uses DefaultParams.
var cheap = Params{Time: 1, Memory: 8 * 1024, Threads: 1, SaltLen: 16, KeyLen: 32}

func TestRandBytes_LengthAndUniqueness(t *testing.T) {
	t.Parallel()

	a, err := RandBytes(64)
	require.NoError(t, err)
	require.Len(t, a, 64)
	b, err := RandBytes(64)
	require.NoError(t, err)
	require.False(t, bytes.Equal(a, b))
}

func TestHashPassword_EncodedAndSalted(t *testing.T) {
	t.Parallel()

	h1, err := HashPassword("p@ssw0rd", cheap)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(h1, "$argon2id$v=19$m=8192,t=1,p=1$"))

	h2, err := HashPassword("p@ssw0rd", cheap)
	require.NoError(t, err)
	require.NotEqual(t, h1, h2, "fresh salt per hash")
}

func TestVerifyPassword(t *testing.T) {
	t.Parallel()

	hash, err := HashPassword("correct horse battery staple", cheap)
	require.NoError(t, err)

	ok, err := VerifyPassword("correct horse battery staple", hash)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = VerifyPassword("wrong", hash)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = VerifyPassword("", hash)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyPassword_Malformed(t *testing.T) {
	t.Parallel()

	for _, h := range []string{
		"",
		"plain",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=x,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=8192,t=1,p=1$!!$a2V5",
		"$argon2id$v=19$m=8192,t=1,p=1$c2FsdA$",
	} {
		_, err := VerifyPassword("pw", h)
		require.ErrorIs(t, err, ErrMalformedHash, h)
	}
}
