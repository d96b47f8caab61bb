package qrcrypto

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustCipher(t *testing.T, secret string) *Cipher {
	t.Helper()
	c, err := New([]byte(secret))
	require.NoError(t, err)
	return c
}

func TestNew_EmptySecret(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	t.Parallel()
	c := mustCipher(t, "pre-shared")

	for _, p := range []string{
		"",
		"a",
		"cc42event42#7",
		"cc42user1234#jdoe#Jane Doe#21#1#https://cdn.intra.42.fr/users/jdoe.jpg",
		"exactly sixteen!",
		"ünïcødé 🍽️",
	} {
		ct, ok := c.Encrypt(p)
		require.True(t, ok, p)
		got, ok := c.Decrypt(ct)
		require.True(t, ok, p)
		require.Equal(t, p, got)
	}
}

func TestEncrypt_Deterministic(t *testing.T) {
	t.Parallel()
	c := mustCipher(t, "pre-shared")

	a, _ := c.Encrypt("cc42meal9#3")
	b, _ := c.Encrypt("cc42meal9#3")
	require.Equal(t, a, b)

	other := mustCipher(t, "pre-shared")
	d, _ := other.Encrypt("cc42meal9#3")
	require.Equal(t, a, d, "same secret must give same code on another device")
}

func TestEncrypt_InvalidUTF8(t *testing.T) {
	c := mustCipher(t, "k")
	_, ok := c.Encrypt(string([]byte{0xff, 0xfe}))
	require.False(t, ok)
}

func TestDecrypt_GarbageNeverPanics(t *testing.T) {
	t.Parallel()
	c := mustCipher(t, "pre-shared")

	for _, in := range []string{
		"",
		"garbage",
		"cc42event42#7",
		"!!!!",
		base64.StdEncoding.EncodeToString([]byte("short")),
		base64.StdEncoding.EncodeToString(make([]byte, 33)),
	} {
		got, ok := c.Decrypt(in)
		require.False(t, ok, in)
		require.Empty(t, got)
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	ct, ok := mustCipher(t, "one").Encrypt("cc42event42#7")
	require.True(t, ok)

	got, ok := mustCipher(t, "two").Decrypt(ct)
	if ok {
		require.NotEqual(t, "cc42event42#7", got)
	}
}

func TestUnpad(t *testing.T) {
	_, ok := unpad([]byte{1, 2, 3, 0})
	require.False(t, ok)
	_, ok = unpad([]byte{1, 2, 2, 3})
	require.False(t, ok)
	out, ok := unpad([]byte{'a', 'b', 2, 2})
	require.True(t, ok)
	require.Equal(t, []byte("ab"), out)
}
