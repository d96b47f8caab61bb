// Package qrcrypto encrypts the short tokens embedded in QR codes.
//
// The cipher is deterministic on purpose: a static event or meal code must
// render to the same image every time it is displayed.
package qrcrypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/hkdf"
)

const (
	keyLen = 32
	info   = "cc42-qr-token"
)

// Cipher is safe for concurrent use.
type Cipher struct {
	block cipher.Block
	iv    []byte
}

// New derives the AES-256 key and the fixed IV from the pre-shared secret.
func New(secret []byte) (*Cipher, error) {
	if len(secret) == 0 {
		return nil, errors.New("qrcrypto: empty secret")
	}
	r := hkdf.New(sha256.New, secret, nil, []byte(info))
	material := make([]byte, keyLen+aes.BlockSize)
	if _, err := io.ReadFull(r, material); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(material[:keyLen])
	if err != nil {
		return nil, err
	}
	return &Cipher{block: block, iv: material[keyLen:]}, nil
}

// Encrypt returns base64(AES-CBC(pkcs7(plaintext))). ok is false for non UTF-8 input.
func (c *Cipher) Encrypt(plaintext string) (string, bool) {
	if !utf8.ValidString(plaintext) {
		return "", false
	}
	src := pad([]byte(plaintext))
	dst := make([]byte, len(src))
	cipher.NewCBCEncrypter(c.block, c.iv).CryptBlocks(dst, src)
	return base64.StdEncoding.EncodeToString(dst), true
}

// Decrypt reverses Encrypt. Every failure (encoding, length, padding, UTF-8) reports ok=false.
func (c *Cipher) Decrypt(ciphertext string) (string, bool) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(ciphertext))
	if err != nil || len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return "", false
	}
	dst := make([]byte, len(raw))
	cipher.NewCBCDecrypter(c.block, c.iv).CryptBlocks(dst, raw)
	plain, ok := unpad(dst)
	if !ok || !utf8.Valid(plain) {
		return "", false
	}
	return string(plain), true
}

func pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte) ([]byte, bool) {
	if len(b) == 0 {
		return nil, false
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, false
	}
	for _, v := range b[len(b)-n:] {
		if int(v) != n {
			return nil, false
		}
	}
	return b[:len(b)-n], true
}
