package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	keySize           = 32
	separator         = ":"
	defaultTokenBytes = 32
)

// ErrCrypto is returned when ciphertext is malformed or was sealed under a
// different key.
var ErrCrypto = errors.New("crypto error")

// Codec seals short secrets (emails, token payloads, TOTP secrets) under a
// process-wide AES-256 key.
//
// Codec is safe for concurrent use.
type Codec struct {
	aead cipher.AEAD
}

// New builds a Codec from a 64-character hex key.
func New(keyHex string) (*Codec, error) {
	key, err := hex.DecodeString(strings.TrimSpace(keyHex))
	if err != nil {
		return nil, errors.New("encryption key must be hex encoded")
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", keySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return &Codec{aead: aead}, nil
}

// Encrypt seals plaintext with a fresh nonce and returns
// hex(nonce) + ":" + hex(ciphertext).
func (c *Codec) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(nonce) + separator + hex.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Only the first separator is significant.
func (c *Codec) Decrypt(ciphertext string) (string, error) {
	noncePart, sealedPart, ok := strings.Cut(ciphertext, separator)
	if !ok {
		return "", ErrCrypto
	}

	nonce, err := hex.DecodeString(noncePart)
	if err != nil || len(nonce) != c.aead.NonceSize() {
		return "", ErrCrypto
	}
	sealed, err := hex.DecodeString(sealedPart)
	if err != nil || len(sealed) < c.aead.Overhead() {
		return "", ErrCrypto
	}

	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrCrypto
	}
	return string(plain), nil
}

// Hash returns the lowercase hex SHA-256 digest of input. It is unsalted so
// equal inputs always map to the same stored value.
func Hash(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// RandomToken returns n random bytes hex encoded. n <= 0 selects 32.
func RandomToken(n int) (string, error) {
	if n <= 0 {
		n = defaultTokenBytes
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// GenerateKey returns a fresh hex key suitable for New.
func GenerateKey() (string, error) {
	return RandomToken(keySize)
}
