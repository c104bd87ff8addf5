package store

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
)

// Crypt encrypts/decrypts secrets (provider credentials, library passwords)
// before they ever reach the object database. The
// key is process-wide and supplied by config at startup (derived from a
// passphrase or OS keychain secret — out of scope here).
type Crypt struct {
	aead  interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
		NonceSize() int
	}
}

// NewCrypt builds a Crypt from a 32-byte key.
func NewCrypt(key [32]byte) (*Crypt, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, errors.Wrap(err, "store: init cipher")
	}
	return &Crypt{aead: aead}, nil
}

// NewCryptFromKeyMaterial derives a 32-byte AEAD key from arbitrary-length
// key material (the raw bytes of config.Config.EncryptionKey()) via
// SHA-256, so callers never have to pad/truncate an env-var secret
// themselves.
func NewCryptFromKeyMaterial(material []byte) (*Crypt, error) {
	key := sha256.Sum256(material)
	return NewCrypt(key)
}

// Encrypt returns a base64 string safe to store as a buntdb value.
func (c *Crypt) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.Wrap(err, "store: nonce")
	}
	ct := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ct), nil
}

// Decrypt reverses Encrypt.
func (c *Crypt) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", errors.Wrap(err, "store: base64 decode")
	}
	n := c.aead.NonceSize()
	if len(raw) < n {
		return "", errors.New("store: ciphertext too short")
	}
	pt, err := c.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return "", errors.Wrap(err, "store: decrypt")
	}
	return string(pt), nil
}
