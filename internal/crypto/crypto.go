// Package crypto seals secrets stored at rest with XChaCha20-Poly1305.
package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const KeySize = chacha20poly1305.KeySize

type AEAD struct{ aead cipher.AEAD }

func New(key []byte) (*AEAD, error) {
	a, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("settings key: %w", err)
	}
	return &AEAD{aead: a}, nil
}

// GenerateKey returns a random key suitable for New.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// EncryptToString returns base64(nonce || ciphertext). label is bound as
// associated data and must be passed again to DecryptString.
func (a *AEAD) EncryptToString(plaintext, label string) (string, error) {
	nonce := make([]byte, a.aead.NonceSize(), a.aead.NonceSize()+len(plaintext)+a.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := a.aead.Seal(nonce, nonce, []byte(plaintext), []byte(label))
	return base64.RawStdEncoding.EncodeToString(sealed), nil
}

func (a *AEAD) DecryptString(encoded, label string) (string, error) {
	buf, err := base64.RawStdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode sealed value: %w", err)
	}
	ns := a.aead.NonceSize()
	if len(buf) < ns+a.aead.Overhead() {
		return "", fmt.Errorf("sealed value too short")
	}
	pt, err := a.aead.Open(nil, buf[:ns], buf[ns:], []byte(label))
	if err != nil {
		return "", fmt.Errorf("open sealed value: %w", err)
	}
	return string(pt), nil
}
