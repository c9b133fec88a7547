// Package credential stores per-user integration credentials encrypted
// at rest.
package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keyLen    = 32
	saltLen   = 16
	kdfRounds = 100_000
)

// Encrypt seals plaintext with AES-256-GCM under a key derived from the
// master secret and a fresh salt. Output layout: salt || nonce || sealed.
func Encrypt(masterSecret string, plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := aead(masterSecret, salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, 0, saltLen+len(nonce)+len(plaintext)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, nil), nil
}

// Decrypt opens a blob produced by Encrypt.
func Decrypt(masterSecret string, blob []byte) ([]byte, error) {
	if len(blob) < saltLen {
		return nil, fmt.Errorf("ciphertext too short")
	}
	salt, rest := blob[:saltLen], blob[saltLen:]

	gcm, err := aead(masterSecret, salt)
	if err != nil {
		return nil, err
	}
	if len(rest) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, sealed := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt credential: %w", err)
	}
	return plaintext, nil
}

func aead(masterSecret string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(masterSecret), salt, kdfRounds, keyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return gcm, nil
}
