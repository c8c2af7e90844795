// Package vault encrypts workspace passwords at rest.
//
// Blobs are stored as hex(iv):hex(tag):hex(ciphertext) using AES-256-GCM with
// a key derived from the configured secret through scrypt.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"
)

const (
	// DevelopmentSecret is only accepted when running in development mode.
	DevelopmentSecret = "rocket-shelduer-development-secret"

	ivSize  = 12
	tagSize = 16
	keySize = 32

	scryptN = 1 << 14
	scryptR = 8
	scryptP = 1

	separator = ":"
)

var keySalt = []byte("rocket-shelduer/credential-vault/v1")

var (
	ErrMissingSecret    = errors.New("credential secret is not configured")
	ErrDefaultSecret    = errors.New("credential secret must not be the development default")
	ErrDecryptionFailed = errors.New("decryption failed")
)

type Vault struct {
	aead cipher.AEAD
}

// New derives the vault key from secret. allowDefault permits the development
// secret and should only be true outside production.
func New(secret string, allowDefault bool) (*Vault, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if secret == DevelopmentSecret && !allowDefault {
		return nil, ErrDefaultSecret
	}

	key, err := scrypt.Key([]byte(secret), keySalt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("derive vault key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	aead, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return &Vault{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random IV.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	sealed := v.aead.Seal(nil, iv, []byte(plaintext), nil)
	ciphertext, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	return strings.Join([]string{
		hex.EncodeToString(iv),
		hex.EncodeToString(tag),
		hex.EncodeToString(ciphertext),
	}, separator), nil
}

// Decrypt opens a blob produced by Encrypt. Every failure is reported as
// ErrDecryptionFailed.
func (v *Vault) Decrypt(blob string) (string, error) {
	parts := strings.Split(blob, separator)
	if len(parts) != 3 {
		return "", ErrDecryptionFailed
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != ivSize {
		return "", ErrDecryptionFailed
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != tagSize {
		return "", ErrDecryptionFailed
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", ErrDecryptionFailed
	}

	sealed := make([]byte, 0, len(ciphertext)+tagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := v.aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}
