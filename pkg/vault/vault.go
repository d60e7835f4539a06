/*
Copyright 2025 Kunpeto.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package vault implements symmetric encryption for credentials at rest.
//
// One AES-256-GCM key is loaded from the environment at startup. Ciphertext
// is nonce-prefixed and base64url-encoded so it can live in text columns.
// There is no key rotation: changing the key invalidates every stored token,
// which surfaces as ErrInconsistent on the next decrypt.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

const keySize = 32

// DefaultDevKey is the key baked into development configurations. Production
// startup must reject it.
const DefaultDevKey = "dev-only-key-do-not-use-in-prod!"

var (
	// ErrMisconfigured reports an absent, short, or default key in a
	// production posture.
	ErrMisconfigured = errors.New("vault: encryption key misconfigured")
	// ErrInconsistent reports ciphertext that cannot be decrypted with the
	// configured key. Persisted credentials are unusable; admin-visible.
	ErrInconsistent = errors.New("vault: ciphertext inconsistent with key")
)

// Vault encrypts and decrypts small secrets with a single symmetric key.
type Vault struct {
	aead cipher.AEAD
}

// New builds a Vault from raw key material. The key may be the raw 32 bytes,
// or 32 bytes encoded as base64 or hex.
func New(key string) (*Vault, error) {
	raw, err := normalizeKey(key)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMisconfigured, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMisconfigured, err)
	}
	return &Vault{aead: aead}, nil
}

// NewProduction is New plus the production startup invariant: the key must
// not be empty and must not equal the bundled development default.
func NewProduction(key string) (*Vault, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: ENCRYPTION_KEY is not set", ErrMisconfigured)
	}
	if subtle.ConstantTimeCompare([]byte(key), []byte(DefaultDevKey)) == 1 {
		return nil, fmt.Errorf("%w: ENCRYPTION_KEY is the bundled default", ErrMisconfigured)
	}
	return New(key)
}

func normalizeKey(key string) ([]byte, error) {
	if len(key) == keySize {
		return []byte(key), nil
	}
	if raw, err := hex.DecodeString(key); err == nil && len(raw) == keySize {
		return raw, nil
	}
	if raw, err := base64.StdEncoding.DecodeString(key); err == nil && len(raw) == keySize {
		return raw, nil
	}
	if raw, err := base64.URLEncoding.DecodeString(key); err == nil && len(raw) == keySize {
		return raw, nil
	}
	return nil, fmt.Errorf("%w: key must be 32 bytes (raw, hex, or base64)", ErrMisconfigured)
}

// EncryptString encrypts plaintext and returns base64url ciphertext suitable
// for a text column.
func (v *Vault) EncryptString(plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault: nonce: %w", err)
	}
	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// DecryptString reverses EncryptString. Any tampering, truncation, or key
// mismatch yields ErrInconsistent.
func (v *Vault) DecryptString(ciphertext string) (string, error) {
	sealed, err := base64.URLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInconsistent, err)
	}
	ns := v.aead.NonceSize()
	if len(sealed) < ns {
		return "", fmt.Errorf("%w: ciphertext shorter than nonce", ErrInconsistent)
	}
	plain, err := v.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInconsistent, err)
	}
	return string(plain), nil
}
