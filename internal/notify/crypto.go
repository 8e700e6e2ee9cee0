// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

// Package notify delivers subscriber notifications: encrypted-at-rest email
// targets and JSON callbacks. Notification failures are logged and never
// fail the owning job.
package notify

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize = 16
	keySize  = 32
)

// Encrypt protects a subscriber email with a KDF-derived symmetric key using
// a fresh per-record salt. The output packs salt || rounds || nonce+sealed
// payload, base64 encoded, so decryption needs only the configured secret.
func Encrypt(plaintext, secret string, rounds int) (string, error) {
	if plaintext == "" {
		return "", errors.New("cannot encrypt empty value")
	}
	if rounds < 1 {
		return "", fmt.Errorf("invalid KDF round count %d", rounds)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := aead(secret, salt, rounds)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)

	packed := make([]byte, 0, saltSize+4+len(sealed))
	packed = append(packed, salt...)
	packed = binary.BigEndian.AppendUint32(packed, uint32(rounds))
	packed = append(packed, sealed...)
	return base64.StdEncoding.EncodeToString(packed), nil
}

// Decrypt reverses Encrypt with the same secret. The rounds and salt are
// read from the record itself.
func Decrypt(encoded, secret string) (string, error) {
	packed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("malformed encrypted value: %w", err)
	}
	plaintext, err := DecryptBytes(packed, secret)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// DecryptBytes unseals an already base64-decoded packed payload. Vault file
// contents use this form directly.
func DecryptBytes(packed []byte, secret string) ([]byte, error) {
	if len(packed) < saltSize+4 {
		return nil, errors.New("encrypted value too short")
	}

	salt := packed[:saltSize]
	rounds := int(binary.BigEndian.Uint32(packed[saltSize : saltSize+4]))
	sealed := packed[saltSize+4:]

	gcm, err := aead(secret, salt, rounds)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, errors.New("encrypted value too short")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt value: %w", err)
	}
	return plaintext, nil
}

func aead(secret string, salt []byte, rounds int) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(secret), salt, rounds, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to derive cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
