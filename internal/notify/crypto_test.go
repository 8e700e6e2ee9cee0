// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crim-ca/weaver-sub003/internal/store"
)

const testRounds = 1000

func TestEncryptDecryptRoundTrip(t *testing.T) {
	encoded, err := Encrypt("user@example.com", "secret", testRounds)
	require.NoError(t, err)
	assert.NotEqual(t, "user@example.com", encoded)

	plain, err := Decrypt(encoded, "secret")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", plain)
}

func TestEncryptProducesDistinctCiphertexts(t *testing.T) {
	first, err := Encrypt("user@example.com", "secret", testRounds)
	require.NoError(t, err)
	second, err := Encrypt("user@example.com", "secret", testRounds)
	require.NoError(t, err)

	// Random salt and nonce per call.
	assert.NotEqual(t, first, second)
}

func TestDecryptWrongSecret(t *testing.T) {
	encoded, err := Encrypt("user@example.com", "secret", testRounds)
	require.NoError(t, err)

	_, err = Decrypt(encoded, "other")
	assert.Error(t, err)
}

func TestDecryptBytes(t *testing.T) {
	encoded, err := Encrypt("payload bytes", "secret", testRounds)
	require.NoError(t, err)
	packed, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)

	plain, err := DecryptBytes(packed, "secret")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload bytes"), plain)
}

func TestDecryptBytesTruncated(t *testing.T) {
	_, err := DecryptBytes([]byte("short"), "secret")
	assert.Error(t, err)
}

func TestEncryptSubscribers(t *testing.T) {
	subs := &store.Subscribers{
		SuccessURI:   "https://example.com/hook",
		SuccessEmail: "ok@example.com",
		FailedEmail:  "fail@example.com",
	}
	require.NoError(t, EncryptSubscribers(subs, "secret", testRounds))

	// Callback URLs stay readable; emails do not.
	assert.Equal(t, "https://example.com/hook", subs.SuccessURI)
	assert.NotEqual(t, "ok@example.com", subs.SuccessEmail)
	assert.NotEqual(t, "fail@example.com", subs.FailedEmail)
	assert.Empty(t, subs.InProgressEmail)

	plain, err := Decrypt(subs.SuccessEmail, "secret")
	require.NoError(t, err)
	assert.Equal(t, "ok@example.com", plain)
}
