// SPDX-FileCopyrightText: Copyright (C) 2026  The Megalite Authors.
// SPDX-License-Identifier: AGPL-3.0-only

package keys

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDerivePasswordKeyV2(t *testing.T) {
	require := require.New(t)

	salt := []byte("0123456789abcdef")

	key1, hash1 := DerivePasswordKeyV2([]byte("correct horse"), salt)
	require.Len(key1, KeySize)
	require.Len(hash1, KeySize)

	key2, hash2 := DerivePasswordKeyV2([]byte("correct horse"), salt)
	require.Equal(key1, key2)
	require.Equal(hash1, hash2)

	key3, _ := DerivePasswordKeyV2([]byte("battery staple"), salt)
	require.NotEqual(key1, key3)

	key4, _ := DerivePasswordKeyV2([]byte("correct horse"), []byte("different salt!!"))
	require.NotEqual(key1, key4)
}

func TestDerivePasswordKeyV1(t *testing.T) {
	require := require.New(t)

	key1, err := DerivePasswordKeyV1([]byte("hunter2"))
	require.NoError(err)
	require.Len(key1, KeySize)

	key2, err := DerivePasswordKeyV1([]byte("hunter2"))
	require.NoError(err)
	require.Equal(key1, key2)

	key3, err := DerivePasswordKeyV1([]byte("hunter3"))
	require.NoError(err)
	require.NotEqual(key1, key3)

	// Passwords longer than one block fold every chunk in.
	key4, err := DerivePasswordKeyV1([]byte("a password that is much longer than sixteen bytes"))
	require.NoError(err)
	require.Len(key4, KeySize)
	require.NotEqual(key1, key4)
}

func TestStringHashV1(t *testing.T) {
	require := require.New(t)

	key, err := DerivePasswordKeyV1([]byte("hunter2"))
	require.NoError(err)

	h1, err := StringHashV1("User@Example.com", key)
	require.NoError(err)
	require.NotEmpty(h1)

	// Case insensitive on the email.
	h2, err := StringHashV1("user@example.COM", key)
	require.NoError(err)
	require.Equal(h1, h2)

	h3, err := StringHashV1("other@example.com", key)
	require.NoError(err)
	require.NotEqual(h1, h3)

	_, err = StringHashV1("user@example.com", []byte("bad"))
	require.ErrorIs(err, ErrInvalidKey)
}
