// SPDX-FileCopyrightText: Copyright (C) 2026  The Megalite Authors.
// SPDX-License-Identifier: AGPL-3.0-only

package transport

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/megalite/megalite/core/utils"
	"github.com/megalite/megalite/crypto/keys"
	"github.com/megalite/megalite/protocol/commands"
)

// buildUserAttributes assembles a ug result whose key store decrypts with
// the given sek to the given share keys.
func buildUserAttributes(t *testing.T, sek []byte, shareKeys map[string][]byte) *commands.UserAttributes {
	type entry struct {
		Handle string `json:"h"`
		Key    string `json:"k"`
	}
	var list []entry
	for h, k := range shareKeys {
		list = append(list, entry{Handle: h, Key: keys.EncodeB64(k)})
	}
	payload, err := json.Marshal(list)
	require.NoError(t, err)

	padded := make([]byte, ((len(payload)+15)/16)*16)
	copy(padded, payload)
	require.NoError(t, keys.EncryptECB(sek, padded))

	return &commands.UserAttributes{
		Handle: "userhandle",
		Email:  "user@example.net",
		Keys:   keys.EncodeB64(padded),
	}
}

func TestDecryptionContextNoAttributes(t *testing.T) {
	require := require.New(t)

	sess := newTestSession(t)
	defer sess.Wipe()

	k1 := testSessionKey(0x30)
	sess.CacheShareKey("hA", k1)

	cx, err := sess.DecryptionContext(nil, nil)
	require.NoError(err)
	defer cx.Destroy()

	require.Equal("userhandle", cx.UserHandle())
	require.Equal(testSessionKey(1), cx.MasterKey())
	require.Nil(cx.NodeKey())

	got := cx.ShareKeys()
	require.Len(got, 1)
	require.Equal(k1, got["hA"])
}

func TestDecryptionContextMergesAttributeKeys(t *testing.T) {
	require := require.New(t)

	sess := newTestSession(t)
	defer sess.Wipe()

	k1 := testSessionKey(0x30)
	k2 := testSessionKey(0x40)
	sess.CacheShareKey("hA", k1)

	attrs := buildUserAttributes(t, testSessionKey(2), map[string][]byte{"hB": k2})

	cx, err := sess.DecryptionContext(attrs, nil)
	require.NoError(err)
	defer cx.Destroy()

	got := cx.ShareKeys()
	require.Len(got, 2)
	require.Equal(k1, got["hA"])
	require.Equal(k2, got["hB"])
}

func TestDecryptionContextBadKeyStore(t *testing.T) {
	require := require.New(t)

	sess := newTestSession(t)
	defer sess.Wipe()

	attrs := &commands.UserAttributes{Keys: "!!! not base64 !!!"}
	_, err := sess.DecryptionContext(attrs, nil)
	require.ErrorIs(err, keys.ErrBadKeyStore)
}

func TestDecryptionContextNodeKey(t *testing.T) {
	require := require.New(t)

	sess := newTestSession(t)
	defer sess.Wipe()

	material := testSessionKey(0x50)
	cx, err := sess.DecryptionContext(nil, []byte(keys.EncodeB64(material)))
	require.NoError(err)
	defer cx.Destroy()

	require.NotNil(cx.NodeKey())
	require.Equal(material, cx.NodeKey().AESKey())
}

func TestDecryptionContextBadNodeKey(t *testing.T) {
	require := require.New(t)

	sess := newTestSession(t)
	defer sess.Wipe()

	cx, err := sess.DecryptionContext(nil, []byte("!!! definitely not base64 !!!"))
	require.ErrorIs(err, keys.ErrInvalidKey)
	require.Nil(cx)
}

func TestDecryptionContextDestroy(t *testing.T) {
	require := require.New(t)

	sess := newTestSession(t)
	defer sess.Wipe()

	sess.CacheShareKey("hA", testSessionKey(0x30))
	cx, err := sess.DecryptionContext(nil, []byte(keys.EncodeB64(testSessionKey(0x50))))
	require.NoError(err)

	masterKey := cx.MasterKey()
	nodeKey := cx.NodeKey().AESKey()

	cx.Destroy()
	require.True(utils.CtIsZero(masterKey))
	require.True(utils.CtIsZero(nodeKey))

	// The session's own copies survive the context.
	require.Equal(testSessionKey(1), sess.MasterKey())
}
