// context.go - Per-call decryption context derivation.
// Copyright (C) 2026  The Megalite Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package transport

import (
	"github.com/megalite/megalite/core/utils"
	"github.com/megalite/megalite/crypto/keys"
	"github.com/megalite/megalite/protocol/commands"
)

// DecryptionContext is the ephemeral bundle of secrets needed to decrypt
// one subtree of node metadata.  It is constructed fresh per logical
// operation, owned by a single caller, and must be destroyed when that
// operation completes.
type DecryptionContext struct {
	userHandle string
	masterKey  []byte
	privateKey *keys.RSAPrivateKey
	nodeKey    *keys.NodeKey
	shareKeys  map[string][]byte
}

// DecryptionContext derives a fresh context from the session, optional
// server-returned user attributes, and an optional node-specific key in
// its raw base64url form.  Share keys embedded in the attributes are
// merged with those cached on the session; a fresh key wins on conflict.
// Failure to extract attribute keys or to decode the node key aborts the
// derivation with no partial context.
func (s *UserSession) DecryptionContext(attrs *commands.UserAttributes, nodeKey []byte) (*DecryptionContext, error) {
	shareKeys := make(map[string][]byte)

	if attrs != nil {
		extracted, err := keys.ExtractShareKeys(s.sek.Bytes(), attrs.Keys)
		if err != nil {
			return nil, err
		}
		for h, k := range extracted {
			shareKeys[h] = k
		}
	}

	s.mu.Lock()
	for h, k := range s.shareKeys {
		if _, ok := shareKeys[h]; !ok {
			shareKeys[h] = append([]byte(nil), k...)
		}
	}
	s.mu.Unlock()

	var nk *keys.NodeKey
	if nodeKey != nil {
		var err error
		nk, err = keys.ImportNodeKey(nodeKey)
		if err != nil {
			for _, k := range shareKeys {
				utils.ExplicitBzero(k)
			}
			return nil, err
		}
	}

	return &DecryptionContext{
		userHandle: s.userHandle,
		masterKey:  append([]byte(nil), s.masterKey.Bytes()...),
		privateKey: s.privateKey.Clone(),
		nodeKey:    nk,
		shareKeys:  shareKeys,
	}, nil
}

// UserHandle returns the owning user's identifier.
func (c *DecryptionContext) UserHandle() string { return c.userHandle }

// MasterKey returns the user's master key.
func (c *DecryptionContext) MasterKey() []byte { return c.masterKey }

// PrivateKey returns the user's RSA private key, or nil for contexts that
// do not carry one.
func (c *DecryptionContext) PrivateKey() *keys.RSAPrivateKey { return c.privateKey }

// NodeKey returns the node-specific key, or nil when the context was
// derived without one.
func (c *DecryptionContext) NodeKey() *keys.NodeKey { return c.nodeKey }

// ShareKey looks up the share key for the given share handle.
func (c *DecryptionContext) ShareKey(handle string) ([]byte, bool) {
	k, ok := c.shareKeys[handle]
	return k, ok
}

// ShareKeys returns a copy of the share-key mapping.
func (c *DecryptionContext) ShareKeys() map[string][]byte {
	out := make(map[string][]byte, len(c.shareKeys))
	for h, k := range c.shareKeys {
		out[h] = append([]byte(nil), k...)
	}
	return out
}

// Destroy wipes every secret the context owns.  It is safe to call more
// than once.
func (c *DecryptionContext) Destroy() {
	utils.ExplicitBzero(c.masterKey)
	c.privateKey.Wipe()
	c.nodeKey.Destroy()
	for _, k := range c.shareKeys {
		utils.ExplicitBzero(k)
	}
	c.shareKeys = nil
}
