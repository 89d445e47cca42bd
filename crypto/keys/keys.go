// keys.go - Symmetric key unwrapping and attribute decryption.
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

// Package keys implements the key handling side of the protocol: AES-ECB
// unwrapping of node and share keys, node attribute decryption, the user
// key store, login key derivation and the RSA private key used for inbound
// shares.
//
// All cipher work here operates on key material, not file payloads; bulk
// payload decryption is out of scope.
package keys

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/megalite/megalite/core/utils"
)

const (
	// KeySize is the size of all symmetric keys in the protocol.
	KeySize = 16

	// NodeKeySize is the size of an unwrapped folder key.
	NodeKeySize = 16

	// FileKeySize is the size of an unwrapped file key: the AES key
	// folded with the nonce and MAC halves.
	FileKeySize = 32
)

var (
	// ErrInvalidKey is returned for key material of the wrong size or
	// encoding.
	ErrInvalidKey = errors.New("keys: invalid key material")

	// ErrBadAttributes is returned when a node attribute blob does not
	// decrypt to the expected envelope.
	ErrBadAttributes = errors.New("keys: malformed attribute blob")

	// ErrBadKeyStore is returned when the user attribute key store cannot
	// be decrypted or parsed.
	ErrBadKeyStore = errors.New("keys: malformed key store")
)

// DecodeB64 decodes the unpadded base64url encoding used throughout the
// API.
func DecodeB64(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

// EncodeB64 is the inverse of DecodeB64.
func EncodeB64(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecryptECB decrypts data in place with AES-128 in ECB mode.  ECB is what
// the protocol mandates for key wrapping; it is never used on payloads.
func DecryptECB(key, data []byte) error {
	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(data)%aes.BlockSize != 0 {
		return fmt.Errorf("%w: data not block aligned", ErrInvalidKey)
	}
	for i := 0; i < len(data); i += aes.BlockSize {
		block.Decrypt(data[i:i+aes.BlockSize], data[i:i+aes.BlockSize])
	}
	return nil
}

// EncryptECB encrypts data in place with AES-128 in ECB mode.  It is the
// wrapping direction of DecryptECB, used when creating nodes and shares.
func EncryptECB(key, data []byte) error {
	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(data)%aes.BlockSize != 0 {
		return fmt.Errorf("%w: data not block aligned", ErrInvalidKey)
	}
	for i := 0; i < len(data); i += aes.BlockSize {
		block.Encrypt(data[i:i+aes.BlockSize], data[i:i+aes.BlockSize])
	}
	return nil
}

// NodeKey is the unwrapped key material for one node.
type NodeKey struct {
	material []byte
	aesKey   []byte
}

// ImportNodeKey decodes raw node key input, as handed to a decryption
// context: the base64url text of already-unwrapped key material.
func ImportNodeKey(raw []byte) (*NodeKey, error) {
	material, err := DecodeB64(string(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return NewNodeKey(material)
}

// NewNodeKey builds a NodeKey from unwrapped material: 16 bytes for a
// folder, 32 for a file (AES key folded against nonce and MAC).
func NewNodeKey(material []byte) (*NodeKey, error) {
	k := &NodeKey{material: material}
	switch len(material) {
	case NodeKeySize:
		k.aesKey = material
	case FileKeySize:
		k.aesKey = make([]byte, NodeKeySize)
		for i := 0; i < NodeKeySize; i++ {
			k.aesKey[i] = material[i] ^ material[i+NodeKeySize]
		}
	default:
		utils.ExplicitBzero(material)
		return nil, fmt.Errorf("%w: node key is %d bytes", ErrInvalidKey, len(material))
	}
	return k, nil
}

// UnwrapNodeKey decrypts a wrapped node key with the key encryption key
// kek, typically the master key or a share key.
func UnwrapNodeKey(kek []byte, wrapped string) (*NodeKey, error) {
	material, err := DecodeB64(wrapped)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if err := DecryptECB(kek, material); err != nil {
		return nil, err
	}
	return NewNodeKey(material)
}

// AESKey returns the 16 byte AES key for attribute decryption.
func (k *NodeKey) AESKey() []byte {
	return k.aesKey
}

// Material returns the full unwrapped key material.
func (k *NodeKey) Material() []byte {
	return k.material
}

// Destroy wipes the key material.
func (k *NodeKey) Destroy() {
	if k == nil {
		return
	}
	utils.ExplicitBzero(k.material)
	if len(k.material) == FileKeySize {
		utils.ExplicitBzero(k.aesKey)
	}
}

// Attributes is the decrypted attribute envelope of a node.
type Attributes struct {
	Name string `json:"n"`
}

// attrMagic prefixes every attribute plaintext.
var attrMagic = []byte("MEGA")

// DecryptAttributes decrypts a node's attribute blob with the node's AES
// key: AES-128-CBC with a zero IV over the base64url blob, yielding a
// "MEGA{...}" JSON envelope padded with NUL bytes.
func DecryptAttributes(key []byte, blob string) (*Attributes, error) {
	data, err := DecodeB64(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadAttributes, err)
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: blob not block aligned", ErrBadAttributes)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	iv := make([]byte, aes.BlockSize)
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(data, data)
	defer utils.ExplicitBzero(data)

	if !bytes.HasPrefix(data, attrMagic) {
		return nil, fmt.Errorf("%w: missing envelope magic", ErrBadAttributes)
	}
	payload := bytes.TrimRight(data[len(attrMagic):], "\x00")

	attrs := new(Attributes)
	if err := json.Unmarshal(payload, attrs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadAttributes, err)
	}
	return attrs, nil
}

// keyStoreEntry is one record in the decrypted user key store.
type keyStoreEntry struct {
	Handle string `json:"h"`
	Key    string `json:"k"`
}

// ExtractShareKeys decrypts the key store blob from a user attributes
// payload with the session's sek and returns the share keys it holds,
// keyed by share handle.  A nil payload or an absent key store yields an
// empty map.
func ExtractShareKeys(sek []byte, keyStore string) (map[string][]byte, error) {
	shareKeys := make(map[string][]byte)
	if keyStore == "" {
		return shareKeys, nil
	}

	data, err := DecodeB64(keyStore)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKeyStore, err)
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: blob not block aligned", ErrBadKeyStore)
	}
	if err := DecryptECB(sek, data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKeyStore, err)
	}
	defer utils.ExplicitBzero(data)

	var entries []keyStoreEntry
	payload := bytes.TrimRight(data, "\x00")
	if err := json.Unmarshal(payload, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKeyStore, err)
	}

	for _, e := range entries {
		key, err := DecodeB64(e.Key)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %q: %v", ErrBadKeyStore, e.Handle, err)
		}
		if len(key) != KeySize {
			return nil, fmt.Errorf("%w: entry %q: key is %d bytes", ErrBadKeyStore, e.Handle, len(key))
		}
		shareKeys[e.Handle] = key
	}
	return shareKeys, nil
}
