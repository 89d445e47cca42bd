// password.go - Login key derivation.
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

package keys

import (
	"crypto/aes"
	"crypto/sha512"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/megalite/megalite/core/utils"
)

// pbkdf2Iterations is fixed by the version 2 account scheme.
const pbkdf2Iterations = 100000

// DerivePasswordKeyV2 derives the password key and the login hash for a
// version 2 account using PBKDF2-SHA512 over the server-issued salt.  The
// first half of the derived block is the password key, the second half is
// sent as the login hash.
func DerivePasswordKeyV2(password, salt []byte) (key, loginHash []byte) {
	derived := pbkdf2.Key(password, salt, pbkdf2Iterations, 2*KeySize, sha512.New)
	return derived[:KeySize], derived[KeySize:]
}

// DerivePasswordKeyV1 derives the password key for a legacy version 1
// account.  The scheme runs 65536 rounds of AES over a fixed initial
// state, keyed by the password chunks.
func DerivePasswordKeyV1(password []byte) ([]byte, error) {
	pkey := []byte{
		0x93, 0xc4, 0x67, 0xe3, 0x7d, 0xb0, 0xc7, 0xa4,
		0xd1, 0xbe, 0x3f, 0x81, 0x01, 0x52, 0xcb, 0x56,
	}

	padded := make([]byte, ((len(password)+KeySize-1)/KeySize)*KeySize)
	copy(padded, password)
	defer utils.ExplicitBzero(padded)
	if len(padded) == 0 {
		padded = make([]byte, KeySize)
	}

	for round := 0; round < 65536; round++ {
		for off := 0; off < len(padded); off += KeySize {
			block, err := aes.NewCipher(padded[off : off+KeySize])
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
			}
			block.Encrypt(pkey, pkey)
		}
	}
	return pkey, nil
}

// StringHashV1 computes the legacy login hash from the lowercased account
// email and the password key.
func StringHashV1(email string, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	s := []byte(strings.ToLower(email))
	h := make([]byte, KeySize)
	for i, c := range s {
		h[i%KeySize] ^= c
	}

	for i := 0; i < 16384; i++ {
		block.Encrypt(h, h)
	}

	out := make([]byte, 8)
	copy(out[:4], h[0:4])
	copy(out[4:], h[8:12])
	return EncodeB64(out), nil
}
