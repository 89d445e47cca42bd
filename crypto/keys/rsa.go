// rsa.go - RSA private key handling for shares and session establishment.
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
	"errors"
	"fmt"
	"math/big"
)

// sessionIDSize is the length of the session token carried inside the RSA
// encrypted CSID.
const sessionIDSize = 43

// ErrInvalidPrivateKey is returned when an MPI private key blob cannot be
// parsed.
var ErrInvalidPrivateKey = errors.New("keys: invalid RSA private key")

// RSAPrivateKey is the user's asymmetric private key, used to unwrap keys
// distributed via shares and to recover the session id at login.  The wire
// form is a sequence of MPIs: p, q, d, u.
type RSAPrivateKey struct {
	p, q, d, u *big.Int
	n          *big.Int
}

// readMPI parses one MPI (2 byte big-endian bit count, then the magnitude)
// from data, returning the integer and the remainder.
func readMPI(data []byte) (*big.Int, []byte, error) {
	if len(data) < 2 {
		return nil, nil, ErrInvalidPrivateKey
	}
	bits := int(data[0])<<8 | int(data[1])
	size := (bits + 7) / 8
	if len(data) < 2+size {
		return nil, nil, ErrInvalidPrivateKey
	}
	return new(big.Int).SetBytes(data[2 : 2+size]), data[2+size:], nil
}

// ParsePrivateKey parses the decrypted `privk` blob.
func ParsePrivateKey(data []byte) (*RSAPrivateKey, error) {
	k := new(RSAPrivateKey)
	var err error

	rest := data
	for _, dst := range []**big.Int{&k.p, &k.q, &k.d, &k.u} {
		*dst, rest, err = readMPI(rest)
		if err != nil {
			return nil, err
		}
	}
	// The blob is padded up to the wrapping block size; anything bigger
	// than that means the MPI framing was misread.
	if len(rest) >= 16 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidPrivateKey, len(rest))
	}
	if k.p.Sign() <= 0 || k.q.Sign() <= 0 || k.d.Sign() <= 0 {
		return nil, ErrInvalidPrivateKey
	}

	k.n = new(big.Int).Mul(k.p, k.q)
	return k, nil
}

// Decrypt performs a raw RSA decryption of the MPI-encoded ciphertext.
// The protocol applies no padding scheme to the values it wraps this way.
func (k *RSAPrivateKey) Decrypt(ciphertext []byte) ([]byte, error) {
	c, rest, err := readMPI(ciphertext)
	if err != nil {
		return nil, err
	}
	_ = rest
	if c.Cmp(k.n) >= 0 {
		return nil, fmt.Errorf("%w: ciphertext out of range", ErrInvalidPrivateKey)
	}
	m := new(big.Int).Exp(c, k.d, k.n)
	return m.Bytes(), nil
}

// DecryptSessionID recovers the session id string from the base64url CSID
// returned by a login call.
func (k *RSAPrivateKey) DecryptSessionID(csid string) (string, error) {
	raw, err := DecodeB64(csid)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	m, err := k.Decrypt(raw)
	if err != nil {
		return "", err
	}
	if len(m) < sessionIDSize {
		return "", fmt.Errorf("%w: short session id", ErrInvalidPrivateKey)
	}
	return EncodeB64(m[:sessionIDSize]), nil
}

// Clone returns an independent copy of the key, so a short-lived holder
// can be wiped without affecting the original.
func (k *RSAPrivateKey) Clone() *RSAPrivateKey {
	if k == nil {
		return nil
	}
	return &RSAPrivateKey{
		p: new(big.Int).Set(k.p),
		q: new(big.Int).Set(k.q),
		d: new(big.Int).Set(k.d),
		u: new(big.Int).Set(k.u),
		n: new(big.Int).Set(k.n),
	}
}

// Wipe clears the private key material.  big.Int cannot be scrubbed
// through its public API, so the backing words are zeroed directly.
func (k *RSAPrivateKey) Wipe() {
	if k == nil {
		return
	}
	for _, v := range []*big.Int{k.p, k.q, k.d, k.u, k.n} {
		if v == nil {
			continue
		}
		words := v.Bits()
		for i := range words {
			words[i] = 0
		}
	}
}
