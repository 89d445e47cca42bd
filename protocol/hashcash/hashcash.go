// hashcash.go - Proof-of-work challenge parsing and stamp generation.
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

// Package hashcash implements the API's proof-of-work admission control
// sub-protocol.  Under load the server answers a call with HTTP 402 and an
// X-Hashcash challenge header; the client must compute a stamp over the
// challenge token and resubmit the call with the solved proof attached.
package hashcash

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Header is the HTTP header name used in both directions: the server's
// challenge and the client's solved proof.
const Header = "X-Hashcash"

const (
	// tokenSize is the length of a decoded challenge token.
	tokenSize = 48

	// tokenCopies is the number of token repetitions in the work buffer.
	// The resulting buffer is 12 MiB, which keeps each attempt memory
	// bound rather than a pure SHA256 race.
	tokenCopies = 262144

	// DefaultMinEasiness is the default floor on the server-supplied
	// easiness parameter.  Easiness is untrusted input and lower values
	// are exponentially harder; a challenge below the floor is rejected
	// rather than ground through.
	DefaultMinEasiness = 180
)

var (
	// ErrInvalidChallenge is returned when a challenge header cannot be
	// parsed.
	ErrInvalidChallenge = errors.New("hashcash: invalid challenge header")

	// ErrTooHard is returned when the server-supplied easiness is below
	// the configured floor.
	ErrTooHard = errors.New("hashcash: challenge difficulty exceeds configured bound")

	// ErrHalted is returned when stamp generation is interrupted.
	ErrHalted = errors.New("hashcash: solve interrupted")
)

// Challenge is a parsed proof-of-work challenge.
type Challenge struct {
	// Token is the base64url challenge token, echoed back in the proof.
	Token string

	// Easiness encodes the difficulty threshold; higher is easier.
	Easiness uint8
}

// ParseChallenge parses an X-Hashcash challenge header value of the form
// "1:<easiness>:<token>".  minEasiness bounds the accepted difficulty;
// pass DefaultMinEasiness unless there is a reason not to.
func ParseChallenge(v string, minEasiness uint8) (*Challenge, error) {
	parts := strings.Split(strings.TrimSpace(v), ":")
	if len(parts) != 3 || parts[0] != "1" {
		return nil, ErrInvalidChallenge
	}

	easiness, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil {
		return nil, fmt.Errorf("%w: bad easiness: %v", ErrInvalidChallenge, err)
	}

	raw, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: bad token: %v", ErrInvalidChallenge, err)
	}
	if len(raw) != tokenSize {
		return nil, fmt.Errorf("%w: token is %d bytes, want %d", ErrInvalidChallenge, len(raw), tokenSize)
	}

	if uint8(easiness) < minEasiness {
		return nil, ErrTooHard
	}

	return &Challenge{Token: parts[2], Easiness: uint8(easiness)}, nil
}

// ProofHeader formats the solved proof for the X-Hashcash request header.
func ProofHeader(token, stamp string) string {
	return "1:" + token + ":" + stamp
}

// threshold derives the 32-bit acceptance threshold from the easiness
// parameter.
func threshold(easiness uint8) uint32 {
	return (uint32(easiness&63)<<1 + 1) << ((uint32(easiness)>>6)*7 + 3)
}

// GenCash computes a stamp for the given challenge token at the given
// easiness.  This is CPU bound; callers servicing concurrent I/O should go
// through a Solver instead of calling it inline.
func GenCash(token string, easiness uint8) (string, error) {
	return gencash(token, easiness, nil)
}

func gencash(token string, easiness uint8, quit <-chan struct{}) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("%w: bad token: %v", ErrInvalidChallenge, err)
	}
	if len(raw) != tokenSize {
		return "", fmt.Errorf("%w: token is %d bytes, want %d", ErrInvalidChallenge, len(raw), tokenSize)
	}

	buf := make([]byte, 4+tokenCopies*tokenSize)
	for i := 0; i < tokenCopies; i++ {
		copy(buf[4+i*tokenSize:], raw)
	}

	want := threshold(easiness)
	for nonce := uint64(0); nonce <= 0xffffffff; nonce++ {
		if quit != nil {
			select {
			case <-quit:
				return "", ErrHalted
			default:
			}
		}

		binary.BigEndian.PutUint32(buf[:4], uint32(nonce))
		sum := sha256.Sum256(buf)
		if binary.BigEndian.Uint32(sum[:4]) <= want {
			return base64.RawURLEncoding.EncodeToString(buf[:4]), nil
		}
	}

	// The 32 bit nonce space is exhausted only if the server handed out a
	// pathological easiness that survived the floor check.
	return "", ErrTooHard
}

// VerifyCash reports whether stamp is a valid proof for the given token and
// easiness.
func VerifyCash(token string, easiness uint8, stamp string) bool {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) != tokenSize {
		return false
	}
	prefix, err := base64.RawURLEncoding.DecodeString(stamp)
	if err != nil || len(prefix) != 4 {
		return false
	}

	buf := make([]byte, 4+tokenCopies*tokenSize)
	copy(buf[:4], prefix)
	for i := 0; i < tokenCopies; i++ {
		copy(buf[4+i*tokenSize:], raw)
	}

	sum := sha256.Sum256(buf)
	return binary.BigEndian.Uint32(sum[:4]) <= threshold(easiness)
}
