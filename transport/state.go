// state.go - Shared client state and the authenticated user session.
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

// Package transport implements the request/retry/proof-of-work state
// machine driving every API call, the shared client state it operates on,
// and the derivation of per-call decryption contexts from session state.
package transport

import (
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/awnumar/memguard"

	"github.com/megalite/megalite/core/utils"
	"github.com/megalite/megalite/crypto/keys"
)

var errBadStateConfig = errors.New("transport: invalid state configuration")

// StateConfig carries the validated knobs for a State.
type StateConfig struct {
	// Origin is the base URL of the API.
	Origin *url.URL

	// MaxRetries bounds the attempts made for one call, including the
	// first.
	MaxRetries int

	// MinRetryDelay and MaxRetryDelay bound the exponential backoff.
	MinRetryDelay time.Duration
	MaxRetryDelay time.Duration

	// Timeout bounds each individual attempt; zero disables the bound.
	Timeout time.Duration

	// UseHTTPS upgrades file transfer URLs to HTTPS.  Transfers carry
	// end-to-end encrypted payloads either way, so this only buys
	// transport-level privacy of the exchange itself.
	UseHTTPS bool
}

// State is the shared, long-lived client state.  It is referenced, never
// copied, by every call made through a transport; the only mutable shared
// field is the id counter, which is advanced atomically.
type State struct {
	origin        *url.URL
	maxRetries    int
	minRetryDelay time.Duration
	maxRetryDelay time.Duration
	timeout       time.Duration
	useHTTPS      bool

	idCounter uint64

	sessionMu sync.RWMutex
	session   *UserSession
}

// NewState creates a State from cfg.
func NewState(cfg *StateConfig) (*State, error) {
	if cfg.Origin == nil {
		return nil, fmt.Errorf("%w: missing origin", errBadStateConfig)
	}
	if cfg.MaxRetries < 1 {
		return nil, fmt.Errorf("%w: MaxRetries must be at least 1", errBadStateConfig)
	}
	if cfg.MinRetryDelay < 0 || cfg.MaxRetryDelay < cfg.MinRetryDelay {
		return nil, fmt.Errorf("%w: inconsistent retry delay bounds", errBadStateConfig)
	}

	return &State{
		origin:        cfg.Origin,
		maxRetries:    cfg.MaxRetries,
		minRetryDelay: cfg.MinRetryDelay,
		maxRetryDelay: cfg.MaxRetryDelay,
		timeout:       cfg.Timeout,
		useHTTPS:      cfg.UseHTTPS,
	}, nil
}

// Origin returns the API origin.
func (s *State) Origin() *url.URL {
	u := *s.origin
	return &u
}

// MaxRetries returns the attempt bound.
func (s *State) MaxRetries() int { return s.maxRetries }

// RetryDelayBounds returns the backoff bounds.
func (s *State) RetryDelayBounds() (time.Duration, time.Duration) {
	return s.minRetryDelay, s.maxRetryDelay
}

// Timeout returns the per-attempt bound, zero meaning unbounded.
func (s *State) Timeout() time.Duration { return s.timeout }

// UseHTTPS reports whether file transfer URLs are upgraded to HTTPS.
func (s *State) UseHTTPS() bool { return s.useHTTPS }

// NextID returns a fresh request id.  Ids are unique and totally ordered
// across all concurrent calls sharing this State.
func (s *State) NextID() uint64 {
	return atomic.AddUint64(&s.idCounter, 1)
}

// Session returns the attached session, or nil before login.
func (s *State) Session() *UserSession {
	s.sessionMu.RLock()
	defer s.sessionMu.RUnlock()
	return s.session
}

// SetSession attaches an authenticated session, wiping any previous one.
func (s *State) SetSession(sess *UserSession) {
	s.sessionMu.Lock()
	old := s.session
	s.session = sess
	s.sessionMu.Unlock()
	if old != nil {
		old.Wipe()
	}
}

// ClearSession detaches and wipes the session, if any.
func (s *State) ClearSession() {
	s.SetSession(nil)
}

// UserSession holds the secrets and identifiers established by a
// successful login.  The symmetric keys live in locked buffers and the
// whole value supports deterministic wiping via Wipe.
type UserSession struct {
	sessionID  string
	masterKey  *memguard.LockedBuffer
	sek        *memguard.LockedBuffer
	privateKey *keys.RSAPrivateKey
	userHandle string

	mu        sync.Mutex
	shareKeys map[string][]byte
}

// NewUserSession creates a session from login material.  Ownership of
// masterKey and sek transfers to the session: both slices are wiped as
// they are moved into locked buffers.
func NewUserSession(sessionID string, masterKey, sek []byte, privateKey *keys.RSAPrivateKey, userHandle string) (*UserSession, error) {
	if len(masterKey) != keys.KeySize || len(sek) != keys.KeySize {
		utils.ExplicitBzero(masterKey)
		utils.ExplicitBzero(sek)
		return nil, fmt.Errorf("%w: session keys must be %d bytes", keys.ErrInvalidKey, keys.KeySize)
	}
	return &UserSession{
		sessionID:  sessionID,
		masterKey:  memguard.NewBufferFromBytes(masterKey),
		sek:        memguard.NewBufferFromBytes(sek),
		privateKey: privateKey,
		userHandle: userHandle,
	}, nil
}

// ID returns the opaque server-issued session token.
func (s *UserSession) ID() string { return s.sessionID }

// Handle returns the stable user identifier.
func (s *UserSession) Handle() string { return s.userHandle }

// MasterKey exposes the master key.  The returned slice aliases the locked
// buffer and must not be retained past the session's lifetime.
func (s *UserSession) MasterKey() []byte { return s.masterKey.Bytes() }

// CacheShareKey records a share key on the session for reuse by later
// decryption contexts.
func (s *UserSession) CacheShareKey(handle string, key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shareKeys == nil {
		s.shareKeys = make(map[string][]byte)
	}
	s.shareKeys[handle] = append([]byte(nil), key...)
}

// Wipe scrubs all secrets owned by the session.
func (s *UserSession) Wipe() {
	s.masterKey.Destroy()
	s.sek.Destroy()
	s.privateKey.Wipe()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.shareKeys {
		utils.ExplicitBzero(k)
	}
	s.shareKeys = nil
}
