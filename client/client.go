// client.go - Cloud storage client.
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

// Package client provides the high level cloud storage client: login and
// session establishment, node listing, and streaming transfers, built on
// the retrying transport engine.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"gopkg.in/op/go-logging.v1"

	"github.com/megalite/megalite/client/config"
	"github.com/megalite/megalite/core/log"
	"github.com/megalite/megalite/core/utils"
	"github.com/megalite/megalite/crypto/keys"
	"github.com/megalite/megalite/internal/instrument"
	"github.com/megalite/megalite/nodes"
	"github.com/megalite/megalite/protocol/commands"
	"github.com/megalite/megalite/protocol/hashcash"
	"github.com/megalite/megalite/transport"
)

var (
	// ErrNotLoggedIn is returned by operations that need a session when
	// none is established.
	ErrNotLoggedIn = errors.New("client: not logged in")

	// ErrBadPublicLink is returned when a public folder link cannot be
	// parsed.
	ErrBadPublicLink = errors.New("client: malformed public link")
)

// Client is a cloud storage API client.  It is safe for concurrent use.
type Client struct {
	cfg        *config.Config
	logBackend *log.Backend
	log        *logging.Logger

	state     *transport.State
	transport transport.Transport
	solver    *hashcash.Solver

	haltOnce sync.Once
}

// New constructs a Client from a validated configuration.
func New(cfg *config.Config) (*Client, error) {
	logBackend, err := log.New(cfg.Logging.File, cfg.Logging.Level, cfg.Logging.Disable)
	if err != nil {
		return nil, err
	}

	stCfg, err := cfg.StateConfig()
	if err != nil {
		return nil, err
	}
	state, err := transport.NewState(stCfg)
	if err != nil {
		return nil, err
	}

	if cfg.MetricsAddress != "" {
		instrument.Init(cfg.MetricsAddress)
	}

	solver := hashcash.NewSolver(logBackend, cfg.HashcashWorkers)

	c := &Client{
		cfg:        cfg,
		logBackend: logBackend,
		log:        logBackend.GetLogger("client"),
		state:      state,
		transport:  transport.NewEngine(logBackend, nil, solver),
		solver:     solver,
	}
	return c, nil
}

// LogBackend returns the client's logging backend.
func (c *Client) LogBackend() *log.Backend {
	return c.logBackend
}

// Shutdown halts the proof-of-work workers and wipes the session.  The
// client must not be used afterwards.
func (c *Client) Shutdown() {
	c.haltOnce.Do(func() {
		c.log.Notice("shutting down")
		c.solver.Halt()
		c.state.ClearSession()
	})
}

func (c *Client) sendRequests(ctx context.Context, reqs []commands.Request, params url.Values) ([]commands.Response, error) {
	return c.transport.SendRequests(ctx, c.state, reqs, params)
}

// Login establishes an authenticated session for the account.  The key
// derivation scheme is negotiated first, then the encrypted session
// material returned by the login exchange is unwrapped locally: master
// key under the password key, RSA private key and share decryption key
// under the master key, and the session id under the RSA key.
func (c *Client) Login(ctx context.Context, email, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	resps, err := c.sendRequests(ctx, []commands.Request{commands.NewPreLogin(email)}, nil)
	if err != nil {
		return err
	}
	pre := resps[0].(*commands.PreLoginResponse)

	var passwordKey []byte
	var userHash string
	switch pre.Version {
	case 1:
		passwordKey, err = keys.DerivePasswordKeyV1([]byte(password))
		if err != nil {
			return err
		}
		userHash, err = keys.StringHashV1(email, passwordKey)
		if err != nil {
			utils.ExplicitBzero(passwordKey)
			return err
		}
	case 2:
		salt, serr := keys.DecodeB64(pre.Salt)
		if serr != nil {
			return fmt.Errorf("client: malformed account salt: %w", serr)
		}
		var loginHash []byte
		passwordKey, loginHash = keys.DerivePasswordKeyV2([]byte(password), salt)
		userHash = keys.EncodeB64(loginHash)
		utils.ExplicitBzero(loginHash)
	default:
		return fmt.Errorf("client: unsupported key derivation version %d", pre.Version)
	}
	defer utils.ExplicitBzero(passwordKey)

	resps, err = c.sendRequests(ctx, []commands.Request{commands.NewLogin(email, userHash)}, nil)
	if err != nil {
		return err
	}
	lr := resps[0].(*commands.LoginResponse)

	sess, err := c.unwrapSession(lr, passwordKey)
	if err != nil {
		return err
	}
	c.state.SetSession(sess)
	c.log.Noticef("logged in as %s", sess.Handle())
	return nil
}

// unwrapSession opens the encrypted material from a login exchange and
// builds the session.  All intermediate secrets are wiped on failure.
func (c *Client) unwrapSession(lr *commands.LoginResponse, passwordKey []byte) (*transport.UserSession, error) {
	masterKey, err := keys.DecodeB64(lr.Key)
	if err != nil {
		return nil, fmt.Errorf("client: malformed master key: %w", err)
	}
	if err = keys.DecryptECB(passwordKey, masterKey); err != nil {
		return nil, err
	}

	fail := func(e error) (*transport.UserSession, error) {
		utils.ExplicitBzero(masterKey)
		return nil, e
	}

	privBlob, err := keys.DecodeB64(lr.PrivK)
	if err != nil {
		return fail(fmt.Errorf("client: malformed private key: %w", err))
	}
	if err = keys.DecryptECB(masterKey, privBlob); err != nil {
		return fail(err)
	}
	priv, err := keys.ParsePrivateKey(privBlob)
	utils.ExplicitBzero(privBlob)
	if err != nil {
		return fail(err)
	}

	sek, err := keys.DecodeB64(lr.SEK)
	if err != nil {
		priv.Wipe()
		return fail(fmt.Errorf("client: malformed share decryption key: %w", err))
	}
	if err = keys.DecryptECB(masterKey, sek); err != nil {
		priv.Wipe()
		return fail(err)
	}

	sid, err := priv.DecryptSessionID(lr.CSID)
	if err != nil {
		priv.Wipe()
		utils.ExplicitBzero(sek)
		return fail(err)
	}

	return transport.NewUserSession(sid, masterKey, sek, priv, lr.Handle)
}

// Logout invalidates the session server-side and wipes it locally.
func (c *Client) Logout(ctx context.Context) error {
	if c.state.Session() == nil {
		return ErrNotLoggedIn
	}
	_, err := c.sendRequests(ctx, []commands.Request{commands.NewLogout()}, nil)
	if err != nil {
		return err
	}
	c.state.ClearSession()
	c.log.Notice("logged out")
	return nil
}

// DecryptionContext derives a fresh decryption context from the current
// session.  See transport.UserSession.DecryptionContext.
func (c *Client) DecryptionContext(attrs *commands.UserAttributes, nodeKey []byte) (*transport.DecryptionContext, error) {
	sess := c.state.Session()
	if sess == nil {
		return nil, ErrNotLoggedIn
	}
	return sess.DecryptionContext(attrs, nodeKey)
}

// FetchNodes fetches and decrypts the account's node tree.  The user
// attributes ride in the same batch so share keys from the key store are
// available for inbound shares.
func (c *Client) FetchNodes(ctx context.Context) (*nodes.Tree, error) {
	sess := c.state.Session()
	if sess == nil {
		return nil, ErrNotLoggedIn
	}

	resps, err := c.sendRequests(ctx, []commands.Request{
		commands.NewGetUser(),
		commands.NewFetchNodes(),
	}, nil)
	if err != nil {
		return nil, err
	}
	attrs := resps[0].(*commands.UserAttributes)
	listing := resps[1].(*commands.FetchNodesResponse)

	dctx, err := sess.DecryptionContext(attrs, nil)
	if err != nil {
		return nil, err
	}
	defer dctx.Destroy()

	return nodes.Build(c.logBackend, listing, dctx)
}

// FetchPublicNodes fetches and decrypts a public folder from its link.
// No session is required.
func (c *Client) FetchPublicNodes(ctx context.Context, link string) (*nodes.Tree, error) {
	handle, keyText, err := ParsePublicLink(link)
	if err != nil {
		return nil, err
	}
	folderKey, err := keys.ImportNodeKey([]byte(keyText))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPublicLink, err)
	}
	defer folderKey.Destroy()

	params := url.Values{}
	params.Set("n", handle)
	resps, err := c.sendRequests(ctx, []commands.Request{commands.NewFetchNodes()}, params)
	if err != nil {
		return nil, err
	}
	listing := resps[0].(*commands.FetchNodesResponse)

	return nodes.BuildShared(c.logBackend, listing, folderKey)
}

// DownloadURL fetches the temporary URL serving a node's encrypted
// payload, upgraded to https when the configuration demands it.
func (c *Client) DownloadURL(ctx context.Context, handle string) (string, int64, error) {
	if c.state.Session() == nil {
		return "", 0, ErrNotLoggedIn
	}
	return c.downloadURL(ctx, commands.NewDownload(handle), nil)
}

// PublicDownloadURL fetches the download URL for a node inside a public
// folder.
func (c *Client) PublicDownloadURL(ctx context.Context, folderHandle, handle string) (string, int64, error) {
	params := url.Values{}
	params.Set("n", folderHandle)
	return c.downloadURL(ctx, commands.NewPublicDownload(handle), params)
}

func (c *Client) downloadURL(ctx context.Context, req *commands.Download, params url.Values) (string, int64, error) {
	resps, err := c.sendRequests(ctx, []commands.Request{req}, params)
	if err != nil {
		return "", 0, err
	}
	dr := resps[0].(*commands.DownloadResponse)
	return c.upgradeScheme(dr.URL), dr.Size, nil
}

// upgradeScheme rewrites an http transfer URL to https if configured.
// The payload is encrypted either way.
func (c *Client) upgradeScheme(raw string) string {
	if !c.state.UseHTTPS() {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "http" {
		return raw
	}
	u.Scheme = "https"
	return u.String()
}

// Download streams a node's encrypted payload.  The caller owns the
// returned ReadCloser and decryption of its contents.
func (c *Client) Download(ctx context.Context, handle string) (io.ReadCloser, int64, error) {
	target, size, err := c.DownloadURL(ctx, handle)
	if err != nil {
		return nil, 0, err
	}
	rc, err := c.transport.Get(ctx, target)
	if err != nil {
		return nil, 0, err
	}
	return rc, size, nil
}

// Upload negotiates an upload URL for a payload of the declared size and
// streams body to it.  It returns the server's completion token.
func (c *Client) Upload(ctx context.Context, size int64, body io.Reader) ([]byte, error) {
	if c.state.Session() == nil {
		return nil, ErrNotLoggedIn
	}

	resps, err := c.sendRequests(ctx, []commands.Request{commands.NewUpload(size)}, nil)
	if err != nil {
		return nil, err
	}
	ur := resps[0].(*commands.UploadResponse)

	rc, err := c.transport.Post(ctx, c.upgradeScheme(ur.URL), body, size)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	token, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	return token, nil
}

// ParsePublicLink extracts the folder handle and key from a public folder
// link.  Both the current "/folder/<handle>#<key>" form and the legacy
// "/#F!<handle>!<key>" form are accepted.
func ParsePublicLink(link string) (handle, key string, err error) {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrBadPublicLink, err)
	}

	if strings.HasPrefix(u.Path, "/folder/") {
		handle = strings.TrimPrefix(u.Path, "/folder/")
		key = u.Fragment
	} else if strings.HasPrefix(u.Fragment, "F!") {
		parts := strings.Split(u.Fragment, "!")
		if len(parts) == 3 {
			handle, key = parts[1], parts[2]
		}
	}
	if handle == "" || key == "" {
		return "", "", ErrBadPublicLink
	}
	return handle, key, nil
}
