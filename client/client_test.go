// SPDX-FileCopyrightText: Copyright (C) 2026  The Megalite Authors.
// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"io"
	"math/big"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/megalite/megalite/client/config"
	"github.com/megalite/megalite/core/log"
	"github.com/megalite/megalite/crypto/keys"
	"github.com/megalite/megalite/protocol/commands"
	"github.com/megalite/megalite/protocol/hashcash"
	"github.com/megalite/megalite/transport"
)

type sentBatch struct {
	reqs   []commands.Request
	params url.Values
}

// fakeTransport serves a scripted sequence of command batch results and
// records transfer calls.
type fakeTransport struct {
	t      *testing.T
	script []func(reqs []commands.Request, params url.Values) ([]commands.Response, error)

	batches []sentBatch

	getURLs  []string
	getBody  string
	postURLs []string
	postSeen []byte
	postResp string
}

func (f *fakeTransport) SendRequests(ctx context.Context, st *transport.State, reqs []commands.Request, params url.Values) ([]commands.Response, error) {
	f.batches = append(f.batches, sentBatch{reqs: reqs, params: params})
	require.LessOrEqual(f.t, len(f.batches), len(f.script), "unscripted batch")
	return f.script[len(f.batches)-1](reqs, params)
}

func (f *fakeTransport) Get(ctx context.Context, target string) (io.ReadCloser, error) {
	f.getURLs = append(f.getURLs, target)
	return io.NopCloser(strings.NewReader(f.getBody)), nil
}

func (f *fakeTransport) Post(ctx context.Context, target string, body io.Reader, contentLength int64) (io.ReadCloser, error) {
	f.postURLs = append(f.postURLs, target)
	b, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	f.postSeen = b
	return io.NopCloser(strings.NewReader(f.postResp)), nil
}

func respondWith(resps ...commands.Response) func([]commands.Request, url.Values) ([]commands.Response, error) {
	return func([]commands.Request, url.Values) ([]commands.Response, error) {
		return resps, nil
	}
}

func newTestClient(t *testing.T, tr transport.Transport, useHTTPS bool) *Client {
	logBackend, err := log.New("", "DEBUG", true)
	require.NoError(t, err)

	origin, err := url.Parse("https://api.example.net")
	require.NoError(t, err)
	st, err := transport.NewState(&transport.StateConfig{
		Origin:        origin,
		MaxRetries:    3,
		MinRetryDelay: time.Millisecond,
		MaxRetryDelay: 2 * time.Millisecond,
		UseHTTPS:      useHTTPS,
	})
	require.NoError(t, err)

	c := &Client{
		cfg:        config.Default(),
		logBackend: logBackend,
		log:        logBackend.GetLogger("client"),
		state:      st,
		transport:  tr,
		solver:     hashcash.NewSolver(logBackend, 1),
	}
	t.Cleanup(c.Shutdown)
	return c
}

func testKey(seed byte, size int) []byte {
	k := make([]byte, size)
	for i := range k {
		k[i] = seed + byte(i)
	}
	return k
}

func encryptECB(t *testing.T, kek, plain []byte) string {
	cp := append([]byte(nil), plain...)
	for len(cp)%aes.BlockSize != 0 {
		cp = append(cp, 0)
	}
	require.NoError(t, keys.EncryptECB(kek, cp))
	return keys.EncodeB64(cp)
}

func encodeMPI(v *big.Int) []byte {
	bits := v.BitLen()
	return append([]byte{byte(bits >> 8), byte(bits)}, v.Bytes()...)
}

// loginFixture is a self-consistent set of login exchange payloads.
type loginFixture struct {
	email    string
	password string

	masterKey []byte
	sek       []byte
	sid       string

	pre   *commands.PreLoginResponse
	login *commands.LoginResponse

	userHash string
}

func newLoginFixture(t *testing.T) *loginFixture {
	f := &loginFixture{
		email:     "user@example.net",
		password:  "hunter2hunter2",
		masterKey: testKey(0x10, 16),
		sek:       testKey(0x40, 16),
	}

	salt := testKey(0x80, 16)
	passwordKey, loginHash := keys.DerivePasswordKeyV2([]byte(f.password), salt)
	f.userHash = keys.EncodeB64(loginHash)

	rsaKey, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	p, q := rsaKey.Primes[0], rsaKey.Primes[1]
	u := new(big.Int).ModInverse(p, q)
	require.NotNil(t, u)

	var privBlob []byte
	for _, v := range []*big.Int{p, q, rsaKey.D, u} {
		privBlob = append(privBlob, encodeMPI(v)...)
	}

	sidRaw := testKey(0x01, 43)
	f.sid = keys.EncodeB64(sidRaw)
	m := new(big.Int).SetBytes(sidRaw)
	c := new(big.Int).Exp(m, big.NewInt(int64(rsaKey.E)), rsaKey.N)

	f.pre = &commands.PreLoginResponse{Version: 2, Salt: keys.EncodeB64(salt)}
	f.login = &commands.LoginResponse{
		CSID:   keys.EncodeB64(encodeMPI(c)),
		PrivK:  encryptECB(t, f.masterKey, privBlob),
		Key:    encryptECB(t, passwordKey, f.masterKey),
		SEK:    encryptECB(t, f.masterKey, f.sek),
		Handle: "userhandle",
	}
	return f
}

func TestLoginV2(t *testing.T) {
	require := require.New(t)

	f := newLoginFixture(t)
	ft := &fakeTransport{t: t, script: []func([]commands.Request, url.Values) ([]commands.Response, error){
		respondWith(f.pre),
		func(reqs []commands.Request, _ url.Values) ([]commands.Response, error) {
			login, ok := reqs[0].(*commands.Login)
			require.True(ok)
			require.Equal(f.email, login.User)
			require.Equal(f.userHash, login.UserHash)
			return []commands.Response{f.login}, nil
		},
	}}
	c := newTestClient(t, ft, false)

	require.NoError(c.Login(context.Background(), " User@Example.NET ", f.password))

	sess := c.state.Session()
	require.NotNil(sess)
	require.Equal(f.sid, sess.ID())
	require.Equal("userhandle", sess.Handle())
	require.Equal(f.masterKey, sess.MasterKey())
}

func TestLoginV1(t *testing.T) {
	require := require.New(t)

	const password = "legacy password"
	const email = "user@example.net"

	passwordKey, err := keys.DerivePasswordKeyV1([]byte(password))
	require.NoError(err)
	wantHash, err := keys.StringHashV1(email, passwordKey)
	require.NoError(err)

	f := newLoginFixture(t)
	// Rewrap the master key under the legacy password key.
	f.login.Key = encryptECB(t, passwordKey, f.masterKey)

	ft := &fakeTransport{t: t, script: []func([]commands.Request, url.Values) ([]commands.Response, error){
		respondWith(&commands.PreLoginResponse{Version: 1}),
		func(reqs []commands.Request, _ url.Values) ([]commands.Response, error) {
			require.Equal(wantHash, reqs[0].(*commands.Login).UserHash)
			return []commands.Response{f.login}, nil
		},
	}}
	c := newTestClient(t, ft, false)

	require.NoError(c.Login(context.Background(), email, password))
	require.NotNil(c.state.Session())
}

func TestLoginUnsupportedVersion(t *testing.T) {
	ft := &fakeTransport{t: t, script: []func([]commands.Request, url.Values) ([]commands.Response, error){
		respondWith(&commands.PreLoginResponse{Version: 3}),
	}}
	c := newTestClient(t, ft, false)

	err := c.Login(context.Background(), "user@example.net", "pw")
	require.Error(t, err)
	require.Nil(t, c.state.Session())
}

func TestLoginBadCredentials(t *testing.T) {
	f := newLoginFixture(t)
	ft := &fakeTransport{t: t, script: []func([]commands.Request, url.Values) ([]commands.Response, error){
		respondWith(f.pre),
		func([]commands.Request, url.Values) ([]commands.Response, error) {
			return nil, commands.ENoEnt
		},
	}}
	c := newTestClient(t, ft, false)

	err := c.Login(context.Background(), "user@example.net", "wrong")
	require.ErrorIs(t, err, commands.ENoEnt)
	require.Nil(t, c.state.Session())
}

func TestLogout(t *testing.T) {
	require := require.New(t)

	f := newLoginFixture(t)
	ft := &fakeTransport{t: t, script: []func([]commands.Request, url.Values) ([]commands.Response, error){
		respondWith(f.pre),
		respondWith(f.login),
		respondWith(&commands.LogoutResponse{}),
	}}
	c := newTestClient(t, ft, false)

	require.NoError(c.Login(context.Background(), "user@example.net", f.password))
	require.NotNil(c.state.Session())
	require.NoError(c.Logout(context.Background()))
	require.Nil(c.state.Session())

	require.ErrorIs(c.Logout(context.Background()), ErrNotLoggedIn)
}

// loggedInClient builds a client with an established session without going
// through the login exchange.
func loggedInClient(t *testing.T, ft *fakeTransport, useHTTPS bool) (*Client, []byte) {
	c := newTestClient(t, ft, useHTTPS)
	masterKey := testKey(0x10, 16)
	sess, err := transport.NewUserSession("sid123",
		append([]byte(nil), masterKey...), testKey(0x40, 16), nil, "userhandle")
	require.NoError(t, err)
	c.state.SetSession(sess)
	return c, masterKey
}

func encryptAttrs(t *testing.T, aesKey []byte, name string) string {
	payload, err := json.Marshal(map[string]string{"n": name})
	require.NoError(t, err)

	plain := append([]byte("MEGA"), payload...)
	for len(plain)%aes.BlockSize != 0 {
		plain = append(plain, 0)
	}
	block, err := aes.NewCipher(aesKey)
	require.NoError(t, err)
	cipher.NewCBCEncrypter(block, make([]byte, aes.BlockSize)).CryptBlocks(plain, plain)
	return keys.EncodeB64(plain)
}

func TestFetchNodes(t *testing.T) {
	require := require.New(t)

	masterKey := testKey(0x10, 16)
	folderKey := testKey(0x20, 16)
	listing := &commands.FetchNodesResponse{Nodes: []commands.NodeData{
		{Handle: "root", Type: 2, Owner: "userhandle"},
		{
			Handle:    "hFolder",
			Parent:    "root",
			Owner:     "userhandle",
			Type:      1,
			Attrs:     encryptAttrs(t, folderKey, "Documents"),
			Key:       "userhandle:" + encryptECB(t, masterKey, folderKey),
			Timestamp: 1700000000,
		},
	}}

	ft := &fakeTransport{t: t, script: []func([]commands.Request, url.Values) ([]commands.Response, error){
		func(reqs []commands.Request, _ url.Values) ([]commands.Response, error) {
			require.Len(reqs, 2)
			return []commands.Response{&commands.UserAttributes{Handle: "userhandle"}, listing}, nil
		},
	}}
	c, _ := loggedInClient(t, ft, false)

	tree, err := c.FetchNodes(context.Background())
	require.NoError(err)
	defer tree.Destroy()
	require.Equal(2, tree.Len())
	require.Equal("Documents", tree.Get("hFolder").Name())
	require.Equal("root", tree.Root().Handle())
}

func TestFetchNodesNotLoggedIn(t *testing.T) {
	c := newTestClient(t, &fakeTransport{t: t}, false)
	_, err := c.FetchNodes(context.Background())
	require.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestFetchPublicNodes(t *testing.T) {
	require := require.New(t)

	folderKey := testKey(0x20, 16)
	listing := &commands.FetchNodesResponse{Nodes: []commands.NodeData{
		{
			Handle:    "hPub",
			Type:      1,
			Owner:     "owner",
			Attrs:     encryptAttrs(t, folderKey, "Public Folder"),
			Key:       "owner:" + encryptECB(t, folderKey, folderKey),
			Timestamp: 1700000000,
		},
	}}

	ft := &fakeTransport{t: t, script: []func([]commands.Request, url.Values) ([]commands.Response, error){
		func(reqs []commands.Request, params url.Values) ([]commands.Response, error) {
			require.Equal("hFoLdEr", params.Get("n"))
			return []commands.Response{listing}, nil
		},
	}}
	c := newTestClient(t, ft, false)

	link := "https://mega.example.net/folder/hFoLdEr#" + keys.EncodeB64(folderKey)
	tree, err := c.FetchPublicNodes(context.Background(), link)
	require.NoError(err)
	defer tree.Destroy()
	require.Equal("Public Folder", tree.Root().Name())
}

func TestParsePublicLink(t *testing.T) {
	require := require.New(t)

	handle, key, err := ParsePublicLink("https://mega.example.net/folder/hANdLe#keymaterial")
	require.NoError(err)
	require.Equal("hANdLe", handle)
	require.Equal("keymaterial", key)

	handle, key, err = ParsePublicLink("https://mega.example.net/#F!hANdLe!keymaterial")
	require.NoError(err)
	require.Equal("hANdLe", handle)
	require.Equal("keymaterial", key)

	for _, bad := range []string{
		"",
		"https://mega.example.net/",
		"https://mega.example.net/folder/hANdLe",
		"https://mega.example.net/#F!onlyhandle",
	} {
		_, _, err = ParsePublicLink(bad)
		require.ErrorIs(err, ErrBadPublicLink, bad)
	}
}

func TestDownload(t *testing.T) {
	require := require.New(t)

	ft := &fakeTransport{
		t:       t,
		getBody: "encrypted payload",
		script: []func([]commands.Request, url.Values) ([]commands.Response, error){
			respondWith(&commands.DownloadResponse{URL: "http://dl.example.net/x", Size: 17}),
		},
	}
	c, _ := loggedInClient(t, ft, true)

	rc, size, err := c.Download(context.Background(), "hFile")
	require.NoError(err)
	defer rc.Close()
	require.Equal(int64(17), size)

	// HTTPSTransfers upgrades the plain http transfer URL.
	require.Equal([]string{"https://dl.example.net/x"}, ft.getURLs)

	body, err := io.ReadAll(rc)
	require.NoError(err)
	require.Equal("encrypted payload", string(body))
}

func TestDownloadKeepsScheme(t *testing.T) {
	require := require.New(t)

	ft := &fakeTransport{
		t: t,
		script: []func([]commands.Request, url.Values) ([]commands.Response, error){
			respondWith(&commands.DownloadResponse{URL: "http://dl.example.net/x", Size: 1}),
		},
	}
	c, _ := loggedInClient(t, ft, false)

	_, _, err := c.Download(context.Background(), "hFile")
	require.NoError(err)
	require.Equal([]string{"http://dl.example.net/x"}, ft.getURLs)
}

func TestPublicDownloadURL(t *testing.T) {
	require := require.New(t)

	ft := &fakeTransport{t: t, script: []func([]commands.Request, url.Values) ([]commands.Response, error){
		func(reqs []commands.Request, params url.Values) ([]commands.Response, error) {
			require.Equal("hPub", params.Get("n"))
			dl := reqs[0].(*commands.Download)
			require.Equal("hPubFile", dl.PublicHandle)
			require.Empty(dl.PrivateHandle)
			return []commands.Response{&commands.DownloadResponse{URL: "https://dl.example.net/y", Size: 9}}, nil
		},
	}}
	c := newTestClient(t, ft, false)

	target, size, err := c.PublicDownloadURL(context.Background(), "hPub", "hPubFile")
	require.NoError(err)
	require.Equal("https://dl.example.net/y", target)
	require.Equal(int64(9), size)
}

func TestUpload(t *testing.T) {
	require := require.New(t)

	ft := &fakeTransport{
		t:        t,
		postResp: "completiontoken",
		script: []func([]commands.Request, url.Values) ([]commands.Response, error){
			func(reqs []commands.Request, _ url.Values) ([]commands.Response, error) {
				require.Equal(int64(7), reqs[0].(*commands.Upload).Size)
				return []commands.Response{&commands.UploadResponse{URL: "https://ul.example.net/z"}}, nil
			},
		},
	}
	c, _ := loggedInClient(t, ft, false)

	token, err := c.Upload(context.Background(), 7, strings.NewReader("payload"))
	require.NoError(err)
	require.Equal("completiontoken", string(token))
	require.Equal([]string{"https://ul.example.net/z"}, ft.postURLs)
	require.Equal("payload", string(ft.postSeen))
}

func TestUploadNotLoggedIn(t *testing.T) {
	c := newTestClient(t, &fakeTransport{t: t}, false)
	_, err := c.Upload(context.Background(), 1, strings.NewReader("x"))
	require.ErrorIs(t, err, ErrNotLoggedIn)
}
