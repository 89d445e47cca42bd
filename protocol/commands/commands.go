// commands.go - API request and response codec.
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

// Package commands implements the wire codec for the remote API.  Calls are
// batched: a batch is a JSON array of request objects, answered by a JSON
// array of positionally aligned results.  Requests are heterogeneous and
// self-describing: each variant knows the command name it marshals to and
// how to decode the raw value found in its own result slot.
package commands

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// Request is one logical API command.  Implementations must marshal to the
// command's wire object (including its `a` name field) via the standard
// JSON machinery.
type Request interface {
	// Cmd returns the command name carried in the request's `a` field.
	Cmd() string

	// ParseResponse interprets the raw positional result for this request.
	ParseResponse(raw json.RawMessage) (Response, error)
}

// Response is the decoded result of a single Request.
type Response interface {
	response()
}

// parseInto decodes a result slot into out, mapping a bare error code slot
// to the code itself.  A negative bare integer is how the API reports a
// per-request failure inside an otherwise successful batch.
func parseInto(cmd string, raw json.RawMessage, out any) error {
	var code ErrorCode
	if err := json.Unmarshal(raw, &code); err == nil {
		if code == OK {
			return fmt.Errorf("commands: %s: unexpected bare OK result", cmd)
		}
		return fmt.Errorf("commands: %s: %w", cmd, code)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("commands: %s: malformed result: %w", cmd, err)
	}
	return nil
}

// PreLogin is the `us0` command, querying the salt and key derivation
// version for an account prior to login.
type PreLogin struct {
	A    string `json:"a"`
	User string `json:"user"`
}

// NewPreLogin creates a PreLogin request for the given account email.
func NewPreLogin(email string) *PreLogin {
	return &PreLogin{A: "us0", User: email}
}

// Cmd implements Request.
func (r *PreLogin) Cmd() string { return r.A }

// ParseResponse implements Request.
func (r *PreLogin) ParseResponse(raw json.RawMessage) (Response, error) {
	resp := new(PreLoginResponse)
	if err := parseInto(r.A, raw, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// PreLoginResponse carries the account's key derivation parameters.
type PreLoginResponse struct {
	// Version is the key derivation scheme version: 1 for the legacy
	// scheme, 2 for PBKDF2.
	Version int `json:"v"`
	// Salt is the base64 PBKDF2 salt, present for version 2 accounts.
	Salt string `json:"s"`
}

func (*PreLoginResponse) response() {}

// Login is the `us` command, establishing an authenticated session.
type Login struct {
	A        string `json:"a"`
	User     string `json:"user"`
	UserHash string `json:"uh"`
}

// NewLogin creates a Login request from an account email and the computed
// login hash.
func NewLogin(email, userHash string) *Login {
	return &Login{A: "us", User: email, UserHash: userHash}
}

// Cmd implements Request.
func (r *Login) Cmd() string { return r.A }

// ParseResponse implements Request.
func (r *Login) ParseResponse(raw json.RawMessage) (Response, error) {
	resp := new(LoginResponse)
	if err := parseInto(r.A, raw, resp); err != nil {
		return nil, err
	}
	if resp.CSID == "" || resp.Key == "" {
		return nil, fmt.Errorf("commands: %s: incomplete login result", r.A)
	}
	return resp, nil
}

// LoginResponse carries the encrypted session material.  All key fields are
// base64url and encrypted: Key under the password key, PrivK and SEK under
// the master key, CSID under the account's RSA public key.
type LoginResponse struct {
	CSID   string `json:"csid"`
	PrivK  string `json:"privk"`
	Key    string `json:"k"`
	SEK    string `json:"sek"`
	Handle string `json:"u"`
}

func (*LoginResponse) response() {}

// GetUser is the `ug` command, fetching the logged-in user's attributes.
type GetUser struct {
	A string `json:"a"`
}

// NewGetUser creates a GetUser request.
func NewGetUser() *GetUser {
	return &GetUser{A: "ug"}
}

// Cmd implements Request.
func (r *GetUser) Cmd() string { return r.A }

// ParseResponse implements Request.
func (r *GetUser) ParseResponse(raw json.RawMessage) (Response, error) {
	resp := new(UserAttributes)
	if err := parseInto(r.A, raw, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// UserAttributes is the server's view of the user, including the encrypted
// key store holding share keys.
type UserAttributes struct {
	Handle string `json:"u"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Since  int64  `json:"since"`
	// Keys is the base64url key store blob, encrypted under the session's
	// sek.  See keys.ExtractShareKeys.
	Keys string `json:"^!keys"`
}

func (*UserAttributes) response() {}

// FetchNodes is the `f` command, retrieving the full node tree.
type FetchNodes struct {
	A string `json:"a"`
	C int    `json:"c"`
	R int    `json:"r,omitempty"`
}

// NewFetchNodes creates a FetchNodes request.  Recursive fetches (the only
// mode this client issues) set r=1.
func NewFetchNodes() *FetchNodes {
	return &FetchNodes{A: "f", C: 1, R: 1}
}

// Cmd implements Request.
func (r *FetchNodes) Cmd() string { return r.A }

// ParseResponse implements Request.
func (r *FetchNodes) ParseResponse(raw json.RawMessage) (Response, error) {
	resp := new(FetchNodesResponse)
	if err := parseInto(r.A, raw, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// FetchNodesResponse is the encrypted node tree.
type FetchNodesResponse struct {
	Nodes    []NodeData  `json:"f"`
	Ok       []OkItem    `json:"ok,omitempty"`
	Shares   []ShareItem `json:"s,omitempty"`
	Sequence string      `json:"sn"`
}

func (*FetchNodesResponse) response() {}

// NodeData is one encrypted node from a FetchNodes result.
type NodeData struct {
	Handle    string `json:"h"`
	Parent    string `json:"p"`
	Owner     string `json:"u"`
	Type      int    `json:"t"`
	Attrs     string `json:"a"`
	Key       string `json:"k"`
	Size      int64  `json:"s"`
	Timestamp int64  `json:"ts"`
	// SharingUser and ShareKey are present on the root of an inbound share.
	SharingUser string `json:"su,omitempty"`
	ShareKey    string `json:"sk,omitempty"`
}

// OkItem is an outbound share handle with its share key wrapped under the
// user's master key.
type OkItem struct {
	Handle     string `json:"h"`
	HandleAuth string `json:"ha"`
	Key        string `json:"k"`
}

// ShareItem describes one share relationship.
type ShareItem struct {
	Handle string `json:"h"`
	User   string `json:"u"`
	Rights int    `json:"r"`
}

// Download is the `g` command, requesting a temporary download URL for one
// node.  Private downloads reference the node by its private handle, public
// folder downloads by the in-folder handle.
type Download struct {
	A             string `json:"a"`
	G             int    `json:"g"`
	PrivateHandle string `json:"p,omitempty"`
	PublicHandle  string `json:"n,omitempty"`
}

// NewDownload creates a Download request for a node in the user's own tree.
func NewDownload(handle string) *Download {
	return &Download{A: "g", G: 1, PrivateHandle: handle}
}

// NewPublicDownload creates a Download request for a node inside a public
// folder.
func NewPublicDownload(handle string) *Download {
	return &Download{A: "g", G: 1, PublicHandle: handle}
}

// Cmd implements Request.
func (r *Download) Cmd() string { return r.A }

// ParseResponse implements Request.
func (r *Download) ParseResponse(raw json.RawMessage) (Response, error) {
	resp := new(DownloadResponse)
	if err := parseInto(r.A, raw, resp); err != nil {
		return nil, err
	}
	if resp.URL == "" {
		return nil, fmt.Errorf("commands: %s: result carries no download URL", r.A)
	}
	return resp, nil
}

// DownloadResponse carries the temporary URL serving the node's encrypted
// payload.
type DownloadResponse struct {
	URL   string `json:"g"`
	Size  int64  `json:"s"`
	Attrs string `json:"at"`
}

func (*DownloadResponse) response() {}

// Upload is the `u` command, requesting a temporary upload URL for a
// payload of a declared size.
type Upload struct {
	A    string `json:"a"`
	Size int64  `json:"s"`
}

// NewUpload creates an Upload request.
func NewUpload(size int64) *Upload {
	return &Upload{A: "u", Size: size}
}

// Cmd implements Request.
func (r *Upload) Cmd() string { return r.A }

// ParseResponse implements Request.
func (r *Upload) ParseResponse(raw json.RawMessage) (Response, error) {
	resp := new(UploadResponse)
	if err := parseInto(r.A, raw, resp); err != nil {
		return nil, err
	}
	if resp.URL == "" {
		return nil, fmt.Errorf("commands: %s: result carries no upload URL", r.A)
	}
	return resp, nil
}

// UploadResponse carries the temporary upload URL.
type UploadResponse struct {
	URL string `json:"p"`
}

func (*UploadResponse) response() {}

// Logout is the `sml` command, invalidating the session server-side.
type Logout struct {
	A string `json:"a"`
}

// NewLogout creates a Logout request.
func NewLogout() *Logout {
	return &Logout{A: "sml"}
}

// Cmd implements Request.
func (r *Logout) Cmd() string { return r.A }

// ParseResponse implements Request.  A successful logout's result slot is
// the bare integer 0.
func (r *Logout) ParseResponse(raw json.RawMessage) (Response, error) {
	var code ErrorCode
	if err := json.Unmarshal(raw, &code); err != nil {
		return nil, fmt.Errorf("commands: %s: malformed result: %w", r.A, err)
	}
	if code != OK {
		return nil, fmt.Errorf("commands: %s: %w", r.A, code)
	}
	return &LogoutResponse{}, nil
}

// LogoutResponse is the successful result of a Logout.
type LogoutResponse struct{}

func (*LogoutResponse) response() {}
