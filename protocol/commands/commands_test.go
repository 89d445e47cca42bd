// SPDX-FileCopyrightText: Copyright (C) 2026  The Megalite Authors.
// SPDX-License-Identifier: AGPL-3.0-only

package commands

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

func TestRequestMarshal(t *testing.T) {
	require := require.New(t)

	batch := []Request{
		NewPreLogin("user@example.com"),
		NewFetchNodes(),
	}
	blob, err := json.Marshal(batch)
	require.NoError(err)
	require.JSONEq(`[{"a":"us0","user":"user@example.com"},{"a":"f","c":1,"r":1}]`, string(blob))
}

func TestLoginRoundTrip(t *testing.T) {
	require := require.New(t)

	req := NewLogin("user@example.com", "hash")
	require.Equal("us", req.Cmd())

	raw := json.RawMessage(`{"csid":"AAAA","privk":"BBBB","k":"CCCC","u":"handle"}`)
	resp, err := req.ParseResponse(raw)
	require.NoError(err)

	login, ok := resp.(*LoginResponse)
	require.True(ok)
	require.Equal("AAAA", login.CSID)
	require.Equal("CCCC", login.Key)
	require.Equal("handle", login.Handle)
}

func TestLoginIncomplete(t *testing.T) {
	require := require.New(t)

	req := NewLogin("user@example.com", "hash")
	_, err := req.ParseResponse(json.RawMessage(`{"u":"handle"}`))
	require.Error(err)
}

func TestParseResponseBareCode(t *testing.T) {
	require := require.New(t)

	req := NewGetUser()
	_, err := req.ParseResponse(json.RawMessage(`-9`))
	require.ErrorIs(err, ENoEnt)
}

func TestLogoutParse(t *testing.T) {
	require := require.New(t)

	req := NewLogout()

	resp, err := req.ParseResponse(json.RawMessage(`0`))
	require.NoError(err)
	require.IsType(&LogoutResponse{}, resp)

	_, err = req.ParseResponse(json.RawMessage(`-15`))
	require.ErrorIs(err, ESID)
}

func TestFetchNodesParse(t *testing.T) {
	require := require.New(t)

	raw := json.RawMessage(`{
		"f": [
			{"h":"abcd1234","p":"","u":"me","t":2,"a":"","k":"","ts":100},
			{"h":"efgh5678","p":"abcd1234","u":"me","t":0,"a":"enc","k":"me:wrapped","s":42,"ts":101}
		],
		"sn": "seq"
	}`)

	resp, err := NewFetchNodes().ParseResponse(raw)
	require.NoError(err)

	fn, ok := resp.(*FetchNodesResponse)
	require.True(ok)
	require.Len(fn.Nodes, 2)
	require.Equal("seq", fn.Sequence)
	require.Equal(int64(42), fn.Nodes[1].Size)
}

func TestErrorCode(t *testing.T) {
	require := require.New(t)

	require.True(EAgain.Retryable())
	require.False(EAccess.Retryable())
	require.False(OK.Retryable())

	require.Contains(EOverQuota.Error(), "quota")
	require.Contains(ErrorCode(-99).Error(), "unknown")
}
