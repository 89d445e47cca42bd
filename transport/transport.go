// transport.go - The transport capability interface.
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
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/megalite/megalite/protocol/commands"
)

// ErrMaxRetriesReached is the terminal error for a call whose attempt
// budget is exhausted, and for a proof-of-work demand that carried no
// usable challenge.
var ErrMaxRetriesReached = errors.New("transport: maximum retries reached")

// StatusError reports a non-success HTTP status on a streaming operation.
type StatusError struct {
	Code   int
	Status string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("transport: unexpected HTTP status %s", e.Status)
}

// Transport is the capability every API caller holds.  The production
// implementation is Engine; tests substitute fakes.
type Transport interface {
	// SendRequests dispatches an ordered batch of requests through the
	// shared client state and returns one response per request, in
	// request order, or a terminal error.
	SendRequests(ctx context.Context, st *State, requests []commands.Request, params url.Values) ([]commands.Response, error)

	// Get retrieves url, returning the response body as a stream.  The
	// caller owns the stream and must close it.
	Get(ctx context.Context, url string) (io.ReadCloser, error)

	// Post streams body to url, optionally declaring its length with
	// contentLength (negative means unknown), and returns the response
	// body as a stream owned by the caller.
	Post(ctx context.Context, url string, body io.Reader, contentLength int64) (io.ReadCloser, error)
}
