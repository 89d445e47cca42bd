// engine.go - The retry and proof-of-work request engine.
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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"gopkg.in/op/go-logging.v1"

	"github.com/megalite/megalite/core/log"
	"github.com/megalite/megalite/core/retry"
	"github.com/megalite/megalite/internal/instrument"
	"github.com/megalite/megalite/protocol/commands"
	"github.com/megalite/megalite/protocol/hashcash"
)

// apiPath is the command endpoint, joined onto the configured origin.
const apiPath = "cs"

// Engine is the production Transport.  It drives the attempt loop for a
// batch of requests: exponential backoff on transient failures, detection
// and solving of proof-of-work challenges, and classification of server
// and application errors into retryable and terminal outcomes.
type Engine struct {
	log    *logging.Logger
	client *http.Client
	solver *hashcash.Solver

	minEasiness uint8
}

var _ Transport = (*Engine)(nil)

// NewEngine creates an Engine.  The solver must outlive the engine; the
// http.Client may be nil, in which case a default client is used.  Attempt
// timeouts come from the State, so the http.Client should not set its own.
func NewEngine(logBackend *log.Backend, client *http.Client, solver *hashcash.Solver) *Engine {
	if client == nil {
		client = &http.Client{}
	}
	return &Engine{
		log:         logBackend.GetLogger("transport"),
		client:      client,
		solver:      solver,
		minEasiness: hashcash.DefaultMinEasiness,
	}
}

// buildURL joins the command endpoint onto the origin and attaches the
// fresh request id, the session id if present, and caller-supplied pairs.
func (e *Engine) buildURL(st *State, params url.Values) string {
	u := st.Origin().JoinPath(apiPath)

	q := u.Query()
	q.Set("id", strconv.FormatUint(st.NextID(), 10))
	if sess := st.Session(); sess != nil {
		q.Set("sid", sess.ID())
	}
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// isChallengeStatus reports whether an HTTP status demands proof-of-work.
// The server uses both 402 and 409 for this depending on deployment.
func isChallengeStatus(status int) bool {
	return status == http.StatusPaymentRequired || status == http.StatusConflict
}

// attemptResult is the classified outcome of one dispatched attempt.
type attemptResult struct {
	status int
	header http.Header
	body   []byte
}

// dispatch performs one HTTP exchange, bounded by timeout if nonzero, and
// reads the response body unless the status demands proof-of-work.
func (e *Engine) dispatch(ctx context.Context, target string, payload []byte, proof string, timeout time.Duration) (*attemptResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if proof != "" {
		req.Header.Set(hashcash.Header, proof)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	res := &attemptResult{status: resp.StatusCode, header: resp.Header}
	if isChallengeStatus(resp.StatusCode) {
		_, _ = io.Copy(io.Discard, resp.Body)
		return res, nil
	}

	res.body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// SendRequests implements Transport.
func (e *Engine) SendRequests(ctx context.Context, st *State, requests []commands.Request, params url.Values) ([]commands.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	target := e.buildURL(st, params)
	payload, err := json.Marshal(requests)
	if err != nil {
		return nil, fmt.Errorf("transport: marshaling request batch: %w", err)
	}

	minDelay, maxDelay := st.RetryDelayBounds()
	var challenge *hashcash.Challenge
	sleeps := 0

	for attempt := 1; attempt <= st.MaxRetries(); attempt++ {
		// A pending challenge suppresses the backoff sleep: the
		// challenge round-trip already represents forced latency.
		// The delay doubles per sleep actually taken, not per attempt,
		// so a suppressed sleep does not skip a doubling step.
		if attempt > 1 && challenge == nil {
			delay := retry.Delay(minDelay, maxDelay, 0, sleeps)
			sleeps++
			e.log.Debugf("sleeping %v before attempt %d", delay, attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		proof := ""
		if challenge != nil {
			stamp, err := e.solver.Solve(ctx, challenge)
			if err != nil {
				return nil, err
			}
			proof = hashcash.ProofHeader(challenge.Token, stamp)
			e.log.Debugf("attaching solved %s header", hashcash.Header)
			challenge = nil
		}

		instrument.Attempt()
		res, err := e.dispatch(ctx, target, payload, proof, st.Timeout())
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				instrument.Retry("timeout")
				e.log.Warningf("attempt %d timed out", attempt)
				continue
			}
			// Connection refused, resets and the like are worth
			// another attempt; anything else is a client-side or
			// protocol problem retrying cannot cure.
			if !retry.IsTransientError(err) {
				instrument.TerminalFailure("network")
				e.log.Errorf("attempt %d failed terminally: %v", attempt, err)
				return nil, err
			}
			instrument.Retry("network")
			e.log.Warningf("attempt %d failed: %v", attempt, err)
			continue
		}

		if isChallengeStatus(res.status) {
			instrument.HashcashChallenge()
			ch, cerr := hashcash.ParseChallenge(res.header.Get(hashcash.Header), e.minEasiness)
			if cerr != nil {
				e.log.Errorf("proof-of-work demanded but challenge unusable: %v", cerr)
				instrument.TerminalFailure("hashcash")
				return nil, ErrMaxRetriesReached
			}
			e.log.Debugf("received proof-of-work challenge, easiness %d", ch.Easiness)
			challenge = ch
			continue
		}

		if res.status < 200 || res.status >= 300 {
			instrument.Retry("status")
			e.log.Warningf("attempt %d got HTTP status %d", attempt, res.status)
			continue
		}

		var code commands.ErrorCode
		if err := json.Unmarshal(res.body, &code); err == nil {
			if code.Retryable() {
				instrument.Retry("eagain")
				e.log.Debugf("attempt %d got retry sentinel", attempt)
				continue
			}
			instrument.TerminalFailure("api")
			return nil, code
		}

		var results []json.RawMessage
		if err := json.Unmarshal(res.body, &results); err != nil {
			instrument.TerminalFailure("malformed")
			return nil, fmt.Errorf("transport: malformed response body: %w", err)
		}
		if len(results) != len(requests) {
			instrument.TerminalFailure("malformed")
			return nil, fmt.Errorf("transport: %d results for %d requests", len(results), len(requests))
		}

		responses := make([]commands.Response, 0, len(requests))
		for i, req := range requests {
			resp, err := req.ParseResponse(results[i])
			if err != nil {
				instrument.TerminalFailure("decode")
				return nil, err
			}
			responses = append(responses, resp)
		}
		return responses, nil
	}

	instrument.TerminalFailure("retries")
	e.log.Errorf("call abandoned after %d attempts", st.MaxRetries())
	return nil, ErrMaxRetriesReached
}

// Get implements Transport.
func (e *Engine) Get(ctx context.Context, target string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}
	return resp.Body, nil
}

// Post implements Transport.
func (e *Engine) Post(ctx context.Context, target string, body io.Reader, contentLength int64) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		return nil, err
	}
	if contentLength >= 0 {
		req.ContentLength = contentLength
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}
	return resp.Body, nil
}
