//go:build !prometheus

// SPDX-FileCopyrightText: Copyright (C) 2026  The Megalite Authors.
// SPDX-License-Identifier: AGPL-3.0-only

// Package instrument exposes counters for the request engine.  Metrics are
// compiled in with the `prometheus` build tag and are no-ops otherwise.
package instrument

// Init registers the collectors and serves the metrics endpoint.
func Init(addr string) {}

// Attempt counts one dispatched request attempt.
func Attempt() {}

// Retry counts one retried attempt with its classified reason.
func Retry(reason string) {}

// HashcashChallenge counts one received proof-of-work challenge.
func HashcashChallenge() {}

// TerminalFailure counts one terminally failed call.
func TerminalFailure(reason string) {}
