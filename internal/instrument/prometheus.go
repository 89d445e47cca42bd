//go:build prometheus

// SPDX-FileCopyrightText: Copyright (C) 2026  The Megalite Authors.
// SPDX-License-Identifier: AGPL-3.0-only

// Package instrument exposes counters for the request engine.  Metrics are
// compiled in with the `prometheus` build tag and are no-ops otherwise.
package instrument

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "megalite_request_attempts_total",
			Help: "Number of API request attempts dispatched",
		},
	)
	retriedAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "megalite_request_retries_total",
			Help: "Number of retried API request attempts",
		},
		[]string{"reason"},
	)
	hashcashChallenges = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "megalite_hashcash_challenges_total",
			Help: "Number of proof-of-work challenges received",
		},
	)
	terminalFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "megalite_request_failures_total",
			Help: "Number of API calls that failed terminally",
		},
		[]string{"reason"},
	)
)

// Init registers the collectors and serves the metrics endpoint.
func Init(addr string) {
	prometheus.MustRegister(requestAttempts)
	prometheus.MustRegister(retriedAttempts)
	prometheus.MustRegister(hashcashChallenges)
	prometheus.MustRegister(terminalFailures)

	http.Handle("/metrics", promhttp.Handler())
	go func() {
		_ = http.ListenAndServe(addr, nil)
	}()
}

// Attempt counts one dispatched request attempt.
func Attempt() {
	requestAttempts.Inc()
}

// Retry counts one retried attempt with its classified reason.
func Retry(reason string) {
	retriedAttempts.With(prometheus.Labels{"reason": reason}).Inc()
}

// HashcashChallenge counts one received proof-of-work challenge.
func HashcashChallenge() {
	hashcashChallenges.Inc()
}

// TerminalFailure counts one terminally failed call.
func TerminalFailure(reason string) {
	terminalFailures.With(prometheus.Labels{"reason": reason}).Inc()
}
