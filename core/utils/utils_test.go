// SPDX-FileCopyrightText: Copyright (C) 2026  The Megalite Authors.
// SPDX-License-Identifier: AGPL-3.0-only

package utils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExplicitBzero(t *testing.T) {
	require := require.New(t)

	b := []byte{0xde, 0xad, 0xbe, 0xef}
	ExplicitBzero(b)
	require.True(CtIsZero(b))

	ExplicitBzero(nil) // must not panic
}

func TestCtIsZero(t *testing.T) {
	require := require.New(t)

	require.True(CtIsZero(nil))
	require.True(CtIsZero(make([]byte, 32)))
	require.False(CtIsZero([]byte{0, 0, 1, 0}))
}
