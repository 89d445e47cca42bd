// errors.go - Application-level error code space.
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

package commands

import "fmt"

// ErrorCode is an application-level error code as returned by the API,
// either as a bare response body or embedded in a per-request result slot.
type ErrorCode int

// The error code space, as documented for the remote API.
const (
	OK            ErrorCode = 0
	EInternal     ErrorCode = -1
	EArgs         ErrorCode = -2
	EAgain        ErrorCode = -3
	ERateLimit    ErrorCode = -4
	EFailed       ErrorCode = -5
	ETooMany      ErrorCode = -6
	ERange        ErrorCode = -7
	EExpired      ErrorCode = -8
	ENoEnt        ErrorCode = -9
	ECircular     ErrorCode = -10
	EAccess       ErrorCode = -11
	EExist        ErrorCode = -12
	EIncomplete   ErrorCode = -13
	EKey          ErrorCode = -14
	ESID          ErrorCode = -15
	EBlocked      ErrorCode = -16
	EOverQuota    ErrorCode = -17
	ETempUnavail  ErrorCode = -18
	ETooManyConns ErrorCode = -19
	EWrite        ErrorCode = -20
	ERead         ErrorCode = -21
	EAppKey       ErrorCode = -22
	EMFARequired  ErrorCode = -26
)

var errorCodeStrings = map[ErrorCode]string{
	OK:            "no error",
	EInternal:     "internal error",
	EArgs:         "invalid arguments",
	EAgain:        "request failed, retrying",
	ERateLimit:    "rate limit exceeded",
	EFailed:       "request failed permanently",
	ETooMany:      "too many requests for this resource",
	ERange:        "resource access out of range",
	EExpired:      "resource expired",
	ENoEnt:        "resource does not exist",
	ECircular:     "circular linkage detected",
	EAccess:       "access denied",
	EExist:        "resource already exists",
	EIncomplete:   "request incomplete",
	EKey:          "cryptographic error, invalid key",
	ESID:          "invalid or expired session id",
	EBlocked:      "resource administratively blocked",
	EOverQuota:    "quota exceeded",
	ETempUnavail:  "resource temporarily unavailable",
	ETooManyConns: "too many connections to this resource",
	EWrite:        "write failed",
	ERead:         "read failed",
	EAppKey:       "invalid application key",
	EMFARequired:  "multi-factor authentication required",
}

// Error implements the error interface.
func (e ErrorCode) Error() string {
	if s, ok := errorCodeStrings[e]; ok {
		return fmt.Sprintf("api: %s (%d)", s, int(e))
	}
	return fmt.Sprintf("api: unknown error code (%d)", int(e))
}

// Retryable returns true iff the code is the retry sentinel, meaning the
// request failed but may be safely resubmitted unchanged.
func (e ErrorCode) Retryable() bool {
	return e == EAgain
}
