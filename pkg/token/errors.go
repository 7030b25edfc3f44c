/*******************************************************************************
*
* Copyright 2018 Yahoo Japan Corporation
*
* Licensed under the Apache License, Version 2.0 (the "License");
* you may not use this file except in compliance with the License.
* You should have received a copy of the License along with this
* program. If not, you may obtain a copy of the License at
*
*     http://www.apache.org/licenses/LICENSE-2.0
*
* Unless required by applicable law or agreed to in writing, software
* distributed under the License is distributed on an "AS IS" BASIS,
* WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
* See the License for the specific language governing permissions and
* limitations under the License.
*
*******************************************************************************/

package token

import (
	"errors"
	"fmt"
)

// Kind classifies token and identity errors so that callers can map them to
// transport-level responses without parsing message strings.
type Kind int

const (
	// KindNone is the zero value and means "not a classified error".
	KindNone Kind = iota
	// KindInvalidInput means a malformed or missing required field; always
	// a local, immediate, non-retryable rejection.
	KindInvalidInput
	// KindNotFound means a referenced entity (token, endpoint, user id) is
	// absent in the store.
	KindNotFound
	// KindExpired means the seed's expiry timestamp has passed.
	KindExpired
	// KindVerificationFailed means the recomputed token or signature does
	// not match the presented value, or a publisher/tenant-scope mismatch.
	KindVerificationFailed
	// KindUpstreamUnavailable means an identity service, OIDC issuer or
	// cluster API was unreachable, timed out or returned an unexpected shape.
	KindUpstreamUnavailable
	// KindStorageInconsistent means the store returned a value failing
	// internal shape invariants.
	KindStorageInconsistent
)

// Error is an error with a Kind attached. Its message is suitable for
// logging; it must never contain seed contents.
type Error struct {
	kind    Kind
	message string
}

// NewError creates a classified error.
func NewError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{kind: kind, message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	return e.message
}

// ErrorKind returns the error's classification.
func (e *Error) ErrorKind() Kind {
	return e.kind
}

// KindOf extracts the Kind from an error chain. Unclassified errors yield
// KindNone.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.kind
	}
	return KindNone
}
