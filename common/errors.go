// Copyright 2025-2026 The livecap Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import (
	"errors"
	"fmt"
)

// ErrorKind classifies recorder errors for propagation policy decisions
type ErrorKind int

// Recorder error kinds
const (
	// KindUnknown unclassified error
	KindUnknown ErrorKind = iota
	// KindValidation bad input, rejected immediately, never retried
	KindValidation
	// KindDuplicateSession a session for the same key already exists locally
	KindDuplicateSession
	// KindRoomNotFound room resolution exhausted its retries
	KindRoomNotFound
	// KindNotLive the subject is not currently broadcasting
	KindNotLive
	// KindRegionBlocked the subject's broadcast is not viewable from this region
	KindRegionBlocked
	// KindUpstreamUnavailable upstream platform call failed after local retries
	KindUpstreamUnavailable
	// KindTransportDisconnect I/O layer disconnect of a capture source or the
	// coordination channel
	KindTransportDisconnect
	// KindTimeout cross-replica acknowledgment wait expired
	KindTimeout
	// KindFatal unexpected capture I/O error, aborts the session
	KindFatal
)

// Error recorder error with a classification kind
type Error struct {
	Kind  ErrorKind
	Msg   string
	Cause error
}

// Error implement the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", e.Msg, e.Cause)
	}
	return e.Msg
}

// Unwrap expose the wrapped cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError define a new recorder error
func NewError(kind ErrorKind, msg string, cause error) error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// KindOf return the classification of an error, KindUnknown if it carries none
func KindOf(err error) ErrorKind {
	var asError *Error
	if errors.As(err, &asError) {
		return asError.Kind
	}
	return KindUnknown
}
