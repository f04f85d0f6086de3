// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package auth

import "time"

// Outcome labels passed to a Recorder.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeConflict = "conflict"
	OutcomeInvalid  = "invalid"
	OutcomeNotFound = "not_found"
	OutcomeExpired  = "expired"
	OutcomeError    = "error"
)

// Recorder receives operational events from Service and SessionManager.
// Implementations must be safe for concurrent use.
type Recorder interface {
	RecordLogin(outcome string)
	RecordRegistration(outcome string)
	RecordSessionOperation(operation, outcome string)
	ObservePasswordHash(operation string, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordLogin(string)                        {}
func (nopRecorder) RecordRegistration(string)                 {}
func (nopRecorder) RecordSessionOperation(string, string)     {}
func (nopRecorder) ObservePasswordHash(string, time.Duration) {}

// outcomeOf maps an error returned by this package to a Recorder outcome.
func outcomeOf(err error) string {
	if err == nil {
		return OutcomeSuccess
	}
	switch KindOf(err) {
	case KindValidation:
		return OutcomeInvalid
	case KindAuthentication:
		return OutcomeRejected
	case KindConflict:
		return OutcomeConflict
	case KindNotFound:
		return OutcomeNotFound
	case KindExpired:
		return OutcomeExpired
	default:
		return OutcomeError
	}
}
