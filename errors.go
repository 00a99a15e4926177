package goOTP

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrAlreadyRegistered is returned by a registration issue when the subject already owns an identity.
	ErrAlreadyRegistered = errors.New("identity already registered")
	// ErrDeliveryFailed is returned when the notifier could not hand off the code. The challenge is rolled back.
	ErrDeliveryFailed = errors.New("challenge delivery failed")
	// ErrNoActiveChallenge covers missing, expired, consumed and superseded challenges alike.
	ErrNoActiveChallenge = errors.New("no active challenge")
	// ErrCodeMismatch is wrapped by *MismatchError, which carries the remaining attempt budget.
	ErrCodeMismatch = errors.New("challenge code mismatch")
	// ErrAttemptsExhausted is returned by the failed verification that spent the last attempt.
	ErrAttemptsExhausted = errors.New("challenge attempts exhausted")
	// ErrFinalizeFailed is wrapped by *FinalizeError. The challenge has already been consumed.
	ErrFinalizeFailed = errors.New("challenge accepted but finalize failed")

	// ErrInvalidSubject is returned for subject keys that are not a single email address.
	ErrInvalidSubject = errors.New("invalid challenge subject")
	// ErrInvalidPurpose is returned for purposes outside the known set.
	ErrInvalidPurpose = errors.New("invalid challenge purpose")
	// ErrInvalidPayload is returned when a registration issue has no payload or a reset issue carries one.
	ErrInvalidPayload = errors.New("invalid challenge payload")
	// ErrEngineNotReady is returned by operations whose collaborators were not configured.
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrIdentityUnavailable wraps identity store failures other than duplicates.
	ErrIdentityUnavailable = errors.New("identity store unavailable")

	// ErrChallengeNotFound is the store-level not-found result. Stores return it for
	// missing, expired and consumed entries.
	ErrChallengeNotFound = errors.New("challenge not found")
	// ErrUnknownSubject is returned by stores that attach challenges to an existing row
	// when no row matches the subject.
	ErrUnknownSubject = errors.New("unknown challenge subject")
	// ErrUnsupportedPurpose is returned by stores that only hold one purpose.
	ErrUnsupportedPurpose = errors.New("purpose not supported by store")
	// ErrStoreUnavailable wraps backend failures of a challenge store.
	ErrStoreUnavailable = errors.New("challenge store unavailable")
)

// MismatchError reports a wrong code together with the attempts that are left.
type MismatchError struct {
	Remaining int
}

func (e *MismatchError) Error() string {
	return ErrCodeMismatch.Error() + ": " + strconv.Itoa(e.Remaining) + " attempts remaining"
}

func (e *MismatchError) Unwrap() error {
	return ErrCodeMismatch
}

// FinalizeError reports that a challenge was consumed but the identity store
// rejected the follow-up write. Ticket can be passed to Engine.RetryFinalize
// until it expires; it is empty when no retry is possible.
type FinalizeError struct {
	Purpose Purpose
	Subject string
	Ticket  string
	Cause   error
}

func (e *FinalizeError) Error() string {
	if e.Cause == nil {
		return ErrFinalizeFailed.Error()
	}
	return fmt.Sprintf("%v: %v", ErrFinalizeFailed, e.Cause)
}

// Unwrap exposes both the sentinel and the identity store cause to errors.Is.
func (e *FinalizeError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrFinalizeFailed}
	}
	return []error{ErrFinalizeFailed, e.Cause}
}
