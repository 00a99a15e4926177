package goOTP

import (
	"context"
	"errors"

	internalflows "github.com/MrEthical07/goOTP/internal/flows"
)

// Verify compares code against the live challenge for (subject, purpose).
//
// On a match the challenge is consumed and the outcome carries the pending
// registration, if any. A wrong code spends one attempt and returns a
// *MismatchError, or ErrAttemptsExhausted when it spent the last one.
// Missing, expired and already consumed challenges all yield
// ErrNoActiveChallenge.
func (e *Engine) Verify(ctx context.Context, subject string, purpose Purpose, code string) (VerifyOutcome, error) {
	if e == nil {
		return VerifyOutcome{}, ErrEngineNotReady
	}
	subject, err := NormalizeSubject(subject)
	if err != nil {
		return VerifyOutcome{}, ErrNoActiveChallenge
	}
	if !purpose.Valid() {
		return VerifyOutcome{}, ErrInvalidPurpose
	}

	var payload *Registration
	deps := e.verifyFlowDeps(subject, purpose, &payload)
	if err := internalflows.RunVerify(ctx, code, deps); err != nil {
		return VerifyOutcome{}, err
	}

	return VerifyOutcome{
		Subject: subject,
		Purpose: purpose,
		Payload: payload,
	}, nil
}

func (e *Engine) verifyFlowDeps(subject string, purpose Purpose, payload **Registration) internalflows.VerifyDeps {
	store := e.store(purpose)

	deps := internalflows.VerifyDeps{
		Now:  e.now,
		Lock: e.lockFor(subject, purpose),
		Get: func(ctx context.Context) (internalflows.VerifyRecord, error) {
			c, err := store.Get(ctx, subject, purpose)
			if err != nil {
				return internalflows.VerifyRecord{}, err
			}
			*payload = c.Payload
			return internalflows.VerifyRecord{
				Digest:            c.Digest,
				ExpiresAt:         c.ExpiresAt,
				AttemptsRemaining: c.AttemptsRemaining,
			}, nil
		},
		IsNotFound: func(err error) bool {
			return errors.Is(err, ErrChallengeNotFound)
		},
		Match: e.codec.Match,
		DecrementAttempts: func(ctx context.Context) (int, error) {
			return store.DecrementAttempts(ctx, subject, purpose)
		},
		Delete: func(ctx context.Context) error {
			return store.Delete(ctx, subject, purpose)
		},
		MetricInc: func(id int) {
			e.metricInc(MetricID(id))
		},
		EmitAudit: e.auditEmitter(auditScope{subject: subject, purpose: purpose}),
		Metrics: internalflows.VerifyMetrics{
			Success:   int(MetricVerifySuccess),
			NoActive:  int(MetricVerifyNoActive),
			Mismatch:  int(MetricVerifyMismatch),
			Exhausted: int(MetricVerifyExhausted),
		},
		Events: internalflows.VerifyEvents{
			Verify: auditEventChallengeVerify,
		},
		Errors: internalflows.VerifyErrors{
			EngineNotReady:    ErrEngineNotReady,
			NoActiveChallenge: ErrNoActiveChallenge,
			AttemptsExhausted: ErrAttemptsExhausted,
			Mismatch: func(remaining int) error {
				return &MismatchError{Remaining: remaining}
			},
		},
	}

	if store == nil {
		deps.Get = nil
	}

	return deps
}
