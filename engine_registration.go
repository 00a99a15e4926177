package goOTP

import (
	"context"
	"errors"
	"fmt"

	internalflows "github.com/MrEthical07/goOTP/internal/flows"
)

// RequestRegistration issues a registration challenge for reg.Email and keeps
// reg with the challenge until the address is proven. reg.SecretHash must
// already be hashed.
func (e *Engine) RequestRegistration(ctx context.Context, reg Registration) error {
	if reg.SecretHash == "" {
		return ErrInvalidPayload
	}
	return e.Issue(ctx, reg.Email, PurposeRegistration, &reg)
}

// ConfirmRegistration verifies code and creates the identity from the
// pending registration. It returns the new identity ID.
//
// A failure of the create after a successful verification returns a
// *FinalizeError. The challenge is gone at that point; retry with
// RetryFinalize instead of requesting a new code.
func (e *Engine) ConfirmRegistration(ctx context.Context, email, code string) (string, error) {
	if e == nil || e.identities == nil {
		return "", ErrEngineNotReady
	}

	outcome, err := e.Verify(ctx, email, PurposeRegistration, code)
	if err != nil {
		return "", err
	}
	if outcome.Payload == nil {
		return "", &FinalizeError{Purpose: PurposeRegistration, Subject: outcome.Subject, Cause: ErrInvalidPayload}
	}

	var id string
	err = e.finalize(ctx, finalizeTicket{
		purpose: PurposeRegistration,
		subject: outcome.Subject,
		reg:     outcome.Payload,
	}, &id)
	return id, err
}

// RetryFinalize repeats the identity write of a challenge whose finalize
// step failed. Registration retries return the new identity ID; reset
// retries return "". Unknown, expired and used tickets return
// ErrNoActiveChallenge.
func (e *Engine) RetryFinalize(ctx context.Context, ticket string) (string, error) {
	if e == nil || e.identities == nil {
		return "", ErrEngineNotReady
	}
	t, ok := e.tickets.take(ticket)
	if !ok {
		e.emitAudit(ctx, auditEventFinalizeRetry, false, auditScope{}, ErrNoActiveChallenge, nil)
		return "", ErrNoActiveChallenge
	}

	var id string
	apply := func(ctx context.Context) error {
		return e.applyFinalize(ctx, t, &id)
	}
	deps := e.finalizeFlowDeps(t, apply, auditEventFinalizeRetry)
	deps.Park = func() string {
		if e.tickets.restore(ticket, t) {
			return ticket
		}
		return ""
	}

	if err := internalflows.RunFinalize(ctx, deps); err != nil {
		return "", err
	}
	return id, nil
}

func (e *Engine) finalize(ctx context.Context, t finalizeTicket, id *string) error {
	apply := func(ctx context.Context) error {
		return e.applyFinalize(ctx, t, id)
	}
	return internalflows.RunFinalize(ctx, e.finalizeFlowDeps(t, apply, auditEventChallengeFinalize))
}

func (e *Engine) applyFinalize(ctx context.Context, t finalizeTicket, id *string) error {
	switch t.purpose {
	case PurposeRegistration:
		created, err := e.identities.Create(ctx, *t.reg)
		if err != nil {
			return err
		}
		if id != nil {
			*id = created
		}
		return nil
	case PurposePasswordReset:
		return e.applyPasswordReset(ctx, t)
	default:
		return ErrInvalidPurpose
	}
}

func (e *Engine) finalizeFlowDeps(t finalizeTicket, apply func(context.Context) error, event string) internalflows.FinalizeDeps {
	return internalflows.FinalizeDeps{
		Apply: apply,
		Permanent: func(err error) bool {
			return errors.Is(err, ErrAlreadyRegistered) || errors.Is(err, ErrUnknownSubject)
		},
		Park: func() string {
			return e.tickets.park(t)
		},
		Fail: func(ticket string, cause error) error {
			if !errors.Is(cause, ErrAlreadyRegistered) && !errors.Is(cause, ErrUnknownSubject) {
				cause = fmt.Errorf("%w: %v", ErrIdentityUnavailable, cause)
			}
			return &FinalizeError{
				Purpose: t.purpose,
				Subject: t.subject,
				Ticket:  ticket,
				Cause:   cause,
			}
		},
		MetricInc: func(id int) {
			e.metricInc(MetricID(id))
		},
		EmitAudit: e.auditEmitter(auditScope{subject: t.subject, purpose: t.purpose}),
		Metrics: internalflows.FinalizeMetrics{
			Success: int(MetricFinalizeSuccess),
			Failure: int(MetricFinalizeFailure),
		},
		Events: internalflows.FinalizeEvents{
			Finalize: event,
		},
	}
}
