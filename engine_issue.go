package goOTP

import (
	"context"
	"errors"
	"time"

	internalflows "github.com/MrEthical07/goOTP/internal/flows"
)

// Issue creates a challenge for (subject, purpose), replacing any live one,
// and hands the code to the notifier.
//
// Registration issues require payload and fail with ErrAlreadyRegistered
// when the subject already has an identity. If the notifier fails, times out,
// or ctx is cancelled mid-delivery, the stored challenge is removed and
// ErrDeliveryFailed is returned. A store that reports ErrUnknownSubject makes
// Issue succeed without sending anything.
func (e *Engine) Issue(ctx context.Context, subject string, purpose Purpose, payload *Registration) error {
	if e == nil {
		return ErrEngineNotReady
	}
	subject, err := NormalizeSubject(subject)
	if err != nil {
		e.emitAudit(ctx, auditEventChallengeIssue, false, auditScope{purpose: purpose}, err, nil)
		return err
	}
	if !purpose.Valid() {
		return ErrInvalidPurpose
	}
	if (purpose == PurposeRegistration) != (payload != nil) {
		e.emitAudit(ctx, auditEventChallengeIssue, false, auditScope{subject: subject, purpose: purpose}, ErrInvalidPayload, nil)
		return ErrInvalidPayload
	}

	var reg *Registration
	if payload != nil {
		reg = payload.clone()
		reg.Email = subject
	}

	return internalflows.RunIssue(ctx, e.issueFlowDeps(subject, purpose, reg))
}

func (e *Engine) issueFlowDeps(subject string, purpose Purpose, reg *Registration) internalflows.IssueDeps {
	store := e.store(purpose)
	cfg := e.config

	deps := internalflows.IssueDeps{
		TTL:                 cfg.Challenge.TTL,
		MaxAttempts:         cfg.Challenge.MaxAttempts,
		DeliveryTimeout:     cfg.Delivery.Timeout,
		RollbackTimeout:     cfg.Delivery.RollbackTimeout,
		RequireUnregistered: purpose == PurposeRegistration,
		Now:                 e.now,
		Lock:                e.lockFor(subject, purpose),
		Generate:            e.codec.Generate,
		Put: func(ctx context.Context, rec internalflows.IssueRecord) error {
			return store.Put(ctx, subject, purpose, Challenge{
				Digest:            rec.Digest,
				IssuedAt:          rec.IssuedAt,
				ExpiresAt:         rec.ExpiresAt,
				AttemptsRemaining: rec.AttemptsRemaining,
				Payload:           reg,
			})
		},
		CurrentDigest: func(ctx context.Context) ([]byte, bool, error) {
			c, err := store.Get(ctx, subject, purpose)
			if errors.Is(err, ErrChallengeNotFound) {
				return nil, false, nil
			}
			if err != nil {
				return nil, false, err
			}
			return c.Digest, true, nil
		},
		Delete: func(ctx context.Context) error {
			return store.Delete(ctx, subject, purpose)
		},
		IsUnknownSubject: func(err error) bool {
			return errors.Is(err, ErrUnknownSubject)
		},
		Send: func(ctx context.Context, code string) error {
			return e.notifier.Send(ctx, Message{
				To:        subject,
				Code:      code,
				Purpose:   purpose,
				ExpiresIn: cfg.Challenge.TTL,
			})
		},
		LogError: func(msg string, err error) {
			e.logError(msg, purpose, err)
		},
		MetricInc: func(id int) {
			e.metricInc(MetricID(id))
		},
		ObserveLatency: func(id int, d time.Duration) {
			e.metrics.Observe(MetricID(id), d)
		},
		EmitAudit: e.auditEmitter(auditScope{subject: subject, purpose: purpose}),
		Metrics: internalflows.IssueMetrics{
			Issued:            int(MetricIssueSuccess),
			AlreadyRegistered: int(MetricIssueAlreadyRegistered),
			DeliveryFailed:    int(MetricIssueDeliveryFailed),
			UnknownSubject:    int(MetricIssueUnknownSubject),
			RolledBack:        int(MetricIssueRolledBack),
			DeliveryLatency:   int(MetricDeliveryLatency),
		},
		Events: internalflows.IssueEvents{
			Issue:    auditEventChallengeIssue,
			Rollback: auditEventChallengeRollback,
		},
		Errors: internalflows.IssueErrors{
			EngineNotReady:      ErrEngineNotReady,
			AlreadyRegistered:   ErrAlreadyRegistered,
			DeliveryFailed:      ErrDeliveryFailed,
			IdentityUnavailable: ErrIdentityUnavailable,
		},
	}

	if e.identities != nil {
		deps.IdentityExists = func(ctx context.Context) (bool, error) {
			return e.identities.Exists(ctx, subject)
		}
	}
	if store == nil || e.notifier == nil {
		deps.Put = nil
		deps.Send = nil
	}

	return deps
}
