package flows

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"
)

type IssueRecord struct {
	Digest            []byte
	IssuedAt          time.Time
	ExpiresAt         time.Time
	AttemptsRemaining int
}

type IssueMetrics struct {
	Issued            int
	AlreadyRegistered int
	DeliveryFailed    int
	UnknownSubject    int
	RolledBack        int
	DeliveryLatency   int
}

type IssueEvents struct {
	Issue    string
	Rollback string
}

type IssueErrors struct {
	EngineNotReady      error
	AlreadyRegistered   error
	DeliveryFailed      error
	IdentityUnavailable error
}

type IssueDeps struct {
	TTL                 time.Duration
	MaxAttempts         int
	DeliveryTimeout     time.Duration
	RollbackTimeout     time.Duration
	RequireUnregistered bool

	Now  func() time.Time
	Lock func() func()

	IdentityExists   func(context.Context) (bool, error)
	Generate         func() (string, []byte, error)
	Put              func(context.Context, IssueRecord) error
	CurrentDigest    func(context.Context) ([]byte, bool, error)
	Delete           func(context.Context) error
	IsUnknownSubject func(error) bool
	Send             func(context.Context, string) error

	LogError       func(string, error)
	MetricInc      func(int)
	ObserveLatency func(int, time.Duration)
	EmitAudit      func(context.Context, string, bool, error, func() map[string]string)

	Metrics IssueMetrics
	Events  IssueEvents
	Errors  IssueErrors
}

// RunIssue creates, stores and delivers a challenge. If delivery does not
// complete, the stored challenge is removed again unless a newer issue has
// replaced it in the meantime. The rollback runs on a context detached from
// ctx's cancellation so an abandoned request still cleans up.
func RunIssue(ctx context.Context, deps IssueDeps) error {
	normalizeIssueDeps(&deps)

	if deps.Generate == nil || deps.Put == nil || deps.Send == nil || deps.Lock == nil {
		return deps.Errors.EngineNotReady
	}

	if deps.RequireUnregistered {
		if deps.IdentityExists == nil {
			return deps.Errors.EngineNotReady
		}
		exists, existsErr := deps.IdentityExists(ctx)
		if existsErr != nil {
			mapped := fmt.Errorf("%w: %v", deps.Errors.IdentityUnavailable, existsErr)
			deps.EmitAudit(ctx, deps.Events.Issue, false, mapped, nil)
			return mapped
		}
		if exists {
			deps.MetricInc(deps.Metrics.AlreadyRegistered)
			deps.EmitAudit(ctx, deps.Events.Issue, false, deps.Errors.AlreadyRegistered, nil)
			return deps.Errors.AlreadyRegistered
		}
	}

	code, digest, err := deps.Generate()
	if err != nil {
		deps.EmitAudit(ctx, deps.Events.Issue, false, err, func() map[string]string {
			return map[string]string{"reason": "generation_failed"}
		})
		return err
	}

	now := deps.Now()
	record := IssueRecord{
		Digest:            digest,
		IssuedAt:          now,
		ExpiresAt:         now.Add(deps.TTL),
		AttemptsRemaining: deps.MaxAttempts,
	}

	unlock := deps.Lock()
	putErr := deps.Put(ctx, record)
	unlock()
	if putErr != nil {
		if deps.IsUnknownSubject(putErr) {
			deps.MetricInc(deps.Metrics.UnknownSubject)
			deps.EmitAudit(ctx, deps.Events.Issue, true, nil, func() map[string]string {
				return map[string]string{"enumeration_safe": "true"}
			})
			return nil
		}
		deps.EmitAudit(ctx, deps.Events.Issue, false, putErr, nil)
		return putErr
	}

	delivered := false
	defer func() {
		if delivered {
			return
		}
		rollbackIssue(ctx, deps, digest)
	}()

	started := time.Now()
	sendErr := func() error {
		sendCtx, cancel := context.WithTimeout(ctx, deps.DeliveryTimeout)
		defer cancel()
		return deps.Send(sendCtx, code)
	}()
	deps.ObserveLatency(deps.Metrics.DeliveryLatency, time.Since(started))

	if sendErr != nil {
		deps.MetricInc(deps.Metrics.DeliveryFailed)
		mapped := fmt.Errorf("%w: %v", deps.Errors.DeliveryFailed, sendErr)
		deps.EmitAudit(ctx, deps.Events.Issue, false, mapped, func() map[string]string {
			if errors.Is(sendErr, context.DeadlineExceeded) {
				return map[string]string{"reason": "delivery_timeout"}
			}
			return nil
		})
		return mapped
	}

	delivered = true
	deps.MetricInc(deps.Metrics.Issued)
	deps.EmitAudit(ctx, deps.Events.Issue, true, nil, nil)
	return nil
}

func rollbackIssue(ctx context.Context, deps IssueDeps, digest []byte) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deps.RollbackTimeout)
	defer cancel()

	deleted, err := rollbackLocked(rctx, deps, digest)
	if err != nil {
		deps.LogError("rollback delete failed", err)
		deps.EmitAudit(rctx, deps.Events.Rollback, false, err, nil)
		return
	}
	if !deleted {
		return
	}
	deps.MetricInc(deps.Metrics.RolledBack)
	deps.EmitAudit(rctx, deps.Events.Rollback, true, nil, nil)
}

// rollbackLocked deletes the challenge only while it still carries digest.
func rollbackLocked(ctx context.Context, deps IssueDeps, digest []byte) (bool, error) {
	unlock := deps.Lock()
	defer unlock()

	if deps.CurrentDigest != nil {
		current, ok, err := deps.CurrentDigest(ctx)
		if err != nil {
			deps.LogError("rollback lookup failed", err)
			return false, nil
		}
		if !ok || !bytes.Equal(current, digest) {
			return false, nil
		}
	}
	if err := deps.Delete(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func normalizeIssueDeps(deps *IssueDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.DeliveryTimeout <= 0 {
		deps.DeliveryTimeout = 10 * time.Second
	}
	if deps.RollbackTimeout <= 0 {
		deps.RollbackTimeout = 2 * time.Second
	}
	if deps.IsUnknownSubject == nil {
		deps.IsUnknownSubject = func(error) bool { return false }
	}
	if deps.Delete == nil {
		deps.Delete = func(context.Context) error { return nil }
	}
	if deps.LogError == nil {
		deps.LogError = func(string, error) {}
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.ObserveLatency == nil {
		deps.ObserveLatency = func(int, time.Duration) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, error, func() map[string]string) {}
	}
}
