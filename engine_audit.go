package goOTP

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventChallengeIssue    = "challenge_issue"
	auditEventChallengeRollback = "challenge_rollback"
	auditEventChallengeVerify   = "challenge_verify"
	auditEventChallengeFinalize = "challenge_finalize"
	auditEventFinalizeRetry     = "challenge_finalize_retry"
)

// AuditErrorCode is the stable error label written into AuditEvent.Error.
type AuditErrorCode string

const (
	auditErrAlreadyRegistered AuditErrorCode = "already_registered"
	auditErrDeliveryFailed    AuditErrorCode = "delivery_failed"
	auditErrNoActive          AuditErrorCode = "no_active_challenge"
	auditErrCodeMismatch      AuditErrorCode = "code_mismatch"
	auditErrAttemptsExhausted AuditErrorCode = "attempts_exhausted"
	auditErrFinalizeFailed    AuditErrorCode = "finalize_failed"
	auditErrInvalidRequest    AuditErrorCode = "invalid_request"
	auditErrUnavailable       AuditErrorCode = "backend_unavailable"
	auditErrInternal          AuditErrorCode = "internal_error"
)

type auditScope struct {
	subject string
	purpose Purpose
}

func (e *Engine) auditEmitter(scope auditScope) func(context.Context, string, bool, error, func() map[string]string) {
	return func(ctx context.Context, eventType string, success bool, err error, metadataBuilder func() map[string]string) {
		e.emitAudit(ctx, eventType, success, scope, err, metadataBuilder)
	}
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	scope auditScope,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		Subject:   scope.subject,
		IP:        clientIPFromContext(ctx),
		RequestID: requestIDFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if scope.purpose.Valid() {
		event.Purpose = scope.purpose.String()
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrAlreadyRegistered):
		return auditErrAlreadyRegistered
	case errors.Is(err, ErrDeliveryFailed):
		return auditErrDeliveryFailed
	case errors.Is(err, ErrNoActiveChallenge):
		return auditErrNoActive
	case errors.Is(err, ErrCodeMismatch):
		return auditErrCodeMismatch
	case errors.Is(err, ErrAttemptsExhausted):
		return auditErrAttemptsExhausted
	case errors.Is(err, ErrFinalizeFailed):
		return auditErrFinalizeFailed
	case errors.Is(err, ErrInvalidSubject),
		errors.Is(err, ErrInvalidPurpose),
		errors.Is(err, ErrInvalidPayload):
		return auditErrInvalidRequest
	case errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, ErrIdentityUnavailable),
		errors.Is(err, ErrEngineNotReady),
		errors.Is(err, context.DeadlineExceeded):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}

func (e *Engine) now() time.Time {
	if e == nil || e.clock == nil {
		return time.Now()
	}
	return e.clock()
}
