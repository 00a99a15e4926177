package goOTP

import (
	"context"
	"log/slog"
)

// RequestPasswordReset issues a password-reset challenge for email.
//
// With a store that attaches challenges to existing accounts, unknown
// addresses succeed silently so callers cannot tell which addresses have accounts.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	return e.Issue(ctx, email, PurposePasswordReset, nil)
}

// ConfirmPasswordReset verifies code and, on success, replaces the stored
// credential with newSecret. newSecret is passed to the identity store as
// given; hash it before calling.
//
// A failure of the credential write after a successful verification returns
// a *FinalizeError; its Ticket can be passed to RetryFinalize.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, email, code, newSecret string) error {
	if e == nil || e.identities == nil {
		return ErrEngineNotReady
	}
	if newSecret == "" {
		return ErrInvalidPayload
	}

	outcome, err := e.Verify(ctx, email, PurposePasswordReset, code)
	if err != nil {
		return err
	}

	return e.finalize(ctx, finalizeTicket{
		purpose: PurposePasswordReset,
		subject: outcome.Subject,
		secret:  newSecret,
	}, nil)
}

func (e *Engine) applyPasswordReset(ctx context.Context, t finalizeTicket) error {
	if err := e.identities.UpdateCredential(ctx, t.subject, t.secret); err != nil {
		return err
	}
	e.notifyCredentialChanged(ctx, t.subject)
	return nil
}

// notifyCredentialChanged sends the optional confirmation notice. Failures
// are logged and never fail the reset.
func (e *Engine) notifyCredentialChanged(ctx context.Context, subject string) {
	cn, ok := e.notifier.(CredentialNotifier)
	if !ok {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.Delivery.Timeout)
	defer cancel()
	if err := cn.NotifyCredentialChanged(nctx, subject); err != nil {
		e.logger.Warn("goOTP: credential change notice failed", slog.Any("error", err))
	}
}
