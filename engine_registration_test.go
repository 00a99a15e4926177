package goOTP

import (
	"context"
	"errors"
	"testing"
	"time"
)

func pendingRegistration(email string) Registration {
	return Registration{
		Email:      email,
		Name:       "Ana Lima",
		SecretHash: "$argon2id$v=19$m=65536,t=3,p=1$c2FsdA$aGFzaA",
		Role:       "recruiter",
		Profile:    map[string]string{"company": "Acme"},
	}
}

// Scenario A: a recruiter signs up, receives a code and confirms it.
func TestRegistrationHappyPath(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	if err := te.RequestRegistration(ctx, pendingRegistration("Ana@Example.com")); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if ok, _ := te.identities.Exists(ctx, "ana@example.com"); ok {
		t.Fatalf("identity must not exist before confirmation")
	}

	code := te.notifier.lastCode(t, "ana@example.com")
	id, err := te.ConfirmRegistration(ctx, "ana@example.com", code)
	if err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if id == "" {
		t.Fatalf("expected identity id")
	}

	reg := te.identities.accounts["ana@example.com"]
	if reg.Email != "ana@example.com" || reg.Name != "Ana Lima" || reg.Role != "recruiter" {
		t.Fatalf("payload not carried to Create: %+v", reg)
	}
	if reg.Profile["company"] != "Acme" {
		t.Fatalf("profile not carried to Create: %+v", reg.Profile)
	}

	if _, err := te.ConfirmRegistration(ctx, "ana@example.com", code); !errors.Is(err, ErrNoActiveChallenge) {
		t.Fatalf("second confirm should find nothing, got %v", err)
	}
	if err := te.RequestRegistration(ctx, pendingRegistration("ana@example.com")); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered after signup, got %v", err)
	}
}

// Scenario B: the code is never used and the pending registration disappears.
func TestRegistrationExpiresWithoutIdentity(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	if err := te.RequestRegistration(ctx, pendingRegistration("ana@example.com")); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	code := te.notifier.lastCode(t, "ana@example.com")

	te.clock.Advance(11 * time.Minute)

	if _, err := te.ConfirmRegistration(ctx, "ana@example.com", code); !errors.Is(err, ErrNoActiveChallenge) {
		t.Fatalf("expected ErrNoActiveChallenge, got %v", err)
	}
	if te.identities.createCalls != 0 {
		t.Fatalf("Create must not be called for an expired challenge")
	}
}

func TestRegistrationRequiresHashedSecret(t *testing.T) {
	te := newTestEngine(t, nil)

	reg := pendingRegistration("ana@example.com")
	reg.SecretHash = ""
	if err := te.RequestRegistration(context.Background(), reg); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestRegistrationPayloadIsCopied(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	reg := pendingRegistration("ana@example.com")
	if err := te.RequestRegistration(ctx, reg); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	reg.Profile["company"] = "Mutated"

	code := te.notifier.lastCode(t, "ana@example.com")
	if _, err := te.ConfirmRegistration(ctx, "ana@example.com", code); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if got := te.identities.accounts["ana@example.com"].Profile["company"]; got != "Acme" {
		t.Fatalf("stored payload changed with the caller's map: %q", got)
	}
}

func TestRegistrationFinalizeFailureRetry(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	if err := te.RequestRegistration(ctx, pendingRegistration("ana@example.com")); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	code := te.notifier.lastCode(t, "ana@example.com")

	te.identities.setCreateErr(errors.New("db: connection reset"))
	_, err := te.ConfirmRegistration(ctx, "ana@example.com", code)

	var fe *FinalizeError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FinalizeError, got %v", err)
	}
	if !errors.Is(err, ErrFinalizeFailed) || !errors.Is(err, ErrIdentityUnavailable) {
		t.Fatalf("expected finalize and identity sentinels, got %v", err)
	}
	if fe.Ticket == "" || fe.Subject != "ana@example.com" || fe.Purpose != PurposeRegistration {
		t.Fatalf("unexpected finalize error: %+v", fe)
	}

	// The challenge is already consumed.
	if _, err := te.ConfirmRegistration(ctx, "ana@example.com", code); !errors.Is(err, ErrNoActiveChallenge) {
		t.Fatalf("expected consumed challenge, got %v", err)
	}

	// A failing retry keeps the ticket usable.
	if _, err := te.RetryFinalize(ctx, fe.Ticket); !errors.Is(err, ErrFinalizeFailed) {
		t.Fatalf("expected retry to fail while the store is down, got %v", err)
	}

	te.identities.setCreateErr(nil)
	id, err := te.RetryFinalize(ctx, fe.Ticket)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if id == "" {
		t.Fatalf("expected identity id from retry")
	}
	if _, err := te.RetryFinalize(ctx, fe.Ticket); !errors.Is(err, ErrNoActiveChallenge) {
		t.Fatalf("ticket must be single use, got %v", err)
	}

	snap := te.MetricsSnapshot()
	if snap.Counters[MetricFinalizeFailure] != 2 || snap.Counters[MetricFinalizeSuccess] != 1 {
		t.Fatalf("unexpected finalize counters: %+v", snap.Counters)
	}
}

func TestRegistrationDuplicateAtFinalizeHasNoTicket(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	if err := te.RequestRegistration(ctx, pendingRegistration("ana@example.com")); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	code := te.notifier.lastCode(t, "ana@example.com")

	// Someone else completed a signup for the same address meanwhile.
	te.identities.add("ana@example.com", "other")

	_, err := te.ConfirmRegistration(ctx, "ana@example.com", code)
	var fe *FinalizeError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FinalizeError, got %v", err)
	}
	if !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered cause, got %v", err)
	}
	if fe.Ticket != "" {
		t.Fatalf("permanent failures must not hand out tickets")
	}
}

func TestRetryFinalizeUnknownAndExpiredTickets(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	if _, err := te.RetryFinalize(ctx, "does-not-exist"); !errors.Is(err, ErrNoActiveChallenge) {
		t.Fatalf("expected ErrNoActiveChallenge, got %v", err)
	}

	if err := te.RequestRegistration(ctx, pendingRegistration("ana@example.com")); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	code := te.notifier.lastCode(t, "ana@example.com")
	te.identities.setCreateErr(errors.New("db down"))

	_, err := te.ConfirmRegistration(ctx, "ana@example.com", code)
	var fe *FinalizeError
	if !errors.As(err, &fe) || fe.Ticket == "" {
		t.Fatalf("expected ticket, got %v", err)
	}

	te.identities.setCreateErr(nil)
	te.clock.Advance(11 * time.Minute)
	if _, err := te.RetryFinalize(ctx, fe.Ticket); !errors.Is(err, ErrNoActiveChallenge) {
		t.Fatalf("expired ticket must be rejected, got %v", err)
	}
}

func TestConfirmRegistrationWithoutIdentityStore(t *testing.T) {
	engine, err := New().WithNotifier(&captureNotifier{}).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	if err := engine.RequestRegistration(context.Background(), pendingRegistration("ana@example.com")); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	if _, err := engine.ConfirmRegistration(context.Background(), "ana@example.com", "123456"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
}
