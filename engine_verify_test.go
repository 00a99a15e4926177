package goOTP

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestVerifyBeforeIssue(t *testing.T) {
	te := newTestEngine(t, nil)

	for _, purpose := range []Purpose{PurposePasswordReset, PurposeRegistration} {
		_, err := te.Verify(context.Background(), "ana@example.com", purpose, "123456")
		if !errors.Is(err, ErrNoActiveChallenge) {
			t.Fatalf("%v: expected ErrNoActiveChallenge, got %v", purpose, err)
		}
	}
}

func TestVerifyInvalidSubjectLooksLikeNoChallenge(t *testing.T) {
	te := newTestEngine(t, nil)

	_, err := te.Verify(context.Background(), "nobody", PurposePasswordReset, "123456")
	if !errors.Is(err, ErrNoActiveChallenge) {
		t.Fatalf("expected ErrNoActiveChallenge, got %v", err)
	}
}

func TestVerifySucceedsExactlyOnce(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	if err := te.RequestPasswordReset(ctx, "ana@example.com"); err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	code := te.notifier.lastCode(t, "ana@example.com")

	outcome, err := te.Verify(ctx, "ANA@example.com", PurposePasswordReset, code)
	if err != nil {
		t.Fatalf("first verify failed: %v", err)
	}
	if outcome.Subject != "ana@example.com" || outcome.Purpose != PurposePasswordReset || outcome.Payload != nil {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}

	if _, err := te.Verify(ctx, "ana@example.com", PurposePasswordReset, code); !errors.Is(err, ErrNoActiveChallenge) {
		t.Fatalf("second verify should find nothing, got %v", err)
	}
}

func TestVerifyExhaustsAttemptBudget(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	if err := te.RequestPasswordReset(ctx, "ana@example.com"); err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	code := te.notifier.lastCode(t, "ana@example.com")
	bad := wrongCode(code)

	for want := 4; want >= 1; want-- {
		_, err := te.Verify(ctx, "ana@example.com", PurposePasswordReset, bad)
		var mismatch *MismatchError
		if !errors.As(err, &mismatch) {
			t.Fatalf("expected *MismatchError, got %v", err)
		}
		if !errors.Is(err, ErrCodeMismatch) {
			t.Fatalf("MismatchError must match ErrCodeMismatch")
		}
		if mismatch.Remaining != want {
			t.Fatalf("expected %d remaining, got %d", want, mismatch.Remaining)
		}
	}

	if _, err := te.Verify(ctx, "ana@example.com", PurposePasswordReset, bad); !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("fifth wrong code should exhaust, got %v", err)
	}
	if _, err := te.Verify(ctx, "ana@example.com", PurposePasswordReset, code); !errors.Is(err, ErrNoActiveChallenge) {
		t.Fatalf("correct code after exhaustion must fail, got %v", err)
	}
}

func TestVerifyMalformedCodeSpendsAttempt(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	if err := te.RequestPasswordReset(ctx, "ana@example.com"); err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	_, err := te.Verify(ctx, "ana@example.com", PurposePasswordReset, "12ab")
	var mismatch *MismatchError
	if !errors.As(err, &mismatch) || mismatch.Remaining != 4 {
		t.Fatalf("expected mismatch with 4 remaining, got %v", err)
	}
}

func TestVerifyExpiredChallenge(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	if err := te.RequestPasswordReset(ctx, "ana@example.com"); err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	code := te.notifier.lastCode(t, "ana@example.com")

	te.clock.Advance(10*time.Minute + time.Second)

	if _, err := te.Verify(ctx, "ana@example.com", PurposePasswordReset, code); !errors.Is(err, ErrNoActiveChallenge) {
		t.Fatalf("expected expired challenge to read as absent, got %v", err)
	}
}

func TestVerifyAtExactExpiryStillValid(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	if err := te.RequestPasswordReset(ctx, "ana@example.com"); err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	code := te.notifier.lastCode(t, "ana@example.com")

	te.clock.Advance(10*time.Minute - time.Second)
	if _, err := te.Verify(ctx, "ana@example.com", PurposePasswordReset, code); err != nil {
		t.Fatalf("challenge should be live before expiry: %v", err)
	}
}

func TestVerifyPurposesAreIndependent(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	if err := te.RequestPasswordReset(ctx, "ana@example.com"); err != nil {
		t.Fatalf("reset issue failed: %v", err)
	}
	resetCode := te.notifier.lastCode(t, "ana@example.com")

	if _, err := te.Verify(ctx, "ana@example.com", PurposeRegistration, resetCode); !errors.Is(err, ErrNoActiveChallenge) {
		t.Fatalf("reset code must not satisfy a registration verify, got %v", err)
	}
	if _, err := te.Verify(ctx, "ana@example.com", PurposePasswordReset, resetCode); err != nil {
		t.Fatalf("reset code should still verify: %v", err)
	}
}

func TestVerifyConcurrentCorrectCodesSingleWinner(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	if err := te.RequestPasswordReset(ctx, "ana@example.com"); err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	code := te.notifier.lastCode(t, "ana@example.com")

	const workers = 64
	var (
		wg        sync.WaitGroup
		successes atomic.Int64
		noActive  atomic.Int64
		start     = make(chan struct{})
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			<-start
			_, err := te.Verify(ctx, "ana@example.com", PurposePasswordReset, code)
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, ErrNoActiveChallenge):
				noActive.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if successes.Load() != 1 {
		t.Fatalf("expected exactly one success, got %d", successes.Load())
	}
	if noActive.Load() != workers-1 {
		t.Fatalf("expected %d no-active results, got %d", workers-1, noActive.Load())
	}
}

func TestVerifyConcurrentWrongCodesNeverOverspend(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	if err := te.RequestPasswordReset(ctx, "ana@example.com"); err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	bad := wrongCode(te.notifier.lastCode(t, "ana@example.com"))

	const workers = 32
	var (
		wg        sync.WaitGroup
		mismatch  atomic.Int64
		exhausted atomic.Int64
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := te.Verify(ctx, "ana@example.com", PurposePasswordReset, bad)
			switch {
			case errors.Is(err, ErrCodeMismatch):
				mismatch.Add(1)
			case errors.Is(err, ErrAttemptsExhausted):
				exhausted.Add(1)
			}
		}()
	}
	wg.Wait()

	if mismatch.Load() != 4 || exhausted.Load() != 1 {
		t.Fatalf("expected 4 mismatches and 1 exhaustion, got %d and %d", mismatch.Load(), exhausted.Load())
	}
}

func TestVerifyStoreFailureIsNotNoActive(t *testing.T) {
	te := newTestEngine(t, func(_ *Config, b *Builder) {
		b.WithStore(PurposePasswordReset, failingStore{})
	})

	_, err := te.Verify(context.Background(), "ana@example.com", PurposePasswordReset, "123456")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}
