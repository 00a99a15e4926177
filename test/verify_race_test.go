//go:build integration
// +build integration

package test

import (
	"context"
	"errors"
	"sync"
	"testing"

	goOTP "github.com/MrEthical07/goOTP"
)

func TestVerifyRaceSingleWinner(t *testing.T) {
	ctx := context.Background()
	_, rdb := newMiniredis(t)
	box := newOutbox()
	engine := newRedisEngine(t, rdb, newIdentities("race@example.com"), box)

	if err := engine.RequestPasswordReset(ctx, "race@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	code := box.code(t, "race@example.com")

	const workers = 16
	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(workers)

	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			<-start
			_, err := engine.Verify(ctx, "race@example.com", goOTP.PurposePasswordReset, code)
			results <- err
		}()
	}

	close(start)
	wg.Wait()
	close(results)

	success := 0
	for err := range results {
		switch {
		case err == nil:
			success++
		case errors.Is(err, goOTP.ErrNoActiveChallenge):
		default:
			t.Fatalf("unexpected verify error: %v", err)
		}
	}

	if success != 1 {
		t.Fatalf("expected exactly one winner, got %d", success)
	}
	if got := engine.MetricsSnapshot().Counters[goOTP.MetricVerifySuccess]; got != 1 {
		t.Fatalf("expected verify_success=1, got %d", got)
	}
}

func TestVerifyRaceMismatchesNeverOverspend(t *testing.T) {
	ctx := context.Background()
	_, rdb := newMiniredis(t)
	box := newOutbox()
	engine := newRedisEngine(t, rdb, newIdentities("spend@example.com"), box)

	if err := engine.RequestPasswordReset(ctx, "spend@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	bad := wrongCode(box.code(t, "spend@example.com"))

	const workers = 12
	var wg sync.WaitGroup
	wg.Add(workers)
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := engine.Verify(ctx, "spend@example.com", goOTP.PurposePasswordReset, bad)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var mismatches, exhausted, noActive int
	for err := range results {
		var m *goOTP.MismatchError
		switch {
		case errors.As(err, &m):
			mismatches++
		case errors.Is(err, goOTP.ErrAttemptsExhausted):
			exhausted++
		case errors.Is(err, goOTP.ErrNoActiveChallenge):
			noActive++
		default:
			t.Fatalf("unexpected verify error: %v", err)
		}
	}

	if mismatches != 4 || exhausted != 1 || noActive != workers-5 {
		t.Fatalf("expected 4 mismatches, 1 exhausted, %d no-active; got %d/%d/%d",
			workers-5, mismatches, exhausted, noActive)
	}
}
