package flows

import (
	"context"
	"time"
)

type VerifyRecord struct {
	Digest            []byte
	ExpiresAt         time.Time
	AttemptsRemaining int
}

type VerifyMetrics struct {
	Success   int
	NoActive  int
	Mismatch  int
	Exhausted int
}

type VerifyEvents struct {
	Verify string
}

type VerifyErrors struct {
	EngineNotReady    error
	NoActiveChallenge error
	AttemptsExhausted error
	Mismatch          func(remaining int) error
}

type VerifyDeps struct {
	Now  func() time.Time
	Lock func() func()

	Get               func(context.Context) (VerifyRecord, error)
	IsNotFound        func(error) bool
	Match             func(string, []byte) bool
	DecrementAttempts func(context.Context) (int, error)
	Delete            func(context.Context) error

	MetricInc func(int)
	EmitAudit func(context.Context, string, bool, error, func() map[string]string)

	Metrics VerifyMetrics
	Events  VerifyEvents
	Errors  VerifyErrors
}

// verifyResult is what the locked section decided. Metrics and audit are
// reported from it after the lock is released.
type verifyResult struct {
	err    error
	ok     bool
	metric int
	reason string
}

// RunVerify checks code against the live challenge. The read-compare-update
// sequence runs under the per-key lock, so exactly one of any number of
// concurrent correct submissions succeeds. Audit and metrics are reported
// after the lock is released.
func RunVerify(ctx context.Context, code string, deps VerifyDeps) error {
	normalizeVerifyDeps(&deps)

	if deps.Get == nil || deps.Match == nil || deps.DecrementAttempts == nil || deps.Delete == nil || deps.Lock == nil {
		return deps.Errors.EngineNotReady
	}

	res := verifyLocked(ctx, code, deps)

	if res.metric >= 0 {
		deps.MetricInc(res.metric)
	}
	var meta func() map[string]string
	if res.reason != "" {
		meta = func() map[string]string {
			return map[string]string{"reason": res.reason}
		}
	}
	deps.EmitAudit(ctx, deps.Events.Verify, res.ok, res.err, meta)
	return res.err
}

func verifyLocked(ctx context.Context, code string, deps VerifyDeps) verifyResult {
	unlock := deps.Lock()
	defer unlock()

	record, err := deps.Get(ctx)
	if err != nil {
		if deps.IsNotFound(err) {
			return noActive(deps, "not_found")
		}
		return verifyResult{err: err, metric: -1}
	}

	if deps.Now().After(record.ExpiresAt) {
		if err := deps.Delete(ctx); err != nil {
			return verifyResult{err: err, metric: -1}
		}
		return noActive(deps, "expired")
	}

	if !deps.Match(code, record.Digest) {
		remaining, err := deps.DecrementAttempts(ctx)
		if err != nil {
			if deps.IsNotFound(err) {
				return noActive(deps, "vanished")
			}
			return verifyResult{err: err, metric: -1}
		}
		if remaining <= 0 {
			return verifyResult{err: deps.Errors.AttemptsExhausted, metric: deps.Metrics.Exhausted}
		}
		return verifyResult{err: deps.Errors.Mismatch(remaining), metric: deps.Metrics.Mismatch}
	}

	if err := deps.Delete(ctx); err != nil {
		return verifyResult{err: err, metric: -1}
	}
	return verifyResult{ok: true, metric: deps.Metrics.Success}
}

func noActive(deps VerifyDeps, reason string) verifyResult {
	return verifyResult{err: deps.Errors.NoActiveChallenge, metric: deps.Metrics.NoActive, reason: reason}
}

func normalizeVerifyDeps(deps *VerifyDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.IsNotFound == nil {
		deps.IsNotFound = func(error) bool { return false }
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, error, func() map[string]string) {}
	}
	if deps.Errors.Mismatch == nil {
		deps.Errors.Mismatch = func(int) error { return deps.Errors.NoActiveChallenge }
	}
}
