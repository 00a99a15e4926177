package flows

import "context"

type FinalizeMetrics struct {
	Success int
	Failure int
}

type FinalizeEvents struct {
	Finalize string
}

type FinalizeDeps struct {
	Apply     func(context.Context) error
	Permanent func(error) bool
	Park      func() string
	Fail      func(ticket string, cause error) error

	MetricInc func(int)
	EmitAudit func(context.Context, string, bool, error, func() map[string]string)

	Metrics FinalizeMetrics
	Events  FinalizeEvents
}

// RunFinalize applies the identity-side effect of a verified challenge. On
// a transient failure the input is parked and the returned error carries the
// ticket to retry with.
func RunFinalize(ctx context.Context, deps FinalizeDeps) error {
	normalizeFinalizeDeps(&deps)

	err := deps.Apply(ctx)
	if err == nil {
		deps.MetricInc(deps.Metrics.Success)
		deps.EmitAudit(ctx, deps.Events.Finalize, true, nil, nil)
		return nil
	}

	ticket := ""
	if !deps.Permanent(err) {
		ticket = deps.Park()
	}
	failure := deps.Fail(ticket, err)

	deps.MetricInc(deps.Metrics.Failure)
	deps.EmitAudit(ctx, deps.Events.Finalize, false, failure, func() map[string]string {
		if ticket == "" {
			return map[string]string{"retryable": "false"}
		}
		return map[string]string{"retryable": "true"}
	})
	return failure
}

func normalizeFinalizeDeps(deps *FinalizeDeps) {
	if deps.Permanent == nil {
		deps.Permanent = func(error) bool { return false }
	}
	if deps.Park == nil {
		deps.Park = func() string { return "" }
	}
	if deps.Fail == nil {
		deps.Fail = func(_ string, cause error) error { return cause }
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, error, func() map[string]string) {}
	}
}
