// Package flows contains the orchestration behind every Engine operation.
//
// Each flow function (RunIssue, RunVerify, RunFinalize) accepts a typed
// dependency struct of function fields and returns an error. The Engine
// builds the struct per call, binding the subject, purpose and store, so the
// flows never see keys or backends directly.
//
// # Architecture boundaries
//
// Flow functions decide outcomes and ordering: when to lock, when to roll
// back, which counter to bump and which audit event to emit. They do NOT own
// stores, notifiers, locks or the audit dispatcher; ownership stays with the
// Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Report metrics or audit events while holding the per-key lock.
//   - Import goOTP (to avoid import cycles).
//   - Receive or return the plaintext code beyond the Send hand-off.
package flows
