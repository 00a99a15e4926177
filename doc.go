// Package goOTP provides a one-time-passcode challenge engine for password
// reset and pre-registration email verification.
//
// An [Engine] issues a short numeric code bound to a (subject, purpose) pair,
// hands it to a [Notifier], and later verifies a claimed code exactly once.
// Only a digest of the code is stored. Wrong codes spend a fixed attempt
// budget; the challenge expires after a fixed TTL.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build]. For any single (subject, purpose)
// the read-compare-update of a verification is linearizable, so among
// concurrent submissions of the correct code exactly one succeeds.
//
// # Architecture boundaries
//
// goOTP is the public surface. It exposes [Engine], [Builder], [Config], the
// [ChallengeStore], [Notifier] and [IdentityStore] interfaces, and two store
// implementations ([EphemeralStore], [RedisStore]). Flow orchestration,
// record encoding and per-key locking live under internal/. Reference
// collaborators live in sibling packages: accounts (SQL identities and
// durable reset challenges), notify (SMTP), httpapi (echo handlers).
//
// # What this package must NOT do
//
//   - Log, store, or return the plaintext code. It exists only between
//     generation and the Notifier hand-off.
//   - Reveal through errors whether an account exists, beyond the
//     registration duplicate check.
//   - Import any sub-package that re-imports goOTP (no import cycles).
package goOTP
