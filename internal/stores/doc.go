// Package stores provides the challenge record backends behind the public
// ChallengeStore adapters: a sharded in-memory map and a Redis store.
//
// # Design
//
// Both backends hold a versioned Record keyed by "<purpose>:<subject>".
// Reads treat expired records as absent and remove them. DecrementAttempts
// removes the record in the same atomic step that spends the last attempt:
// the memory store under its shard mutex, the Redis store inside a
// WATCH/MULTI transaction retried on contention.
//
// # Architecture boundaries
//
// This package owns persistence and per-record atomicity only. It does NOT
// generate codes, compare digests, or decide outcomes; those belong to
// internal/flows.
//
// # What this package must NOT do
//
//   - Import goOTP or any sibling internal package.
//   - Store or log plaintext codes.
package stores
