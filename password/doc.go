// Package password hashes account secrets with Argon2id before they reach
// goOTP. Registration payloads and reset confirmations carry only the
// resulting PHC string.
//
// # Output format
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// # What this package must NOT do
//
//   - Store secrets. Callers pass plaintext in and get a hash back.
//   - Import goOTP or any of its sibling packages.
//   - Log plaintext secrets.
package password
