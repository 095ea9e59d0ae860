// Package auth is the credential and authorisation engine of Tasklane Core.
//
// It provides:
//   - Argon2id password hashing with opt-in upgrade of weaker stored hashes
//   - Opaque access/refresh token pairs, stored only as SHA-256 digests and
//     rotated in place under a stable ID
//   - Time-boxed sysadmin elevation attached to the token pair in use
//   - An injected, immutable permission catalog that panics on unknown keys
//   - General and per-project permission decisions with elevation override
//
// Tokens travel as base64("<user id>:<hex raw token>"). Hash match and
// expiry are separate gates: GetUserForToken checks the hash, VerifyToken
// adds the expiry check.
//
// Concurrent refreshes of the same pair are last-write-wins unless
// AuthenticatorDeps.OptimisticRotation is set, in which case the loser
// gets ErrTokenRotated.
package auth
