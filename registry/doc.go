// Package registry owns sessions and the refresh token chain bound to each.
//
// Every mutation of session or refresh token state goes through [Registry].
// The storage backends ([RedisStore], [PostgresStore]) implement [Store] and
// must provide one atomic primitive: the compare-and-set revoke used by
// [Store.Rotate]. With it, two concurrent rotations of the same token yield
// exactly one winner.
//
// # Invariants
//
//   - At most one non-revoked refresh token exists per session.
//   - Refresh tokens are revoked, never deleted, until their retention lapses.
//   - Presenting a revoked token of a live session is reuse. The whole session
//     is revoked.
//   - A failed gate re-check during rotation leaves the presented token valid.
package registry
