// Package credlife turns verified passwords into short-lived signed access
// tokens and long-lived opaque refresh tokens, rotates refresh tokens safely
// under concurrent use, and revokes sessions one at a time or all at once.
//
// The root package is the public surface: [Engine], [Builder], [Config] and
// the error taxonomy. Storage backends (Redis, Postgres) live in the
// credential and registry packages and are selected by the Builder.
//
// # Concurrency
//
// Engine methods are safe for concurrent use after [Builder.Build]. Two
// concurrent Refresh calls presenting the same refresh token produce exactly
// one success; the loser is treated as token reuse.
//
// # Errors
//
// Every returned error matches one sentinel in errors.go via errors.Is.
// Storage failures are joined with [ErrInternal] so the cause stays
// inspectable.
package credlife
