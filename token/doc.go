// Package token mints the two credentials handed to clients.
//
// Access tokens are signed JWTs with a fixed, versioned claim set. They are
// never persisted; validity is signature plus expiry.
//
// Refresh tokens are opaque 256-bit random strings. The plaintext leaves this
// package exactly once, from IssueRefresh. Storage only ever sees two derived
// values: a keyed lookup hash used as an index, and a salted digest checked in
// constant time after the lookup.
package token
