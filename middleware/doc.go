// Package middleware adapts credlife access-token validation to net/http.
//
//   - [RequireJWTOnly] verifies the token signature and lifetime only.
//   - [RequireStrict] also requires the token's session to be active.
//
// Both read a Bearer token from the Authorization header and store the
// validated [credlife.Principal] in the request context. All decisions are
// delegated to the Engine.
package middleware
