// Package resetstore keeps single-use password reset records. Only the SHA-256
// of a reset secret is stored; the plaintext exists in the mailed token alone.
package resetstore
