// Package password owns password digests: Argon2id hashing in PHC format, the
// pluggable acceptance [Policy], and a [Pool] that bounds how many hash or
// verify calls run at once.
//
// Digests look like:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// The package never stores or logs plaintext. Callers hand in a password and get
// back a digest or a verdict.
package password
