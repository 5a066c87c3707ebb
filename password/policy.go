package password

import (
	"errors"
	"unicode"
	"unicode/utf8"
)

// ErrWeak is returned by a Policy that rejects a candidate password.
var ErrWeak = errors.New("password: does not satisfy policy")

// Policy decides whether a candidate password is acceptable. A nil return
// accepts it. Rejections should wrap ErrWeak.
type Policy func(candidate string) error

// Length accepts passwords whose byte length lies in [min, max]. A max of zero
// means no upper bound.
func Length(min, max int) Policy {
	return func(candidate string) error {
		if len(candidate) < min || (max > 0 && len(candidate) > max) {
			return ErrWeak
		}
		return nil
	}
}

// Classes requires at least n of the four character classes: lower, upper,
// digit, other.
func Classes(n int) Policy {
	return func(candidate string) error {
		if !utf8.ValidString(candidate) {
			return ErrWeak
		}
		var lower, upper, digit, other int
		for _, r := range candidate {
			switch {
			case unicode.IsLower(r):
				lower = 1
			case unicode.IsUpper(r):
				upper = 1
			case unicode.IsDigit(r):
				digit = 1
			default:
				other = 1
			}
		}
		if lower+upper+digit+other < n {
			return ErrWeak
		}
		return nil
	}
}

// All composes policies; the first rejection wins.
func All(policies ...Policy) Policy {
	return func(candidate string) error {
		for _, p := range policies {
			if p == nil {
				continue
			}
			if err := p(candidate); err != nil {
				return err
			}
		}
		return nil
	}
}
