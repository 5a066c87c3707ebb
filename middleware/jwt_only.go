package middleware

import (
	"net/http"

	"github.com/MrEthical07/credlife"
)

// RequireJWTOnly validates without storage access. A logged-out session's
// token passes until it expires.
func RequireJWTOnly(engine *credlife.Engine) func(http.Handler) http.Handler {
	if engine == nil {
		return Guard(nil)
	}
	return Guard(engine.ValidateAccess)
}
