package middleware

import (
	"net/http"

	"github.com/MrEthical07/credlife"
)

func RequireStrict(engine *credlife.Engine) func(http.Handler) http.Handler {
	if engine == nil {
		return Guard(nil)
	}
	return Guard(engine.ValidateSession)
}
