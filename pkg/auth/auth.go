// Package auth implements the abstracted HTTP Basic check in front of
// both the /v2/* and /api/* surfaces (§6 "Authentication (abstracted)").
package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/dockreef/registry/pkg/config"
)

// Middleware wraps next with an HTTP Basic check. When cfg.AuthEnabled is
// false, next is returned unwrapped: there's no auth surface at all, not
// an always-pass check, so a disabled registry never even parses
// credentials off the wire.
func Middleware(cfg config.Config, next http.Handler) http.Handler {
	if !cfg.AuthEnabled {
		return next
	}
	user, pass := []byte(cfg.AuthUser), []byte(cfg.AuthPassword)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, ok := r.BasicAuth()
		if ok &&
			subtle.ConstantTimeCompare([]byte(gotUser), user) == 1 &&
			subtle.ConstantTimeCompare([]byte(gotPass), pass) == 1 {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="Docker Registry"`)
		w.WriteHeader(http.StatusUnauthorized)
	})
}
