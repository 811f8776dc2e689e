// SPDX-License-Identifier: MIT

package api

import (
	"crypto/subtle"
	"net/http"
)

// basicAuth gates every route behind the single configured credential.
// Comparison is constant-time to prevent timing attacks.
func (s *Server) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || !authorize(user, s.cfg.AuthUsername) || !authorize(pass, s.cfg.AuthPassword) {
			s.logger.Warn().Str("remote", r.RemoteAddr).Str("path", r.URL.Path).Msg("basic auth failure")
			w.Header().Set("WWW-Authenticate", `Basic realm="accountserver"`)
			s.fail(w, http.StatusUnauthorized, nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func authorize(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
