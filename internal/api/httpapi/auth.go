package httpapi

import (
	"crypto/subtle"
	"net/http"

	zlog "github.com/rs/zerolog/log"
)

// AdminTokenHeader is the header name for admin authentication token.
const AdminTokenHeader = "X-Admin-Token"

// requireAdmin rejects requests whose X-Admin-Token does not match the
// configured token. With no token configured every request passes.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	if s.config.AdminToken == "" {
		return next
	}
	want := []byte(s.config.AdminToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(AdminTokenHeader)
		if token == "" || subtle.ConstantTimeCompare([]byte(token), want) != 1 {
			zlog.Debug().Msgf("httpapi: unauthenticated request: method=%s, path=%s, remote=%s", r.Method, r.URL.Path, r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, "unauthenticated")
			return
		}
		next.ServeHTTP(w, r)
	})
}
