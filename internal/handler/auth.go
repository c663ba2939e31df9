package handler

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/dkarpov/omrscore/internal/i18n"
)

// requireToken checks the Authorization bearer token against the configured
// password hash. A no-op when no hash is configured.
func (h *Handler) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(h.config.TokenHash) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": i18n.T(r.Context(), "Unauthorized")})
			return
		}
		if err := bcrypt.CompareHashAndPassword(h.config.TokenHash, []byte(token)); err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": i18n.T(r.Context(), "Unauthorized")})
			return
		}
		next.ServeHTTP(w, r)
	})
}
