package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// authenticate checks the bearer token and scopes it to the path tenant.
// With no secret configured every request passes.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.jwtSecret) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing bearer token"})
			return
		}
		claims := jwt.MapClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			return s.jwtSecret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: fmt.Sprintf("invalid token: %v", err)})
			return
		}
		if tenant, _ := claims["tenant_id"].(string); tenant != tenantID(r) {
			writeJSON(w, http.StatusForbidden, errorBody{Error: "token is not valid for this tenant"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
