package httpapi

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// requireJWT accepts an HS256 token signed with secret, taken from the
// Authorization header or, for websocket clients that cannot set headers,
// the access_token query parameter.
func requireJWT(secret string) func(http.Handler) http.Handler {
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				respondError(w, http.StatusUnauthorized, "missing_token", "missing or malformed jwt")
				return
			}

			token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
				return key, nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !token.Valid {
				respondError(w, http.StatusUnauthorized, "invalid_token", "invalid or expired jwt")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return ""
		}
		return strings.TrimSpace(token)
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}
