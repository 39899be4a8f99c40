package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/tidic84/InstaAi/internal/model"
)

// NewCronSecretMiddleware guards the scheduler trigger. The caller passes the
// shared secret either as ?secret= or as a bearer token.
func NewCronSecretMiddleware(secret string) func(next http.Handler) http.Handler {
	want := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.URL.Query().Get("secret")
			if got == "" {
				got, _ = bearerToken(r)
			}
			if len(want) == 0 || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				slog.Warn("cron trigger rejected", slog.String("remote_addr", r.RemoteAddr))
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
