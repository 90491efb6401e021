package middlewares

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/oauth"
	"github.com/go-chi/render"

	"github.com/formloop/formloop/httpx"
	"github.com/formloop/formloop/ratelimit"
	"github.com/formloop/formloop/submission"
)

// Admin checks for the 'admin' role in an OAuth token.
func Admin(tokenSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return chi.Chain(oauth.Authorize(tokenSecret, nil), admin).Handler(next)
	}
}

func admin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := r.Context().Value(oauth.ClaimsContext).(map[string]string)

		isAdmin := false
		if rolesClaim, ok := claims["roles"]; ok {
			roles := strings.Split(rolesClaim, ",")
			for _, role := range roles {
				if role == "admin" {
					isAdmin = true
					break
				}
			}
		}

		if !isAdmin {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RateLimit applies a fixed-window limit per client IP and attaches the
// X-RateLimit-* headers to every response it handles.
func RateLimit(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result := limiter.Check(httpx.ClientIP(r))
			httpx.RateLimitHeaders(w, result)
			if !result.Allowed {
				render.Status(r, http.StatusTooManyRequests)
				render.JSON(w, r, map[string]any{
					"error": "Too many requests. Please try again later.",
					"type":  submission.TypeRateLimitExceeded,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
