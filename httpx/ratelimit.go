package httpx

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/formloop/formloop/ratelimit"
)

// ClientIP derives the client address from standard proxy headers,
// falling back to "unknown" when none is present. The sentinel keeps
// the rate limiter working (all unidentifiable clients share a bucket)
// instead of letting headerless traffic bypass it.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("x-forwarded-for"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if realIP := r.Header.Get("x-real-ip"); realIP != "" {
		return realIP
	}
	if clientIP := r.Header.Get("x-client-ip"); clientIP != "" {
		return clientIP
	}
	return "unknown"
}

// RateLimitHeaders attaches the X-RateLimit-* headers for a limiter
// decision. Reset is the absolute reset time in unix milliseconds,
// Reset-After the remaining seconds rounded up.
func RateLimitHeaders(w http.ResponseWriter, result ratelimit.Result) {
	header := w.Header()
	header.Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	header.Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetTime.UnixMilli(), 10))

	after := math.Ceil(time.Until(result.ResetTime).Seconds())
	if after < 0 {
		after = 0
	}
	header.Set("X-RateLimit-Reset-After", strconv.FormatInt(int64(after), 10))
}
