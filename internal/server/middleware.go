package server

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/Tyrowin/chatrelay/internal/admission"
)

// Admission wraps next with the sliding-window limiter, keyed by the client's
// remote IP. Limiter failures let the request through.
func Admission(limiter admission.Limiter, logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := clientIP(r)

		result, err := limiter.Allow(r.Context(), clientID)
		if err != nil {
			logger.Error("Rate limit check failed", "client_id", clientID, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

		if err := result.Err(); err != nil {
			logger.Warn("Rate limit exceeded", "client_id", clientID, "retry_after", result.RetryAfter, "error", err)
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(result.RetryAfter.Seconds()))))
			writeJSON(w, http.StatusTooManyRequests, envelope{Error: "Too many requests"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
