package loginguard

import (
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/dietbot/entitlement/pkg/logger"
)

// KeyFunc picks the throttle key for a request.
type KeyFunc func(*http.Request) string

// ClientIP keys by the first valid address in X-Forwarded-For or X-Real-IP,
// falling back to RemoteAddr.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		for ip := range strings.SplitSeq(fwd, ",") {
			if parsed := parseIP(ip); parsed != "" {
				return parsed
			}
		}
	}
	if parsed := parseIP(r.Header.Get("X-Real-IP")); parsed != "" {
		return parsed
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return parseIP(r.RemoteAddr)
	}
	return parseIP(host)
}

func parseIP(s string) string {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return ""
	}
	return ip.String()
}

// Middleware throttles callers that fail verify. Throttled callers get 429
// with Retry-After without reaching verify; failed verification gets 401.
func Middleware(g *Guard, key KeyFunc, verify func(*http.Request) bool) func(http.Handler) http.Handler {
	if key == nil {
		key = ClientIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			k := key(r)
			if k == "" {
				k = "unknown"
			}

			var throttled *ThrottledError
			if err := g.Check(ctx, k); errors.As(err, &throttled) {
				secs := int(throttled.RetryAfter.Seconds())
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}

			ok := verify(r)
			if err := g.Record(ctx, k, ok); err != nil {
				g.log.WarnContext(ctx, "failed to record login attempt", logger.Error(err))
			}
			if !ok {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
