package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/kiranshivaraju/forge3d/internal/api/response"
	"github.com/kiranshivaraju/forge3d/internal/cache"
	"github.com/kiranshivaraju/forge3d/internal/metrics"
)

const (
	defaultRequestsPerMinute = 60
	rateWindow               = time.Minute
)

// RateLimit counts requests per caller in fixed one-minute windows in Redis.
// Callers are keyed by identity when authenticated, by remote address otherwise.
type RateLimit struct {
	cache          cache.Cache
	scope          string
	requestsPerMin int
	now            func() time.Time
}

// NewRateLimit creates a new RateLimit middleware for one scope, such as
// "submit" or "early_access".
func NewRateLimit(c cache.Cache, scope string, requestsPerMin int) *RateLimit {
	if requestsPerMin <= 0 {
		requestsPerMin = defaultRequestsPerMinute
	}
	return &RateLimit{cache: c, scope: scope, requestsPerMin: requestsPerMin, now: time.Now}
}

func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.cache == nil {
			next.ServeHTTP(w, r)
			return
		}

		window := rl.now().UTC().Truncate(rateWindow)
		reset := window.Add(rateWindow)

		key := cache.RateLimitKey(rl.scope, subject(r), window)
		count, err := rl.cache.IncrWithExpiry(r.Context(), key, rateWindow)
		if err != nil {
			// fail open
			slog.Warn("rate limit check failed", "scope", rl.scope, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		remaining := rl.requestsPerMin - int(count)
		if remaining < 0 {
			remaining = 0
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.requestsPerMin))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

		if count > int64(rl.requestsPerMin) {
			retry := int(reset.Sub(rl.now()).Seconds()) + 1
			if retry < 1 {
				retry = 1
			}
			metrics.IncRateLimitRejection()
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			response.Error(w, http.StatusTooManyRequests,
				"RATE_LIMIT_EXCEEDED", "Too many requests, try again shortly", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func subject(r *http.Request) string {
	if id, ok := GetIdentity(r); ok && id.UserID != "" {
		return "user:" + id.UserID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
