package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterSweepInterval = 5 * time.Minute
	limiterIdleTTL       = 10 * time.Minute
)

// submitLimiter tracks one token bucket per client IP. Entries for
// idle clients are swept so the map stays bounded.
type submitLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientBucket
	limit   rate.Limit
	burst   int
}

type clientBucket struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

func newSubmitLimiter(requestsPerMinute int) *submitLimiter {
	sl := &submitLimiter{
		clients: make(map[string]*clientBucket, 64),
		limit:   rate.Limit(float64(requestsPerMinute) / 60.0),
		// A cold client may burst up to its full per-minute budget.
		burst: requestsPerMinute,
	}

	go sl.sweep()

	return sl
}

func (sl *submitLimiter) allow(ip string) bool {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	cb, ok := sl.clients[ip]
	if !ok {
		cb = &clientBucket{bucket: rate.NewLimiter(sl.limit, sl.burst)}
		sl.clients[ip] = cb
	}

	cb.lastSeen = time.Now()

	return cb.bucket.Allow()
}

func (sl *submitLimiter) sweep() {
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()

	for range ticker.C {
		sl.mu.Lock()

		for ip, cb := range sl.clients {
			if time.Since(cb.lastSeen) > limiterIdleTTL {
				delete(sl.clients, ip)
			}
		}

		sl.mu.Unlock()
	}
}

// rateLimitMiddleware enforces a per-IP rate limit on the routes it
// wraps.
func (s *server) rateLimitMiddleware(
	requestsPerMinute int,
) func(http.Handler) http.Handler {
	limiter := newSubmitLimiter(requestsPerMinute)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.allow(clientIP(r)) {
				writeJSON(w, http.StatusTooManyRequests,
					errorResponse{"rate limit exceeded"})

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP returns the client's IP, preferring the first hop in
// X-Forwarded-For when a reverse proxy is in front.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")

		return strings.TrimSpace(first)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return ip
}
