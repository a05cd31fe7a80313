package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ipLimiters hands out one token bucket per client IP.
type ipLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newIPLimiters(requestsPerSecond float64, burstSize int) *ipLimiters {
	return &ipLimiters{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(requestsPerSecond),
		burst:    burstSize,
	}
}

func (l *ipLimiters) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters[ip]
	if !ok {
		limiter = rate.NewLimiter(l.rps, l.burst)
		l.limiters[ip] = limiter
	}
	return limiter
}

// cleanup drops limiters whose bucket has refilled, which means the client
// has been idle.
func (l *ipLimiters) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for ip, limiter := range l.limiters {
		if limiter.Tokens() >= float64(limiter.Burst()) {
			delete(l.limiters, ip)
		}
	}
}

func (l *ipLimiters) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// PerIPRateLimitMiddleware implements per-IP rate limiting. Idle limiters are
// swept every cleanupInterval until stop is closed.
func PerIPRateLimitMiddleware(requestsPerSecond float64, burstSize int, cleanupInterval time.Duration, stop <-chan struct{}) func(http.Handler) http.Handler {
	limiters := newIPLimiters(requestsPerSecond, burstSize)
	if cleanupInterval > 0 {
		go func() {
			ticker := time.NewTicker(cleanupInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					limiters.cleanup()
				case <-stop:
					return
				}
			}
		}()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Check if request is allowed
			if !limiters.get(getClientIP(r)).Allow() {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error": "Rate limit exceeded"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header first (for proxies); the first entry is the client
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}

	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}

	// Fall back to RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// APIRateLimitMiddleware applies stricter rate limiting to API endpoints
func APIRateLimitMiddleware(stop <-chan struct{}) func(http.Handler) http.Handler {
	return PerIPRateLimitMiddleware(10, 20, 5*time.Minute, stop) // 10 requests per second, burst of 20
}
