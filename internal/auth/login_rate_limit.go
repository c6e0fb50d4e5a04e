package auth

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LoginRateLimiter throttles login traffic per client IP with a fixed
// window. It sits in front of the per-account lockout and catches spray
// attacks that rotate usernames.
type LoginRateLimiter struct {
	mu       sync.Mutex
	maxHits  int
	window   time.Duration
	counters map[string]*ipWindow
}

type ipWindow struct {
	startedAt time.Time
	hits      int
}

const maxTrackedIPs = 5000

func NewLoginRateLimiter(maxHits int, window time.Duration) *LoginRateLimiter {
	if maxHits <= 0 {
		maxHits = 10
	}
	if window <= 0 {
		window = time.Minute
	}

	return &LoginRateLimiter{
		maxHits:  maxHits,
		window:   window,
		counters: make(map[string]*ipWindow),
	}
}

func (l *LoginRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, retryAfter := l.allow(clientIP(r), time.Now().UTC())
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
			writeError(w, http.StatusTooManyRequests, "too many login attempts")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (l *LoginRateLimiter) allow(ip string, now time.Time) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	counter := l.counters[ip]
	if counter == nil || now.Sub(counter.startedAt) >= l.window {
		l.evictStale(now)
		l.counters[ip] = &ipWindow{startedAt: now, hits: 1}
		return true, 0
	}

	counter.hits++
	if counter.hits > l.maxHits {
		retryAfter := counter.startedAt.Add(l.window).Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		return false, retryAfter
	}

	return true, 0
}

func (l *LoginRateLimiter) evictStale(now time.Time) {
	if len(l.counters) < maxTrackedIPs {
		return
	}
	for ip, counter := range l.counters {
		if now.Sub(counter.startedAt) >= l.window {
			delete(l.counters, ip)
		}
	}
}

func clientIP(r *http.Request) string {
	forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if forwarded != "" {
		if ip := strings.TrimSpace(strings.Split(forwarded, ",")[0]); ip != "" {
			return ip
		}
	}

	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}

	return "unknown"
}
