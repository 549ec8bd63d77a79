package ratelimit

import (
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// KeyFunc returns the bucket key of a request. Requests without a key are
// limited by client IP.
type KeyFunc func(r *http.Request) (string, bool)

// Limiter manages token buckets per principal or client IP.
type Limiter struct {
	limiters       map[string]*limiterEntry
	mu             sync.Mutex
	rate           rate.Limit
	burst          int
	cleanup        time.Duration
	maxEntries     int
	trustedProxies []*net.IPNet
	stop           chan struct{}
	stopOnce       sync.Once
	now            func() time.Time
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// New creates a limiter allowing r requests per second with bursts of b.
// Stale buckets are dropped every cleanup interval until Stop is called.
// trustedProxies lists CIDRs or IPs whose forwarding headers are honored;
// empty trusts every peer.
func New(r rate.Limit, b int, cleanup time.Duration, trustedProxies []string) *Limiter {
	l := &Limiter{
		limiters:   make(map[string]*limiterEntry),
		rate:       r,
		burst:      b,
		cleanup:    cleanup,
		maxEntries: 10000,
		stop:       make(chan struct{}),
		now:        time.Now,
	}

	for _, cidr := range trustedProxies {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			if ip := net.ParseIP(cidr); ip != nil {
				bits := 128
				if ip.To4() != nil {
					bits = 32
				}
				ipnet = &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}
			}
		}
		if ipnet != nil {
			l.trustedProxies = append(l.trustedProxies, ipnet)
		}
	}

	go l.cleanupStale()
	return l
}

// Stop ends the cleanup goroutine.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Allow reports whether the bucket of key has a token left.
func (l *Limiter) Allow(key string) bool {
	return l.getLimiter(key).AllowN(l.now(), 1)
}

func (l *Limiter) getLimiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, exists := l.limiters[key]
	if !exists {
		if len(l.limiters) >= l.maxEntries {
			l.evictOldest()
		}
		entry = &limiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[key] = entry
	}
	entry.lastAccess = l.now()
	return entry.limiter
}

func (l *Limiter) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range l.limiters {
		if oldestKey == "" || entry.lastAccess.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.lastAccess
		}
	}
	if oldestKey != "" {
		delete(l.limiters, oldestKey)
	}
}

func (l *Limiter) cleanupStale() {
	ticker := time.NewTicker(l.cleanup)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.dropIdle(l.now().Add(-l.cleanup * 2))
		}
	}
}

func (l *Limiter) dropIdle(cutoff time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, entry := range l.limiters {
		if entry.lastAccess.Before(cutoff) {
			delete(l.limiters, key)
		}
	}
}

// Middleware limits requests with one of methods, or every request when
// methods is empty.
func (l *Limiter) Middleware(key KeyFunc, methods ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(methods) > 0 && !slices.Contains(methods, r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			k, ok := "", false
			if key != nil {
				k, ok = key(r)
			}
			if !ok {
				k = "ip:" + l.ClientIP(r)
			}
			if !l.Allow(k) {
				w.Header().Set("Retry-After", strconv.Itoa(l.retryAfter()))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (l *Limiter) retryAfter() int {
	if l.rate <= 0 {
		return 60
	}
	secs := int(1 / float64(l.rate))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// ClientIP returns the originating client address, reading forwarding
// headers only from trusted proxies.
func (l *Limiter) ClientIP(r *http.Request) string {
	remoteIP := parseIP(r.RemoteAddr)

	if len(l.trustedProxies) > 0 {
		trusted := false
		for _, ipnet := range l.trustedProxies {
			if remoteIP != nil && ipnet.Contains(remoteIP) {
				trusted = true
				break
			}
		}
		if !trusted {
			return remoteIP.String()
		}
	}

	// leftmost X-Forwarded-For entry is the original client
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if parsed := net.ParseIP(strings.TrimSpace(first)); parsed != nil {
			return parsed.String()
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if parsed := net.ParseIP(xri); parsed != nil {
			return parsed.String()
		}
	}
	return remoteIP.String()
}

func parseIP(addr string) net.IP {
	host, _, err := net.SplitHostPort(addr)
	if err == nil {
		return net.ParseIP(host)
	}
	return net.ParseIP(addr)
}
