package httpapi

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultLimiterIdleTTL is how long a client's bucket survives without
// requests before it is dropped.
const DefaultLimiterIdleTTL = 10 * time.Minute

type clientBucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// IPRateLimiter applies one token bucket per client IP. The client IP is the
// connection's remote address; X-Forwarded-For is only read when the
// connection comes from a trusted proxy.
type IPRateLimiter struct {
	rate    rate.Limit
	burst   int
	trusted []netip.Prefix
	idleTTL time.Duration
	now     func() time.Time

	mu        sync.Mutex
	buckets   map[string]*clientBucket
	lastSweep time.Time
}

// LimiterOption configures an [IPRateLimiter].
type LimiterOption func(*IPRateLimiter)

// WithTrustedProxies lets requests arriving from these networks name the
// client in X-Forwarded-For.
func WithTrustedProxies(prefixes ...netip.Prefix) LimiterOption {
	return func(rl *IPRateLimiter) {
		rl.trusted = append(rl.trusted, prefixes...)
	}
}

// WithIdleTTL overrides [DefaultLimiterIdleTTL].
func WithIdleTTL(d time.Duration) LimiterOption {
	return func(rl *IPRateLimiter) {
		if d > 0 {
			rl.idleTTL = d
		}
	}
}

// NewIPRateLimiter creates a limiter allowing r requests per second with the
// given burst for each IP.
func NewIPRateLimiter(r rate.Limit, burst int, opts ...LimiterOption) *IPRateLimiter {
	rl := &IPRateLimiter{
		rate:    r,
		burst:   burst,
		idleTTL: DefaultLimiterIdleTTL,
		now:     time.Now,
		buckets: make(map[string]*clientBucket),
	}
	for _, opt := range opts {
		opt(rl)
	}
	rl.lastSweep = rl.now()
	return rl
}

func (rl *IPRateLimiter) limiter(ip string) *rate.Limiter {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if now.Sub(rl.lastSweep) >= rl.idleTTL {
		rl.sweep(now)
	}
	b, ok := rl.buckets[ip]
	if !ok {
		b = &clientBucket{lim: rate.NewLimiter(rl.rate, rl.burst)}
		rl.buckets[ip] = b
	}
	b.seen = now
	return b.lim
}

// sweep drops buckets idle for at least idleTTL. Callers hold mu.
func (rl *IPRateLimiter) sweep(now time.Time) {
	for ip, b := range rl.buckets {
		if now.Sub(b.seen) >= rl.idleTTL {
			delete(rl.buckets, ip)
		}
	}
	rl.lastSweep = now
}

// Len returns the number of tracked clients.
func (rl *IPRateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// Allow reports whether a request from ip may proceed now.
func (rl *IPRateLimiter) Allow(ip string) bool {
	return rl.limiter(ip).Allow()
}

// Limit is middleware answering 429 once a client exceeds its budget.
func (rl *IPRateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(rl.clientIP(r)) {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, correctResponse{Error: "Too many requests"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP returns the remote address without its port. When that address is
// a trusted proxy, X-Forwarded-For is walked from the right and the first hop
// outside the trusted networks wins.
func (rl *IPRateLimiter) clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if len(rl.trusted) == 0 || !rl.isTrusted(host) {
		return host
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if !rl.isTrusted(hop) {
			return hop
		}
		host = hop
	}
	return host
}

func (rl *IPRateLimiter) isTrusted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range rl.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
