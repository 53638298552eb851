package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"edulive/pkg/config"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Idle per-client limiters are evicted so the map does not grow with every
// address that ever hit the API.
const limiterIdleTTL = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type limiterTable struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	rps     rate.Limit
	burst   int
}

func newLimiterTable(rps rate.Limit, burst int) *limiterTable {
	t := &limiterTable{
		clients: make(map[string]*clientLimiter),
		rps:     rps,
		burst:   burst,
	}
	go t.sweep()
	return t
}

func (t *limiterTable) allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	cl, ok := t.clients[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(t.rps, t.burst)}
		t.clients[key] = cl
	}
	cl.lastSeen = time.Now()
	return cl.limiter.Allow()
}

func (t *limiterTable) sweep() {
	ticker := time.NewTicker(limiterIdleTTL / 2)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-limiterIdleTTL)
		t.mu.Lock()
		for key, cl := range t.clients {
			if cl.lastSeen.Before(cutoff) {
				delete(t.clients, key)
			}
		}
		t.mu.Unlock()
	}
}

// requestKey buckets requests by client address. Behind a proxy the
// forwarded address wins when it parses as an IP.
func requestKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := net.ParseIP(xff); ip != nil {
			return ip.String()
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// NewHTTPRateLimitMiddleware throttles the API per client address and,
// when max_concurrent is set, caps requests in flight across all clients.
func NewHTTPRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return func(c *gin.Context) { c.Next() }
	}

	table := newLimiterTable(
		rate.Limit(cfg.RateLimiting.HTTP.RequestsPerSecond),
		cfg.RateLimiting.HTTP.Burst,
	)

	var inflight chan struct{}
	if n := cfg.RateLimiting.HTTP.MaxConcurrent; n > 0 {
		inflight = make(chan struct{}, n)
	}

	return func(c *gin.Context) {
		if inflight != nil {
			select {
			case inflight <- struct{}{}:
				defer func() { <-inflight }()
			default:
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
					"error": "too many concurrent requests",
				})
				return
			}
		}

		if !table.allow(requestKey(c.Request)) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
