package handlers

import (
	"encoding/hex"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/blake2b"
)

// RateLimiter limits requests per client IP over a sliding window
// Each client gets at most `requests` calls in any `window`
type RateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*clientLimiter
	requests  int
	window    time.Duration
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// clientLimiter holds admitted request times, oldest first
type clientLimiter struct {
	hits     []time.Time
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing requests per window for each client
func NewRateLimiter(requests int, window time.Duration) *RateLimiter {
	if requests < 1 {
		requests = 1
	}
	if window <= 0 {
		window = 10 * time.Second
	}
	return &RateLimiter{
		clients:  make(map[string]*clientLimiter),
		requests: requests,
		window:   window,
		idleTTL:  10 * window,
		now:      time.Now,
	}
}

// ClientKey hashes a client IP so raw addresses are never stored or logged
func ClientKey(ip string) string {
	sum := blake2b.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:8])
}

// Allow reports whether a request from key may proceed
func (l *RateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > l.idleTTL {
		for k, client := range l.clients {
			if now.Sub(client.lastSeen) > l.idleTTL {
				delete(l.clients, k)
			}
		}
		l.lastSweep = now
	}

	client, ok := l.clients[key]
	if !ok {
		client = &clientLimiter{}
		l.clients[key] = client
	}
	client.lastSeen = now

	// Drop hits that have left the window
	cutoff := now.Add(-l.window)
	keep := 0
	for keep < len(client.hits) && !client.hits[keep].After(cutoff) {
		keep++
	}
	client.hits = client.hits[keep:]

	if len(client.hits) >= l.requests {
		return false
	}
	client.hits = append(client.hits, now)
	return true
}

// Middleware rejects requests over the limit with 429
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := ClientKey(c.ClientIP())
		if !l.Allow(key) {
			log.Printf("Rate limit exceeded for client %s", key)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "RATE_LIMITED",
					"message": "Too many requests, please wait a few seconds and try again",
				},
			})
			return
		}
		c.Next()
	}
}

// ConfigureClientIP sets which headers carry the client address and which peers may set them
// With no trusted proxies, ClientIP is always the socket peer
func ConfigureClientIP(r *gin.Engine, trustedProxies []string) error {
	r.RemoteIPHeaders = []string{"X-Forwarded-For", "CF-Connecting-IP", "X-Real-IP"}
	return r.SetTrustedProxies(trustedProxies)
}
