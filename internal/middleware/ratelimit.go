package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/idemdrem-diagnosis-server/internal/domain"
)

const (
	maxTrackedClients = 10000
	clientIdleTTL     = 10 * time.Minute
)

// ClientRateLimiter hands out one token bucket per client IP. Buckets of idle clients expire.
type ClientRateLimiter struct {
	limit   rate.Limit
	burst   int
	mu      sync.Mutex
	clients *expirable.LRU[string, *rate.Limiter]
}

// NewClientRateLimiter creates a limiter allowing perSecond requests with the given burst per client.
func NewClientRateLimiter(perSecond float64, burst int) *ClientRateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &ClientRateLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		clients: expirable.NewLRU[string, *rate.Limiter](maxTrackedClients, nil, clientIdleTTL),
	}
}

// Allow reports whether the client may issue another request now.
func (l *ClientRateLimiter) Allow(client string) bool {
	l.mu.Lock()
	limiter, ok := l.clients.Get(client)
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
	}
	// Re-adding refreshes the idle expiry.
	l.clients.Add(client, limiter)
	l.mu.Unlock()

	return limiter.Allow()
}

// RateLimit rejects clients exceeding their budget with 429. A nil limiter disables the check.
func RateLimit(limiter *ClientRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil || limiter.Allow(c.ClientIP()) {
			c.Next()
			return
		}

		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, domain.NewAPIError(
			domain.ErrCodeRateLimit,
			"Too many requests",
			"",
			c.GetString(CorrelationIDKey),
		))
	}
}
