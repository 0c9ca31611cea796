package api

import (
	"fmt"
	"math"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/vigil/pkg/ratelimit"
)

// builtin per-minute limits, overridable via config. The pair is
// authenticated/unauthenticated; endpoints requiring a key only ever see
// the authenticated limit.
var defaultRates = map[string][2]int{
	"query":          {60, 10},
	"session.create": {10, 10},
	"session.query":  {60, 60},
	"session.get":    {30, 30},
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// rateLimit admits one request per call against the (endpoint, identity)
// bucket and answers 429 with Retry-After when exhausted.
func rateLimit(limiter *ratelimit.Limiter, endpoint string, overrides map[string]int) gin.HandlerFunc {
	rates := defaultRates[endpoint]
	if v, ok := overrides[endpoint]; ok {
		rates = [2]int{v, v}
	}
	return func(c *gin.Context) {
		identity, authed := identityOf(c)
		limit := rates[0]
		if !authed {
			limit = rates[1]
		}

		key := endpoint + "|" + identity
		if limiter.Allow(key, limit) {
			c.Next()
			return
		}

		wait := limiter.WaitTime(key, limit)
		c.Header("Retry-After", fmt.Sprintf("%d", int(math.Ceil(wait.Seconds()))))
		writeError(c, http.StatusTooManyRequests, "Throttled",
			fmt.Sprintf("rate limit exceeded for %s", endpoint), true)
	}
}
