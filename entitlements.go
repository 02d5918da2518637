package main

import (
	"net/http"
	"os"
	"strconv"
	"time"

	"finapi/models"
	"finapi/pkg/ratelimit"

	"github.com/gin-gonic/gin"
)

// planSpec describes what a billing plan entitles a user to. Stripe keeps the
// subscriptions table current; this table is the API-side meaning of a plan.
type planSpec struct {
	Features    map[string]bool
	ImportQuota int // sliding-window quota for import endpoints
	TrendMonths int // how far back the analytics trend may reach
}

var plans = map[string]planSpec{
	"free": {
		Features:    map[string]bool{"csv_import": true},
		ImportQuota: 5,
		TrendMonths: 3,
	},
	"pro": {
		Features:    map[string]bool{"csv_import": true, "csv_export": true},
		ImportQuota: 30,
		TrendMonths: 24,
	},
}

// planFor resolves the effective plan for a user. A missing or non-active
// subscription falls back to free.
func planFor(userID uint) (string, planSpec) {
	var sub models.Subscription
	if err := db.Where("user_id = ?", userID).First(&sub).Error; err == nil && sub.Status == "active" {
		if spec, ok := plans[sub.Plan]; ok {
			return sub.Plan, spec
		}
	}
	return "free", plans["free"]
}

// Process-wide throttling state, held behind the ratelimit interfaces so a
// shared external counter store can replace the in-memory one. Per-process
// counters: each instance of a scaled deployment enforces its own thresholds.
var (
	apiLimiter    ratelimit.Counter
	importLimiter ratelimit.Counter
	loginGuard    ratelimit.LockoutGuard

	apiQuota int
)

func initLimits() {
	window := time.Duration(envInt("RATE_WINDOW_SECONDS", 60)) * time.Second
	apiLimiter = ratelimit.NewLimiter(window)
	importLimiter = ratelimit.NewLimiter(window)
	apiQuota = envInt("RATE_API_QUOTA", 60)
	loginGuard = ratelimit.NewGuard(
		envInt("LOGIN_MAX_FAILS", 5),
		time.Duration(envInt("LOGIN_FAIL_WINDOW_MINUTES", 15))*time.Minute,
		time.Duration(envInt("LOGIN_LOCK_MINUTES", 15))*time.Minute,
	)
}

func envInt(name string, def int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// limiterKey identifies the caller: authenticated username when present,
// otherwise the network address.
func limiterKey(c *gin.Context) string {
	if u, ok := c.Get("username"); ok {
		if s, _ := u.(string); s != "" {
			return "u:" + s
		}
	}
	return "ip:" + c.ClientIP()
}

// rateLimitMiddleware short-circuits with 429 before the handler runs. The
// "import" class takes its quota from the caller's plan.
func rateLimitMiddleware(class string) gin.HandlerFunc {
	return func(c *gin.Context) {
		limiter, quota := apiLimiter, apiQuota
		if class == "import" {
			limiter = importLimiter
			quota = plans["free"].ImportQuota
			if user, ok := getUserFromContext(c); ok {
				_, spec := planFor(user.ID)
				quota = spec.ImportQuota
			}
		}
		if !limiter.Allow(class+"|"+limiterKey(c), quota) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many requests, retry later"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// requireFeature rejects with 402 when the caller's plan lacks the feature.
func requireFeature(feature string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := getUserFromContext(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
			c.Abort()
			return
		}
		if _, spec := planFor(user.ID); !spec.Features[feature] {
			c.JSON(http.StatusPaymentRequired, gin.H{"error": "assinatura necessaria"})
			c.Abort()
			return
		}
		c.Next()
	}
}
