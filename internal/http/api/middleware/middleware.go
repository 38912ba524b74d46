// Package middleware holds gin middleware shared by the front, admin and
// webhook route groups.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/oelp-platform/billing/internal/ratelimit"
	"github.com/oelp-platform/billing/internal/security"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Context keys set by the middleware in this package.
const (
	ClaimsKey       = "claims"
	SubscriberIDKey = "subscriberID"
	RequestIDKey    = "requestID"
)

// RequestIDHeader carries the request id in and out.
const RequestIDHeader = "X-Request-Id"

// RequestID assigns every request an id, reusing a well-formed inbound one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if _, errParse := uuid.Parse(id); errParse != nil {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// Authenticate verifies the bearer token and stores its claims.
func Authenticate(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		claims, errJWT := security.ParseToken(secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(ClaimsKey, claims)
		c.Set(SubscriberIDKey, claims.SubscriberID)
		c.Next()
	}
}

// RequireRoles admits callers holding any of the role tags.
func RequireRoles(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !Claims(c).HasAnyRole(roles...) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "access denied"})
			return
		}
		c.Next()
	}
}

// Claims returns the verified claims of the request, or nil.
func Claims(c *gin.Context) *security.Claims {
	value, ok := c.Get(ClaimsKey)
	if !ok {
		return nil
	}
	claims, _ := value.(*security.Claims)
	return claims
}

// SubscriberID returns the authenticated subscriber, or 0.
func SubscriberID(c *gin.Context) uint64 {
	return c.GetUint64(SubscriberIDKey)
}

// RateLimit enforces the fixed-window limit resolved for the caller.
// Authenticated requests are keyed by subscriber, anonymous ones by client IP.
// A failure to resolve the limit lets the request through.
func RateLimit(manager *ratelimit.Manager, conn *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if manager == nil {
			c.Next()
			return
		}
		subscriberID := SubscriberID(c)
		decision, errResolve := ratelimit.ResolveLimit(c.Request.Context(), conn, subscriberID, time.Now())
		if errResolve != nil {
			log.WithError(errResolve).WithField("subscriber_id", subscriberID).Warn("rate limit: resolve failed")
			c.Next()
			return
		}
		key := ratelimit.KeyForDecision(subscriberID, c.ClientIP(), decision)
		if key == "" {
			c.Next()
			return
		}
		result, errAllow := manager.Allow(c.Request.Context(), key, decision.Limit)
		if errAllow != nil {
			log.WithError(errAllow).WithField("key", key).Warn("rate limit: check failed")
			c.Next()
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.Reset.Unix(), 10))
		if !result.Allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
