package api

import (
	"net/http"
	"strconv"
	"time"

	"ev-commerce/internal/models"
	"ev-commerce/internal/util"

	"github.com/gin-gonic/gin"
)

const (
	ctxUserID = "user_id"
	ctxRole   = "role"
)

// authContext resolves the current user from upstream auth headers.
// Authentication itself happens in front of this service; an absent or
// malformed identity is rejected here.
func authContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := strconv.ParseInt(c.GetHeader("X-User-ID"), 10, 64)
		if err != nil || userID <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing or invalid user identity",
			})
			return
		}

		role := models.Role(c.GetHeader("X-User-Role"))
		switch role {
		case models.RoleCustomer, models.RoleDealer, models.RoleAdmin:
		default:
			role = models.RoleCustomer
		}

		c.Set(ctxUserID, userID)
		c.Set(ctxRole, role)
		c.Next()
	}
}

func currentUser(c *gin.Context) (int64, models.Role) {
	return c.GetInt64(ctxUserID), c.MustGet(ctxRole).(models.Role)
}

// prometheusMiddleware collects HTTP metrics.
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
