package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/luminode/devicehub-go/internal/auth"
	"github.com/luminode/devicehub-go/internal/core/devices"
	"github.com/luminode/devicehub-go/internal/core/metrics"
	"github.com/luminode/devicehub-go/pkg/utils"
)

const principalKey = "principal"

// AuthMiddleware validates the bearer token and stores the resolved
// principal on the request context.
func AuthMiddleware(validator auth.Validator, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			utils.SendError(c, http.StatusUnauthorized, "missing authorization token")
			c.Abort()
			return
		}

		principal, err := validator.ValidatePrincipal(token)
		if err != nil {
			logger.WithError(err).WithField("path", c.Request.URL.Path).Debug("Token validation failed")
			utils.SendError(c, http.StatusUnauthorized, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(principalKey, principal)
		c.Next()
	}
}

func extractToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return c.Query("token")
}

// PrincipalFromContext returns the authenticated principal set by
// AuthMiddleware, or nil when the route is unauthenticated.
func PrincipalFromContext(c *gin.Context) *devices.Principal {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(*devices.Principal); ok {
			return p
		}
	}
	return nil
}

// LoggingMiddleware logs each request with structured fields
func LoggingMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.WithFields(logrus.Fields{
			"method":      c.Request.Method,
			"path":        path,
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"client_ip":   c.ClientIP(),
		}).Info("HTTP request")
	}
}

// MetricsMiddleware records per-request counters and latency
func MetricsMiddleware(collector *metrics.Collector) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		collector.RecordHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}

// CORSMiddleware allows browser clients to reach the API and the
// websocket handshake endpoint.
func CORSMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	})
}
