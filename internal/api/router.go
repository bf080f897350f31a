package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/luminode/devicehub-go/internal/auth"
	"github.com/luminode/devicehub-go/internal/config"
	"github.com/luminode/devicehub-go/internal/core/integration"
	"github.com/luminode/devicehub-go/internal/core/metrics"
	"github.com/luminode/devicehub-go/internal/websocket"
	"github.com/luminode/devicehub-go/pkg/utils"
)

// Router bundles the gin engine with everything the routes need
type Router struct {
	engine    *gin.Engine
	handlers  *Handlers
	hub       *websocket.Hub
	gateway   *websocket.Gateway
	validator auth.Validator
	logger    *logrus.Logger
}

// NewRouter builds the HTTP surface: health and metrics, the websocket
// handshake and the authenticated REST routes.
func NewRouter(
	cfg *config.Config,
	service *integration.Service,
	hub *websocket.Hub,
	gateway *websocket.Gateway,
	validator auth.Validator,
	collector *metrics.Collector,
	registry *prometheus.Registry,
	logger *logrus.Logger,
) *Router {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(LoggingMiddleware(logger))
	engine.Use(MetricsMiddleware(collector))
	engine.Use(CORSMiddleware())

	r := &Router{
		engine:    engine,
		handlers:  NewHandlers(service, logger),
		hub:       hub,
		gateway:   gateway,
		validator: validator,
		logger:    logger,
	}
	r.setupRoutes(registry)
	return r
}

func (r *Router) setupRoutes(registry *prometheus.Registry) {
	r.engine.GET("/health", func(c *gin.Context) {
		utils.SendSuccess(c, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC(),
			"clients":   r.hub.GetClientCount(),
		})
	})

	r.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	// Token validation happens inside the handshake so browser clients
	// can pass the token as a query parameter.
	r.engine.GET("/ws", websocket.HandleWebSocketGin(r.hub, r.gateway, r.validator))

	api := r.engine.Group("/api/v1")
	api.Use(AuthMiddleware(r.validator, r.logger))
	{
		api.GET("/devices", r.handlers.ListDevices)
		api.POST("/devices/discover", r.handlers.DiscoverDevices)
		api.DELETE("/devices/:id", r.handlers.DeleteDevice)
		api.GET("/devices/:id/status", r.handlers.GetDeviceStatus)
		api.POST("/devices/:id/command", r.handlers.SendCommand)
		api.POST("/devices/:id/test", r.handlers.TestConnection)
		api.GET("/devices/:id/diagnostics", r.handlers.GetDeviceDiagnostics)
		api.GET("/diagnostics", r.handlers.GetDiagnostics)
	}
}

// Engine exposes the underlying gin engine for the HTTP server
func (r *Router) Engine() *gin.Engine {
	return r.engine
}
