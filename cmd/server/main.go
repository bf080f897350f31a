package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/luminode/devicehub-go/internal/adapters/modbus"
	"github.com/luminode/devicehub-go/internal/adapters/mqttgen"
	"github.com/luminode/devicehub-go/internal/adapters/tuya"
	"github.com/luminode/devicehub-go/internal/api"
	"github.com/luminode/devicehub-go/internal/auth"
	"github.com/luminode/devicehub-go/internal/config"
	"github.com/luminode/devicehub-go/internal/core/adaptermgr"
	"github.com/luminode/devicehub-go/internal/core/integration"
	"github.com/luminode/devicehub-go/internal/core/metrics"
	"github.com/luminode/devicehub-go/internal/database"
	"github.com/luminode/devicehub-go/internal/websocket"
	"github.com/luminode/devicehub-go/pkg/logger"
)

func main() {
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	logger.SetLevel(log, cfg.Logging.Level)

	log.WithFields(logrus.Fields{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Starting device hub")

	db, err := database.Initialize(cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize database")
	}
	defer db.Close()

	if err := database.Migrate(db, cfg.Database.MigrationsPath); err != nil {
		log.WithError(err).Fatal("Failed to run migrations")
	}

	repo := database.NewDeviceRepository(db)

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	manager := adaptermgr.NewManager(log, collector)
	registerAdapters(manager, cfg, log)

	initCtx, initCancel := context.WithTimeout(context.Background(), 60*time.Second)
	healthInterval := config.ParseDuration(cfg.Adapters.HealthCheckInterval, 30*time.Second)
	if err := manager.Initialize(initCtx, healthInterval); err != nil {
		// Some adapters may come up later; a total failure is still
		// worth running the API for diagnostics.
		log.WithError(err).Warn("No adapters initialized")
	}
	initCancel()

	statusTTL := config.ParseDuration(cfg.Cache.StatusTTL, 10*time.Second)
	service := integration.NewService(repo, manager, statusTTL, log)

	validator := auth.NewJWTValidator(cfg.Auth.JWTSecret)

	hub := websocket.NewHub(log, collector)
	go hub.Run()

	discoveryTimeout := time.Duration(cfg.WebSocket.DiscoveryTimeout) * time.Second
	gateway := websocket.NewGateway(hub, service, discoveryTimeout, log, collector)

	bridge := websocket.NewEventBridge(hub, service.Events(), log)
	bridge.Start()

	router := api.NewRouter(cfg, service, hub, gateway, validator, collector, registry, log)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Engine(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		log.WithField("addr", server.Addr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("HTTP server shutdown failed")
	}

	manager.Shutdown(shutdownCtx)

	bridge.Stop()
	select {
	case <-bridge.Done():
	case <-shutdownCtx.Done():
	}

	log.Info("Device hub stopped")
}

// registerAdapters wires every enabled protocol adapter into the manager
func registerAdapters(manager *adaptermgr.Manager, cfg *config.Config, log *logrus.Logger) {
	if cfg.Adapters.Tuya.Enabled {
		adapter := tuya.NewAdapter(tuya.Config{
			Enabled:        true,
			BaseURL:        cfg.Adapters.Tuya.BaseURL,
			AccessID:       cfg.Adapters.Tuya.AccessID,
			AccessSecret:   cfg.Adapters.Tuya.AccessSecret,
			RequestTimeout: config.ParseDuration(cfg.Adapters.Tuya.RequestTimeout, 10*time.Second),
			PollInterval:   config.ParseDuration(cfg.Adapters.Tuya.PollInterval, 30*time.Second),
			RetryAttempts:  cfg.Adapters.Tuya.RetryAttempts,
			RetryBackoff:   config.ParseDuration(cfg.Adapters.Tuya.RetryBackoff, time.Second),
			LocalDiscovery: cfg.Adapters.Tuya.LocalDiscovery,
		}, log)
		if err := manager.Register(adapter); err != nil {
			log.WithError(err).Error("Failed to register tuya adapter")
		}
	}

	if cfg.Adapters.MQTT.Enabled {
		adapter := mqttgen.NewAdapter(mqttgen.Config{
			Enabled:        true,
			BrokerURL:      cfg.Adapters.MQTT.BrokerURL,
			ClientID:       cfg.Adapters.MQTT.ClientID,
			Username:       cfg.Adapters.MQTT.Username,
			Password:       cfg.Adapters.MQTT.Password,
			StateTopic:     cfg.Adapters.MQTT.StateTopic,
			CommandTopic:   cfg.Adapters.MQTT.CommandTopic,
			PublishTimeout: config.ParseDuration(cfg.Adapters.MQTT.PublishTimeout, 5*time.Second),
		}, log)
		if err := manager.Register(adapter); err != nil {
			log.WithError(err).Error("Failed to register mqtt adapter")
		}
	}

	if cfg.Adapters.Modbus.Enabled {
		if err := manager.Register(modbus.NewAdapter(log)); err != nil {
			log.WithError(err).Error("Failed to register modbus adapter")
		}
	}
}
