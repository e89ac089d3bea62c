package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sitost/jota-orchestrator/internal/config"
	"github.com/sitost/jota-orchestrator/internal/ingress"
	"github.com/sitost/jota-orchestrator/internal/logger"
	"github.com/sitost/jota-orchestrator/internal/metrics"
	"github.com/sitost/jota-orchestrator/internal/store"
	"github.com/sitost/jota-orchestrator/internal/store/memory"
	"github.com/sitost/jota-orchestrator/internal/store/postgres"
	"github.com/sitost/jota-orchestrator/internal/transport"
)

func main() {
	cfg := config.Load()

	log := logger.New(logger.FromConfig("", "")).WithComponent("server")
	log.Info("starting jota-orchestrator", "instance_id", logger.GetInstanceID(), "app_env", cfg.AppEnv)

	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	conversationStore, closeStore := buildStore(cfg, log)
	defer closeStore()

	reg := prometheus.NewRegistry()
	recorder := metrics.New(reg)

	tr := transport.New(transport.Config{
		URL:       cfg.InferenceServiceURL,
		ClientID:  cfg.InferenceClientID,
		APIKey:    cfg.InferenceAPIKey,
		JotaDBURL: cfg.JotaDBURL,
		SSLVerify: cfg.SSLVerify,
		Store:     conversationStore,
		Logger:    log,
		Metrics:   recorder,
	})
	tr.Connect()
	defer tr.Shutdown()

	metricsHandler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	// A separate METRICS_ADDR listener keeps /metrics reachable from a
	// scraper even when the ingress port sits behind auth/CORS meant
	// for chat clients. The ingress router mounts /metrics as well,
	// whether or not METRICS_ADDR is set.
	var metricsServer *http.Server
	router := ingress.New(tr, conversationStore, log, metricsHandler, []string{"*"})
	if cfg.MetricsAddr != "" && cfg.MetricsAddr != cfg.IngressAddr {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			log.Info("metrics listening", "addr", cfg.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server error", "error", err)
			}
		}()
	}

	server := &http.Server{
		Addr:    cfg.IngressAddr,
		Handler: router,
	}

	go func() {
		log.Info("ingress listening", "addr", cfg.IngressAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("ingress server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ServerShutdownTimeoutSeconds)*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("ingress server forced to shutdown", "error", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			log.Error("metrics server forced to shutdown", "error", err)
		}
	}

	log.Info("servers exited")
}

// buildStore wires a Postgres-backed store when DATABASE_URL is set,
// otherwise falls back to the zero-config in-memory store.
func buildStore(cfg *config.Config, log *logger.Logger) (store.Store, func()) {
	if cfg.DatabaseURL == "" {
		return memory.New(cfg.JotaDBAPIKey), func() {}
	}

	pgStore, err := postgres.New(cfg.DatabaseURL, cfg.JotaDBAPIKey)
	if err != nil {
		log.Error("failed to connect to conversation store database, falling back to in-memory store", "error", err)
		return memory.New(cfg.JotaDBAPIKey), func() {}
	}

	if err := pgStore.Migrate(cfg.DatabaseURL, "internal/store/postgres/migrations"); err != nil {
		log.Error("failed to run conversation store migrations", "error", err)
	}

	return pgStore, func() { pgStore.Close() }
}
