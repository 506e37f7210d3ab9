// Command supervisor runs the Fleet Autopilot Supervisor process: it
// scans configured services on a fixed cadence, invokes the Reasoner on
// anomalies, and publishes remediation actions past the policy gate.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	run "google.golang.org/api/run/v2"

	"github.com/fleetops/autopilot/internal/config"
	"github.com/fleetops/autopilot/pkg/dispatcher"
	"github.com/fleetops/autopilot/pkg/logging"
	"github.com/fleetops/autopilot/pkg/metrics"
	"github.com/fleetops/autopilot/pkg/policy"
	"github.com/fleetops/autopilot/pkg/reasoner"
	"github.com/fleetops/autopilot/pkg/scanner"
	"github.com/fleetops/autopilot/pkg/store"
	"github.com/fleetops/autopilot/pkg/supervisor"
	"github.com/fleetops/autopilot/pkg/telemetry"
)

func main() {
	scanIntervalSeconds := flag.Int("scan-interval-seconds", 60, "cadence between scheduled scan_all() runs")
	concurrency := flag.Int("scan-concurrency", 0, "max concurrent per-service scans (0 = number of targets)")
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	incidentStore, err := store.Open(ctx, cfg.DatabaseURL, cfg.IncidentsTable, cfg.ActionsTable)
	if err != nil {
		log.Fatal("failed to open incident store", zap.Error(err))
	}
	defer incidentStore.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	bus := dispatcher.New(redisClient, cfg.BusTopic, log)

	telemetryClient := telemetry.NewPrometheusClient(cfg.TelemetryEndpoint, 30*time.Second, log)
	healthScanner := scanner.New(telemetryClient, log)

	modelClient, err := reasoner.NewGeminiClient(ctx, cfg.GeminiAPIKey, "")
	if err != nil {
		log.Fatal("failed to construct reasoner model client", zap.Error(err))
	}

	runClient, err := run.NewService(ctx, option.WithScopes("https://www.googleapis.com/auth/cloud-platform"))
	if err != nil {
		log.Fatal("failed to construct control-plane client", zap.Error(err))
	}
	platformFacts := reasoner.NewRunPlatformFacts(runClient, cfg.ProjectID)
	serviceReasoner := reasoner.New(modelClient, platformFacts, log)

	policyGate, err := policy.NewGate(ctx)
	if err != nil {
		log.Fatal("failed to compile publish policy", zap.Error(err))
	}

	sup := supervisor.New(cfg, healthScanner, serviceReasoner, incidentStore, bus, policyGate, *concurrency, log)

	metricsServer := metrics.NewServer(":"+cfg.MetricsPort, log)
	metricsServer.StartAsync()

	httpServer := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: sup.Router()}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("supervisor http server stopped unexpectedly", zap.Error(err))
		}
	}()

	ticker := time.NewTicker(time.Duration(*scanIntervalSeconds) * time.Second)
	defer ticker.Stop()

	log.Info("supervisor started", logging.NewFields().Component("supervisor").Operation("start").ToLogrus())

	for {
		select {
		case <-ctx.Done():
			shutdown(log, httpServer, metricsServer)
			return
		case <-ticker.C:
			report := sup.ScanAll(ctx)
			log.Info("scheduled scan complete",
				logging.NewFields().Component("supervisor").Operation("scan_all").
					Custom("scanned", report.Scanned).Custom("anomalies", report.Anomalies).
					Custom("actions", report.Actions).ToLogrus())
		}
	}
}

func shutdown(log *zap.Logger, httpServer *http.Server, metricsServer *metrics.Server) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown error", zap.Error(err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("metrics server shutdown error", zap.Error(err))
	}
	os.Exit(0)
}
