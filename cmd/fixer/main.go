// Command fixer runs the Fleet Autopilot Fixer process: it consumes
// ActionEnvelopes from the bus (or accepts them directly over HTTP),
// executes the recommended platform mutation, and writes the incident's
// terminal state.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	run "google.golang.org/api/run/v2"

	"github.com/fleetops/autopilot/internal/config"
	"github.com/fleetops/autopilot/pkg/audit"
	"github.com/fleetops/autopilot/pkg/executor"
	"github.com/fleetops/autopilot/pkg/fixer"
	"github.com/fleetops/autopilot/pkg/logging"
	"github.com/fleetops/autopilot/pkg/domain"
	"github.com/fleetops/autopilot/pkg/metrics"
	"github.com/fleetops/autopilot/pkg/notification"
	"github.com/fleetops/autopilot/pkg/store"
)

func main() {
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

	auditWriter := audit.NewWriter(incidentStore, log)
	defer auditWriter.Close()

	runClient, err := run.NewService(ctx, option.WithScopes("https://www.googleapis.com/auth/cloud-platform"))
	if err != nil {
		log.Fatal("failed to construct control-plane client", zap.Error(err))
	}
	platformExecutor := executor.New(runClient, cfg.ProjectID, cfg.Executor, cfg.DryRun)

	notifier := notification.New(cfg.SlackToken, cfg.SlackChannel, log)

	processor := fixer.New(incidentStoreWithAudit{incidentStore, auditWriter}, platformExecutor, notifier, log)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	consumer, err := fixer.NewConsumer(ctx, redisClient, cfg.BusTopic, cfg.BusSubscription, "fixer-1", processor, log)
	if err != nil {
		log.Fatal("failed to initialize bus consumer group", zap.Error(err))
	}
	go consumer.Run(ctx)

	metricsServer := metrics.NewServer(":"+cfg.MetricsPort, log)
	metricsServer.StartAsync()

	httpServer := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: fixer.NewServer(processor, log).Router()}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("fixer http server stopped unexpectedly", zap.Error(err))
		}
	}()

	log.Info("fixer started", logging.NewFields().Component("fixer").Operation("start").ToLogrus())

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown error", zap.Error(err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("metrics server shutdown error", zap.Error(err))
	}
}

// incidentStoreWithAudit routes RecordAction through the buffered audit
// writer while leaving every other store operation synchronous.
type incidentStoreWithAudit struct {
	*store.Store
	auditWriter *audit.Writer
}

func (s incidentStoreWithAudit) RecordAction(ctx context.Context, a domain.ActionAudit) error {
	s.auditWriter.Record(a)
	return nil
}
