package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/caretrail/audit-backend/internal/api/rest"
	"github.com/caretrail/audit-backend/internal/domain/audit"
	"github.com/caretrail/audit-backend/internal/domain/report"
	"github.com/caretrail/audit-backend/internal/infrastructure/cache"
	"github.com/caretrail/audit-backend/internal/infrastructure/config"
	"github.com/caretrail/audit-backend/internal/infrastructure/database"
	"github.com/caretrail/audit-backend/internal/infrastructure/repository"
	"github.com/caretrail/audit-backend/internal/infrastructure/telemetry"
	"github.com/caretrail/audit-backend/internal/service/alerts"
	"github.com/caretrail/audit-backend/internal/service/capture"
	"github.com/caretrail/audit-backend/internal/service/detection"
	"github.com/caretrail/audit-backend/internal/service/reporting"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := telemetry.SetupLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := telemetry.Initialize(ctx, &telemetry.Config{
		ServiceName:    "audit-backend",
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	serviceLogger, err := telemetry.NewServiceLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		return err
	}
	defer func() { _ = serviceLogger.Sync() }()

	activityRepo, accessRepo, securityRepo, reportRepo, cleanup, err := buildRepositories(ctx, cfg, serviceLogger)
	if err != nil {
		return err
	}
	defer cleanup()

	directory := buildDirectory(cfg, serviceLogger)

	alertSvc := alerts.NewService(securityRepo, alerts.NewLogNotifier(serviceLogger),
		cfg.Alerts, serviceLogger.Named("alerts"))

	captureSvc := capture.NewService(activityRepo, accessRepo, alertSvc,
		cfg.Capture, serviceLogger.Named("capture"))
	middleware := capture.NewMiddleware(captureSvc, cfg.Capture.MaxBodyBytes)

	engine := detection.NewEngine(accessRepo, activityRepo, alertSvc, directory,
		cfg.Detection, serviceLogger.Named("detection"))

	renderer := reporting.NewRenderer(cfg.Reporting.ArtifactDir)
	generator := reporting.NewGenerator(activityRepo, accessRepo, securityRepo, directory)
	exporter := reporting.NewExporter(activityRepo, accessRepo, securityRepo, renderer)
	reportSvc := reporting.NewService(ctx, reportRepo, generator, exporter, renderer,
		alertSvc, cfg.Reporting, serviceLogger.Named("reporting"))

	if err := reportSvc.Start(ctx); err != nil {
		return err
	}
	defer reportSvc.Stop()

	scheduler := reporting.NewScheduler(reportSvc, engine,
		cfg.Detection.Interval, cfg.Reporting.DailyReportHour, serviceLogger.Named("scheduler"))
	go scheduler.Start(ctx)

	handler := rest.NewHandler(rest.Services{
		Activity:  activityRepo,
		Access:    accessRepo,
		Alerts:    alertSvc,
		Reporting: reportSvc,
		Detector:  engine,
	}, serviceLogger.Named("http"))

	server := rest.NewServer(cfg.Server, handler, middleware, serviceLogger.Named("http"))

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	return server.Shutdown(context.Background())
}

// buildRepositories returns postgres-backed stores when a database URL is
// configured and in-memory stores otherwise. The in-memory mode exists for
// local development only; it loses everything on restart.
func buildRepositories(ctx context.Context, cfg *config.Config, logger *zap.Logger) (
	audit.ActivityRepository, audit.AccessRepository, audit.SecurityEventRepository,
	report.Repository, func(), error,
) {
	if cfg.Database.URL == "" {
		logger.Warn("no database configured, using volatile in-memory stores")
		return repository.NewMemoryActivityRepository(),
			repository.NewMemoryAccessRepository(),
			repository.NewMemorySecurityEventRepository(),
			repository.NewMemoryReportRepository(),
			func() {}, nil
	}

	pool, err := database.NewPool(ctx, &cfg.Database, logger)
	if err != nil {
		return nil, nil, nil, nil, nil, err
	}
	return repository.NewActivityRepository(pool),
		repository.NewAccessRepository(pool),
		repository.NewSecurityEventRepository(pool),
		repository.NewReportRepository(pool),
		pool.Close, nil
}

// buildDirectory assembles the directory source, optionally fronted by the
// redis cache. The static watch list comes from configuration until the
// clinical directory integration lands.
func buildDirectory(cfg *config.Config, logger *zap.Logger) cache.DirectorySource {
	watchList := make(map[uuid.UUID]bool, len(cfg.Detection.WatchListSubjects))
	for _, raw := range cfg.Detection.WatchListSubjects {
		if id, err := uuid.Parse(raw); err == nil {
			watchList[id] = true
		} else {
			logger.Warn("ignoring malformed watch list entry", zap.String("value", raw))
		}
	}
	source := &cache.StaticDirectory{WatchList: watchList}

	if cfg.Redis.URL == "" {
		return source
	}
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Warn("malformed redis url, directory cache disabled", zap.Error(err))
		return source
	}
	if cfg.Redis.Password != "" {
		opts.Password = cfg.Redis.Password
	}
	opts.DB = cfg.Redis.DB
	client := redis.NewClient(opts)
	return cache.NewDirectoryCache(source, client, 5*time.Minute, logger.Named("directory_cache"))
}
