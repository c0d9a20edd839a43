package app

import (
	"context"
	"fmt"
	"os"

	temporalsdkclient "go.temporal.io/sdk/client"
	"gorm.io/gorm"

	"github.com/yungbote/repairjourney-backend/internal/data/db"
	"github.com/yungbote/repairjourney-backend/internal/http"
	"github.com/yungbote/repairjourney-backend/internal/observability"
	"github.com/yungbote/repairjourney-backend/internal/platform/logger"
	"github.com/yungbote/repairjourney-backend/internal/temporalx"
	"github.com/yungbote/repairjourney-backend/internal/temporalx/temporalworker"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Server   *http.Server
	Cfg      Config
	Repos    Repos
	Services Services
	Metrics  *observability.Metrics

	TemporalCfg    temporalx.Config
	Temporal       temporalsdkclient.Client
	shutdownTraces func(context.Context) error
	cancel         context.CancelFunc
}

func New(ctx context.Context) (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading configuration...")
	cfg, err := LoadConfig(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("load config: %w", err)
	}

	shutdownTraces := observability.InitTracing(ctx, log, observability.TracingConfigFromEnv(cfg.ServiceName))
	var metrics *observability.Metrics
	if cfg.MetricsEnabled {
		metrics = observability.NewMetrics()
	}

	theDB, err := db.Open(log, cfg.DB())
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init relational index: %w", err)
	}
	if err := db.AutoMigrateAll(theDB); err != nil {
		log.Sync()
		return nil, fmt.Errorf("automigrate: %w", err)
	}

	reposet := wireRepos(theDB, log)
	serviceset, err := wireServices(ctx, log, cfg, reposet, metrics)
	if err != nil {
		log.Sync()
		return nil, err
	}

	temporalCfg := temporalx.LoadConfig()
	tc, err := temporalx.NewClient(log, temporalCfg)
	if err != nil {
		serviceset.Close()
		log.Sync()
		return nil, fmt.Errorf("init temporal client: %w", err)
	}

	handlerset := wireHandlers(log, theDB, serviceset)
	server := wireServer(log, cfg, handlerset, metrics)

	return &App{
		Log:            log,
		DB:             theDB,
		Server:         server,
		Cfg:            cfg,
		Repos:          reposet,
		Services:       serviceset,
		Metrics:        metrics,
		TemporalCfg:    temporalCfg,
		Temporal:       tc,
		shutdownTraces: shutdownTraces,
	}, nil
}

// Start launches background workers. The corpus worker only runs when a
// Temporal cluster is configured.
func (a *App) Start(ctx context.Context) error {
	if a == nil || a.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if a.Temporal == nil {
		a.Log.Info("Temporal not configured, corpus worker disabled")
		return nil
	}
	runner, err := temporalworker.NewRunner(a.Log, a.TemporalCfg, a.Temporal, a.Services.Corpus)
	if err != nil {
		return err
	}
	return runner.Start(ctx)
}

func (a *App) Run(ctx context.Context) error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	a.Log.Info("Serving", "port", a.Cfg.Port)
	return a.Server.Run(ctx, ":"+a.Cfg.Port)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.Temporal != nil {
		a.Temporal.Close()
	}
	a.Services.Close()
	if a.shutdownTraces != nil {
		_ = a.shutdownTraces(context.Background())
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
