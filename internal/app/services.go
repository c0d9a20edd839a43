package app

import (
	"context"
	"fmt"

	"github.com/yungbote/repairjourney-backend/internal/observability"
	"github.com/yungbote/repairjourney-backend/internal/platform/cache"
	"github.com/yungbote/repairjourney-backend/internal/platform/gcp"
	"github.com/yungbote/repairjourney-backend/internal/platform/localstore"
	"github.com/yungbote/repairjourney-backend/internal/platform/logger"
	"github.com/yungbote/repairjourney-backend/internal/services"
)

type Services struct {
	Bucket    gcp.BucketService
	Artifacts *services.ArtifactStore
	Users     services.UserStore
	Journeys  services.JourneyConsolidator
	Corpus    services.TrainingCorpusBuilder

	closers []func() error
}

func wireCache(log *logger.Logger, cfg Config) (cache.Store, func() error, error) {
	switch cfg.CacheMode {
	case "redis":
		r, err := cache.NewRedis(log, cache.RedisConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			return nil, nil, fmt.Errorf("init redis cache: %w", err)
		}
		return r, r.Close, nil
	case "none":
		return cache.Noop{}, nil, nil
	default:
		return cache.NewMemory(), nil, nil
	}
}

func wireServices(ctx context.Context, log *logger.Logger, cfg Config, reposet Repos, metrics *observability.Metrics) (Services, error) {
	log.Info("Wiring services...")
	var out Services

	bucket, err := openDurableStore(ctx, log, cfg)
	if err != nil {
		return Services{}, err
	}
	out.Bucket = bucket

	fallback, err := localstore.New(log, cfg.LocalFallbackDir)
	if err != nil {
		return Services{}, fmt.Errorf("init local fallback store: %w", err)
	}
	out.Artifacts = services.NewArtifactStore(log, bucket, fallback).WithMetrics(metrics)

	c, closeCache, err := wireCache(log, cfg)
	if err != nil {
		return Services{}, err
	}
	if closeCache != nil {
		out.closers = append(out.closers, closeCache)
	}

	users, err := services.NewUserStore(log, cfg.UserStoreMode, reposet.User, bucket)
	if err != nil {
		out.Close()
		return Services{}, err
	}
	out.Users = services.NewCachedUserStore(log, users, c, cfg.CacheTTL)

	out.Journeys = services.NewJourneyConsolidator(
		log,
		reposet.RepairSession,
		reposet.RepairSessionFile,
		reposet.UserInteraction,
		reposet.RepairAnalytics,
		out.Artifacts,
		out.Users,
		c,
		cfg.CacheTTL,
	)
	out.Corpus = services.NewTrainingCorpusBuilder(log, reposet.RepairSession, reposet.RepairSessionFile, out.Artifacts, cfg.CorpusScanConcurrency)
	return out, nil
}

func (s *Services) Close() {
	if s == nil {
		return
	}
	for _, c := range s.closers {
		_ = c()
	}
	s.closers = nil
}
