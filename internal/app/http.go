package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/repairjourney-backend/internal/http"
	httpH "github.com/yungbote/repairjourney-backend/internal/http/handlers"
	"github.com/yungbote/repairjourney-backend/internal/observability"
	"github.com/yungbote/repairjourney-backend/internal/platform/logger"
)

type Handlers struct {
	Health         *httpH.HealthHandler
	RepairSession  *httpH.RepairSessionHandler
	TrainingCorpus *httpH.TrainingCorpusHandler
	User           *httpH.UserHandler
}

func wireHandlers(log *logger.Logger, db *gorm.DB, services Services) Handlers {
	log.Info("Wiring handlers...")
	var pinger httpH.Pinger
	if sqlDB, err := db.DB(); err == nil {
		pinger = sqlDB
	}
	return Handlers{
		Health:         httpH.NewHealthHandler(pinger),
		RepairSession:  httpH.NewRepairSessionHandler(log, services.Journeys),
		TrainingCorpus: httpH.NewTrainingCorpusHandler(services.Corpus),
		User:           httpH.NewUserHandler(services.Users),
	}
}

func wireServer(log *logger.Logger, cfg Config, handlers Handlers, metrics *observability.Metrics) *http.Server {
	return http.NewServer(http.RouterConfig{
		Log:                   log,
		ServiceName:           cfg.ServiceName,
		CORSOrigins:           cfg.CORSOrigins,
		Metrics:               metrics,
		HealthHandler:         handlers.Health,
		RepairSessionHandler:  handlers.RepairSession,
		TrainingCorpusHandler: handlers.TrainingCorpus,
		UserHandler:           handlers.User,
	})
}
