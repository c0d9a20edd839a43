package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/repairjourney-backend/internal/data/repos"
	"github.com/yungbote/repairjourney-backend/internal/platform/logger"
)

type Repos struct {
	User              repos.UserRepo
	RepairSession     repos.RepairSessionRepo
	RepairSessionFile repos.RepairSessionFileRepo
	UserInteraction   repos.UserInteractionRepo
	RepairAnalytics   repos.RepairAnalyticsRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		User:              repos.NewUserRepo(db, log),
		RepairSession:     repos.NewRepairSessionRepo(db, log),
		RepairSessionFile: repos.NewRepairSessionFileRepo(db, log),
		UserInteraction:   repos.NewUserInteractionRepo(db, log),
		RepairAnalytics:   repos.NewRepairAnalyticsRepo(db, log),
	}
}
