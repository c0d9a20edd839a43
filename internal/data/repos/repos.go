package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/repairjourney-backend/internal/data/repos/repair"
	"github.com/yungbote/repairjourney-backend/internal/data/repos/user"
	"github.com/yungbote/repairjourney-backend/internal/platform/logger"
)

type UserRepo = user.UserRepo

type RepairSessionRepo = repair.RepairSessionRepo
type RepairSessionFileRepo = repair.RepairSessionFileRepo
type UserInteractionRepo = repair.UserInteractionRepo
type RepairAnalyticsRepo = repair.RepairAnalyticsRepo

type JourneyStateUpdate = repair.JourneyStateUpdate

func NewUserRepo(db *gorm.DB, baseLog *logger.Logger) UserRepo { return user.NewUserRepo(db, baseLog) }

func NewRepairSessionRepo(db *gorm.DB, baseLog *logger.Logger) RepairSessionRepo {
	return repair.NewRepairSessionRepo(db, baseLog)
}
func NewRepairSessionFileRepo(db *gorm.DB, baseLog *logger.Logger) RepairSessionFileRepo {
	return repair.NewRepairSessionFileRepo(db, baseLog)
}
func NewUserInteractionRepo(db *gorm.DB, baseLog *logger.Logger) UserInteractionRepo {
	return repair.NewUserInteractionRepo(db, baseLog)
}
func NewRepairAnalyticsRepo(db *gorm.DB, baseLog *logger.Logger) RepairAnalyticsRepo {
	return repair.NewRepairAnalyticsRepo(db, baseLog)
}
