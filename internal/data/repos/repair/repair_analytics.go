package repair

import (
	"gorm.io/gorm"

	types "github.com/yungbote/repairjourney-backend/internal/domain"
	"github.com/yungbote/repairjourney-backend/internal/platform/dbctx"
	"github.com/yungbote/repairjourney-backend/internal/platform/logger"
)

type RepairAnalyticsRepo interface {
	Create(dbc dbctx.Context, rows []*types.RepairAnalytics) ([]*types.RepairAnalytics, error)
	ListBySession(dbc dbctx.Context, sessionID uint) ([]*types.RepairAnalytics, error)
}

type repairAnalyticsRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRepairAnalyticsRepo(db *gorm.DB, baseLog *logger.Logger) RepairAnalyticsRepo {
	repoLog := baseLog.With("repo", "RepairAnalyticsRepo")
	return &repairAnalyticsRepo{db: db, log: repoLog}
}

func (r *repairAnalyticsRepo) Create(dbc dbctx.Context, rows []*types.RepairAnalytics) ([]*types.RepairAnalytics, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(rows) == 0 {
		return []*types.RepairAnalytics{}, nil
	}
	if err := transaction.WithContext(dbc.Ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repairAnalyticsRepo) ListBySession(dbc dbctx.Context, sessionID uint) ([]*types.RepairAnalytics, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.RepairAnalytics
	if err := transaction.WithContext(dbc.Ctx).
		Where("repair_request_id = ?", sessionID).
		Order("created_at ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
