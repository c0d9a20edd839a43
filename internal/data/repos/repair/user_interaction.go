package repair

import (
	"gorm.io/gorm"

	types "github.com/yungbote/repairjourney-backend/internal/domain"
	"github.com/yungbote/repairjourney-backend/internal/platform/dbctx"
	"github.com/yungbote/repairjourney-backend/internal/platform/logger"
)

type UserInteractionRepo interface {
	Create(dbc dbctx.Context, rows []*types.UserInteraction) ([]*types.UserInteraction, error)
	ListBySession(dbc dbctx.Context, sessionID uint) ([]*types.UserInteraction, error)
}

type userInteractionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserInteractionRepo(db *gorm.DB, baseLog *logger.Logger) UserInteractionRepo {
	repoLog := baseLog.With("repo", "UserInteractionRepo")
	return &userInteractionRepo{db: db, log: repoLog}
}

func (r *userInteractionRepo) Create(dbc dbctx.Context, rows []*types.UserInteraction) ([]*types.UserInteraction, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(rows) == 0 {
		return []*types.UserInteraction{}, nil
	}
	if err := transaction.WithContext(dbc.Ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *userInteractionRepo) ListBySession(dbc dbctx.Context, sessionID uint) ([]*types.UserInteraction, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.UserInteraction
	if err := transaction.WithContext(dbc.Ctx).
		Where("repair_request_id = ?", sessionID).
		Order("created_at ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
