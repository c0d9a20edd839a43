package repair

import (
	"errors"

	"gorm.io/gorm"

	types "github.com/yungbote/repairjourney-backend/internal/domain"
	"github.com/yungbote/repairjourney-backend/internal/platform/dbctx"
	"github.com/yungbote/repairjourney-backend/internal/platform/logger"
)

type RepairSessionFileRepo interface {
	Create(dbc dbctx.Context, file *types.RepairSessionFile) (*types.RepairSessionFile, error)
	ListBySession(dbc dbctx.Context, sessionID uint) ([]*types.RepairSessionFile, error)
	FindFirstByPurpose(dbc dbctx.Context, sessionID uint, purpose string) (*types.RepairSessionFile, error)
	FindFirstByPurposePrefix(dbc dbctx.Context, sessionID uint, prefix string) (*types.RepairSessionFile, error)
	CountByPurpose(dbc dbctx.Context, sessionID uint, purpose string) (int64, error)
}

type repairSessionFileRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRepairSessionFileRepo(db *gorm.DB, baseLog *logger.Logger) RepairSessionFileRepo {
	repoLog := baseLog.With("repo", "RepairSessionFileRepo")
	return &repairSessionFileRepo{db: db, log: repoLog}
}

func (r *repairSessionFileRepo) tx(dbc dbctx.Context) *gorm.DB {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx)
}

func (r *repairSessionFileRepo) Create(dbc dbctx.Context, file *types.RepairSessionFile) (*types.RepairSessionFile, error) {
	if err := r.tx(dbc).Create(file).Error; err != nil {
		return nil, err
	}
	return file, nil
}

func (r *repairSessionFileRepo) ListBySession(dbc dbctx.Context, sessionID uint) ([]*types.RepairSessionFile, error) {
	var results []*types.RepairSessionFile
	if err := r.tx(dbc).
		Where("repair_session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// FindFirstByPurpose returns the oldest row with exactly this purpose, or (nil, nil).
func (r *repairSessionFileRepo) FindFirstByPurpose(dbc dbctx.Context, sessionID uint, purpose string) (*types.RepairSessionFile, error) {
	return r.first(r.tx(dbc).Where("repair_session_id = ? AND file_purpose = ?", sessionID, purpose))
}

func (r *repairSessionFileRepo) FindFirstByPurposePrefix(dbc dbctx.Context, sessionID uint, prefix string) (*types.RepairSessionFile, error) {
	return r.first(r.tx(dbc).Where("repair_session_id = ? AND file_purpose LIKE ?", sessionID, prefix+"%"))
}

func (r *repairSessionFileRepo) CountByPurpose(dbc dbctx.Context, sessionID uint, purpose string) (int64, error) {
	var n int64
	err := r.tx(dbc).Model(&types.RepairSessionFile{}).
		Where("repair_session_id = ? AND file_purpose = ?", sessionID, purpose).
		Count(&n).Error
	return n, err
}

func (r *repairSessionFileRepo) first(q *gorm.DB) (*types.RepairSessionFile, error) {
	var row types.RepairSessionFile
	err := q.Order("created_at ASC").Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}
