package repair

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/yungbote/repairjourney-backend/internal/domain"
	"github.com/yungbote/repairjourney-backend/internal/platform/dbctx"
	"github.com/yungbote/repairjourney-backend/internal/platform/logger"
)

// JourneyStateUpdate is the single-row write the consolidator issues after a
// persist. Nil fields are left untouched.
type JourneyStateUpdate struct {
	MetadataURL       *string
	Status            *string
	InitialSubmission datatypes.JSON
	Diagnostics       datatypes.JSON
	IssueConfirmation datatypes.JSON
	RepairGuide       datatypes.JSON
}

type RepairSessionRepo interface {
	Create(dbc dbctx.Context, session *types.RepairSession) (*types.RepairSession, error)
	GetByID(dbc dbctx.Context, id uint) (*types.RepairSession, error)
	UpdateJourneyState(dbc dbctx.Context, id uint, upd JourneyStateUpdate) error
	MarkCompleted(dbc dbctx.Context, id uint, at time.Time) error
	ListByStatus(dbc dbctx.Context, status string, afterID uint, limit int) ([]*types.RepairSession, error)
	Delete(dbc dbctx.Context, id uint) error
}

type repairSessionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRepairSessionRepo(db *gorm.DB, baseLog *logger.Logger) RepairSessionRepo {
	repoLog := baseLog.With("repo", "RepairSessionRepo")
	return &repairSessionRepo{db: db, log: repoLog}
}

func (r *repairSessionRepo) tx(dbc dbctx.Context) *gorm.DB {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx)
}

func (r *repairSessionRepo) Create(dbc dbctx.Context, session *types.RepairSession) (*types.RepairSession, error) {
	if session == nil {
		return nil, fmt.Errorf("create repair session: nil session")
	}
	if session.Status == "" {
		session.Status = types.RepairStatusStarted
	}
	if err := r.tx(dbc).Create(session).Error; err != nil {
		return nil, err
	}
	return session, nil
}

// GetByID returns (nil, nil) when no row exists.
func (r *repairSessionRepo) GetByID(dbc dbctx.Context, id uint) (*types.RepairSession, error) {
	if id == 0 {
		return nil, nil
	}
	var row types.RepairSession
	err := r.tx(dbc).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repairSessionRepo) UpdateJourneyState(dbc dbctx.Context, id uint, upd JourneyStateUpdate) error {
	updates := map[string]interface{}{
		"updated_at": time.Now().UTC(),
	}
	if upd.MetadataURL != nil {
		updates["metadata_url"] = *upd.MetadataURL
	}
	if upd.Status != nil {
		updates["status"] = *upd.Status
	}
	if upd.InitialSubmission != nil {
		updates["initial_submission"] = upd.InitialSubmission
	}
	if upd.Diagnostics != nil {
		updates["diagnostics"] = upd.Diagnostics
	}
	if upd.IssueConfirmation != nil {
		updates["issue_confirmation"] = upd.IssueConfirmation
	}
	if upd.RepairGuide != nil {
		updates["repair_guide"] = upd.RepairGuide
	}

	res := r.tx(dbc).Model(&types.RepairSession{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update journey state: repair session %d: %w", id, gorm.ErrRecordNotFound)
	}
	return nil
}

func (r *repairSessionRepo) MarkCompleted(dbc dbctx.Context, id uint, at time.Time) error {
	res := r.tx(dbc).Model(&types.RepairSession{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       types.RepairStatusCompleted,
			"completed_at": at,
			"updated_at":   at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("mark completed: repair session %d: %w", id, gorm.ErrRecordNotFound)
	}
	return nil
}

// ListByStatus pages through sessions in id order; pass the last id seen as afterID.
func (r *repairSessionRepo) ListByStatus(dbc dbctx.Context, status string, afterID uint, limit int) ([]*types.RepairSession, error) {
	if limit <= 0 {
		limit = 200
	}
	var results []*types.RepairSession
	if err := r.tx(dbc).
		Where("status = ? AND id > ?", status, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// Delete removes the session and cascades to its file index rows.
func (r *repairSessionRepo) Delete(dbc dbctx.Context, id uint) error {
	if err := r.tx(dbc).Where("repair_session_id = ?", id).Delete(&types.RepairSessionFile{}).Error; err != nil {
		return fmt.Errorf("delete repair session files: %w", err)
	}
	if err := r.tx(dbc).Where("id = ?", id).Delete(&types.RepairSession{}).Error; err != nil {
		return fmt.Errorf("delete repair session: %w", err)
	}
	return nil
}
