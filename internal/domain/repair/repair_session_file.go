package repair

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	FilePurposeSubmission   = "submission_data"
	FilePurposeConsolidated = "consolidated_data"
)

// RepairSessionFile is an audit row: one per successfully persisted artifact.
// Rows are never updated.
type RepairSessionFile struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	RepairSessionID uint      `gorm:"column:repair_session_id;not null;index:idx_rsf_session_purpose,priority:1" json:"repairSessionId"`
	UserID          string    `gorm:"column:user_id;index" json:"userId"`

	FileName      string `gorm:"column:file_name;not null" json:"fileName"`
	FileURL       string `gorm:"column:file_url;not null" json:"fileUrl"`
	StorageFileID string `gorm:"column:storage_file_id" json:"storageFileId,omitempty"`
	FilePurpose   string `gorm:"column:file_purpose;not null;index:idx_rsf_session_purpose,priority:2" json:"filePurpose"`
	StepName      string `gorm:"column:step_name" json:"stepName"`
	ContentType   string `gorm:"column:content_type" json:"contentType"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

func (RepairSessionFile) TableName() string { return "repair_session_files" }

func (f *RepairSessionFile) BeforeCreate(tx *gorm.DB) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return nil
}
