package repair

import (
	"time"

	"gorm.io/datatypes"
)

// RepairSession is one user's repair journey. The phase columns hold the
// journey-so-far that the consolidator merges into each persisted document;
// MetadataURL points at the most recently persisted consolidated document.
type RepairSession struct {
	ID     uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID string `gorm:"column:user_id;not null;index" json:"userId"`

	DeviceType       string         `gorm:"column:device_type" json:"deviceType"`
	DeviceBrand      string         `gorm:"column:device_brand" json:"deviceBrand"`
	DeviceModel      string         `gorm:"column:device_model" json:"deviceModel"`
	IssueDescription string         `gorm:"column:issue_description" json:"issueDescription"`
	Symptoms         datatypes.JSON `gorm:"column:symptoms" json:"symptoms"`

	Status      string  `gorm:"column:status;not null;default:'started';index" json:"status"`
	MetadataURL *string `gorm:"column:metadata_url" json:"metadataUrl"`

	InitialSubmission datatypes.JSON `gorm:"column:initial_submission" json:"initialSubmission,omitempty"`
	Diagnostics       datatypes.JSON `gorm:"column:diagnostics" json:"diagnostics,omitempty"`
	IssueConfirmation datatypes.JSON `gorm:"column:issue_confirmation" json:"issueConfirmation,omitempty"`
	RepairGuide       datatypes.JSON `gorm:"column:repair_guide" json:"repairGuide,omitempty"`

	CompletedAt *time.Time `gorm:"column:completed_at" json:"completedAt,omitempty"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (RepairSession) TableName() string { return "repair_sessions" }
