package repair

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// UserInteraction is an append-only event produced while the user moves
// through the journey (answers, clicks, chat turns).
type UserInteraction struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	RepairRequestID uint           `gorm:"column:repair_request_id;not null;index" json:"repairRequestId"`
	UserID          string         `gorm:"column:user_id;index" json:"userId"`
	InteractionType string         `gorm:"column:interaction_type;not null" json:"interactionType"`
	StepName        string         `gorm:"column:step_name" json:"stepName,omitempty"`
	Payload         datatypes.JSON `gorm:"column:payload" json:"payload,omitempty"`
	CreatedAt       time.Time      `gorm:"column:created_at;autoCreateTime;index" json:"createdAt"`
}

func (UserInteraction) TableName() string { return "user_interactions" }

func (e *UserInteraction) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// RepairAnalytics is an append-only measurement attached to a session
// (timings, model latencies, outcome signals).
type RepairAnalytics struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	RepairRequestID uint           `gorm:"column:repair_request_id;not null;index" json:"repairRequestId"`
	EventType       string         `gorm:"column:event_type;not null" json:"eventType"`
	Payload         datatypes.JSON `gorm:"column:payload" json:"payload,omitempty"`
	CreatedAt       time.Time      `gorm:"column:created_at;autoCreateTime;index" json:"createdAt"`
}

func (RepairAnalytics) TableName() string { return "repair_analytics" }

func (e *RepairAnalytics) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
