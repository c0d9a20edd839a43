package domain

import (
	"github.com/yungbote/repairjourney-backend/internal/domain/repair"
	"github.com/yungbote/repairjourney-backend/internal/domain/user"
)

type User = user.User

type RepairSession = repair.RepairSession
type RepairSessionFile = repair.RepairSessionFile
type UserInteraction = repair.UserInteraction
type RepairAnalytics = repair.RepairAnalytics

const (
	RepairStatusStarted    = repair.StatusStarted
	RepairStatusDiagnosing = repair.StatusDiagnosing
	RepairStatusConfirmed  = repair.StatusConfirmed
	RepairStatusGuided     = repair.StatusGuided
	RepairStatusCompleted  = repair.StatusCompleted

	FilePurposeSubmission   = repair.FilePurposeSubmission
	FilePurposeConsolidated = repair.FilePurposeConsolidated
)

// AllModels lists every table owned by this service, in migration order.
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&RepairSession{},
		&RepairSessionFile{},
		&UserInteraction{},
		&RepairAnalytics{},
	}
}
