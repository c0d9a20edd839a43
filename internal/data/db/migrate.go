package db

import (
	"fmt"

	"gorm.io/gorm"

	types "github.com/yungbote/repairjourney-backend/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(types.AllModels()...); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	return EnsureJourneyIndexes(db)
}

// EnsureJourneyIndexes adds the lookups the consolidator and corpus builder
// lean on that gorm tags cannot express portably.
func EnsureJourneyIndexes(db *gorm.DB) error {
	stmts := []struct {
		name string
		sql  string
	}{
		{"idx_repair_sessions_status_id", `CREATE INDEX IF NOT EXISTS idx_repair_sessions_status_id ON repair_sessions (status, id);`},
		{"idx_user_interactions_request_created", `CREATE INDEX IF NOT EXISTS idx_user_interactions_request_created ON user_interactions (repair_request_id, created_at);`},
		{"idx_repair_analytics_request_created", `CREATE INDEX IF NOT EXISTS idx_repair_analytics_request_created ON repair_analytics (repair_request_id, created_at);`},
	}
	for _, st := range stmts {
		if err := db.Exec(st.sql).Error; err != nil {
			return fmt.Errorf("create %s: %w", st.name, err)
		}
	}
	return nil
}
