package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/yungbote/repairjourney-backend/internal/domain"
)

func SeedUser(tb testing.TB, ctx context.Context, tx *gorm.DB, email string) *types.User {
	tb.Helper()
	u := &types.User{
		ID:          uuid.New(),
		Email:       email,
		DisplayName: "Test User",
	}
	if err := tx.WithContext(ctx).Create(u).Error; err != nil {
		tb.Fatalf("seed user: %v", err)
	}
	return u
}

func SeedRepairSession(tb testing.TB, ctx context.Context, tx *gorm.DB, userID string, status string) *types.RepairSession {
	tb.Helper()
	s := &types.RepairSession{
		UserID:           userID,
		DeviceType:       "phone",
		DeviceBrand:      "Acme",
		DeviceModel:      "A1",
		IssueDescription: "screen flickers",
		Symptoms:         datatypes.JSON([]byte(`["flicker"]`)),
		Status:           status,
	}
	if err := tx.WithContext(ctx).Create(s).Error; err != nil {
		tb.Fatalf("seed repair session: %v", err)
	}
	return s
}

func SeedRepairSessionFile(tb testing.TB, ctx context.Context, tx *gorm.DB, sessionID uint, purpose, url string) *types.RepairSessionFile {
	tb.Helper()
	f := &types.RepairSessionFile{
		RepairSessionID: sessionID,
		FileName:        "doc.json",
		FileURL:         url,
		FilePurpose:     purpose,
		StepName:        purpose,
		ContentType:     "application/json",
	}
	if err := tx.WithContext(ctx).Create(f).Error; err != nil {
		tb.Fatalf("seed repair session file: %v", err)
	}
	return f
}

func PtrString(v string) *string { return &v }

func PtrTime(v time.Time) *time.Time { return &v }
