package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/repairjourney-backend/internal/data/repos"
	"github.com/yungbote/repairjourney-backend/internal/data/repos/testutil"
	types "github.com/yungbote/repairjourney-backend/internal/domain"
	"github.com/yungbote/repairjourney-backend/internal/platform/cache"
)

func TestObjectUserStoreReturnsNewestRevision(t *testing.T) {
	bucket := newFakeBucket()
	store := NewObjectUserStore(bucket)
	ctx := context.Background()
	id := uuid.New()

	if err := store.Put(ctx, &types.User{ID: id, Email: "a@example.com", DisplayName: "first"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Put(ctx, &types.User{ID: id, Email: "a@example.com", DisplayName: "second"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	u, err := store.Get(ctx, id.String())
	if err != nil || u == nil {
		t.Fatalf("Get: err=%v u=%v", err, u)
	}
	if u.DisplayName != "second" {
		t.Fatalf("display name: want=%q got=%q", "second", u.DisplayName)
	}
	if missing, err := store.Get(ctx, uuid.NewString()); err != nil || missing != nil {
		t.Fatalf("Get missing: err=%v u=%v", err, missing)
	}
}

type erroringUserStore struct{}

func (erroringUserStore) Get(context.Context, string) (*types.User, error) {
	return nil, errors.New("down")
}
func (erroringUserStore) Put(context.Context, *types.User) error { return errors.New("down") }

func TestHybridUserStoreMirrorIsBestEffort(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	primary := NewRelationalUserStore(repos.NewUserRepo(db, log))
	store := NewHybridUserStore(log, primary, erroringUserStore{})
	ctx := context.Background()

	u := &types.User{ID: uuid.New(), Email: "hybrid@example.com"}
	if err := store.Put(ctx, u); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := store.Get(ctx, u.ID.String())
	if err != nil || got == nil || got.Email != "hybrid@example.com" {
		t.Fatalf("Get: err=%v got=%+v", err, got)
	}

	mirrorFirst := NewHybridUserStore(log, erroringUserStore{}, primary)
	if got, err := mirrorFirst.Get(ctx, u.ID.String()); err != nil || got == nil {
		t.Fatalf("Get via mirror: err=%v got=%+v", err, got)
	}
}

func TestCachedUserStoreEvictsOnPut(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	inner := NewRelationalUserStore(repos.NewUserRepo(db, log))
	c := cache.NewMemory()
	store := NewCachedUserStore(log, inner, c, time.Minute)
	ctx := context.Background()

	u := &types.User{ID: uuid.New(), Email: "cached@example.com", DisplayName: "before"}
	if err := store.Put(ctx, u); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if got, err := store.Get(ctx, u.ID.String()); err != nil || got.DisplayName != "before" {
		t.Fatalf("Get: err=%v got=%+v", err, got)
	}
	if _, ok, _ := c.Get(ctx, userCacheKey(u.ID.String())); !ok {
		t.Fatalf("Get did not populate cache")
	}

	u.DisplayName = "after"
	if err := store.Put(ctx, u); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok, _ := c.Get(ctx, userCacheKey(u.ID.String())); ok {
		t.Fatalf("Put did not evict cache entry")
	}
	if got, err := store.Get(ctx, u.ID.String()); err != nil || got.DisplayName != "after" {
		t.Fatalf("Get after Put: err=%v got=%+v", err, got)
	}
}

func TestNewUserStoreModes(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	userRepo := repos.NewUserRepo(db, log)

	if s, err := NewUserStore(log, "", userRepo, nil); err != nil {
		t.Fatalf("default mode: %v", err)
	} else if _, ok := s.(*RelationalUserStore); !ok {
		t.Fatalf("default mode: got %T", s)
	}
	if _, err := NewUserStore(log, UserStoreObject, userRepo, nil); err == nil {
		t.Fatalf("object mode without bucket: expected error")
	}
	if s, err := NewUserStore(log, UserStoreHybrid, userRepo, newFakeBucket()); err != nil {
		t.Fatalf("hybrid mode: %v", err)
	} else if _, ok := s.(*HybridUserStore); !ok {
		t.Fatalf("hybrid mode: got %T", s)
	}
	if _, err := NewUserStore(log, "sharded", userRepo, nil); err == nil {
		t.Fatalf("unknown mode: expected error")
	}
}
