package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/repairjourney-backend/internal/data/repos"
	types "github.com/yungbote/repairjourney-backend/internal/domain"
	"github.com/yungbote/repairjourney-backend/internal/platform/cache"
	"github.com/yungbote/repairjourney-backend/internal/platform/gcp"
	"github.com/yungbote/repairjourney-backend/internal/platform/logger"
)

const (
	UserStoreRelational = "relational"
	UserStoreObject     = "object"
	UserStoreHybrid     = "hybrid"
)

// UserStore resolves the account a session belongs to. Get returns (nil, nil)
// for unknown ids.
type UserStore interface {
	Get(ctx context.Context, id string) (*types.User, error)
	Put(ctx context.Context, u *types.User) error
}

// NewUserStore picks the variant named by mode. The object variant needs a
// bucket; relational is the default.
func NewUserStore(baseLog *logger.Logger, mode string, userRepo repos.UserRepo, bucket gcp.BucketService) (UserStore, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", UserStoreRelational:
		return NewRelationalUserStore(userRepo), nil
	case UserStoreObject:
		if bucket == nil {
			return nil, fmt.Errorf("user store mode %q requires the durable store", mode)
		}
		return NewObjectUserStore(bucket), nil
	case UserStoreHybrid:
		if bucket == nil {
			baseLog.Warn("Durable store unavailable, hybrid user store degrades to relational")
			return NewRelationalUserStore(userRepo), nil
		}
		return NewHybridUserStore(baseLog, NewRelationalUserStore(userRepo), NewObjectUserStore(bucket)), nil
	default:
		return nil, fmt.Errorf("unsupported USER_STORE_MODE %q", mode)
	}
}

type RelationalUserStore struct {
	repo repos.UserRepo
}

func NewRelationalUserStore(repo repos.UserRepo) *RelationalUserStore {
	return &RelationalUserStore{repo: repo}
}

func (s *RelationalUserStore) Get(ctx context.Context, id string) (*types.User, error) {
	uid, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return nil, nil
	}
	return s.repo.GetByID(ctx, nil, uid)
}

func (s *RelationalUserStore) Put(ctx context.Context, u *types.User) error {
	return s.repo.Upsert(ctx, nil, u)
}

// ObjectUserStore keeps each profile revision as users/{id}/profile_{ms}_{rand}.json;
// the store never overwrites, so the newest key wins.
type ObjectUserStore struct {
	bucket gcp.BucketService
	clock  *keyClock
}

func NewObjectUserStore(bucket gcp.BucketService) *ObjectUserStore {
	return &ObjectUserStore{bucket: bucket, clock: newKeyClock(nil)}
}

func userPrefix(id string) string { return "users/" + id + "/" }

func (s *ObjectUserStore) Get(ctx context.Context, id string) (*types.User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	keys, err := s.bucket.ListKeys(ctx, userPrefix(id))
	if err != nil {
		return nil, fmt.Errorf("list user profiles: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	sort.Strings(keys)
	body, err := s.bucket.Download(ctx, keys[len(keys)-1])
	if err != nil {
		return nil, fmt.Errorf("download user profile: %w", err)
	}
	var u types.User
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, fmt.Errorf("decode user profile: %w", err)
	}
	return &u, nil
}

func (s *ObjectUserStore) Put(ctx context.Context, u *types.User) error {
	if u == nil || u.ID == uuid.Nil {
		return fmt.Errorf("put user profile: missing id")
	}
	body, err := json.Marshal(u)
	if err != nil {
		return err
	}
	ts := s.clock.next()
	key := fmt.Sprintf("%sprofile_%013d_%s.json", userPrefix(u.ID.String()), ts.UnixMilli(), randomSuffix())
	_, err = s.bucket.Put(ctx, key, body)
	return err
}

// HybridUserStore treats the relational store as authoritative and keeps an
// object copy when it can.
type HybridUserStore struct {
	log     *logger.Logger
	primary UserStore
	mirror  UserStore
}

func NewHybridUserStore(baseLog *logger.Logger, primary, mirror UserStore) *HybridUserStore {
	return &HybridUserStore{
		log:     baseLog.With("service", "HybridUserStore"),
		primary: primary,
		mirror:  mirror,
	}
}

func (s *HybridUserStore) Get(ctx context.Context, id string) (*types.User, error) {
	u, err := s.primary.Get(ctx, id)
	if err == nil {
		return u, nil
	}
	s.log.Warn("Relational user lookup failed, reading object copy", "user_id", id, "error", err)
	return s.mirror.Get(ctx, id)
}

func (s *HybridUserStore) Put(ctx context.Context, u *types.User) error {
	if err := s.primary.Put(ctx, u); err != nil {
		return err
	}
	if err := s.mirror.Put(ctx, u); err != nil {
		s.log.Warn("Object copy of user profile failed", "user_id", u.ID.String(), "error", err)
	}
	return nil
}

// CachedUserStore reads through a cache and evicts on every Put.
type CachedUserStore struct {
	inner UserStore
	cache cache.Store
	ttl   time.Duration
	log   *logger.Logger
}

func NewCachedUserStore(baseLog *logger.Logger, inner UserStore, c cache.Store, ttl time.Duration) *CachedUserStore {
	return &CachedUserStore{
		inner: inner,
		cache: c,
		ttl:   ttl,
		log:   baseLog.With("service", "CachedUserStore"),
	}
}

func userCacheKey(id string) string { return "user:" + id }

func (s *CachedUserStore) Get(ctx context.Context, id string) (*types.User, error) {
	if raw, ok, err := s.cache.Get(ctx, userCacheKey(id)); err == nil && ok {
		var u types.User
		if json.Unmarshal(raw, &u) == nil {
			return &u, nil
		}
	} else if err != nil {
		s.log.Debug("User cache read failed", "error", err)
	}
	u, err := s.inner.Get(ctx, id)
	if err != nil || u == nil {
		return u, err
	}
	if raw, err := json.Marshal(u); err == nil {
		if err := s.cache.Set(ctx, userCacheKey(id), raw, s.ttl); err != nil {
			s.log.Debug("User cache write failed", "error", err)
		}
	}
	return u, nil
}

func (s *CachedUserStore) Put(ctx context.Context, u *types.User) error {
	err := s.inner.Put(ctx, u)
	if u != nil {
		if evictErr := s.cache.Evict(ctx, userCacheKey(u.ID.String())); evictErr != nil {
			s.log.Warn("User cache evict failed", "error", evictErr)
		}
	}
	return err
}
