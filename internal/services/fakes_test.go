package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/repairjourney-backend/internal/data/repos"
	"github.com/yungbote/repairjourney-backend/internal/data/repos/testutil"
	types "github.com/yungbote/repairjourney-backend/internal/domain"
	"github.com/yungbote/repairjourney-backend/internal/observability"
	"github.com/yungbote/repairjourney-backend/internal/platform/cache"
	"github.com/yungbote/repairjourney-backend/internal/platform/dbctx"
	"github.com/yungbote/repairjourney-backend/internal/platform/gcp"
	"github.com/yungbote/repairjourney-backend/internal/platform/localstore"
)

var errBucketDown = errors.New("bucket unreachable")

type fakeBucket struct {
	mu      sync.Mutex
	name    string
	objects map[string][]byte
	failPut bool
	puts    int
	lists   int
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{name: "journeys-test", objects: map[string][]byte{}}
}

func (b *fakeBucket) setFail(v bool) {
	b.mu.Lock()
	b.failPut = v
	b.mu.Unlock()
}

func (b *fakeBucket) Put(_ context.Context, key string, body []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.puts++
	if b.failPut {
		return "", errBucketDown
	}
	if _, ok := b.objects[key]; ok {
		return "", fmt.Errorf("put %q: %w", key, gcp.ErrObjectExists)
	}
	b.objects[key] = append([]byte(nil), body...)
	return gcp.FormatAddress(b.name, key), nil
}

func (b *fakeBucket) Exists(_ context.Context, prefix string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lists++
	for k := range b.objects {
		if strings.HasPrefix(k, prefix) {
			return true, nil
		}
	}
	return false, nil
}

func (b *fakeBucket) Download(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	body, ok := b.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %q not found", key)
	}
	return append([]byte(nil), body...), nil
}

func (b *fakeBucket) ListKeys(_ context.Context, prefix string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := []string{}
	for k := range b.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (b *fakeBucket) AddressFor(key string) string { return gcp.FormatAddress(b.name, key) }
func (b *fakeBucket) Bucket() string               { return b.name }

func (b *fakeBucket) calls() (puts, lists int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.puts, b.lists
}

func (b *fakeBucket) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}

// failingFileRepo rejects every audit row insert.
type failingFileRepo struct {
	repos.RepairSessionFileRepo
}

func (failingFileRepo) Create(dbctx.Context, *types.RepairSessionFile) (*types.RepairSessionFile, error) {
	return nil, errors.New("index unavailable")
}

// switchableSessionRepo fails UpdateJourneyState while failUpdate is set.
type switchableSessionRepo struct {
	repos.RepairSessionRepo
	mu         sync.Mutex
	failUpdate bool
}

func (r *switchableSessionRepo) setFailUpdate(v bool) {
	r.mu.Lock()
	r.failUpdate = v
	r.mu.Unlock()
}

func (r *switchableSessionRepo) UpdateJourneyState(dbc dbctx.Context, id uint, upd repos.JourneyStateUpdate) error {
	r.mu.Lock()
	fail := r.failUpdate
	r.mu.Unlock()
	if fail {
		return errors.New("journey state update rejected")
	}
	return r.RepairSessionRepo.UpdateJourneyState(dbc, id, upd)
}

// pausingSessionRepo holds the next GetByID after the row is read, until
// resume is closed. Only one call is held per arm.
type pausingSessionRepo struct {
	repos.RepairSessionRepo
	mu     sync.Mutex
	armed  bool
	paused chan struct{}
	resume chan struct{}
}

func (r *pausingSessionRepo) arm() {
	r.mu.Lock()
	r.armed = true
	r.paused = make(chan struct{})
	r.resume = make(chan struct{})
	r.mu.Unlock()
}

func (r *pausingSessionRepo) GetByID(dbc dbctx.Context, id uint) (*types.RepairSession, error) {
	s, err := r.RepairSessionRepo.GetByID(dbc, id)
	r.mu.Lock()
	hold := r.armed
	r.armed = false
	paused, resume := r.paused, r.resume
	r.mu.Unlock()
	if hold {
		close(paused)
		<-resume
	}
	return s, err
}

type journeyHarness struct {
	t            *testing.T
	db           *gorm.DB
	bucket       *fakeBucket
	fallbackRoot string
	artifacts    *ArtifactStore
	metrics      *observability.Metrics
	sessions     repos.RepairSessionRepo
	files        repos.RepairSessionFileRepo
	interactions repos.UserInteractionRepo
	analytics    repos.RepairAnalyticsRepo
	users        repos.UserRepo
	svc          JourneyConsolidator
}

type harnessOption func(h *journeyHarness)

func withBlockedFallback() harnessOption {
	return func(h *journeyHarness) {
		blocker := filepath.Join(h.t.TempDir(), "blocked")
		if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
			h.t.Fatalf("write blocker: %v", err)
		}
		h.fallbackRoot = blocker
	}
}

func withSessionRepo(wrap func(repos.RepairSessionRepo) repos.RepairSessionRepo) harnessOption {
	return func(h *journeyHarness) { h.sessions = wrap(h.sessions) }
}

func withFileRepo(r repos.RepairSessionFileRepo) harnessOption {
	return func(h *journeyHarness) { h.files = r }
}

func newJourneyHarness(t *testing.T, opts ...harnessOption) *journeyHarness {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)

	h := &journeyHarness{
		t:            t,
		db:           db,
		bucket:       newFakeBucket(),
		fallbackRoot: filepath.Join(t.TempDir(), "fallback"),
		sessions:     repos.NewRepairSessionRepo(db, log),
		files:        repos.NewRepairSessionFileRepo(db, log),
		interactions: repos.NewUserInteractionRepo(db, log),
		analytics:    repos.NewRepairAnalyticsRepo(db, log),
		users:        repos.NewUserRepo(db, log),
		metrics:      observability.NewMetrics(),
	}
	for _, opt := range opts {
		opt(h)
	}
	fallback, err := localstore.New(log, h.fallbackRoot)
	if err != nil {
		t.Fatalf("localstore.New: %v", err)
	}
	h.artifacts = NewArtifactStore(log, h.bucket, fallback).WithMetrics(h.metrics)
	h.svc = NewJourneyConsolidator(log, h.sessions, h.files, h.interactions, h.analytics, h.artifacts, nil, cache.NewMemory(), time.Minute)
	return h
}

func (h *journeyHarness) sessionsDB() *gorm.DB { return h.db }

func (h *journeyHarness) seedSession(status string) *types.RepairSession {
	h.t.Helper()
	s, err := h.sessions.Create(dbctx.Of(context.Background()), &types.RepairSession{
		UserID:      "user-1",
		DeviceType:  "phone",
		DeviceBrand: "Acme",
		DeviceModel: "A1",
		Status:      status,
	})
	if err != nil {
		h.t.Fatalf("seed session: %v", err)
	}
	return s
}

func (h *journeyHarness) reload(id uint) *types.RepairSession {
	h.t.Helper()
	s, err := h.sessions.GetByID(dbctx.Of(context.Background()), id)
	if err != nil || s == nil {
		h.t.Fatalf("reload session %d: err=%v", id, err)
	}
	return s
}

func compactJSON(t *testing.T, raw []byte) string {
	t.Helper()
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		t.Fatalf("compact %q: %v", string(raw), err)
	}
	return buf.String()
}
