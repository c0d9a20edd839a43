package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/yungbote/repairjourney-backend/internal/data/repos"
	types "github.com/yungbote/repairjourney-backend/internal/domain"
	"github.com/yungbote/repairjourney-backend/internal/domain/repair"
	"github.com/yungbote/repairjourney-backend/internal/platform/cache"
	"github.com/yungbote/repairjourney-backend/internal/platform/ctxutil"
	"github.com/yungbote/repairjourney-backend/internal/platform/dbctx"
	"github.com/yungbote/repairjourney-backend/internal/platform/logger"
)

type StartSessionInput struct {
	UserID           string   `json:"userId"`
	DeviceType       string   `json:"deviceType"`
	DeviceBrand      string   `json:"deviceBrand"`
	DeviceModel      string   `json:"deviceModel"`
	IssueDescription string   `json:"issueDescription"`
	Symptoms         []string `json:"symptoms"`
}

type JourneyEventInput struct {
	Type     string          `json:"type"`
	UserID   string          `json:"userId"`
	StepName string          `json:"stepName"`
	Payload  json.RawMessage `json:"payload"`
}

// JourneyConsolidator owns the consolidated document of every session and the
// metadata_url that points at it. Calls for the same session are not
// serialized; concurrent calls land as distinct artifacts and the last index
// update decides which one metadata_url names.
type JourneyConsolidator interface {
	StartSession(ctx context.Context, in StartSessionInput) (*types.RepairSession, error)
	RecordInitialSubmission(ctx context.Context, sessionID uint, payload json.RawMessage) (*PersistResult, error)
	RecordDiagnostics(ctx context.Context, sessionID uint, payload json.RawMessage) (*PersistResult, error)
	RecordIssueConfirmation(ctx context.Context, sessionID uint, payload json.RawMessage) (*PersistResult, error)
	RecordRepairGuide(ctx context.Context, sessionID uint, payload json.RawMessage) (*PersistResult, error)
	Consolidate(ctx context.Context, sessionID uint, overrides PhaseOverrides) (*PersistResult, error)
	CompleteSession(ctx context.Context, sessionID uint) (*types.RepairSession, error)
	CurrentDocument(ctx context.Context, sessionID uint) (*ConsolidatedJourneyDocument, error)
	AppendInteraction(ctx context.Context, sessionID uint, in JourneyEventInput) error
	AppendAnalytics(ctx context.Context, sessionID uint, in JourneyEventInput) error
}

type journeyConsolidator struct {
	log          *logger.Logger
	sessions     repos.RepairSessionRepo
	files        repos.RepairSessionFileRepo
	interactions repos.UserInteractionRepo
	analytics    repos.RepairAnalyticsRepo
	artifacts    *ArtifactStore
	users        UserStore
	cache        cache.Store
	cacheTTL     time.Duration

	// evictions counts session cache evictions; a fill that overlaps one
	// must not leave its row behind.
	evictions atomic.Uint64
}

// NewJourneyConsolidator wires the consolidator. users may be nil, in which
// case StartSession does not verify the owner; c may be nil to disable caching.
func NewJourneyConsolidator(
	baseLog *logger.Logger,
	sessions repos.RepairSessionRepo,
	files repos.RepairSessionFileRepo,
	interactions repos.UserInteractionRepo,
	analytics repos.RepairAnalyticsRepo,
	artifacts *ArtifactStore,
	users UserStore,
	c cache.Store,
	cacheTTL time.Duration,
) JourneyConsolidator {
	if c == nil {
		c = cache.Noop{}
	}
	return &journeyConsolidator{
		log:          baseLog.With("service", "JourneyConsolidator"),
		sessions:     sessions,
		files:        files,
		interactions: interactions,
		analytics:    analytics,
		artifacts:    artifacts,
		users:        users,
		cache:        c,
		cacheTTL:     cacheTTL,
	}
}

func sessionCacheKey(id uint) string { return "repair_session:" + strconv.FormatUint(uint64(id), 10) }

func (jc *journeyConsolidator) StartSession(ctx context.Context, in StartSessionInput) (*types.RepairSession, error) {
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return nil, fmt.Errorf("start session: %w", ErrUserNotFound)
	}
	if jc.users != nil {
		u, err := jc.users.Get(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("start session: lookup user: %w", err)
		}
		if u == nil {
			return nil, fmt.Errorf("start session: %w", ErrUserNotFound)
		}
	}
	symptoms := in.Symptoms
	if symptoms == nil {
		symptoms = []string{}
	}
	symptomsJSON, err := json.Marshal(symptoms)
	if err != nil {
		return nil, err
	}
	row, err := jc.sessions.Create(dbctx.Of(ctx), &types.RepairSession{
		UserID:           userID,
		DeviceType:       in.DeviceType,
		DeviceBrand:      in.DeviceBrand,
		DeviceModel:      in.DeviceModel,
		IssueDescription: in.IssueDescription,
		Symptoms:         datatypes.JSON(symptomsJSON),
		Status:           types.RepairStatusStarted,
	})
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	jc.log.Info("Repair session started", "repair_session_id", row.ID, "user_id", userID)
	return row, nil
}

// RecordInitialSubmission is idempotent per session: once a submission
// artifact is indexed its address is returned and nothing new is written.
func (jc *journeyConsolidator) RecordInitialSubmission(ctx context.Context, sessionID uint, payload json.RawMessage) (*PersistResult, error) {
	if _, err := jc.readSession(ctx, sessionID); err != nil {
		return nil, err
	}
	existing, err := jc.files.FindFirstByPurpose(dbctx.Of(ctx), sessionID, types.FilePurposeSubmission)
	if err != nil {
		jc.log.Warn("Submission dedup lookup failed, writing a new artifact", "repair_session_id", sessionID, "error", err)
	}
	if existing != nil {
		jc.log.Debug("Initial submission already recorded", "repair_session_id", sessionID, "address", existing.FileURL)
		jc.artifacts.Metrics().IncDedupHit(string(PhaseInitialSubmission))
		return &PersistResult{
			Address:      existing.FileURL,
			Backend:      backendForAddress(existing.FileURL),
			Key:          existing.StorageFileID,
			Deduplicated: true,
		}, nil
	}
	return jc.Consolidate(ctx, sessionID, PhaseOverrides{PhaseInitialSubmission: payload})
}

func (jc *journeyConsolidator) RecordDiagnostics(ctx context.Context, sessionID uint, payload json.RawMessage) (*PersistResult, error) {
	return jc.Consolidate(ctx, sessionID, PhaseOverrides{PhaseDiagnostics: payload})
}

func (jc *journeyConsolidator) RecordIssueConfirmation(ctx context.Context, sessionID uint, payload json.RawMessage) (*PersistResult, error) {
	return jc.Consolidate(ctx, sessionID, PhaseOverrides{PhaseIssueConfirmation: payload})
}

func (jc *journeyConsolidator) RecordRepairGuide(ctx context.Context, sessionID uint, payload json.RawMessage) (*PersistResult, error) {
	return jc.Consolidate(ctx, sessionID, PhaseOverrides{PhaseRepairGuide: payload})
}

// Consolidate merges overrides into the session's journey-so-far and persists
// the result. Only ErrSessionNotFound, ErrInvalidPhase and relational read
// failures are returned as errors; storage outcomes live in the result.
func (jc *journeyConsolidator) Consolidate(ctx context.Context, sessionID uint, overrides PhaseOverrides) (*PersistResult, error) {
	ctx, span := tracer.Start(ctx, "journey.consolidate")
	defer span.End()
	span.SetAttributes(attribute.Int64("repair_session.id", int64(sessionID)))

	overrides, err := overrides.normalize()
	if err != nil {
		return nil, err
	}
	// The merge basis always comes from the database, never the cache.
	session, err := jc.readSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	prev, err := stateFromSession(session)
	switch {
	case err != nil:
		jc.log.Warn("Stored journey state unreadable, rebuilding from current document", "repair_session_id", sessionID, "error", err)
		prev = jc.stateFromCurrentDocument(ctx, session)
	case prev.empty() && session.MetadataURL != nil && *session.MetadataURL != "":
		jc.log.Debug("Session row has no journey state, reading current document", "repair_session_id", sessionID)
		prev = jc.stateFromCurrentDocument(ctx, session)
	}
	next := prev.apply(overrides)
	interactions, analytics := jc.loadEvents(ctx, sessionID)

	folder := overrides.folder()
	key, ts := jc.artifacts.Key(SessionDir(sessionID, folder), folder)
	doc := next.document(sessionID, ts, interactions, analytics)
	body, err := doc.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode journey document: %w", err)
	}

	addr, key, backend := jc.artifacts.Write(ctx, key, body)
	res := &PersistResult{
		Address:  addr,
		Backend:  backend,
		Key:      key,
		Body:     body,
		Document: doc,
	}
	span.SetAttributes(attribute.String("artifact.backend", string(backend)))
	if backend == BackendNone {
		return res, nil
	}

	res.Index = jc.index(ctx, session, overrides, next, res)
	if !res.Index.OK() {
		jc.log.Warn("Journey index update failed, artifact is stored but not discoverable",
			"repair_session_id", sessionID, "address", addr, "error", res.Index.Err)
	}
	jc.log.Info("Journey consolidated", append([]interface{}{
		"repair_session_id", sessionID, "address", addr, "backend", string(backend), "phases", doc.Metadata.Phases,
	}, ctxutil.LogFields(ctx)...)...)
	return res, nil
}

// index records the artifact and moves metadata_url to it. Both writes are
// attempted; failures are joined into the result, never returned.
func (jc *journeyConsolidator) index(ctx context.Context, session *types.RepairSession, overrides PhaseOverrides, next journeyState, res *PersistResult) BestEffort {
	dbc := dbctx.Of(ctx)
	purpose := types.FilePurposeConsolidated
	if _, only := overrides[PhaseInitialSubmission]; only && len(overrides) == 1 {
		purpose = types.FilePurposeSubmission
	}
	storageID := ""
	if res.Backend == BackendDurable {
		storageID = res.Key
	}

	var errs []error
	if _, err := jc.files.Create(dbc, &types.RepairSessionFile{
		RepairSessionID: session.ID,
		UserID:          session.UserID,
		FileName:        path.Base(res.Key),
		FileURL:         res.Address,
		StorageFileID:   storageID,
		FilePurpose:     purpose,
		StepName:        overrides.folder(),
		ContentType:     "application/json",
	}); err != nil {
		errs = append(errs, fmt.Errorf("audit row: %w", err))
		jc.artifacts.Metrics().IncIndexFailure("audit_row")
	}

	status := session.Status
	for p := range overrides {
		status = repair.AdvanceStatus(status, phaseStatus[p])
	}
	upd := repos.JourneyStateUpdate{
		MetadataURL: &res.Address,
		Status:      &status,
	}
	for p, raw := range overrides {
		switch p {
		case PhaseInitialSubmission:
			upd.InitialSubmission = datatypes.JSON(raw)
		case PhaseIssueConfirmation:
			upd.IssueConfirmation = datatypes.JSON(raw)
		case PhaseRepairGuide:
			upd.RepairGuide = datatypes.JSON(raw)
		case PhaseDiagnostics:
			diag, err := json.Marshal(next.Diagnostics)
			if err != nil {
				errs = append(errs, fmt.Errorf("encode diagnostics: %w", err))
				continue
			}
			upd.Diagnostics = datatypes.JSON(diag)
		}
	}
	if err := jc.sessions.UpdateJourneyState(dbc, session.ID, upd); err != nil {
		errs = append(errs, fmt.Errorf("journey state: %w", err))
		jc.artifacts.Metrics().IncIndexFailure("journey_state")
	}
	jc.evictSession(ctx, session.ID)

	return BestEffort{Attempted: true, Err: errors.Join(errs...)}
}

func (jc *journeyConsolidator) CompleteSession(ctx context.Context, sessionID uint) (*types.RepairSession, error) {
	if _, err := jc.readSession(ctx, sessionID); err != nil {
		return nil, err
	}
	if err := jc.sessions.MarkCompleted(dbctx.Of(ctx), sessionID, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("complete session: %w", err)
	}
	jc.evictSession(ctx, sessionID)
	jc.log.Info("Repair session completed", "repair_session_id", sessionID)
	return jc.readSession(ctx, sessionID)
}

// CurrentDocument reads back the artifact metadata_url points at. A session
// that was never consolidated yields a not-found error.
func (jc *journeyConsolidator) CurrentDocument(ctx context.Context, sessionID uint) (*ConsolidatedJourneyDocument, error) {
	session, err := jc.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.MetadataURL == nil || *session.MetadataURL == "" {
		return nil, fmt.Errorf("session %d has no consolidated document: %w", sessionID, ErrSessionNotFound)
	}
	body, err := jc.artifacts.Read(ctx, *session.MetadataURL)
	if err != nil {
		return nil, err
	}
	return DecodeJourneyDocument(body)
}

func (jc *journeyConsolidator) AppendInteraction(ctx context.Context, sessionID uint, in JourneyEventInput) error {
	session, err := jc.loadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(in.Type) == "" {
		return fmt.Errorf("%w: interaction type is required", ErrInvalidPhase)
	}
	userID := in.UserID
	if userID == "" {
		userID = session.UserID
	}
	_, err = jc.interactions.Create(dbctx.Of(ctx), []*types.UserInteraction{{
		RepairRequestID: sessionID,
		UserID:          userID,
		InteractionType: in.Type,
		StepName:        in.StepName,
		Payload:         datatypes.JSON(rawOrNil(in.Payload)),
	}})
	return err
}

func (jc *journeyConsolidator) AppendAnalytics(ctx context.Context, sessionID uint, in JourneyEventInput) error {
	if _, err := jc.loadSession(ctx, sessionID); err != nil {
		return err
	}
	if strings.TrimSpace(in.Type) == "" {
		return fmt.Errorf("%w: analytics event type is required", ErrInvalidPhase)
	}
	_, err := jc.analytics.Create(dbctx.Of(ctx), []*types.RepairAnalytics{{
		RepairRequestID: sessionID,
		EventType:       in.Type,
		Payload:         datatypes.JSON(rawOrNil(in.Payload)),
	}})
	return err
}

// loadSession serves read-only paths from the cache. Anything that writes the
// row back uses readSession instead.
func (jc *journeyConsolidator) loadSession(ctx context.Context, sessionID uint) (*types.RepairSession, error) {
	key := sessionCacheKey(sessionID)
	if raw, ok, err := jc.cache.Get(ctx, key); err == nil && ok {
		var s types.RepairSession
		if json.Unmarshal(raw, &s) == nil {
			return &s, nil
		}
	}
	gen := jc.evictions.Load()
	s, err := jc.readSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(s); err == nil {
		_ = jc.cache.Set(ctx, key, raw, jc.cacheTTL)
		// A writer evicted while this row was in flight; it may predate the write.
		if jc.evictions.Load() != gen {
			_ = jc.cache.Evict(ctx, key)
		}
	}
	return s, nil
}

func (jc *journeyConsolidator) readSession(ctx context.Context, sessionID uint) (*types.RepairSession, error) {
	s, err := jc.sessions.GetByID(dbctx.Of(ctx), sessionID)
	if err != nil {
		return nil, fmt.Errorf("load repair session %d: %w", sessionID, err)
	}
	if s == nil {
		return nil, fmt.Errorf("%w: %d", ErrSessionNotFound, sessionID)
	}
	return s, nil
}

// evictSession must run after the row write it follows.
func (jc *journeyConsolidator) evictSession(ctx context.Context, sessionID uint) {
	jc.evictions.Add(1)
	if err := jc.cache.Evict(ctx, sessionCacheKey(sessionID)); err != nil {
		jc.log.Warn("Session cache evict failed", "repair_session_id", sessionID, "error", err)
	}
}

// loadEvents reads both event logs concurrently. A failed read leaves that
// sequence empty; the document is still written.
func (jc *journeyConsolidator) loadEvents(ctx context.Context, sessionID uint) ([]JourneyEvent, []JourneyEvent) {
	var (
		interactionRows []*types.UserInteraction
		analyticsRows   []*types.RepairAnalytics
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := jc.interactions.ListBySession(dbctx.Of(gctx), sessionID)
		if err != nil {
			jc.log.Warn("Load interactions failed", "repair_session_id", sessionID, "error", err)
			return nil
		}
		interactionRows = rows
		return nil
	})
	g.Go(func() error {
		rows, err := jc.analytics.ListBySession(dbctx.Of(gctx), sessionID)
		if err != nil {
			jc.log.Warn("Load analytics failed", "repair_session_id", sessionID, "error", err)
			return nil
		}
		analyticsRows = rows
		return nil
	})
	_ = g.Wait()
	return interactionEvents(interactionRows), analyticsEvents(analyticsRows)
}

func (jc *journeyConsolidator) stateFromCurrentDocument(ctx context.Context, session *types.RepairSession) journeyState {
	if session.MetadataURL == nil || *session.MetadataURL == "" {
		return journeyState{}
	}
	body, err := jc.artifacts.Read(ctx, *session.MetadataURL)
	if err != nil {
		jc.log.Warn("Current document unreadable", "repair_session_id", session.ID, "error", err)
		return journeyState{}
	}
	doc, err := DecodeJourneyDocument(body)
	if err != nil {
		jc.log.Warn("Current document undecodable", "repair_session_id", session.ID, "error", err)
		return journeyState{}
	}
	return stateFromDocument(doc)
}
