package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/repairjourney-backend/internal/data/repos"
	types "github.com/yungbote/repairjourney-backend/internal/domain"
	"github.com/yungbote/repairjourney-backend/internal/platform/dbctx"
	"github.com/yungbote/repairjourney-backend/internal/platform/logger"
)

const (
	TrainingCorpusSchemaVersion = "1.0"
	trainingCorpusDir           = "training_corpus/dataset"
	corpusPageSize              = 200
)

type TrainingDevice struct {
	Type  string `json:"type"`
	Brand string `json:"brand"`
	Model string `json:"model"`
}

type TrainingProblem struct {
	Description string   `json:"description"`
	Symptoms    []string `json:"symptoms"`
}

type TrainingFile struct {
	URL      string `json:"url"`
	Purpose  string `json:"purpose"`
	StepName string `json:"stepName"`
}

type TrainingRecord struct {
	SessionID      uint              `json:"sessionId"`
	Device         TrainingDevice    `json:"device"`
	Problem        TrainingProblem   `json:"problem"`
	ConfirmedIssue json.RawMessage   `json:"confirmedIssue"`
	Solution       json.RawMessage   `json:"solution"`
	Diagnostics    []json.RawMessage `json:"diagnostics"`
	Files          []TrainingFile    `json:"files"`
	CreatedAt      time.Time         `json:"createdAt"`
	CompletedAt    *time.Time        `json:"completedAt,omitempty"`
}

type TrainingCorpus struct {
	GeneratedAt   time.Time        `json:"generatedAt"`
	SchemaVersion string           `json:"schemaVersion"`
	Count         int              `json:"count"`
	Records       []TrainingRecord `json:"records"`
}

// TrainingCorpusBuilder is an offline job: one full scan of completed
// sessions per call.
type TrainingCorpusBuilder interface {
	BuildCorpus(ctx context.Context) (*PersistResult, error)
}

type trainingCorpusBuilder struct {
	log         *logger.Logger
	sessions    repos.RepairSessionRepo
	files       repos.RepairSessionFileRepo
	artifacts   *ArtifactStore
	concurrency int
}

func NewTrainingCorpusBuilder(
	baseLog *logger.Logger,
	sessions repos.RepairSessionRepo,
	files repos.RepairSessionFileRepo,
	artifacts *ArtifactStore,
	concurrency int,
) TrainingCorpusBuilder {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &trainingCorpusBuilder{
		log:         baseLog.With("service", "TrainingCorpusBuilder"),
		sessions:    sessions,
		files:       files,
		artifacts:   artifacts,
		concurrency: concurrency,
	}
}

// BuildCorpus keeps completed sessions that carry diagnostics, an issue
// confirmation and a repair guide, and persists them as one dataset artifact.
// Sessions missing a phase are skipped silently.
func (b *trainingCorpusBuilder) BuildCorpus(ctx context.Context) (*PersistResult, error) {
	ctx, span := tracer.Start(ctx, "corpus.build")
	defer span.End()

	records := []TrainingRecord{}
	scanned := 0
	var after uint
	for {
		page, err := b.sessions.ListByStatus(dbctx.Of(ctx), types.RepairStatusCompleted, after, corpusPageSize)
		if err != nil {
			return nil, fmt.Errorf("scan completed sessions: %w", err)
		}
		if len(page) == 0 {
			break
		}
		scanned += len(page)
		after = page[len(page)-1].ID

		projected, err := b.projectPage(ctx, page)
		if err != nil {
			return nil, err
		}
		records = append(records, projected...)
		if len(page) < corpusPageSize {
			break
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].SessionID < records[j].SessionID })

	key, ts := b.artifacts.Key(trainingCorpusDir, "training_dataset")
	corpus := TrainingCorpus{
		GeneratedAt:   ts,
		SchemaVersion: TrainingCorpusSchemaVersion,
		Count:         len(records),
		Records:       records,
	}
	body, err := json.MarshalIndent(corpus, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode training corpus: %w", err)
	}
	addr, key, backend := b.artifacts.Write(ctx, key, body)

	span.SetAttributes(
		attribute.Int("corpus.scanned", scanned),
		attribute.Int("corpus.records", len(records)),
		attribute.String("artifact.backend", string(backend)),
	)
	b.artifacts.Metrics().ObserveCorpusBuild(string(backend), len(records))
	b.log.Info("Training corpus built", "scanned", scanned, "records", len(records), "address", addr, "backend", string(backend))
	return &PersistResult{Address: addr, Backend: backend, Key: key, Body: body}, nil
}

func (b *trainingCorpusBuilder) projectPage(ctx context.Context, page []*types.RepairSession) ([]TrainingRecord, error) {
	out := make([]*TrainingRecord, len(page))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i, s := range page {
		i, s := i, s
		g.Go(func() error {
			rec, ok := b.project(gctx, s)
			if ok {
				out[i] = rec
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	records := make([]TrainingRecord, 0, len(out))
	for _, r := range out {
		if r != nil {
			records = append(records, *r)
		}
	}
	return records, nil
}

// project resolves phases from the session row, falling back to the document
// at metadata_url when the row is incomplete.
func (b *trainingCorpusBuilder) project(ctx context.Context, s *types.RepairSession) (*TrainingRecord, bool) {
	st, err := stateFromSession(s)
	if err != nil {
		b.log.Debug("Session row state unreadable", "repair_session_id", s.ID, "error", err)
	}
	if !st.trainable() && s.MetadataURL != nil && *s.MetadataURL != "" {
		body, err := b.artifacts.Read(ctx, *s.MetadataURL)
		if err != nil {
			b.log.Warn("Current document unreadable, excluding session", "repair_session_id", s.ID, "error", err)
			return nil, false
		}
		doc, err := DecodeJourneyDocument(body)
		if err != nil {
			b.log.Warn("Current document undecodable, excluding session", "repair_session_id", s.ID, "error", err)
			return nil, false
		}
		st = stateFromDocument(doc)
	}
	if !st.trainable() {
		return nil, false
	}

	symptoms := []string{}
	if !isEmptyJSON(s.Symptoms) {
		if err := json.Unmarshal(s.Symptoms, &symptoms); err != nil {
			b.log.Debug("Symptoms column unreadable", "repair_session_id", s.ID, "error", err)
			symptoms = []string{}
		}
	}

	files := []TrainingFile{}
	rows, err := b.files.ListBySession(dbctx.Of(ctx), s.ID)
	if err != nil {
		b.log.Warn("List session files failed", "repair_session_id", s.ID, "error", err)
	}
	for _, f := range rows {
		files = append(files, TrainingFile{URL: f.FileURL, Purpose: f.FilePurpose, StepName: f.StepName})
	}

	return &TrainingRecord{
		SessionID: s.ID,
		Device: TrainingDevice{
			Type:  s.DeviceType,
			Brand: s.DeviceBrand,
			Model: s.DeviceModel,
		},
		Problem: TrainingProblem{
			Description: s.IssueDescription,
			Symptoms:    symptoms,
		},
		ConfirmedIssue: st.IssueConfirmation,
		Solution:       st.RepairGuide,
		Diagnostics:    st.Diagnostics,
		Files:          files,
		CreatedAt:      s.CreatedAt.UTC(),
		CompletedAt:    s.CompletedAt,
	}, true
}
