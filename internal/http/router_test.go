package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	nethttp "net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/repairjourney-backend/internal/data/repos"
	"github.com/yungbote/repairjourney-backend/internal/data/repos/testutil"
	httpH "github.com/yungbote/repairjourney-backend/internal/http/handlers"
	"github.com/yungbote/repairjourney-backend/internal/observability"
	"github.com/yungbote/repairjourney-backend/internal/platform/localstore"
	"github.com/yungbote/repairjourney-backend/internal/services"
)

// newTestRouter wires the real consolidator over SQLite and a local fallback
// store only, the configuration a node runs in when the bucket is down.
func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testutil.DB(t)
	log := testutil.Logger(t)

	fallback, err := localstore.New(log, filepath.Join(t.TempDir(), "fallback"))
	if err != nil {
		t.Fatalf("localstore.New: %v", err)
	}
	metrics := observability.NewMetrics()
	artifacts := services.NewArtifactStore(log, nil, fallback).WithMetrics(metrics)
	sessions := repos.NewRepairSessionRepo(db, log)
	files := repos.NewRepairSessionFileRepo(db, log)
	journeys := services.NewJourneyConsolidator(log, sessions, files,
		repos.NewUserInteractionRepo(db, log), repos.NewRepairAnalyticsRepo(db, log),
		artifacts, nil, nil, 0)

	return NewRouter(RouterConfig{
		Log:                   log,
		Metrics:               metrics,
		HealthHandler:         httpH.NewHealthHandler(nil),
		RepairSessionHandler:  httpH.NewRepairSessionHandler(log, journeys),
		TrainingCorpusHandler: httpH.NewTrainingCorpusHandler(services.NewTrainingCorpusBuilder(log, sessions, files, artifacts, 2)),
	})
}

func do(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

type persistBody struct {
	Address      string `json:"address"`
	Backend      string `json:"backend"`
	Stored       bool   `json:"stored"`
	Deduplicated bool   `json:"deduplicated"`
	Indexed      bool   `json:"indexed"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return out
}

func TestJourneyOverHTTP(t *testing.T) {
	r := newTestRouter(t)

	rec := do(t, r, nethttp.MethodPost, "/api/repair-sessions",
		`{"userId":"user-1","deviceType":"laptop","deviceBrand":"Acme","deviceModel":"X1","symptoms":["no power"]}`)
	if rec.Code != nethttp.StatusCreated {
		t.Fatalf("start: want=%d got=%d body=%s", nethttp.StatusCreated, rec.Code, rec.Body.String())
	}
	started := decode[struct {
		Session struct {
			ID uint `json:"id"`
		} `json:"session"`
	}](t, rec)
	base := fmt.Sprintf("/api/repair-sessions/%d", started.Session.ID)

	rec = do(t, r, nethttp.MethodPost, base+"/submission", `{"photos":2}`)
	if rec.Code != nethttp.StatusOK {
		t.Fatalf("submission: want=200 got=%d body=%s", rec.Code, rec.Body.String())
	}
	first := decode[persistBody](t, rec)
	if first.Backend != string(services.BackendFallback) || !first.Stored || !first.Indexed {
		t.Fatalf("submission result: got %+v", first)
	}

	second := decode[persistBody](t, do(t, r, nethttp.MethodPost, base+"/submission", `{"photos":3}`))
	if !second.Deduplicated || second.Address != first.Address {
		t.Fatalf("resubmission: want dedup of %q got %+v", first.Address, second)
	}

	for _, d := range []string{`{"analysis":"psu"}`, `{"analysis":"board"}`} {
		if rec := do(t, r, nethttp.MethodPost, base+"/diagnostics", d); rec.Code != nethttp.StatusOK {
			t.Fatalf("diagnostics: want=200 got=%d body=%s", rec.Code, rec.Body.String())
		}
	}

	rec = do(t, r, nethttp.MethodGet, base+"/document", "")
	if rec.Code != nethttp.StatusOK {
		t.Fatalf("document: want=200 got=%d body=%s", rec.Code, rec.Body.String())
	}
	doc := decode[services.ConsolidatedJourneyDocument](t, rec)
	if len(doc.Diagnostics) != 2 {
		t.Fatalf("document diagnostics: want=2 got=%d", len(doc.Diagnostics))
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, doc.InitialSubmission); err != nil || compact.String() != `{"photos":2}` {
		t.Fatalf("document initialSubmission: want=%q got=%q (err=%v)", `{"photos":2}`, compact.String(), err)
	}

	rec = do(t, r, nethttp.MethodGet, "/metrics", "")
	if !strings.Contains(rec.Body.String(), `rj_artifact_writes_total{backend="local-fallback"} 3`) {
		t.Fatalf("metrics missing fallback writes:\n%s", rec.Body.String())
	}
}

func TestPhaseRouteErrors(t *testing.T) {
	r := newTestRouter(t)

	cases := []struct {
		name string
		path string
		body string
		want int
	}{
		{"unknown session", "/api/repair-sessions/999/diagnostics", `{"a":1}`, nethttp.StatusNotFound},
		{"bad id", "/api/repair-sessions/abc/diagnostics", `{"a":1}`, nethttp.StatusBadRequest},
		{"bad json", "/api/repair-sessions/1/diagnostics", `{"a":`, nethttp.StatusBadRequest},
		{"bad phase", "/api/repair-sessions/1/consolidate", `{"warranty":{}}`, nethttp.StatusBadRequest},
	}
	for _, tc := range cases {
		if rec := do(t, r, nethttp.MethodPost, tc.path, tc.body); rec.Code != tc.want {
			t.Fatalf("%s: want=%d got=%d body=%s", tc.name, tc.want, rec.Code, rec.Body.String())
		}
	}
}

func TestTrainingCorpusRoute(t *testing.T) {
	r := newTestRouter(t)

	rec := do(t, r, nethttp.MethodPost, "/api/training-corpus", "")
	if rec.Code != nethttp.StatusOK {
		t.Fatalf("corpus: want=200 got=%d body=%s", rec.Code, rec.Body.String())
	}
	got := decode[persistBody](t, rec)
	if !got.Stored || !strings.Contains(got.Address, "training_corpus/dataset/training_dataset_") {
		t.Fatalf("corpus result: got %+v", got)
	}
}
