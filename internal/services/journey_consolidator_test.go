package services

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/yungbote/repairjourney-backend/internal/data/repos"
	"github.com/yungbote/repairjourney-backend/internal/data/repos/testutil"
	types "github.com/yungbote/repairjourney-backend/internal/domain"
	"github.com/yungbote/repairjourney-backend/internal/platform/dbctx"
	"github.com/yungbote/repairjourney-backend/internal/platform/gcp"
	"github.com/yungbote/repairjourney-backend/internal/platform/localstore"
)

func TestConsolidateAppendsDiagnosticsInCallOrder(t *testing.T) {
	h := newJourneyHarness(t)
	ctx := context.Background()
	s := h.seedSession(types.RepairStatusStarted)

	payloads := []string{`{"pass":1}`, `{"pass":2}`, `{"pass":3}`}
	var last *PersistResult
	for _, p := range payloads {
		res, err := h.svc.RecordDiagnostics(ctx, s.ID, json.RawMessage(p))
		if err != nil {
			t.Fatalf("RecordDiagnostics: %v", err)
		}
		last = res
	}

	if got := len(last.Document.Diagnostics); got != len(payloads) {
		t.Fatalf("diagnostics length: want=%d got=%d", len(payloads), got)
	}
	for i, p := range payloads {
		if got := compactJSON(t, last.Document.Diagnostics[i]); got != p {
			t.Fatalf("diagnostics[%d]: want=%s got=%s", i, p, got)
		}
	}

	row := h.reload(s.ID)
	if row.MetadataURL == nil || *row.MetadataURL != last.Address {
		t.Fatalf("metadata_url: want=%q got=%v", last.Address, row.MetadataURL)
	}
	if row.Status != types.RepairStatusDiagnosing {
		t.Fatalf("status: want=%q got=%q", types.RepairStatusDiagnosing, row.Status)
	}

	current, err := h.svc.CurrentDocument(ctx, s.ID)
	if err != nil {
		t.Fatalf("CurrentDocument: %v", err)
	}
	if len(current.Diagnostics) != len(payloads) {
		t.Fatalf("current document diagnostics: want=%d got=%d", len(payloads), len(current.Diagnostics))
	}
}

func TestIssueConfirmationIsLastWriteWins(t *testing.T) {
	h := newJourneyHarness(t)
	ctx := context.Background()
	s := h.seedSession(types.RepairStatusStarted)

	if _, err := h.svc.RecordIssueConfirmation(ctx, s.ID, json.RawMessage(`{"issue":"battery","confidence":0.4}`)); err != nil {
		t.Fatalf("first RecordIssueConfirmation: %v", err)
	}
	res, err := h.svc.RecordIssueConfirmation(ctx, s.ID, json.RawMessage(`{"issue":"charging port"}`))
	if err != nil {
		t.Fatalf("second RecordIssueConfirmation: %v", err)
	}
	if got := compactJSON(t, res.Document.IssueConfirmation); got != `{"issue":"charging port"}` {
		t.Fatalf("issueConfirmation: want=%s got=%s", `{"issue":"charging port"}`, got)
	}
}

func TestRecordInitialSubmissionIsIdempotent(t *testing.T) {
	h := newJourneyHarness(t)
	ctx := context.Background()
	s := h.seedSession(types.RepairStatusStarted)

	first, err := h.svc.RecordInitialSubmission(ctx, s.ID, json.RawMessage(`{"deviceType":"phone"}`))
	if err != nil {
		t.Fatalf("first RecordInitialSubmission: %v", err)
	}
	second, err := h.svc.RecordInitialSubmission(ctx, s.ID, json.RawMessage(`{"deviceType":"tablet"}`))
	if err != nil {
		t.Fatalf("second RecordInitialSubmission: %v", err)
	}
	if first.Address != second.Address {
		t.Fatalf("address: want=%q got=%q", first.Address, second.Address)
	}
	if !second.Deduplicated {
		t.Fatalf("second call: expected Deduplicated")
	}

	n, err := h.files.CountByPurpose(dbctx.Of(ctx), s.ID, types.FilePurposeSubmission)
	if err != nil {
		t.Fatalf("CountByPurpose: %v", err)
	}
	if n != 1 {
		t.Fatalf("submission rows: want=1 got=%d", n)
	}
	if got := h.bucket.count(); got != 1 {
		t.Fatalf("stored objects: want=1 got=%d", got)
	}
}

func TestConsolidateFallsBackToLocalStore(t *testing.T) {
	h := newJourneyHarness(t)
	ctx := context.Background()
	s := h.seedSession(types.RepairStatusStarted)
	h.bucket.setFail(true)

	res, err := h.svc.RecordDiagnostics(ctx, s.ID, json.RawMessage(`{"analysis":"battery"}`))
	if err != nil {
		t.Fatalf("RecordDiagnostics: %v", err)
	}
	if !strings.HasPrefix(res.Address, localstore.AddressScheme) {
		t.Fatalf("address scheme: want %q prefix got %q", localstore.AddressScheme, res.Address)
	}
	if res.Backend != BackendFallback {
		t.Fatalf("backend: want=%q got=%q", BackendFallback, res.Backend)
	}

	path, err := localstore.PathFromAddress(res.Address)
	if err != nil {
		t.Fatalf("PathFromAddress: %v", err)
	}
	onDisk, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read fallback artifact: %v", err)
	}
	if string(onDisk) != string(res.Body) {
		t.Fatalf("fallback artifact differs from persisted body")
	}
	if !res.Index.OK() {
		t.Fatalf("index: expected ok, got %v", res.Index.Err)
	}
	if row := h.reload(s.ID); row.MetadataURL == nil || *row.MetadataURL != res.Address {
		t.Fatalf("metadata_url: want=%q got=%v", res.Address, row.MetadataURL)
	}
	if got := h.metrics.ArtifactWrites(string(BackendFallback)); got != 1 {
		t.Fatalf("fallback writes metric: want=1 got=%g", got)
	}
}

func TestConsolidateTotalFailureReturnsErrorSentinel(t *testing.T) {
	h := newJourneyHarness(t, withBlockedFallback())
	ctx := context.Background()
	s := h.seedSession(types.RepairStatusStarted)
	h.bucket.setFail(true)

	res, err := h.svc.RecordRepairGuide(ctx, s.ID, json.RawMessage(`{"steps":["open case"]}`))
	if err != nil {
		t.Fatalf("RecordRepairGuide: unexpected error %v", err)
	}
	if !IsErrorAddress(res.Address) {
		t.Fatalf("address: want error:// sentinel got %q", res.Address)
	}
	if res.Stored() {
		t.Fatalf("Stored: want=false")
	}
	if res.Index.Attempted {
		t.Fatalf("index should not be attempted for an unstored artifact")
	}
	if row := h.reload(s.ID); row.MetadataURL != nil {
		t.Fatalf("metadata_url: want nil got %q", *row.MetadataURL)
	}
}

func TestConsolidateUnknownSession(t *testing.T) {
	h := newJourneyHarness(t)
	_, err := h.svc.RecordDiagnostics(context.Background(), 9999, json.RawMessage(`{}`))
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("want ErrSessionNotFound got %v", err)
	}
}

func TestConsolidateRejectsUnknownPhase(t *testing.T) {
	h := newJourneyHarness(t)
	s := h.seedSession(types.RepairStatusStarted)
	_, err := h.svc.Consolidate(context.Background(), s.ID, PhaseOverrides{"billing": json.RawMessage(`{}`)})
	if !errors.Is(err, ErrInvalidPhase) {
		t.Fatalf("want ErrInvalidPhase got %v", err)
	}
}

func TestIndexFailureDoesNotFailConsolidate(t *testing.T) {
	h := newJourneyHarness(t, withFileRepo(failingFileRepo{}))
	ctx := context.Background()
	s := h.seedSession(types.RepairStatusStarted)

	res, err := h.svc.RecordDiagnostics(ctx, s.ID, json.RawMessage(`{"analysis":"fan"}`))
	if err != nil {
		t.Fatalf("RecordDiagnostics: %v", err)
	}
	if !res.Stored() {
		t.Fatalf("Stored: want=true address=%q", res.Address)
	}
	if !res.Index.Attempted || res.Index.Err == nil {
		t.Fatalf("index: want attempted with error, got %+v", res.Index)
	}
}

func TestJourneyStateFailureKeepsPreviousMetadataURL(t *testing.T) {
	var sessions *switchableSessionRepo
	h := newJourneyHarness(t, withSessionRepo(func(inner repos.RepairSessionRepo) repos.RepairSessionRepo {
		sessions = &switchableSessionRepo{RepairSessionRepo: inner}
		return sessions
	}))
	ctx := context.Background()
	s := h.seedSession(types.RepairStatusStarted)

	first, err := h.svc.RecordDiagnostics(ctx, s.ID, json.RawMessage(`{"pass":1}`))
	if err != nil {
		t.Fatalf("first RecordDiagnostics: %v", err)
	}

	sessions.setFailUpdate(true)
	second, err := h.svc.RecordDiagnostics(ctx, s.ID, json.RawMessage(`{"pass":2}`))
	if err != nil {
		t.Fatalf("second RecordDiagnostics: %v", err)
	}
	if !second.Stored() {
		t.Fatalf("Stored: want=true address=%q", second.Address)
	}
	if !second.Index.Attempted || second.Index.Err == nil {
		t.Fatalf("index: want attempted with error, got %+v", second.Index)
	}
	row := h.reload(s.ID)
	if row.MetadataURL == nil || *row.MetadataURL != first.Address {
		t.Fatalf("metadata_url: want=%q got=%v", first.Address, row.MetadataURL)
	}
	if got := h.metrics.IndexFailures("journey_state"); got != 1 {
		t.Fatalf("journey_state index failures: want=1 got=%g", got)
	}
	if got := h.metrics.IndexFailures("audit_row"); got != 0 {
		t.Fatalf("audit_row index failures: want=0 got=%g", got)
	}
}

func TestConsolidateReadsCurrentDocumentWhenRowStateIsEmpty(t *testing.T) {
	h := newJourneyHarness(t)
	ctx := context.Background()
	s := h.seedSession(types.RepairStatusStarted)

	if _, err := h.svc.RecordDiagnostics(ctx, s.ID, json.RawMessage(`{"pass":1}`)); err != nil {
		t.Fatalf("RecordDiagnostics: %v", err)
	}
	if _, err := h.svc.RecordIssueConfirmation(ctx, s.ID, json.RawMessage(`{"issue":"screen"}`)); err != nil {
		t.Fatalf("RecordIssueConfirmation: %v", err)
	}
	if err := h.db.Model(&types.RepairSession{}).Where("id = ?", s.ID).Updates(map[string]interface{}{
		"initial_submission": nil,
		"diagnostics":        nil,
		"issue_confirmation": nil,
		"repair_guide":       nil,
	}).Error; err != nil {
		t.Fatalf("clear journey columns: %v", err)
	}

	res, err := h.svc.RecordRepairGuide(ctx, s.ID, json.RawMessage(`{"steps":["reseat"]}`))
	if err != nil {
		t.Fatalf("RecordRepairGuide: %v", err)
	}
	if got := len(res.Document.Diagnostics); got != 1 {
		t.Fatalf("diagnostics length: want=1 got=%d", got)
	}
	if got := compactJSON(t, res.Document.IssueConfirmation); got != `{"issue":"screen"}` {
		t.Fatalf("issueConfirmation: want=%s got=%s", `{"issue":"screen"}`, got)
	}
}

func TestCacheFillDuringWriteDoesNotLoseDiagnostics(t *testing.T) {
	var sessions *pausingSessionRepo
	h := newJourneyHarness(t, withSessionRepo(func(inner repos.RepairSessionRepo) repos.RepairSessionRepo {
		sessions = &pausingSessionRepo{RepairSessionRepo: inner}
		return sessions
	}))
	ctx := context.Background()
	s := h.seedSession(types.RepairStatusStarted)

	if _, err := h.svc.RecordDiagnostics(ctx, s.ID, json.RawMessage(`{"pass":1}`)); err != nil {
		t.Fatalf("RecordDiagnostics pass 1: %v", err)
	}

	// A reader loads the row before pass 2 lands and fills the cache after it.
	sessions.arm()
	readDone := make(chan error, 1)
	go func() {
		_, err := h.svc.CurrentDocument(ctx, s.ID)
		readDone <- err
	}()
	<-sessions.paused
	if _, err := h.svc.RecordDiagnostics(ctx, s.ID, json.RawMessage(`{"pass":2}`)); err != nil {
		t.Fatalf("RecordDiagnostics pass 2: %v", err)
	}
	close(sessions.resume)
	if err := <-readDone; err != nil {
		t.Fatalf("CurrentDocument during write: %v", err)
	}

	current, err := h.svc.CurrentDocument(ctx, s.ID)
	if err != nil {
		t.Fatalf("CurrentDocument: %v", err)
	}
	if got := len(current.Diagnostics); got != 2 {
		t.Fatalf("current document diagnostics: want=2 got=%d", got)
	}

	res, err := h.svc.RecordDiagnostics(ctx, s.ID, json.RawMessage(`{"pass":3}`))
	if err != nil {
		t.Fatalf("RecordDiagnostics pass 3: %v", err)
	}
	want := []string{`{"pass":1}`, `{"pass":2}`, `{"pass":3}`}
	if got := len(res.Document.Diagnostics); got != len(want) {
		t.Fatalf("diagnostics length: want=%d got=%d", len(want), got)
	}
	for i, p := range want {
		if got := compactJSON(t, res.Document.Diagnostics[i]); got != p {
			t.Fatalf("diagnostics[%d]: want=%s got=%s", i, p, got)
		}
	}
	var column []json.RawMessage
	if err := json.Unmarshal(h.reload(s.ID).Diagnostics, &column); err != nil {
		t.Fatalf("decode diagnostics column: %v", err)
	}
	if len(column) != len(want) {
		t.Fatalf("diagnostics column length: want=%d got=%d", len(want), len(column))
	}
}

func TestJourneyScenarioSession42(t *testing.T) {
	h := newJourneyHarness(t)
	ctx := context.Background()
	if _, err := h.sessions.Create(dbctx.Of(ctx), &types.RepairSession{ID: 42, UserID: "user-42"}); err != nil {
		t.Fatalf("create session 42: %v", err)
	}

	a1, err := h.svc.RecordInitialSubmission(ctx, 42, json.RawMessage(`{"deviceType":"phone"}`))
	if err != nil {
		t.Fatalf("RecordInitialSubmission: %v", err)
	}
	if row := h.reload(42); row.MetadataURL == nil || *row.MetadataURL != a1.Address {
		t.Fatalf("metadata_url after submission: want=%q got=%v", a1.Address, row.MetadataURL)
	}

	a2, err := h.svc.RecordDiagnostics(ctx, 42, json.RawMessage(`{"analysis":"battery"}`))
	if err != nil {
		t.Fatalf("RecordDiagnostics: %v", err)
	}
	if a2.Address == a1.Address {
		t.Fatalf("second artifact reused address %q", a1.Address)
	}

	_, key, ok := gcp.ParseAddress(a2.Address)
	if !ok {
		t.Fatalf("address %q is not a durable-store address", a2.Address)
	}
	body, err := h.bucket.Download(ctx, key)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	doc, err := DecodeJourneyDocument(body)
	if err != nil {
		t.Fatalf("DecodeJourneyDocument: %v", err)
	}
	var sub struct {
		DeviceType string `json:"deviceType"`
	}
	if err := json.Unmarshal(doc.InitialSubmission, &sub); err != nil || sub.DeviceType != "phone" {
		t.Fatalf("initialSubmission.deviceType: want=%q got=%q err=%v", "phone", sub.DeviceType, err)
	}
	if len(doc.Diagnostics) != 1 || compactJSON(t, doc.Diagnostics[0]) != `{"analysis":"battery"}` {
		t.Fatalf("diagnostics: got=%s", string(body))
	}
}

func TestArtifactKeyLayout(t *testing.T) {
	h := newJourneyHarness(t)
	ctx := context.Background()
	s := h.seedSession(types.RepairStatusStarted)

	res, err := h.svc.RecordIssueConfirmation(ctx, s.ID, json.RawMessage(`{"issue":"x"}`))
	if err != nil {
		t.Fatalf("RecordIssueConfirmation: %v", err)
	}
	re := regexp.MustCompile(`^repair_sessions/\d+/issue_confirmation/issue_confirmation_\d{13}_[0-9a-f]{8}\.json$`)
	if !re.MatchString(res.Key) {
		t.Fatalf("key layout: got %q", res.Key)
	}

	multi, err := h.svc.Consolidate(ctx, s.ID, PhaseOverrides{
		PhaseIssueConfirmation: json.RawMessage(`{"issue":"y"}`),
		PhaseRepairGuide:       json.RawMessage(`{"steps":[]}`),
	})
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	if !strings.Contains(multi.Key, "/consolidated/consolidated_") {
		t.Fatalf("multi-phase key: got %q", multi.Key)
	}
	if row := h.reload(s.ID); row.Status != types.RepairStatusGuided {
		t.Fatalf("status: want=%q got=%q", types.RepairStatusGuided, row.Status)
	}
}

func TestConcurrentConsolidateProducesDistinctArtifacts(t *testing.T) {
	h := newJourneyHarness(t)
	ctx := context.Background()
	s := h.seedSession(types.RepairStatusStarted)

	const n = 8
	addrs := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.svc.RecordDiagnostics(ctx, s.ID, json.RawMessage(`{"concurrent":true}`))
			if err != nil {
				t.Errorf("RecordDiagnostics: %v", err)
				return
			}
			addrs[i] = res.Address
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, a := range addrs {
		if a == "" || seen[a] {
			t.Fatalf("duplicate or empty address in %v", addrs)
		}
		seen[a] = true
	}
	if got := h.bucket.count(); got != n {
		t.Fatalf("stored objects: want=%d got=%d", n, got)
	}
}

func TestCompleteSessionKeepsMetadataURL(t *testing.T) {
	h := newJourneyHarness(t)
	ctx := context.Background()
	s := h.seedSession(types.RepairStatusStarted)

	res, err := h.svc.RecordRepairGuide(ctx, s.ID, json.RawMessage(`{"steps":["a"]}`))
	if err != nil {
		t.Fatalf("RecordRepairGuide: %v", err)
	}
	done, err := h.svc.CompleteSession(ctx, s.ID)
	if err != nil {
		t.Fatalf("CompleteSession: %v", err)
	}
	if done.Status != types.RepairStatusCompleted || done.CompletedAt == nil {
		t.Fatalf("CompleteSession: status=%q completedAt=%v", done.Status, done.CompletedAt)
	}
	if done.MetadataURL == nil || *done.MetadataURL != res.Address {
		t.Fatalf("metadata_url: want=%q got=%v", res.Address, done.MetadataURL)
	}

	if _, err := h.svc.RecordDiagnostics(ctx, s.ID, json.RawMessage(`{"late":true}`)); err != nil {
		t.Fatalf("RecordDiagnostics after completion: %v", err)
	}
	if row := h.reload(s.ID); row.Status != types.RepairStatusCompleted {
		t.Fatalf("status regressed: got %q", row.Status)
	}
}

func TestDocumentIncludesJourneyEvents(t *testing.T) {
	h := newJourneyHarness(t)
	ctx := context.Background()
	s := h.seedSession(types.RepairStatusStarted)

	if err := h.svc.AppendInteraction(ctx, s.ID, JourneyEventInput{Type: "answer", StepName: "diagnostics", Payload: json.RawMessage(`{"q":"power?"}`)}); err != nil {
		t.Fatalf("AppendInteraction: %v", err)
	}
	if err := h.svc.AppendAnalytics(ctx, s.ID, JourneyEventInput{Type: "latency", Payload: json.RawMessage(`{"ms":40}`)}); err != nil {
		t.Fatalf("AppendAnalytics: %v", err)
	}
	if err := h.svc.AppendAnalytics(ctx, s.ID, JourneyEventInput{}); !errors.Is(err, ErrInvalidPhase) {
		t.Fatalf("AppendAnalytics without type: want ErrInvalidPhase got %v", err)
	}

	res, err := h.svc.RecordDiagnostics(ctx, s.ID, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("RecordDiagnostics: %v", err)
	}
	if len(res.Document.Interactions) != 1 || res.Document.Interactions[0].Type != "answer" {
		t.Fatalf("interactions: got %+v", res.Document.Interactions)
	}
	if len(res.Document.Analytics) != 1 || res.Document.Analytics[0].Type != "latency" {
		t.Fatalf("analytics: got %+v", res.Document.Analytics)
	}
	if res.Document.Metadata.SchemaVersion != JourneySchemaVersion {
		t.Fatalf("schemaVersion: want=%q got=%q", JourneySchemaVersion, res.Document.Metadata.SchemaVersion)
	}
	if !strings.Contains(string(res.Body), "\n  \"sessionId\"") {
		t.Fatalf("document is not pretty-printed with two-space indent")
	}
}

func TestStartSessionVerifiesUser(t *testing.T) {
	h := newJourneyHarness(t)
	ctx := context.Background()
	users := NewRelationalUserStore(h.users)
	svc := NewJourneyConsolidator(testutil.Logger(t), h.sessions, h.files, h.interactions, h.analytics, h.artifacts, users, nil, 0)

	if _, err := svc.StartSession(ctx, StartSessionInput{UserID: "1b4e28ba-2fa1-11d2-883f-0016d3cca427"}); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("unknown user: want ErrUserNotFound got %v", err)
	}

	u := &types.User{Email: "owner@example.com"}
	if _, err := h.users.Create(ctx, nil, []*types.User{u}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	s, err := svc.StartSession(ctx, StartSessionInput{
		UserID:     u.ID.String(),
		DeviceType: "laptop",
		Symptoms:   []string{"no power"},
	})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if s.Status != types.RepairStatusStarted {
		t.Fatalf("status: want=%q got=%q", types.RepairStatusStarted, s.Status)
	}
	if compactJSON(t, s.Symptoms) != `["no power"]` {
		t.Fatalf("symptoms: got %s", string(s.Symptoms))
	}
}
