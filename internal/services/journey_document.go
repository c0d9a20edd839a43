package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	types "github.com/yungbote/repairjourney-backend/internal/domain"
)

const JourneySchemaVersion = "1.0"

// Phase is one stage of a repair journey.
type Phase string

const (
	PhaseInitialSubmission Phase = "initial_submission"
	PhaseDiagnostics       Phase = "diagnostics"
	PhaseIssueConfirmation Phase = "issue_confirmation"
	PhaseRepairGuide       Phase = "repair_guide"
)

// phaseOrder is the journey order; it also orders metadata.phases.
var phaseOrder = []Phase{
	PhaseInitialSubmission,
	PhaseDiagnostics,
	PhaseIssueConfirmation,
	PhaseRepairGuide,
}

var phaseStatus = map[Phase]string{
	PhaseInitialSubmission: types.RepairStatusStarted,
	PhaseDiagnostics:       types.RepairStatusDiagnosing,
	PhaseIssueConfirmation: types.RepairStatusConfirmed,
	PhaseRepairGuide:       types.RepairStatusGuided,
}

func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if _, ok := phaseStatus[p]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhase, s)
	}
	return p, nil
}

// PhaseOverrides maps a phase to the payload recorded for it in this call.
type PhaseOverrides map[Phase]json.RawMessage

// normalize validates every entry and returns a copy with blank payloads
// replaced by an empty object.
func (o PhaseOverrides) normalize() (PhaseOverrides, error) {
	out := make(PhaseOverrides, len(o))
	for p, raw := range o {
		if _, ok := phaseStatus[p]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPhase, p)
		}
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) == 0 {
			out[p] = json.RawMessage("{}")
			continue
		}
		if !json.Valid(trimmed) {
			return nil, fmt.Errorf("%w: %s payload is not valid JSON", ErrInvalidPhase, p)
		}
		out[p] = append(json.RawMessage(nil), trimmed...)
	}
	return out, nil
}

// folder is the key segment for an artifact carrying these overrides.
func (o PhaseOverrides) folder() string {
	if len(o) == 1 {
		for p := range o {
			return string(p)
		}
	}
	return "consolidated"
}

type DocumentMetadata struct {
	SchemaVersion string   `json:"schemaVersion"`
	CaptureReady  bool     `json:"captureReady"`
	Phases        []string `json:"phases"`
}

type JourneyEvent struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	StepName  string          `json:"stepName,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// ConsolidatedJourneyDocument is the full journey-so-far for one session.
type ConsolidatedJourneyDocument struct {
	SessionID         uint              `json:"sessionId"`
	Timestamp         time.Time         `json:"timestamp"`
	InitialSubmission json.RawMessage   `json:"initialSubmission"`
	Diagnostics       []json.RawMessage `json:"diagnostics"`
	IssueConfirmation json.RawMessage   `json:"issueConfirmation"`
	RepairGuide       json.RawMessage   `json:"repairGuide"`
	Interactions      []JourneyEvent    `json:"interactions"`
	Analytics         []JourneyEvent    `json:"analytics"`
	Metadata          DocumentMetadata  `json:"metadata"`
}

// journeyState is the merged phase content, independent of where it came from.
type journeyState struct {
	InitialSubmission json.RawMessage
	Diagnostics       []json.RawMessage
	IssueConfirmation json.RawMessage
	RepairGuide       json.RawMessage
}

func stateFromSession(s *types.RepairSession) (journeyState, error) {
	st := journeyState{
		InitialSubmission: json.RawMessage(s.InitialSubmission),
		IssueConfirmation: json.RawMessage(s.IssueConfirmation),
		RepairGuide:       json.RawMessage(s.RepairGuide),
	}
	if !isEmptyJSON(s.Diagnostics) {
		if err := json.Unmarshal(s.Diagnostics, &st.Diagnostics); err != nil {
			return st, fmt.Errorf("decode diagnostics column: %w", err)
		}
	}
	return st, nil
}

func stateFromDocument(doc *ConsolidatedJourneyDocument) journeyState {
	return journeyState{
		InitialSubmission: doc.InitialSubmission,
		Diagnostics:       doc.Diagnostics,
		IssueConfirmation: doc.IssueConfirmation,
		RepairGuide:       doc.RepairGuide,
	}
}

// apply merges overrides: diagnostics append, every other phase replaces.
func (st journeyState) apply(o PhaseOverrides) journeyState {
	out := st
	out.Diagnostics = append([]json.RawMessage(nil), st.Diagnostics...)
	if raw, ok := o[PhaseInitialSubmission]; ok {
		out.InitialSubmission = raw
	}
	if raw, ok := o[PhaseDiagnostics]; ok {
		out.Diagnostics = append(out.Diagnostics, raw)
	}
	if raw, ok := o[PhaseIssueConfirmation]; ok {
		out.IssueConfirmation = raw
	}
	if raw, ok := o[PhaseRepairGuide]; ok {
		out.RepairGuide = raw
	}
	return out
}

func (st journeyState) has(p Phase) bool {
	switch p {
	case PhaseInitialSubmission:
		return !isEmptyJSON(st.InitialSubmission)
	case PhaseDiagnostics:
		return len(st.Diagnostics) > 0
	case PhaseIssueConfirmation:
		return !isEmptyJSON(st.IssueConfirmation)
	case PhaseRepairGuide:
		return !isEmptyJSON(st.RepairGuide)
	}
	return false
}

func (st journeyState) empty() bool {
	for _, p := range phaseOrder {
		if st.has(p) {
			return false
		}
	}
	return true
}

// trainable reports whether the three phases the corpus needs are present.
func (st journeyState) trainable() bool {
	return st.has(PhaseDiagnostics) && st.has(PhaseIssueConfirmation) && st.has(PhaseRepairGuide)
}

func (st journeyState) document(sessionID uint, ts time.Time, interactions, analytics []JourneyEvent) *ConsolidatedJourneyDocument {
	phases := []string{}
	for _, p := range phaseOrder {
		if st.has(p) {
			phases = append(phases, string(p))
		}
	}
	diagnostics := st.Diagnostics
	if diagnostics == nil {
		diagnostics = []json.RawMessage{}
	}
	if interactions == nil {
		interactions = []JourneyEvent{}
	}
	if analytics == nil {
		analytics = []JourneyEvent{}
	}
	return &ConsolidatedJourneyDocument{
		SessionID:         sessionID,
		Timestamp:         ts,
		InitialSubmission: orEmptyObject(st.InitialSubmission),
		Diagnostics:       diagnostics,
		IssueConfirmation: orEmptyObject(st.IssueConfirmation),
		RepairGuide:       orEmptyObject(st.RepairGuide),
		Interactions:      interactions,
		Analytics:         analytics,
		Metadata: DocumentMetadata{
			SchemaVersion: JourneySchemaVersion,
			CaptureReady:  st.trainable(),
			Phases:        phases,
		},
	}
}

// Encode renders the document the way it is stored: UTF-8, two-space indent.
func (d *ConsolidatedJourneyDocument) Encode() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

func DecodeJourneyDocument(body []byte) (*ConsolidatedJourneyDocument, error) {
	var doc ConsolidatedJourneyDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode journey document: %w", err)
	}
	return &doc, nil
}

func isEmptyJSON(raw []byte) bool {
	t := bytes.TrimSpace(raw)
	switch string(t) {
	case "", "null", "{}", "[]", `""`:
		return true
	}
	return false
}

func orEmptyObject(raw json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return json.RawMessage("{}")
	}
	return raw
}

func interactionEvents(rows []*types.UserInteraction) []JourneyEvent {
	out := make([]JourneyEvent, 0, len(rows))
	for _, r := range rows {
		if r == nil {
			continue
		}
		out = append(out, JourneyEvent{
			ID:        r.ID.String(),
			Type:      r.InteractionType,
			StepName:  r.StepName,
			Payload:   rawOrNil(r.Payload),
			CreatedAt: r.CreatedAt.UTC(),
		})
	}
	return out
}

func analyticsEvents(rows []*types.RepairAnalytics) []JourneyEvent {
	out := make([]JourneyEvent, 0, len(rows))
	for _, r := range rows {
		if r == nil {
			continue
		}
		out = append(out, JourneyEvent{
			ID:        r.ID.String(),
			Type:      r.EventType,
			Payload:   rawOrNil(r.Payload),
			CreatedAt: r.CreatedAt.UTC(),
		})
	}
	return out
}

func rawOrNil(b []byte) json.RawMessage {
	if len(bytes.TrimSpace(b)) == 0 {
		return nil
	}
	return json.RawMessage(b)
}
