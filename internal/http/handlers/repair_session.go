package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/repairjourney-backend/internal/http/response"
	"github.com/yungbote/repairjourney-backend/internal/platform/logger"
	"github.com/yungbote/repairjourney-backend/internal/services"
)

const maxPhaseBodyBytes = 8 << 20

type RepairSessionHandler struct {
	log      *logger.Logger
	journeys services.JourneyConsolidator
}

func NewRepairSessionHandler(log *logger.Logger, journeys services.JourneyConsolidator) *RepairSessionHandler {
	return &RepairSessionHandler{log: log.With("handler", "RepairSessionHandler"), journeys: journeys}
}

type persistResponse struct {
	Address      string `json:"address"`
	Backend      string `json:"backend"`
	Stored       bool   `json:"stored"`
	Deduplicated bool   `json:"deduplicated,omitempty"`
	Indexed      bool   `json:"indexed"`
	IndexError   string `json:"indexError,omitempty"`
}

func toPersistResponse(res *services.PersistResult) persistResponse {
	out := persistResponse{
		Address:      res.Address,
		Backend:      string(res.Backend),
		Stored:       res.Stored(),
		Deduplicated: res.Deduplicated,
		Indexed:      res.Index.Attempted && res.Index.OK(),
	}
	if res.Index.Err != nil {
		out.IndexError = res.Index.Err.Error()
	}
	return out
}

// POST /api/repair-sessions
func (h *RepairSessionHandler) Start(c *gin.Context) {
	var req services.StartSessionInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	row, err := h.journeys.StartSession(c.Request.Context(), req)
	if err != nil {
		response.RespondFromError(c, err, "start_session_failed")
		return
	}
	response.RespondCreated(c, gin.H{"session": row})
}

// RecordPhase returns the handler for one of the four phase routes. The body
// is the phase payload itself and is stored verbatim.
func (h *RepairSessionHandler) RecordPhase(phase services.Phase) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := sessionIDParam(c)
		if !ok {
			return
		}
		payload, ok := readJSONBody(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		var (
			res *services.PersistResult
			err error
		)
		switch phase {
		case services.PhaseInitialSubmission:
			res, err = h.journeys.RecordInitialSubmission(ctx, id, payload)
		case services.PhaseDiagnostics:
			res, err = h.journeys.RecordDiagnostics(ctx, id, payload)
		case services.PhaseIssueConfirmation:
			res, err = h.journeys.RecordIssueConfirmation(ctx, id, payload)
		case services.PhaseRepairGuide:
			res, err = h.journeys.RecordRepairGuide(ctx, id, payload)
		default:
			err = fmt.Errorf("%w: %q", services.ErrInvalidPhase, phase)
		}
		if err != nil {
			response.RespondFromError(c, err, "record_phase_failed")
			return
		}
		response.RespondOK(c, toPersistResponse(res))
	}
}

// POST /api/repair-sessions/:id/consolidate
// body: { "<phase>": <payload>, ... }; an empty object rebuilds the document.
func (h *RepairSessionHandler) Consolidate(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}
	body, ok := readJSONBody(c)
	if !ok {
		return
	}
	var raw map[string]json.RawMessage
	if len(body) > 0 {
		if err := json.Unmarshal(body, &raw); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
			return
		}
	}
	overrides := services.PhaseOverrides{}
	for name, payload := range raw {
		p, err := services.ParsePhase(name)
		if err != nil {
			response.RespondFromError(c, err, "invalid_phase")
			return
		}
		overrides[p] = payload
	}
	res, err := h.journeys.Consolidate(c.Request.Context(), id, overrides)
	if err != nil {
		response.RespondFromError(c, err, "consolidate_failed")
		return
	}
	response.RespondOK(c, toPersistResponse(res))
}

// POST /api/repair-sessions/:id/complete
func (h *RepairSessionHandler) Complete(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}
	row, err := h.journeys.CompleteSession(c.Request.Context(), id)
	if err != nil {
		response.RespondFromError(c, err, "complete_session_failed")
		return
	}
	response.RespondOK(c, gin.H{"session": row})
}

// GET /api/repair-sessions/:id/document
func (h *RepairSessionHandler) Document(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}
	doc, err := h.journeys.CurrentDocument(c.Request.Context(), id)
	if err != nil {
		response.RespondFromError(c, err, "read_document_failed")
		return
	}
	response.RespondOK(c, doc)
}

// POST /api/repair-sessions/:id/interactions
func (h *RepairSessionHandler) AppendInteraction(c *gin.Context) {
	h.appendEvent(c, h.journeys.AppendInteraction)
}

// POST /api/repair-sessions/:id/analytics
func (h *RepairSessionHandler) AppendAnalytics(c *gin.Context) {
	h.appendEvent(c, h.journeys.AppendAnalytics)
}

type appendFunc func(ctx context.Context, sessionID uint, in services.JourneyEventInput) error

func (h *RepairSessionHandler) appendEvent(c *gin.Context, appendFn appendFunc) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}
	var req services.JourneyEventInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if err := appendFn(c.Request.Context(), id, req); err != nil {
		response.RespondFromError(c, err, "append_event_failed")
		return
	}
	c.Status(http.StatusAccepted)
}

func sessionIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		response.RespondError(c, http.StatusBadRequest, "invalid_session_id", fmt.Errorf("invalid repair session id %q", c.Param("id")))
		return 0, false
	}
	return uint(id), true
}

func readJSONBody(c *gin.Context) (json.RawMessage, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxPhaseBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.RespondError(c, http.StatusRequestEntityTooLarge, "payload_too_large", err)
			return nil, false
		}
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return nil, false
	}
	if len(body) > 0 && !json.Valid(body) {
		response.RespondError(c, http.StatusBadRequest, "invalid_json", errors.New("phase payload is not valid JSON"))
		return nil, false
	}
	return json.RawMessage(body), true
}
