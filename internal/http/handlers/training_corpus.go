package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/repairjourney-backend/internal/http/response"
	"github.com/yungbote/repairjourney-backend/internal/services"
)

type TrainingCorpusHandler struct {
	builder services.TrainingCorpusBuilder
}

func NewTrainingCorpusHandler(builder services.TrainingCorpusBuilder) *TrainingCorpusHandler {
	return &TrainingCorpusHandler{builder: builder}
}

// POST /api/training-corpus
func (h *TrainingCorpusHandler) Build(c *gin.Context) {
	res, err := h.builder.BuildCorpus(c.Request.Context())
	if err != nil {
		response.RespondFromError(c, err, "build_corpus_failed")
		return
	}
	response.RespondOK(c, toPersistResponse(res))
}
