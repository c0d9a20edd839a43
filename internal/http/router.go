package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/repairjourney-backend/internal/http/handlers"
	httpMW "github.com/yungbote/repairjourney-backend/internal/http/middleware"
	"github.com/yungbote/repairjourney-backend/internal/observability"
	"github.com/yungbote/repairjourney-backend/internal/platform/logger"
	"github.com/yungbote/repairjourney-backend/internal/services"
)

type RouterConfig struct {
	Log         *logger.Logger
	ServiceName string
	CORSOrigins []string
	Metrics     *observability.Metrics

	HealthHandler         *httpH.HealthHandler
	RepairSessionHandler  *httpH.RepairSessionHandler
	TrainingCorpusHandler *httpH.TrainingCorpusHandler
	UserHandler           *httpH.UserHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "repairjourney"
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(cfg.ServiceName))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	api := r.Group("/api")
	{
		// Repair sessions (phase producers)
		if h := cfg.RepairSessionHandler; h != nil {
			api.POST("/repair-sessions", h.Start)
			sessions := api.Group("/repair-sessions/:id")
			sessions.POST("/submission", h.RecordPhase(services.PhaseInitialSubmission))
			sessions.POST("/diagnostics", h.RecordPhase(services.PhaseDiagnostics))
			sessions.POST("/issue-confirmation", h.RecordPhase(services.PhaseIssueConfirmation))
			sessions.POST("/repair-guide", h.RecordPhase(services.PhaseRepairGuide))
			sessions.POST("/consolidate", h.Consolidate)
			sessions.POST("/complete", h.Complete)
			sessions.GET("/document", h.Document)
			sessions.POST("/interactions", h.AppendInteraction)
			sessions.POST("/analytics", h.AppendAnalytics)
		}

		// Training corpus
		if cfg.TrainingCorpusHandler != nil {
			api.POST("/training-corpus", cfg.TrainingCorpusHandler.Build)
		}

		// Users
		if cfg.UserHandler != nil {
			api.GET("/users/:id", cfg.UserHandler.Get)
			api.PUT("/users/:id", cfg.UserHandler.Put)
		}
	}

	return r
}
