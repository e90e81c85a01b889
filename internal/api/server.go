package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/aosanya/workflowforge/internal/apperror"
	"github.com/aosanya/workflowforge/internal/engine"
	"github.com/aosanya/workflowforge/internal/eventstream"
	"github.com/aosanya/workflowforge/internal/review"
	"github.com/aosanya/workflowforge/internal/task"
	"github.com/aosanya/workflowforge/internal/workflow"
)

// Server is the admin/automation-facing REST surface: start, get, pause,
// resume, cancel, retry, and retrySubset a workflow execution by id (get is
// also offered by correlation id; the other operations are not); list
// executions by status; CRUD workflow definitions;
// submit a review decision; list pending reviews.
type Server struct {
	router    *gin.Engine
	server    *http.Server
	config    *ServerConfig
	svc       *Services
	startedAt time.Time
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Environment  string
}

// Services holds the orchestrator components the API dispatches to.
type Services struct {
	Workflows *workflow.Service
	Tasks     *task.Service
	Engine    *engine.Engine
	Reviews   *review.Service
	Stream    *eventstream.Hub // optional; nil disables the live event stream route
}

// NewServer wires a Server around svc, registering middleware and routes.
func NewServer(config *ServerConfig, svc *Services) *Server {
	if config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	s := &Server{router: router, config: config, svc: svc, startedAt: time.Now().UTC()}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(RecoveryMiddleware())
	s.router.Use(RequestIDMiddleware())
	s.router.Use(LoggingMiddleware())
	s.router.Use(SecurityHeadersMiddleware())
	s.router.Use(CORSMiddleware())
	s.router.Use(ValidateContentTypeMiddleware())
	s.router.Use(RequestSizeLimitMiddleware(10 * 1024 * 1024))
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)

	v1 := s.router.Group("/api/v1")
	{
		defs := v1.Group("/definitions")
		{
			defs.POST("", s.createDefinition)
			defs.GET("", s.listDefinitions)
			defs.GET("/:id", s.getDefinition)
		}

		wfs := v1.Group("/workflows")
		{
			wfs.POST("", s.startWorkflow)
			wfs.GET("", s.listWorkflows)
			wfs.GET("/:id", s.getWorkflow)
			wfs.GET("/by-correlation/:correlationId", s.getWorkflowByCorrelation)
			wfs.POST("/:id/pause", s.pauseWorkflow)
			wfs.POST("/:id/resume", s.resumeWorkflow)
			wfs.POST("/:id/cancel", s.cancelWorkflow)
			wfs.POST("/:id/retry", s.retryWorkflow)
			wfs.POST("/:id/retry-subset", s.retryWorkflowSubset)
			wfs.POST("/:id/reviews/:reviewId", s.submitReview)
		}

		v1.GET("/reviews/pending", s.listPendingReviews)
	}

	if s.svc.Stream != nil {
		s.router.GET("/ws/events/:correlationId", s.svc.Stream.ServeWS)
	}
}

// Start begins serving HTTP.
func (s *Server) Start() error {
	log.WithFields(log.Fields{"host": s.config.Host, "port": s.config.Port}).Info("starting API server")
	return s.server.ListenAndServe()
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	log.Info("stopping API server")
	return s.server.Shutdown(ctx)
}

// GetRouter returns the underlying router, for tests.
func (s *Server) GetRouter() *gin.Engine { return s.router }

func (s *Server) healthCheck(c *gin.Context) {
	SuccessResponse(c, HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   "v1",
		Services:  map[string]string{"api": "healthy"},
		Uptime:    time.Since(s.startedAt).String(),
	})
}

// --- Workflow definitions ---

type createDefinitionRequest struct {
	Name         string                     `json:"name" binding:"required"`
	Description  string                     `json:"description"`
	Version      string                     `json:"version" binding:"required"`
	StrategyType workflow.StrategyType      `json:"strategyType" binding:"required"`
	Tasks        []workflow.TaskDefinition  `json:"tasks"`
}

func (s *Server) createDefinition(c *gin.Context) {
	var req createDefinitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestError(c, "invalid workflow definition payload", err.Error())
		return
	}

	d := &workflow.WorkflowDefinition{
		Name:         req.Name,
		Description:  req.Description,
		Version:      req.Version,
		StrategyType: req.StrategyType,
		Tasks:        req.Tasks,
	}
	if err := s.svc.Workflows.CreateDefinition(c.Request.Context(), d); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, responseEnvelope(c, d, nil))
}

func (s *Server) listDefinitions(c *gin.Context) {
	defs, err := s.svc.Workflows.Definitions().List(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	SuccessResponse(c, defs)
}

func (s *Server) getDefinition(c *gin.Context) {
	d, err := s.svc.Workflows.Definitions().Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	SuccessResponse(c, d)
}

// --- Workflow executions ---

type startWorkflowRequest struct {
	Name      string            `json:"name" binding:"required"`
	Version   string            `json:"version" binding:"required"`
	Variables map[string]string `json:"variables"`
}

func (s *Server) startWorkflow(c *gin.Context) {
	var req startWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestError(c, "invalid start-workflow payload", err.Error())
		return
	}

	wf, err := s.svc.Workflows.StartWorkflow(c.Request.Context(), req.Name, req.Version, req.Variables)
	if err != nil {
		s.respondError(c, err)
		return
	}

	wf, err = s.svc.Engine.ExecuteWorkflow(c.Request.Context(), wf.ID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, responseEnvelope(c, wf, nil))
}

func (s *Server) listWorkflows(c *gin.Context) {
	status := workflow.Status(c.Query("status"))
	if status == "" {
		BadRequestError(c, "status query parameter is required", nil)
		return
	}
	wfs, err := s.svc.Workflows.ListByStatus(c.Request.Context(), status)
	if err != nil {
		s.respondError(c, err)
		return
	}
	SuccessResponse(c, wfs)
}

func (s *Server) getWorkflow(c *gin.Context) {
	wf, err := s.svc.Workflows.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	SuccessResponse(c, wf)
}

func (s *Server) getWorkflowByCorrelation(c *gin.Context) {
	wf, err := s.svc.Workflows.GetByCorrelationID(c.Request.Context(), c.Param("correlationId"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	SuccessResponse(c, wf)
}

func (s *Server) pauseWorkflow(c *gin.Context) {
	wf, err := s.svc.Workflows.Pause(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	SuccessResponse(c, wf)
}

func (s *Server) resumeWorkflow(c *gin.Context) {
	if _, err := s.svc.Workflows.Resume(c.Request.Context(), c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	wf, err := s.svc.Engine.ExecuteWorkflow(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	SuccessResponse(c, wf)
}

func (s *Server) cancelWorkflow(c *gin.Context) {
	wf, err := s.svc.Workflows.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	SuccessResponse(c, wf)
}

func (s *Server) retryWorkflow(c *gin.Context) {
	if _, err := s.svc.Workflows.RetryWorkflow(c.Request.Context(), c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	wf, err := s.svc.Engine.ExecuteWorkflow(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	SuccessResponse(c, wf)
}

type retrySubsetRequest struct {
	TaskDefinitionIDs []string `json:"taskDefinitionIds" binding:"required"`
}

func (s *Server) retryWorkflowSubset(c *gin.Context) {
	var req retrySubsetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestError(c, "invalid retry-subset payload", err.Error())
		return
	}

	id := c.Param("id")
	if _, err := s.svc.Workflows.RetrySubsetPrepare(c.Request.Context(), id); err != nil {
		s.respondError(c, err)
		return
	}
	wf, err := s.svc.Engine.ExecuteTaskSubset(c.Request.Context(), id, req.TaskDefinitionIDs)
	if err != nil {
		s.respondError(c, err)
		return
	}
	SuccessResponse(c, wf)
}

// --- Reviews ---

type submitReviewRequest struct {
	Decision workflow.ReviewDecision `json:"decision" binding:"required"`
	Reviewer string                  `json:"reviewer" binding:"required"`
	Comment  string                  `json:"comment"`
}

func (s *Server) submitReview(c *gin.Context) {
	var req submitReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestError(c, "invalid review decision payload", err.Error())
		return
	}

	wf, err := s.svc.Reviews.SubmitReview(c.Request.Context(), c.Param("id"), c.Param("reviewId"), req.Decision, req.Reviewer, req.Comment)
	if err != nil {
		s.respondError(c, err)
		return
	}
	SuccessResponse(c, wf)
}

func (s *Server) listPendingReviews(c *gin.Context) {
	wfs, err := s.svc.Reviews.PendingReviews(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	SuccessResponse(c, wfs)
}

// respondError maps an apperror sentinel to its HTTP status; anything else
// is an unclassified internal error.
func (s *Server) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, apperror.ErrNotFound):
		NotFoundError(c, err.Error())
	case errors.Is(err, apperror.ErrStateError):
		ConflictError(c, err.Error(), nil)
	case errors.Is(err, apperror.ErrConfigurationError):
		InternalError(c, err.Error(), nil)
	default:
		InternalError(c, err.Error(), nil)
	}
}

// responseEnvelope builds the same Response shape SuccessResponse writes,
// for handlers that need a non-200 status code alongside it.
func responseEnvelope(c *gin.Context, data interface{}, errInfo *ErrorInfo) Response {
	return Response{
		Success: errInfo == nil,
		Data:    data,
		Error:   errInfo,
		Metadata: &Metadata{
			Timestamp: time.Now().UTC(),
			RequestID: getRequestID(c),
			Version:   "v1",
		},
	}
}
