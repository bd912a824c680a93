package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/ifuryst/quill/internal/models"
	"github.com/ifuryst/quill/internal/service"
	"github.com/ifuryst/quill/internal/service/automation"
	"github.com/ifuryst/quill/internal/service/completion"
	"github.com/ifuryst/quill/internal/service/template"
	"github.com/ifuryst/quill/internal/service/workflow"
)

const (
	orgHeader = "X-Organization-ID"
	orgKey    = "organization_id"
)

// requireOrganization reads the organization from the query or header.
func (s *Server) requireOrganization(c *gin.Context) {
	raw := c.Query(orgKey)
	if raw == "" {
		raw = c.GetHeader(orgHeader)
	}
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || id == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "organization_id is required"})
		return
	}
	c.Set(orgKey, uint(id))
	c.Next()
}

func organizationID(c *gin.Context) uint {
	return c.GetUint(orgKey)
}

func pathID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(id), true
}

type createWorkflowRequest struct {
	Name         string              `json:"name" binding:"required"`
	WorkflowType models.WorkflowType `json:"workflow_type" binding:"required"`
	SearchParams models.SearchParams `json:"search_params"`
	ContentTypes []string            `json:"content_types"`
	AssignedTo   []string            `json:"assigned_to"`
}

func (s *Server) handleCreateWorkflow(c *gin.Context) {
	var req createWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	wf := &models.Workflow{
		OrganizationID: organizationID(c),
		Name:           req.Name,
		WorkflowType:   req.WorkflowType,
		ContentTypes:   req.ContentTypes,
		AssignedTo:     req.AssignedTo,
	}
	wf.SearchParams = datatypes.NewJSONType(req.SearchParams)

	if err := s.Workflows.Create(c.Request.Context(), wf); err != nil {
		if errors.Is(err, workflow.ErrInvalidWorkflow) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.Logger.Error("Failed to create workflow", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create workflow"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"workflow": wf})
}

func (s *Server) handleGetWorkflow(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	wf, err := s.Workflows.Get(c.Request.Context(), id, organizationID(c))
	if err != nil {
		s.workflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"workflow": wf})
}

func (s *Server) handleDeleteWorkflow(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := s.Workflows.UpdateStatus(c.Request.Context(), id, organizationID(c), models.WorkflowStatusDeleted); err != nil {
		s.workflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Workflow deleted"})
}

func (s *Server) handleStartAutomation(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := s.Automation.Start(c.Request.Context(), id, organizationID(c)); err != nil {
		s.workflowError(c, err)
		return
	}
	s.respondStatus(c, http.StatusAccepted, id)
}

func (s *Server) handleStopAutomation(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := s.Automation.Stop(c.Request.Context(), id, organizationID(c)); err != nil {
		s.workflowError(c, err)
		return
	}
	s.respondStatus(c, http.StatusOK, id)
}

func (s *Server) handleWorkflowStatus(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	s.respondStatus(c, http.StatusOK, id)
}

func (s *Server) respondStatus(c *gin.Context, code int, id uint) {
	status, err := s.Automation.Status(c.Request.Context(), id, organizationID(c))
	if err != nil {
		s.workflowError(c, err)
		return
	}
	c.JSON(code, status)
}

func (s *Server) handleWorkflowErrors(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if _, err := s.Workflows.Get(c.Request.Context(), id, organizationID(c)); err != nil {
		s.workflowError(c, err)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	logs, err := s.Monitoring.GetRecentErrors(c.Request.Context(), id, limit)
	if err != nil {
		s.Logger.Error("Failed to get error logs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get error logs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"errors": logs})
}

func (s *Server) handleResetItem(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	itemID, ok := pathID(c, "itemId")
	if !ok {
		return
	}
	orgID := organizationID(c)
	if _, err := s.Workflows.Get(c.Request.Context(), id, orgID); err != nil {
		s.workflowError(c, err)
		return
	}
	existing, err := s.Workflows.GetItem(c.Request.Context(), itemID, orgID)
	if err != nil || existing.WorkflowID != id {
		s.workflowError(c, workflow.ErrItemNotFound)
		return
	}

	item, err := s.Workflows.ResetItem(c.Request.Context(), itemID, orgID)
	if err != nil {
		s.workflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"item": item})
}

type completionRequest struct {
	Template      string               `json:"template" binding:"required"`
	CandidateType models.WorkflowType  `json:"candidate_type"`
	CandidateRef  string               `json:"candidate_ref"`
	Topic         string               `json:"topic"`
	Header        string               `json:"header"`
	Preface       string               `json:"preface"`
	Existing      string               `json:"existing"`
	AccountID     string               `json:"account_id"`
	SessionID     string               `json:"session_id"`
	Overrides     completion.Overrides `json:"overrides"`
}

func (s *Server) handleCompletion(c *gin.Context) {
	var req completionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	orgID := organizationID(c)

	org, err := s.Templates.Organization(ctx, orgID)
	if err != nil {
		s.templateError(c, err)
		return
	}
	tmpl, err := s.Templates.Template(ctx, orgID, req.Template)
	if err != nil {
		s.templateError(c, err)
		return
	}

	var candidate *models.Candidate
	if req.CandidateRef != "" {
		if req.CandidateType == "" {
			req.CandidateType = models.WorkflowTypeProduct
		}
		candidate, err = s.Queue.Candidate(ctx, orgID, req.CandidateType, req.CandidateRef)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if candidate == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "candidate not found"})
			return
		}
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	result, err := s.Completions.Complete(ctx, completion.Request{
		Organization: org,
		Template:     tmpl,
		Input: completion.Input{
			Candidate: candidate,
			Topic:     req.Topic,
			Header:    req.Header,
			Preface:   req.Preface,
			Existing:  req.Existing,
		},
		AccountID: req.AccountID,
		SessionID: req.SessionID,
		Overrides: req.Overrides,
	})
	if err != nil {
		if completion.IsValidation(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": result.ErrorMessage, "result": result})
			return
		}
		if recordErr := s.Monitoring.RecordError(ctx, service.LevelWarn, service.SourceCompletion, "Ad-hoc completion failed", err.Error(),
			service.WithContext(map[string]any{"template": req.Template, "organization_id": orgID})); recordErr != nil {
			s.Logger.Warn("Failed to record completion error", zap.Error(recordErr))
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": result.ErrorMessage, "result": result})
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": result, "session_id": req.SessionID})
}

func (s *Server) workflowError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, workflow.ErrNotFound), errors.Is(err, workflow.ErrItemNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, automation.ErrAlreadyRunning), errors.Is(err, automation.ErrNotRunning), errors.Is(err, automation.ErrStopping):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		s.Logger.Error("Workflow request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}

func (s *Server) templateError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, template.ErrTemplateNotFound), errors.Is(err, template.ErrOrganizationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		s.Logger.Error("Failed to load generation settings", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}
