package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"protocol-foundry/backend/internal/engine"
	"protocol-foundry/backend/internal/repository"
	"protocol-foundry/backend/pkg/models"
)

// CreateProtocolRequest is the body for POST /api/v1/protocols.
type CreateProtocolRequest struct {
	Request string            `json:"request"`
	Details map[string]string `json:"details,omitempty"`
}

// CreateProtocolResponse describes a newly created workflow, or the direct
// reply for requests that do not need one.
type CreateProtocolResponse struct {
	WorkflowID string `json:"workflow_id,omitempty"`
	Intent     string `json:"intent"`
	Reply      string `json:"reply,omitempty"`
}

// CreateProtocol classifies the request and, for protocol intents, creates a
// workflow. Questions and conversation get a direct reply with no workflow:
// the drafting pipeline is reserved for documents worth reviewing.
// (POST /api/v1/protocols)
func (s *Server) CreateProtocol(c echo.Context) error {
	ctx := c.Request().Context()

	var req CreateProtocolRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	if req.Request == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "request text is required")
	}

	intent := s.Classifier.Classify(ctx, req.Request)
	if intent != engine.IntentProtocol {
		reply, err := s.Client.Complete(ctx, "respond", map[string]any{
			"request": req.Request,
			"intent":  intent,
		})
		if err != nil {
			s.Logger.Warn("direct reply failed", "intent", intent, "error", err)
			reply = "I could not produce an answer just now. Please try again."
		}
		return c.JSON(http.StatusOK, CreateProtocolResponse{Intent: intent, Reply: reply})
	}

	workflowID := uuid.New().String()
	state := models.NewWorkflowState(workflowID, req.Request, intent, req.Details, s.MaxIterations)
	if err := s.Checkpoints.Save(ctx, state); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create workflow: "+err.Error())
	}
	if err := s.History.Record(ctx, &models.ProtocolRecord{
		WorkflowID: workflowID,
		Request:    req.Request,
		Intent:     intent,
		Status:     models.ProtocolStatusCreated,
	}); err != nil {
		s.Logger.Warn("history record failed", "workflow_id", workflowID, "error", err)
	}

	return c.JSON(http.StatusCreated, CreateProtocolResponse{WorkflowID: workflowID, Intent: intent})
}

// GetProtocol returns the last checkpointed state of a workflow.
// (GET /api/v1/protocols/:id)
func (s *Server) GetProtocol(c echo.Context) error {
	state, err := s.Checkpoints.Load(c.Request().Context(), c.Param("id"))
	if errors.Is(err, repository.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "unknown workflow: "+c.Param("id"))
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, state)
}

// ListProtocols returns the last checkpoint of every workflow.
// (GET /api/v1/protocols)
func (s *Server) ListProtocols(c echo.Context) error {
	states, err := s.Checkpoints.List(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, states)
}

// RunProtocol advances a workflow until it halts or finalizes and returns
// the terminal state.
// (POST /api/v1/protocols/:id/run)
func (s *Server) RunProtocol(c echo.Context) error {
	ctx := c.Request().Context()
	workflowID := c.Param("id")

	final, err := s.runToTerminal(ctx, workflowID)
	if errors.Is(err, engine.ErrUnknownWorkflow) {
		return echo.NewHTTPError(http.StatusNotFound, "unknown workflow: "+workflowID)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, final)
}

// HaltProtocol suspends a running workflow between steps.
// (POST /api/v1/protocols/:id/halt)
func (s *Server) HaltProtocol(c echo.Context) error {
	ctx := c.Request().Context()
	workflowID := c.Param("id")

	state, err := s.Engine.Halt(ctx, workflowID)
	if errors.Is(err, repository.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "unknown workflow: "+workflowID)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	s.recordOutcome(ctx, state)
	return c.JSON(http.StatusOK, state)
}

// ApproveProtocolRequest carries the human's sign-off, optionally with
// feedback and a hand-edited final document.
type ApproveProtocolRequest struct {
	Feedback       string `json:"feedback,omitempty"`
	EditedDocument string `json:"edited_document,omitempty"`
}

// ApproveProtocol records human approval on a halted workflow and runs the
// final transition. Only workflows halted awaiting approval accept it.
// (POST /api/v1/protocols/:id/approve)
func (s *Server) ApproveProtocol(c echo.Context) error {
	ctx := c.Request().Context()
	workflowID := c.Param("id")

	var req ApproveProtocolRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}

	_, err := s.Engine.Approve(ctx, workflowID, req.Feedback, req.EditedDocument)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "unknown workflow: "+workflowID)
	case errors.Is(err, engine.ErrAlreadyFinalized):
		return echo.NewHTTPError(http.StatusConflict, "workflow is already finalized")
	case errors.Is(err, engine.ErrNotAwaitingApproval):
		return echo.NewHTTPError(http.StatusConflict, "workflow is not halted awaiting approval")
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	final, err := s.runToTerminal(ctx, workflowID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, final)
}

// AnswerQuestionsRequest carries the user's answers to pending questions.
type AnswerQuestionsRequest struct {
	Answers map[string]string `json:"answers"`
}

// AnswerQuestions resumes a workflow halted on clarifying questions: the
// answers merge into the user-provided details, the information gate opens,
// and the loop runs on.
// (POST /api/v1/protocols/:id/answers)
func (s *Server) AnswerQuestions(c echo.Context) error {
	ctx := c.Request().Context()
	workflowID := c.Param("id")

	var req AnswerQuestionsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	if len(req.Answers) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "answers are required")
	}

	_, err := s.Engine.SubmitAnswers(ctx, workflowID, req.Answers)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "unknown workflow: "+workflowID)
	case errors.Is(err, engine.ErrAlreadyFinalized):
		return echo.NewHTTPError(http.StatusConflict, "workflow is already finalized")
	case errors.Is(err, engine.ErrNoPendingQuestions):
		return echo.NewHTTPError(http.StatusConflict, "workflow has no pending questions")
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	final, err := s.runToTerminal(ctx, workflowID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, final)
}

// ListHistory returns the long-term protocol history log.
// (GET /api/v1/history)
func (s *Server) ListHistory(c echo.Context) error {
	records, err := s.History.List(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, records)
}

// SimilarProtocols embeds the query text and returns the nearest past
// protocols by artifact embedding.
// (GET /api/v1/protocols/similar?q=...&limit=5)
func (s *Server) SimilarProtocols(c echo.Context) error {
	ctx := c.Request().Context()

	query := c.QueryParam("q")
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter q is required")
	}
	limit := 5
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = parsed
	}

	embedding, err := s.Client.Embed(ctx, query)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, "embedding failed: "+err.Error())
	}
	records, err := s.History.SearchSimilar(ctx, embedding, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, records)
}

// runToTerminal drains one engine run and returns the terminal snapshot,
// recording the outcome in the history log.
func (s *Server) runToTerminal(ctx context.Context, workflowID string) (models.StateSnapshot, error) {
	last, err := s.Engine.RunToTerminal(ctx, workflowID)
	if err != nil {
		return models.StateSnapshot{}, err
	}
	s.recordOutcome(ctx, last.State)
	return last, nil
}

// recordOutcome mirrors a terminal state into the history log. Best effort:
// a history failure never fails the request.
func (s *Server) recordOutcome(ctx context.Context, state models.WorkflowState) {
	var status models.ProtocolStatus
	switch {
	case state.Control.IsApprovedByHuman:
		status = models.ProtocolStatusApproved
	case state.Control.IsHalted:
		status = models.ProtocolStatusHalted
	default:
		return
	}

	snapshot, err := json.Marshal(state)
	if err != nil {
		snapshot = nil
	}
	if err := s.History.SetStatus(ctx, state.WorkflowID, status, state.FinalArtifact, snapshot); err != nil {
		s.Logger.Warn("history update failed", "workflow_id", state.WorkflowID, "error", err)
	}

	if status == models.ProtocolStatusApproved && state.FinalArtifact != "" {
		embedding, err := s.Client.Embed(ctx, state.FinalArtifact)
		if err != nil {
			s.Logger.Warn("artifact embedding failed", "workflow_id", state.WorkflowID, "error", err)
			return
		}
		if err := s.History.SetEmbedding(ctx, state.WorkflowID, embedding); err != nil {
			s.Logger.Warn("history embedding update failed", "workflow_id", state.WorkflowID, "error", err)
		}
	}
}
