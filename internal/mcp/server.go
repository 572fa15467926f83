// Package mcp exposes the protocol foundry to MCP clients: agents can
// create workflows, run them, and drive the halt/approve protocol over the
// same engine the REST API uses.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"protocol-foundry/backend/internal/engine"
	"protocol-foundry/backend/internal/repository"
	"protocol-foundry/backend/pkg/models"
)

type Server struct {
	mcpServer     *server.MCPServer
	engine        *engine.Engine
	checkpoints   repository.CheckpointStore
	history       repository.HistoryStore
	classifier    *engine.IntentClassifier
	maxIterations int
}

func NewServer(eng *engine.Engine, stores *repository.Stores, classifier *engine.IntentClassifier, maxIterations int) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Protocol Foundry",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		engine:        eng,
		checkpoints:   stores.Checkpoints,
		history:       stores.History,
		classifier:    classifier,
		maxIterations: maxIterations,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"create_protocol",
			mcp.WithDescription("Create a protocol drafting workflow from a request"),
			mcp.WithString("request", mcp.Required(), mcp.Description("What the protocol should cover")),
		),
		s.handleCreate,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"run_protocol",
			mcp.WithDescription("Advance a workflow until it halts for human input"),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("The workflow to run")),
		),
		s.handleRun,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_protocol",
			mcp.WithDescription("Fetch the current state of a workflow"),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("The workflow to inspect")),
		),
		s.handleGet,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"approve_protocol",
			mcp.WithDescription("Record human approval on a halted workflow and finalize it"),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("The workflow to approve")),
			mcp.WithString("feedback", mcp.Description("Optional reviewer feedback")),
		),
		s.handleApprove,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_protocols",
			mcp.WithDescription("List all workflows and their status"),
		),
		s.handleList,
	)
}

func (s *Server) handleCreate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	text, ok := args["request"].(string)
	if !ok || text == "" {
		return mcp.NewToolResultError("Missing required parameter: request"), nil
	}

	intent := s.classifier.Classify(ctx, text)
	if intent != engine.IntentProtocol {
		return mcp.NewToolResultError(fmt.Sprintf("Request classified as %q; only protocol requests start a workflow", intent)), nil
	}

	workflowID := uuid.New().String()
	state := models.NewWorkflowState(workflowID, text, intent, nil, s.maxIterations)
	if err := s.checkpoints.Save(ctx, state); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create workflow: %v", err)), nil
	}
	// History is best effort; a failed log line never blocks creation.
	_ = s.history.Record(ctx, &models.ProtocolRecord{
		WorkflowID: workflowID,
		Request:    text,
		Intent:     intent,
		Status:     models.ProtocolStatusCreated,
	})

	jsonBytes, _ := json.Marshal(map[string]string{"workflow_id": workflowID, "intent": intent})
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, errResult := stringArg(request, "workflow_id")
	if errResult != nil {
		return errResult, nil
	}

	final, err := s.engine.RunToTerminal(ctx, workflowID)
	if errors.Is(err, engine.ErrUnknownWorkflow) {
		return mcp.NewToolResultError("Unknown workflow: " + workflowID), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to run workflow: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(final)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleGet(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, errResult := stringArg(request, "workflow_id")
	if errResult != nil {
		return errResult, nil
	}

	state, err := s.checkpoints.Load(ctx, workflowID)
	if errors.Is(err, repository.ErrNotFound) {
		return mcp.NewToolResultError("Unknown workflow: " + workflowID), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load workflow: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(state)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleApprove(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, errResult := stringArg(request, "workflow_id")
	if errResult != nil {
		return errResult, nil
	}
	feedback := ""
	if args, ok := request.Params.Arguments.(map[string]interface{}); ok {
		feedback, _ = args["feedback"].(string)
	}

	if _, err := s.engine.Approve(ctx, workflowID, feedback, ""); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to approve: %v", err)), nil
	}
	final, err := s.engine.RunToTerminal(ctx, workflowID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to finalize: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(final)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleList(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	states, err := s.checkpoints.List(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list workflows: %v", err)), nil
	}

	summaries := make([]map[string]any, 0, len(states))
	for _, state := range states {
		summaries = append(summaries, map[string]any{
			"workflow_id": state.WorkflowID,
			"request":     state.OriginalRequest,
			"iteration":   state.IterationCount,
			"halted":      state.Control.IsHalted,
			"approved":    state.Control.IsApprovedByHuman,
			"halt_reason": state.Control.HaltReason,
		})
	}

	jsonBytes, _ := json.Marshal(summaries)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func stringArg(request mcp.CallToolRequest, name string) (string, *mcp.CallToolResult) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return "", mcp.NewToolResultError("Invalid arguments type")
	}
	value, ok := args[name].(string)
	if !ok || value == "" {
		return "", mcp.NewToolResultError("Missing required parameter: " + name)
	}
	return value, nil
}

// MountHTTPHandlers attaches the MCP SSE endpoints to mux under /mcp.
func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
