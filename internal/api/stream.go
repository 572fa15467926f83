package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"protocol-foundry/backend/internal/engine"
)

// StreamProtocol runs a workflow and streams every step as a server-sent
// event. The connection ends with a terminal event: "halted" or "approved".
// (GET /api/v1/protocols/:id/stream)
func (s *Server) StreamProtocol(c echo.Context) error {
	ctx := c.Request().Context()
	workflowID := c.Param("id")

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")

	// A run can outlive any fixed server write timeout, so clear the write
	// deadline for the lifetime of the stream. Not every ResponseWriter
	// supports deadlines; those that don't simply keep their defaults.
	if err := http.NewResponseController(res).SetWriteDeadline(time.Time{}); err != nil &&
		!errors.Is(err, http.ErrNotSupported) {
		s.Logger.Warn("could not clear stream write deadline", "error", err)
	}
	res.WriteHeader(http.StatusOK)

	snapshots, errs := s.Engine.Run(ctx, workflowID, nil)
	var terminal string
	for snap := range snapshots {
		payload, err := json.Marshal(snap)
		if err != nil {
			continue
		}
		event := "step"
		switch snap.Step {
		case "halt":
			event, terminal = "halted", string(snap.State.Control.HaltReason)
		case "approve":
			event, terminal = "approved", "approved"
		}
		fmt.Fprintf(res, "event: %s\ndata: %s\n\n", event, payload)
		res.Flush()
		if event != "step" {
			s.recordOutcome(ctx, snap.State)
		}
	}

	if err := <-errs; err != nil {
		// Headers are gone; report the failure in-band.
		if errors.Is(err, engine.ErrUnknownWorkflow) {
			fmt.Fprintf(res, "event: error\ndata: {\"detail\":\"unknown workflow\"}\n\n")
		} else {
			s.Logger.Error("stream run failed", "workflow_id", workflowID, "error", err)
			fmt.Fprintf(res, "event: error\ndata: {\"detail\":\"workflow run failed\"}\n\n")
		}
		res.Flush()
		return nil
	}

	fmt.Fprintf(res, "event: done\ndata: {\"terminal\":%q}\n\n", terminal)
	res.Flush()
	return nil
}
