package engine

import (
	"context"

	"protocol-foundry/backend/pkg/models"
)

// Draftsman produces and revises the shared document. On a revision pass it
// feeds the blocking review findings, the latest debate consensus, and the
// user's details back to the content sidecar.
type Draftsman struct {
	client CompletionClient
}

// NewDraftsman creates a Draftsman backed by the given content client.
func NewDraftsman(client CompletionClient) *Draftsman {
	return &Draftsman{client: client}
}

// Role identifies the draftsman in notes and document history.
func (d *Draftsman) Role() models.WorkerRole { return models.RoleDraftsman }

// Apply creates the first draft or revises the current one. A sidecar
// failure does not fail the step: the document is left as-is and a
// diagnostic note records the miss so the router can try again.
func (d *Draftsman) Apply(ctx context.Context, state models.WorkflowState) (models.WorkflowState, error) {
	payload := map[string]any{
		"request": state.OriginalRequest,
		"intent":  state.ClassifiedIntent,
		"details": state.UserProvidedDetails,
		"context": noteContext(state, 5),
	}

	task := "draft"
	if state.HasDocument() {
		task = "revise"
		payload["current_document"] = state.SharedDocument
		payload["revision_instructions"] = revisionInstructions(state)
		if n := len(state.DebateLog); n > 0 {
			payload["debate_consensus"] = state.DebateLog[n-1].ConsensusSummary
		}
	}

	content, err := d.client.Complete(ctx, task, payload)
	if err != nil || content == "" {
		return state.WithNote(d.Role(),
			"draft attempt produced no usable content, leaving document unchanged",
			map[string]any{"task": task}), nil
	}

	out := state.WithDocument(content, d.Role())
	// A fresh revision invalidates prior reviews and debate; they were
	// about a document that no longer exists.
	out.Reviews = nil
	out.DebateComplete = false
	return out.WithNote(d.Role(), describeDraft(task), map[string]any{
		"task":    task,
		"version": out.DocumentVersion,
	}), nil
}

// revisionInstructions flattens blocking review findings into the feedback
// list handed back to the sidecar.
func revisionInstructions(state models.WorkflowState) []string {
	var instructions []string
	if safety, ok := state.SafetyReview(); ok && safety.SafetyStatus().Blocking() {
		for _, f := range safety.Findings {
			instructions = append(instructions, "safety: "+f)
		}
	}
	if quality, ok := state.QualityReview(); ok && quality.QualityStatus().Blocking() {
		for _, f := range quality.Findings {
			instructions = append(instructions, "quality: "+f)
		}
	}
	return instructions
}

func describeDraft(task string) string {
	if task == "draft" {
		return "produced initial draft of the shared document"
	}
	return "revised the shared document"
}
