package engine

import (
	"time"

	"protocol-foundry/backend/pkg/models"
)

// applyHalt marks the workflow suspended. Halting is not an error: it is the
// designed suspension point where the engine waits for approval or answers.
func applyHalt(state models.WorkflowState, reason models.HaltReason) models.WorkflowState {
	out := state.Clone()
	out.Control.IsHalted = true
	out.Control.HaltReason = reason
	out.Control.AwaitingExternalInput = reason == models.HaltAwaitingAnswers
	out.LastUpdatedAt = time.Now().UTC()
	return out.WithNote(models.RoleSystem, "workflow halted: "+string(reason), map[string]any{
		"halt_reason": string(reason),
		"iteration":   out.IterationCount,
	})
}

// applyApprove finalizes the workflow. The final artifact is the human's
// edited document when one was supplied, otherwise the shared document.
func applyApprove(state models.WorkflowState) models.WorkflowState {
	out := state.Clone()
	final := out.HumanEditedDocument
	if final == "" {
		final = out.SharedDocument
	}
	out.FinalArtifact = final
	out.Control.IsApprovedByHuman = true
	out.Control.IsHalted = false
	out.Control.AwaitingExternalInput = false
	out.Control.HaltReason = ""
	out.LastUpdatedAt = time.Now().UTC()
	return out.WithNote(models.RoleSystem, "workflow approved, final artifact recorded", map[string]any{
		"final_version": out.DocumentVersion,
	})
}
