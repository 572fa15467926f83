package engine

import (
	"context"
	"fmt"
	"time"

	"protocol-foundry/backend/pkg/models"
)

// SafetyGuardian reviews the shared document for safety concerns. Its
// collaborator returns structured findings; anything unparseable degrades to
// a conservative flagged result rather than an error.
type SafetyGuardian struct {
	client CompletionClient
}

// NewSafetyGuardian creates a SafetyGuardian backed by the given client.
func NewSafetyGuardian(client CompletionClient) *SafetyGuardian {
	return &SafetyGuardian{client: client}
}

// Role identifies the safety guardian in notes and reviews.
func (g *SafetyGuardian) Role() models.WorkerRole { return models.RoleSafetyGuardian }

type safetyOutput struct {
	Status          string   `json:"status"`
	Concerns        []string `json:"concerns"`
	Recommendations []string `json:"recommendations"`
}

// Apply records a safety review for the current document. Reviewing with no
// document is a no-op with a diagnostic note.
func (g *SafetyGuardian) Apply(ctx context.Context, state models.WorkflowState) (models.WorkflowState, error) {
	if !state.HasDocument() {
		return state.WithNote(g.Role(), "no document to review, skipping safety pass", nil), nil
	}

	review := g.review(ctx, state)
	out := state.WithReview(models.ReviewKindSafety, review)
	return out.WithNote(g.Role(), describeSafety(review), map[string]any{
		"status":   review.Status,
		"findings": len(review.Findings),
	}), nil
}

func (g *SafetyGuardian) review(ctx context.Context, state models.WorkflowState) models.ReviewResult {
	fallback := models.ReviewResult{
		Status:     string(models.SafetyFlagged),
		Findings:   []string{"safety review output was unusable; manual review recommended"},
		ReviewedAt: time.Now().UTC(),
	}

	raw, err := g.client.Complete(ctx, "review_safety", map[string]any{
		"document": state.SharedDocument,
		"request":  state.OriginalRequest,
	})
	if err != nil {
		return fallback
	}

	var parsed safetyOutput
	if !extractJSON(raw, &parsed) {
		return fallback
	}
	status := models.SafetyStatus(parsed.Status)
	if status != models.SafetyPassed && status != models.SafetyFlagged && status != models.SafetyCritical {
		return fallback
	}

	findings := parsed.Concerns
	for _, rec := range parsed.Recommendations {
		findings = append(findings, "recommendation: "+rec)
	}
	return models.ReviewResult{
		Status:     string(status),
		Findings:   findings,
		ReviewedAt: time.Now().UTC(),
	}
}

func describeSafety(review models.ReviewResult) string {
	switch review.SafetyStatus() {
	case models.SafetyPassed:
		return "safety review passed, no concerns identified"
	case models.SafetyCritical:
		return fmt.Sprintf("safety review found %d critical concern(s), revision required", len(review.Findings))
	default:
		return fmt.Sprintf("safety review flagged %d concern(s)", len(review.Findings))
	}
}
