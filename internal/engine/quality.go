package engine

import (
	"context"
	"fmt"
	"time"

	"protocol-foundry/backend/pkg/models"
)

// QualityCritic evaluates the shared document on scored dimensions
// (empathy, tone, structure) and produces actionable feedback. Unusable
// collaborator output degrades to needsRevision with mid-scale scores.
type QualityCritic struct {
	client CompletionClient
}

// NewQualityCritic creates a QualityCritic backed by the given client.
func NewQualityCritic(client CompletionClient) *QualityCritic {
	return &QualityCritic{client: client}
}

// Role identifies the quality critic in notes and reviews.
func (c *QualityCritic) Role() models.WorkerRole { return models.RoleQualityCritic }

type qualityOutput struct {
	Status         string   `json:"status"`
	EmpathyScore   float64  `json:"empathy_score"`
	ToneScore      float64  `json:"tone_score"`
	StructureScore float64  `json:"structure_score"`
	Feedback       []string `json:"feedback"`
}

// Apply records a quality review for the current document. Reviewing with
// no document is a no-op with a diagnostic note.
func (c *QualityCritic) Apply(ctx context.Context, state models.WorkflowState) (models.WorkflowState, error) {
	if !state.HasDocument() {
		return state.WithNote(c.Role(), "no document to review, skipping quality pass", nil), nil
	}

	review := c.review(ctx, state)
	out := state.WithReview(models.ReviewKindQuality, review)
	return out.WithNote(c.Role(), describeQuality(review), map[string]any{
		"status": review.Status,
		"scores": review.ScoredDimensions,
	}), nil
}

func (c *QualityCritic) review(ctx context.Context, state models.WorkflowState) models.ReviewResult {
	fallback := models.ReviewResult{
		Status:   string(models.QualityNeedsRevision),
		Findings: []string{"quality review output was unusable; manual review recommended"},
		ScoredDimensions: map[string]float64{
			"empathy": 5.0, "tone": 5.0, "structure": 5.0,
		},
		ReviewedAt: time.Now().UTC(),
	}

	raw, err := c.client.Complete(ctx, "review_quality", map[string]any{
		"document": state.SharedDocument,
		"request":  state.OriginalRequest,
	})
	if err != nil {
		return fallback
	}

	var parsed qualityOutput
	if !extractJSON(raw, &parsed) {
		return fallback
	}
	status := models.QualityStatus(parsed.Status)
	if status != models.QualityApproved && status != models.QualityNeedsRevision && status != models.QualityRejected {
		return fallback
	}

	return models.ReviewResult{
		Status:   string(status),
		Findings: parsed.Feedback,
		ScoredDimensions: map[string]float64{
			"empathy":   parsed.EmpathyScore,
			"tone":      parsed.ToneScore,
			"structure": parsed.StructureScore,
		},
		ReviewedAt: time.Now().UTC(),
	}
}

func describeQuality(review models.ReviewResult) string {
	avg := 0.0
	for _, v := range review.ScoredDimensions {
		avg += v
	}
	if n := len(review.ScoredDimensions); n > 0 {
		avg /= float64(n)
	}
	switch review.QualityStatus() {
	case models.QualityApproved:
		return fmt.Sprintf("quality review approved (avg score %.1f/10)", avg)
	case models.QualityRejected:
		return fmt.Sprintf("quality review rejected the document (avg score %.1f/10)", avg)
	default:
		return fmt.Sprintf("quality review requests revision, %d feedback point(s)", len(review.Findings))
	}
}
