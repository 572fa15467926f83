package engine

import (
	"context"
	"fmt"

	"protocol-foundry/backend/pkg/models"
)

// InformationGatherer decides whether the request carries enough detail to
// draft from, and if not, derives the clarifying questions to put to the
// user. Questions suspend the workflow until answers arrive.
type InformationGatherer struct {
	client CompletionClient
}

// NewInformationGatherer creates an InformationGatherer backed by the given
// client.
func NewInformationGatherer(client CompletionClient) *InformationGatherer {
	return &InformationGatherer{client: client}
}

// Role identifies the gatherer in notes.
func (g *InformationGatherer) Role() models.WorkerRole { return models.RoleInformationGatherer }

type gatherOutput struct {
	Sufficient bool     `json:"sufficient"`
	Questions  []string `json:"questions"`
}

// Apply closes the information gate when the request is sufficient, or
// records pending questions and suspends. Unusable collaborator output
// closes the gate rather than blocking the workflow on questions nobody
// asked.
func (g *InformationGatherer) Apply(ctx context.Context, state models.WorkflowState) (models.WorkflowState, error) {
	out := state.Clone()

	questions := g.deriveQuestions(ctx, state)
	if len(questions) == 0 {
		out.InformationGathered = true
		out.Control.PendingQuestions = nil
		return out.WithNote(g.Role(), "request has sufficient detail, proceeding to draft", nil), nil
	}

	out.Control.PendingQuestions = questions
	out.Control.AwaitingExternalInput = true
	return out.WithNote(g.Role(),
		fmt.Sprintf("prepared %d clarifying question(s), awaiting answers", len(questions)),
		map[string]any{"questions": questions}), nil
}

func (g *InformationGatherer) deriveQuestions(ctx context.Context, state models.WorkflowState) []string {
	raw, err := g.client.Complete(ctx, "gather_information", map[string]any{
		"request": state.OriginalRequest,
		"intent":  state.ClassifiedIntent,
		"details": state.UserProvidedDetails,
	})
	if err != nil {
		return nil
	}
	var parsed gatherOutput
	if !extractJSON(raw, &parsed) {
		return nil
	}
	if parsed.Sufficient {
		return nil
	}
	// Cap at three: more than that is an interrogation, not clarification.
	if len(parsed.Questions) > 3 {
		parsed.Questions = parsed.Questions[:3]
	}
	return parsed.Questions
}
