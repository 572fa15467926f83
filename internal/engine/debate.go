package engine

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"protocol-foundry/backend/pkg/models"
)

// DebateModerator runs one round of moderated internal debate over the
// reviewed document and records the transcript plus a consensus summary.
type DebateModerator struct {
	client CompletionClient
}

// NewDebateModerator creates a DebateModerator backed by the given client.
func NewDebateModerator(client CompletionClient) *DebateModerator {
	return &DebateModerator{client: client}
}

// Role identifies the moderator in notes and the debate log.
func (m *DebateModerator) Role() models.WorkerRole { return models.RoleDebateModerator }

// Apply appends a debate entry and marks the debate complete. With no
// document to debate it is a no-op with a diagnostic note. A failed or
// empty transcript still completes the debate: the gate exists to force one
// structured reflection pass, not to block sign-off forever.
func (m *DebateModerator) Apply(ctx context.Context, state models.WorkflowState) (models.WorkflowState, error) {
	if !state.HasDocument() {
		return state.WithNote(m.Role(), "no document to debate, skipping", nil), nil
	}

	payload := map[string]any{
		"document": state.SharedDocument,
		"request":  state.OriginalRequest,
		"context":  noteContext(state, 10),
	}
	if safety, ok := state.SafetyReview(); ok {
		payload["safety_status"] = safety.Status
	}
	if quality, ok := state.QualityReview(); ok {
		payload["quality_status"] = quality.Status
	}

	transcript, err := m.client.Complete(ctx, "debate", payload)
	if err != nil {
		transcript = ""
	}

	out := state.Clone()
	out.DebateLog = append(out.DebateLog, models.DebateEntry{
		Timestamp:        time.Now().UTC(),
		Transcript:       transcript,
		ConsensusSummary: consensusOf(transcript),
	})
	out.DebateComplete = true
	return out.WithNote(m.Role(), "moderated debate complete, consensus recorded", map[string]any{
		"round": len(out.DebateLog),
	}), nil
}

// consensusOf extracts the consensus section from a debate transcript, when
// the transcript marks one.
func consensusOf(transcript string) string {
	lower := strings.ToLower(transcript)
	i := strings.LastIndex(lower, "consensus")
	if i < 0 {
		return ""
	}
	consensus := strings.TrimSpace(transcript[i:])
	const maxConsensus = 500
	if len(consensus) > maxConsensus {
		// Back up to a rune boundary so the cut never leaves invalid UTF-8.
		cut := maxConsensus
		for cut > 0 && !utf8.RuneStart(consensus[cut]) {
			cut--
		}
		consensus = consensus[:cut]
	}
	return consensus
}
