package engine

import (
	"encoding/json"
	"strings"

	"protocol-foundry/backend/pkg/models"
)

// extractJSON pulls a JSON object out of raw collaborator output. Models
// wrap their answers in fences or prose often enough that reviewers cannot
// assume clean JSON; this tries the fenced block first, then the outermost
// brace pair. The boolean is false when nothing decodable was found.
func extractJSON(raw string, out any) bool {
	candidate := raw
	if i := strings.Index(raw, "```json"); i >= 0 {
		rest := raw[i+len("```json"):]
		if j := strings.Index(rest, "```"); j >= 0 {
			candidate = rest[:j]
		}
	} else if i := strings.Index(raw, "{"); i >= 0 {
		if j := strings.LastIndex(raw, "}"); j > i {
			candidate = raw[i : j+1]
		}
	}
	return json.Unmarshal([]byte(strings.TrimSpace(candidate)), out) == nil
}

// noteContext renders the trailing n audit notes as compact context lines
// for a collaborator payload.
func noteContext(state models.WorkflowState, n int) []string {
	notes := state.Notes
	if len(notes) > n {
		notes = notes[len(notes)-n:]
	}
	lines := make([]string, 0, len(notes))
	for _, note := range notes {
		lines = append(lines, "["+string(note.Producer)+"] "+note.Message)
	}
	return lines
}
