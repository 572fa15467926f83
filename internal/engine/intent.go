package engine

import (
	"context"
	"strings"
)

// Intent labels for incoming requests. Only protocol requests enter the
// drafting workflow; the rest get a direct response from the caller.
const (
	IntentProtocol     = "protocol"
	IntentQuestion     = "question"
	IntentConversation = "conversation"
)

// IntentClassifier labels a request before a workflow is created for it.
type IntentClassifier struct {
	client CompletionClient
}

// NewIntentClassifier creates a classifier backed by the given client. A nil
// client is allowed; classification then relies on keyword heuristics alone.
func NewIntentClassifier(client CompletionClient) *IntentClassifier {
	return &IntentClassifier{client: client}
}

type intentOutput struct {
	Intent string `json:"intent"`
}

// Classify returns one of the intent labels. Collaborator failures fall back
// to keyword heuristics, and unrecognizable output falls back the same way,
// so classification never errors.
func (c *IntentClassifier) Classify(ctx context.Context, request string) string {
	if c.client != nil {
		raw, err := c.client.Complete(ctx, "classify_intent", map[string]any{"request": request})
		if err == nil {
			var parsed intentOutput
			if extractJSON(raw, &parsed) {
				switch parsed.Intent {
				case IntentProtocol, IntentQuestion, IntentConversation:
					return parsed.Intent
				}
			}
		}
	}
	return classifyByKeywords(request)
}

func classifyByKeywords(request string) string {
	lower := strings.ToLower(request)
	for _, kw := range []string{"protocol", "worksheet", "exercise", "draft", "create", "write", "design", "develop"} {
		if strings.Contains(lower, kw) {
			return IntentProtocol
		}
	}
	if strings.Contains(lower, "?") {
		return IntentQuestion
	}
	for _, kw := range []string{"what", "how", "why", "when", "which", "explain"} {
		if strings.HasPrefix(lower, kw+" ") {
			return IntentQuestion
		}
	}
	return IntentConversation
}
