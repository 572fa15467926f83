// Package models defines the shared workflow state (the blackboard) and the
// closed enums that the engine routes on.
package models

import (
	"time"
)

// Note is a single append-only audit entry. Nothing ever removes or rewrites
// a note; their order is the causal order of execution.
type Note struct {
	Producer  WorkerRole     `json:"producer"`
	Timestamp time.Time      `json:"timestamp"`
	Message   string         `json:"message"`
	Tags      map[string]any `json:"tags,omitempty"`
}

// DocumentRevision records one version of the shared document.
type DocumentRevision struct {
	Version    int        `json:"version"`
	Content    string     `json:"content"`
	ProducedBy WorkerRole `json:"produced_by"`
	Timestamp  time.Time  `json:"timestamp"`
}

// ReviewResult is the latest review of a given kind.
type ReviewResult struct {
	Kind             ReviewKind         `json:"kind"`
	Status           string             `json:"status"`
	Findings         []string           `json:"findings,omitempty"`
	ScoredDimensions map[string]float64 `json:"scored_dimensions,omitempty"`
	ReviewedAt       time.Time          `json:"reviewed_at"`
}

// SafetyStatus interprets the review status for the safety slot.
func (r ReviewResult) SafetyStatus() SafetyStatus { return SafetyStatus(r.Status) }

// QualityStatus interprets the review status for the quality slot.
func (r ReviewResult) QualityStatus() QualityStatus { return QualityStatus(r.Status) }

// DebateEntry is one round of moderated internal debate.
type DebateEntry struct {
	Timestamp        time.Time `json:"timestamp"`
	Transcript       string    `json:"transcript"`
	ConsensusSummary string    `json:"consensus_summary,omitempty"`
}

// Control carries the human-in-the-loop flags and the routing history the
// loop breaker inspects.
type Control struct {
	IsHalted              bool       `json:"is_halted"`
	IsApprovedByHuman     bool       `json:"is_approved_by_human"`
	AwaitingExternalInput bool       `json:"awaiting_external_input"`
	PendingQuestions      []string   `json:"pending_questions,omitempty"`
	LastRoutingDecision   string     `json:"last_routing_decision,omitempty"`
	HaltReason            HaltReason `json:"halt_reason,omitempty"`

	// RecentDecisions is a bounded trailing window of routing decisions,
	// newest last. The router appends on every pass; the engine never
	// lets it grow past the configured window length.
	RecentDecisions []string `json:"recent_decisions,omitempty"`
}

// WorkflowState is the blackboard shared by every worker. It is mutable only
// by replacement: each step clones the state, modifies the clone, and hands
// the new value to the checkpointer. Two invariants hold for every reachable
// state: DocumentVersion == len(DocumentHistory), and Notes only ever grows.
type WorkflowState struct {
	WorkflowID          string            `json:"workflow_id"`
	OriginalRequest     string            `json:"original_request"`
	ClassifiedIntent    string            `json:"classified_intent"`
	UserProvidedDetails map[string]string `json:"user_provided_details,omitempty"`

	// InformationGathered is the required-information gate: false until the
	// information gatherer has either confirmed the request is complete or
	// the user has answered its pending questions.
	InformationGathered bool `json:"information_gathered"`

	IterationCount int `json:"iteration_count"`
	MaxIterations  int `json:"max_iterations"`

	SharedDocument  string                      `json:"shared_document,omitempty"`
	DocumentVersion int                         `json:"document_version"`
	DocumentHistory []DocumentRevision          `json:"document_history,omitempty"`
	Reviews         map[ReviewKind]ReviewResult `json:"reviews,omitempty"`

	DebateLog      []DebateEntry `json:"debate_log,omitempty"`
	DebateComplete bool          `json:"debate_complete"`

	Notes   []Note  `json:"notes,omitempty"`
	Control Control `json:"control"`

	HumanFeedback       string `json:"human_feedback,omitempty"`
	HumanEditedDocument string `json:"human_edited_document,omitempty"`
	FinalArtifact       string `json:"final_artifact,omitempty"`

	CreatedAt     time.Time `json:"created_at"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// NewWorkflowState creates the blackboard for a fresh workflow.
func NewWorkflowState(workflowID, request, intent string, details map[string]string, maxIterations int) WorkflowState {
	now := time.Now().UTC()
	return WorkflowState{
		WorkflowID:          workflowID,
		OriginalRequest:     request,
		ClassifiedIntent:    intent,
		UserProvidedDetails: copyStringMap(details),
		InformationGathered: len(details) > 0,
		MaxIterations:       maxIterations,
		CreatedAt:           now,
		LastUpdatedAt:       now,
	}
}

// Clone returns a deep copy of the state. Workers operate on clones so the
// caller's value is never mutated in place.
func (s WorkflowState) Clone() WorkflowState {
	out := s
	out.UserProvidedDetails = copyStringMap(s.UserProvidedDetails)
	out.DocumentHistory = append([]DocumentRevision(nil), s.DocumentHistory...)
	out.DebateLog = append([]DebateEntry(nil), s.DebateLog...)
	out.Notes = append([]Note(nil), s.Notes...)
	out.Control.PendingQuestions = append([]string(nil), s.Control.PendingQuestions...)
	out.Control.RecentDecisions = append([]string(nil), s.Control.RecentDecisions...)
	if s.Reviews != nil {
		out.Reviews = make(map[ReviewKind]ReviewResult, len(s.Reviews))
		for k, v := range s.Reviews {
			v.Findings = append([]string(nil), v.Findings...)
			if v.ScoredDimensions != nil {
				dims := make(map[string]float64, len(v.ScoredDimensions))
				for dk, dv := range v.ScoredDimensions {
					dims[dk] = dv
				}
				v.ScoredDimensions = dims
			}
			out.Reviews[k] = v
		}
	}
	return out
}

// WithNote returns a copy of the state with one note appended and the
// update timestamp refreshed.
func (s WorkflowState) WithNote(producer WorkerRole, message string, tags map[string]any) WorkflowState {
	out := s.Clone()
	out.Notes = append(out.Notes, Note{
		Producer:  producer,
		Timestamp: time.Now().UTC(),
		Message:   message,
		Tags:      tags,
	})
	out.LastUpdatedAt = time.Now().UTC()
	return out
}

// WithDocument returns a copy with a new document revision appended.
// DocumentVersion and the history length move together, always.
func (s WorkflowState) WithDocument(content string, producedBy WorkerRole) WorkflowState {
	out := s.Clone()
	out.SharedDocument = content
	out.DocumentVersion = len(out.DocumentHistory) + 1
	out.DocumentHistory = append(out.DocumentHistory, DocumentRevision{
		Version:    out.DocumentVersion,
		Content:    content,
		ProducedBy: producedBy,
		Timestamp:  time.Now().UTC(),
	})
	out.LastUpdatedAt = time.Now().UTC()
	return out
}

// WithReview returns a copy with the review slot for kind replaced.
func (s WorkflowState) WithReview(kind ReviewKind, review ReviewResult) WorkflowState {
	out := s.Clone()
	if out.Reviews == nil {
		out.Reviews = make(map[ReviewKind]ReviewResult, 2)
	}
	review.Kind = kind
	out.Reviews[kind] = review
	out.LastUpdatedAt = time.Now().UTC()
	return out
}

// SafetyReview returns the safety review, if one has been recorded.
func (s WorkflowState) SafetyReview() (ReviewResult, bool) {
	r, ok := s.Reviews[ReviewKindSafety]
	return r, ok
}

// QualityReview returns the quality review, if one has been recorded.
func (s WorkflowState) QualityReview() (ReviewResult, bool) {
	r, ok := s.Reviews[ReviewKindQuality]
	return r, ok
}

// HasDocument reports whether a draft of the shared document exists.
func (s WorkflowState) HasDocument() bool { return s.SharedDocument != "" }

// Runnable reports whether the engine may still advance this workflow.
func (s WorkflowState) Runnable() bool {
	return !s.Control.IsHalted && !s.Control.IsApprovedByHuman
}

// StateSnapshot is what the engine emits after each step for observers.
type StateSnapshot struct {
	WorkflowID string        `json:"workflow_id"`
	Step       string        `json:"step"`
	Decision   RouteTarget   `json:"decision"`
	State      WorkflowState `json:"state"`
	Timestamp  time.Time     `json:"timestamp"`
}

func copyStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
