package models

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// ProtocolStatus tracks a workflow through the history log.
type ProtocolStatus string

const (
	ProtocolStatusCreated   ProtocolStatus = "created"
	ProtocolStatusRunning   ProtocolStatus = "running"
	ProtocolStatusHalted    ProtocolStatus = "halted"
	ProtocolStatusApproved  ProtocolStatus = "approved"
	ProtocolStatusCompleted ProtocolStatus = "completed"
	ProtocolStatusError     ProtocolStatus = "error"
)

// ProtocolRecord is one row of the long-term history log: the request, the
// outcome, and a full state snapshot at the last status change. The engine
// never reads these back; they exist for operators and for similarity search
// over past artifacts.
type ProtocolRecord struct {
	WorkflowID    string         `json:"workflow_id" db:"workflow_id"`
	Request       string         `json:"request" db:"request"`
	Intent        string         `json:"intent" db:"intent"`
	Status        ProtocolStatus `json:"status" db:"status"`
	FinalArtifact string         `json:"final_artifact,omitempty" db:"final_artifact"`
	StateSnapshot []byte         `json:"-" db:"state_snapshot"`

	// Embedding of the final artifact, for nearest-neighbour lookup of
	// similar past protocols. Not exposed over the wire.
	Embedding pgvector.Vector `json:"-" db:"embedding"`

	StartedAt   time.Time  `json:"started_at" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}
