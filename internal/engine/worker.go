package engine

import (
	"context"

	"protocol-foundry/backend/pkg/models"
)

// Worker is a pluggable unit implementing one workflow capability. Apply
// takes the blackboard and returns a new value; it must never mutate its
// argument, never decrement the document version or iteration counter, and
// must append at least one note describing what it did.
//
// When a worker's precondition is unmet (reviewing with no document, say) it
// is a no-op returning the state plus a diagnostic note, never an error.
// When its collaborator produces unparseable output it substitutes a
// conservative default result. Errors are reserved for infrastructure
// failures the engine must surface.
type Worker interface {
	Role() models.WorkerRole
	Apply(ctx context.Context, state models.WorkflowState) (models.WorkflowState, error)
}
