// Package engine implements the workflow execution core: a resumable,
// checkpoint-after-every-step loop driving a router, a set of workers, and
// the halt/approve terminal handlers over a shared blackboard.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"protocol-foundry/backend/internal/logging"
	"protocol-foundry/backend/internal/repository"
	"protocol-foundry/backend/pkg/models"
)

// ErrUnknownWorkflow is returned when Run is asked to resume a workflow that
// was never checkpointed and no initial state is supplied.
var ErrUnknownWorkflow = errors.New("engine: unknown workflow")

// Control-surface errors for the human-in-the-loop operations.
var (
	ErrAlreadyFinalized    = errors.New("engine: workflow already finalized")
	ErrNotAwaitingApproval = errors.New("engine: workflow not halted awaiting approval")
	ErrNoPendingQuestions  = errors.New("engine: workflow has no pending questions")
)

// Engine drives one workflow at a time through router -> worker ->
// checkpoint until a terminal signal. Each workflow runs strictly
// sequentially; independent workflow IDs may run concurrently, sharing
// nothing but the checkpoint store.
type Engine struct {
	store   repository.CheckpointStore
	router  *Router
	workers map[models.RouteTarget]Worker
	logger  *logging.Logger
	metrics *Metrics

	// runLocks holds one mutex per workflow ID so overlapping Run calls for
	// the same workflow queue instead of interleaving worker executions.
	runLocks sync.Map
}

// New creates an Engine. workers maps each non-terminal routing target to
// its implementation.
func New(store repository.CheckpointStore, router *Router, workers []Worker, logger *logging.Logger, metrics *Metrics) *Engine {
	byTarget := make(map[models.RouteTarget]Worker, len(workers))
	for _, w := range workers {
		byTarget[targetOf(w.Role())] = w
	}
	return &Engine{
		store:   store,
		router:  router,
		workers: byTarget,
		logger:  logger,
		metrics: metrics,
	}
}

func targetOf(role models.WorkerRole) models.RouteTarget {
	switch role {
	case models.RoleDraftsman:
		return models.RouteProduce
	case models.RoleSafetyGuardian:
		return models.RouteReviewSafety
	case models.RoleQualityCritic:
		return models.RouteReviewQuality
	case models.RoleDebateModerator:
		return models.RouteDebate
	case models.RoleInformationGatherer:
		return models.RouteGatherInformation
	}
	return ""
}

// Run executes the workflow loop for workflowID, emitting one snapshot per
// step. If a checkpoint already exists it is the starting point and initial
// is ignored, so a crashed or suspended run resumes exactly where it left
// off; otherwise initial must be non-nil and becomes the first checkpoint.
//
// The caller owns draining the snapshot channel; the loop blocks on a slow
// consumer. The error channel receives at most one infrastructure error.
// Both channels close when the loop stops.
//
// Workers never run concurrently for one workflow ID: a second Run for the
// same workflow waits until the first loop reaches a terminal state or
// fails, then proceeds from the latest checkpoint.
func (e *Engine) Run(ctx context.Context, workflowID string, initial *models.WorkflowState) (<-chan models.StateSnapshot, <-chan error) {
	snapshots := make(chan models.StateSnapshot, 8)
	errs := make(chan error, 1)

	go func() {
		defer close(snapshots)
		defer close(errs)
		mu := e.lockFor(workflowID)
		mu.Lock()
		defer mu.Unlock()
		if err := e.run(ctx, workflowID, initial, snapshots); err != nil {
			e.logger.Error("workflow run failed", "workflow_id", workflowID, "error", err)
			errs <- err
		}
	}()

	return snapshots, errs
}

func (e *Engine) lockFor(workflowID string) *sync.Mutex {
	mu, _ := e.runLocks.LoadOrStore(workflowID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (e *Engine) run(ctx context.Context, workflowID string, initial *models.WorkflowState, snapshots chan<- models.StateSnapshot) error {
	state, err := e.store.Load(ctx, workflowID)
	if errors.Is(err, repository.ErrNotFound) {
		if initial == nil {
			return fmt.Errorf("%w: %s", ErrUnknownWorkflow, workflowID)
		}
		state = *initial
		if err := e.store.Save(ctx, state); err != nil {
			return fmt.Errorf("checkpoint initial state: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	} else {
		e.logger.Info("resuming workflow from checkpoint",
			"workflow_id", workflowID, "iteration", state.IterationCount)
	}

	for {
		// Cooperative cancellation: an external actor may have marked the
		// workflow halted between steps, so re-read the checkpoint at the
		// top of every iteration.
		if err := ctx.Err(); err != nil {
			return err
		}
		current, err := e.store.Load(ctx, workflowID)
		if err != nil {
			return fmt.Errorf("load checkpoint: %w", err)
		}
		state = current

		decision := e.router.Decide(ctx, state)
		state = e.router.Record(state, decision.Target)
		state = state.WithNote(models.RoleRouter, decision.Rationale, map[string]any{
			"decision":  string(decision.Target),
			"iteration": state.IterationCount,
		})
		e.logger.Debug("routing decision",
			"workflow_id", workflowID, "decision", decision.Target, "iteration", state.IterationCount)

		if decision.Target.Terminal() {
			return e.finish(ctx, state, decision, snapshots)
		}

		worker, ok := e.workers[decision.Target]
		if !ok {
			return fmt.Errorf("no worker registered for target %q", decision.Target)
		}

		next, err := worker.Apply(ctx, state)
		if err != nil {
			return fmt.Errorf("worker %s: %w", worker.Role(), err)
		}
		// Exactly one increment per worker execution; router passes never
		// touch the counter.
		next.IterationCount = state.IterationCount + 1
		next.LastUpdatedAt = time.Now().UTC()

		if err := e.store.Save(ctx, next); err != nil {
			return fmt.Errorf("checkpoint after %s: %w", decision.Target, err)
		}
		e.metrics.recordStep(ctx, decision.Target)
		snapshots <- models.StateSnapshot{
			WorkflowID: workflowID,
			Step:       string(decision.Target),
			Decision:   decision.Target,
			State:      next,
			Timestamp:  time.Now().UTC(),
		}
		state = next
	}
}

// finish runs the terminal handler for a halt or approve decision,
// checkpoints the final transition, and emits the last snapshot.
func (e *Engine) finish(ctx context.Context, state models.WorkflowState, decision Decision, snapshots chan<- models.StateSnapshot) error {
	switch decision.Target {
	case models.RouteHalt:
		state = applyHalt(state, decision.Reason)
		e.metrics.recordHalt(ctx, decision.Reason)
		e.logger.Info("workflow halted",
			"workflow_id", state.WorkflowID, "reason", decision.Reason, "iteration", state.IterationCount)
	case models.RouteApprove:
		state = applyApprove(state)
		e.metrics.recordApproval(ctx)
		e.logger.Info("workflow approved", "workflow_id", state.WorkflowID)
	}

	if err := e.store.Save(ctx, state); err != nil {
		return fmt.Errorf("checkpoint terminal state: %w", err)
	}
	snapshots <- models.StateSnapshot{
		WorkflowID: state.WorkflowID,
		Step:       string(decision.Target),
		Decision:   decision.Target,
		State:      state,
		Timestamp:  time.Now().UTC(),
	}
	return nil
}

// Halt marks a running or idle workflow halted between steps. The loop
// observes the flag on its next pass.
func (e *Engine) Halt(ctx context.Context, workflowID string) (models.WorkflowState, error) {
	return e.store.Update(ctx, workflowID, func(s models.WorkflowState) (models.WorkflowState, error) {
		if s.Control.IsApprovedByHuman {
			return models.WorkflowState{}, ErrAlreadyFinalized
		}
		return applyHalt(s, models.HaltAwaitingApproval), nil
	})
}

// Approve records human sign-off on a workflow halted at the approval gate.
// The caller then resumes the loop, which finalizes on its next pass. Only
// workflows halted for approval accept sign-off; one suspended on questions
// must be answered first.
func (e *Engine) Approve(ctx context.Context, workflowID, feedback, editedDocument string) (models.WorkflowState, error) {
	return e.store.Update(ctx, workflowID, func(s models.WorkflowState) (models.WorkflowState, error) {
		if s.Control.IsApprovedByHuman {
			return models.WorkflowState{}, ErrAlreadyFinalized
		}
		if !s.Control.IsHalted || s.Control.HaltReason == models.HaltAwaitingAnswers {
			return models.WorkflowState{}, ErrNotAwaitingApproval
		}
		out := s.Clone()
		out.Control.IsApprovedByHuman = true
		out.Control.IsHalted = false
		out.HumanFeedback = feedback
		out.HumanEditedDocument = editedDocument
		return out.WithNote(models.RoleSystem, "human approval received", nil), nil
	})
}

// SubmitAnswers resumes a workflow suspended on clarifying questions. The
// answers merge into the user-provided details and the information gate
// opens; the caller then resumes the loop.
func (e *Engine) SubmitAnswers(ctx context.Context, workflowID string, answers map[string]string) (models.WorkflowState, error) {
	return e.store.Update(ctx, workflowID, func(s models.WorkflowState) (models.WorkflowState, error) {
		if s.Control.IsApprovedByHuman {
			return models.WorkflowState{}, ErrAlreadyFinalized
		}
		if len(s.Control.PendingQuestions) == 0 {
			return models.WorkflowState{}, ErrNoPendingQuestions
		}
		out := s.Clone()
		if out.UserProvidedDetails == nil {
			out.UserProvidedDetails = make(map[string]string, len(answers))
		}
		for k, v := range answers {
			out.UserProvidedDetails[k] = v
		}
		out.InformationGathered = true
		out.Control.PendingQuestions = nil
		out.Control.AwaitingExternalInput = false
		out.Control.IsHalted = false
		out.Control.HaltReason = ""
		return out.WithNote(models.RoleSystem,
			fmt.Sprintf("received %d answer(s), resuming", len(answers)), nil), nil
	})
}

// RunToTerminal runs the workflow loop to its next terminal transition and
// returns the final snapshot.
func (e *Engine) RunToTerminal(ctx context.Context, workflowID string) (models.StateSnapshot, error) {
	snapshots, errs := e.Run(ctx, workflowID, nil)
	var last models.StateSnapshot
	for snap := range snapshots {
		last = snap
	}
	if err := <-errs; err != nil {
		return models.StateSnapshot{}, err
	}
	return last, nil
}
