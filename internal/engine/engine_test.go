package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"protocol-foundry/backend/internal/logging"
	"protocol-foundry/backend/internal/repository"
	"protocol-foundry/backend/pkg/models"
)

type stubWorker struct {
	role  models.WorkerRole
	apply func(state models.WorkflowState) (models.WorkflowState, error)
}

func (w stubWorker) Role() models.WorkerRole { return w.role }

func (w stubWorker) Apply(_ context.Context, state models.WorkflowState) (models.WorkflowState, error) {
	return w.apply(state)
}

// happyWorkers drive a workflow straight through draft, clean reviews, and
// debate.
func happyWorkers() []Worker {
	return []Worker{
		stubWorker{role: models.RoleDraftsman, apply: func(s models.WorkflowState) (models.WorkflowState, error) {
			s = s.WithDocument(fmt.Sprintf("grounding exercise v%d", s.DocumentVersion+1), models.RoleDraftsman)
			return s.WithNote(models.RoleDraftsman, "drafted", nil), nil
		}},
		stubWorker{role: models.RoleSafetyGuardian, apply: func(s models.WorkflowState) (models.WorkflowState, error) {
			s = s.WithReview(models.ReviewKindSafety, models.ReviewResult{Status: string(models.SafetyPassed)})
			return s.WithNote(models.RoleSafetyGuardian, "passed", nil), nil
		}},
		stubWorker{role: models.RoleQualityCritic, apply: func(s models.WorkflowState) (models.WorkflowState, error) {
			s = s.WithReview(models.ReviewKindQuality, models.ReviewResult{Status: string(models.QualityApproved)})
			return s.WithNote(models.RoleQualityCritic, "approved", nil), nil
		}},
		stubWorker{role: models.RoleDebateModerator, apply: func(s models.WorkflowState) (models.WorkflowState, error) {
			out := s.Clone()
			out.DebateComplete = true
			return out.WithNote(models.RoleDebateModerator, "consensus reached", nil), nil
		}},
	}
}

func newTestEngine(store repository.CheckpointStore, workers []Worker, loopThreshold int) *Engine {
	logger := logging.NewLogger()
	router := NewRouter(nil, loopThreshold, 5, logger)
	return New(store, router, workers, logger, nil)
}

func collect(t *testing.T, snapshots <-chan models.StateSnapshot, errs <-chan error) ([]models.StateSnapshot, error) {
	t.Helper()
	var out []models.StateSnapshot
	for snap := range snapshots {
		out = append(out, snap)
	}
	return out, <-errs
}

func TestEngineHappyPath(t *testing.T) {
	store := repository.NewMemoryCheckpointStore()
	eng := newTestEngine(store, happyWorkers(), 5)
	initial := baseState()

	snapCh, errCh := eng.Run(context.Background(), initial.WorkflowID, &initial)
	snaps, err := collect(t, snapCh, errCh)

	require.NoError(t, err)
	require.Len(t, snaps, 5)

	var steps []string
	for _, s := range snaps {
		steps = append(steps, s.Step)
	}
	assert.Equal(t, []string{"produce", "reviewSafety", "reviewQuality", "debate", "halt"}, steps)

	final := snaps[len(snaps)-1].State
	assert.True(t, final.Control.IsHalted)
	assert.Equal(t, models.HaltAwaitingApproval, final.Control.HaltReason)
	assert.False(t, final.Control.AwaitingExternalInput)
	assert.Equal(t, 4, final.IterationCount)
	assert.Equal(t, 1, final.DocumentVersion)

	// The terminal state is also the last checkpoint.
	saved, loadErr := store.Load(context.Background(), initial.WorkflowID)
	require.NoError(t, loadErr)
	assert.Equal(t, final.Control, saved.Control)
	assert.Equal(t, final.IterationCount, saved.IterationCount)
}

func TestEngineCheckpointsEveryStep(t *testing.T) {
	store := repository.NewMemoryCheckpointStore()
	eng := newTestEngine(store, happyWorkers(), 5)
	initial := baseState()

	snapCh, errCh := eng.Run(context.Background(), initial.WorkflowID, &initial)
	snaps, err := collect(t, snapCh, errCh)
	require.NoError(t, err)

	// Each emitted snapshot was durable before it was emitted, so iteration
	// counts rise by exactly one across worker steps.
	for i, snap := range snaps[:len(snaps)-1] {
		assert.Equal(t, i+1, snap.State.IterationCount, "step %s", snap.Step)
	}
	// The terminal halt does not consume an iteration.
	assert.Equal(t, 4, snaps[len(snaps)-1].State.IterationCount)
}

func TestEngineResumeFromCheckpoint(t *testing.T) {
	store := repository.NewMemoryCheckpointStore()
	initial := baseState()

	// Suspend after the draft: the safety stub halts the run by reporting an
	// infrastructure error, simulating a crash mid-workflow.
	crashing := happyWorkers()
	crashing[1] = stubWorker{role: models.RoleSafetyGuardian, apply: func(s models.WorkflowState) (models.WorkflowState, error) {
		return models.WorkflowState{}, assert.AnError
	}}
	snapCh, errCh := newTestEngine(store, crashing, 5).Run(context.Background(), initial.WorkflowID, &initial)
	_, err := collect(t, snapCh, errCh)
	require.Error(t, err)

	// A fresh engine resumes from the last checkpoint, not from scratch: the
	// document drafted before the crash survives and is not re-drafted.
	snapCh, errCh = newTestEngine(store, happyWorkers(), 5).Run(context.Background(), initial.WorkflowID, nil)
	snaps, err := collect(t, snapCh, errCh)
	require.NoError(t, err)

	var steps []string
	for _, s := range snaps {
		steps = append(steps, s.Step)
	}
	assert.Equal(t, []string{"reviewSafety", "reviewQuality", "debate", "halt"}, steps)
	assert.Equal(t, 1, snaps[len(snaps)-1].State.DocumentVersion)
}

func TestEngineUnknownWorkflow(t *testing.T) {
	store := repository.NewMemoryCheckpointStore()
	eng := newTestEngine(store, happyWorkers(), 5)

	snapCh, errCh := eng.Run(context.Background(), "never-created", nil)
	_, err := collect(t, snapCh, errCh)

	require.ErrorIs(t, err, ErrUnknownWorkflow)
}

func TestEngineMaxIterationsHalt(t *testing.T) {
	store := repository.NewMemoryCheckpointStore()
	// A draftsman that never manages a document forces produce forever.
	stuck := []Worker{stubWorker{role: models.RoleDraftsman, apply: func(s models.WorkflowState) (models.WorkflowState, error) {
		return s.WithNote(models.RoleDraftsman, "sidecar unavailable, document unchanged", nil), nil
	}}}
	eng := newTestEngine(store, stuck, 100)
	initial := baseState()
	initial.MaxIterations = 3

	snapCh, errCh := eng.Run(context.Background(), initial.WorkflowID, &initial)
	snaps, err := collect(t, snapCh, errCh)

	require.NoError(t, err)
	final := snaps[len(snaps)-1].State
	assert.True(t, final.Control.IsHalted)
	assert.Equal(t, models.HaltMaxIterations, final.Control.HaltReason)
	assert.Equal(t, 3, final.IterationCount)
}

func TestEngineLoopDetectionHalt(t *testing.T) {
	store := repository.NewMemoryCheckpointStore()
	stuck := []Worker{stubWorker{role: models.RoleDraftsman, apply: func(s models.WorkflowState) (models.WorkflowState, error) {
		return s.WithNote(models.RoleDraftsman, "document unchanged", nil), nil
	}}}
	eng := newTestEngine(store, stuck, 5)
	initial := baseState()
	initial.MaxIterations = 50

	snapCh, errCh := eng.Run(context.Background(), initial.WorkflowID, &initial)
	snaps, err := collect(t, snapCh, errCh)

	require.NoError(t, err)
	final := snaps[len(snaps)-1].State
	assert.Equal(t, models.HaltLoopDetected, final.Control.HaltReason)
	assert.Less(t, final.IterationCount, 50)
}

func TestEngineHaltBetweenSteps(t *testing.T) {
	store := repository.NewMemoryCheckpointStore()
	initial := baseState()
	require.NoError(t, store.Save(context.Background(), initial))

	eng := newTestEngine(store, happyWorkers(), 5)
	halted, err := eng.Halt(context.Background(), initial.WorkflowID)
	require.NoError(t, err)
	assert.True(t, halted.Control.IsHalted)
	assert.Equal(t, models.HaltAwaitingApproval, halted.Control.HaltReason)

	// The loop reloads the checkpoint each pass, so a run started afterwards
	// observes the flag immediately and stops without executing a worker.
	snapCh, errCh := eng.Run(context.Background(), initial.WorkflowID, nil)
	snaps, runErr := collect(t, snapCh, errCh)
	require.NoError(t, runErr)
	require.Len(t, snaps, 1)
	assert.Equal(t, "halt", snaps[0].Step)
	assert.Equal(t, 0, snaps[0].State.IterationCount)
}

func TestEngineHaltRejectsFinalized(t *testing.T) {
	store := repository.NewMemoryCheckpointStore()
	s := baseState()
	s.Control.IsApprovedByHuman = true
	require.NoError(t, store.Save(context.Background(), s))

	eng := newTestEngine(store, nil, 5)
	_, err := eng.Halt(context.Background(), s.WorkflowID)

	require.Error(t, err)
}

func TestEngineApproveAfterHalt(t *testing.T) {
	store := repository.NewMemoryCheckpointStore()
	eng := newTestEngine(store, happyWorkers(), 5)
	initial := baseState()

	snapCh, errCh := eng.Run(context.Background(), initial.WorkflowID, &initial)
	_, err := collect(t, snapCh, errCh)
	require.NoError(t, err)

	// Human sign-off is recorded on the checkpoint between runs.
	_, err = store.Update(context.Background(), initial.WorkflowID, func(s models.WorkflowState) (models.WorkflowState, error) {
		out := s.Clone()
		out.Control.IsApprovedByHuman = true
		out.Control.IsHalted = false
		return out, nil
	})
	require.NoError(t, err)

	snapCh, errCh = eng.Run(context.Background(), initial.WorkflowID, nil)
	snaps, err := collect(t, snapCh, errCh)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	final := snaps[0].State
	assert.Equal(t, "approve", snaps[0].Step)
	assert.True(t, final.Control.IsApprovedByHuman)
	assert.Equal(t, final.SharedDocument, final.FinalArtifact)
}

func TestEngineHumanEditWinsAtApproval(t *testing.T) {
	store := repository.NewMemoryCheckpointStore()
	s := baseState().WithDocument("machine draft", models.RoleDraftsman)
	s.HumanEditedDocument = "clinician-edited version"
	s.Control.IsApprovedByHuman = true
	require.NoError(t, store.Save(context.Background(), s))

	snapCh, errCh := newTestEngine(store, nil, 5).Run(context.Background(), s.WorkflowID, nil)
	snaps, err := collect(t, snapCh, errCh)

	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "clinician-edited version", snaps[0].State.FinalArtifact)
}

func TestEngineSerializesRunsPerWorkflow(t *testing.T) {
	store := repository.NewMemoryCheckpointStore()

	// Instrument every worker to record how many are inside Apply at once.
	var active, maxActive int32
	workers := happyWorkers()
	for i, w := range workers {
		sw := w.(stubWorker)
		inner := sw.apply
		sw.apply = func(s models.WorkflowState) (models.WorkflowState, error) {
			n := atomic.AddInt32(&active, 1)
			for {
				prev := atomic.LoadInt32(&maxActive)
				if n <= prev || atomic.CompareAndSwapInt32(&maxActive, prev, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			return inner(s)
		}
		workers[i] = sw
	}

	eng := newTestEngine(store, workers, 5)
	initial := baseState()
	require.NoError(t, store.Save(context.Background(), initial))

	// Two overlapping runs for the same workflow must queue, never interleave
	// worker executions.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snapCh, errCh := eng.Run(context.Background(), initial.WorkflowID, nil)
			_, err := collect(t, snapCh, errCh)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&maxActive))

	final, err := store.Load(context.Background(), initial.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, 4, final.IterationCount)
}

func TestEngineCancellation(t *testing.T) {
	store := repository.NewMemoryCheckpointStore()
	eng := newTestEngine(store, happyWorkers(), 5)
	initial := baseState()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	snapCh, errCh := eng.Run(ctx, initial.WorkflowID, &initial)
	_, err := collect(t, snapCh, errCh)

	require.ErrorIs(t, err, context.Canceled)
}
