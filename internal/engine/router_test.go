package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"protocol-foundry/backend/internal/logging"
	"protocol-foundry/backend/pkg/models"
)

type fixedOracle struct {
	answer string
	err    error
	calls  int
}

func (o *fixedOracle) Decide(_ context.Context, _ RouterSnapshot) (string, error) {
	o.calls++
	return o.answer, o.err
}

func baseState() models.WorkflowState {
	s := models.NewWorkflowState("wf-1", "design a grounding exercise", IntentProtocol, nil, 10)
	s.InformationGathered = true
	return s
}

func withSafety(s models.WorkflowState, status models.SafetyStatus) models.WorkflowState {
	return s.WithReview(models.ReviewKindSafety, models.ReviewResult{Status: string(status)})
}

func withQuality(s models.WorkflowState, status models.QualityStatus) models.WorkflowState {
	return s.WithReview(models.ReviewKindQuality, models.ReviewResult{Status: string(status)})
}

func TestRouterFallbackTable(t *testing.T) {
	drafted := baseState().WithDocument("draft v1", models.RoleDraftsman)

	tests := []struct {
		name  string
		state models.WorkflowState
		want  models.RouteTarget
	}{
		{
			name: "information gate open",
			state: func() models.WorkflowState {
				s := baseState()
				s.InformationGathered = false
				return s
			}(),
			want: models.RouteGatherInformation,
		},
		{
			name:  "no document",
			state: baseState(),
			want:  models.RouteProduce,
		},
		{
			name:  "document without safety review",
			state: drafted,
			want:  models.RouteReviewSafety,
		},
		{
			name:  "safety flagged forces revision",
			state: withSafety(drafted, models.SafetyFlagged),
			want:  models.RouteProduce,
		},
		{
			name:  "safety critical forces revision",
			state: withSafety(drafted, models.SafetyCritical),
			want:  models.RouteProduce,
		},
		{
			name:  "safety passed without quality review",
			state: withSafety(drafted, models.SafetyPassed),
			want:  models.RouteReviewQuality,
		},
		{
			name:  "quality needs revision forces revision",
			state: withQuality(withSafety(drafted, models.SafetyPassed), models.QualityNeedsRevision),
			want:  models.RouteProduce,
		},
		{
			name:  "both reviews clean but debate incomplete",
			state: withQuality(withSafety(drafted, models.SafetyPassed), models.QualityApproved),
			want:  models.RouteDebate,
		},
		{
			name: "everything done halts for sign-off",
			state: func() models.WorkflowState {
				s := withQuality(withSafety(drafted, models.SafetyPassed), models.QualityApproved)
				s.DebateComplete = true
				return s
			}(),
			want: models.RouteHalt,
		},
	}

	router := NewRouter(nil, 5, 5, logging.NewLogger())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := router.Decide(context.Background(), tt.state)
			assert.Equal(t, tt.want, decision.Target)
			if tt.want == models.RouteHalt {
				assert.Equal(t, models.HaltAwaitingApproval, decision.Reason)
			}
		})
	}
}

func TestRouterGuardsPrecedeOracle(t *testing.T) {
	oracle := &fixedOracle{answer: string(models.RouteDebate)}
	router := NewRouter(oracle, 5, 5, logging.NewLogger())

	t.Run("human approval wins over everything", func(t *testing.T) {
		s := baseState()
		s.Control.IsApprovedByHuman = true
		s.IterationCount = 50

		decision := router.Decide(context.Background(), s)

		assert.Equal(t, models.RouteApprove, decision.Target)
		assert.Zero(t, oracle.calls)
	})

	t.Run("halted state stays halted", func(t *testing.T) {
		s := baseState()
		s.Control.IsHalted = true

		decision := router.Decide(context.Background(), s)

		assert.Equal(t, models.RouteHalt, decision.Target)
		assert.Equal(t, models.HaltAwaitingApproval, decision.Reason)
	})

	t.Run("pending questions halt awaiting answers", func(t *testing.T) {
		s := baseState()
		s.Control.AwaitingExternalInput = true
		s.Control.PendingQuestions = []string{"what symptom does this target?"}

		decision := router.Decide(context.Background(), s)

		assert.Equal(t, models.RouteHalt, decision.Target)
		assert.Equal(t, models.HaltAwaitingAnswers, decision.Reason)
	})

	t.Run("iteration ceiling halts", func(t *testing.T) {
		s := baseState()
		s.IterationCount = s.MaxIterations

		decision := router.Decide(context.Background(), s)

		assert.Equal(t, models.RouteHalt, decision.Target)
		assert.Equal(t, models.HaltMaxIterations, decision.Reason)
	})

	t.Run("iteration ceiling beats loop detection", func(t *testing.T) {
		s := baseState()
		s.IterationCount = s.MaxIterations
		s.Control.RecentDecisions = []string{"produce", "produce", "produce"}

		decision := router.Decide(context.Background(), s)

		require.Equal(t, models.RouteHalt, decision.Target)
		assert.Equal(t, models.HaltMaxIterations, decision.Reason)
	})
}

func TestRouterLoopBreaker(t *testing.T) {
	router := NewRouter(nil, 5, 5, logging.NewLogger())

	t.Run("three identical decisions past the threshold halt", func(t *testing.T) {
		s := baseState().WithDocument("draft", models.RoleDraftsman)
		s.IterationCount = 6
		s.Control.RecentDecisions = []string{"reviewSafety", "produce", "produce", "produce"}

		decision := router.Decide(context.Background(), s)

		require.Equal(t, models.RouteHalt, decision.Target)
		assert.Equal(t, models.HaltLoopDetected, decision.Reason)
	})

	t.Run("below the threshold the same pattern keeps running", func(t *testing.T) {
		s := baseState()
		s.IterationCount = 3
		s.Control.RecentDecisions = []string{"produce", "produce", "produce"}

		decision := router.Decide(context.Background(), s)

		assert.Equal(t, models.RouteProduce, decision.Target)
	})

	t.Run("alternating decisions never trip the breaker", func(t *testing.T) {
		s := baseState()
		s.IterationCount = 8
		s.Control.RecentDecisions = []string{"produce", "reviewSafety", "produce", "reviewSafety"}

		decision := router.Decide(context.Background(), s)

		assert.Equal(t, models.RouteProduce, decision.Target)
	})

	t.Run("short history is never a loop", func(t *testing.T) {
		s := baseState()
		s.IterationCount = 9
		s.Control.RecentDecisions = []string{"produce", "produce"}

		decision := router.Decide(context.Background(), s)

		assert.Equal(t, models.RouteProduce, decision.Target)
	})
}

func TestRouterOracle(t *testing.T) {
	t.Run("valid suggestion is used", func(t *testing.T) {
		oracle := &fixedOracle{answer: string(models.RouteReviewSafety)}
		router := NewRouter(oracle, 5, 5, logging.NewLogger())
		s := baseState() // rules alone would say produce

		decision := router.Decide(context.Background(), s)

		assert.Equal(t, models.RouteReviewSafety, decision.Target)
		assert.Equal(t, 1, oracle.calls)
	})

	t.Run("invalid suggestion falls back to the table", func(t *testing.T) {
		oracle := &fixedOracle{answer: "summon_the_committee"}
		router := NewRouter(oracle, 5, 5, logging.NewLogger())

		decision := router.Decide(context.Background(), baseState())

		assert.Equal(t, models.RouteProduce, decision.Target)
	})

	t.Run("oracle error falls back to the table", func(t *testing.T) {
		oracle := &fixedOracle{err: errors.New("sidecar unreachable")}
		router := NewRouter(oracle, 5, 5, logging.NewLogger())

		decision := router.Decide(context.Background(), baseState())

		assert.Equal(t, models.RouteProduce, decision.Target)
	})

	t.Run("oracle may never approve", func(t *testing.T) {
		oracle := &fixedOracle{answer: string(models.RouteApprove)}
		router := NewRouter(oracle, 5, 5, logging.NewLogger())

		decision := router.Decide(context.Background(), baseState())

		assert.Equal(t, models.RouteProduce, decision.Target)
	})
}

func TestRouterRecordBoundsWindow(t *testing.T) {
	router := NewRouter(nil, 5, 3, logging.NewLogger())
	s := baseState()

	for _, target := range []models.RouteTarget{
		models.RouteProduce, models.RouteReviewSafety, models.RouteProduce,
		models.RouteReviewQuality, models.RouteDebate,
	} {
		s = router.Record(s, target)
	}

	assert.Equal(t, []string{"produce", "reviewQuality", "debate"}, s.Control.RecentDecisions)
	assert.Equal(t, "debate", s.Control.LastRoutingDecision)
}

func TestRouterDeterminism(t *testing.T) {
	router := NewRouter(nil, 5, 5, logging.NewLogger())
	s := withSafety(baseState().WithDocument("draft", models.RoleDraftsman), models.SafetyPassed)

	first := router.Decide(context.Background(), s)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, router.Decide(context.Background(), s))
	}
}
