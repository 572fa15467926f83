package engine

import (
	"context"

	"protocol-foundry/backend/internal/logging"
	"protocol-foundry/backend/pkg/models"
)

// Decision is the outcome of one router pass.
type Decision struct {
	Target models.RouteTarget
	// Reason is set when Target is halt, so the operator can tell a
	// finished workflow awaiting sign-off from a stuck one.
	Reason    models.HaltReason
	Rationale string
}

// Router picks the next routing target for a workflow. A decision oracle
// may suggest a target, but the deterministic rule table is the source of
// truth: the termination guards always win, and any invalid or absent
// oracle answer falls back to the table.
type Router struct {
	oracle             DecisionOracle
	loopCheckThreshold int
	decisionWindow     int
	logger             *logging.Logger
}

// NewRouter creates a Router. oracle may be nil, in which case only the
// rule table is consulted. decisionWindow is clamped to a minimum of 3 so
// the loop breaker always has enough history.
func NewRouter(oracle DecisionOracle, loopCheckThreshold, decisionWindow int, logger *logging.Logger) *Router {
	if decisionWindow < 3 {
		decisionWindow = 3
	}
	return &Router{
		oracle:             oracle,
		loopCheckThreshold: loopCheckThreshold,
		decisionWindow:     decisionWindow,
		logger:             logger,
	}
}

// Decide evaluates the routing rules against the current state. Rules are
// checked in precedence order, first match wins:
//
//  1. approved by human        -> approve
//  2. halted / awaiting input  -> halt (awaitingAnswers or awaitingApproval)
//  3. iteration ceiling hit    -> halt (maxIterations)
//  4. loop detected            -> halt (loopDetected)
//  5. information gate open    -> gatherInformation
//  6. no document              -> produce
//  7. no safety review         -> reviewSafety
//  8. safety blocking          -> produce
//  9. no quality review        -> reviewQuality
//  10. quality blocking        -> produce
//  11. debate incomplete       -> debate
//  12. everything done         -> halt (awaitingApproval)
//
// The oracle is consulted only when none of the guards 1-4 fire, and its
// answer is validated against the closed enum before use.
func (r *Router) Decide(ctx context.Context, state models.WorkflowState) Decision {
	if state.Control.IsApprovedByHuman {
		return Decision{Target: models.RouteApprove, Rationale: "human approval received, finalizing"}
	}
	if state.Control.IsHalted || state.Control.AwaitingExternalInput {
		reason := models.HaltAwaitingApproval
		if len(state.Control.PendingQuestions) > 0 {
			reason = models.HaltAwaitingAnswers
		}
		return Decision{Target: models.RouteHalt, Reason: reason, Rationale: "workflow is suspended awaiting external input"}
	}
	if state.IterationCount >= state.MaxIterations {
		return Decision{
			Target:    models.RouteHalt,
			Reason:    models.HaltMaxIterations,
			Rationale: "iteration ceiling reached, halting for human review",
		}
	}
	if state.IterationCount >= r.loopCheckThreshold && repeatedDecision(state.Control.RecentDecisions, 3) {
		return Decision{
			Target:    models.RouteHalt,
			Reason:    models.HaltLoopDetected,
			Rationale: "same routing decision repeated, breaking the loop for human review",
		}
	}

	if r.oracle != nil {
		if target, ok := r.consultOracle(ctx, state); ok {
			return r.describe(target, "oracle")
		}
	}
	return r.describe(r.fallback(state), "rules")
}

// Record appends a decision to the bounded trailing window the loop breaker
// inspects. It returns a new state value; router passes never touch the
// iteration counter.
func (r *Router) Record(state models.WorkflowState, target models.RouteTarget) models.WorkflowState {
	out := state.Clone()
	out.Control.LastRoutingDecision = string(target)
	out.Control.RecentDecisions = append(out.Control.RecentDecisions, string(target))
	if excess := len(out.Control.RecentDecisions) - r.decisionWindow; excess > 0 {
		out.Control.RecentDecisions = out.Control.RecentDecisions[excess:]
	}
	return out
}

// fallback is the deterministic rule table, rules 5-12. Given the same
// state fields it always produces the same target.
func (r *Router) fallback(state models.WorkflowState) models.RouteTarget {
	if !state.InformationGathered {
		return models.RouteGatherInformation
	}
	if !state.HasDocument() {
		return models.RouteProduce
	}
	safety, hasSafety := state.SafetyReview()
	if !hasSafety {
		return models.RouteReviewSafety
	}
	if safety.SafetyStatus().Blocking() {
		return models.RouteProduce
	}
	quality, hasQuality := state.QualityReview()
	if !hasQuality {
		return models.RouteReviewQuality
	}
	if quality.QualityStatus().Blocking() {
		return models.RouteProduce
	}
	if !state.DebateComplete {
		return models.RouteDebate
	}
	return models.RouteHalt
}

// consultOracle asks the oracle for a hint and validates it. approve is
// never accepted from the oracle: only recorded human approval (rule 1) may
// finalize a workflow.
func (r *Router) consultOracle(ctx context.Context, state models.WorkflowState) (models.RouteTarget, bool) {
	suggestion, err := r.oracle.Decide(ctx, snapshotOf(state))
	if err != nil {
		r.logger.Warn("decision oracle failed, using rule table", "workflow_id", state.WorkflowID, "error", err)
		return "", false
	}
	target, ok := models.ParseRouteTarget(suggestion)
	if !ok {
		r.logger.Warn("decision oracle returned invalid target, using rule table",
			"workflow_id", state.WorkflowID, "suggestion", suggestion)
		return "", false
	}
	if target == models.RouteApprove {
		return "", false
	}
	return target, true
}

func (r *Router) describe(target models.RouteTarget, source string) Decision {
	d := Decision{Target: target}
	switch target {
	case models.RouteGatherInformation:
		d.Rationale = "request needs clarifying details before drafting"
	case models.RouteProduce:
		d.Rationale = "routing to draftsman to create or revise the document"
	case models.RouteReviewSafety:
		d.Rationale = "document needs a safety review"
	case models.RouteReviewQuality:
		d.Rationale = "document needs a quality review"
	case models.RouteDebate:
		d.Rationale = "reviews passed, running moderated debate before sign-off"
	case models.RouteHalt:
		d.Reason = models.HaltAwaitingApproval
		d.Rationale = "workflow complete, halting for human sign-off"
	}
	d.Rationale += " (" + source + ")"
	return d
}

func snapshotOf(state models.WorkflowState) RouterSnapshot {
	snap := RouterSnapshot{
		WorkflowID:      state.WorkflowID,
		Intent:          state.ClassifiedIntent,
		HasDocument:     state.HasDocument(),
		DebateComplete:  state.DebateComplete,
		IterationCount:  state.IterationCount,
		MaxIterations:   state.MaxIterations,
		RecentDecisions: append([]string(nil), state.Control.RecentDecisions...),
	}
	if safety, ok := state.SafetyReview(); ok {
		snap.SafetyStatus = safety.Status
	}
	if quality, ok := state.QualityReview(); ok {
		snap.QualityStatus = quality.Status
	}
	return snap
}

// repeatedDecision reports whether the last n recorded decisions exist and
// are all identical.
func repeatedDecision(window []string, n int) bool {
	if len(window) < n {
		return false
	}
	last := window[len(window)-1]
	for _, d := range window[len(window)-n:] {
		if d != last {
			return false
		}
	}
	return true
}
