package models

// RouteTarget is the closed set of routing destinations the engine accepts.
// Anything else coming back from the decision oracle is treated as invalid
// and replaced by the deterministic fallback rules.
type RouteTarget string

const (
	RouteProduce           RouteTarget = "produce"
	RouteReviewSafety      RouteTarget = "reviewSafety"
	RouteReviewQuality     RouteTarget = "reviewQuality"
	RouteDebate            RouteTarget = "debate"
	RouteGatherInformation RouteTarget = "gatherInformation"
	RouteHalt              RouteTarget = "halt"
	RouteApprove           RouteTarget = "approve"
)

// Valid reports whether t is one of the known routing targets.
func (t RouteTarget) Valid() bool {
	switch t {
	case RouteProduce, RouteReviewSafety, RouteReviewQuality, RouteDebate,
		RouteGatherInformation, RouteHalt, RouteApprove:
		return true
	}
	return false
}

// Terminal reports whether t stops the engine loop.
func (t RouteTarget) Terminal() bool {
	return t == RouteHalt || t == RouteApprove
}

// ParseRouteTarget validates an externally supplied decision string.
// The boolean is false for anything outside the closed enum.
func ParseRouteTarget(s string) (RouteTarget, bool) {
	t := RouteTarget(s)
	return t, t.Valid()
}

// SafetyStatus is the outcome of a safety review.
type SafetyStatus string

const (
	SafetyPending  SafetyStatus = "pending"
	SafetyPassed   SafetyStatus = "passed"
	SafetyFlagged  SafetyStatus = "flagged"
	SafetyCritical SafetyStatus = "critical"
)

// Blocking reports whether the status forces another revision pass.
func (s SafetyStatus) Blocking() bool {
	return s == SafetyFlagged || s == SafetyCritical
}

// QualityStatus is the outcome of a quality review.
type QualityStatus string

const (
	QualityPending       QualityStatus = "pending"
	QualityApproved      QualityStatus = "approved"
	QualityNeedsRevision QualityStatus = "needsRevision"
	QualityRejected      QualityStatus = "rejected"
)

// Blocking reports whether the status forces another revision pass.
func (s QualityStatus) Blocking() bool {
	return s == QualityNeedsRevision || s == QualityRejected
}

// ReviewKind identifies which review slot a ReviewResult occupies.
type ReviewKind string

const (
	ReviewKindSafety  ReviewKind = "safety"
	ReviewKindQuality ReviewKind = "quality"
)

// HaltReason explains why the engine suspended a workflow. Every halt
// carries one so an operator can tell "done, needs sign-off" from "stuck".
type HaltReason string

const (
	HaltMaxIterations    HaltReason = "maxIterations"
	HaltLoopDetected     HaltReason = "loopDetected"
	HaltAwaitingApproval HaltReason = "awaitingApproval"
	HaltAwaitingAnswers  HaltReason = "awaitingAnswers"
)

// WorkerRole identifies the producer of a note or document revision.
type WorkerRole string

const (
	RoleRouter              WorkerRole = "router"
	RoleDraftsman           WorkerRole = "draftsman"
	RoleSafetyGuardian      WorkerRole = "safetyGuardian"
	RoleQualityCritic       WorkerRole = "qualityCritic"
	RoleDebateModerator     WorkerRole = "debateModerator"
	RoleInformationGatherer WorkerRole = "informationGatherer"
	RoleSystem              WorkerRole = "system"
)
