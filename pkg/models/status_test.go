package models

import "testing"

func TestRouteTargetValid(t *testing.T) {
	tests := []struct {
		target RouteTarget
		valid  bool
	}{
		{RouteProduce, true},
		{RouteReviewSafety, true},
		{RouteReviewQuality, true},
		{RouteDebate, true},
		{RouteGatherInformation, true},
		{RouteHalt, true},
		{RouteApprove, true},
		{RouteTarget(""), false},
		{RouteTarget("draftsman"), false},
		{RouteTarget("HALT"), false},
	}
	for _, tt := range tests {
		t.Run(string(tt.target), func(t *testing.T) {
			if got := tt.target.Valid(); got != tt.valid {
				t.Errorf("Valid(%q) = %v, want %v", tt.target, got, tt.valid)
			}
		})
	}
}

func TestRouteTargetTerminal(t *testing.T) {
	tests := []struct {
		target   RouteTarget
		terminal bool
	}{
		{RouteProduce, false},
		{RouteReviewSafety, false},
		{RouteReviewQuality, false},
		{RouteDebate, false},
		{RouteGatherInformation, false},
		{RouteHalt, true},
		{RouteApprove, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.target), func(t *testing.T) {
			if got := tt.target.Terminal(); got != tt.terminal {
				t.Errorf("Terminal(%q) = %v, want %v", tt.target, got, tt.terminal)
			}
		})
	}
}

func TestParseRouteTarget(t *testing.T) {
	if got, ok := ParseRouteTarget("debate"); !ok || got != RouteDebate {
		t.Errorf("ParseRouteTarget(debate) = %q, %v", got, ok)
	}
	if _, ok := ParseRouteTarget("something else entirely"); ok {
		t.Error("expected invalid target to be rejected")
	}
}

func TestSafetyStatusBlocking(t *testing.T) {
	tests := []struct {
		status   SafetyStatus
		blocking bool
	}{
		{SafetyPending, false},
		{SafetyPassed, false},
		{SafetyFlagged, true},
		{SafetyCritical, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Blocking(); got != tt.blocking {
				t.Errorf("Blocking(%q) = %v, want %v", tt.status, got, tt.blocking)
			}
		})
	}
}

func TestQualityStatusBlocking(t *testing.T) {
	tests := []struct {
		status   QualityStatus
		blocking bool
	}{
		{QualityPending, false},
		{QualityApproved, false},
		{QualityNeedsRevision, true},
		{QualityRejected, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Blocking(); got != tt.blocking {
				t.Errorf("Blocking(%q) = %v, want %v", tt.status, got, tt.blocking)
			}
		})
	}
}
