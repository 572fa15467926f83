package engine

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"protocol-foundry/backend/pkg/models"
)

// Metrics counts engine activity: worker steps by target and terminal
// transitions by halt reason.
type Metrics struct {
	steps     metric.Int64Counter
	halts     metric.Int64Counter
	approvals metric.Int64Counter
}

// NewMetrics registers the engine counters against the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("protocol-foundry/engine")

	steps, err := meter.Int64Counter("engine.steps",
		metric.WithDescription("Worker executions, by routing target"))
	if err != nil {
		return nil, err
	}
	halts, err := meter.Int64Counter("engine.halts",
		metric.WithDescription("Halt transitions, by reason"))
	if err != nil {
		return nil, err
	}
	approvals, err := meter.Int64Counter("engine.approvals",
		metric.WithDescription("Workflows finalized by human approval"))
	if err != nil {
		return nil, err
	}
	return &Metrics{steps: steps, halts: halts, approvals: approvals}, nil
}

func (m *Metrics) recordStep(ctx context.Context, target models.RouteTarget) {
	if m == nil {
		return
	}
	m.steps.Add(ctx, 1, metric.WithAttributes(attribute.String("target", string(target))))
}

func (m *Metrics) recordHalt(ctx context.Context, reason models.HaltReason) {
	if m == nil {
		return
	}
	m.halts.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(reason))))
}

func (m *Metrics) recordApproval(ctx context.Context) {
	if m == nil {
		return
	}
	m.approvals.Add(ctx, 1)
}
