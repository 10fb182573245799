package orchestrator

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/flowd/internal/classifier"
	"github.com/fyrsmithlabs/flowd/internal/phases"
)

const instrumentationName = "github.com/fyrsmithlabs/flowd/internal/orchestrator"

// Metrics is the orchestrator's structured event and timing sink.
type Metrics struct {
	meter            metric.Meter
	logger           *zap.Logger
	laneDecisions    metric.Int64Counter
	policyRejections metric.Int64Counter
	quickFallbacks   metric.Int64Counter
	phaseTransitions metric.Int64Counter
	workflowDuration metric.Float64Histogram
}

// NewMetrics creates the orchestrator metrics instruments.
func NewMetrics(logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{
		meter:  otel.Meter(instrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.laneDecisions, err = m.meter.Int64Counter(
		"flowd.orchestrator.lane_decisions_total",
		metric.WithDescription("Total lane classification decisions"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		m.logger.Warn("failed to create lane decisions counter", zap.Error(err))
	}

	m.policyRejections, err = m.meter.Int64Counter(
		"flowd.orchestrator.policy_rejections_total",
		metric.WithDescription("Total operations rejected by policy or approval settings"),
		metric.WithUnit("{rejection}"),
	)
	if err != nil {
		m.logger.Warn("failed to create policy rejections counter", zap.Error(err))
	}

	m.quickFallbacks, err = m.meter.Int64Counter(
		"flowd.orchestrator.quick_fallbacks_total",
		metric.WithDescription("Total quick-lane failures that fell back to the complex lane"),
		metric.WithUnit("{fallback}"),
	)
	if err != nil {
		m.logger.Warn("failed to create quick fallbacks counter", zap.Error(err))
	}

	m.phaseTransitions, err = m.meter.Int64Counter(
		"flowd.orchestrator.phase_transitions_total",
		metric.WithDescription("Total recorded phase transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		m.logger.Warn("failed to create phase transitions counter", zap.Error(err))
	}

	m.workflowDuration, err = m.meter.Float64Histogram(
		"flowd.orchestrator.workflow_duration_seconds",
		metric.WithDescription("End-to-end workflow execution duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	if err != nil {
		m.logger.Warn("failed to create workflow duration histogram", zap.Error(err))
	}
}

// RecordLaneDecision records a classification outcome.
func (m *Metrics) RecordLaneDecision(ctx context.Context, decision classifier.LaneDecision) {
	if m.laneDecisions == nil {
		return
	}
	m.laneDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("lane", string(decision.Lane)),
		attribute.String("scale_level", strconv.Itoa(decision.Scale.Level)),
	))
}

// RecordPolicyRejection records a rejected operation.
func (m *Metrics) RecordPolicyRejection(ctx context.Context, operation string, kind ErrorKind) {
	if m.policyRejections == nil {
		return
	}
	m.policyRejections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("kind", string(kind)),
	))
}

// RecordQuickFallback records a quick-to-complex fallback.
func (m *Metrics) RecordQuickFallback(ctx context.Context, reason string) {
	if m.quickFallbacks == nil {
		return
	}
	m.quickFallbacks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

// RecordPhaseTransition records a successful phase transition.
func (m *Metrics) RecordPhaseTransition(ctx context.Context, phase phases.Phase) {
	if m.phaseTransitions == nil {
		return
	}
	m.phaseTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("phase", string(phase)),
	))
}

// RecordWorkflowDuration records an end-to-end workflow timing.
func (m *Metrics) RecordWorkflowDuration(ctx context.Context, lane classifier.Lane, d time.Duration) {
	if m.workflowDuration == nil {
		return
	}
	m.workflowDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("lane", string(lane)),
	))
}
