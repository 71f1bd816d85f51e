// Package report assembles the decision record: the single serializable
// output of a control-plane run that downstream stage runners must honor.
// Serialization is deterministic - every collection is explicitly ordered -
// so re-running on an unchanged snapshot is byte-identical except for the
// run id and timestamp.
package report

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"shapetrace/internal/analyzer"
	"shapetrace/internal/enforcement"
	"shapetrace/internal/gate"
	"shapetrace/internal/registry"
	"shapetrace/internal/tracer"
	"shapetrace/internal/types"
)

// ExecutionDecision is the summary stage runners consume. It is derived
// entirely from the gate verdict and enforcement action.
type ExecutionDecision struct {
	WireBlocked  bool   `json:"wire_blocked"`
	PixelBlocked bool   `json:"pixel_blocked"`
	Reason       string `json:"reason"`
}

// DecisionRecord is the full external output of one run.
type DecisionRecord struct {
	RunID        string    `json:"run_id"`
	Timestamp    time.Time `json:"timestamp"`
	ShapesTraced []string  `json:"shapes_traced"`

	Registry registry.Snapshot `json:"registry"`

	Traces []types.ShapeTraceResult `json:"traces"`

	Gate    types.GateVerdict      `json:"gate_verdict"`
	Metrics enforcement.RSRMetrics `json:"rsr_metrics"`

	Comparative     analyzer.ComparativeResult `json:"comparative"`
	Counterfactuals []analyzer.Counterfactual  `json:"counterfactuals,omitempty"`
	RootCause       analyzer.RootCause         `json:"root_cause"`

	Enforcement types.EnforcementDecision `json:"enforcement"`

	ExecutionDecision ExecutionDecision `json:"execution_decision"`
}

// Options tune a run. The zero value is the default configuration.
type Options struct {
	// StudyHandoff is the boundary the comparative analyzer examines.
	// Empty means analyzer.DefaultStudyHandoff.
	StudyHandoff types.Handoff
}

// Execute runs the full control plane over materialized stage outputs:
// trace, gate, survival-rate metrics, comparative analysis, enforcement,
// and record assembly. The registry must already be validated; tracing
// onward never errors on content (bad stage output is evidence), only on
// context cancellation.
func Execute(ctx context.Context, reg *registry.Registry, outputs tracer.StageOutputs, opts Options) (*DecisionRecord, error) {
	traces, err := tracer.New(reg).TraceAll(ctx, outputs)
	if err != nil {
		return nil, err
	}

	handoff := opts.StudyHandoff
	if handoff == "" {
		handoff = analyzer.DefaultStudyHandoff
	}

	verdict := gate.Execute(traces)
	metrics := enforcement.ComputeMetrics(traces)

	runID := uuid.NewString()
	decision := enforcement.NewEngine().Decide(runID, traces, metrics, verdict)

	comparative := analyzer.AnalyzeComparative(traces, handoff)

	record := &DecisionRecord{
		RunID:           runID,
		Timestamp:       time.Now().UTC(),
		ShapesTraced:    tracer.SortedShapeIDs(traces),
		Registry:        reg.Snapshot(),
		Gate:            verdict,
		Metrics:         metrics,
		Comparative:     comparative,
		Counterfactuals: analyzer.GenerateCounterfactuals(traces),
		RootCause:       analyzer.DetermineRootCause(traces, comparative),
		Enforcement:     decision,
	}
	for _, id := range record.ShapesTraced {
		record.Traces = append(record.Traces, *traces[id])
	}
	record.ExecutionDecision = deriveExecutionDecision(verdict, decision)

	return record, nil
}

// deriveExecutionDecision folds the gate and enforcement outcomes into the
// summary the wire and pixel stage runners must honor.
func deriveExecutionDecision(verdict types.GateVerdict, decision types.EnforcementDecision) ExecutionDecision {
	switch {
	case verdict.BlockDownstream:
		return ExecutionDecision{
			WireBlocked:  true,
			PixelBlocked: true,
			Reason:       "survival gate recorded a fatal foundational violation; downstream stages must not run",
		}
	case decision.OverallAction == types.ActionBlockAll:
		return ExecutionDecision{
			WireBlocked:  true,
			PixelBlocked: true,
			Reason:       "enforcement action BLOCK_ALL forbids canonical execution",
		}
	case decision.OverallAction == types.ActionForkTTE:
		return ExecutionDecision{
			Reason: "canonical execution permitted but non-authoritative; remediation track forked",
		}
	default:
		return ExecutionDecision{Reason: "all tiers within survival budgets"}
	}
}

// Marshal serializes the record with stable indentation.
func (r *DecisionRecord) Marshal() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// ComparableBytes serializes the record with the per-run fields (run id,
// timestamp, fork/track ids and creation times) zeroed, for byte-level
// idempotence comparison between runs over the same snapshot.
func (r *DecisionRecord) ComparableBytes() ([]byte, error) {
	clone := *r
	clone.RunID = ""
	clone.Timestamp = time.Time{}

	clone.Enforcement.Tracks = append([]types.Track(nil), r.Enforcement.Tracks...)
	for i := range clone.Enforcement.Tracks {
		clone.Enforcement.Tracks[i].RunID = ""
		clone.Enforcement.Tracks[i].CreatedAt = time.Time{}
	}
	if r.Enforcement.Fork != nil {
		fork := *r.Enforcement.Fork
		fork.TrackID = ""
		fork.Reason = ""
		clone.Enforcement.Fork = &fork
	}
	return json.MarshalIndent(&clone, "", "  ")
}
