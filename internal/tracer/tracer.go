// Package tracer runs every stage extractor for every registered shape and
// computes per-handoff loss, survival status, and the requirement survival
// rate. Tracing has no cross-shape data dependency, so shapes are traced in
// parallel; within a shape the five handoff comparisons run strictly in
// pipeline order after all six extractions complete.
package tracer

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"shapetrace/internal/extract"
	"shapetrace/internal/logging"
	"shapetrace/internal/registry"
	"shapetrace/internal/types"
)

// StageOutputs maps each pipeline stage to its materialized output. Stages
// missing from the map are traced as absent.
type StageOutputs map[types.Stage]extract.Output

// NewStageOutputs materializes raw bytes per stage. A nil entry (or a
// missing key) records the stage as absent.
func NewStageOutputs(raw map[types.Stage][]byte) StageOutputs {
	outputs := make(StageOutputs, len(types.Stages))
	for _, stage := range types.Stages {
		if data, ok := raw[stage]; ok {
			outputs[stage] = extract.NewOutput(stage, data)
		}
	}
	return outputs
}

// Tracer traces all registered shapes through the six-stage pipeline.
type Tracer struct {
	reg *registry.Registry
}

// New returns a tracer over the given immutable registry.
func New(reg *registry.Registry) *Tracer {
	return &Tracer{reg: reg}
}

// TraceAll traces every shape in the registry against the stage outputs.
// The result holds exactly one ShapeTraceResult per shape. The computation
// is pure: identical inputs always produce identical results.
func (t *Tracer) TraceAll(ctx context.Context, outputs StageOutputs) (map[string]*types.ShapeTraceResult, error) {
	shapes := t.reg.All()
	results := make([]*types.ShapeTraceResult, len(shapes))

	g, ctx := errgroup.WithContext(ctx)
	for i, shape := range shapes {
		i, shape := i, shape
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = t.traceShape(shape, outputs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]*types.ShapeTraceResult, len(results))
	for _, res := range results {
		out[res.ShapeID] = res
		logging.Tracer("shape %s: survived=%v rsr=%.3f", res.ShapeID, res.Survival.SurvivedToTarget, res.RSR)
	}
	return out, nil
}

// traceShape runs the six extractions and five handoff comparisons for one
// shape.
func (t *Tracer) traceShape(shape types.ShapeDeclaration, outputs StageOutputs) *types.ShapeTraceResult {
	extractions := make([]types.ExtractionResult, len(types.Stages))
	for i, stage := range types.Stages {
		out, ok := outputs[stage]
		if !ok {
			out = extract.AbsentOutput(stage)
		}
		extractions[i] = extract.ForStage(stage).Extract(shape, out)
	}

	losses := make([]types.HandoffLossResult, len(types.Handoffs))
	for i := range types.Handoffs {
		losses[i] = t.classifyHandoff(shape, types.HandoffFor(i), extractions[i], extractions[i+1])
	}

	survival := t.survivalStatus(shape, extractions, losses)
	rsr := computeRSR(survival)

	return &types.ShapeTraceResult{
		ShapeID:     shape.ID,
		Category:    shape.Category,
		Criticality: shape.Criticality,
		Extractions: extractions,
		Losses:      losses,
		Survival:    survival,
		RSR:         rsr,
	}
}

// classifyHandoff computes attributes_lost and the loss class for one
// adjacent stage pair. When the registry declares a trait for the handoff
// the trait's class applies (a lookup, never inference); otherwise the set
// rule applies: empty downstream is total omission, a non-empty strict
// remainder is partial capture.
func (t *Tracer) classifyHandoff(shape types.ShapeDeclaration, h types.Handoff, from, to types.ExtractionResult) types.HandoffLossResult {
	lost := types.Difference(from.Found, to.Found)
	res := types.HandoffLossResult{
		ShapeID: shape.ID,
		Handoff: h,
	}
	if len(lost) == 0 {
		return res
	}

	res.LossDetected = true
	res.AttributesLost = lost
	if class, ok := t.reg.HandoffTrait(h); ok {
		res.LossClass = class
	} else if len(to.Found) == 0 {
		res.LossClass = types.LossTotalOmission
	} else {
		res.LossClass = types.LossPartialCapture
	}
	res.BudgetStatus = t.reg.BudgetStatus(h, shape.Category, res.LossClass)
	return res
}

// survivalStatus derives the shape's survival record: success iff the
// target stage observed it present, otherwise the first handoff with a
// classified loss is the failure point.
func (t *Tracer) survivalStatus(shape types.ShapeDeclaration, extractions []types.ExtractionResult, losses []types.HandoffLossResult) types.SurvivalStatus {
	status := types.SurvivalStatus{TargetStage: shape.TargetStage}

	originIdx := types.StageIndex(shape.OriginStage)
	targetIdx := types.StageIndex(shape.TargetStage)
	status.OriginObserved = len(extractions[originIdx].Found)
	status.TargetObserved = len(extractions[targetIdx].Found)

	for i := len(extractions) - 1; i >= 0; i-- {
		if extractions[i].Present {
			status.LastSeenStage = extractions[i].Stage
			break
		}
	}

	if extractions[targetIdx].Present {
		status.SurvivedToTarget = true
		return status
	}

	for _, l := range losses {
		if l.LossClass != "" {
			status.FailurePoint = l.Handoff
			status.FailureClass = l.LossClass
			break
		}
	}
	return status
}

// computeRSR is found(target)/found(origin), clamped to [0,1].
//
// The denominator is the OBSERVED attribute count at the origin stage, not
// the declared required count. If the origin extractor under-reports, RSR
// can read 1.0 even though required attributes were missing from the start;
// SurvivalStatus carries OriginObserved so decision-record readers can
// audit the denominator. An origin count of zero yields RSR 0 by
// convention.
func computeRSR(s types.SurvivalStatus) float64 {
	if s.OriginObserved == 0 {
		return 0
	}
	return types.Clamp01(float64(s.TargetObserved) / float64(s.OriginObserved))
}

// SortedShapeIDs returns the trace map's keys in lexical order. Every
// serialization of trace results goes through this so records stay
// byte-stable across runs.
func SortedShapeIDs(traces map[string]*types.ShapeTraceResult) []string {
	ids := make([]string, 0, len(traces))
	for id := range traces {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
