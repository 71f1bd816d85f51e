package enforcement

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"shapetrace/internal/logging"
	"shapetrace/internal/types"
)

// RSRMetrics is the computed survival-rate picture for a run.
type RSRMetrics struct {
	PerShape  []types.RSRCompliance  `json:"per_shape"`
	PerTier   []types.TierCompliance `json:"per_tier"`
	GlobalRSR float64                `json:"global_rsr"`
}

// ComputeMetrics evaluates every shape against its tier law and aggregates
// per tier. Output ordering is deterministic: shapes sorted by id, tiers in
// severity order.
func ComputeMetrics(traces map[string]*types.ShapeTraceResult) RSRMetrics {
	metrics := RSRMetrics{}

	ids := make([]string, 0, len(traces))
	for id := range traces {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	sum := 0.0
	for _, id := range ids {
		trace := traces[id]
		law := LawFor(trace.Criticality)

		var untolerated []types.LossClass
		for _, c := range trace.LossClassesSeen() {
			if !law.tolerates(c) {
				untolerated = append(untolerated, c)
			}
		}

		metrics.PerShape = append(metrics.PerShape, types.RSRCompliance{
			ShapeID:           id,
			Criticality:       trace.Criticality,
			RSR:               trace.RSR,
			MinRSR:            law.MinRSR,
			UntoleratedLosses: untolerated,
			Met:               trace.RSR >= law.MinRSR && len(untolerated) == 0,
		})
		sum += trace.RSR
	}
	if len(ids) > 0 {
		metrics.GlobalRSR = types.Clamp01(sum / float64(len(ids)))
	}

	for _, tier := range types.Criticalities {
		law := LawFor(tier)
		tc := types.TierCompliance{Tier: tier, MinRSR: law.MinRSR, Met: true}
		tierSum := 0.0
		for _, sc := range metrics.PerShape {
			if sc.Criticality != tier {
				continue
			}
			tc.MemberCount++
			tierSum += sc.RSR
			if !sc.Met {
				tc.Met = false
			}
		}
		if tc.MemberCount > 0 {
			tc.AggregateRSR = types.Clamp01(tierSum / float64(tc.MemberCount))
			if tc.AggregateRSR < law.MinRSR {
				tc.Met = false
			}
		}
		metrics.PerTier = append(metrics.PerTier, tc)
	}

	return metrics
}

// Engine applies the law table and issues the run's enforcement decision.
type Engine struct {
	now func() time.Time
}

// NewEngine returns an enforcement engine. The clock is injectable for
// tests; timestamps are metadata only and never decision inputs.
func NewEngine() *Engine {
	return &Engine{now: time.Now}
}

// WithClock overrides the engine's clock.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Decide computes the overall action from the metrics and the gate verdict.
//
// Once any FOUNDATIONAL shape records a FATAL budget status the action is
// irrevocably BLOCK_ALL - no later evidence can downgrade it. A violated
// INTERACTIVE tier forks exactly one remediation track (status CREATED),
// and only that tier may ever fork: FOUNDATIONAL blocks outright and
// ENHANCEMENT only warns.
func (e *Engine) Decide(runID string, traces map[string]*types.ShapeTraceResult, metrics RSRMetrics, verdict types.GateVerdict) types.EnforcementDecision {
	decision := types.EnforcementDecision{
		ShapeCompliance: metrics.PerShape,
		TierCompliance:  metrics.PerTier,
		OverallAction:   types.ActionWarnOnly,
		Authoritative:   true,
	}

	for _, tc := range metrics.PerTier {
		if tc.Met {
			continue
		}
		action := LawFor(tc.Tier).ViolationAction
		if action.Severity() > decision.OverallAction.Severity() {
			decision.OverallAction = action
		}
	}

	// A fatal foundational budget violation dominates the RSR arithmetic.
	if foundationalFatal(traces) || verdict.BlockDownstream {
		decision.OverallAction = types.ActionBlockAll
	}

	switch decision.OverallAction {
	case types.ActionBlockAll:
		decision.CanonicalAllowed = false
	case types.ActionForkTTE:
		decision.CanonicalAllowed = true
		decision.Authoritative = false
		decision.Fork = e.fork(runID, metrics)
		decision.Tracks = []types.Track{{
			RunID:      decision.Fork.TrackID,
			OriginTier: types.TierInteractive,
			Status:     types.TrackCreated,
			Promotable: true,
			CreatedAt:  e.now().UTC(),
		}}
	case types.ActionWarnOnly:
		decision.CanonicalAllowed = true
	}

	logging.Enforcement("run=%s action=%s canonical_allowed=%v",
		runID, decision.OverallAction, decision.CanonicalAllowed)
	return decision
}

// foundationalFatal scans traces for a FOUNDATIONAL shape with any FATAL
// budget status.
func foundationalFatal(traces map[string]*types.ShapeTraceResult) bool {
	for _, trace := range traces {
		if trace.Criticality == types.TierFoundational && trace.WorstBudgetStatus() == types.BudgetFatal {
			return true
		}
	}
	return false
}

// fork records why the remediation track was spawned. The track id is fresh
// per fork; the forked track shares no mutable state with the canonical
// run.
func (e *Engine) fork(runID string, metrics RSRMetrics) *types.ForkDecision {
	var violated []string
	for _, sc := range metrics.PerShape {
		if sc.Criticality == types.TierInteractive && !sc.Met {
			violated = append(violated, sc.ShapeID)
		}
	}
	return &types.ForkDecision{
		TrackID:        uuid.NewString(),
		OriginTier:     types.TierInteractive,
		ViolatedShapes: violated,
		Reason:         fmt.Sprintf("interactive tier violated in run %s; canonical result marked non-authoritative", runID),
	}
}
