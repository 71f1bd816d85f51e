// Package gate evaluates trace results against the registry's budgets and
// emits the pass/warn/block verdict that gates downstream execution. The
// gate is a pure function of its trace inputs and a hard precondition: when
// BlockDownstream is set, no orchestrator may advance to the stages that
// consume a shape's final state.
package gate

import (
	"sort"

	"shapetrace/internal/logging"
	"shapetrace/internal/types"
)

// Execute derives the gate verdict. Any FOUNDATIONAL-tier shape with a
// FATAL budget status blocks the run outright; otherwise any EXCEEDED
// status (or a FATAL on a lower tier, which the laws handle separately)
// downgrades PASS to WARN.
func Execute(traces map[string]*types.ShapeTraceResult) types.GateVerdict {
	verdict := types.GateVerdict{Verdict: types.VerdictPass}

	for _, id := range sortedIDs(traces) {
		trace := traces[id]
		worst := trace.WorstBudgetStatus()
		switch worst {
		case types.BudgetFatal:
			if trace.Criticality == types.TierFoundational {
				verdict.Verdict = types.VerdictBlock
				verdict.BlockDownstream = true
				verdict.FatalViolations = append(verdict.FatalViolations, fatalEvidence(trace)...)
			} else if verdict.Verdict != types.VerdictBlock {
				verdict.Verdict = types.VerdictWarn
			}
		case types.BudgetExceeded:
			if verdict.Verdict == types.VerdictPass {
				verdict.Verdict = types.VerdictWarn
			}
		case types.BudgetWithin, types.BudgetStatus(""):
			// Tolerated or no loss recorded.
		}
	}

	logging.Gate("verdict=%s block_downstream=%v fatal=%d",
		verdict.Verdict, verdict.BlockDownstream, len(verdict.FatalViolations))
	return verdict
}

// fatalEvidence collects every FATAL handoff of one shape, in pipeline
// order.
func fatalEvidence(trace *types.ShapeTraceResult) []types.FatalViolation {
	var out []types.FatalViolation
	for _, loss := range trace.Losses {
		if loss.BudgetStatus != types.BudgetFatal {
			continue
		}
		out = append(out, types.FatalViolation{
			ShapeID:        trace.ShapeID,
			Handoff:        loss.Handoff,
			LossClass:      loss.LossClass,
			AttributesLost: loss.AttributesLost,
		})
	}
	return out
}

func sortedIDs(traces map[string]*types.ShapeTraceResult) []string {
	ids := make([]string, 0, len(traces))
	for id := range traces {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
