package gate

import (
	"testing"

	"shapetrace/internal/types"
)

func trace(id string, tier types.Criticality, status types.BudgetStatus) *types.ShapeTraceResult {
	t := &types.ShapeTraceResult{
		ShapeID:     id,
		Category:    types.CategoryStateful,
		Criticality: tier,
	}
	for i := range types.Handoffs {
		loss := types.HandoffLossResult{ShapeID: id, Handoff: types.HandoffFor(i)}
		if i == 3 && status != "" {
			loss.LossDetected = true
			loss.AttributesLost = []string{"attr"}
			loss.LossClass = types.LossTotalOmission
			loss.BudgetStatus = status
		}
		t.Losses = append(t.Losses, loss)
	}
	return t
}

func TestExecute_CleanRunPasses(t *testing.T) {
	t.Parallel()

	verdict := Execute(map[string]*types.ShapeTraceResult{
		"A": trace("A", types.TierFoundational, ""),
		"B": trace("B", types.TierEnhancement, ""),
	})
	if verdict.Verdict != types.VerdictPass || verdict.BlockDownstream {
		t.Errorf("verdict = %+v, want clean pass", verdict)
	}
}

func TestExecute_FoundationalFatalBlocks(t *testing.T) {
	t.Parallel()

	verdict := Execute(map[string]*types.ShapeTraceResult{
		"CORE":  trace("CORE", types.TierFoundational, types.BudgetFatal),
		"OTHER": trace("OTHER", types.TierEnhancement, ""),
	})
	if verdict.Verdict != types.VerdictBlock {
		t.Fatalf("verdict = %s, want %s", verdict.Verdict, types.VerdictBlock)
	}
	if !verdict.BlockDownstream {
		t.Error("foundational fatal must block downstream stages")
	}
	if len(verdict.FatalViolations) != 1 {
		t.Fatalf("fatal violations = %d, want 1", len(verdict.FatalViolations))
	}
	v := verdict.FatalViolations[0]
	if v.ShapeID != "CORE" || v.Handoff != types.HandoffBlocksWire || v.LossClass != types.LossTotalOmission {
		t.Errorf("violation = %+v", v)
	}
}

func TestExecute_NonFoundationalFatalWarns(t *testing.T) {
	t.Parallel()

	// A fatal budget on a lower tier warns at the gate; the tier laws are
	// where it escalates.
	verdict := Execute(map[string]*types.ShapeTraceResult{
		"FILTER": trace("FILTER", types.TierInteractive, types.BudgetFatal),
	})
	if verdict.Verdict != types.VerdictWarn {
		t.Errorf("verdict = %s, want %s", verdict.Verdict, types.VerdictWarn)
	}
	if verdict.BlockDownstream {
		t.Error("non-foundational fatal must not block downstream")
	}
	if len(verdict.FatalViolations) != 0 {
		t.Errorf("fatal violations = %+v, want none", verdict.FatalViolations)
	}
}

func TestExecute_ExceededWarns(t *testing.T) {
	t.Parallel()

	verdict := Execute(map[string]*types.ShapeTraceResult{
		"A": trace("A", types.TierEnhancement, types.BudgetExceeded),
	})
	if verdict.Verdict != types.VerdictWarn {
		t.Errorf("verdict = %s, want %s", verdict.Verdict, types.VerdictWarn)
	}
}

func TestExecute_WithinStaysPass(t *testing.T) {
	t.Parallel()

	verdict := Execute(map[string]*types.ShapeTraceResult{
		"A": trace("A", types.TierEnhancement, types.BudgetWithin),
	})
	if verdict.Verdict != types.VerdictPass {
		t.Errorf("verdict = %s, want %s", verdict.Verdict, types.VerdictPass)
	}
}

func TestExecute_BlockNotDowngraded(t *testing.T) {
	t.Parallel()

	// A later shape's lesser status must not soften an earlier block.
	verdict := Execute(map[string]*types.ShapeTraceResult{
		"AAA_CORE": trace("AAA_CORE", types.TierFoundational, types.BudgetFatal),
		"ZZZ_WARN": trace("ZZZ_WARN", types.TierInteractive, types.BudgetExceeded),
	})
	if verdict.Verdict != types.VerdictBlock || !verdict.BlockDownstream {
		t.Errorf("verdict = %+v, want block preserved", verdict)
	}
}
