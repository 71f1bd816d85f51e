package tracer

import (
	"context"
	"reflect"
	"testing"

	"go.uber.org/goleak"

	"shapetrace/internal/registry"
	"shapetrace/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// =============================================================================
// FIXTURES
// =============================================================================

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.Load(registry.File{
		Shapes: []types.ShapeDeclaration{
			{
				ID:          "FILTER_CAPABILITY",
				Category:    types.CategoryStateful,
				Criticality: types.TierInteractive,
				Required:    []string{"filter_attribute", "filter_values", "state_hook"},
				OriginStage: types.StageIntake,
				TargetStage: types.StageWire,
			},
			{
				ID:          "STATIC_DISPLAY_CAPABILITY",
				Category:    types.CategoryControl,
				Criticality: types.TierEnhancement,
				Required:    []string{"display_fields"},
				OriginStage: types.StageIntake,
				TargetStage: types.StagePixel,
			},
		},
		Budgets: []registry.BudgetRule{
			{Handoff: types.HandoffBlocksWire, Category: types.CategoryStateful, LossClass: types.LossTotalOmission, Status: types.BudgetFatal},
			{Handoff: types.HandoffScreensBlocks, Category: types.CategoryStateful, LossClass: types.LossPartialCapture, Status: types.BudgetExceeded},
			{Handoff: types.HandoffOutlineScreens, Category: types.CategoryStateful, LossClass: types.LossSummaryCollapse, Status: types.BudgetFatal},
		},
		Traits: []registry.HandoffTrait{
			{Handoff: types.HandoffOutlineScreens, Class: types.LossSummaryCollapse},
		},
	})
	if err != nil {
		t.Fatalf("registry load failed: %v", err)
	}
	return reg
}

// filterJSON carries all three filter attributes as direct keys plus the
// display field list.
const filterJSON = `{
	"filter_attribute": "status",
	"filter_values": ["all", "active", "done"],
	"state_hook": "useStatusFilter",
	"display_fields": ["title", "owner"]
}`

// displayOnlyJSON drops every filter attribute but keeps the display list.
const displayOnlyJSON = `{"display_fields": ["title", "owner"]}`

// displayOnlySource is wiring/presentation source with the display list and
// no state or control markers.
const displayOnlySource = `const displayFields = ["title", "owner"];
renderTable(rows, displayFields);
`

func fullOutputs() StageOutputs {
	return NewStageOutputs(map[types.Stage][]byte{
		types.StageIntake:  []byte(filterJSON),
		types.StageOutline: []byte(filterJSON),
		types.StageScreens: []byte(filterJSON),
		types.StageBlocks:  []byte(filterJSON),
		types.StageWire:    []byte(displayOnlySource),
		types.StagePixel:   []byte(displayOnlySource),
	})
}

// =============================================================================
// TRACE TESTS
// =============================================================================

func TestTraceAll_StatefulDroppedAtWiring(t *testing.T) {
	t.Parallel()

	// The filter capability is fully present through blocks and vanishes in
	// the wiring source: the blocks->wire handoff must classify the drop as
	// total omission by the set rule and mark the trace fatal.
	tr := New(testRegistry(t))
	traces, err := tr.TraceAll(context.Background(), fullOutputs())
	if err != nil {
		t.Fatalf("TraceAll failed: %v", err)
	}

	res := traces["FILTER_CAPABILITY"]
	if res == nil {
		t.Fatal("missing trace for FILTER_CAPABILITY")
	}

	loss := res.LossAt(types.HandoffBlocksWire)
	if loss == nil || !loss.LossDetected {
		t.Fatal("expected loss at blocks->wire")
	}
	if loss.LossClass != types.LossTotalOmission {
		t.Errorf("loss class = %s, want %s", loss.LossClass, types.LossTotalOmission)
	}
	if loss.BudgetStatus != types.BudgetFatal {
		t.Errorf("budget status = %s, want %s", loss.BudgetStatus, types.BudgetFatal)
	}
	if len(loss.AttributesLost) != 3 {
		t.Errorf("attributes lost = %v, want all three", loss.AttributesLost)
	}

	if res.Survival.SurvivedToTarget {
		t.Error("shape should not survive to wire")
	}
	if res.Survival.FailurePoint != types.HandoffBlocksWire {
		t.Errorf("failure point = %s", res.Survival.FailurePoint)
	}
	if res.Survival.FailureClass != types.LossTotalOmission {
		t.Errorf("failure class = %s", res.Survival.FailureClass)
	}
	if res.Survival.LastSeenStage != types.StageBlocks {
		t.Errorf("last seen = %s, want %s", res.Survival.LastSeenStage, types.StageBlocks)
	}
	if res.RSR != 0 {
		t.Errorf("rsr = %v, want 0", res.RSR)
	}
	if res.WorstBudgetStatus() != types.BudgetFatal {
		t.Errorf("worst budget = %s", res.WorstBudgetStatus())
	}
}

func TestTraceAll_ControlSurvives(t *testing.T) {
	t.Parallel()

	tr := New(testRegistry(t))
	traces, err := tr.TraceAll(context.Background(), fullOutputs())
	if err != nil {
		t.Fatalf("TraceAll failed: %v", err)
	}

	res := traces["STATIC_DISPLAY_CAPABILITY"]
	if res == nil {
		t.Fatal("missing trace for STATIC_DISPLAY_CAPABILITY")
	}
	if !res.Survival.SurvivedToTarget {
		t.Error("display capability should survive to pixel")
	}
	if res.RSR != 1.0 {
		t.Errorf("rsr = %v, want 1.0", res.RSR)
	}
	for _, l := range res.Losses {
		if l.LossDetected {
			t.Errorf("unexpected loss at %s: %v", l.Handoff, l.AttributesLost)
		}
	}
}

func TestTraceAll_PartialCapture(t *testing.T) {
	t.Parallel()

	// Two of three attributes survive screens->blocks: a non-empty strict
	// remainder at an untraited handoff is partial capture.
	partial := `{"filter_attribute": "status", "state_hook": "useStatusFilter", "display_fields": ["title"]}`
	outputs := NewStageOutputs(map[types.Stage][]byte{
		types.StageIntake:  []byte(filterJSON),
		types.StageOutline: []byte(filterJSON),
		types.StageScreens: []byte(filterJSON),
		types.StageBlocks:  []byte(partial),
		types.StageWire:    []byte(displayOnlySource),
		types.StagePixel:   []byte(displayOnlySource),
	})

	tr := New(testRegistry(t))
	traces, err := tr.TraceAll(context.Background(), outputs)
	if err != nil {
		t.Fatalf("TraceAll failed: %v", err)
	}

	loss := traces["FILTER_CAPABILITY"].LossAt(types.HandoffScreensBlocks)
	if loss == nil || loss.LossClass != types.LossPartialCapture {
		t.Fatalf("expected partial capture at screens->blocks, got %+v", loss)
	}
	if !reflect.DeepEqual(loss.AttributesLost, []string{"filter_values"}) {
		t.Errorf("attributes lost = %v", loss.AttributesLost)
	}
}

func TestTraceAll_TraitedHandoffClass(t *testing.T) {
	t.Parallel()

	// A drop at outline->screens classifies by the declared boundary trait,
	// not by the set rule.
	outputs := NewStageOutputs(map[types.Stage][]byte{
		types.StageIntake:  []byte(filterJSON),
		types.StageOutline: []byte(filterJSON),
		types.StageScreens: []byte(displayOnlyJSON),
		types.StageBlocks:  []byte(displayOnlyJSON),
		types.StageWire:    []byte(displayOnlySource),
		types.StagePixel:   []byte(displayOnlySource),
	})

	tr := New(testRegistry(t))
	traces, err := tr.TraceAll(context.Background(), outputs)
	if err != nil {
		t.Fatalf("TraceAll failed: %v", err)
	}

	loss := traces["FILTER_CAPABILITY"].LossAt(types.HandoffOutlineScreens)
	if loss == nil || !loss.LossDetected {
		t.Fatal("expected loss at outline->screens")
	}
	if loss.LossClass != types.LossSummaryCollapse {
		t.Errorf("loss class = %s, want %s", loss.LossClass, types.LossSummaryCollapse)
	}
	if loss.BudgetStatus != types.BudgetFatal {
		t.Errorf("budget status = %s", loss.BudgetStatus)
	}
	if traces["FILTER_CAPABILITY"].Survival.FailurePoint != types.HandoffOutlineScreens {
		t.Errorf("failure point = %s", traces["FILTER_CAPABILITY"].Survival.FailurePoint)
	}
}

func TestTraceAll_NeverObserved(t *testing.T) {
	t.Parallel()

	// Nothing observed anywhere: zero origin count yields RSR 0, not NaN,
	// and the shape did not survive.
	tr := New(testRegistry(t))
	traces, err := tr.TraceAll(context.Background(), NewStageOutputs(nil))
	if err != nil {
		t.Fatalf("TraceAll failed: %v", err)
	}

	res := traces["FILTER_CAPABILITY"]
	if res.Survival.SurvivedToTarget {
		t.Error("unobserved shape should not survive")
	}
	if res.Survival.OriginObserved != 0 || res.RSR != 0 {
		t.Errorf("origin=%d rsr=%v, want 0/0", res.Survival.OriginObserved, res.RSR)
	}
}

func TestTraceAll_Deterministic(t *testing.T) {
	t.Parallel()

	tr := New(testRegistry(t))
	a, err := tr.TraceAll(context.Background(), fullOutputs())
	if err != nil {
		t.Fatalf("TraceAll failed: %v", err)
	}
	b, err := tr.TraceAll(context.Background(), fullOutputs())
	if err != nil {
		t.Fatalf("TraceAll failed: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Error("identical inputs produced different traces")
	}
}

func TestTraceAll_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr := New(testRegistry(t))
	if _, err := tr.TraceAll(ctx, fullOutputs()); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestSortedShapeIDs(t *testing.T) {
	t.Parallel()

	traces := map[string]*types.ShapeTraceResult{
		"ZED": {ShapeID: "ZED"},
		"ACE": {ShapeID: "ACE"},
		"MID": {ShapeID: "MID"},
	}
	got := SortedShapeIDs(traces)
	want := []string{"ACE", "MID", "ZED"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SortedShapeIDs = %v, want %v", got, want)
	}
}
