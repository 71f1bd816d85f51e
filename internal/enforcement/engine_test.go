package enforcement

import (
	"testing"
	"time"

	"shapetrace/internal/types"
)

// =============================================================================
// FIXTURES
// =============================================================================

func trace(id string, tier types.Criticality, rsr float64, losses ...types.HandoffLossResult) *types.ShapeTraceResult {
	t := &types.ShapeTraceResult{
		ShapeID:     id,
		Category:    types.CategoryStateful,
		Criticality: tier,
		RSR:         rsr,
		Losses:      losses,
	}
	t.Survival.SurvivedToTarget = rsr >= 1.0
	return t
}

func loss(class types.LossClass, status types.BudgetStatus) types.HandoffLossResult {
	return types.HandoffLossResult{
		Handoff:        types.HandoffBlocksWire,
		LossDetected:   true,
		AttributesLost: []string{"attr"},
		LossClass:      class,
		BudgetStatus:   status,
	}
}

func fixedClock() func() time.Time {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return at }
}

// =============================================================================
// LAW TABLE TESTS
// =============================================================================

func TestLawFor_Table(t *testing.T) {
	t.Parallel()

	cases := []struct {
		tier   types.Criticality
		minRSR float64
		action types.OverallAction
	}{
		{types.TierFoundational, 0.95, types.ActionBlockAll},
		{types.TierInteractive, 0.80, types.ActionForkTTE},
		{types.TierEnhancement, 0.50, types.ActionWarnOnly},
	}
	for _, tc := range cases {
		law := LawFor(tc.tier)
		if law.MinRSR != tc.minRSR || law.ViolationAction != tc.action {
			t.Errorf("law for %s = %+v", tc.tier, law)
		}
	}

	if LawFor(types.TierFoundational).tolerates(types.LossPartialCapture) {
		t.Error("foundational tier tolerates no loss class")
	}
	if !LawFor(types.TierInteractive).tolerates(types.LossPartialCapture) {
		t.Error("interactive tier tolerates partial capture")
	}
	if !LawFor(types.TierEnhancement).tolerates(types.LossSummaryCollapse) {
		t.Error("enhancement tier tolerates summary collapse")
	}
	if LawFor(types.TierEnhancement).tolerates(types.LossTotalOmission) {
		t.Error("no tier tolerates total omission")
	}
}

// =============================================================================
// METRICS TESTS
// =============================================================================

func TestComputeMetrics_PerShapeAndTier(t *testing.T) {
	t.Parallel()

	traces := map[string]*types.ShapeTraceResult{
		"CORE":   trace("CORE", types.TierFoundational, 1.0),
		"FILTER": trace("FILTER", types.TierInteractive, 0.0, loss(types.LossTotalOmission, types.BudgetFatal)),
		"THEME":  trace("THEME", types.TierEnhancement, 0.5, loss(types.LossPartialCapture, types.BudgetWithin)),
	}

	m := ComputeMetrics(traces)

	if len(m.PerShape) != 3 {
		t.Fatalf("per-shape entries = %d", len(m.PerShape))
	}
	// Sorted by id: CORE, FILTER, THEME.
	if m.PerShape[0].ShapeID != "CORE" || !m.PerShape[0].Met {
		t.Errorf("CORE compliance = %+v", m.PerShape[0])
	}
	if m.PerShape[1].ShapeID != "FILTER" || m.PerShape[1].Met {
		t.Errorf("FILTER compliance = %+v", m.PerShape[1])
	}
	if len(m.PerShape[1].UntoleratedLosses) != 1 {
		t.Errorf("FILTER untolerated = %v", m.PerShape[1].UntoleratedLosses)
	}
	// THEME: RSR 0.5 meets the 0.50 floor and partial capture is tolerated.
	if !m.PerShape[2].Met {
		t.Errorf("THEME compliance = %+v", m.PerShape[2])
	}

	if got := m.GlobalRSR; got != 0.5 {
		t.Errorf("global rsr = %v, want 0.5", got)
	}

	tierMet := map[types.Criticality]bool{}
	for _, tc := range m.PerTier {
		tierMet[tc.Tier] = tc.Met
	}
	if !tierMet[types.TierFoundational] {
		t.Error("foundational tier should be met")
	}
	if tierMet[types.TierInteractive] {
		t.Error("interactive tier should be violated")
	}
	if !tierMet[types.TierEnhancement] {
		t.Error("enhancement tier should be met")
	}
}

func TestComputeMetrics_UntoleratedLossFailsDespiteRSR(t *testing.T) {
	t.Parallel()

	// RSR above the floor does not excuse an untolerated loss class.
	traces := map[string]*types.ShapeTraceResult{
		"FILTER": trace("FILTER", types.TierInteractive, 0.9, loss(types.LossSummaryCollapse, types.BudgetExceeded)),
	}
	m := ComputeMetrics(traces)
	if m.PerShape[0].Met {
		t.Error("summary collapse is untolerated for the interactive tier")
	}
}

func TestComputeMetrics_EmptyTier(t *testing.T) {
	t.Parallel()

	m := ComputeMetrics(map[string]*types.ShapeTraceResult{
		"CORE": trace("CORE", types.TierFoundational, 1.0),
	})
	for _, tc := range m.PerTier {
		if tc.MemberCount == 0 && !tc.Met {
			t.Errorf("memberless tier %s should be vacuously met", tc.Tier)
		}
	}
}

// =============================================================================
// DECISION TESTS
// =============================================================================

func TestDecide_CleanRunWarnsOnly(t *testing.T) {
	t.Parallel()

	traces := map[string]*types.ShapeTraceResult{
		"CORE": trace("CORE", types.TierFoundational, 1.0),
	}
	m := ComputeMetrics(traces)

	d := NewEngine().WithClock(fixedClock()).Decide("run-1", traces, m, types.GateVerdict{Verdict: types.VerdictPass})
	if d.OverallAction != types.ActionWarnOnly {
		t.Errorf("action = %s, want %s", d.OverallAction, types.ActionWarnOnly)
	}
	if !d.CanonicalAllowed || !d.Authoritative {
		t.Errorf("clean run decision = %+v", d)
	}
	if d.Fork != nil || len(d.Tracks) != 0 {
		t.Error("clean run must not fork")
	}
}

func TestDecide_FoundationalFatalBlocksAll(t *testing.T) {
	t.Parallel()

	traces := map[string]*types.ShapeTraceResult{
		"CORE": trace("CORE", types.TierFoundational, 1.0, loss(types.LossTotalOmission, types.BudgetFatal)),
	}
	m := ComputeMetrics(traces)

	d := NewEngine().WithClock(fixedClock()).Decide("run-1", traces, m, types.GateVerdict{})
	if d.OverallAction != types.ActionBlockAll {
		t.Errorf("action = %s, want %s", d.OverallAction, types.ActionBlockAll)
	}
	if d.CanonicalAllowed {
		t.Error("blocked run must not allow the canonical result")
	}
	if d.Fork != nil {
		t.Error("blocked run must not fork")
	}
}

func TestDecide_BlockDominatesFork(t *testing.T) {
	t.Parallel()

	// A foundational fatal cannot be downgraded by a simultaneous
	// interactive violation that would otherwise fork.
	traces := map[string]*types.ShapeTraceResult{
		"CORE":   trace("CORE", types.TierFoundational, 0.0, loss(types.LossTotalOmission, types.BudgetFatal)),
		"FILTER": trace("FILTER", types.TierInteractive, 0.0, loss(types.LossTotalOmission, types.BudgetFatal)),
	}
	m := ComputeMetrics(traces)

	d := NewEngine().WithClock(fixedClock()).Decide("run-1", traces, m, types.GateVerdict{})
	if d.OverallAction != types.ActionBlockAll {
		t.Errorf("action = %s, want %s", d.OverallAction, types.ActionBlockAll)
	}
}

func TestDecide_InteractiveViolationForks(t *testing.T) {
	t.Parallel()

	traces := map[string]*types.ShapeTraceResult{
		"FILTER": trace("FILTER", types.TierInteractive, 0.3, loss(types.LossTotalOmission, types.BudgetExceeded)),
	}
	m := ComputeMetrics(traces)

	d := NewEngine().WithClock(fixedClock()).Decide("run-1", traces, m, types.GateVerdict{Verdict: types.VerdictWarn})
	if d.OverallAction != types.ActionForkTTE {
		t.Fatalf("action = %s, want %s", d.OverallAction, types.ActionForkTTE)
	}
	if !d.CanonicalAllowed {
		t.Error("forked run keeps the canonical result")
	}
	if d.Authoritative {
		t.Error("forked run's canonical result is non-authoritative")
	}

	if d.Fork == nil {
		t.Fatal("missing fork decision")
	}
	if d.Fork.TrackID == "" || d.Fork.OriginTier != types.TierInteractive {
		t.Errorf("fork = %+v", d.Fork)
	}
	if len(d.Fork.ViolatedShapes) != 1 || d.Fork.ViolatedShapes[0] != "FILTER" {
		t.Errorf("violated shapes = %v", d.Fork.ViolatedShapes)
	}

	if len(d.Tracks) != 1 {
		t.Fatalf("tracks = %d, want exactly one", len(d.Tracks))
	}
	track := d.Tracks[0]
	if track.Status != types.TrackCreated || !track.Promotable {
		t.Errorf("track = %+v", track)
	}
	if track.RunID != d.Fork.TrackID {
		t.Error("track id must match the fork decision")
	}
	if !track.CreatedAt.Equal(fixedClock()()) {
		t.Errorf("track created at %v", track.CreatedAt)
	}
}

func TestDecide_EnhancementViolationWarns(t *testing.T) {
	t.Parallel()

	traces := map[string]*types.ShapeTraceResult{
		"THEME": trace("THEME", types.TierEnhancement, 0.1, loss(types.LossTotalOmission, types.BudgetExceeded)),
	}
	m := ComputeMetrics(traces)

	d := NewEngine().WithClock(fixedClock()).Decide("run-1", traces, m, types.GateVerdict{Verdict: types.VerdictWarn})
	if d.OverallAction != types.ActionWarnOnly {
		t.Errorf("action = %s, want %s", d.OverallAction, types.ActionWarnOnly)
	}
	if !d.CanonicalAllowed || !d.Authoritative {
		t.Errorf("warn-only decision = %+v", d)
	}
	if d.Fork != nil {
		t.Error("enhancement violations never fork")
	}
}

func TestDecide_GateBlockForcesBlockAll(t *testing.T) {
	t.Parallel()

	// The gate's downstream block is binding even when the metrics alone
	// would not escalate.
	traces := map[string]*types.ShapeTraceResult{
		"OK": trace("OK", types.TierEnhancement, 1.0),
	}
	m := ComputeMetrics(traces)

	d := NewEngine().WithClock(fixedClock()).Decide("run-1", traces, m, types.GateVerdict{Verdict: types.VerdictBlock, BlockDownstream: true})
	if d.OverallAction != types.ActionBlockAll || d.CanonicalAllowed {
		t.Errorf("decision = %+v, want block", d)
	}
}
