package registry

import "shapetrace/internal/types"

// Default returns the compiled-in registry used when no YAML file is given.
// It catalogues the standard capability shapes and a tolerance table that
// treats total omission of stateful capability as fatal while tolerating
// partial capture of display-only baselines.
func Default() *Registry {
	r, err := Load(DefaultFile())
	if err != nil {
		// The compiled-in definition is validated by tests; a failure here
		// is a programming error, not a runtime condition.
		panic(err)
	}
	return r
}

// DefaultFile returns the default registry definition. Exposed so callers
// can extend the standard catalogue before loading.
func DefaultFile() File {
	return File{
		Shapes: []types.ShapeDeclaration{
			{
				ID:          "DATA_BINDING_CAPABILITY",
				Category:    types.CategoryStateful,
				Criticality: types.TierFoundational,
				Required:    []string{"data_source", "bound_fields", "refresh_policy"},
				OriginStage: types.StageIntake,
				TargetStage: types.StagePixel,
				Hints: []types.ExtractionHint{
					{Stage: types.StageIntake, Attribute: "data_source", Kind: types.HintKeyPath, Path: "data.source"},
					{Stage: types.StageBlocks, Attribute: "bound_fields", Kind: types.HintFieldList},
					{Stage: types.StageWire, Attribute: "data_source", Kind: types.HintStateHook},
				},
			},
			{
				ID:          "FILTER_CAPABILITY",
				Category:    types.CategoryStateful,
				Criticality: types.TierInteractive,
				Required:    []string{"filter_attribute", "filter_values", "state_hook"},
				OriginStage: types.StageIntake,
				TargetStage: types.StageWire,
				Hints: []types.ExtractionHint{
					{Stage: types.StageBlocks, Attribute: "filter_values", Kind: types.HintStateArray},
					{Stage: types.StageBlocks, Attribute: "state_hook", Kind: types.HintStateHook},
					{Stage: types.StageWire, Attribute: "state_hook", Kind: types.HintStateHook},
					{Stage: types.StageWire, Attribute: "filter_attribute", Kind: types.HintControlTag},
				},
			},
			{
				ID:          "SORT_CAPABILITY",
				Category:    types.CategoryStateful,
				Criticality: types.TierInteractive,
				Required:    []string{"sort_attribute", "sort_handler"},
				OriginStage: types.StageIntake,
				TargetStage: types.StageWire,
				Hints: []types.ExtractionHint{
					{Stage: types.StageBlocks, Attribute: "sort_handler", Kind: types.HintHandlerKey},
					{Stage: types.StageWire, Attribute: "sort_handler", Kind: types.HintHandlerKey},
				},
			},
			{
				ID:          "STATIC_DISPLAY_CAPABILITY",
				Category:    types.CategoryControl,
				Criticality: types.TierEnhancement,
				Required:    []string{"display_fields"},
				OriginStage: types.StageIntake,
				TargetStage: types.StagePixel,
				Hints: []types.ExtractionHint{
					{Stage: types.StageBlocks, Attribute: "display_fields", Kind: types.HintFieldList},
					{Stage: types.StagePixel, Attribute: "display_fields", Kind: types.HintFieldList},
				},
			},
			{
				ID:          "THEME_STYLING",
				Category:    types.CategoryStateless,
				Criticality: types.TierEnhancement,
				Required:    []string{"color_scheme", "typography"},
				OriginStage: types.StageOutline,
				TargetStage: types.StagePixel,
			},
		},
		Budgets: defaultBudgets(),
		Traits: []HandoffTrait{
			// outline->screens summarizes the artifact outline; wire->pixel
			// excludes non-presentational dependencies. screens->blocks and
			// blocks->wire are full-fidelity boundaries and carry no trait,
			// so losses there classify by the set rule (L0/L1).
			{Handoff: types.HandoffOutlineScreens, Class: types.LossSummaryCollapse},
			{Handoff: types.HandoffWirePixel, Class: types.LossDependencySkip},
		},
	}
}

// defaultBudgets expands the canonical per-category tolerance rows across
// all five handoffs. Triples not listed default to EXCEEDED at lookup time.
func defaultBudgets() []BudgetRule {
	type row struct {
		cat    types.ShapeCategory
		class  types.LossClass
		status types.BudgetStatus
	}
	rows := []row{
		{types.CategoryStateful, types.LossTotalOmission, types.BudgetFatal},
		{types.CategoryStateful, types.LossPartialCapture, types.BudgetExceeded},
		{types.CategoryStateful, types.LossContextTruncation, types.BudgetExceeded},
		{types.CategoryStateful, types.LossDependencySkip, types.BudgetExceeded},
		{types.CategoryStateful, types.LossSummaryCollapse, types.BudgetFatal},

		{types.CategoryStateless, types.LossTotalOmission, types.BudgetExceeded},
		{types.CategoryStateless, types.LossPartialCapture, types.BudgetWithin},
		{types.CategoryStateless, types.LossSummaryCollapse, types.BudgetWithin},

		{types.CategoryControl, types.LossTotalOmission, types.BudgetExceeded},
		{types.CategoryControl, types.LossPartialCapture, types.BudgetWithin},
		{types.CategoryControl, types.LossDependencySkip, types.BudgetWithin},
		{types.CategoryControl, types.LossSummaryCollapse, types.BudgetWithin},
	}

	var out []BudgetRule
	for _, h := range types.Handoffs {
		for _, rw := range rows {
			out = append(out, BudgetRule{Handoff: h, Category: rw.cat, LossClass: rw.class, Status: rw.status})
		}
	}
	return out
}
