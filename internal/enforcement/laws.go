// Package enforcement applies the tiered survival-rate laws to trace
// results and produces the run's overall action: block everything, fork a
// remediation track, or warn. The law table is fixed; evaluation is a pure
// function of the trace snapshot, so identical inputs always yield the
// identical decision.
package enforcement

import "shapetrace/internal/types"

// Law is the survival-rate policy for one criticality tier.
type Law struct {
	Tier            types.Criticality
	MinRSR          float64
	ToleratedLosses []types.LossClass
	ViolationAction types.OverallAction
}

// laws is the fixed policy table, one law per tier. Tier order matches
// types.Criticalities (descending severity).
var laws = map[types.Criticality]Law{
	types.TierFoundational: {
		Tier:            types.TierFoundational,
		MinRSR:          0.95,
		ToleratedLosses: nil, // Foundational shapes tolerate no classified loss
		ViolationAction: types.ActionBlockAll,
	},
	types.TierInteractive: {
		Tier:            types.TierInteractive,
		MinRSR:          0.80,
		ToleratedLosses: []types.LossClass{types.LossPartialCapture},
		ViolationAction: types.ActionForkTTE,
	},
	types.TierEnhancement: {
		Tier:            types.TierEnhancement,
		MinRSR:          0.50,
		ToleratedLosses: []types.LossClass{types.LossPartialCapture, types.LossSummaryCollapse},
		ViolationAction: types.ActionWarnOnly,
	},
}

// LawFor returns the fixed law for a tier.
func LawFor(tier types.Criticality) Law {
	return laws[tier]
}

func (l Law) tolerates(c types.LossClass) bool {
	for _, t := range l.ToleratedLosses {
		if t == c {
			return true
		}
	}
	return false
}
