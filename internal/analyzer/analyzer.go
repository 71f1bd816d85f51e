// Package analyzer cross-checks control (display-only) shapes against
// stateful shapes at one handoff to prove or disprove selective loss, and
// produces counterfactual remediation hypotheses plus a root-cause record.
// Everything here is deterministic table lookup and set arithmetic over
// immutable trace snapshots: documentation-grade reasoning, never a search
// or repair action.
package analyzer

import (
	"fmt"
	"sort"

	"shapetrace/internal/types"
)

// DefaultStudyHandoff is the boundary analyzed when the caller does not
// choose one: the block-to-wiring transition, where stateful capability is
// most often dropped.
const DefaultStudyHandoff = types.HandoffBlocksWire

// ComparativeResult is the outcome of the control-vs-stateful cross-check
// at one handoff.
type ComparativeResult struct {
	Handoff         types.Handoff `json:"handoff"`
	ControlSurvived []string      `json:"control_survived"`
	StatefulLost    []string      `json:"stateful_lost"`
	LossIsSelective bool          `json:"loss_is_selective"`
	Evidence        []string      `json:"evidence,omitempty"`
}

// RootCauseKind names the classes of root-cause record.
type RootCauseKind string

const (
	RootCauseSelectiveDestruction RootCauseKind = "SELECTIVE_DESTRUCTION"
	RootCauseTotalOmission        RootCauseKind = "TOTAL_OMISSION"
	RootCausePartialCapture       RootCauseKind = "PARTIAL_CAPTURE"
	RootCauseContextTruncation    RootCauseKind = "CONTEXT_TRUNCATION"
	RootCauseDependencySkip       RootCauseKind = "DEPENDENCY_SKIP"
	RootCauseSummaryCollapse      RootCauseKind = "SUMMARY_COLLAPSE"
	RootCauseUnknown              RootCauseKind = "UNKNOWN"
)

// RootCause is the analyzer's explanation record for the run.
type RootCause struct {
	Kind      RootCauseKind `json:"kind"`
	Handoff   types.Handoff `json:"handoff,omitempty"`
	Survivors []string      `json:"survivors,omitempty"`
	Victims   []string      `json:"victims,omitempty"`
	ShapeID   string        `json:"shape_id,omitempty"`
	Detail    string        `json:"detail"`
}

// Counterfactual is a fixed hypothesis of what upstream change would have
// preserved an unsurvived shape.
type Counterfactual struct {
	ShapeID          string          `json:"shape_id"`
	FailureClass     types.LossClass `json:"failure_class"`
	Hypothesis       string          `json:"hypothesis"`
	HypotheticalPath string          `json:"hypothetical_path"`
}

// AnalyzeComparative partitions shapes by category at the studied handoff.
// A CONTROL shape survives iff no loss was detected there; a STATEFUL shape
// is lost iff loss was detected there. Selectivity requires at least one of
// each.
func AnalyzeComparative(traces map[string]*types.ShapeTraceResult, handoff types.Handoff) ComparativeResult {
	res := ComparativeResult{Handoff: handoff}

	for _, id := range sortedIDs(traces) {
		trace := traces[id]
		loss := trace.LossAt(handoff)
		lossDetected := loss != nil && loss.LossDetected
		switch trace.Category {
		case types.CategoryControl:
			if !lossDetected {
				res.ControlSurvived = append(res.ControlSurvived, id)
			}
		case types.CategoryStateful:
			if lossDetected {
				res.StatefulLost = append(res.StatefulLost, id)
				res.Evidence = append(res.Evidence, fmt.Sprintf(
					"%s lost %v at %s (%s)", id, loss.AttributesLost, handoff, loss.LossClass))
			}
		case types.CategoryStateless:
			// Stateless shapes are neither baseline nor victim in the proof.
		}
	}

	res.LossIsSelective = len(res.ControlSurvived) > 0 && len(res.StatefulLost) > 0
	if res.LossIsSelective {
		res.Evidence = append(res.Evidence, fmt.Sprintf(
			"control baseline %v crossed %s intact while stateful %v did not",
			res.ControlSurvived, handoff, res.StatefulLost))
	}
	return res
}

// counterfactualTable maps a recorded failure class to its fixed remediation
// hypothesis.
var counterfactualTable = map[types.LossClass]struct {
	hypothesis string
	path       string
}{
	types.LossTotalOmission: {
		hypothesis: "Carrying the shape's attribute block verbatim into the downstream stage prompt would have preserved it; the stage dropped the block wholesale.",
		path:       "upstream stage emits attribute block -> downstream stage receives block unchanged -> attributes observable at target",
	},
	types.LossPartialCapture: {
		hypothesis: "Enumerating every required attribute explicitly, rather than summarizing the set, would have preserved the members that were dropped.",
		path:       "upstream stage lists each attribute -> downstream stage copies the full list -> no strict-subset remainder",
	},
	types.LossContextTruncation: {
		hypothesis: "Placing the shape's attributes before the truncation horizon of the declared boundary would have kept them inside the carried context.",
		path:       "attributes ordered ahead of truncation point -> boundary truncates later content only -> attributes survive the handoff",
	},
	types.LossDependencySkip: {
		hypothesis: "Declaring the shape's supporting dependency as required at the boundary would have prevented its exclusion.",
		path:       "dependency marked required -> boundary includes dependency -> dependent attributes remain observable",
	},
	types.LossSummaryCollapse: {
		hypothesis: "Exempting the shape's attribute block from the declared summarization boundary would have kept the attributes distinct instead of collapsed.",
		path:       "attribute block flagged as non-summarizable -> summarizer passes block through -> attributes survive the handoff",
	},
}

// GenerateCounterfactual returns the fixed hypothesis for an unsurvived
// shape, keyed by its recorded failure class. Returns ok=false when the
// shape survived or recorded no classified failure.
func GenerateCounterfactual(trace *types.ShapeTraceResult) (Counterfactual, bool) {
	if trace.Survival.SurvivedToTarget || trace.Survival.FailureClass == "" {
		return Counterfactual{}, false
	}
	entry, ok := counterfactualTable[trace.Survival.FailureClass]
	if !ok {
		return Counterfactual{}, false
	}
	return Counterfactual{
		ShapeID:          trace.ShapeID,
		FailureClass:     trace.Survival.FailureClass,
		Hypothesis:       entry.hypothesis,
		HypotheticalPath: entry.path,
	}, true
}

// GenerateCounterfactuals returns hypotheses for every unsurvived shape,
// sorted by shape id for record stability.
func GenerateCounterfactuals(traces map[string]*types.ShapeTraceResult) []Counterfactual {
	var out []Counterfactual
	for _, id := range sortedIDs(traces) {
		if cf, ok := GenerateCounterfactual(traces[id]); ok {
			out = append(out, cf)
		}
	}
	return out
}

// DetermineRootCause prefers a proven selective-destruction record; failing
// that, the first shape (in id order) with a classified failure names the
// cause; failing that the cause is unknown.
func DetermineRootCause(traces map[string]*types.ShapeTraceResult, comparative ComparativeResult) RootCause {
	if comparative.LossIsSelective {
		return RootCause{
			Kind:      RootCauseSelectiveDestruction,
			Handoff:   comparative.Handoff,
			Survivors: comparative.ControlSurvived,
			Victims:   comparative.StatefulLost,
			Detail: fmt.Sprintf(
				"loss at %s is selective: display-only baseline survived while stateful capability was destroyed",
				comparative.Handoff),
		}
	}

	for _, id := range sortedIDs(traces) {
		trace := traces[id]
		if trace.Survival.FailureClass == "" {
			continue
		}
		return RootCause{
			Kind:    rootCauseForClass(trace.Survival.FailureClass),
			Handoff: trace.Survival.FailurePoint,
			ShapeID: id,
			Detail: fmt.Sprintf("%s first failed at %s with %s",
				id, trace.Survival.FailurePoint, trace.Survival.FailureClass),
		}
	}

	return RootCause{Kind: RootCauseUnknown, Detail: "no classified failure recorded in any trace"}
}

func rootCauseForClass(c types.LossClass) RootCauseKind {
	switch c {
	case types.LossTotalOmission:
		return RootCauseTotalOmission
	case types.LossPartialCapture:
		return RootCausePartialCapture
	case types.LossContextTruncation:
		return RootCauseContextTruncation
	case types.LossDependencySkip:
		return RootCauseDependencySkip
	case types.LossSummaryCollapse:
		return RootCauseSummaryCollapse
	default:
		return RootCauseUnknown
	}
}

func sortedIDs(traces map[string]*types.ShapeTraceResult) []string {
	ids := make([]string, 0, len(traces))
	for id := range traces {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
