// Package promotion decides whether a forked remediation track may replace
// the canonical result. The controller only reports eligibility over
// immutable track outcome snapshots; advancing track state and enforcing
// single-promotion mutual exclusion belong to the external orchestrator.
package promotion

import (
	"sort"

	"shapetrace/internal/types"
)

// Blocker is a typed reason a track cannot be promoted.
type Blocker string

const (
	BlockerNotCompleted      Blocker = "NOT_COMPLETED"
	BlockerFoundationalUnmet Blocker = "FOUNDATIONAL_UNMET"
	BlockerInteractiveUnmet  Blocker = "INTERACTIVE_UNMET"
	BlockerNotPromotable     Blocker = "NOT_PROMOTABLE"
	BlockerResourceConflict  Blocker = "RESOURCE_CONFLICT"
	BlockerDependencyFailure Blocker = "DEPENDENCY_FAILURE"
)

// TrackOutcome is the external track runner's report for one track: its
// current state plus the tier compliance of the track's own re-trace.
type TrackOutcome struct {
	Track            types.Track            `json:"track"`
	TierCompliance   []types.TierCompliance `json:"tier_compliance"`
	ResourceConflict bool                   `json:"resource_conflict,omitempty"`
	DependencyFailed bool                   `json:"dependency_failed,omitempty"`
}

// Eligibility is the controller's verdict for one track.
type Eligibility struct {
	RunID    string    `json:"run_id"`
	Eligible bool      `json:"eligible"`
	Blockers []Blocker `json:"blockers,omitempty"`
}

// Evaluate reports whether one track may be promoted: it must be COMPLETED
// and promotable, its own FOUNDATIONAL and INTERACTIVE tier compliance must
// both be met, and the runner must report no conflict or dependency
// failure. ENHANCEMENT compliance is not required for promotion.
func Evaluate(outcome TrackOutcome) Eligibility {
	el := Eligibility{RunID: outcome.Track.RunID}

	if outcome.Track.Status != types.TrackCompleted {
		el.Blockers = append(el.Blockers, BlockerNotCompleted)
	}
	if !outcome.Track.Promotable {
		el.Blockers = append(el.Blockers, BlockerNotPromotable)
	}
	if !tierMet(outcome.TierCompliance, types.TierFoundational) {
		el.Blockers = append(el.Blockers, BlockerFoundationalUnmet)
	}
	if !tierMet(outcome.TierCompliance, types.TierInteractive) {
		el.Blockers = append(el.Blockers, BlockerInteractiveUnmet)
	}
	if outcome.ResourceConflict {
		el.Blockers = append(el.Blockers, BlockerResourceConflict)
	}
	if outcome.DependencyFailed {
		el.Blockers = append(el.Blockers, BlockerDependencyFailure)
	}

	el.Eligible = len(el.Blockers) == 0
	return el
}

// EvaluateAllTracks reports eligibility for every outcome, sorted by run id
// so the report is deterministic. At most one eligible track may ultimately
// be promoted per run; that mutual exclusion is the orchestrator's
// invariant, not this controller's.
func EvaluateAllTracks(outcomes []TrackOutcome) []Eligibility {
	sorted := append([]TrackOutcome(nil), outcomes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Track.RunID < sorted[j].Track.RunID })

	out := make([]Eligibility, 0, len(sorted))
	for _, o := range sorted {
		out = append(out, Evaluate(o))
	}
	return out
}

// tierMet finds the tier's compliance entry; a missing entry means the
// track's re-trace never evaluated that tier, which cannot count as met.
func tierMet(compliance []types.TierCompliance, tier types.Criticality) bool {
	for _, tc := range compliance {
		if tc.Tier == tier {
			return tc.Met
		}
	}
	return false
}
