// Package types defines the core data model for the Requirement Integrity
// Control Plane: shape declarations, per-stage extraction evidence, handoff
// loss records, survival metrics, gate verdicts, enforcement decisions, and
// remediation tracks.
//
// Everything produced during a trace run is an immutable snapshot: components
// downstream of the tracer consume values created once and never mutated.
// All enumerations are closed string types; consumption sites switch
// exhaustively so a new member forces review of every switch.
package types

import (
	"fmt"
	"time"
)

// =============================================================================
// PIPELINE STAGES
// =============================================================================

// Stage identifies one of the six fixed pipeline stages.
type Stage string

const (
	StageIntake  Stage = "intake"  // Raw requirement capture
	StageOutline Stage = "outline" // Structured outline of the artifact
	StageScreens Stage = "screens" // Screen/section decomposition
	StageBlocks  Stage = "blocks"  // Block-level component tree
	StageWire    Stage = "wire"    // Generated wiring source
	StagePixel   Stage = "pixel"   // Generated presentation source
)

// Stages is the fixed total order of the pipeline. Index in this slice is
// the only stage ordering the control plane recognizes.
var Stages = [6]Stage{StageIntake, StageOutline, StageScreens, StageBlocks, StageWire, StagePixel}

// StageIndex returns the position of s in the pipeline order, or -1 if s is
// not a known stage.
func StageIndex(s Stage) int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

// IsTextStage reports whether the stage's output is source text rather than
// a structured value tree.
func IsTextStage(s Stage) bool {
	return s == StageWire || s == StagePixel
}

// Handoff identifies the transition boundary between two adjacent stages.
type Handoff string

const (
	HandoffIntakeOutline  Handoff = "intake->outline"
	HandoffOutlineScreens Handoff = "outline->screens"
	HandoffScreensBlocks  Handoff = "screens->blocks"
	HandoffBlocksWire     Handoff = "blocks->wire"
	HandoffWirePixel      Handoff = "wire->pixel"
)

// Handoffs lists the five adjacent-pair boundaries in pipeline order.
var Handoffs = [5]Handoff{
	HandoffIntakeOutline,
	HandoffOutlineScreens,
	HandoffScreensBlocks,
	HandoffBlocksWire,
	HandoffWirePixel,
}

// HandoffFor returns the handoff leaving stage i (0..4).
func HandoffFor(i int) Handoff {
	return Handoffs[i]
}

// HandoffStages returns the (from, to) stages of a handoff, or ok=false for
// an unknown handoff name.
func HandoffStages(h Handoff) (from, to Stage, ok bool) {
	for i, known := range Handoffs {
		if known == h {
			return Stages[i], Stages[i+1], true
		}
	}
	return "", "", false
}

// =============================================================================
// SHAPE DECLARATION
// =============================================================================

// ShapeCategory partitions shapes for comparative analysis.
type ShapeCategory string

const (
	CategoryStateful  ShapeCategory = "STATEFUL"  // Carries runtime state that must survive
	CategoryStateless ShapeCategory = "STATELESS" // Declarative, no runtime state
	CategoryControl   ShapeCategory = "CONTROL"   // Display-only baseline for selective-loss proof
)

// Criticality is the enforcement tier of a shape.
type Criticality string

const (
	TierFoundational Criticality = "FOUNDATIONAL" // Loss blocks the run outright
	TierInteractive  Criticality = "INTERACTIVE"  // Loss forks a remediation track
	TierEnhancement  Criticality = "ENHANCEMENT"  // Loss is advisory only
)

// Criticalities lists the tiers in descending enforcement severity.
var Criticalities = [3]Criticality{TierFoundational, TierInteractive, TierEnhancement}

// HintKind tells an extractor which structural signal a hint describes.
type HintKind string

const (
	HintKeyPath    HintKind = "key_path"    // Dotted path into the stage value tree
	HintStateArray HintKind = "state_array" // Short string-literal array from state vocabulary
	HintHandlerKey HintKind = "handler_key" // Handler-style key (onX, *_handler, handleX)
	HintStateHook  HintKind = "state_hook"  // State-declaration call or hook-shaped object
	HintControlTag HintKind = "control_tag" // Recognized UI-control tag name
	HintFieldList  HintKind = "field_list"  // Plain list of field/display names
)

// ExtractionHint narrows where one attribute should be observable at one
// stage. Hints are advisory: direct name equality always applies too.
type ExtractionHint struct {
	Stage     Stage    `json:"stage" yaml:"stage"`
	Attribute string   `json:"attribute" yaml:"attribute"`
	Kind      HintKind `json:"kind" yaml:"kind"`
	Path      string   `json:"path,omitempty" yaml:"path,omitempty"`
}

// ShapeDeclaration is one trackable requirement. Declarations are loaded
// once into the registry and are read-only thereafter.
type ShapeDeclaration struct {
	ID          string           `json:"id" yaml:"id"`
	Category    ShapeCategory    `json:"category" yaml:"category"`
	Criticality Criticality      `json:"criticality" yaml:"criticality"`
	Required    []string         `json:"required_attributes" yaml:"required_attributes"`
	Hints       []ExtractionHint `json:"hints,omitempty" yaml:"hints,omitempty"`
	OriginStage Stage            `json:"origin_stage" yaml:"origin_stage"`
	TargetStage Stage            `json:"target_stage" yaml:"target_stage"`
}

// HintsFor returns the declaration's hints that apply at the given stage.
func (d *ShapeDeclaration) HintsFor(stage Stage) []ExtractionHint {
	var out []ExtractionHint
	for _, h := range d.Hints {
		if h.Stage == stage {
			out = append(out, h)
		}
	}
	return out
}

// =============================================================================
// EXTRACTION EVIDENCE
// =============================================================================

// ExtractionResult records the observed presence of one shape at one stage.
// Absent or malformed stage output is evidence, not an error: Present=false
// with Errors populated.
type ExtractionResult struct {
	ShapeID    string   `json:"shape_id"`
	Stage      Stage    `json:"stage"`
	Present    bool     `json:"present"`
	Found      []string `json:"attributes_found"`
	Missing    []string `json:"attributes_missing"`
	Confidence float64  `json:"confidence"` // found/required, in [0,1]
	Locator    string   `json:"source_locator,omitempty"`
	Errors     []string `json:"errors,omitempty"`
}

// HasAttribute reports whether the named attribute was observed.
func (r *ExtractionResult) HasAttribute(name string) bool {
	for _, a := range r.Found {
		if a == name {
			return true
		}
	}
	return false
}

// =============================================================================
// HANDOFF LOSS
// =============================================================================

// LossClass classifies how attributes disappeared across one handoff.
type LossClass string

const (
	LossTotalOmission     LossClass = "L0_TOTAL_OMISSION"     // Everything present upstream vanished
	LossPartialCapture    LossClass = "L1_PARTIAL_CAPTURE"    // A strict non-empty subset survived
	LossContextTruncation LossClass = "L4_CONTEXT_TRUNCATION" // Declared truncation boundary
	LossDependencySkip    LossClass = "L5_DEPENDENCY_SKIP"    // Declared dependency-exclusion boundary
	LossSummaryCollapse   LossClass = "L6_SUMMARY_COLLAPSE"   // Declared summarization boundary
)

// LossClasses lists every classifiable loss.
var LossClasses = [5]LossClass{
	LossTotalOmission,
	LossPartialCapture,
	LossContextTruncation,
	LossDependencySkip,
	LossSummaryCollapse,
}

// BudgetStatus is the tolerance verdict for one observed loss, looked up
// from the registry's (handoff, category, loss class) table.
type BudgetStatus string

const (
	BudgetWithin   BudgetStatus = "WITHIN"
	BudgetExceeded BudgetStatus = "EXCEEDED"
	BudgetFatal    BudgetStatus = "FATAL"
)

// HandoffLossResult records what one shape lost across one handoff.
// LossClass and BudgetStatus are empty when no loss was detected.
type HandoffLossResult struct {
	ShapeID        string       `json:"shape_id"`
	Handoff        Handoff      `json:"handoff"`
	LossDetected   bool         `json:"loss_detected"`
	LossClass      LossClass    `json:"loss_class,omitempty"`
	AttributesLost []string     `json:"attributes_lost,omitempty"`
	BudgetStatus   BudgetStatus `json:"budget_status,omitempty"`
}

// =============================================================================
// SURVIVAL
// =============================================================================

// SurvivalStatus summarizes whether a shape made it to its target stage.
type SurvivalStatus struct {
	SurvivedToTarget bool      `json:"survived_to_target"`
	TargetStage      Stage     `json:"target_stage"`
	LastSeenStage    Stage     `json:"last_seen_stage,omitempty"`
	FailurePoint     Handoff   `json:"failure_point,omitempty"`
	FailureClass     LossClass `json:"failure_class,omitempty"`
	// OriginObserved is the attribute count observed at the origin stage.
	// It is the RSR denominator; carried so the denominator choice can be
	// audited from the decision record (an under-reporting origin extractor
	// would otherwise inflate RSR invisibly).
	OriginObserved int `json:"origin_observed"`
	TargetObserved int `json:"target_observed"`
}

// ShapeTraceResult aggregates one shape's full trace: six extractions, five
// handoff comparisons, survival status, and the requirement survival rate.
type ShapeTraceResult struct {
	ShapeID     string              `json:"shape_id"`
	Category    ShapeCategory       `json:"category"`
	Criticality Criticality         `json:"criticality"`
	Extractions []ExtractionResult  `json:"extractions"` // len 6, pipeline order
	Losses      []HandoffLossResult `json:"losses"`      // len 5, pipeline order
	Survival    SurvivalStatus      `json:"survival"`
	RSR         float64             `json:"rsr"` // clamped to [0,1]
}

// ExtractionAt returns the extraction result for the given stage.
func (t *ShapeTraceResult) ExtractionAt(stage Stage) *ExtractionResult {
	idx := StageIndex(stage)
	if idx < 0 || idx >= len(t.Extractions) {
		return nil
	}
	return &t.Extractions[idx]
}

// LossAt returns the loss result for the given handoff, or nil.
func (t *ShapeTraceResult) LossAt(h Handoff) *HandoffLossResult {
	for i := range t.Losses {
		if t.Losses[i].Handoff == h {
			return &t.Losses[i]
		}
	}
	return nil
}

// WorstBudgetStatus returns the most severe budget status recorded across
// the shape's handoffs, or "" when no loss carried a status.
func (t *ShapeTraceResult) WorstBudgetStatus() BudgetStatus {
	worst := BudgetStatus("")
	for _, l := range t.Losses {
		if budgetRank(l.BudgetStatus) > budgetRank(worst) {
			worst = l.BudgetStatus
		}
	}
	return worst
}

func budgetRank(b BudgetStatus) int {
	switch b {
	case BudgetFatal:
		return 3
	case BudgetExceeded:
		return 2
	case BudgetWithin:
		return 1
	default:
		return 0
	}
}

// LossClassesSeen returns the distinct loss classes recorded across
// handoffs, in handoff order.
func (t *ShapeTraceResult) LossClassesSeen() []LossClass {
	seen := map[LossClass]bool{}
	var out []LossClass
	for _, l := range t.Losses {
		if l.LossClass != "" && !seen[l.LossClass] {
			seen[l.LossClass] = true
			out = append(out, l.LossClass)
		}
	}
	return out
}

// =============================================================================
// GATE VERDICT
// =============================================================================

// Verdict is the survival gate's decision.
type Verdict string

const (
	VerdictPass  Verdict = "PASS"
	VerdictWarn  Verdict = "WARN"
	VerdictBlock Verdict = "BLOCK"
)

// FatalViolation is the evidence attached to a BLOCK verdict.
type FatalViolation struct {
	ShapeID        string    `json:"shape_id"`
	Handoff        Handoff   `json:"handoff"`
	LossClass      LossClass `json:"loss_class"`
	AttributesLost []string  `json:"attributes_lost"`
}

// GateVerdict gates downstream execution. BlockDownstream is a hard
// precondition for the stage runners, not advisory.
type GateVerdict struct {
	Verdict         Verdict          `json:"verdict"`
	FatalViolations []FatalViolation `json:"fatal_violations,omitempty"`
	BlockDownstream bool             `json:"block_downstream"`
}

// =============================================================================
// ENFORCEMENT
// =============================================================================

// OverallAction orders enforcement outcomes by severity:
// BLOCK_ALL > FORK_TTE > WARN_ONLY.
type OverallAction string

const (
	ActionBlockAll OverallAction = "BLOCK_ALL" // Canonical execution forbidden outright
	ActionForkTTE  OverallAction = "FORK_TTE"  // Canonical permitted but non-authoritative; track forked
	ActionWarnOnly OverallAction = "WARN_ONLY" // Canonical proceeds; violations advisory
)

// Severity returns a comparable rank for the action (higher = more severe).
func (a OverallAction) Severity() int {
	switch a {
	case ActionBlockAll:
		return 3
	case ActionForkTTE:
		return 2
	case ActionWarnOnly:
		return 1
	default:
		return 0
	}
}

// RSRCompliance records one shape's standing against its tier law.
type RSRCompliance struct {
	ShapeID           string      `json:"shape_id"`
	Criticality       Criticality `json:"criticality"`
	RSR               float64     `json:"rsr"`
	MinRSR            float64     `json:"min_rsr"`
	UntoleratedLosses []LossClass `json:"untolerated_losses,omitempty"`
	Met               bool        `json:"met"`
}

// TierCompliance aggregates one criticality tier.
type TierCompliance struct {
	Tier         Criticality `json:"tier"`
	AggregateRSR float64     `json:"aggregate_rsr"`
	MinRSR       float64     `json:"min_rsr"`
	MemberCount  int         `json:"member_count"`
	Met          bool        `json:"met"`
}

// ForkDecision records why a remediation track was spawned.
type ForkDecision struct {
	TrackID        string      `json:"track_id"`
	OriginTier     Criticality `json:"origin_tier"`
	ViolatedShapes []string    `json:"violated_shapes"`
	Reason         string      `json:"reason"`
}

// EnforcementDecision is the engine's full output for a run.
type EnforcementDecision struct {
	ShapeCompliance  []RSRCompliance  `json:"shape_compliance"`
	TierCompliance   []TierCompliance `json:"tier_compliance"`
	OverallAction    OverallAction    `json:"overall_action"`
	CanonicalAllowed bool             `json:"canonical_allowed"`
	Authoritative    bool             `json:"authoritative"` // false once a fork exists
	Fork             *ForkDecision    `json:"fork,omitempty"`
	Tracks           []Track          `json:"tracks,omitempty"`
}

// =============================================================================
// REMEDIATION TRACKS
// =============================================================================

// TrackStatus is the remediation track lifecycle state.
type TrackStatus string

const (
	TrackCreated   TrackStatus = "CREATED"
	TrackRunning   TrackStatus = "RUNNING"
	TrackCompleted TrackStatus = "COMPLETED"
	TrackFailed    TrackStatus = "FAILED"
	TrackPromoted  TrackStatus = "PROMOTED"
	TrackDiscarded TrackStatus = "DISCARDED"
)

// Terminal reports whether the status has no outgoing transitions.
func (s TrackStatus) Terminal() bool {
	switch s {
	case TrackFailed, TrackPromoted, TrackDiscarded:
		return true
	case TrackCreated, TrackRunning, TrackCompleted:
		return false
	default:
		return false
	}
}

// CanTransition reports whether next is a legal successor of s. The machine
// is CREATED -> RUNNING -> {COMPLETED, FAILED}; COMPLETED -> {PROMOTED,
// DISCARDED}. No transition skips RUNNING.
func (s TrackStatus) CanTransition(next TrackStatus) bool {
	switch s {
	case TrackCreated:
		return next == TrackRunning
	case TrackRunning:
		return next == TrackCompleted || next == TrackFailed
	case TrackCompleted:
		return next == TrackPromoted || next == TrackDiscarded
	case TrackFailed, TrackPromoted, TrackDiscarded:
		return false
	default:
		return false
	}
}

// Track is a forked remediation execution track. Only the enforcement
// engine creates tracks; only the external track runner advances them.
type Track struct {
	RunID      string      `json:"run_id"`
	OriginTier Criticality `json:"origin_tier"`
	Status     TrackStatus `json:"status"`
	Promotable bool        `json:"promotable"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Transition returns a copy of the track advanced to next, or an error when
// the transition is illegal. The track value itself is never mutated.
func (t Track) Transition(next TrackStatus) (Track, error) {
	if !t.Status.CanTransition(next) {
		return Track{}, fmt.Errorf("illegal track transition %s -> %s for run %s", t.Status, next, t.RunID)
	}
	out := t
	out.Status = next
	return out, nil
}

// =============================================================================
// SET ARITHMETIC HELPERS
// =============================================================================

// Difference returns the members of a not present in b, preserving a's order.
func Difference(a, b []string) []string {
	inB := make(map[string]bool, len(b))
	for _, s := range b {
		inB[s] = true
	}
	var out []string
	for _, s := range a {
		if !inB[s] {
			out = append(out, s)
		}
	}
	return out
}

// Clamp01 clamps v into [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
