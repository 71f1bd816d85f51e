// Package registry holds the immutable catalogue of trackable shapes, the
// per-handoff loss tolerance table, and the handoff traits used for class
// assignment. The registry is loaded once per process (from YAML or from the
// compiled-in defaults) and is pure lookups thereafter; it is passed by
// reference into every component rather than living in package state.
package registry

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"shapetrace/internal/types"
)

// ErrInvalid wraps every validation failure. Registry validation failure is
// fatal and aborts the run before any tracing begins.
var ErrInvalid = fmt.Errorf("invalid shape registry")

// BudgetRule is one row of the tolerance table: the status assigned when a
// shape of the given category records the given loss class at the given
// handoff.
type BudgetRule struct {
	Handoff   types.Handoff       `json:"handoff" yaml:"handoff"`
	Category  types.ShapeCategory `json:"category" yaml:"category"`
	LossClass types.LossClass     `json:"loss_class" yaml:"loss_class"`
	Status    types.BudgetStatus  `json:"status" yaml:"status"`
}

// HandoffTrait marks a handoff as a known lossy boundary. When a loss is
// detected at a traited handoff its class is the trait's class - a lookup,
// never inference.
type HandoffTrait struct {
	Handoff types.Handoff   `json:"handoff" yaml:"handoff"`
	Class   types.LossClass `json:"class" yaml:"class"`
}

// File is the YAML document shape for a registry definition.
type File struct {
	Shapes  []types.ShapeDeclaration `yaml:"shapes"`
	Budgets []BudgetRule             `yaml:"budgets"`
	Traits  []HandoffTrait           `yaml:"handoff_traits"`
}

type budgetKey struct {
	handoff  types.Handoff
	category types.ShapeCategory
	class    types.LossClass
}

// Registry is the immutable shape catalogue. Construct via Load, LoadFile,
// or Default; never mutate after construction.
type Registry struct {
	shapes  map[string]types.ShapeDeclaration
	order   []string // shape ids in declaration order
	budgets map[budgetKey]types.BudgetStatus
	rules   []BudgetRule // declaration order, for the snapshot
	traits  map[types.Handoff]types.LossClass
}

// Load builds a registry from an in-memory definition and validates it.
func Load(f File) (*Registry, error) {
	r := &Registry{
		shapes:  make(map[string]types.ShapeDeclaration, len(f.Shapes)),
		budgets: make(map[budgetKey]types.BudgetStatus, len(f.Budgets)),
		traits:  make(map[types.Handoff]types.LossClass, len(f.Traits)),
		rules:   append([]BudgetRule(nil), f.Budgets...),
	}

	for _, s := range f.Shapes {
		if _, dup := r.shapes[s.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate shape id %q", ErrInvalid, s.ID)
		}
		if s.OriginStage == "" {
			s.OriginStage = types.StageIntake
		}
		r.shapes[s.ID] = s
		r.order = append(r.order, s.ID)
	}
	for _, b := range f.Budgets {
		r.budgets[budgetKey{b.Handoff, b.Category, b.LossClass}] = b.Status
	}
	for _, t := range f.Traits {
		r.traits[t.Handoff] = t.Class
	}

	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// LoadFile reads a YAML registry definition from disk.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse registry yaml: %w", err)
	}
	return Load(f)
}

// Validate checks the full catalogue. Any failure here is fatal for the run.
func (r *Registry) Validate() error {
	for _, id := range r.order {
		s := r.shapes[id]
		if len(s.Required) == 0 {
			return fmt.Errorf("%w: shape %q declares no required attributes", ErrInvalid, id)
		}
		switch s.Category {
		case types.CategoryStateful, types.CategoryStateless, types.CategoryControl:
		default:
			return fmt.Errorf("%w: shape %q has unknown category %q", ErrInvalid, id, s.Category)
		}
		switch s.Criticality {
		case types.TierFoundational, types.TierInteractive, types.TierEnhancement:
		default:
			return fmt.Errorf("%w: shape %q has unknown criticality %q", ErrInvalid, id, s.Criticality)
		}
		if types.StageIndex(s.OriginStage) < 0 {
			return fmt.Errorf("%w: shape %q has unknown origin stage %q", ErrInvalid, id, s.OriginStage)
		}
		if types.StageIndex(s.TargetStage) < 0 {
			return fmt.Errorf("%w: shape %q has unknown target stage %q", ErrInvalid, id, s.TargetStage)
		}
		if types.StageIndex(s.OriginStage) > types.StageIndex(s.TargetStage) {
			return fmt.Errorf("%w: shape %q origin %q is after target %q", ErrInvalid, id, s.OriginStage, s.TargetStage)
		}
		for _, h := range s.Hints {
			if types.StageIndex(h.Stage) < 0 {
				return fmt.Errorf("%w: shape %q hint references unknown stage %q", ErrInvalid, id, h.Stage)
			}
		}
	}

	for k := range r.budgets {
		if _, _, ok := types.HandoffStages(k.handoff); !ok {
			return fmt.Errorf("%w: budget references unknown handoff %q", ErrInvalid, k.handoff)
		}
		switch k.category {
		case types.CategoryStateful, types.CategoryStateless, types.CategoryControl:
		default:
			return fmt.Errorf("%w: budget references unknown category %q", ErrInvalid, k.category)
		}
		if !knownLossClass(k.class) {
			return fmt.Errorf("%w: budget references unknown loss class %q", ErrInvalid, k.class)
		}
	}

	for h, c := range r.traits {
		if _, _, ok := types.HandoffStages(h); !ok {
			return fmt.Errorf("%w: trait references unknown handoff %q", ErrInvalid, h)
		}
		switch c {
		case types.LossContextTruncation, types.LossDependencySkip, types.LossSummaryCollapse:
		default:
			return fmt.Errorf("%w: trait class must be L4/L5/L6, got %q", ErrInvalid, c)
		}
	}

	return nil
}

func knownLossClass(c types.LossClass) bool {
	for _, known := range types.LossClasses {
		if known == c {
			return true
		}
	}
	return false
}

// Get returns the declaration for id.
func (r *Registry) Get(id string) (types.ShapeDeclaration, bool) {
	s, ok := r.shapes[id]
	return s, ok
}

// All returns every declaration in declaration order.
func (r *Registry) All() []types.ShapeDeclaration {
	out := make([]types.ShapeDeclaration, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.shapes[id])
	}
	return out
}

// ByCategory returns the declarations of one category, declaration order.
func (r *Registry) ByCategory(cat types.ShapeCategory) []types.ShapeDeclaration {
	var out []types.ShapeDeclaration
	for _, id := range r.order {
		if r.shapes[id].Category == cat {
			out = append(out, r.shapes[id])
		}
	}
	return out
}

// BudgetStatus resolves the tolerance table for one observed loss. Triples
// with no explicit rule default to EXCEEDED: an undeclared loss is never
// silently tolerated, but only an explicit rule can make it fatal.
func (r *Registry) BudgetStatus(h types.Handoff, cat types.ShapeCategory, class types.LossClass) types.BudgetStatus {
	if st, ok := r.budgets[budgetKey{h, cat, class}]; ok {
		return st
	}
	return types.BudgetExceeded
}

// IsFatalLoss reports whether the triple maps to FATAL.
func (r *Registry) IsFatalLoss(h types.Handoff, cat types.ShapeCategory, class types.LossClass) bool {
	return r.BudgetStatus(h, cat, class) == types.BudgetFatal
}

// IsToleratedLoss reports whether the triple maps to WITHIN.
func (r *Registry) IsToleratedLoss(h types.Handoff, cat types.ShapeCategory, class types.LossClass) bool {
	return r.BudgetStatus(h, cat, class) == types.BudgetWithin
}

// HandoffTrait returns the declared lossy-boundary class for a handoff, or
// ok=false when the handoff has no trait.
func (r *Registry) HandoffTrait(h types.Handoff) (types.LossClass, bool) {
	c, ok := r.traits[h]
	return c, ok
}

// Snapshot returns a serializable copy of the registry for the decision
// record: shapes in declaration order, budget rules and traits sorted for
// deterministic output.
func (r *Registry) Snapshot() Snapshot {
	snap := Snapshot{
		Shapes:  r.All(),
		Budgets: append([]BudgetRule(nil), r.rules...),
	}
	sort.Slice(snap.Budgets, func(i, j int) bool {
		a, b := snap.Budgets[i], snap.Budgets[j]
		if a.Handoff != b.Handoff {
			return a.Handoff < b.Handoff
		}
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		return a.LossClass < b.LossClass
	})
	for h, c := range r.traits {
		snap.Traits = append(snap.Traits, HandoffTrait{Handoff: h, Class: c})
	}
	sort.Slice(snap.Traits, func(i, j int) bool { return snap.Traits[i].Handoff < snap.Traits[j].Handoff })
	return snap
}

// Snapshot is the registry view embedded in every decision record.
type Snapshot struct {
	Shapes  []types.ShapeDeclaration `json:"shapes"`
	Budgets []BudgetRule             `json:"budgets"`
	Traits  []HandoffTrait           `json:"handoff_traits"`
}
