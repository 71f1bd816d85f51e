package extract

import (
	"fmt"
	"strings"

	"shapetrace/internal/types"
)

// Extractor converts one stage's output into presence/absence evidence for
// a shape.
type Extractor interface {
	Stage() types.Stage
	Extract(shape types.ShapeDeclaration, out Output) types.ExtractionResult
}

// ForStage returns the extractor for a pipeline stage: a structural tree
// walker for value stages, a line-marker scanner for source-text stages.
func ForStage(stage types.Stage) Extractor {
	if types.IsTextStage(stage) {
		return &textExtractor{stage: stage}
	}
	return &treeExtractor{stage: stage}
}

// candidate is one potential observation of a required attribute.
type candidate struct {
	attribute string
	weight    float64
	locator   string
}

// candidateSet keeps the highest-scoring candidate per attribute. Ties keep
// the earliest observation so extraction stays deterministic.
type candidateSet struct {
	best map[string]candidate
}

func newCandidateSet() *candidateSet {
	return &candidateSet{best: make(map[string]candidate)}
}

func (c *candidateSet) add(cand candidate) {
	prev, ok := c.best[cand.attribute]
	if !ok || cand.weight > prev.weight {
		c.best[cand.attribute] = cand
	}
}

// result assembles the ExtractionResult from the kept candidates.
func (c *candidateSet) result(shape types.ShapeDeclaration, stage types.Stage, errs []string) types.ExtractionResult {
	var found, missing []string
	locator := ""
	for _, attr := range shape.Required {
		if cand, ok := c.best[attr]; ok {
			found = append(found, attr)
			if locator == "" {
				locator = cand.locator
			}
		} else {
			missing = append(missing, attr)
		}
	}
	confidence := 0.0
	if len(shape.Required) > 0 {
		confidence = types.Clamp01(float64(len(found)) / float64(len(shape.Required)))
	}
	return types.ExtractionResult{
		ShapeID:    shape.ID,
		Stage:      stage,
		Present:    len(found) > 0,
		Found:      found,
		Missing:    missing,
		Confidence: confidence,
		Locator:    locator,
		Errors:     errs,
	}
}

// absentResult is the evidence for missing or malformed stage output.
func absentResult(shape types.ShapeDeclaration, stage types.Stage, reason string) types.ExtractionResult {
	return types.ExtractionResult{
		ShapeID: shape.ID,
		Stage:   stage,
		Present: false,
		Missing: append([]string(nil), shape.Required...),
		Errors:  []string{reason},
	}
}

// =============================================================================
// TREE EXTRACTION
// =============================================================================

// Candidate weights. Direct key equality always beats a hint path, which
// beats a structural signal.
const (
	weightDirectName = 1.0
	weightHintPath   = 0.9
	weightStructural = 0.7
	weightWeakSignal = 0.6
)

type treeExtractor struct {
	stage types.Stage
}

func (e *treeExtractor) Stage() types.Stage { return e.stage }

func (e *treeExtractor) Extract(shape types.ShapeDeclaration, out Output) types.ExtractionResult {
	if out.Absent {
		return absentResult(shape, e.stage, "stage output absent")
	}
	if out.ParseError != "" {
		return absentResult(shape, e.stage, "stage output malformed: "+out.ParseError)
	}

	hints := shape.HintsFor(e.stage)
	cands := newCandidateSet()

	Walk(out.Tree, func(key, path string, depth int, v Value) {
		normKey := normalizeKey(key)

		// Direct name equality against each required attribute.
		for _, attr := range shape.Required {
			if normKey != "" && normKey == normalizeKey(attr) {
				cands.add(candidate{attribute: attr, weight: weightDirectName, locator: path})
			}
		}

		for _, h := range hints {
			switch h.Kind {
			case types.HintKeyPath:
				if h.Path != "" && pathMatches(path, h.Path) {
					cands.add(candidate{attribute: h.Attribute, weight: weightHintPath, locator: path})
				}
			case types.HintStateArray:
				if isStateValueArray(v) {
					cands.add(candidate{attribute: h.Attribute, weight: weightStructural, locator: path})
				}
			case types.HintHandlerKey:
				if isHandlerKey(key) {
					cands.add(candidate{attribute: h.Attribute, weight: weightStructural, locator: path})
				}
			case types.HintStateHook:
				if isStateHookNode(key, v) {
					cands.add(candidate{attribute: h.Attribute, weight: weightWeakSignal, locator: path})
				}
			case types.HintControlTag:
				if isControlTagNode(v) {
					cands.add(candidate{attribute: h.Attribute, weight: weightWeakSignal, locator: path})
				}
			case types.HintFieldList:
				if isFieldList(v) {
					cands.add(candidate{attribute: h.Attribute, weight: weightWeakSignal, locator: path})
				}
			}
		}
	})

	return cands.result(shape, e.stage, nil)
}

// normalizeKey lowercases and collapses separators so "filterValues",
// "filter-values" and "filter_values" all compare equal.
func normalizeKey(k string) string {
	if k == "" {
		return ""
	}
	var b strings.Builder
	for i, r := range k {
		switch {
		case r >= 'A' && r <= 'Z':
			if i > 0 {
				prev := rune(k[i-1])
				if prev >= 'a' && prev <= 'z' || prev >= '0' && prev <= '9' {
					b.WriteByte('_')
				}
			}
			b.WriteRune(r - 'A' + 'a')
		case r == '-' || r == ' ':
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// pathMatches accepts an exact dotted path or a "$."-free suffix match, so
// a hint "data.source" matches "$.screens[2].data.source".
func pathMatches(path, hint string) bool {
	trimmed := strings.TrimPrefix(path, "$.")
	if trimmed == hint {
		return true
	}
	return strings.HasSuffix(trimmed, "."+hint)
}

// stateVocabulary is the fixed set of short literals treated as state-like
// values. An array of two or more members drawn from it is a candidate
// filter-value set.
var stateVocabulary = map[string]bool{
	"all": true, "none": true, "active": true, "inactive": true,
	"open": true, "closed": true, "pending": true, "done": true,
	"todo": true, "in_progress": true, "completed": true, "archived": true,
	"draft": true, "published": true, "enabled": true, "disabled": true,
	"on": true, "off": true, "asc": true, "desc": true,
	"high": true, "medium": true, "low": true,
}

const shortLiteralMax = 24

// isStateValueArray detects an array of >=2 short string literals drawn
// from the state vocabulary.
func isStateValueArray(v Value) bool {
	if v.Kind != KindArray || len(v.Arr) < 2 {
		return false
	}
	for _, el := range v.Arr {
		if el.Kind != KindString || len(el.Str) > shortLiteralMax {
			return false
		}
		if !stateVocabulary[normalizeKey(el.Str)] {
			return false
		}
	}
	return true
}

// isHandlerKey detects handler-style keys: onX, handleX, *_handler.
func isHandlerKey(key string) bool {
	if key == "" {
		return false
	}
	if strings.HasSuffix(normalizeKey(key), "_handler") {
		return true
	}
	if len(key) > 2 && strings.HasPrefix(key, "on") && key[2] >= 'A' && key[2] <= 'Z' {
		return true
	}
	if len(key) > 6 && strings.HasPrefix(key, "handle") && key[6] >= 'A' && key[6] <= 'Z' {
		return true
	}
	return false
}

// stateHookKeys are the object members that make a node state-shaped.
var stateHookKeys = map[string]bool{
	"initial": true, "initial_value": true, "default": true,
	"state": true, "setter": true, "hook": true, "store": true,
}

// isStateHookNode detects a hook/state-shaped node: a string starting with
// "use", or an object carrying state-declaration members.
func isStateHookNode(key string, v Value) bool {
	if v.Kind == KindString && strings.HasPrefix(v.Str, "use") && len(v.Str) > 3 {
		return true
	}
	if v.Kind != KindObject {
		return false
	}
	for _, f := range v.Obj {
		if stateHookKeys[normalizeKey(f.Key)] {
			return true
		}
	}
	return false
}

// controlTags is the fixed set of recognized UI-control names.
var controlTags = map[string]bool{
	"select": true, "dropdown": true, "combobox": true, "autocomplete": true,
	"filter": true, "filterbar": true, "segmented_control": true,
	"tabs": true, "radio_group": true, "checkbox_group": true,
	"toggle": true, "slider": true, "search_input": true, "sort_header": true,
}

// isControlTagNode detects a string or object-"type" naming a known control.
func isControlTagNode(v Value) bool {
	switch v.Kind {
	case KindString:
		return controlTags[normalizeKey(v.Str)]
	case KindObject:
		for _, f := range v.Obj {
			nk := normalizeKey(f.Key)
			if (nk == "type" || nk == "component" || nk == "tag") && f.Val.Kind == KindString {
				if controlTags[normalizeKey(f.Val.Str)] {
					return true
				}
			}
		}
	case KindNull, KindBool, KindNumber, KindArray:
	}
	return false
}

// isFieldList detects a plain list of identifier-like short strings.
func isFieldList(v Value) bool {
	if v.Kind != KindArray || len(v.Arr) == 0 {
		return false
	}
	for _, el := range v.Arr {
		if el.Kind != KindString || len(el.Str) == 0 || len(el.Str) > shortLiteralMax {
			return false
		}
		if !isIdentifierLike(el.Str) {
			return false
		}
	}
	return true
}

func isIdentifierLike(s string) bool {
	for i, r := range s {
		ok := r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || i > 0 && r >= '0' && r <= '9'
		if !ok {
			return false
		}
	}
	return true
}

// camelCase converts a snake_case attribute name for source-text matching.
func camelCase(attr string) string {
	parts := strings.Split(attr, "_")
	if len(parts) == 1 {
		return attr
	}
	var b strings.Builder
	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

// lineLocator formats a text-stage source locator.
func lineLocator(stage types.Stage, line int) string {
	return fmt.Sprintf("%s:%d", stage, line)
}
