package extract

import (
	"regexp"
	"strings"

	"shapetrace/internal/types"
)

// Text-stage extraction scans line-by-line for specific, enumerable
// code-structure markers. It is never a free-text keyword search over
// prose: every marker below names a concrete syntactic construct.

var (
	// State-declaration calls.
	reStateDecl = regexp.MustCompile(`\b(useState|useReducer|useSyncExternalStore|createSignal|createStore|writable|reactive|ref)\s*\(`)

	// Handler-assignment syntax: JSX props, DOM listeners, handler consts.
	reHandlerAssign = regexp.MustCompile(`\bon[A-Z]\w*\s*=\s*[{("']|\baddEventListener\s*\(\s*['"]|\bhandle[A-Z]\w*\s*=`)

	// Recognized UI-control tag names in markup position.
	reControlTag = regexp.MustCompile(`<\s*(Select|Dropdown|Combobox|Autocomplete|Filter\w*|SegmentedControl|Tabs|RadioGroup|CheckboxGroup|Toggle|Slider|SearchInput|SortHeader)\b`)

	// String-array literals of short elements.
	reStringArray = regexp.MustCompile(`\[\s*(?:['"][^'"\n]{1,23}['"]\s*,\s*)+['"][^'"\n]{1,23}['"]\s*,?\s*\]`)
)

type textExtractor struct {
	stage types.Stage
}

func (e *textExtractor) Stage() types.Stage { return e.stage }

func (e *textExtractor) Extract(shape types.ShapeDeclaration, out Output) types.ExtractionResult {
	if out.Absent {
		return absentResult(shape, e.stage, "stage output absent")
	}
	if strings.TrimSpace(out.Text) == "" {
		return absentResult(shape, e.stage, "stage output empty")
	}

	hints := shape.HintsFor(e.stage)
	cands := newCandidateSet()

	lines := strings.Split(out.Text, "\n")
	for i, line := range lines {
		lineNo := i + 1

		// Direct identifier match: the attribute name itself (snake or
		// camel form) appearing as a code identifier.
		for _, attr := range shape.Required {
			if containsIdentifier(line, attr) || containsIdentifier(line, camelCase(attr)) {
				cands.add(candidate{attribute: attr, weight: weightDirectName, locator: lineLocator(e.stage, lineNo)})
			}
		}

		for _, h := range hints {
			matched := false
			switch h.Kind {
			case types.HintStateHook:
				matched = reStateDecl.MatchString(line)
			case types.HintHandlerKey:
				matched = reHandlerAssign.MatchString(line)
			case types.HintControlTag:
				matched = reControlTag.MatchString(line)
			case types.HintStateArray:
				matched = reStringArray.MatchString(line) && arrayFromStateVocabulary(line)
			case types.HintFieldList:
				matched = reStringArray.MatchString(line)
			case types.HintKeyPath:
				// Key paths address value trees, not source text.
			}
			if matched {
				cands.add(candidate{attribute: h.Attribute, weight: weightStructural, locator: lineLocator(e.stage, lineNo)})
			}
		}
	}

	return cands.result(shape, e.stage, nil)
}

// containsIdentifier reports whether name occurs in line delimited by
// non-identifier characters.
func containsIdentifier(line, name string) bool {
	if name == "" {
		return false
	}
	idx := 0
	for {
		pos := strings.Index(line[idx:], name)
		if pos < 0 {
			return false
		}
		start := idx + pos
		end := start + len(name)
		beforeOK := start == 0 || !isIdentByte(line[start-1])
		afterOK := end == len(line) || !isIdentByte(line[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isIdentByte(b byte) bool {
	return b == '_' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

// arrayFromStateVocabulary checks that a string-array literal on the line
// draws all its elements from the state vocabulary.
var reStringLit = regexp.MustCompile(`['"]([^'"\n]{1,23})['"]`)

func arrayFromStateVocabulary(line string) bool {
	loc := reStringArray.FindString(line)
	if loc == "" {
		return false
	}
	lits := reStringLit.FindAllStringSubmatch(loc, -1)
	if len(lits) < 2 {
		return false
	}
	for _, m := range lits {
		if !stateVocabulary[normalizeKey(m[1])] {
			return false
		}
	}
	return true
}
