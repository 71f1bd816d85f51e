// Package extract converts raw per-stage pipeline output into structured
// presence/absence evidence for a shape. Tree stages are walked as a
// tagged-variant value type with an explicit depth bound; text stages are
// scanned line-by-line for enumerable code-structure markers. Extraction
// never fails with an error: absent or malformed output becomes an
// ExtractionResult with Present=false and populated Errors.
package extract

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"shapetrace/internal/types"
)

// MaxWalkDepth bounds the structural walk. Depth is an explicit checked
// counter, not a call-stack accident; nodes deeper than this are not
// visited.
const MaxWalkDepth = 10

// Kind tags a Value variant.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// String returns the kind name for diagnostics.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Field is one ordered member of an object value. Order is preserved from
// the source document so walks and locators are deterministic.
type Field struct {
	Key string
	Val Value
}

// Value is the tagged-variant representation of heterogeneous stage output.
type Value struct {
	Kind Kind
	Bool bool
	Num  float64
	Str  string
	Arr  []Value
	Obj  []Field
}

// ParseJSON decodes a JSON document into a Value, preserving object key
// order.
func ParseJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return Value{}, err
	}
	// Trailing garbage after the document is malformed output too.
	if _, err := dec.Token(); err != io.EOF {
		return Value{}, fmt.Errorf("trailing content after JSON document")
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	return decodeFromToken(dec, tok)
}

func decodeFromToken(dec *json.Decoder, tok json.Token) (Value, error) {
	switch t := tok.(type) {
	case nil:
		return Value{Kind: KindNull}, nil
	case bool:
		return Value{Kind: KindBool, Bool: t}, nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindNumber, Num: f}, nil
	case string:
		return Value{Kind: KindString, Str: t}, nil
	case json.Delim:
		switch t {
		case '{':
			obj := Value{Kind: KindObject}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, fmt.Errorf("object key is not a string")
				}
				val, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				obj.Obj = append(obj.Obj, Field{Key: key, Val: val})
			}
			if _, err := dec.Token(); err != nil { // consume '}'
				return Value{}, err
			}
			return obj, nil
		case '[':
			arr := Value{Kind: KindArray}
			for dec.More() {
				val, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				arr.Arr = append(arr.Arr, val)
			}
			if _, err := dec.Token(); err != nil { // consume ']'
				return Value{}, err
			}
			return arr, nil
		}
	}
	return Value{}, fmt.Errorf("unexpected JSON token %v", tok)
}

// WalkFunc visits one node. key is the object key naming the node ("" for
// roots and array elements), path is the dotted locator from the root.
type WalkFunc func(key, path string, depth int, v Value)

// Walk visits v and its descendants in document order with an explicit
// depth counter. Nodes beyond MaxWalkDepth are skipped; the walk itself
// never errors.
func Walk(v Value, fn WalkFunc) {
	walk(v, "", "$", 0, fn)
}

func walk(v Value, key, path string, depth int, fn WalkFunc) {
	if depth > MaxWalkDepth {
		return
	}
	fn(key, path, depth, v)
	switch v.Kind {
	case KindObject:
		for _, f := range v.Obj {
			walk(f.Val, f.Key, path+"."+f.Key, depth+1, fn)
		}
	case KindArray:
		for i, el := range v.Arr {
			walk(el, key, fmt.Sprintf("%s[%d]", path, i), depth+1, fn)
		}
	case KindNull, KindBool, KindNumber, KindString:
		// Leaves.
	}
}

// =============================================================================
// STAGE OUTPUT CONTAINER
// =============================================================================

// Output is one stage's materialized output, ready for extraction. For tree
// stages Raw is parsed into Tree; for text stages Raw is kept as Text.
// Absent and ParseError are recorded evidence, never exceptions.
type Output struct {
	Stage      types.Stage
	Absent     bool
	ParseError string
	Tree       Value
	Text       string
}

// NewOutput materializes raw stage output. nil raw means the stage produced
// nothing.
func NewOutput(stage types.Stage, raw []byte) Output {
	if raw == nil {
		return Output{Stage: stage, Absent: true}
	}
	if types.IsTextStage(stage) {
		return Output{Stage: stage, Text: string(raw)}
	}
	tree, err := ParseJSON(raw)
	if err != nil {
		return Output{Stage: stage, ParseError: err.Error()}
	}
	return Output{Stage: stage, Tree: tree}
}

// AbsentOutput marks a stage as having produced nothing.
func AbsentOutput(stage types.Stage) Output {
	return Output{Stage: stage, Absent: true}
}
