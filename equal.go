package toolquery

import (
	"encoding/json"
	"slices"

	"github.com/jonwraymond/toolmodel"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// toolsEqual reports whether two tools would produce the same record. It
// compares the MCP fields structurally (schemas and metadata via JSON
// normalization) and the toolmodel extensions after tag normalization.
func toolsEqual(a, b toolmodel.Tool) bool {
	if a.Namespace != b.Namespace || a.Version != b.Version {
		return false
	}
	if !slices.Equal(toolmodel.NormalizeTags(a.Tags), toolmodel.NormalizeTags(b.Tags)) {
		return false
	}
	if a.Name != b.Name || a.Title != b.Title || a.Description != b.Description {
		return false
	}
	if !jsonEqual(a.InputSchema, b.InputSchema) || !jsonEqual(a.OutputSchema, b.OutputSchema) {
		return false
	}
	if !annotationsEqual(a.Annotations, b.Annotations) {
		return false
	}
	if !slices.EqualFunc(a.Icons, b.Icons, iconEqual) {
		return false
	}
	return metaEqual(a.Meta, b.Meta)
}

// jsonEqual compares two values for JSON-structural equality. It accepts
// json.RawMessage and []byte on either side, decoded maps and slices, and
// Go numeric types, which compare by value.
func jsonEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	switch b.(type) {
	case json.RawMessage, []byte:
		switch a.(type) {
		case json.RawMessage, []byte:
		default:
			return jsonEqual(b, a)
		}
	}

	switch av := a.(type) {
	case json.RawMessage:
		return jsonEqualBytes(av, b)
	case []byte:
		return jsonEqualBytes(av, b)
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, va := range av {
			vb, exists := bv[k]
			if !exists || !jsonEqual(va, vb) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !jsonEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}

	if an, ok := toFloat(a); ok {
		bn, ok := toFloat(b)
		return ok && an == bn
	}
	if _, ok := toFloat(b); ok {
		return false
	}

	// Anything else (typed structs, typed slices) compares by its JSON form.
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return jsonEqualBytes(ab, json.RawMessage(bb))
}

// jsonEqualBytes decodes aBytes and compares it against b.
func jsonEqualBytes(aBytes []byte, b any) bool {
	var aVal any
	if err := json.Unmarshal(aBytes, &aVal); err != nil {
		return false
	}
	var bBytes []byte
	switch bv := b.(type) {
	case json.RawMessage:
		bBytes = bv
	case []byte:
		bBytes = bv
	default:
		return jsonEqual(aVal, b)
	}
	var bVal any
	if err := json.Unmarshal(bBytes, &bVal); err != nil {
		return false
	}
	return jsonEqual(aVal, bVal)
}

// toFloat converts Go numeric values to float64.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func iconEqual(a, b mcp.Icon) bool {
	return a.Source == b.Source &&
		a.MIMEType == b.MIMEType &&
		a.Theme == b.Theme &&
		slices.Equal(a.Sizes, b.Sizes)
}

func metaEqual(a, b mcp.Meta) bool {
	if len(a) != len(b) {
		return false
	}
	for k, va := range a {
		vb, exists := b[k]
		if !exists || !jsonEqual(va, vb) {
			return false
		}
	}
	return true
}

func annotationsEqual(a, b *mcp.ToolAnnotations) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Title == b.Title &&
		a.ReadOnlyHint == b.ReadOnlyHint &&
		a.IdempotentHint == b.IdempotentHint &&
		boolPtrEqual(a.DestructiveHint, b.DestructiveHint) &&
		boolPtrEqual(a.OpenWorldHint, b.OpenWorldHint)
}

func boolPtrEqual(a, b *bool) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
