package toolquery

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/jonwraymond/toolmodel"

	"github.com/jonwraymond/toolquery/internal/fuzzy"
	"github.com/jonwraymond/toolquery/internal/textindex"
)

// maxCriteriaDepth bounds the nesting of And/Or/Not.
const maxCriteriaDepth = 32

// Field names a searchable text channel of a record.
type Field = textindex.Field

const (
	FieldName         = textindex.FieldName
	FieldDescription  = textindex.FieldDescription
	FieldTags         = textindex.FieldTags
	FieldSchemaKeys   = textindex.FieldSchemaKeys
	FieldMetadataKeys = textindex.FieldMetadataKeys
)

// MatchMode selects how text query tokens are compared with record tokens.
type MatchMode = fuzzy.Mode

const (
	MatchContains = fuzzy.ModeContains
	MatchExact    = fuzzy.ModeExact
	MatchFuzzy    = fuzzy.ModeFuzzy
)

// DefaultThreshold is the fuzzy similarity threshold used when neither the
// query nor the engine options set one.
const DefaultThreshold = fuzzy.DefaultThreshold

// Criteria is a structured filter. All set filters must pass (implicit AND),
// every And entry must pass, at least one Or entry must pass when Or is
// non-empty, and no Not entry may match. A nil *Criteria matches every
// record.
//
// Criteria is plain data and always serializable, except for
// MetadataFilter.Match; see MetadataFilter.MatchKey.
type Criteria struct {
	Namespaces []string        `json:"namespaces,omitempty"`
	Versions   []string        `json:"versions,omitempty"`
	Deprecated *bool           `json:"deprecated,omitempty"`
	Risk       *RiskFilter     `json:"risk,omitempty"`
	Tags       *TagFilter      `json:"tags,omitempty"`
	Text       *TextQuery      `json:"text,omitempty"`
	Schema     *SchemaFilter   `json:"schema,omitempty"`
	Metadata   *MetadataFilter `json:"metadata,omitempty"`

	And []*Criteria  `json:"and,omitempty"`
	Or  []*Criteria  `json:"or,omitempty"`
	Not CriteriaList `json:"not,omitempty"`
}

// CriteriaList is a list of criteria. In JSON it may also be written as a
// single object.
type CriteriaList []*Criteria

// UnmarshalJSON accepts either an object or an array of objects.
func (l *CriteriaList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.HasPrefix(data, []byte("{")) {
		var c Criteria
		if err := strictUnmarshal(data, &c); err != nil {
			return err
		}
		*l = CriteriaList{&c}
		return nil
	}
	var list []*Criteria
	if err := strictUnmarshal(data, &list); err != nil {
		return err
	}
	*l = list
	return nil
}

// RiskFilter matches the behavioral hints of a record. Nil fields are
// ignored.
type RiskFilter struct {
	ReadOnly    *bool `json:"readOnly,omitempty"`
	Destructive *bool `json:"destructive,omitempty"`
	Idempotent  *bool `json:"idempotent,omitempty"`
	OpenWorld   *bool `json:"openWorld,omitempty"`
}

// TagFilter matches normalized tags.
type TagFilter struct {
	Any  []string `json:"any,omitempty"`
	All  []string `json:"all,omitempty"`
	None []string `json:"none,omitempty"`
}

// TextQuery matches free text against record fields. A record passes when
// any of Fields matches, lexically under Mode or, when an embedder is
// configured and Mode is fuzzy, semantically.
type TextQuery struct {
	Query string    `json:"query"`
	Mode  MatchMode `json:"mode,omitempty"`
	// Fields defaults to every field.
	Fields []Field `json:"fields,omitempty"`
	// Weights only affect ranking; they are accepted here so a TextQuery can
	// be reused for both.
	Weights           map[Field]float64 `json:"weights,omitempty"`
	Threshold         *float64          `json:"threshold,omitempty"`
	SemanticThreshold *float64          `json:"semanticThreshold,omitempty"`
}

// SchemaFilter matches the input schema of a record.
type SchemaFilter struct {
	// RequiredKeys must all be parameter names of the schema.
	RequiredKeys []string `json:"requiredKeys,omitempty"`
	// Properties maps a parameter name to a JSON Schema type. The parameter
	// must exist and, when the type is non-empty, declare that type. An
	// "integer" parameter satisfies "number".
	Properties map[string]string `json:"properties,omitempty"`
}

// NumericRange is an inclusive range. Nil bounds are open.
type NumericRange struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// MetadataFilter matches the Meta map of a record.
type MetadataFilter struct {
	HasKeys []string `json:"hasKeys,omitempty"`
	// Equals compares values for JSON-structural equality.
	Equals map[string]any `json:"equals,omitempty"`
	// Contains matches string values containing the given substring, or
	// array values holding an element equal to the given value.
	Contains   map[string]any          `json:"contains,omitempty"`
	StartsWith map[string]string       `json:"startsWith,omitempty"`
	Range      map[string]NumericRange `json:"range,omitempty"`

	// Match is a custom predicate over the record's metadata. An error or a
	// panic counts as no match. Criteria holding a Match are neither cached
	// nor narrowed through the indices unless MatchKey names the predicate;
	// two criteria with the same MatchKey must behave identically.
	Match    func(meta map[string]any) (bool, error) `json:"-"`
	MatchKey string                                   `json:"matchKey,omitempty"`
}

// ParseCriteria decodes JSON criteria, rejecting unknown fields, and
// validates the result.
func ParseCriteria(data []byte) (*Criteria, error) {
	var c Criteria
	if err := strictUnmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCriteria, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("trailing data after criteria")
	}
	return nil
}

// Validate reports malformed criteria. Out-of-range thresholds are not
// errors; they are clamped at evaluation time.
func (c *Criteria) Validate() error {
	if c == nil {
		return nil
	}
	if err := c.validate(0); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCriteria, err)
	}
	if _, err := json.Marshal(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCriteria, err)
	}
	return nil
}

func (c *Criteria) validate(depth int) error {
	if depth > maxCriteriaDepth {
		return fmt.Errorf("nesting deeper than %d", maxCriteriaDepth)
	}
	if t := c.Text; t != nil {
		if t.Mode != "" && !t.Mode.Valid() {
			return fmt.Errorf("unknown text mode %q", t.Mode)
		}
		if err := validateFields(t.Fields, t.Weights); err != nil {
			return err
		}
	}
	if s := c.Schema; s != nil {
		for key, typ := range s.Properties {
			if key == "" {
				return fmt.Errorf("empty schema property name")
			}
			if !validSchemaType(typ) {
				return fmt.Errorf("unknown JSON type %q for property %q", typ, key)
			}
		}
	}
	if m := c.Metadata; m != nil {
		for key, r := range m.Range {
			if r.Min != nil && math.IsNaN(*r.Min) || r.Max != nil && math.IsNaN(*r.Max) {
				return fmt.Errorf("range %q has a NaN bound", key)
			}
			if r.Min != nil && r.Max != nil && *r.Min > *r.Max {
				return fmt.Errorf("range %q has min > max", key)
			}
		}
	}
	for name, list := range map[string][]*Criteria{"and": c.And, "or": c.Or, "not": c.Not} {
		for i, sub := range list {
			if sub == nil {
				return fmt.Errorf("%s[%d] is null", name, i)
			}
			if err := sub.validate(depth + 1); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateFields(fields []Field, weights map[Field]float64) error {
	for _, f := range fields {
		if !f.Valid() {
			return fmt.Errorf("unknown field %q", f)
		}
	}
	for f, w := range weights {
		if !f.Valid() {
			return fmt.Errorf("unknown field %q", f)
		}
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("weight for %q is not finite", f)
		}
	}
	return nil
}

func validSchemaType(t string) bool {
	switch t {
	case "", "object", "array", "string", "number", "integer", "boolean", "null":
		return true
	}
	return false
}

// defaults carries the engine-level values that fill unset criteria fields.
type defaults struct {
	threshold         float64
	semanticThreshold float64
}

// normalize returns a copy of c with sets sorted, tags normalized, text
// tokenized and defaults applied, so that equivalent criteria serialize to
// the same cache key. Custom predicates are carried over.
func (c *Criteria) normalize(d defaults) *Criteria {
	if c == nil {
		return &Criteria{}
	}
	n := &Criteria{
		Namespaces: sortedSet(c.Namespaces, nil),
		Versions:   sortedSet(c.Versions, nil),
		Deprecated: c.Deprecated,
		Risk:       c.Risk,
	}
	if t := c.Tags; t != nil {
		n.Tags = &TagFilter{
			Any:  sortedSet(t.Any, normalizeTag),
			All:  sortedSet(t.All, normalizeTag),
			None: sortedSet(t.None, normalizeTag),
		}
	}
	if t := c.Text; t != nil {
		n.Text = normalizeText(t, d)
	}
	if s := c.Schema; s != nil {
		n.Schema = &SchemaFilter{
			RequiredKeys: sortedSet(s.RequiredKeys, strings.ToLower),
			Properties:   s.Properties,
		}
	}
	n.Metadata = c.Metadata
	for _, sub := range c.And {
		n.And = append(n.And, sub.normalize(d))
	}
	for _, sub := range c.Or {
		n.Or = append(n.Or, sub.normalize(d))
	}
	for _, sub := range c.Not {
		n.Not = append(n.Not, sub.normalize(d))
	}
	return n
}

func normalizeText(t *TextQuery, d defaults) *TextQuery {
	mode := t.Mode
	if mode == "" {
		mode = MatchFuzzy
	}
	fields := slices.Clone(t.Fields)
	if len(fields) == 0 {
		fields = slices.Clone(textindex.Fields)
	}
	fields = canonicalFields(fields)
	threshold := d.threshold
	if t.Threshold != nil {
		threshold = fuzzy.ClampThreshold(*t.Threshold)
	}
	semantic := d.semanticThreshold
	if t.SemanticThreshold != nil {
		semantic = clampSemantic(*t.SemanticThreshold, d.semanticThreshold)
	}
	return &TextQuery{
		Query:             queryText(t.Query),
		Mode:              mode,
		Fields:            fields,
		Weights:           t.Weights,
		Threshold:         &threshold,
		SemanticThreshold: &semantic,
	}
}

// canonicalFields deduplicates fields and orders them like textindex.Fields.
func canonicalFields(fields []Field) []Field {
	out := make([]Field, 0, len(fields))
	for _, f := range textindex.Fields {
		if slices.Contains(fields, f) {
			out = append(out, f)
		}
	}
	return out
}

// clampSemantic clamps a cosine threshold into [-1, 1].
func clampSemantic(t, def float64) float64 {
	if math.IsNaN(t) {
		return def
	}
	return math.Max(-1, math.Min(1, t))
}

// unmatchableTag stands for a query tag with nothing left after
// normalization. Record tags never contain it.
const unmatchableTag = "\x00"

// normalizeTag normalizes one query tag the way record tags are
// normalized. Each tag is handled on its own so query sets are not capped
// at the record tag limit.
func normalizeTag(t string) string {
	if n := toolmodel.NormalizeTags([]string{t}); len(n) == 1 {
		return n[0]
	}
	return unmatchableTag
}

func sortedSet(values []string, fn func(string) string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if fn != nil {
			v = fn(v)
		}
		out = append(out, v)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// cacheable reports whether every custom predicate in the tree carries a
// MatchKey.
func (c *Criteria) cacheable() bool {
	if c == nil {
		return true
	}
	if m := c.Metadata; m != nil && m.Match != nil && m.MatchKey == "" {
		return false
	}
	for _, list := range [][]*Criteria{c.And, c.Or, c.Not} {
		for _, sub := range list {
			if !sub.cacheable() {
				return false
			}
		}
	}
	return true
}

// key returns the canonical serialization of normalized criteria.
func (c *Criteria) key() string {
	b, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return string(b)
}
