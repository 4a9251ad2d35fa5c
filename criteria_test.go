package toolquery

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseCriteria(t *testing.T) {
	data := []byte(`{
		"namespaces": ["fs"],
		"tags": {"any": ["Files"]},
		"text": {"query": "read", "mode": "exact", "fields": ["name"]},
		"metadata": {"range": {"cost": {"max": 2}}},
		"or": [{"deprecated": false}, {"risk": {"readOnly": true}}],
		"not": {"versions": ["0.1.0"]}
	}`)
	c, err := ParseCriteria(data)
	if err != nil {
		t.Fatalf("ParseCriteria failed: %v", err)
	}
	if len(c.Not) != 1 || c.Not[0].Versions[0] != "0.1.0" {
		t.Fatalf("single not object should decode to one entry, got %+v", c.Not)
	}
	if c.Text.Mode != MatchExact || c.Text.Fields[0] != FieldName {
		t.Fatalf("unexpected text query %+v", c.Text)
	}
	if *c.Metadata.Range["cost"].Max != 2 || c.Metadata.Range["cost"].Min != nil {
		t.Fatalf("unexpected range %+v", c.Metadata.Range)
	}

	e := NewEngine(Records(criteriaTools()...))
	assertNames(t, mustFilter(t, e, c), []string{"read-file"})
}

func TestParseCriteria_NotAsList(t *testing.T) {
	c, err := ParseCriteria([]byte(`{"not": [{"namespaces": ["a"]}, {"namespaces": ["b"]}]}`))
	if err != nil {
		t.Fatalf("ParseCriteria failed: %v", err)
	}
	if len(c.Not) != 2 {
		t.Fatalf("expected 2 not entries, got %d", len(c.Not))
	}
}

func TestParseCriteria_Rejects(t *testing.T) {
	tests := map[string]string{
		"unknown field":        `{"namespace": ["fs"]}`,
		"unknown nested field": `{"not": {"tag": {}}}`,
		"unknown mode":         `{"text": {"query": "x", "mode": "glob"}}`,
		"null child":           `{"and": [null]}`,
		"trailing data":        `{} {}`,
		"not json":             `namespaces: [fs]`,
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseCriteria([]byte(data)); !errors.Is(err, ErrInvalidCriteria) {
				t.Fatalf("expected ErrInvalidCriteria, got %v", err)
			}
		})
	}
}

func TestCriteria_NormalizedKeysAgree(t *testing.T) {
	d := defaults{threshold: DefaultThreshold, semanticThreshold: DefaultSemanticThreshold}
	a := &Criteria{
		Namespaces: []string{"b", "a", "b"},
		Tags:       &TagFilter{Any: []string{"Comm", "net"}},
		Text:       &TextQuery{Query: "Send  Email", Fields: []Field{FieldTags, FieldName, FieldTags}},
		Schema:     &SchemaFilter{RequiredKeys: []string{"Path"}},
	}
	b := &Criteria{
		Namespaces: []string{"a", "b"},
		Tags:       &TagFilter{Any: []string{"net", "comm"}},
		Text:       &TextQuery{Query: "send email", Mode: MatchFuzzy, Fields: []Field{FieldName, FieldTags}, Threshold: ptr(DefaultThreshold)},
		Schema:     &SchemaFilter{RequiredKeys: []string{"path"}},
	}
	if ka, kb := a.normalize(d).key(), b.normalize(d).key(); ka != kb {
		t.Fatalf("keys differ:\n%s\n%s", ka, kb)
	}

	c := &Criteria{Text: &TextQuery{Query: "send email", Mode: MatchExact}}
	if a.normalize(d).key() == c.normalize(d).key() {
		t.Fatalf("different criteria must not share a key")
	}
}

func TestCriteria_NormalizeDefaults(t *testing.T) {
	d := defaults{threshold: 0.8, semanticThreshold: 0.4}
	n := (&Criteria{Text: &TextQuery{Query: "x", SemanticThreshold: ptr(4.0)}}).normalize(d)
	want := &TextQuery{
		Query:             "x",
		Mode:              MatchFuzzy,
		Fields:            []Field{FieldName, FieldDescription, FieldTags, FieldSchemaKeys, FieldMetadataKeys},
		Threshold:         ptr(0.8),
		SemanticThreshold: ptr(1.0),
	}
	if diff := cmp.Diff(want, n.Text); diff != "" {
		t.Fatalf("unexpected normalized text (-want +got):\n%s", diff)
	}
}

func TestCriteria_Cacheable(t *testing.T) {
	match := func(map[string]any) (bool, error) { return true, nil }
	if !(&Criteria{}).cacheable() {
		t.Fatal("plain criteria must be cacheable")
	}
	nested := &Criteria{Or: []*Criteria{{}, {Metadata: &MetadataFilter{Match: match}}}}
	if nested.cacheable() {
		t.Fatal("nested unkeyed predicate must disable caching")
	}
	nested.Or[1].Metadata.MatchKey = "always"
	if !nested.cacheable() {
		t.Fatal("keyed predicate should be cacheable")
	}
}

func TestCriteria_MarshalRoundTripsThroughParse(t *testing.T) {
	c := &Criteria{
		Risk:     &RiskFilter{Destructive: ptr(false)},
		Metadata: &MetadataFilter{Equals: map[string]any{"owner": "web"}, MatchKey: "k", Match: func(map[string]any) (bool, error) { return true, nil }},
		Not:      CriteriaList{{Namespaces: []string{"x"}}},
	}
	data, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	back, err := ParseCriteria(data)
	if err != nil {
		t.Fatalf("ParseCriteria failed: %v", err)
	}
	if back.Metadata.Match != nil || back.Metadata.MatchKey != "k" {
		t.Fatalf("predicate should not survive serialization, key should: %+v", back.Metadata)
	}
	if *back.Risk.Destructive || back.Not[0].Namespaces[0] != "x" {
		t.Fatalf("unexpected decoded criteria %+v", back)
	}
}
