package toolquery

import (
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/jonwraymond/toolquery/internal/fuzzy"
	"github.com/jonwraymond/toolquery/internal/lsh"
)

// matches evaluates p against en. A panic inside a custom predicate makes
// en a non-match.
func (e *Engine) matches(p *plan, en *entry) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Warn("predicate panicked", zap.String("id", en.id()), zap.Any("panic", r))
			ok = false
		}
	}()
	return e.eval(p, en)
}

func (e *Engine) eval(p *plan, en *entry) bool {
	c := p.c
	if len(c.Namespaces) > 0 && !slices.Contains(c.Namespaces, en.tool.Namespace) {
		return false
	}
	if len(c.Versions) > 0 && !slices.Contains(c.Versions, en.tool.Version) {
		return false
	}
	if c.Deprecated != nil && *c.Deprecated != en.view.deprecated {
		return false
	}
	if c.Risk != nil && !matchRisk(c.Risk, en.view.risk) {
		return false
	}
	if c.Tags != nil && !matchTags(c.Tags, en) {
		return false
	}
	if c.Schema != nil && !matchSchema(c.Schema, en) {
		return false
	}
	if c.Metadata != nil && !e.matchMetadata(c.Metadata, en) {
		return false
	}
	if p.text != nil && !e.matchText(p.text, en) {
		return false
	}
	for _, sub := range p.and {
		if !e.eval(sub, en) {
			return false
		}
	}
	if len(p.or) > 0 {
		passed := false
		for _, sub := range p.or {
			if e.eval(sub, en) {
				passed = true
				break
			}
		}
		if !passed {
			return false
		}
	}
	for _, sub := range p.not {
		if e.eval(sub, en) {
			return false
		}
	}
	return true
}

func matchRisk(f *RiskFilter, r Risk) bool {
	check := func(want *bool, got bool) bool { return want == nil || *want == got }
	return check(f.ReadOnly, r.ReadOnly) &&
		check(f.Destructive, r.Destructive) &&
		check(f.Idempotent, r.Idempotent) &&
		check(f.OpenWorld, r.OpenWorld)
}

func matchTags(f *TagFilter, en *entry) bool {
	if len(f.Any) > 0 && !slices.ContainsFunc(f.Any, en.hasTag) {
		return false
	}
	for _, t := range f.All {
		if !en.hasTag(t) {
			return false
		}
	}
	return !slices.ContainsFunc(f.None, en.hasTag)
}

func matchSchema(f *SchemaFilter, en *entry) bool {
	for _, k := range f.RequiredKeys {
		if !en.hasSchemaKey(k) {
			return false
		}
	}
	for key, typ := range f.Properties {
		def, ok := en.view.properties[key]
		if !ok {
			return false
		}
		if typ != "" && !declaresType(def, typ) {
			return false
		}
	}
	return true
}

// declaresType reports whether a property definition declares typ, either
// as its "type" string or as a member of a "type" array.
func declaresType(def map[string]any, typ string) bool {
	is := func(t string) bool { return t == typ || typ == "number" && t == "integer" }
	switch t := def["type"].(type) {
	case string:
		return is(t)
	case []any:
		for _, v := range t {
			if s, ok := v.(string); ok && is(s) {
				return true
			}
		}
	}
	return false
}

func (e *Engine) matchMetadata(f *MetadataFilter, en *entry) bool {
	meta := en.tool.Meta
	for _, k := range f.HasKeys {
		if _, ok := meta[k]; !ok {
			return false
		}
	}
	for k, want := range f.Equals {
		got, ok := meta[k]
		if !ok || !jsonEqual(want, got) {
			return false
		}
	}
	for k, want := range f.Contains {
		got, ok := meta[k]
		if !ok || !metaContains(got, want) {
			return false
		}
	}
	for k, prefix := range f.StartsWith {
		s, ok := meta[k].(string)
		if !ok || !strings.HasPrefix(s, prefix) {
			return false
		}
	}
	for k, r := range f.Range {
		n, ok := toFloat(meta[k])
		if !ok || r.Min != nil && n < *r.Min || r.Max != nil && n > *r.Max {
			return false
		}
	}
	if f.Match != nil {
		ok, err := f.Match(map[string]any(meta))
		if err != nil {
			e.log.Debug("metadata predicate failed", zap.String("id", en.id()), zap.Error(err))
			return false
		}
		return ok
	}
	return true
}

func metaContains(got, want any) bool {
	switch g := got.(type) {
	case string:
		w, ok := want.(string)
		return ok && strings.Contains(g, w)
	case []any:
		return slices.ContainsFunc(g, func(v any) bool { return jsonEqual(v, want) })
	case []string:
		w, ok := want.(string)
		return ok && slices.Contains(g, w)
	}
	return false
}

// matchText passes when any field matches lexically or, with a query
// embedding, semantically.
func (e *Engine) matchText(tp *textPlan, en *entry) bool {
	if len(tp.tokens) == 0 {
		return true
	}
	for _, f := range tp.fields {
		if fuzzy.Score(tp.mode, tp.tokens, en.doc.Norms(f), tp.threshold) > 0 {
			return true
		}
	}
	for _, f := range tp.fields {
		if _, ok := e.semanticScore(tp, en, f); ok {
			return true
		}
	}
	return false
}

// semanticScore returns the best cosine similarity between the query
// embedding and the record's embedding for f, when it reaches the semantic
// threshold. Records outside the LSH candidate set are not scored.
func (e *Engine) semanticScore(tp *textPlan, en *entry, f Field) (float64, bool) {
	if !tp.hasVector || !tp.nearby.Has(en.id()) {
		return 0, false
	}
	best, found := 0.0, false
	for _, ent := range e.vectors.Entries(en.id()) {
		if ent.Field != string(f) {
			continue
		}
		s := lsh.Cosine(tp.vector, ent.Vector)
		if s >= tp.semantic && (!found || s > best) {
			best, found = s, true
		}
	}
	return best, found
}
