package toolquery

import (
	"context"
	"strings"

	"github.com/jonwraymond/toolquery/internal/fuzzy"
	"github.com/jonwraymond/toolquery/internal/idset"
	"github.com/jonwraymond/toolquery/internal/lsh"
	"github.com/jonwraymond/toolquery/internal/textnorm"
)

// plan is a compiled, normalized Criteria node.
type plan struct {
	c    *Criteria
	text *textPlan
	and  []*plan
	or   []*plan
	not  []*plan
}

// textPlan is a compiled text query, shared by filtering and ranking.
type textPlan struct {
	tokens    []string
	mode      fuzzy.Mode
	fields    []Field
	threshold float64
	semantic  float64

	// vector is set when an embedder produced a query embedding. nearby is
	// the LSH candidate set for it.
	vector    lsh.Vector
	hasVector bool
	nearby    idset.Set
	// vectorMissing is set when semantic matching applies but the query
	// embedding is not available yet.
	vectorMissing bool
}

func (e *Engine) compile(ctx context.Context, c *Criteria) *plan {
	p := &plan{c: c}
	if c.Text != nil {
		p.text = e.compileText(ctx, c.Text.Query, c.Text.Mode, c.Text.Fields, *c.Text.Threshold, *c.Text.SemanticThreshold)
	}
	for _, sub := range c.And {
		p.and = append(p.and, e.compile(ctx, sub))
	}
	for _, sub := range c.Or {
		p.or = append(p.or, e.compile(ctx, sub))
	}
	for _, sub := range c.Not {
		p.not = append(p.not, e.compile(ctx, sub))
	}
	return p
}

// compileText tokenizes query and, for fuzzy queries with an embedder,
// resolves the query embedding and its LSH candidates.
func (e *Engine) compileText(ctx context.Context, query string, mode fuzzy.Mode, fields []Field, threshold, semantic float64) *textPlan {
	query = queryText(query)
	tp := &textPlan{
		tokens:    textnorm.Tokenize(query),
		mode:      mode,
		fields:    fields,
		threshold: threshold,
		semantic:  semantic,
	}
	if len(tp.tokens) == 0 || !e.semanticActive(mode) {
		return tp
	}
	v, ok := e.embeds.query(ctx, query, e.opts.EmbedAsync)
	if !ok {
		tp.vectorMissing = true
		return tp
	}
	tp.vector, tp.hasVector = v, true
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = string(f)
	}
	tp.nearby = e.vectors.Candidates(v, names...)
	return tp
}

// queryText is the canonical form of a free-text query: its normalized
// tokens joined by single spaces. It is also the text sent to the embedder.
func queryText(q string) string {
	return strings.Join(textnorm.Tokenize(q), " ")
}

func (e *Engine) semanticActive(mode fuzzy.Mode) bool {
	return e.embeds != nil && mode == fuzzy.ModeFuzzy
}

// narrow returns a superset of the indexed ids that can satisfy p.
// constrained is false when the indices cannot rule anything out.
func (e *Engine) narrow(p *plan) (ids idset.Set, constrained bool) {
	var sets []idset.Set
	c := p.c
	if t := c.Tags; t != nil {
		if len(t.Any) > 0 {
			sets = append(sets, e.structural.AnyTags(t.Any))
		}
		if len(t.All) > 0 {
			sets = append(sets, e.structural.AllTags(t.All))
		}
	}
	if s := c.Schema; s != nil {
		keys := append([]string{}, s.RequiredKeys...)
		for k := range s.Properties {
			keys = append(keys, k)
		}
		if len(keys) > 0 {
			sets = append(sets, e.structural.WithKeys(keys))
		}
	}
	if tp := p.text; tp != nil && len(tp.tokens) > 0 && !e.semanticActive(tp.mode) {
		hits := make(idset.Set)
		for _, f := range tp.fields {
			hits.AddAll(e.text.Candidates(f, tp.mode, tp.tokens, tp.threshold))
		}
		sets = append(sets, hits)
	}
	for _, sub := range p.and {
		if s, ok := e.narrow(sub); ok {
			sets = append(sets, s)
		}
	}
	if len(p.or) > 0 {
		union := make(idset.Set)
		all := true
		for _, sub := range p.or {
			s, ok := e.narrow(sub)
			if !ok {
				all = false
				break
			}
			union.AddAll(s)
		}
		if all {
			sets = append(sets, union)
		}
	}
	if len(sets) == 0 {
		return nil, false
	}
	return idset.Intersect(sets...), true
}
