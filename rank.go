package toolquery

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"

	"github.com/jonwraymond/toolmodel"
	"go.uber.org/zap"

	"github.com/jonwraymond/toolquery/internal/fuzzy"
	"github.com/jonwraymond/toolquery/internal/textindex"
)

// TieBreak orders matches with equal scores.
type TieBreak string

const (
	// TieBreakName orders ties by ascending name, then record id.
	TieBreakName TieBreak = "name"
	// TieBreakNone keeps ties in catalog order.
	TieBreakNone TieBreak = "none"
)

// Rank scores filtered records. The score of a record is the sum of
//
//   - every matched preferred tag, times its per-tag weight (default 1),
//     times TagWeight;
//   - every field's lexical text score, times the field weight, times
//     TextWeight;
//   - every field's best cosine similarity at or above SemanticThreshold,
//     times the field weight, times TextWeight (fuzzy mode with an embedder
//     only);
//
// adjusted by Hook. Records whose final score is negative are dropped.
type Rank struct {
	PreferredTags []string           `json:"preferredTags,omitempty"`
	TagWeights    map[string]float64 `json:"tagWeights,omitempty"`
	// TagWeight defaults to 1.
	TagWeight float64 `json:"tagWeight,omitempty"`

	Text string    `json:"text,omitempty"`
	Mode MatchMode `json:"mode,omitempty"`
	// Fields defaults to every field.
	Fields []Field `json:"fields,omitempty"`
	// FieldWeights override the engine's field weights per field.
	FieldWeights map[Field]float64 `json:"fieldWeights,omitempty"`
	// TextWeight defaults to 1.
	TextWeight        float64  `json:"textWeight,omitempty"`
	Threshold         *float64 `json:"threshold,omitempty"`
	SemanticThreshold *float64 `json:"semanticThreshold,omitempty"`

	Hook     ScoreHook `json:"-"`
	TieBreak TieBreak  `json:"tieBreak,omitempty"`
	// Less, when set, orders ties instead of TieBreak.
	Less func(a, b Match) bool `json:"-"`
}

// ScoreHook adjusts the score of one candidate. An error or a panic
// excludes the candidate.
type ScoreHook func(in HookInput) (HookResult, error)

// HookInput is what a ScoreHook sees of a candidate.
type HookInput struct {
	ID     string
	Tool   toolmodel.Tool
	Score  float64
	Fields map[Field]float64
}

// HookResult is the adjustment returned by a ScoreHook. Exclude wins over
// Override, which wins over Add.
type HookResult struct {
	Add      float64
	Override *float64
	Exclude  bool
}

// Validate reports malformed ranking options.
func (r *Rank) Validate() error {
	if r == nil {
		return nil
	}
	if r.Mode != "" && !r.Mode.Valid() {
		return fmt.Errorf("%w: unknown text mode %q", ErrInvalidCriteria, r.Mode)
	}
	switch r.TieBreak {
	case "", TieBreakName, TieBreakNone:
	default:
		return fmt.Errorf("%w: unknown tie-break %q", ErrInvalidCriteria, r.TieBreak)
	}
	if err := validateFields(r.Fields, r.FieldWeights); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCriteria, err)
	}
	for t, w := range r.TagWeights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("%w: weight for tag %q is not finite", ErrInvalidCriteria, t)
		}
	}
	for _, w := range []float64{r.TagWeight, r.TextWeight} {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("%w: weight is not finite", ErrInvalidCriteria)
		}
	}
	return nil
}

// Match is one ranked search result. Which of Tool and Summary are set
// depends on the Select mode of the query.
type Match struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Score   float64         `json:"score"`
	Tool    *toolmodel.Tool `json:"tool,omitempty"`
	Summary *Summary        `json:"summary,omitempty"`

	// TagScore is the preferred-tag part of Score.
	TagScore float64 `json:"tagScore,omitempty"`
	// Fields attributes the text part of Score to fields.
	Fields map[Field]float64 `json:"fields,omitempty"`
	// Reasons explains each contribution, e.g. "tag comm" or
	// "description fuzzy 1.00".
	Reasons []string `json:"reasons,omitempty"`
}

// rankPlan is a compiled Rank.
type rankPlan struct {
	tags       []string
	tagWeights map[string]float64
	text       *textPlan
	weights    map[Field]float64
	textWeight float64

	hook     ScoreHook
	tieBreak TieBreak
	less     func(a, b Match) bool
}

func (e *Engine) compileRank(ctx context.Context, r *Rank) *rankPlan {
	if r == nil {
		r = &Rank{}
	}
	rp := &rankPlan{
		tagWeights: make(map[string]float64),
		weights:    make(map[Field]float64, len(textindex.Fields)),
		textWeight: orOne(r.TextWeight),
		hook:       r.Hook,
		tieBreak:   r.TieBreak,
		less:       r.Less,
	}
	if rp.tieBreak == "" {
		rp.tieBreak = TieBreakName
	}
	tagWeight := orOne(r.TagWeight)
	perTag := make(map[string]float64, len(r.TagWeights))
	for t, w := range r.TagWeights {
		perTag[normalizeTag(t)] = w
	}
	rp.tags = sortedSet(r.PreferredTags, normalizeTag)
	for _, t := range rp.tags {
		w, ok := perTag[t]
		if !ok {
			w = 1
		}
		rp.tagWeights[t] = w * tagWeight
	}

	for f, w := range e.opts.FieldWeights {
		rp.weights[f] = w
	}
	for f, w := range r.FieldWeights {
		rp.weights[f] = w
	}

	if strings.TrimSpace(r.Text) != "" {
		mode := r.Mode
		if mode == "" {
			mode = MatchFuzzy
		}
		fields := canonicalFields(r.Fields)
		if len(r.Fields) == 0 {
			fields = slices.Clone(textindex.Fields)
		}
		threshold := e.defaults.threshold
		if r.Threshold != nil {
			threshold = fuzzy.ClampThreshold(*r.Threshold)
		}
		semantic := e.defaults.semanticThreshold
		if r.SemanticThreshold != nil {
			semantic = clampSemantic(*r.SemanticThreshold, semantic)
		}
		rp.text = e.compileText(ctx, r.Text, mode, fields, threshold, semantic)
	}
	return rp
}

func orOne(w float64) float64 {
	if w == 0 {
		return 1
	}
	return w
}

// explanation collects the attribution of a score.
type explanation struct {
	tagScore float64
	fields   map[Field]float64
	reasons  []string
}

// score computes the base score of en. The summation order is fixed so the
// same record always gets bit-identical scores, with or without ex.
func (e *Engine) score(rp *rankPlan, en *entry, ex *explanation) float64 {
	var total float64
	for _, t := range rp.tags {
		if !en.hasTag(t) {
			continue
		}
		w := rp.tagWeights[t]
		total += w
		if ex != nil {
			ex.tagScore += w
			ex.reasons = append(ex.reasons, "tag "+t)
		}
	}
	tp := rp.text
	if tp == nil || len(tp.tokens) == 0 {
		return total
	}
	for _, f := range tp.fields {
		s := fuzzy.Score(tp.mode, tp.tokens, en.doc.Norms(f), tp.threshold)
		if s <= 0 {
			continue
		}
		c := s * rp.weights[f] * rp.textWeight
		total += c
		if ex != nil {
			ex.fields[f] += c
			ex.reasons = append(ex.reasons, fmt.Sprintf("%s %s %.2f", f, tp.mode, s))
		}
	}
	for _, f := range tp.fields {
		s, ok := e.semanticScore(tp, en, f)
		if !ok {
			continue
		}
		c := s * rp.weights[f] * rp.textWeight
		total += c
		if ex != nil {
			ex.fields[f] += c
			ex.reasons = append(ex.reasons, fmt.Sprintf("%s semantic %.2f", f, s))
		}
	}
	return total
}

// scored is a candidate with its final score.
type scored struct {
	en    *entry
	score float64
	ex    *explanation
}

// better is the default ordering: score descending, then name, then id.
func better(a, b *scored) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	if a.en.name() != b.en.name() {
		return a.en.name() < b.en.name()
	}
	return a.en.id() < b.en.id()
}

// rank orders candidates and returns the first k of them (all when k <= 0)
// with explanations, plus the number of records that survived scoring.
func (e *Engine) rank(rp *rankPlan, candidates []*entry, k int) ([]*scored, int) {
	if k > 0 && rp.hook == nil && rp.less == nil && rp.tieBreak == TieBreakName && !e.opts.disableTopK {
		return e.rankTopK(rp, candidates, k)
	}
	return e.rankAll(rp, candidates, k)
}

// rankTopK scores every candidate without explanations, keeps the best k in
// a bounded heap, and explains only those.
func (e *Engine) rankTopK(rp *rankPlan, candidates []*entry, k int) ([]*scored, int) {
	h := &worstFirst{}
	total := 0
	for _, en := range candidates {
		s := &scored{en: en, score: e.score(rp, en, nil)}
		if s.score < 0 {
			continue
		}
		total++
		if h.Len() < k {
			heap.Push(h, s)
		} else if better(s, (*h)[0]) {
			(*h)[0] = s
			heap.Fix(h, 0)
		}
	}
	out := []*scored(*h)
	sort.Slice(out, func(i, j int) bool { return better(out[i], out[j]) })
	for _, s := range out {
		s.ex = newExplanation()
		e.score(rp, s.en, s.ex)
	}
	return out, total
}

func (e *Engine) rankAll(rp *rankPlan, candidates []*entry, k int) ([]*scored, int) {
	out := make([]*scored, 0, len(candidates))
	for _, en := range candidates {
		ex := newExplanation()
		s := &scored{en: en, score: e.score(rp, en, ex), ex: ex}
		if rp.hook != nil {
			keep := e.applyHook(rp.hook, s)
			if !keep {
				continue
			}
		}
		if s.score < 0 {
			continue
		}
		out = append(out, s)
	}

	switch {
	case rp.less != nil:
		matches := make(map[*scored]Match, len(out))
		for _, s := range out {
			matches[s] = e.baseMatch(s)
		}
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].score != out[j].score {
				return out[i].score > out[j].score
			}
			return rp.less(matches[out[i]], matches[out[j]])
		})
	case rp.tieBreak == TieBreakNone:
		sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })
	default:
		sort.SliceStable(out, func(i, j int) bool { return better(out[i], out[j]) })
	}

	total := len(out)
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, total
}

// applyHook runs hook on s and reports whether s is kept.
func (e *Engine) applyHook(hook ScoreHook, s *scored) (keep bool) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Warn("score hook panicked", zap.String("id", s.en.id()), zap.Any("panic", r))
			keep = false
		}
	}()
	res, err := hook(HookInput{ID: s.en.id(), Tool: s.en.tool, Score: s.score, Fields: s.ex.fields})
	if err != nil {
		e.log.Debug("score hook failed", zap.String("id", s.en.id()), zap.Error(err))
		return false
	}
	switch {
	case res.Exclude:
		return false
	case res.Override != nil:
		s.score = *res.Override
		s.ex.reasons = append(s.ex.reasons, fmt.Sprintf("hook override %.2f", *res.Override))
	case res.Add != 0:
		s.score += res.Add
		s.ex.reasons = append(s.ex.reasons, fmt.Sprintf("hook %+.2f", res.Add))
	}
	return !math.IsNaN(s.score)
}

func newExplanation() *explanation {
	return &explanation{fields: make(map[Field]float64)}
}

// baseMatch builds the identity and score part of a Match.
func (e *Engine) baseMatch(s *scored) Match {
	m := Match{ID: s.en.id(), Name: s.en.name(), Score: s.score}
	if s.ex != nil {
		m.TagScore = s.ex.tagScore
		if len(s.ex.fields) > 0 {
			m.Fields = s.ex.fields
		}
		m.Reasons = s.ex.reasons
	}
	return m
}

// worstFirst is a min-heap of scored keeping the worst candidate at the
// root.
type worstFirst []*scored

func (h worstFirst) Len() int           { return len(h) }
func (h worstFirst) Less(i, j int) bool { return better(h[j], h[i]) }
func (h worstFirst) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *worstFirst) Push(x any)        { *h = append(*h, x.(*scored)) }
func (h *worstFirst) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
