package toolquery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jonwraymond/toolmodel"
	"go.uber.org/zap"

	"github.com/jonwraymond/toolquery/internal/fuzzy"
	"github.com/jonwraymond/toolquery/internal/idset"
	"github.com/jonwraymond/toolquery/internal/invindex"
	"github.com/jonwraymond/toolquery/internal/lsh"
	"github.com/jonwraymond/toolquery/internal/textindex"
)

// Error values for consistent error handling by callers.
var (
	ErrNotFound        = errors.New("tool not found")
	ErrInvalidTool     = errors.New("invalid tool")
	ErrInvalidCriteria = errors.New("invalid criteria")
	ErrInvalidCursor   = errors.New("invalid cursor")
	ErrInvalidConfig   = errors.New("invalid config")
)

const (
	// DefaultSemanticThreshold is the minimum cosine similarity for a
	// semantic text match.
	DefaultSemanticThreshold = 0.5
	// DefaultCacheSize is the number of filter results kept per generation.
	DefaultCacheSize = 256

	defaultEmbedTimeout     = 30 * time.Second
	defaultEmbedBatchSize   = 64
	defaultEmbedConcurrency = 4
	defaultQueryRetry       = 30 * time.Second
)

// DefaultFieldWeights are the ranking weights of each text field.
var DefaultFieldWeights = map[Field]float64{
	FieldName:         3,
	FieldTags:         2,
	FieldDescription:  1,
	FieldSchemaKeys:   1,
	FieldMetadataKeys: 1,
}

// Options configures an Engine. Zero values select the defaults.
type Options struct {
	Logger   *zap.Logger
	Observer Observer

	// Embedder enables semantic matching for fuzzy text queries.
	Embedder Embedder
	// EmbedAsync resolves missing embeddings in the background instead of
	// on the calling goroutine. Queries proceed on the embeddings available
	// so far; use Warm to wait for all of them.
	EmbedAsync       bool
	EmbedTimeout     time.Duration
	EmbedBatchSize   int
	EmbedConcurrency int

	// Threshold is the default fuzzy similarity threshold; nil selects
	// DefaultThreshold.
	Threshold *float64
	// SemanticThreshold is the default cosine similarity threshold; nil
	// selects DefaultSemanticThreshold.
	SemanticThreshold *float64
	// FieldWeights override DefaultFieldWeights per field.
	FieldWeights map[Field]float64
	// CacheSize bounds the filter result cache. Negative disables it.
	CacheSize int

	// disableTopK forces the full ranking path.
	disableTopK bool
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.EmbedTimeout <= 0 {
		o.EmbedTimeout = defaultEmbedTimeout
	}
	if o.EmbedBatchSize <= 0 {
		o.EmbedBatchSize = defaultEmbedBatchSize
	}
	if o.EmbedConcurrency <= 0 {
		o.EmbedConcurrency = defaultEmbedConcurrency
	}
	if o.Threshold == nil {
		t := DefaultThreshold
		o.Threshold = &t
	}
	if o.SemanticThreshold == nil {
		t := DefaultSemanticThreshold
		o.SemanticThreshold = &t
	}
	weights := make(map[Field]float64, len(DefaultFieldWeights))
	for f, w := range DefaultFieldWeights {
		weights[f] = w
	}
	for f, w := range o.FieldWeights {
		weights[f] = w
	}
	o.FieldWeights = weights
	if o.CacheSize == 0 {
		o.CacheSize = DefaultCacheSize
	}
	return o
}

// Engine answers structured filters and ranked searches over a Catalog.
//
// Indices are built lazily on the first query and then maintained
// incrementally through Add and Remove, which the engine calls itself when
// the catalog implements ChangeNotifier. Catalogs that do not notify must
// report their mutations with Add and Remove, or call Reindex.
//
// An Engine is not safe for concurrent use: queries and mutations must be
// serialized by the caller. Embedder calls are the only work done on other
// goroutines.
type Engine struct {
	catalog  Catalog
	opts     Options
	defaults defaults
	log      *zap.Logger

	built      bool
	generation uint64
	entries    map[string]*entry
	structural *invindex.Index
	text       *textindex.Index
	vectors    *lsh.Index
	embeds     *embeddingStore
	// pending holds ids whose embeddings were still resolving when last
	// indexed.
	pending idset.Set
	cache   *resultCache

	unsubscribe func()
}

// NewEngine creates an engine over catalog. Only the first Options value is
// used.
func NewEngine(catalog Catalog, opts ...Options) *Engine {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	o = o.withDefaults()

	e := &Engine{
		catalog: catalog,
		opts:    o,
		defaults: defaults{
			threshold:         fuzzy.ClampThreshold(*o.Threshold),
			semanticThreshold: clampSemantic(*o.SemanticThreshold, DefaultSemanticThreshold),
		},
		log:   o.Logger.Named("toolquery"),
		cache: newResultCache(o.CacheSize),
	}
	if o.Embedder != nil {
		e.embeds = newEmbeddingStore(o.Embedder, o, e.log)
	}
	e.resetIndices()

	if n, ok := catalog.(ChangeNotifier); ok {
		e.unsubscribe = n.OnChange(e.apply)
	}
	return e
}

// Close detaches the engine from its catalog's change notifications.
func (e *Engine) Close() {
	if e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}
}

// Generation returns the engine's mutation counter. It increases on every
// Add, Remove and Reindex.
func (e *Engine) Generation() uint64 { return e.generation }

func (e *Engine) apply(ev ChangeEvent) {
	switch ev.Kind {
	case ChangeAdded, ChangeUpdated:
		e.Add(ev.Tool)
	case ChangeRemoved:
		e.Remove(ev.ID)
	}
}

func (e *Engine) resetIndices() {
	e.entries = make(map[string]*entry)
	e.structural = invindex.New()
	e.text = textindex.New()
	e.vectors = lsh.New()
	e.pending = make(idset.Set)
}

func (e *Engine) bump() {
	e.generation++
	e.cache.reset(e.generation)
}

// Add indexes tool, replacing any record with the same id. The tool must
// already be part of the catalog's List.
func (e *Engine) Add(tool toolmodel.Tool) {
	e.bump()
	if !e.built {
		return
	}
	en := e.insert(tool)
	ctx, cancel := context.WithTimeout(context.Background(), e.opts.EmbedTimeout)
	defer cancel()
	e.embedEntries(ctx, []*entry{en})
	e.log.Debug("record added", zap.String("id", en.id()), zap.Uint64("generation", e.generation))
}

// Remove drops the record with the given id from the indices.
func (e *Engine) Remove(id string) {
	e.bump()
	if !e.built {
		return
	}
	if en, ok := e.entries[id]; ok {
		e.unindex(en)
		e.log.Debug("record removed", zap.String("id", id), zap.Uint64("generation", e.generation))
	}
}

// Reindex rebuilds every index from the catalog and, with an embedder,
// waits for all record embeddings.
func (e *Engine) Reindex(ctx context.Context) error {
	e.bump()
	e.build(ctx, e.catalog.List())
	if e.embeds == nil {
		return nil
	}
	return e.Warm(ctx)
}

// Warm embeds every record channel and the given queries, retrying texts
// that failed before, and folds the results into the vector index. It
// returns only when all embedder calls have finished or ctx is done.
func (e *Engine) Warm(ctx context.Context, queries ...string) error {
	e.ensureBuilt(ctx, e.catalog.List())
	if e.embeds == nil {
		return nil
	}
	ens := e.sortedEntries()
	var texts []string
	for _, en := range ens {
		texts = append(texts, channelTexts(en)...)
	}
	for _, q := range queries {
		if t := queryText(q); t != "" {
			texts = append(texts, t)
		}
	}
	err := e.embeds.resolve(ctx, texts, true)
	for _, en := range ens {
		e.syncVectors(en)
	}
	e.cache.reset(e.generation)
	e.log.Debug("embeddings warmed", zap.Int("texts", len(texts)), zap.Int("cached", e.embeds.size()))
	return err
}

func (e *Engine) sortedEntries() []*entry {
	ids := make([]string, 0, len(e.entries))
	for id := range e.entries {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]*entry, len(ids))
	for i, id := range ids {
		out[i] = e.entries[id]
	}
	return out
}

func (e *Engine) ensureBuilt(ctx context.Context, list []toolmodel.Tool) {
	if !e.built {
		e.build(ctx, list)
	}
}

func (e *Engine) build(ctx context.Context, list []toolmodel.Tool) {
	start := time.Now()
	e.resetIndices()
	ens := make([]*entry, 0, len(list))
	for _, tool := range list {
		ens = append(ens, e.insert(tool))
	}
	e.built = true
	e.embedEntries(ctx, ens)
	e.cache.reset(e.generation)
	e.log.Debug("indices built",
		zap.Int("records", len(e.entries)),
		zap.Duration("took", time.Since(start)))
}

func (e *Engine) insert(tool toolmodel.Tool) *entry {
	en := newEntry(tool)
	if old, ok := e.entries[en.id()]; ok {
		e.unindex(old)
	}
	e.entries[en.id()] = en
	e.structural.Add(en.id(), en.view.tags, en.view.schemaKeys)
	e.text.Add(en.id(), en.doc)
	return en
}

func (e *Engine) unindex(en *entry) {
	e.structural.Remove(en.id(), en.view.tags, en.view.schemaKeys)
	e.text.Remove(en.id(), en.doc)
	e.vectors.Remove(en.id())
	delete(e.pending, en.id())
	delete(e.entries, en.id())
}

// channelTexts returns the texts embedded for en, one per populated field.
func channelTexts(en *entry) []string {
	var out []string
	for _, f := range textindex.Fields {
		if t := en.doc.Text(f); strings.TrimSpace(t) != "" {
			out = append(out, t)
		}
	}
	return out
}

// embedEntries requests the embeddings of ens and indexes whatever is
// available afterwards.
func (e *Engine) embedEntries(ctx context.Context, ens []*entry) {
	if e.embeds == nil {
		return
	}
	var texts []string
	for _, en := range ens {
		texts = append(texts, channelTexts(en)...)
	}
	if e.opts.EmbedAsync {
		e.embeds.resolveAsync(texts, false)
	} else if err := e.embeds.resolve(ctx, texts, false); err != nil {
		e.log.Warn("embedding interrupted", zap.Error(err))
	}
	for _, en := range ens {
		e.syncVectors(en)
	}
}

// syncVectors indexes the embeddings of en that are available now. It
// reports whether the indexed state of en changed.
func (e *Engine) syncVectors(en *entry) bool {
	if e.embeds == nil {
		return false
	}
	var entries []lsh.Entry
	waiting := false
	for _, f := range textindex.Fields {
		t := en.doc.Text(f)
		if strings.TrimSpace(t) == "" {
			continue
		}
		switch v, st := e.embeds.state(t); st {
		case vectorReady:
			entries = append(entries, lsh.Entry{Field: string(f), Text: t, Vector: v})
		case vectorPending, vectorAbsent:
			waiting = true
		}
	}
	id := en.id()
	changed := !sameEntries(e.vectors.Entries(id), entries) ||
		len(entries) == 0 && !e.vectors.Missing(id)
	if changed {
		e.vectors.Put(id, entries)
	}
	if waiting {
		e.pending.Add(id)
	} else {
		delete(e.pending, id)
	}
	return changed
}

func sameEntries(a, b []lsh.Entry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Field != b[i].Field || a[i].Text != b[i].Text {
			return false
		}
	}
	return true
}

// drainPending folds embeddings resolved in the background into the vector
// index. It runs on the caller's goroutine at the start of every query.
func (e *Engine) drainPending() {
	if len(e.pending) == 0 {
		return
	}
	changed := false
	for _, id := range e.pending.Sorted() {
		en, ok := e.entries[id]
		if !ok {
			delete(e.pending, id)
			continue
		}
		if e.syncVectors(en) {
			changed = true
		}
	}
	if changed {
		e.cache.reset(e.generation)
	}
}

func (e *Engine) prepare(ctx context.Context) []toolmodel.Tool {
	list := e.catalog.List()
	e.ensureBuilt(ctx, list)
	e.drainPending()
	return list
}

// Filter returns the catalog records matching c, in catalog order.
func (e *Engine) Filter(ctx context.Context, c *Criteria) ([]toolmodel.Tool, error) {
	start := time.Now()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	list := e.prepare(ctx)
	ens, stats := e.filter(ctx, c.normalize(e.defaults), list)

	out := make([]toolmodel.Tool, len(ens))
	for i, en := range ens {
		out[i] = en.tool
	}
	stats.Op = OpFilter
	stats.Matched = len(out)
	stats.Returned = len(out)
	stats.Duration = time.Since(start)
	e.observe(stats)
	return out, nil
}

// filter evaluates normalized criteria over list.
func (e *Engine) filter(ctx context.Context, c *Criteria, list []toolmodel.Tool) ([]*entry, Event) {
	ev := Event{Generation: e.generation, Records: len(list)}
	cacheable := c.cacheable()
	key := ""
	if cacheable {
		key = c.key()
		if hit, ok := e.cache.get(key, e.generation); ok {
			ev.CacheHit = true
			ev.Candidates = len(hit)
			e.log.Debug("filter cache hit",
				zap.Uint64("key", xxhash.Sum64String(key)),
				zap.Int("matches", len(hit)))
			return hit, ev
		}
	}

	p := e.compile(ctx, c)
	var cand idset.Set
	constrained := false
	if cacheable {
		cand, constrained = e.narrow(p)
	}
	ev.Semantic = anyTextPlan(p, func(tp *textPlan) bool { return tp.hasVector })
	if cacheable && anyTextPlan(p, func(tp *textPlan) bool { return tp.vectorMissing }) {
		// A later call may have the query embedding.
		cacheable = false
	}

	out := make([]*entry, 0)
	for _, tool := range list {
		en, indexed := e.entries[RecordID(tool)]
		if !indexed {
			// Unreported catalog change: evaluate without index help.
			en = newEntry(tool)
		} else if constrained && !cand.Has(en.id()) {
			continue
		}
		ev.Candidates++
		if e.matches(p, en) {
			out = append(out, en)
		}
	}
	if cacheable {
		e.cache.put(key, e.generation, out)
	}
	return out, ev
}

// anyTextPlan reports whether fn holds for a text plan anywhere in p.
func anyTextPlan(p *plan, fn func(*textPlan) bool) bool {
	if p.text != nil && fn(p.text) {
		return true
	}
	for _, list := range [][]*plan{p.and, p.or, p.not} {
		for _, sub := range list {
			if anyTextPlan(sub, fn) {
				return true
			}
		}
	}
	return false
}

// Select chooses what a search returns for each match.
type Select string

const (
	// SelectTool returns the full tool record. It is the default.
	SelectTool Select = "tool"
	// SelectName returns only the id and name.
	SelectName Select = "name"
	// SelectRecord returns the full tool record, stated explicitly.
	SelectRecord Select = "record"
	// SelectSummary returns a Summary projection.
	SelectSummary Select = "summary"
)

// Query is a search request.
type Query struct {
	Criteria *Criteria
	// Rank orders the filtered records. Without it results stay in catalog
	// order with a zero score.
	Rank *Rank
	// Limit bounds the page size; 0 returns every result.
	Limit  int
	Offset int
	// Cursor continues a previous search and overrides Offset.
	Cursor  string
	Select  Select
	Summary SummaryOptions
}

// Result is one page of search results.
type Result struct {
	Matches    []Match `json:"matches"`
	Total      int     `json:"total"`
	NextCursor string  `json:"nextCursor,omitempty"`
}

// Search filters, ranks and paginates the catalog.
func (e *Engine) Search(ctx context.Context, q Query) (*Result, error) {
	start := time.Now()
	if err := q.Criteria.Validate(); err != nil {
		return nil, err
	}
	if err := q.Rank.Validate(); err != nil {
		return nil, err
	}
	if q.Limit < 0 || q.Offset < 0 {
		return nil, fmt.Errorf("%w: negative limit or offset", ErrInvalidCriteria)
	}
	switch q.Select {
	case "", SelectTool, SelectName, SelectRecord, SelectSummary:
	default:
		return nil, fmt.Errorf("%w: unknown select mode %q", ErrInvalidCriteria, q.Select)
	}

	list := e.prepare(ctx)
	c := q.Criteria.normalize(e.defaults)
	checksum := queryChecksum(c.key(), rankKey(q.Rank), e.generation)
	offset, err := pageStart(q.Cursor, q.Offset, checksum)
	if err != nil {
		return nil, err
	}

	ens, ev := e.filter(ctx, c, list)

	var ranked []*scored
	total := len(ens)
	if q.Rank != nil {
		k := 0
		if q.Limit > 0 {
			k = offset + q.Limit
		}
		rp := e.compileRank(ctx, q.Rank)
		ranked, total = e.rank(rp, ens, k)
		if rp.text != nil && rp.text.hasVector {
			ev.Semantic = true
		}
	} else {
		ranked = make([]*scored, len(ens))
		for i, en := range ens {
			ranked[i] = &scored{en: en}
		}
	}

	page, next, err := paginate(ranked, offset, q.Limit, total, checksum)
	if err != nil {
		return nil, err
	}
	res := &Result{Matches: make([]Match, len(page)), Total: total, NextCursor: next}
	for i, s := range page {
		res.Matches[i] = e.project(s, q.Select, q.Summary)
	}

	ev.Op = OpSearch
	ev.Matched = total
	ev.Returned = len(res.Matches)
	ev.Duration = time.Since(start)
	e.observe(ev)
	return res, nil
}

func (e *Engine) project(s *scored, sel Select, opts SummaryOptions) Match {
	m := e.baseMatch(s)
	switch sel {
	case SelectName:
	case SelectSummary:
		sum := buildSummary(s.en, opts)
		m.Summary = &sum
	default:
		t := s.en.tool
		m.Tool = &t
	}
	return m
}

// rankKey serializes the data part of r for cursor checksums.
func rankKey(r *Rank) string {
	if r == nil {
		return ""
	}
	b, err := json.Marshal(r)
	if err != nil {
		return ""
	}
	return string(b)
}

// Find runs a one-off search over src with a fresh engine.
func Find(ctx context.Context, src Catalog, q Query, opts ...Options) (*Result, error) {
	e := NewEngine(src, opts...)
	defer e.Close()
	return e.Search(ctx, q)
}
