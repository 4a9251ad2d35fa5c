package toolquery

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/jonwraymond/toolmodel"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func ptr[T any](v T) *T { return &v }

func withSchema(tool toolmodel.Tool, props map[string]string, required ...string) toolmodel.Tool {
	p := make(map[string]any, len(props))
	for k, typ := range props {
		p[k] = map[string]any{"type": typ}
	}
	schema := map[string]any{"type": "object", "properties": p}
	if len(required) > 0 {
		req := make([]any, len(required))
		for i, r := range required {
			req[i] = r
		}
		schema["required"] = req
	}
	tool.InputSchema = schema
	return tool
}

// scenarioTools is the three-record catalog used by the end-to-end
// scenarios.
func scenarioTools() []toolmodel.Tool {
	return []toolmodel.Tool{
		withSchema(makeTestTool("send-email", "", "Send an email message", []string{"comm"}),
			map[string]string{"recipient": "string", "subject": "string", "body": "string"}, "recipient"),
		withSchema(makeTestTool("send-sms", "", "Send a text message", []string{"comm"}),
			map[string]string{"phone": "string", "text": "string"}, "phone"),
		withSchema(makeTestTool("get-weather", "", "Get weather forecast", []string{"weather"}),
			map[string]string{"city": "string", "days": "integer"}, "city"),
	}
}

func mustFilter(t *testing.T, e *Engine, c *Criteria) []string {
	t.Helper()
	got, err := e.Filter(context.Background(), c)
	if err != nil {
		t.Fatalf("Filter failed: %v", err)
	}
	return toolNames(got)
}

func assertNames(t *testing.T, got, want []string) {
	t.Helper()
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("unexpected records (-want +got):\n%s", diff)
	}
}

// recordingObserver collects telemetry events.
type recordingObserver struct{ events []Event }

func (r *recordingObserver) Observe(ev Event) { r.events = append(r.events, ev) }

// ============================================================
// Scenarios
// ============================================================

func TestScenario_FuzzyText(t *testing.T) {
	e := NewEngine(Records(scenarioTools()...))
	got := mustFilter(t, e, &Criteria{Text: &TextQuery{Query: "send message"}})
	assertNames(t, got, []string{"send-email", "send-sms"})
}

func TestScenario_TagAny(t *testing.T) {
	e := NewEngine(Records(scenarioTools()...))
	got := mustFilter(t, e, &Criteria{Tags: &TagFilter{Any: []string{"comm"}}})
	assertNames(t, got, []string{"send-email", "send-sms"})
}

func TestScenario_SchemaKey(t *testing.T) {
	e := NewEngine(Records(scenarioTools()...))
	got := mustFilter(t, e, &Criteria{Schema: &SchemaFilter{RequiredKeys: []string{"recipient"}}})
	assertNames(t, got, []string{"send-email"})
}

func TestScenario_AddAfterBuild(t *testing.T) {
	c := newTestCatalog(t, scenarioTools()...)
	e := NewEngine(c)
	defer e.Close()

	mustFilter(t, e, nil) // build
	before := e.entries["send-email"]

	mustRegister(t, c, makeTestTool("send-fax", "", "Send a fax", []string{"comm"}))

	got := mustFilter(t, e, &Criteria{Text: &TextQuery{Query: "send-fax", Mode: MatchExact, Fields: []Field{FieldName}}})
	if !slices.Contains(got, "send-fax") {
		t.Fatalf("expected send-fax in %v", got)
	}
	if e.entries["send-email"] != before {
		t.Fatalf("existing records must not be re-indexed on add")
	}
}

func TestScenario_RemoveDropsBucket(t *testing.T) {
	c := newTestCatalog(t, scenarioTools()...)
	e := NewEngine(c)
	defer e.Close()

	mustFilter(t, e, nil)
	if err := c.Unregister("get-weather"); err != nil {
		t.Fatalf("Unregister failed: %v", err)
	}

	got := mustFilter(t, e, &Criteria{Tags: &TagFilter{Any: []string{"weather"}}})
	assertNames(t, got, nil)
	if e.structural.HasTag("weather") {
		t.Fatalf("weather tag bucket should be deleted")
	}
}

func TestScenario_PreferredTagRanking(t *testing.T) {
	tools := append(scenarioTools(), makeTestTool("alerts", "", "Weather alerts", []string{"weather"}))
	e := NewEngine(Records(tools...))
	res, err := e.Search(context.Background(), Query{
		Rank: &Rank{PreferredTags: []string{"comm"}, TagWeight: 2},
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(res.Matches) != 4 {
		t.Fatalf("expected 4 matches, got %d", len(res.Matches))
	}
	if res.Matches[0].Name != "send-email" || res.Matches[1].Name != "send-sms" {
		t.Fatalf("unexpected order: %s, %s", res.Matches[0].Name, res.Matches[1].Name)
	}
	if res.Matches[0].Score != 2 || res.Matches[0].TagScore != 2 {
		t.Errorf("expected tag score 2, got %+v", res.Matches[0])
	}
	for _, m := range res.Matches[2:] {
		if m.Score >= res.Matches[1].Score {
			t.Errorf("weather tool %s should rank below comm tools", m.Name)
		}
	}
}

// ============================================================
// Tests for Criteria evaluation
// ============================================================

func criteriaTools() []toolmodel.Tool {
	read := makeTestTool("read-file", "fs", "Read a file from disk", []string{"files", "read"})
	read.Annotations = &mcp.ToolAnnotations{ReadOnlyHint: true, IdempotentHint: true, DestructiveHint: ptr(false), OpenWorldHint: ptr(false)}
	read.Meta = mcp.Meta{"owner": "platform", "cost": 1.0, "labels": []any{"stable", "core"}}
	read = withSchema(read, map[string]string{"path": "string"}, "path")

	write := makeTestTool("write-file", "fs", "Write a file to disk", []string{"files", "write"})
	write.Annotations = &mcp.ToolAnnotations{DestructiveHint: ptr(true)}
	write.Meta = mcp.Meta{"owner": "platform-storage", "cost": 5, "deprecated": true}
	write = withSchema(write, map[string]string{"path": "string", "content": "string"}, "path", "content")

	fetch := makeTestTool("fetch", "net", "Fetch a URL", []string{"http"})
	fetch.Version = "2.0.0"
	fetch.Meta = mcp.Meta{"owner": "web", "cost": 10}
	fetch = withSchema(fetch, map[string]string{"url": "string", "retries": "integer"}, "url")

	return []toolmodel.Tool{read, write, fetch}
}

func TestFilter_Criteria(t *testing.T) {
	e := NewEngine(Records(criteriaTools()...))

	tests := []struct {
		name string
		c    *Criteria
		want []string
	}{
		{"nil matches all", nil, []string{"read-file", "write-file", "fetch"}},
		{"namespace", &Criteria{Namespaces: []string{"net"}}, []string{"fetch"}},
		{"version", &Criteria{Versions: []string{"2.0.0"}}, []string{"fetch"}},
		{"deprecated", &Criteria{Deprecated: ptr(true)}, []string{"write-file"}},
		{"not deprecated", &Criteria{Deprecated: ptr(false)}, []string{"read-file", "fetch"}},
		{"read only", &Criteria{Risk: &RiskFilter{ReadOnly: ptr(true)}}, []string{"read-file"}},
		{"destructive by default", &Criteria{Risk: &RiskFilter{Destructive: ptr(true)}}, []string{"write-file", "fetch"}},
		{"closed world", &Criteria{Risk: &RiskFilter{OpenWorld: ptr(false)}}, []string{"read-file"}},
		{"tags all", &Criteria{Tags: &TagFilter{All: []string{"files", "READ"}}}, []string{"read-file"}},
		{"tags none", &Criteria{Tags: &TagFilter{None: []string{"files"}}}, []string{"fetch"}},
		{"schema keys case-insensitive", &Criteria{Schema: &SchemaFilter{RequiredKeys: []string{"PATH", "content"}}}, []string{"write-file"}},
		{"schema property type", &Criteria{Schema: &SchemaFilter{Properties: map[string]string{"retries": "number"}}}, []string{"fetch"}},
		{"schema property wrong type", &Criteria{Schema: &SchemaFilter{Properties: map[string]string{"path": "integer"}}}, nil},
		{"meta has keys", &Criteria{Metadata: &MetadataFilter{HasKeys: []string{"labels"}}}, []string{"read-file"}},
		{"meta equals number", &Criteria{Metadata: &MetadataFilter{Equals: map[string]any{"cost": 5}}}, []string{"write-file"}},
		{"meta contains substring", &Criteria{Metadata: &MetadataFilter{Contains: map[string]any{"owner": "storage"}}}, []string{"write-file"}},
		{"meta contains element", &Criteria{Metadata: &MetadataFilter{Contains: map[string]any{"labels": "core"}}}, []string{"read-file"}},
		{"meta starts with", &Criteria{Metadata: &MetadataFilter{StartsWith: map[string]string{"owner": "platform"}}}, []string{"read-file", "write-file"}},
		{"meta range", &Criteria{Metadata: &MetadataFilter{Range: map[string]NumericRange{"cost": {Min: ptr(2.0), Max: ptr(10.0)}}}}, []string{"write-file", "fetch"}},
		{"or", &Criteria{Or: []*Criteria{{Namespaces: []string{"net"}}, {Deprecated: ptr(true)}}}, []string{"write-file", "fetch"}},
		{"and", &Criteria{And: []*Criteria{{Namespaces: []string{"fs"}}, {Tags: &TagFilter{Any: []string{"write"}}}}}, []string{"write-file"}},
		{"not any", &Criteria{Not: CriteriaList{{Namespaces: []string{"net"}}, {Tags: &TagFilter{Any: []string{"write"}}}}}, []string{"read-file"}},
		{"text contains", &Criteria{Text: &TextQuery{Query: "fil", Mode: MatchContains, Fields: []Field{FieldName}}}, []string{"read-file", "write-file"}},
		{"text in schema keys", &Criteria{Text: &TextQuery{Query: "retries", Mode: MatchExact, Fields: []Field{FieldSchemaKeys}}}, []string{"fetch"}},
		{"text in metadata keys", &Criteria{Text: &TextQuery{Query: "labels", Mode: MatchExact, Fields: []Field{FieldMetadataKeys}}}, []string{"read-file"}},
		{"fuzzy typo", &Criteria{Text: &TextQuery{Query: "wirte"}}, nil},
		{"fuzzy typo low threshold", &Criteria{Text: &TextQuery{Query: "wrte", Threshold: ptr(0.6)}}, []string{"write-file"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertNames(t, mustFilter(t, e, tt.c), tt.want)
		})
	}
}

func TestFilter_ThresholdClamped(t *testing.T) {
	e := NewEngine(Records(criteriaTools()...), Options{CacheSize: -1})
	for _, tc := range []struct{ raw, clamped float64 }{{7, 1}, {-3, 0}} {
		got := mustFilter(t, e, &Criteria{Text: &TextQuery{Query: "wrte fetc", Threshold: ptr(tc.raw)}})
		want := mustFilter(t, e, &Criteria{Text: &TextQuery{Query: "wrte fetc", Threshold: ptr(tc.clamped)}})
		assertNames(t, got, want)
	}
	got := mustFilter(t, e, &Criteria{Text: &TextQuery{Query: "fetch", Threshold: ptr(7.0)}})
	assertNames(t, got, []string{"fetch"})
}

func TestOptions_ZeroThresholdIsHonored(t *testing.T) {
	perQuery := NewEngine(Records(criteriaTools()...))
	want := mustFilter(t, perQuery, &Criteria{Text: &TextQuery{Query: "wrte fetc", Threshold: ptr(0.0)}})

	e := NewEngine(Records(criteriaTools()...), Options{Threshold: ptr(0.0)})
	if e.defaults.threshold != 0 {
		t.Fatalf("explicit zero threshold replaced by %v", e.defaults.threshold)
	}
	assertNames(t, mustFilter(t, e, &Criteria{Text: &TextQuery{Query: "wrte fetc"}}), want)

	cfg, err := ParseConfig([]byte("threshold: 0\n"))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	e = NewEngine(Records(criteriaTools()...), cfg.Options())
	assertNames(t, mustFilter(t, e, &Criteria{Text: &TextQuery{Query: "wrte fetc"}}), want)
}

func fillerTags(n int, last string) []string {
	tags := make([]string, 0, n+1)
	for i := range n {
		tags = append(tags, fmt.Sprintf("t%d", i))
	}
	return append(tags, last)
}

func TestFilter_QueryTagsNormalizedOneByOne(t *testing.T) {
	e := NewEngine(Records(scenarioTools()...))
	tests := []struct {
		name string
		tags *TagFilter
		want []string
	}{
		{"any beyond record tag limit", &TagFilter{Any: fillerTags(20, "weather")}, []string{"get-weather"}},
		{"all beyond record tag limit", &TagFilter{All: fillerTags(20, "weather")}, nil},
		{"none beyond record tag limit", &TagFilter{None: fillerTags(20, "comm")}, []string{"get-weather"}},
		{"any normalized to nothing", &TagFilter{Any: []string{"日本"}}, nil},
		{"any normalized to nothing or comm", &TagFilter{Any: []string{"日本", " COMM "}}, []string{"send-email", "send-sms"}},
		{"all normalized to nothing", &TagFilter{All: []string{"!!"}}, nil},
		{"none normalized to nothing", &TagFilter{None: []string{"日本"}}, []string{"send-email", "send-sms", "get-weather"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertNames(t, mustFilter(t, e, &Criteria{Tags: tt.tags}), tt.want)
		})
	}
}

func TestFilter_CustomPredicate(t *testing.T) {
	e := NewEngine(Records(criteriaTools()...))
	c := &Criteria{Metadata: &MetadataFilter{Match: func(meta map[string]any) (bool, error) {
		switch meta["owner"] {
		case "web":
			panic("boom")
		case "platform":
			return false, errors.New("rejected")
		}
		return true, nil
	}}}
	assertNames(t, mustFilter(t, e, c), []string{"write-file"})
	if e.cache.len() != 0 {
		t.Fatalf("criteria with an unkeyed predicate must not be cached")
	}

	c.Metadata.MatchKey = "owner-check"
	assertNames(t, mustFilter(t, e, c), []string{"write-file"})
	if e.cache.len() != 1 {
		t.Fatalf("keyed predicate should be cached")
	}
}

func TestFilter_InvalidCriteria(t *testing.T) {
	e := NewEngine(Records(scenarioTools()...))
	bad := []*Criteria{
		{Text: &TextQuery{Query: "x", Mode: "regex"}},
		{Text: &TextQuery{Query: "x", Fields: []Field{"body"}}},
		{Or: []*Criteria{nil}},
		{Schema: &SchemaFilter{Properties: map[string]string{"a": "str"}}},
		{Metadata: &MetadataFilter{Range: map[string]NumericRange{"cost": {Min: ptr(3.0), Max: ptr(1.0)}}}},
		{Metadata: &MetadataFilter{Equals: map[string]any{"ch": make(chan int)}}},
	}
	for i, c := range bad {
		if _, err := e.Filter(context.Background(), c); !errors.Is(err, ErrInvalidCriteria) {
			t.Errorf("case %d: expected ErrInvalidCriteria, got %v", i, err)
		}
	}
	if e.built {
		t.Fatalf("invalid criteria must be rejected before the indices are touched")
	}
}

func TestFilter_DeepNestingRejected(t *testing.T) {
	c := &Criteria{}
	for i := 0; i < maxCriteriaDepth+2; i++ {
		c = &Criteria{And: []*Criteria{c}}
	}
	if err := c.Validate(); !errors.Is(err, ErrInvalidCriteria) {
		t.Fatalf("expected ErrInvalidCriteria, got %v", err)
	}
}

// ============================================================
// Tests for the result cache
// ============================================================

func TestCache_RepeatedQueryHits(t *testing.T) {
	obs := &recordingObserver{}
	e := NewEngine(Records(scenarioTools()...), Options{Observer: obs})
	c := &Criteria{Tags: &TagFilter{Any: []string{"comm"}}}

	first := mustFilter(t, e, c)
	// Equivalent criteria normalize to the same key.
	second := mustFilter(t, e, &Criteria{Tags: &TagFilter{Any: []string{"COMM", "comm"}}})
	assertNames(t, second, first)

	if len(obs.events) != 2 || obs.events[0].CacheHit || !obs.events[1].CacheHit {
		t.Fatalf("expected miss then hit, got %+v", obs.events)
	}
}

func TestCache_NeverStaleAfterMutation(t *testing.T) {
	c := newTestCatalog(t, scenarioTools()...)
	e := NewEngine(c)
	defer e.Close()
	q := &Criteria{Tags: &TagFilter{Any: []string{"comm"}}}

	assertNames(t, mustFilter(t, e, q), []string{"send-email", "send-sms"})

	// Add and remove in one batch keeps the catalog size unchanged.
	mustRegister(t, c, makeTestTool("send-fax", "", "Send a fax", []string{"comm"}))
	if err := c.Unregister("get-weather"); err != nil {
		t.Fatal(err)
	}
	assertNames(t, mustFilter(t, e, q), []string{"send-email", "send-sms", "send-fax"})

	if err := c.Unregister("send-sms"); err != nil {
		t.Fatal(err)
	}
	assertNames(t, mustFilter(t, e, q), []string{"send-email", "send-fax"})
}

func TestCache_Disabled(t *testing.T) {
	e := NewEngine(Records(scenarioTools()...), Options{CacheSize: -1})
	mustFilter(t, e, &Criteria{Tags: &TagFilter{Any: []string{"comm"}}})
	if e.cache.len() != 0 {
		t.Fatalf("disabled cache should stay empty")
	}
}

func TestCache_BoundedSize(t *testing.T) {
	e := NewEngine(Records(scenarioTools()...), Options{CacheSize: 2})
	for _, ns := range []string{"a", "b", "c"} {
		mustFilter(t, e, &Criteria{Namespaces: []string{ns}})
	}
	if n := e.cache.len(); n > 2 {
		t.Fatalf("cache exceeded its bound: %d", n)
	}
}

// ============================================================
// Tests for index maintenance
// ============================================================

// mutableCatalog is a catalog that does not report its mutations.
type mutableCatalog struct{ tools []toolmodel.Tool }

func (m *mutableCatalog) List() []toolmodel.Tool { return m.tools }

func TestFilter_UnreportedAddIsStillFound(t *testing.T) {
	m := &mutableCatalog{tools: scenarioTools()}
	e := NewEngine(m, Options{CacheSize: -1})
	mustFilter(t, e, nil)

	m.tools = append(m.tools, makeTestTool("send-fax", "", "Send a fax", []string{"comm"}))
	got := mustFilter(t, e, &Criteria{Tags: &TagFilter{Any: []string{"comm"}}})
	assertNames(t, got, []string{"send-email", "send-sms", "send-fax"})
}

func TestReindex_PicksUpUnreportedChanges(t *testing.T) {
	m := &mutableCatalog{tools: scenarioTools()}
	e := NewEngine(m)
	mustFilter(t, e, nil)
	gen := e.Generation()

	m.tools = m.tools[:2]
	if err := e.Reindex(context.Background()); err != nil {
		t.Fatalf("Reindex failed: %v", err)
	}
	if e.Generation() <= gen {
		t.Fatalf("Reindex must advance the generation")
	}
	if e.structural.HasTag("weather") {
		t.Fatalf("rebuilt index still holds removed record")
	}
}

type indexState struct {
	Structural any
	Text       any
	Vectors    any
	IDs        []string
}

func snapshotEngine(e *Engine) indexState {
	ids := make([]string, 0, len(e.entries))
	for id := range e.entries {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return indexState{
		Structural: e.structural.Snapshot(),
		Text:       e.text.Snapshot(),
		Vectors:    e.vectors.Snapshot(),
		IDs:        ids,
	}
}

func randomTool(r *rand.Rand) toolmodel.Tool {
	names := []string{"send", "get", "list", "fetch", "sync", "push"}
	objects := []string{"email", "weather", "files", "issues", "mail", "repo"}
	tags := []string{"comm", "weather", "files", "git", "net"}
	keys := []string{"path", "url", "recipient", "city", "body"}

	tool := makeTestTool(
		names[r.IntN(len(names))]+"-"+objects[r.IntN(len(objects))],
		[]string{"", "ns1", "ns2"}[r.IntN(3)],
		fmt.Sprintf("%s the %s", names[r.IntN(len(names))], objects[r.IntN(len(objects))]),
		nil,
	)
	for _, tg := range tags {
		if r.IntN(3) == 0 {
			tool.Tags = append(tool.Tags, tg)
		}
	}
	props := make(map[string]string)
	for _, k := range keys {
		if r.IntN(3) == 0 {
			props[k] = "string"
		}
	}
	tool = withSchema(tool, props)
	if r.IntN(4) == 0 {
		tool.Meta = mcp.Meta{"owner": "team", "deprecated": r.IntN(2) == 0}
	}
	return tool
}

func TestIncrementalMatchesRebuild(t *testing.T) {
	for _, withEmbedder := range []bool{false, true} {
		t.Run(fmt.Sprintf("embedder=%v", withEmbedder), func(t *testing.T) {
			r := rand.New(rand.NewPCG(42, 7))
			var opts Options
			if withEmbedder {
				opts.Embedder = newHashEmbedder(16)
			}
			for round := 0; round < 20; round++ {
				c := newTestCatalog(t)
				e := NewEngine(c, opts)
				mustFilter(t, e, nil)

				for op := 0; op < 30; op++ {
					list := c.List()
					if len(list) > 0 && r.IntN(3) == 0 {
						if err := c.Unregister(RecordID(list[r.IntN(len(list))])); err != nil {
							t.Fatal(err)
						}
						continue
					}
					mustRegister(t, c, randomTool(r))
				}

				fresh := NewEngine(Records(c.List()...), opts)
				mustFilter(t, fresh, nil)

				if diff := cmp.Diff(snapshotEngine(fresh), snapshotEngine(e), cmpopts.EquateEmpty()); diff != "" {
					t.Fatalf("round %d: incremental index differs from rebuild (-rebuild +incremental):\n%s", round, diff)
				}
				e.Close()
			}
		})
	}
}

func TestFilter_IndexNarrowingIsSound(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 3))
	tools := make([]toolmodel.Tool, 0, 60)
	for i := 0; i < 60; i++ {
		tools = append(tools, randomTool(r))
	}
	queries := []*Criteria{
		{Tags: &TagFilter{Any: []string{"comm", "git"}}},
		{Tags: &TagFilter{All: []string{"files", "net"}}},
		{Schema: &SchemaFilter{RequiredKeys: []string{"path"}}},
		{Text: &TextQuery{Query: "emial"}},
		{Text: &TextQuery{Query: "fil", Mode: MatchContains}},
		{Text: &TextQuery{Query: "weather", Mode: MatchExact, Fields: []Field{FieldName, FieldTags}}},
		{Or: []*Criteria{{Tags: &TagFilter{Any: []string{"net"}}}, {Text: &TextQuery{Query: "sync"}}}},
		{Not: CriteriaList{{Tags: &TagFilter{Any: []string{"comm"}}}}},
	}
	e := NewEngine(Records(tools...), Options{CacheSize: -1})
	for i, q := range queries {
		got := mustFilter(t, e, q)

		// Reference: evaluate the predicate over every record.
		p := e.compile(context.Background(), q.normalize(e.defaults))
		var want []string
		for _, tool := range tools {
			if e.matches(p, newEntry(tool)) {
				want = append(want, tool.Name)
			}
		}
		if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
			t.Errorf("query %d: narrowed result differs from full scan:\n%s", i, diff)
		}
	}
}

// ============================================================
// Tests for telemetry plumbing
// ============================================================

type observingCatalog struct {
	Catalog
	events []Event
}

func (o *observingCatalog) Observe(ev Event) {
	o.events = append(o.events, ev)
	panic("observer failure must not reach the caller")
}

func TestObserver_CatalogSinkAndPanics(t *testing.T) {
	cat := &observingCatalog{Catalog: Records(scenarioTools()...)}
	e := NewEngine(cat)
	got := mustFilter(t, e, &Criteria{Tags: &TagFilter{Any: []string{"weather"}}})
	assertNames(t, got, []string{"get-weather"})
	if len(cat.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(cat.events))
	}
	ev := cat.events[0]
	if ev.Op != OpFilter || ev.Matched != 1 || ev.Records != 3 || ev.Candidates != 1 {
		t.Fatalf("unexpected event %+v", ev)
	}
}
