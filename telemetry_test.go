package toolquery

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs, err := NewPrometheusObserver(reg, "toolquery")
	if err != nil {
		t.Fatalf("NewPrometheusObserver failed: %v", err)
	}
	e := NewEngine(Records(scenarioTools()...), Options{Observer: obs})

	q := &Criteria{Tags: &TagFilter{Any: []string{"comm"}}}
	mustFilter(t, e, q)
	mustFilter(t, e, q)
	mustSearch(t, e, Query{Criteria: q, Limit: 1})

	if got := testutil.ToFloat64(obs.queries.WithLabelValues("filter", "false")); got != 2 {
		t.Errorf("expected 2 filter calls, got %v", got)
	}
	if got := testutil.ToFloat64(obs.queries.WithLabelValues("search", "false")); got != 1 {
		t.Errorf("expected 1 search call, got %v", got)
	}
	// The second filter and the search share the first filter's result.
	if got := testutil.ToFloat64(obs.cacheHits.WithLabelValues("filter")); got != 1 {
		t.Errorf("expected 1 filter cache hit, got %v", got)
	}
	if got := testutil.ToFloat64(obs.cacheHits.WithLabelValues("search")); got != 1 {
		t.Errorf("expected 1 search cache hit, got %v", got)
	}
	if n := testutil.CollectAndCount(obs.latency); n != 2 {
		t.Errorf("expected latency series for 2 ops, got %d", n)
	}
}

func TestPrometheusObserver_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewPrometheusObserver(reg, "toolquery"); err != nil {
		t.Fatal(err)
	}
	if _, err := NewPrometheusObserver(reg, "toolquery"); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestSearchEvent(t *testing.T) {
	obs := &recordingObserver{}
	e := NewEngine(Records(scenarioTools()...), Options{Observer: obs})
	mustSearch(t, e, Query{Rank: &Rank{PreferredTags: []string{"comm"}}, Limit: 1})

	ev := obs.events[0]
	if ev.Op != OpSearch || ev.Matched != 3 || ev.Returned != 1 || ev.Records != 3 {
		t.Fatalf("unexpected event %+v", ev)
	}
}
