package toolquery

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Op names the engine call an Event describes.
type Op string

const (
	OpFilter Op = "filter"
	OpSearch Op = "search"
)

// Event is the telemetry of one Filter or Search call.
type Event struct {
	Op Op
	// Records is the catalog size at query time.
	Records int
	// Candidates is the number of records the predicate was evaluated on.
	Candidates int
	// Matched is the number of records that passed filtering and ranking.
	Matched int
	// Returned is the number of records in the returned page.
	Returned   int
	CacheHit   bool
	Semantic   bool
	Generation uint64
	Duration   time.Duration
}

// observe sends ev to the configured observer and to the catalog when it is
// an Observer. Observer panics are logged and swallowed.
func (e *Engine) observe(ev Event) {
	sinks := make([]Observer, 0, 2)
	if e.opts.Observer != nil {
		sinks = append(sinks, e.opts.Observer)
	}
	if o, ok := e.catalog.(Observer); ok {
		sinks = append(sinks, o)
	}
	for _, o := range sinks {
		e.safeObserve(o, ev)
	}
}

func (e *Engine) safeObserve(o Observer, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("observer panicked", zap.String("op", string(ev.Op)), zap.Any("panic", r))
		}
	}()
	o.Observe(ev)
}

// PrometheusObserver exports engine telemetry as Prometheus metrics.
type PrometheusObserver struct {
	queries    *prometheus.CounterVec
	cacheHits  *prometheus.CounterVec
	candidates *prometheus.HistogramVec
	matches    *prometheus.HistogramVec
	latency    *prometheus.HistogramVec
}

// NewPrometheusObserver creates the metrics under namespace and registers
// them with reg.
func NewPrometheusObserver(reg prometheus.Registerer, namespace string) (*PrometheusObserver, error) {
	countBuckets := prometheus.ExponentialBuckets(1, 4, 8)
	o := &PrometheusObserver{
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Number of filter and search calls.",
		}, []string{"op", "semantic"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Number of calls answered from the filter cache.",
		}, []string{"op"}),
		candidates: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "candidates",
			Help:      "Records evaluated by the predicate per call.",
			Buckets:   countBuckets,
		}, []string{"op"}),
		matches: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "matches",
			Help:      "Records matched per call.",
			Buckets:   countBuckets,
		}, []string{"op"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Duration of filter and search calls.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 10),
		}, []string{"op"}),
	}
	for _, c := range []prometheus.Collector{o.queries, o.cacheHits, o.candidates, o.matches, o.latency} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// Observe implements Observer.
func (o *PrometheusObserver) Observe(ev Event) {
	op := string(ev.Op)
	semantic := "false"
	if ev.Semantic {
		semantic = "true"
	}
	o.queries.WithLabelValues(op, semantic).Inc()
	if ev.CacheHit {
		o.cacheHits.WithLabelValues(op).Inc()
	}
	o.candidates.WithLabelValues(op).Observe(float64(ev.Candidates))
	o.matches.WithLabelValues(op).Observe(float64(ev.Matched))
	o.latency.WithLabelValues(op).Observe(ev.Duration.Seconds())
}
