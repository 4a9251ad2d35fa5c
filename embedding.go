package toolquery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/toolquery/internal/lsh"
)

// Embedder turns texts into dense vectors. It must return exactly one
// vector per input text, in order. Batches that break this contract, and
// vectors that are empty, non-finite or zero, are treated as missing.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedderFunc adapts a function to the Embedder interface.
type EmbedderFunc func(ctx context.Context, texts []string) ([][]float32, error)

// Embed calls f.
func (f EmbedderFunc) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return f(ctx, texts)
}

type vectorState int

const (
	vectorAbsent vectorState = iota
	vectorPending
	vectorReady
	vectorFailed
)

// embeddingStore caches embeddings by text. Record channels and query
// strings share the cache, so each distinct text is embedded once. It is
// the only engine state touched by background goroutines and is guarded by
// its own mutex.
type embeddingStore struct {
	embedder    Embedder
	log         *zap.Logger
	batchSize   int
	concurrency int
	timeout     time.Duration
	// retryAfter is how long a failed query text stays lexical-only.
	retryAfter time.Duration

	mu       sync.Mutex
	vectors  map[string]lsh.Vector
	failed   map[string]time.Time
	inflight map[string]chan struct{}

	queries singleflight.Group
}

func newEmbeddingStore(embedder Embedder, opts Options, log *zap.Logger) *embeddingStore {
	return &embeddingStore{
		embedder:    embedder,
		log:         log,
		batchSize:   opts.EmbedBatchSize,
		concurrency: opts.EmbedConcurrency,
		timeout:     opts.EmbedTimeout,
		retryAfter:  defaultQueryRetry,
		vectors:     make(map[string]lsh.Vector),
		failed:      make(map[string]time.Time),
		inflight:    make(map[string]chan struct{}),
	}
}

// state returns the cached vector of text and its resolution state.
func (s *embeddingStore) state(text string) (lsh.Vector, vectorState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.vectors[text]; ok {
		return v, vectorReady
	}
	if _, ok := s.inflight[text]; ok {
		return lsh.Vector{}, vectorPending
	}
	if _, ok := s.failed[text]; ok {
		return lsh.Vector{}, vectorFailed
	}
	return lsh.Vector{}, vectorAbsent
}

// claim marks every text that still needs an embedder call as in flight and
// returns it, along with the channels of texts another call is resolving.
// Failed texts are only claimed again when retry is set.
func (s *embeddingStore) claim(texts []string, retry bool) (todo []string, wait []chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{}, len(texts))
	for _, t := range texts {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := s.vectors[t]; ok {
			continue
		}
		if ch, ok := s.inflight[t]; ok {
			wait = append(wait, ch)
			continue
		}
		if _, ok := s.failed[t]; ok {
			if !retry {
				continue
			}
			delete(s.failed, t)
		}
		s.inflight[t] = make(chan struct{})
		todo = append(todo, t)
	}
	return todo, wait
}

// resolve embeds texts on the caller's goroutine and waits for any of them
// already in flight elsewhere. Only cancellation of ctx is reported;
// embedder failures are logged and leave the text without an embedding.
func (s *embeddingStore) resolve(ctx context.Context, texts []string, retry bool) error {
	todo, wait := s.claim(texts, retry)
	s.embedAll(ctx, todo)
	for _, ch := range wait {
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return ctx.Err()
}

// resolveAsync embeds texts in the background, bounded by the store
// timeout.
func (s *embeddingStore) resolveAsync(texts []string, retry bool) {
	todo, _ := s.claim(texts, retry)
	if len(todo) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		s.embedAll(ctx, todo)
	}()
}

// embedAll calls the embedder in batches, at most concurrency at a time.
// Every claimed text is released, whatever the outcome.
func (s *embeddingStore) embedAll(ctx context.Context, todo []string) {
	if len(todo) == 0 {
		return
	}
	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)
	for start := 0; start < len(todo); start += s.batchSize {
		batch := todo[start:min(start+s.batchSize, len(todo))]
		g.Go(func() error {
			vecs, err := s.call(ctx, batch)
			s.store(batch, vecs, err)
			return nil
		})
	}
	_ = g.Wait()
}

// call invokes the embedder, turning a panic into an error.
func (s *embeddingStore) call(ctx context.Context, texts []string) (vecs [][]float32, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("embedder panicked: %v", r)
		}
	}()
	return s.embedder.Embed(ctx, texts)
}

func (s *embeddingStore) store(texts []string, raw [][]float32, err error) {
	vecs, err := validateBatch(texts, raw, err)
	if err != nil {
		s.log.Warn("embedding batch rejected", zap.Int("texts", len(texts)), zap.Error(err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rejected := 0
	for i, t := range texts {
		if ch, ok := s.inflight[t]; ok {
			close(ch)
			delete(s.inflight, t)
		}
		if err == nil && vecs[i] != nil {
			s.vectors[t] = *vecs[i]
			continue
		}
		s.failed[t] = time.Now()
		if err == nil {
			rejected++
		}
	}
	if rejected > 0 {
		s.log.Debug("embedding vectors rejected", zap.Int("rejected", rejected))
	}
}

// validateBatch checks the embedder contract for one batch. A batch with
// the wrong vector count or mixed dimensions is rejected whole; an
// individual empty, non-finite or zero vector is dropped on its own.
func validateBatch(texts []string, raw [][]float32, err error) ([]*lsh.Vector, error) {
	if err != nil {
		return nil, err
	}
	if len(raw) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(raw), len(texts))
	}
	dim := -1
	out := make([]*lsh.Vector, len(raw))
	for i, r := range raw {
		if len(r) == 0 {
			continue
		}
		if dim >= 0 && len(r) != dim {
			return nil, fmt.Errorf("embedder returned mixed dimensions %d and %d", dim, len(r))
		}
		dim = len(r)
		if v, ok := lsh.NewVector(r); ok {
			out[i] = &v
		}
	}
	return out, nil
}

// query returns the embedding of a query string. In async mode a missing
// embedding is requested in the background and the call returns at once.
// Concurrent synchronous requests for the same text share one embedder
// call. A text whose embedding failed is requested again once retryAfter
// has passed.
func (s *embeddingStore) query(ctx context.Context, text string, async bool) (lsh.Vector, bool) {
	if strings.TrimSpace(text) == "" {
		return lsh.Vector{}, false
	}
	v, st := s.state(text)
	retry := false
	switch st {
	case vectorReady:
		return v, true
	case vectorFailed:
		if !s.retryDue(text) {
			return lsh.Vector{}, false
		}
		retry = true
	}
	if async {
		s.resolveAsync([]string{text}, retry)
		return lsh.Vector{}, false
	}
	_, _, _ = s.queries.Do(text, func() (any, error) {
		return nil, s.resolve(ctx, []string{text}, retry)
	})
	v, st = s.state(text)
	return v, st == vectorReady
}

func (s *embeddingStore) retryDue(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.failed[text]
	return ok && time.Since(at) >= s.retryAfter
}

// size returns the number of cached vectors.
func (s *embeddingStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.vectors)
}
