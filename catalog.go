package toolquery

import (
	"fmt"
	"iter"
	"sort"
	"sync"

	"github.com/jonwraymond/toolmodel"
)

// Catalog enumerates the current tool records in registration order.
type Catalog interface {
	List() []toolmodel.Tool
}

// Observer receives telemetry for every filter and search call. Observe
// must not block; panics are recovered and logged.
type Observer interface {
	Observe(Event)
}

// ChangeNotifier is implemented by catalogs that report their mutations.
// An Engine built over such a catalog subscribes and keeps its indices in
// sync without a rebuild.
type ChangeNotifier interface {
	// OnChange registers fn and returns a function that removes it.
	OnChange(fn func(ChangeEvent)) (unsubscribe func())
}

// ChangeKind is the kind of a catalog mutation.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeUpdated ChangeKind = "updated"
	ChangeRemoved ChangeKind = "removed"
)

// ChangeEvent describes one catalog mutation.
type ChangeEvent struct {
	Kind    ChangeKind
	ID      string
	Tool    toolmodel.Tool
	Version uint64
}

// catalogRecord holds a registered tool and its registration sequence.
type catalogRecord struct {
	tool toolmodel.Tool
	seq  uint64
}

// InMemoryCatalog is the default Catalog: a registry of tools keyed by
// record id. It is safe for concurrent use. Listeners run synchronously on
// the mutating goroutine after the catalog lock is released.
type InMemoryCatalog struct {
	mu         sync.RWMutex
	records    map[string]*catalogRecord
	namespaces map[string]int // namespace -> number of records
	seq        uint64
	version    uint64

	listenerMu   sync.Mutex
	listeners    map[uint64]func(ChangeEvent)
	nextListener uint64
}

// NewInMemoryCatalog creates an empty catalog, optionally seeded with tools.
func NewInMemoryCatalog(tools ...toolmodel.Tool) (*InMemoryCatalog, error) {
	c := &InMemoryCatalog{
		records:    make(map[string]*catalogRecord),
		namespaces: make(map[string]int),
		listeners:  make(map[uint64]func(ChangeEvent)),
	}
	if err := c.RegisterTools(tools); err != nil {
		return nil, err
	}
	return c, nil
}

// Register adds tool, or replaces the record with the same id. Registering
// a tool identical to the stored one is a no-op and emits no event.
func (c *InMemoryCatalog) Register(tool toolmodel.Tool) error {
	if err := tool.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTool, err)
	}
	id := RecordID(tool)

	c.mu.Lock()
	kind := ChangeAdded
	if rec, exists := c.records[id]; exists {
		if toolsEqual(rec.tool, tool) {
			c.mu.Unlock()
			return nil
		}
		kind = ChangeUpdated
		rec.tool = tool
	} else {
		c.seq++
		c.records[id] = &catalogRecord{tool: tool, seq: c.seq}
		c.namespaces[tool.Namespace]++
	}
	c.version++
	ev := ChangeEvent{Kind: kind, ID: id, Tool: tool, Version: c.version}
	c.mu.Unlock()

	c.notify(ev)
	return nil
}

// RegisterTools registers multiple tools in order, stopping at the first
// error.
func (c *InMemoryCatalog) RegisterTools(tools []toolmodel.Tool) error {
	for _, tool := range tools {
		if err := c.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

// Unregister removes the record with the given id.
func (c *InMemoryCatalog) Unregister(id string) error {
	c.mu.Lock()
	rec, exists := c.records[id]
	if !exists {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(c.records, id)
	ns := rec.tool.Namespace
	if c.namespaces[ns]--; c.namespaces[ns] <= 0 {
		delete(c.namespaces, ns)
	}
	c.version++
	ev := ChangeEvent{Kind: ChangeRemoved, ID: id, Tool: rec.tool, Version: c.version}
	c.mu.Unlock()

	c.notify(ev)
	return nil
}

// Get returns the tool with the given record id.
func (c *InMemoryCatalog) Get(id string) (toolmodel.Tool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, exists := c.records[id]
	if !exists {
		return toolmodel.Tool{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec.tool, nil
}

// List returns every tool in registration order. A replaced record keeps
// its original position.
func (c *InMemoryCatalog) List() []toolmodel.Tool {
	c.mu.RLock()
	recs := make([]*catalogRecord, 0, len(c.records))
	for _, rec := range c.records {
		recs = append(recs, rec)
	}
	c.mu.RUnlock()

	sort.Slice(recs, func(i, j int) bool { return recs[i].seq < recs[j].seq })
	out := make([]toolmodel.Tool, len(recs))
	for i, rec := range recs {
		out[i] = rec.tool
	}
	return out
}

// ListNamespaces returns all namespaces in alphabetical order.
func (c *InMemoryCatalog) ListNamespaces() ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]string, 0, len(c.namespaces))
	for ns := range c.namespaces {
		result = append(result, ns)
	}
	sort.Strings(result)
	return result, nil
}

// Version returns a counter incremented on every mutation.
func (c *InMemoryCatalog) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// OnChange implements ChangeNotifier. Calling the returned function more
// than once is harmless.
func (c *InMemoryCatalog) OnChange(fn func(ChangeEvent)) func() {
	if fn == nil {
		return func() {}
	}
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()

	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			c.listenerMu.Lock()
			delete(c.listeners, id)
			c.listenerMu.Unlock()
		})
	}
}

func (c *InMemoryCatalog) notify(ev ChangeEvent) {
	c.listenerMu.Lock()
	ids := make([]uint64, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(ChangeEvent), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, c.listeners[id])
	}
	c.listenerMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// staticCatalog is a fixed, ordered list of tools.
type staticCatalog []toolmodel.Tool

func (s staticCatalog) List() []toolmodel.Tool { return s }

// Records returns a Catalog over the given tools, in order.
func Records(tools ...toolmodel.Tool) Catalog {
	return staticCatalog(tools)
}

// Seq returns a Catalog over the tools yielded by seq. The sequence is
// consumed once, immediately.
func Seq(seq iter.Seq[toolmodel.Tool]) Catalog {
	var tools []toolmodel.Tool
	for t := range seq {
		tools = append(tools, t)
	}
	return staticCatalog(tools)
}
