package toolquery

// resultCache maps normalized criteria keys to filter results for one
// generation of the engine. Any generation change, or reaching the size
// bound, drops every entry at once.
type resultCache struct {
	max        int
	generation uint64
	entries    map[string][]*entry
}

func newResultCache(size int) *resultCache {
	if size <= 0 {
		return nil
	}
	return &resultCache{max: size, entries: make(map[string][]*entry)}
}

func (c *resultCache) get(key string, generation uint64) ([]*entry, bool) {
	if c == nil || key == "" {
		return nil, false
	}
	if generation != c.generation {
		c.reset(generation)
		return nil, false
	}
	v, ok := c.entries[key]
	return v, ok
}

func (c *resultCache) put(key string, generation uint64, v []*entry) {
	if c == nil || key == "" {
		return
	}
	if generation != c.generation {
		c.reset(generation)
	}
	if len(c.entries) >= c.max {
		clear(c.entries)
	}
	c.entries[key] = v
}

func (c *resultCache) reset(generation uint64) {
	if c == nil {
		return
	}
	c.generation = generation
	clear(c.entries)
}

func (c *resultCache) len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}
