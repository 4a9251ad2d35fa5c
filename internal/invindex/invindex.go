// Package invindex maintains the structural inverted index: exact tag and
// schema-key maps used to narrow filter candidates before predicate
// evaluation.
package invindex

import (
	"strings"

	"github.com/jonwraymond/toolquery/internal/idset"
)

// Index maps lower-cased tags and schema keys to the ids carrying them.
// It is not safe for concurrent mutation.
type Index struct {
	tags idset.Bucket[string]
	keys idset.Bucket[string]
	size int
}

// Snapshot is a canonical, comparable view of an Index.
type Snapshot struct {
	Tags map[string][]string
	Keys map[string][]string
	Size int
}

// New returns an empty index.
func New() *Index {
	return &Index{
		tags: make(idset.Bucket[string]),
		keys: make(idset.Bucket[string]),
	}
}

// Add indexes id under tags and keys.
func (x *Index) Add(id string, tags, keys []string) {
	for _, t := range tags {
		x.tags.Put(strings.ToLower(t), id)
	}
	for _, k := range keys {
		x.keys.Put(strings.ToLower(k), id)
	}
	x.size++
}

// Remove undoes Add for the same tags and keys. Buckets left empty are
// deleted.
func (x *Index) Remove(id string, tags, keys []string) {
	for _, t := range tags {
		x.tags.Drop(strings.ToLower(t), id)
	}
	for _, k := range keys {
		x.keys.Drop(strings.ToLower(k), id)
	}
	if x.size > 0 {
		x.size--
	}
}

// Len returns the number of indexed records.
func (x *Index) Len() int { return x.size }

// HasTag reports whether any record carries tag.
func (x *Index) HasTag(tag string) bool {
	_, ok := x.tags[strings.ToLower(tag)]
	return ok
}

// AnyTags returns the union of the buckets of tags.
func (x *Index) AnyTags(tags []string) idset.Set {
	out := make(idset.Set)
	for _, t := range tags {
		out.AddAll(x.tags[strings.ToLower(t)])
	}
	return out
}

// AllTags returns the ids carrying every tag.
func (x *Index) AllTags(tags []string) idset.Set {
	return intersect(x.tags, tags)
}

// WithKeys returns the ids whose schema has every key.
func (x *Index) WithKeys(keys []string) idset.Set {
	return intersect(x.keys, keys)
}

func intersect(b idset.Bucket[string], features []string) idset.Set {
	if len(features) == 0 {
		return idset.Set{}
	}
	sets := make([]idset.Set, 0, len(features))
	for _, f := range features {
		s, ok := b[strings.ToLower(f)]
		if !ok {
			return idset.Set{}
		}
		sets = append(sets, s)
	}
	return idset.Intersect(sets...)
}

// Snapshot returns a canonical copy of the index.
func (x *Index) Snapshot() Snapshot {
	return Snapshot{
		Tags: x.tags.Snapshot(),
		Keys: x.keys.Snapshot(),
		Size: x.size,
	}
}
