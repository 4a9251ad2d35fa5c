// Package idset provides the record-id set used by every inverted index.
package idset

import "sort"

// Set is a set of record ids.
type Set map[string]struct{}

// Of returns a set holding ids.
func Of(ids ...string) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add inserts id.
func (s Set) Add(id string) { s[id] = struct{}{} }

// Has reports whether id is in s. A nil set holds nothing.
func (s Set) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Clone returns a copy of s.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// AddAll inserts every id of other into s.
func (s Set) AddAll(other Set) {
	for id := range other {
		s[id] = struct{}{}
	}
}

// Sorted returns the ids of s in ascending order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Union returns a new set holding the ids of all sets.
func Union(sets ...Set) Set {
	out := make(Set)
	for _, s := range sets {
		out.AddAll(s)
	}
	return out
}

// Intersect returns a new set of ids present in every set, walking the
// smallest set first. Intersect of no sets is empty.
func Intersect(sets ...Set) Set {
	if len(sets) == 0 {
		return Set{}
	}
	ordered := make([]Set, len(sets))
	copy(ordered, sets)
	sort.Slice(ordered, func(i, j int) bool { return len(ordered[i]) < len(ordered[j]) })

	out := make(Set, len(ordered[0]))
outer:
	for id := range ordered[0] {
		for _, s := range ordered[1:] {
			if !s.Has(id) {
				continue outer
			}
		}
		out[id] = struct{}{}
	}
	return out
}

// Bucket maps a feature key to the set of ids having it. Empty sets are
// removed as soon as they become empty.
type Bucket[K comparable] map[K]Set

// Put registers id under key.
func (b Bucket[K]) Put(key K, id string) {
	s, ok := b[key]
	if !ok {
		s = make(Set)
		b[key] = s
	}
	s[id] = struct{}{}
}

// Drop removes id from key and deletes the key when its set empties.
// It reports whether the key was deleted.
func (b Bucket[K]) Drop(key K, id string) bool {
	s, ok := b[key]
	if !ok {
		return false
	}
	delete(s, id)
	if len(s) == 0 {
		delete(b, key)
		return true
	}
	return false
}

// Snapshot returns the bucket as key → sorted ids.
func (b Bucket[K]) Snapshot() map[K][]string {
	out := make(map[K][]string, len(b))
	for k, s := range b {
		out[k] = s.Sorted()
	}
	return out
}
