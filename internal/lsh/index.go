package lsh

import (
	"sort"

	"github.com/jonwraymond/toolquery/internal/idset"
)

// Entry is one embedded text channel of a record.
type Entry struct {
	Field  string
	Text   string
	Vector Vector
}

type posting struct {
	dim   int
	field string
	key   uint64
}

// Index buckets record embeddings per dimension and field. Records without
// any usable embedding sit in the missing set and are always returned as
// candidates. It is not safe for concurrent mutation.
type Index struct {
	projections map[int]*Projection
	buckets     map[int]map[string]idset.Bucket[uint64]
	entries     map[string][]Entry
	postings    map[string][]posting
	missing     idset.Set
}

// Snapshot is a canonical view of the index.
type Snapshot struct {
	Buckets map[int]map[string]map[uint64][]string
	Missing []string
	Records []string
}

// New returns an empty index.
func New() *Index {
	return &Index{
		projections: make(map[int]*Projection),
		buckets:     make(map[int]map[string]idset.Bucket[uint64]),
		entries:     make(map[string][]Entry),
		postings:    make(map[string][]posting),
		missing:     make(idset.Set),
	}
}

// Projection returns the projection for dim, creating it on first use.
func (x *Index) Projection(dim int) *Projection {
	p, ok := x.projections[dim]
	if !ok {
		p = NewProjection(dim)
		x.projections[dim] = p
	}
	return p
}

// Put indexes id under entries, replacing whatever was indexed for id
// before. An empty entries list marks id missing.
func (x *Index) Put(id string, entries []Entry) {
	x.Remove(id)
	if len(entries) == 0 {
		x.missing.Add(id)
		return
	}
	var ps []posting
	for _, e := range entries {
		dim := e.Vector.Dim()
		fields, ok := x.buckets[dim]
		if !ok {
			fields = make(map[string]idset.Bucket[uint64])
			x.buckets[dim] = fields
		}
		b, ok := fields[e.Field]
		if !ok {
			b = make(idset.Bucket[uint64])
			fields[e.Field] = b
		}
		for _, key := range x.Projection(dim).Keys(e.Vector.Values) {
			b.Put(key, id)
			ps = append(ps, posting{dim: dim, field: e.Field, key: key})
		}
	}
	x.entries[id] = entries
	x.postings[id] = ps
}

// Remove drops every trace of id, deleting emptied buckets.
func (x *Index) Remove(id string) {
	delete(x.missing, id)
	for _, p := range x.postings[id] {
		fields := x.buckets[p.dim]
		b := fields[p.field]
		b.Drop(p.key, id)
		if len(b) == 0 {
			delete(fields, p.field)
		}
		if len(fields) == 0 {
			delete(x.buckets, p.dim)
		}
	}
	delete(x.postings, id)
	delete(x.entries, id)
}

// Entries returns the embedded channels of id.
func (x *Index) Entries(id string) []Entry { return x.entries[id] }

// Missing reports whether id is tracked without an embedding.
func (x *Index) Missing(id string) bool { return x.missing.Has(id) }

// Candidates returns the ids sharing at least one band bucket with q in any
// of fields (all fields when none are given), plus every missing id.
func (x *Index) Candidates(q Vector, fields ...string) idset.Set {
	out := x.missing.Clone()
	byField, ok := x.buckets[q.Dim()]
	if !ok {
		return out
	}
	keys := x.Projection(q.Dim()).Keys(q.Values)
	visit := func(b idset.Bucket[uint64]) {
		for _, k := range keys {
			out.AddAll(b[k])
		}
	}
	if len(fields) == 0 {
		for _, b := range byField {
			visit(b)
		}
		return out
	}
	for _, f := range fields {
		if b, ok := byField[f]; ok {
			visit(b)
		}
	}
	return out
}

// Snapshot returns a canonical copy of the index.
func (x *Index) Snapshot() Snapshot {
	s := Snapshot{
		Buckets: make(map[int]map[string]map[uint64][]string, len(x.buckets)),
		Missing: x.missing.Sorted(),
	}
	for dim, fields := range x.buckets {
		m := make(map[string]map[uint64][]string, len(fields))
		for f, b := range fields {
			m[f] = b.Snapshot()
		}
		s.Buckets[dim] = m
	}
	for id := range x.entries {
		s.Records = append(s.Records, id)
	}
	sort.Strings(s.Records)
	return s
}
