package textindex

import (
	"sort"
	"unicode/utf8"

	"github.com/jonwraymond/toolquery/internal/fuzzy"
	"github.com/jonwraymond/toolquery/internal/idset"
)

// Index is the per-field text inverted index. It is not safe for concurrent
// mutation.
type Index struct {
	fields map[Field]*fieldIndex
}

type fieldIndex struct {
	exact    idset.Bucket[string]
	lengths  idset.Bucket[int]
	sorted   []int
	chars    idset.Bucket[rune]
	bigrams  idset.Bucket[string]
	trigrams idset.Bucket[string]
}

// FieldSnapshot is a canonical view of one field's maps.
type FieldSnapshot struct {
	Exact    map[string][]string
	Lengths  map[int][]string
	Sorted   []int
	Chars    map[rune][]string
	Bigrams  map[string][]string
	Trigrams map[string][]string
}

// New returns an empty index with every field allocated.
func New() *Index {
	x := &Index{fields: make(map[Field]*fieldIndex, len(Fields))}
	for _, f := range Fields {
		x.fields[f] = newFieldIndex()
	}
	return x
}

func newFieldIndex() *fieldIndex {
	return &fieldIndex{
		exact:    make(idset.Bucket[string]),
		lengths:  make(idset.Bucket[int]),
		chars:    make(idset.Bucket[rune]),
		bigrams:  make(idset.Bucket[string]),
		trigrams: make(idset.Bucket[string]),
	}
}

// Add indexes every token of doc under id.
func (x *Index) Add(id string, doc *Doc) {
	for _, f := range Fields {
		fi := x.fields[f]
		for _, tok := range doc.Norms(f) {
			fi.add(id, tok)
		}
	}
}

// Remove undoes Add for the same doc.
func (x *Index) Remove(id string, doc *Doc) {
	for _, f := range Fields {
		fi := x.fields[f]
		for _, tok := range doc.Norms(f) {
			fi.remove(id, tok)
		}
	}
}

func (fi *fieldIndex) add(id, tok string) {
	if tok == "" {
		return
	}
	fi.exact.Put(tok, id)

	n := utf8.RuneCountInString(tok)
	if _, ok := fi.lengths[n]; !ok {
		i := sort.SearchInts(fi.sorted, n)
		fi.sorted = append(fi.sorted, 0)
		copy(fi.sorted[i+1:], fi.sorted[i:])
		fi.sorted[i] = n
	}
	fi.lengths.Put(n, id)

	for _, r := range tok {
		fi.chars.Put(r, id)
	}
	for _, g := range ngrams(tok, 2) {
		fi.bigrams.Put(g, id)
	}
	for _, g := range ngrams(tok, 3) {
		fi.trigrams.Put(g, id)
	}
}

func (fi *fieldIndex) remove(id, tok string) {
	if tok == "" {
		return
	}
	fi.exact.Drop(tok, id)

	n := utf8.RuneCountInString(tok)
	if fi.lengths.Drop(n, id) {
		i := sort.SearchInts(fi.sorted, n)
		if i < len(fi.sorted) && fi.sorted[i] == n {
			fi.sorted = append(fi.sorted[:i], fi.sorted[i+1:]...)
		}
	}

	for _, r := range tok {
		fi.chars.Drop(r, id)
	}
	for _, g := range ngrams(tok, 2) {
		fi.bigrams.Drop(g, id)
	}
	for _, g := range ngrams(tok, 3) {
		fi.trigrams.Drop(g, id)
	}
}

// ngrams returns the n-rune windows of tok.
func ngrams(tok string, n int) []string {
	rs := []rune(tok)
	if len(rs) < n {
		return nil
	}
	out := make([]string, 0, len(rs)-n+1)
	for i := 0; i+n <= len(rs); i++ {
		out = append(out, string(rs[i:i+n]))
	}
	return out
}

// Candidates returns a superset of the ids whose field f could match any of
// the normalized query tokens under mode. Callers must still verify each
// candidate.
func (x *Index) Candidates(f Field, mode fuzzy.Mode, query []string, threshold float64) idset.Set {
	fi, ok := x.fields[f]
	out := make(idset.Set)
	if !ok {
		return out
	}
	threshold = fuzzy.ClampThreshold(threshold)
	for _, q := range query {
		if q == "" {
			continue
		}
		switch mode {
		case fuzzy.ModeExact:
			out.AddAll(fi.exact[q])
		case fuzzy.ModeFuzzy:
			out.AddAll(fi.fuzzyCandidates(q, threshold))
		default:
			out.AddAll(fi.containsCandidates(q))
		}
	}
	return out
}

func (fi *fieldIndex) fuzzyCandidates(q string, threshold float64) idset.Set {
	lo, hi := fuzzy.LengthWindow(utf8.RuneCountInString(q), threshold)
	byLength := make(idset.Set)
	for i := sort.SearchInts(fi.sorted, lo); i < len(fi.sorted) && fi.sorted[i] <= hi; i++ {
		byLength.AddAll(fi.lengths[fi.sorted[i]])
	}
	if threshold == 0 {
		return byLength
	}
	// Strings sharing no character have similarity 0.
	byChar := make(idset.Set)
	for _, r := range q {
		byChar.AddAll(fi.chars[r])
	}
	return idset.Intersect(byLength, byChar)
}

func (fi *fieldIndex) containsCandidates(q string) idset.Set {
	rs := []rune(q)
	switch {
	case len(rs) >= 3:
		return gramIntersect(fi.trigrams, ngrams(q, 3))
	case len(rs) == 2:
		return fi.bigrams[q].Clone()
	default:
		return fi.chars[rs[0]].Clone()
	}
}

func gramIntersect(b idset.Bucket[string], grams []string) idset.Set {
	sets := make([]idset.Set, 0, len(grams))
	for _, g := range grams {
		s, ok := b[g]
		if !ok {
			return idset.Set{}
		}
		sets = append(sets, s)
	}
	return idset.Intersect(sets...)
}

// Snapshot returns a canonical copy of every field's maps.
func (x *Index) Snapshot() map[Field]FieldSnapshot {
	out := make(map[Field]FieldSnapshot, len(x.fields))
	for f, fi := range x.fields {
		out[f] = FieldSnapshot{
			Exact:    fi.exact.Snapshot(),
			Lengths:  fi.lengths.Snapshot(),
			Sorted:   append([]int{}, fi.sorted...),
			Chars:    fi.chars.Snapshot(),
			Bigrams:  fi.bigrams.Snapshot(),
			Trigrams: fi.trigrams.Snapshot(),
		}
	}
	return out
}
