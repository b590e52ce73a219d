package lineage

import (
	"math"
	"sort"
	"strings"

	"github.com/google/btree"
	"github.com/samber/lo"
)

// item keys an edge by one of its refs. seq keeps append order among edges
// sharing the same ref.
type item struct {
	ref  string
	seq  int
	edge *Edge
}

func lessItem(a, b item) bool {
	if a.ref != b.ref {
		return a.ref < b.ref
	}
	return a.seq < b.seq
}

// Index answers lookups by from_ref and to_ref over a snapshot of the log.
type Index struct {
	edges  []Edge
	byFrom *btree.BTreeG[item]
	byTo   *btree.BTreeG[item]
}

// NewIndex indexes edges. The slice is retained.
func NewIndex(edges []Edge) *Index {
	idx := &Index{
		edges:  edges,
		byFrom: btree.NewG(32, lessItem),
		byTo:   btree.NewG(32, lessItem),
	}
	for i := range edges {
		e := &edges[i]
		idx.byFrom.ReplaceOrInsert(item{ref: e.FromRef, seq: i, edge: e})
		idx.byTo.ReplaceOrInsert(item{ref: e.ToRef, seq: i, edge: e})
	}
	return idx
}

// Len returns the number of indexed edges.
func (idx *Index) Len() int {
	return len(idx.edges)
}

// All returns every edge in append order.
func (idx *Index) All() []Edge {
	return idx.edges
}

// ByTo returns edges whose to_ref equals ref, in append order.
func (idx *Index) ByTo(ref string) []Edge {
	return exact(idx.byTo, ref)
}

// ByFrom returns edges whose from_ref equals ref, in append order.
func (idx *Index) ByFrom(ref string) []Edge {
	return exact(idx.byFrom, ref)
}

// WithPrefix returns edges touching any ref under prefix on either side, in
// append order.
func (idx *Index) WithPrefix(prefix string) []Edge {
	seqs := make(map[int]*Edge)
	collect := func(tree *btree.BTreeG[item]) {
		tree.AscendGreaterOrEqual(item{ref: prefix, seq: -1}, func(it item) bool {
			if !strings.HasPrefix(it.ref, prefix) {
				return false
			}
			seqs[it.seq] = it.edge
			return true
		})
	}
	collect(idx.byFrom)
	collect(idx.byTo)

	keys := lo.Keys(seqs)
	sort.Ints(keys)
	return lo.Map(keys, func(seq int, _ int) Edge { return *seqs[seq] })
}

// Upstream returns every ref ref transitively derives from, sorted.
func (idx *Index) Upstream(ref string) []string {
	seen := map[string]bool{ref: true}
	queue := []string{ref}
	var out []string
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range idx.ByTo(cur) {
			if seen[e.FromRef] {
				continue
			}
			seen[e.FromRef] = true
			out = append(out, e.FromRef)
			queue = append(queue, e.FromRef)
		}
	}
	sort.Strings(out)
	return out
}

// Roots returns the refs that never appear as a to_ref, sorted.
func (idx *Index) Roots() []string {
	var roots []string
	idx.byFrom.Ascend(func(it item) bool {
		if !idx.hasIncoming(it.ref) {
			roots = append(roots, it.ref)
		}
		return true
	})
	return lo.Uniq(roots)
}

func (idx *Index) hasIncoming(ref string) bool {
	found := false
	idx.byTo.AscendGreaterOrEqual(item{ref: ref, seq: -1}, func(it item) bool {
		found = it.ref == ref
		return false
	})
	return found
}

func exact(tree *btree.BTreeG[item], ref string) []Edge {
	var out []Edge
	tree.AscendRange(item{ref: ref, seq: -1}, item{ref: ref, seq: math.MaxInt}, func(it item) bool {
		out = append(out, *it.edge)
		return true
	})
	return out
}
