// Package interval provides a per-contig interval index over half-open
// genomic ranges.
//
// Intervals are grouped by contig name. Within a contig they are sorted by
// start and viewed as an implicit balanced binary tree (the middle element of
// every sub-slice is the subtree root), with each node carrying the maximum
// end of its subtree. Construction is O(n log n); an overlap query visits
// O(log n + k) nodes.
package interval

import (
	"fmt"
	"sort"
)

// Interval is a half-open range [Start, End) on a named contig.
type Interval struct {
	Contig string
	Start  int
	End    int
}

// Overlaps reports whether [start, end) intersects the interval.
func (iv Interval) Overlaps(start, end int) bool {
	return start < iv.End && end > iv.Start
}

func (iv Interval) String() string {
	return fmt.Sprintf("%s:%d-%d", iv.Contig, iv.Start, iv.End)
}

// Index answers overlap queries against a fixed set of intervals.
//
// The zero value and a nil *Index are both valid empty indexes. An empty index
// returns zero for every query; callers must treat that as "no restriction".
type Index struct {
	trees map[string]*tree
	size  int
}

// Build groups intervals by contig and builds one tree per contig.
// The input slice is not retained.
func Build(intervals []Interval) *Index {
	byContig := make(map[string][]Interval)
	for _, iv := range intervals {
		byContig[iv.Contig] = append(byContig[iv.Contig], iv)
	}

	idx := &Index{trees: make(map[string]*tree, len(byContig)), size: len(intervals)}
	for contig, ivs := range byContig {
		idx.trees[contig] = newTree(ivs)
	}
	return idx
}

// Empty reports whether the index holds no intervals.
func (idx *Index) Empty() bool {
	return idx == nil || idx.size == 0
}

// Len returns the number of stored intervals.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return idx.size
}

// Contains reports whether any interval was stored for contig.
func (idx *Index) Contains(contig string) bool {
	if idx == nil {
		return false
	}
	_, ok := idx.trees[contig]
	return ok
}

// Query returns the number of stored intervals on contig that overlap
// [start, end).
func (idx *Index) Query(contig string, start, end int) int {
	t := idx.lookup(contig)
	if t == nil {
		return 0
	}
	n := 0
	t.visit(0, len(t.nodes), start, end, func(Interval) bool {
		n++
		return true
	})
	return n
}

// Search returns the overlapping intervals on contig in ascending start order.
func (idx *Index) Search(contig string, start, end int) []Interval {
	t := idx.lookup(contig)
	if t == nil {
		return nil
	}
	var out []Interval
	t.visit(0, len(t.nodes), start, end, func(iv Interval) bool {
		out = append(out, iv)
		return true
	})
	return out
}

// First returns the overlapping interval with the smallest start, if any.
func (idx *Index) First(contig string, start, end int) (Interval, bool) {
	t := idx.lookup(contig)
	if t == nil {
		return Interval{}, false
	}
	var first Interval
	found := false
	t.visit(0, len(t.nodes), start, end, func(iv Interval) bool {
		first, found = iv, true
		return false
	})
	return first, found
}

func (idx *Index) lookup(contig string) *tree {
	if idx == nil || idx.trees == nil {
		return nil
	}
	return idx.trees[contig]
}

type node struct {
	iv     Interval
	maxEnd int
}

type tree struct {
	nodes []node
}

func newTree(ivs []Interval) *tree {
	sorted := make([]Interval, len(ivs))
	copy(sorted, ivs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].End < sorted[j].End
	})

	t := &tree{nodes: make([]node, len(sorted))}
	for i, iv := range sorted {
		t.nodes[i] = node{iv: iv, maxEnd: iv.End}
	}
	t.augment(0, len(t.nodes))
	return t
}

// augment fills maxEnd for the subtree rooted at the middle of [lo, hi).
func (t *tree) augment(lo, hi int) int {
	if lo >= hi {
		return minInt
	}
	mid := lo + (hi-lo)/2
	m := t.nodes[mid].iv.End
	if l := t.augment(lo, mid); l > m {
		m = l
	}
	if r := t.augment(mid+1, hi); r > m {
		m = r
	}
	t.nodes[mid].maxEnd = m
	return m
}

// visit walks overlapping intervals in start order. fn returns false to stop.
func (t *tree) visit(lo, hi, start, end int, fn func(Interval) bool) bool {
	if lo >= hi {
		return true
	}
	mid := lo + (hi-lo)/2
	n := t.nodes[mid]
	// Nothing in this subtree ends after start.
	if n.maxEnd <= start {
		return true
	}
	if !t.visit(lo, mid, start, end, fn) {
		return false
	}
	// Everything at or right of mid starts at or after end.
	if n.iv.Start >= end {
		return true
	}
	if n.iv.Overlaps(start, end) && !fn(n.iv) {
		return false
	}
	return t.visit(mid+1, hi, start, end, fn)
}

const minInt = -int(^uint(0)>>1) - 1
