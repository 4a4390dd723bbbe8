package asterism

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// Neighbor is an indexed triangle returned by a query, with its distance to the
// probe in invariant space.
type Neighbor struct {
	Triangle Triangle
	Distance float64
}

// Index is a nearest-neighbour index over the invariants of every valid triangle of
// one point set. It is owned by the caller and never mutated after construction,
// so concurrent queries are safe.
type Index struct {
	points    PointSet
	triangles []Triangle
	tree      *kdtree.Tree
}

// NewIndex truncates points to the brightest maxControlPoints (<= 0 keeps all) and
// indexes their triangles.
func NewIndex(points PointSet, maxControlPoints int) (*Index, error) {
	control, tris, err := ControlTriangles(points, maxControlPoints)
	if err != nil {
		return nil, err
	}

	entries := make(invariantEntries, len(tris))
	for i, tri := range tris {
		entries[i] = invariantEntry{inv: tri.Invariant(), tri: i}
	}

	return &Index{
		points:    control,
		triangles: tris,
		tree:      kdtree.New(entries, false),
	}, nil
}

// Points returns the truncated point set the index was built from.
func (x *Index) Points() PointSet { return x.points }

// Triangles returns the indexed triangles.
func (x *Index) Triangles() []Triangle { return x.triangles }

// Len returns the number of indexed triangles.
func (x *Index) Len() int { return len(x.triangles) }

// Nearest returns the indexed triangle closest to probe.
func (x *Index) Nearest(probe Invariant) (Neighbor, bool) {
	c, dist := x.tree.Nearest(invariantEntry{inv: probe, tri: -1})
	if c == nil {
		return Neighbor{}, false
	}
	return x.neighbor(c, dist), true
}

// NearestK returns up to k indexed triangles closest to probe, nearest first.
func (x *Index) NearestK(probe Invariant, k int) []Neighbor {
	if k <= 0 {
		return nil
	}
	keep := kdtree.NewNKeeper(k)
	x.tree.NearestSet(keep, invariantEntry{inv: probe, tri: -1})

	out := make([]Neighbor, 0, keep.Len())
	for _, cd := range keep.Heap {
		if cd.Comparable == nil {
			continue
		}
		out = append(out, x.neighbor(cd.Comparable, cd.Dist))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Distance < out[j].Distance
	})
	return out
}

func (x *Index) neighbor(c kdtree.Comparable, squared float64) Neighbor {
	return Neighbor{
		Triangle: x.triangles[c.(invariantEntry).tri],
		Distance: math.Sqrt(squared),
	}
}

// invariantEntry is a kd-tree point carrying the position of its triangle.
type invariantEntry struct {
	inv Invariant
	tri int
}

func (e invariantEntry) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return e.inv[d] - c.(invariantEntry).inv[d]
}

func (e invariantEntry) Dims() int { return len(e.inv) }

// Distance returns the squared Euclidean distance, as kdtree expects.
func (e invariantEntry) Distance(c kdtree.Comparable) float64 {
	q := c.(invariantEntry).inv
	dx := e.inv[0] - q[0]
	dy := e.inv[1] - q[1]
	return dx*dx + dy*dy
}

type invariantEntries []invariantEntry

func (p invariantEntries) Index(i int) kdtree.Comparable { return p[i] }
func (p invariantEntries) Len() int                      { return len(p) }
func (p invariantEntries) Pivot(d kdtree.Dim) int {
	return invariantPlane{Dim: d, entries: p}.Pivot()
}
func (p invariantEntries) Slice(start, end int) kdtree.Interface { return p[start:end] }

// invariantPlane pivots entries on one dimension. MedianOfMedians keeps tree
// construction deterministic.
type invariantPlane struct {
	kdtree.Dim
	entries invariantEntries
}

func (p invariantPlane) Less(i, j int) bool { return p.entries[i].inv[p.Dim] < p.entries[j].inv[p.Dim] }
func (p invariantPlane) Len() int           { return len(p.entries) }
func (p invariantPlane) Pivot() int         { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p invariantPlane) Slice(start, end int) kdtree.SortSlicer {
	p.entries = p.entries[start:end]
	return p
}
func (p invariantPlane) Swap(i, j int) { p.entries[i], p.entries[j] = p.entries[j], p.entries[i] }
