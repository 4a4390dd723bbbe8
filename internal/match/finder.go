// Package match pairs the stars of two point sets by matching their triangles in
// invariant space and letting the matched triangles vote for vertex pairings.
package match

import (
	"fmt"
	"runtime"
	"sort"
	"sync"

	"skyalign/internal/asterism"
	"skyalign/pkg/geometry"

	"github.com/go-logr/logr"
)

// Options configures triangle matching and vote resolution.
type Options struct {
	MaxControlPoints   int         // Brightest stars kept from each set
	InvariantTolerance float64     // Accept a match when dist <= tol * |probe|
	MinSupport         int         // Votes a pairing needs to be accepted
	Workers            int         // Query goroutines; 0 uses runtime.NumCPU()
	Logger             logr.Logger // Stage statistics at V(1)
}

// DefaultOptions returns default matching options.
func DefaultOptions() Options {
	return Options{
		MaxControlPoints:   50,
		InvariantTolerance: 0.01,
		MinSupport:         2,
		Logger:             logr.Discard(),
	}
}

// Pair is one resolved correspondence between a target star and a reference star.
// Indices refer to the truncated point sets.
type Pair struct {
	Target      int
	Ref         int
	TargetPoint geometry.Point2D
	RefPoint    geometry.Point2D
	Votes       int
}

// Correspondence is the outcome of a matching pass.
type Correspondence struct {
	Pairs           []Pair // Highest support first
	TargetTriangles int
	RefTriangles    int
	TriangleMatches int // Target triangles whose nearest reference triangle cleared the tolerance
	Candidates      int // Distinct pairings that received a vote
}

// TargetPoints returns the target positions of the pairs in order.
func (c *Correspondence) TargetPoints() []geometry.Point2D {
	pts := make([]geometry.Point2D, len(c.Pairs))
	for i, p := range c.Pairs {
		pts[i] = p.TargetPoint
	}
	return pts
}

// RefPoints returns the reference positions of the pairs in order.
func (c *Correspondence) RefPoints() []geometry.Point2D {
	pts := make([]geometry.Point2D, len(c.Pairs))
	for i, p := range c.Pairs {
		pts[i] = p.RefPoint
	}
	return pts
}

// Finder matches point sets. It holds no state between calls.
type Finder struct {
	opts Options
}

// NewFinder creates a Finder with the given options.
func NewFinder(opts Options) *Finder {
	return &Finder{opts: opts}
}

// Find indexes ref and matches target against it.
func (f *Finder) Find(target, ref asterism.PointSet) (*Correspondence, error) {
	idx, err := asterism.NewIndex(ref, f.opts.MaxControlPoints)
	if err != nil {
		return nil, fmt.Errorf("reference set: %w", err)
	}
	return f.FindWithIndex(target, idx)
}

// FindWithIndex matches target against a reference index built by the caller, so one
// index can serve many targets.
func (f *Finder) FindWithIndex(target asterism.PointSet, idx *asterism.Index) (*Correspondence, error) {
	control, tris, err := asterism.ControlTriangles(target, f.opts.MaxControlPoints)
	if err != nil {
		return nil, fmt.Errorf("target set: %w", err)
	}

	tally, accepted := f.vote(tris, idx)

	log := f.opts.Logger.V(1)
	log.Info("triangle matching",
		"targetStars", len(control),
		"refStars", len(idx.Points()),
		"targetTriangles", len(tris),
		"refTriangles", idx.Len(),
		"accepted", accepted,
		"candidates", len(tally))

	if accepted == 0 {
		return nil, fmt.Errorf("%w: none of %d target triangles within tolerance %g",
			asterism.ErrNoMatchFound, len(tris), f.opts.InvariantTolerance)
	}

	pairs := resolve(tally, f.opts.MinSupport)
	if len(pairs) < asterism.MinPoints {
		return nil, fmt.Errorf("%w: %d pairs with at least %d votes",
			asterism.ErrInsufficientMatches, len(pairs), f.opts.MinSupport)
	}

	refPts := idx.Points()
	for i := range pairs {
		pairs[i].TargetPoint = control[pairs[i].Target].Point()
		pairs[i].RefPoint = refPts[pairs[i].Ref].Point()
	}

	log.Info("correspondences resolved", "pairs", len(pairs), "topVotes", pairs[0].Votes)

	return &Correspondence{
		Pairs:           pairs,
		TargetTriangles: len(tris),
		RefTriangles:    idx.Len(),
		TriangleMatches: accepted,
		Candidates:      len(tally),
	}, nil
}

type pairKey struct {
	target, ref int
}

type voteCount struct {
	total   int
	primary int // Votes from the side-sorted labeling; breaks ties
}

// vote queries every target triangle against idx. Chunks are processed in parallel
// and merged in chunk order.
func (f *Finder) vote(tris []asterism.Triangle, idx *asterism.Index) (map[pairKey]voteCount, int) {
	workers := f.opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(tris) {
		workers = len(tris)
	}
	perWorker := (len(tris) + workers - 1) / workers

	type chunk struct {
		tally    map[pairKey]voteCount
		accepted int
	}
	chunks := make([]chunk, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * perWorker
		end := min(start+perWorker, len(tris))
		if start >= end {
			break
		}

		wg.Add(1)
		go func(w int, part []asterism.Triangle) {
			defer wg.Done()
			tally := make(map[pairKey]voteCount)
			accepted := 0
			for _, tri := range part {
				probe := tri.Invariant()
				n, ok := idx.Nearest(probe)
				if !ok || n.Distance > f.opts.InvariantTolerance*probe.Norm() {
					continue
				}
				accepted++

				// A pairing proposed by both orderings still gets one vote from this match.
				targetOrder := tri.Vertices
				proposed := make(map[pairKey]bool, 6)
				for o, refOrder := range n.Triangle.Orderings() {
					for v := 0; v < 3; v++ {
						k := pairKey{target: targetOrder[v], ref: refOrder[v]}
						c := tally[k]
						if !proposed[k] {
							proposed[k] = true
							c.total++
						}
						if o == 0 {
							c.primary++
						}
						tally[k] = c
					}
				}
			}
			chunks[w] = chunk{tally: tally, accepted: accepted}
		}(w, tris[start:end])
	}
	wg.Wait()

	merged := make(map[pairKey]voteCount)
	accepted := 0
	for _, c := range chunks {
		accepted += c.accepted
		for k, v := range c.tally {
			m := merged[k]
			m.total += v.total
			m.primary += v.primary
			merged[k] = m
		}
	}
	return merged, accepted
}

// resolve greedily assigns each target star to its best-supported free reference star.
func resolve(tally map[pairKey]voteCount, minSupport int) []Pair {
	type candidate struct {
		pairKey
		voteCount
	}
	cands := make([]candidate, 0, len(tally))
	for k, v := range tally {
		cands = append(cands, candidate{k, v})
	}
	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.total != b.total {
			return a.total > b.total
		}
		if a.primary != b.primary {
			return a.primary > b.primary
		}
		if a.target != b.target {
			return a.target < b.target
		}
		return a.ref < b.ref
	})

	usedTarget := make(map[int]bool)
	usedRef := make(map[int]bool)
	var pairs []Pair
	for _, c := range cands {
		if c.total < minSupport {
			break
		}
		if usedTarget[c.target] || usedRef[c.ref] {
			continue
		}
		usedTarget[c.target] = true
		usedRef[c.ref] = true
		pairs = append(pairs, Pair{Target: c.target, Ref: c.ref, Votes: c.total})
	}
	return pairs
}
