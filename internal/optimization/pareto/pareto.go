// Package pareto provides the multi-objective analysis toolbox: Pareto
// dominance, fast non-dominated sorting, crowding distance, hypervolume and
// spacing metrics, knee-point detection and a bounded non-dominated archive.
//
// All objective vectors handled here are minimization-oriented; maximize
// objectives are negated by the evaluation adapter before they arrive.
package pareto

import (
	"math"
	"math/rand"
	"sort"

	"github.com/ductware/ZEPHYR/internal/optimization"
)

// hypervolumeSamples is the Monte Carlo sample count used for fronts with
// more than two objectives, where the exact sweep is not implemented.
const hypervolumeSamples = 10000

// Point ties a solution to its minimization-oriented objective vector and
// the ranking metadata produced by non-dominated sorting.
type Point struct {
	Objectives []float64
	Solution   *optimization.Solution

	Rank     int
	Crowding float64
}

// Dominates reports whether a dominates b: no worse in every component and
// strictly better in at least one.
func Dominates(a, b []float64) bool {
	strictly := false
	for i := range a {
		if a[i] > b[i] {
			return false
		}
		if a[i] < b[i] {
			strictly = true
		}
	}
	return strictly
}

// dominatesConstrained applies Deb's feasibility rules before objective
// dominance: feasible beats infeasible, less-infeasible beats
// more-infeasible.
func dominatesConstrained(a, b *Point) bool {
	av, bv := a.Solution.Violation, b.Solution.Violation
	if a.Solution.Feasible && !b.Solution.Feasible {
		return true
	}
	if !a.Solution.Feasible && b.Solution.Feasible {
		return false
	}
	if !a.Solution.Feasible && !b.Solution.Feasible {
		return av < bv
	}
	return Dominates(a.Objectives, b.Objectives)
}

// SortFronts performs fast non-dominated sorting, assigning ranks in place
// and returning the points grouped by front, best first.
func SortFronts(points []*Point) [][]*Point {
	n := len(points)
	if n == 0 {
		return nil
	}

	dominated := make([][]int, n)
	counts := make([]int, n)
	var first []int

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			if dominatesConstrained(points[i], points[j]) {
				dominated[i] = append(dominated[i], j)
			} else if dominatesConstrained(points[j], points[i]) {
				counts[i]++
			}
		}
		if counts[i] == 0 {
			points[i].Rank = 0
			first = append(first, i)
		}
	}

	var fronts [][]*Point
	current := first
	rank := 0
	for len(current) > 0 {
		front := make([]*Point, 0, len(current))
		var next []int
		for _, i := range current {
			front = append(front, points[i])
			for _, j := range dominated[i] {
				counts[j]--
				if counts[j] == 0 {
					points[j].Rank = rank + 1
					next = append(next, j)
				}
			}
		}
		fronts = append(fronts, front)
		current = next
		rank++
	}
	return fronts
}

// CrowdingDistance computes the NSGA-II diversity metric within one front,
// in place. Boundary points receive +Inf.
func CrowdingDistance(front []*Point) {
	n := len(front)
	if n == 0 {
		return
	}
	for _, p := range front {
		p.Crowding = 0
	}
	if n <= 2 {
		for _, p := range front {
			p.Crowding = math.Inf(1)
		}
		return
	}

	m := len(front[0].Objectives)
	idx := make([]int, n)
	for obj := 0; obj < m; obj++ {
		for i := range idx {
			idx[i] = i
		}
		sort.Slice(idx, func(a, b int) bool {
			return front[idx[a]].Objectives[obj] < front[idx[b]].Objectives[obj]
		})

		lo := front[idx[0]].Objectives[obj]
		hi := front[idx[n-1]].Objectives[obj]
		front[idx[0]].Crowding = math.Inf(1)
		front[idx[n-1]].Crowding = math.Inf(1)
		if hi == lo {
			continue
		}
		for i := 1; i < n-1; i++ {
			gap := front[idx[i+1]].Objectives[obj] - front[idx[i-1]].Objectives[obj]
			front[idx[i]].Crowding += gap / (hi - lo)
		}
	}
}

// ReferencePoint returns a point slightly dominated by the worst observed
// value in every objective, suitable as a hypervolume reference.
func ReferencePoint(points []*Point) []float64 {
	if len(points) == 0 {
		return nil
	}
	m := len(points[0].Objectives)
	ref := make([]float64, m)
	for i := range ref {
		ref[i] = math.Inf(-1)
	}
	for _, p := range points {
		for i, v := range p.Objectives {
			if v > ref[i] {
				ref[i] = v
			}
		}
	}
	for i := range ref {
		span := math.Abs(ref[i])
		if span < 1 {
			span = 1
		}
		ref[i] += 0.1 * span
	}
	return ref
}

// Hypervolume measures the objective-space volume dominated by the front
// relative to the reference point. Two-objective fronts are computed with
// an exact sweep; higher dimensions use a deterministic Monte Carlo
// estimate driven by the supplied generator.
func Hypervolume(front [][]float64, ref []float64, rng *rand.Rand) float64 {
	if len(front) == 0 || len(ref) == 0 {
		return 0
	}
	if len(ref) == 2 {
		return hypervolume2D(front, ref)
	}
	return hypervolumeMC(front, ref, rng)
}

func hypervolume2D(front [][]float64, ref []float64) float64 {
	pts := make([][]float64, 0, len(front))
	for _, p := range front {
		if p[0] <= ref[0] && p[1] <= ref[1] {
			pts = append(pts, p)
		}
	}
	if len(pts) == 0 {
		return 0
	}
	sort.Slice(pts, func(i, j int) bool {
		if pts[i][0] == pts[j][0] {
			return pts[i][1] < pts[j][1]
		}
		return pts[i][0] < pts[j][0]
	})

	volume := 0.0
	prevY := ref[1]
	for _, p := range pts {
		if p[1] >= prevY {
			continue // dominated in the sweep
		}
		volume += (ref[0] - p[0]) * (prevY - p[1])
		prevY = p[1]
	}
	return volume
}

func hypervolumeMC(front [][]float64, ref []float64, rng *rand.Rand) float64 {
	m := len(ref)
	ideal := make([]float64, m)
	copy(ideal, front[0])
	for _, p := range front {
		for i, v := range p {
			if v < ideal[i] {
				ideal[i] = v
			}
		}
	}

	box := 1.0
	for i := 0; i < m; i++ {
		if ref[i] <= ideal[i] {
			return 0
		}
		box *= ref[i] - ideal[i]
	}

	sample := make([]float64, m)
	hits := 0
	for s := 0; s < hypervolumeSamples; s++ {
		for i := 0; i < m; i++ {
			sample[i] = ideal[i] + rng.Float64()*(ref[i]-ideal[i])
		}
		for _, p := range front {
			if Dominates(p, sample) || equal(p, sample) {
				hits++
				break
			}
		}
	}
	return box * float64(hits) / float64(hypervolumeSamples)
}

func equal(a, b []float64) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Spacing computes Schott's spacing metric: the standard deviation of each
// front member's Manhattan distance to its nearest neighbor. Zero means a
// perfectly even spread.
func Spacing(front [][]float64) float64 {
	n := len(front)
	if n < 2 {
		return 0
	}
	dists := make([]float64, n)
	for i := range front {
		min := math.Inf(1)
		for j := range front {
			if i == j {
				continue
			}
			d := 0.0
			for k := range front[i] {
				d += math.Abs(front[i][k] - front[j][k])
			}
			if d < min {
				min = d
			}
		}
		dists[i] = min
	}

	mean := 0.0
	for _, d := range dists {
		mean += d
	}
	mean /= float64(n)

	sum := 0.0
	for _, d := range dists {
		sum += (d - mean) * (d - mean)
	}
	return math.Sqrt(sum / float64(n-1))
}

// KneePoints returns up to k front members closest to the utopia corner of
// the normalized objective space, best trade-off first.
func KneePoints(front []*Point, k int) []*Point {
	n := len(front)
	if n == 0 || k <= 0 {
		return nil
	}
	m := len(front[0].Objectives)

	lo := make([]float64, m)
	hi := make([]float64, m)
	copy(lo, front[0].Objectives)
	copy(hi, front[0].Objectives)
	for _, p := range front {
		for i, v := range p.Objectives {
			if v < lo[i] {
				lo[i] = v
			}
			if v > hi[i] {
				hi[i] = v
			}
		}
	}

	type scored struct {
		p *Point
		d float64
	}
	scores := make([]scored, n)
	for i, p := range front {
		d := 0.0
		for j, v := range p.Objectives {
			span := hi[j] - lo[j]
			if span == 0 {
				continue
			}
			norm := (v - lo[j]) / span
			d += norm * norm
		}
		scores[i] = scored{p: p, d: math.Sqrt(d)}
	}
	sort.SliceStable(scores, func(a, b int) bool { return scores[a].d < scores[b].d })

	if k > n {
		k = n
	}
	out := make([]*Point, k)
	for i := 0; i < k; i++ {
		out[i] = scores[i].p
	}
	return out
}

// Archive retains the best-known non-dominated points across generations,
// pruned by crowding distance when it outgrows its capacity.
type Archive struct {
	maxSize int
	points  []*Point
}

// NewArchive creates an archive holding at most maxSize points.
func NewArchive(maxSize int) *Archive {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &Archive{maxSize: maxSize}
}

// Add inserts a point if no archived point dominates it, evicting archived
// points the newcomer dominates.
func (a *Archive) Add(p *Point) {
	for _, q := range a.points {
		if Dominates(q.Objectives, p.Objectives) || equal(q.Objectives, p.Objectives) {
			return
		}
	}
	kept := a.points[:0]
	for _, q := range a.points {
		if !Dominates(p.Objectives, q.Objectives) {
			kept = append(kept, q)
		}
	}
	a.points = append(kept, p)

	if len(a.points) > a.maxSize {
		CrowdingDistance(a.points)
		sort.SliceStable(a.points, func(i, j int) bool {
			return a.points[i].Crowding > a.points[j].Crowding
		})
		a.points = a.points[:a.maxSize]
	}
}

// Points returns the archived front.
func (a *Archive) Points() []*Point { return a.points }

// Size returns the number of archived points.
func (a *Archive) Size() int { return len(a.points) }
