// Package moea implements the NSGA-II multi-objective framework on top of
// the pareto analysis toolbox, reusing the genetic algorithm's variation
// operators for offspring generation.
package moea

import (
	"context"
	"math"
	"math/rand"
	"sort"

	"github.com/ductware/ZEPHYR/internal/optimization"
	"github.com/ductware/ZEPHYR/internal/optimization/genetic"
	"github.com/ductware/ZEPHYR/internal/optimization/pareto"
)

// kneePointCount is how many trade-off solutions a result reports.
const kneePointCount = 3

type individual struct {
	x     []float64
	point *pareto.Point
}

// NSGA2 is a per-run NSGA-II instance.
type NSGA2 struct{}

// New creates an NSGA-II optimizer.
func New() *NSGA2 { return &NSGA2{} }

// Optimize runs the generational loop: non-dominated sort, crowding,
// binary tournament on (rank, crowding), GA variation, parent+offspring
// merge and diversity-preserving truncation. The archive keeps the
// best-known non-dominated set across generations; hypervolume improvement
// drives convergence.
func (n *NSGA2) Optimize(ctx context.Context, p *optimization.Problem, eval *optimization.Evaluator) (*optimization.Result, error) {
	if len(p.Objectives) < 2 {
		return nil, optimization.NewError("multi-objective optimization requires at least two objectives").
			WithComponent("moea")
	}

	s := p.Settings.MultiObjective
	if s.PopulationSize <= 0 {
		s.PopulationSize = 60
	}
	if s.MaxGenerations <= 0 {
		if p.Convergence.MaxIterations > 0 {
			s.MaxGenerations = p.Convergence.MaxIterations
		} else {
			s.MaxGenerations = 100
		}
	}
	if s.CrossoverRate <= 0 {
		s.CrossoverRate = 0.9
	}
	if s.MutationRate <= 0 {
		s.MutationRate = 0.1
	}
	if s.ArchiveSize <= 0 {
		s.ArchiveSize = 100
	}
	if s.ConvergenceThreshold <= 0 {
		s.ConvergenceThreshold = 1e-6
	}
	stagnationLimit := p.Convergence.StagnationLimit
	if stagnationLimit <= 0 {
		stagnationLimit = 10
	}

	rng := p.NewRand()

	pop := make([]*individual, s.PopulationSize)
	vectors := make([][]float64, s.PopulationSize)
	vectors[0] = p.SeedVector()
	for i := 1; i < s.PopulationSize; i++ {
		vectors[i] = p.RandomVector(rng)
	}
	for i, sol := range eval.EvaluateAll(vectors) {
		pop[i] = &individual{x: vectors[i], point: &pareto.Point{
			Objectives: eval.Oriented(sol),
			Solution:   sol,
		}}
	}

	archive := pareto.NewArchive(s.ArchiveSize)
	result := &optimization.Result{Status: optimization.StatusMaxIterations}

	rankPopulation(pop)
	n.archiveFirstFront(archive, pop)

	lastHV := math.Inf(-1)
	stagnant := 0

	for gen := 1; gen <= s.MaxGenerations; gen++ {
		if err := eval.FailureErr(); err != nil {
			return nil, err
		}
		if optimization.Cancelled(ctx) {
			result.Status = optimization.StatusCancelled
			break
		}
		if eval.Exhausted() {
			break
		}

		offspring := n.makeOffspring(rng, p, eval, &s, pop)
		merged := append(pop, offspring...)
		pop = truncate(merged, s.PopulationSize)
		n.archiveFirstFront(archive, pop)

		hv := pareto.Hypervolume(
			objectiveVectors(archive.Points()),
			pareto.ReferencePoint(archive.Points()),
			rng,
		)
		result.History = append(result.History, generationStats(gen, pop, hv))

		if hv-lastHV < s.ConvergenceThreshold {
			stagnant++
		} else {
			stagnant = 0
		}
		lastHV = hv
		if stagnant >= stagnationLimit {
			result.Status = optimization.StatusConverged
			result.Stats.ConvergenceGeneration = gen
			break
		}
	}

	n.finalize(result, archive, rng)
	return result, nil
}

// makeOffspring produces one population's worth of children via binary
// tournament on (rank, crowding) and GA variation.
func (n *NSGA2) makeOffspring(
	rng *rand.Rand,
	p *optimization.Problem,
	eval *optimization.Evaluator,
	s *optimization.MultiObjectiveSettings,
	pop []*individual,
) []*individual {
	vectors := make([][]float64, 0, s.PopulationSize)
	for len(vectors) < s.PopulationSize {
		p1 := crowdedTournament(rng, pop)
		p2 := crowdedTournament(rng, pop)

		var c1, c2 []float64
		if rng.Float64() < s.CrossoverRate {
			c1, c2 = genetic.Crossover(rng, p, p1.x, p2.x)
		} else {
			c1 = append([]float64(nil), p1.x...)
			c2 = append([]float64(nil), p2.x...)
		}
		genetic.Mutate(rng, p, c1, s.MutationRate)
		genetic.Mutate(rng, p, c2, s.MutationRate)

		vectors = append(vectors, c1)
		if len(vectors) < s.PopulationSize {
			vectors = append(vectors, c2)
		}
	}

	offspring := make([]*individual, len(vectors))
	for i, sol := range eval.EvaluateAll(vectors) {
		offspring[i] = &individual{x: vectors[i], point: &pareto.Point{
			Objectives: eval.Oriented(sol),
			Solution:   sol,
		}}
	}
	return offspring
}

// crowdedTournament prefers lower front rank, breaking ties by higher
// crowding distance.
func crowdedTournament(rng *rand.Rand, pop []*individual) *individual {
	a := pop[rng.Intn(len(pop))]
	b := pop[rng.Intn(len(pop))]
	if a.point.Rank != b.point.Rank {
		if a.point.Rank < b.point.Rank {
			return a
		}
		return b
	}
	if a.point.Crowding >= b.point.Crowding {
		return a
	}
	return b
}

// rankPopulation runs non-dominated sorting and crowding over the whole
// population, mutating the points' Rank and Crowding fields.
func rankPopulation(pop []*individual) [][]*pareto.Point {
	points := make([]*pareto.Point, len(pop))
	for i, ind := range pop {
		points[i] = ind.point
	}
	fronts := pareto.SortFronts(points)
	for _, front := range fronts {
		pareto.CrowdingDistance(front)
	}
	return fronts
}

// truncate keeps the best size individuals: whole fronts while they fit,
// then the most diverse members of the cutoff front.
func truncate(merged []*individual, size int) []*individual {
	byPoint := make(map[*pareto.Point]*individual, len(merged))
	for _, ind := range merged {
		byPoint[ind.point] = ind
	}
	fronts := rankPopulation(merged)

	next := make([]*individual, 0, size)
	for _, front := range fronts {
		if len(next)+len(front) <= size {
			for _, pt := range front {
				next = append(next, byPoint[pt])
			}
			continue
		}
		remaining := append([]*pareto.Point(nil), front...)
		// Highest crowding first at the cutoff.
		sort.SliceStable(remaining, func(i, j int) bool {
			return remaining[i].Crowding > remaining[j].Crowding
		})
		for _, pt := range remaining[:size-len(next)] {
			next = append(next, byPoint[pt])
		}
		break
	}
	return next
}

func (n *NSGA2) archiveFirstFront(archive *pareto.Archive, pop []*individual) {
	for _, ind := range pop {
		if ind.point.Rank == 0 && ind.point.Solution.Feasible {
			archive.Add(ind.point)
		}
	}
	// Infeasible-only populations still archive their least-violating front.
	if archive.Size() == 0 {
		for _, ind := range pop {
			if ind.point.Rank == 0 {
				archive.Add(ind.point)
			}
		}
	}
}

// finalize assembles the Pareto front, its metrics and the knee-point
// trade-off analysis into the result.
func (n *NSGA2) finalize(result *optimization.Result, archive *pareto.Archive, rng *rand.Rand) {
	points := archive.Points()
	front := &optimization.ParetoFront{}
	for _, pt := range points {
		front.Solutions = append(front.Solutions, pt.Solution)
	}
	if len(points) > 0 {
		vecs := objectiveVectors(points)
		front.Hypervolume = pareto.Hypervolume(vecs, pareto.ReferencePoint(points), rng)
		front.Spacing = pareto.Spacing(vecs)

		knees := pareto.KneePoints(points, kneePointCount)
		for _, pt := range knees {
			result.KneePoints = append(result.KneePoints, pt.Solution)
		}
		if len(knees) > 0 {
			result.Best = knees[0].Solution.Clone()
		}
	}
	result.Front = front
}

func objectiveVectors(points []*pareto.Point) [][]float64 {
	out := make([][]float64, len(points))
	for i, pt := range points {
		out[i] = pt.Objectives
	}
	return out
}

func generationStats(gen int, pop []*individual, hv float64) optimization.GenerationStats {
	best := math.Inf(1)
	mean := 0.0
	for _, ind := range pop {
		f := ind.point.Solution.Fitness
		if f < best {
			best = f
		}
		mean += f
	}
	mean /= float64(len(pop))
	return optimization.GenerationStats{
		Generation:  gen,
		BestFitness: best,
		MeanFitness: mean,
		Hypervolume: hv,
	}
}
