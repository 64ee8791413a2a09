// Package genetic implements a real-coded genetic algorithm over the mixed
// continuous/discrete/categorical search space. Its variation operators are
// also reused by the multi-objective framework.
package genetic

import (
	"context"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/ductware/ZEPHYR/internal/optimization"
)

// mutationScale is the Gaussian perturbation width for continuous genes,
// as a fraction of the variable range.
const mutationScale = 0.1

// GA is a per-run genetic algorithm instance.
type GA struct{}

// New creates a genetic algorithm optimizer.
func New() *GA { return &GA{} }

// Optimize runs the generational loop until the generation budget, the
// stagnation criterion, the evaluation budget or cancellation stops it.
func (g *GA) Optimize(ctx context.Context, p *optimization.Problem, eval *optimization.Evaluator) (*optimization.Result, error) {
	s := p.Settings.Genetic
	if s.PopulationSize <= 0 {
		s.PopulationSize = 50
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
	if s.EliteSize < 0 || s.EliteSize >= s.PopulationSize {
		s.EliteSize = 0
	}
	stagnationLimit := p.Convergence.StagnationLimit
	if stagnationLimit <= 0 {
		stagnationLimit = 20
	}
	improvement := p.Convergence.ImprovementThreshold
	if improvement <= 0 {
		improvement = 1e-9
	}

	rng := p.NewRand()

	pop := make([][]float64, s.PopulationSize)
	pop[0] = p.SeedVector()
	for i := 1; i < s.PopulationSize; i++ {
		pop[i] = p.RandomVector(rng)
	}
	sols := eval.EvaluateAll(pop)

	result := &optimization.Result{Status: optimization.StatusMaxIterations}
	var best *optimization.Solution
	best = updateBest(best, sols)
	result.History = append(result.History, generationStats(0, sols))

	stagnant := 0
	lastBest := best.Fitness

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

		pop, sols = g.nextGeneration(rng, p, eval, &s, pop, sols)
		best = updateBest(best, sols)
		result.History = append(result.History, generationStats(gen, sols))

		if lastBest-best.Fitness < improvement {
			stagnant++
		} else {
			stagnant = 0
		}
		lastBest = best.Fitness
		if stagnant >= stagnationLimit {
			result.Status = optimization.StatusConverged
			result.Stats.ConvergenceGeneration = gen
			break
		}
	}

	result.Best = best
	return result, nil
}

// nextGeneration applies elitism, selection, crossover and mutation.
func (g *GA) nextGeneration(
	rng *rand.Rand,
	p *optimization.Problem,
	eval *optimization.Evaluator,
	s *optimization.GeneticSettings,
	pop [][]float64,
	sols []*optimization.Solution,
) ([][]float64, []*optimization.Solution) {
	order := rankByFitness(sols)

	next := make([][]float64, 0, s.PopulationSize)
	for i := 0; i < s.EliteSize; i++ {
		next = append(next, append([]float64(nil), pop[order[i]]...))
	}

	for len(next) < s.PopulationSize {
		var i1, i2 int
		if s.Selection == optimization.RouletteSelection {
			i1, i2 = rouletteSelect(rng, sols), rouletteSelect(rng, sols)
		} else {
			i1, i2 = tournamentSelect(rng, sols), tournamentSelect(rng, sols)
		}

		var c1, c2 []float64
		if rng.Float64() < s.CrossoverRate {
			c1, c2 = Crossover(rng, p, pop[i1], pop[i2])
		} else {
			c1 = append([]float64(nil), pop[i1]...)
			c2 = append([]float64(nil), pop[i2]...)
		}
		Mutate(rng, p, c1, s.MutationRate)
		Mutate(rng, p, c2, s.MutationRate)

		next = append(next, c1)
		if len(next) < s.PopulationSize {
			next = append(next, c2)
		}
	}

	elite := sols
	nextSols := make([]*optimization.Solution, len(next))
	for i := 0; i < s.EliteSize; i++ {
		// Elites carry their scores over unchanged.
		nextSols[i] = elite[order[i]].Clone()
	}
	fresh := eval.EvaluateAll(next[s.EliteSize:])
	copy(nextSols[s.EliteSize:], fresh)
	return next, nextSols
}

// Crossover recombines two parents. Continuous genes use an arithmetic
// blend with a random mixing coefficient; discrete and categorical genes
// swap uniformly. Children are clamped back into their domains.
func Crossover(rng *rand.Rand, p *optimization.Problem, a, b []float64) ([]float64, []float64) {
	n := len(a)
	c1 := make([]float64, n)
	c2 := make([]float64, n)
	for i := 0; i < n; i++ {
		v := &p.Variables[i]
		if v.Type == optimization.ContinuousVariable {
			alpha := rng.Float64()
			c1[i] = alpha*a[i] + (1-alpha)*b[i]
			c2[i] = alpha*b[i] + (1-alpha)*a[i]
		} else if rng.Float64() < 0.5 {
			c1[i], c2[i] = b[i], a[i]
		} else {
			c1[i], c2[i] = a[i], b[i]
		}
		c1[i] = v.Clamp(c1[i])
		c2[i] = v.Clamp(c2[i])
	}
	return c1, c2
}

// Mutate perturbs genes in place with the given per-gene rate: Gaussian
// noise clamped to bounds for continuous genes, a fresh random draw for
// discrete and categorical genes.
func Mutate(rng *rand.Rand, p *optimization.Problem, x []float64, rate float64) {
	for i := range x {
		if rng.Float64() >= rate {
			continue
		}
		v := &p.Variables[i]
		if v.Type == optimization.ContinuousVariable {
			x[i] = v.Clamp(x[i] + rng.NormFloat64()*mutationScale*v.Range())
		} else {
			x[i] = v.Random(rng)
		}
	}
}

// tournamentSelect returns the index of the better of two random candidates.
func tournamentSelect(rng *rand.Rand, sols []*optimization.Solution) int {
	i1 := rng.Intn(len(sols))
	i2 := rng.Intn(len(sols))
	if sols[i1].Fitness <= sols[i2].Fitness {
		return i1
	}
	return i2
}

// rouletteSelect draws an index with probability proportional to how far a
// candidate's fitness sits below the current worst.
func rouletteSelect(rng *rand.Rand, sols []*optimization.Solution) int {
	worst := sols[0].Fitness
	for _, s := range sols[1:] {
		if s.Fitness > worst {
			worst = s.Fitness
		}
	}
	total := 0.0
	for _, s := range sols {
		total += worst - s.Fitness + 1e-12
	}
	r := rng.Float64() * total
	for i, s := range sols {
		r -= worst - s.Fitness + 1e-12
		if r <= 0 {
			return i
		}
	}
	return len(sols) - 1
}

func rankByFitness(sols []*optimization.Solution) []int {
	order := make([]int, len(sols))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return sols[order[a]].Fitness < sols[order[b]].Fitness
	})
	return order
}

func updateBest(best *optimization.Solution, sols []*optimization.Solution) *optimization.Solution {
	for _, s := range sols {
		if s.Better(best) {
			best = s.Clone()
		}
	}
	return best
}

func generationStats(gen int, sols []*optimization.Solution) optimization.GenerationStats {
	fits := make([]float64, len(sols))
	bestFit := sols[0].Fitness
	for i, s := range sols {
		fits[i] = s.Fitness
		if s.Fitness < bestFit {
			bestFit = s.Fitness
		}
	}
	mean, std := stat.MeanStdDev(fits, nil)
	return optimization.GenerationStats{
		Generation:  gen,
		BestFitness: bestFit,
		MeanFitness: mean,
		StdDev:      std,
	}
}
