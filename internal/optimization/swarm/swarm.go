// Package swarm implements particle swarm optimization with inertia-weight
// velocity updates, per-dimension velocity clamping and reflection at the
// variable bounds.
package swarm

import (
	"context"

	"gonum.org/v1/gonum/stat"

	"github.com/ductware/ZEPHYR/internal/optimization"
)

type particle struct {
	pos      []float64
	vel      []float64
	bestPos  []float64
	bestFit  float64
	solution *optimization.Solution
}

// PSO is a per-run particle swarm instance.
type PSO struct{}

// New creates a particle swarm optimizer.
func New() *PSO { return &PSO{} }

// Optimize runs the swarm until the iteration budget, global-best
// stagnation, the evaluation budget or cancellation stops it.
func (o *PSO) Optimize(ctx context.Context, p *optimization.Problem, eval *optimization.Evaluator) (*optimization.Result, error) {
	s := p.Settings.Swarm
	if s.SwarmSize <= 0 {
		s.SwarmSize = 40
	}
	if s.MaxIterations <= 0 {
		if p.Convergence.MaxIterations > 0 {
			s.MaxIterations = p.Convergence.MaxIterations
		} else {
			s.MaxIterations = 200
		}
	}
	if s.Inertia <= 0 {
		s.Inertia = 0.729
	}
	if s.Cognitive <= 0 {
		s.Cognitive = 1.49445
	}
	if s.Social <= 0 {
		s.Social = 1.49445
	}
	if s.VelocityClamp <= 0 || s.VelocityClamp > 1 {
		s.VelocityClamp = 0.2
	}
	stagnationLimit := p.Convergence.StagnationLimit
	if stagnationLimit <= 0 {
		stagnationLimit = 25
	}
	improvement := p.Convergence.ImprovementThreshold
	if improvement <= 0 {
		improvement = 1e-9
	}

	rng := p.NewRand()
	dim := p.Dimension()

	vmax := make([]float64, dim)
	for i := range p.Variables {
		vmax[i] = s.VelocityClamp * p.Variables[i].Range()
	}

	particles := make([]*particle, s.SwarmSize)
	positions := make([][]float64, s.SwarmSize)
	for i := range particles {
		pos := p.RandomVector(rng)
		if i == 0 {
			pos = p.SeedVector()
		}
		vel := make([]float64, dim)
		for d := 0; d < dim; d++ {
			vel[d] = (rng.Float64()*2 - 1) * vmax[d]
		}
		particles[i] = &particle{pos: pos, vel: vel}
		positions[i] = pos
	}

	sols := eval.EvaluateAll(positions)
	var gBest *optimization.Solution
	var gBestPos []float64
	for i, part := range particles {
		part.solution = sols[i]
		part.bestPos = append([]float64(nil), part.pos...)
		part.bestFit = sols[i].Fitness
		if sols[i].Better(gBest) {
			gBest = sols[i].Clone()
			gBestPos = append([]float64(nil), part.pos...)
		}
	}

	result := &optimization.Result{Status: optimization.StatusMaxIterations}
	result.History = append(result.History, iterationStats(0, sols))

	stagnant := 0
	lastBest := gBest.Fitness

	for iter := 1; iter <= s.MaxIterations; iter++ {
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

		for i, part := range particles {
			for d := 0; d < dim; d++ {
				r1, r2 := rng.Float64(), rng.Float64()
				v := s.Inertia*part.vel[d] +
					s.Cognitive*r1*(part.bestPos[d]-part.pos[d]) +
					s.Social*r2*(gBestPos[d]-part.pos[d])
				if v > vmax[d] {
					v = vmax[d]
				}
				if v < -vmax[d] {
					v = -vmax[d]
				}
				part.vel[d] = v
				part.pos[d] += v
			}
			reflect(p, part)
			positions[i] = part.pos
		}

		sols = eval.EvaluateAll(positions)
		for i, part := range particles {
			part.solution = sols[i]
			if sols[i].Fitness < part.bestFit {
				part.bestFit = sols[i].Fitness
				copy(part.bestPos, part.pos)
			}
			if sols[i].Better(gBest) {
				gBest = sols[i].Clone()
				copy(gBestPos, part.pos)
			}
		}
		result.History = append(result.History, iterationStats(iter, sols))

		if lastBest-gBest.Fitness < improvement {
			stagnant++
		} else {
			stagnant = 0
		}
		lastBest = gBest.Fitness
		if stagnant >= stagnationLimit {
			result.Status = optimization.StatusConverged
			result.Stats.ConvergenceGeneration = iter
			break
		}
	}

	result.Best = gBest
	return result, nil
}

// reflect bounces a particle off the variable bounds, damping and reversing
// the offending velocity component, then snaps mixed-type dimensions back
// onto their grids.
func reflect(p *optimization.Problem, part *particle) {
	for d := range p.Variables {
		v := &p.Variables[d]
		lo, hi := v.Clamp(v.Min), v.Clamp(v.Max)
		if v.Type == optimization.CategoricalVariable {
			lo, hi = 0, float64(len(v.Levels)-1)
		}
		if part.pos[d] < lo {
			part.pos[d] = lo
			part.vel[d] = -0.5 * part.vel[d]
		} else if part.pos[d] > hi {
			part.pos[d] = hi
			part.vel[d] = -0.5 * part.vel[d]
		}
		part.pos[d] = v.Clamp(part.pos[d])
	}
}

func iterationStats(iter int, sols []*optimization.Solution) optimization.GenerationStats {
	fits := make([]float64, len(sols))
	best := sols[0].Fitness
	for i, s := range sols {
		fits[i] = s.Fitness
		if s.Fitness < best {
			best = s.Fitness
		}
	}
	mean, std := stat.MeanStdDev(fits, nil)
	return optimization.GenerationStats{
		Generation:  iter,
		BestFitness: best,
		MeanFitness: mean,
		StdDev:      std,
	}
}
