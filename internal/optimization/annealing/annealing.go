// Package annealing implements simulated annealing with Metropolis
// acceptance and selectable cooling schedules.
package annealing

import (
	"context"
	"math"
	"math/rand"

	"github.com/ductware/ZEPHYR/internal/optimization"
)

// SA is a per-run simulated annealing instance.
type SA struct{}

// New creates a simulated annealing optimizer.
func New() *SA { return &SA{} }

// Optimize walks a single trajectory from the problem's seed vector,
// accepting worse neighbors with probability exp(-delta/T) and cooling the
// temperature each iteration. The run stops when the temperature reaches
// its floor, the iteration or evaluation budget is spent, or the context is
// cancelled.
func (a *SA) Optimize(ctx context.Context, p *optimization.Problem, eval *optimization.Evaluator) (*optimization.Result, error) {
	s := p.Settings.Annealing
	if s.InitialTemperature <= 0 {
		s.InitialTemperature = 100
	}
	if s.FinalTemperature <= 0 {
		s.FinalTemperature = 1e-3
	}
	if s.FinalTemperature >= s.InitialTemperature {
		s.FinalTemperature = s.InitialTemperature / 1e5
	}
	if s.MaxIterations <= 0 {
		if p.Convergence.MaxIterations > 0 {
			s.MaxIterations = p.Convergence.MaxIterations
		} else {
			s.MaxIterations = 2000
		}
	}
	if s.Schedule == "" {
		s.Schedule = optimization.ExponentialCooling
	}

	rng := p.NewRand()

	current := p.SeedVector()
	currentSol := eval.Evaluate(current)
	best := currentSol.Clone()

	result := &optimization.Result{Status: optimization.StatusMaxIterations}
	result.History = append(result.History, optimization.GenerationStats{
		Generation:  0,
		BestFitness: best.Fitness,
		MeanFitness: currentSol.Fitness,
	})

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

		temp := temperature(&s, iter)
		if temp <= s.FinalTemperature {
			result.Status = optimization.StatusConverged
			result.Stats.ConvergenceGeneration = iter
			break
		}

		neighborX := neighbor(rng, p, current, temp/s.InitialTemperature)
		neighborSol := eval.Evaluate(neighborX)

		delta := neighborSol.Fitness - currentSol.Fitness
		if delta <= 0 || rng.Float64() < math.Exp(-delta/temp) {
			current = neighborX
			currentSol = neighborSol
		}
		if currentSol.Better(best) {
			best = currentSol.Clone()
		}

		result.History = append(result.History, optimization.GenerationStats{
			Generation:  iter,
			BestFitness: best.Fitness,
			MeanFitness: currentSol.Fitness,
		})
	}

	result.Best = best
	return result, nil
}

// temperature evaluates the cooling schedule at the given iteration.
func temperature(s *optimization.AnnealingSettings, iter int) float64 {
	frac := float64(iter) / float64(s.MaxIterations)
	switch s.Schedule {
	case optimization.LinearCooling:
		return s.InitialTemperature + frac*(s.FinalTemperature-s.InitialTemperature)
	case optimization.LogarithmicCooling:
		// Scaled so the final iteration lands on the floor temperature.
		c := (s.InitialTemperature/s.FinalTemperature - 1) / math.Log(1+float64(s.MaxIterations))
		return s.InitialTemperature / (1 + c*math.Log(1+float64(iter)))
	default:
		return s.InitialTemperature * math.Pow(s.FinalTemperature/s.InitialTemperature, frac)
	}
}

// neighbor perturbs a random subset of variables, with magnitude scaled to
// the current temperature fraction.
func neighbor(rng *rand.Rand, p *optimization.Problem, x []float64, scale float64) []float64 {
	n := len(x)
	out := append([]float64(nil), x...)
	prob := 1.0 / float64(n)
	touched := false
	for i := 0; i < n; i++ {
		if rng.Float64() >= prob {
			continue
		}
		touched = true
		perturb(rng, &p.Variables[i], out, i, scale)
	}
	if !touched {
		i := rng.Intn(n)
		perturb(rng, &p.Variables[i], out, i, scale)
	}
	return out
}

func perturb(rng *rand.Rand, v *optimization.Variable, x []float64, i int, scale float64) {
	switch v.Type {
	case optimization.ContinuousVariable:
		x[i] = v.Clamp(x[i] + rng.NormFloat64()*scale*v.Range())
	case optimization.DiscreteVariable:
		step := v.Step
		if step <= 0 {
			step = 1
		}
		// Hop a small number of grid points, at least one.
		hops := math.Max(1, math.Round(math.Abs(rng.NormFloat64())*scale*v.Range()/step))
		if rng.Intn(2) == 0 {
			hops = -hops
		}
		x[i] = v.Clamp(x[i] + hops*step)
	default:
		x[i] = v.Random(rng)
	}
}
