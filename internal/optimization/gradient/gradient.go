// Package gradient implements black-box gradient descent: gradients of the
// opaque objective are estimated with central finite differences, so it
// applies only to problems whose variables are all continuous. Vanilla,
// momentum and Adam update rules are supported.
package gradient

import (
	"context"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/ductware/ZEPHYR/internal/optimization"
)

// GD is a per-run gradient descent instance.
type GD struct{}

// New creates a gradient descent optimizer.
func New() *GD { return &GD{} }

// Optimize descends from the problem's seed vector until the gradient norm
// or the fitness improvement falls below the tolerance, or a budget or
// cancellation stops the run. The engine rejects problems with discrete or
// categorical variables before dispatching here.
func (g *GD) Optimize(ctx context.Context, p *optimization.Problem, eval *optimization.Evaluator) (*optimization.Result, error) {
	if p.HasNonContinuous() {
		return nil, optimization.NewError("gradient descent requires all variables to be continuous").
			WithComponent("gradient")
	}

	s := p.Settings.Gradient
	if s.Variant == "" {
		s.Variant = optimization.AdamGradient
	}
	if s.LearningRate <= 0 {
		s.LearningRate = 0.05
	}
	if s.Momentum <= 0 {
		s.Momentum = 0.9
	}
	if s.Beta1 <= 0 {
		s.Beta1 = 0.9
	}
	if s.Beta2 <= 0 {
		s.Beta2 = 0.999
	}
	if s.Epsilon <= 0 {
		s.Epsilon = 1e-8
	}
	if s.FDStep <= 0 {
		s.FDStep = 1e-4
	}
	if s.Tolerance <= 0 {
		if p.Convergence.Tolerance > 0 {
			s.Tolerance = p.Convergence.Tolerance
		} else {
			s.Tolerance = 1e-6
		}
	}
	if s.MaxIterations <= 0 {
		if p.Convergence.MaxIterations > 0 {
			s.MaxIterations = p.Convergence.MaxIterations
		} else {
			s.MaxIterations = 1000
		}
	}

	dim := p.Dimension()
	x := p.SeedVector()
	sol := eval.Evaluate(x)
	best := sol.Clone()

	result := &optimization.Result{Status: optimization.StatusMaxIterations}
	result.History = append(result.History, optimization.GenerationStats{
		Generation:  0,
		BestFitness: best.Fitness,
		MeanFitness: sol.Fitness,
	})

	velocity := make([]float64, dim) // momentum buffer
	m := make([]float64, dim)        // Adam first moment
	v := make([]float64, dim)        // Adam second moment
	grad := make([]float64, dim)

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

		g.estimateGradient(p, eval, &s, x, grad)
		if floats.Norm(grad, 2) < s.Tolerance {
			result.Status = optimization.StatusConverged
			result.Stats.ConvergenceGeneration = iter
			break
		}

		switch s.Variant {
		case optimization.VanillaGradient:
			for d := 0; d < dim; d++ {
				x[d] -= s.LearningRate * grad[d]
			}
		case optimization.MomentumGradient:
			for d := 0; d < dim; d++ {
				velocity[d] = s.Momentum*velocity[d] - s.LearningRate*grad[d]
				x[d] += velocity[d]
			}
		default: // Adam with bias-corrected moment estimates
			t := float64(iter)
			for d := 0; d < dim; d++ {
				m[d] = s.Beta1*m[d] + (1-s.Beta1)*grad[d]
				v[d] = s.Beta2*v[d] + (1-s.Beta2)*grad[d]*grad[d]
				mHat := m[d] / (1 - math.Pow(s.Beta1, t))
				vHat := v[d] / (1 - math.Pow(s.Beta2, t))
				x[d] -= s.LearningRate * mHat / (math.Sqrt(vHat) + s.Epsilon)
			}
		}
		p.ClampVector(x)

		prev := sol.Fitness
		sol = eval.Evaluate(x)
		if sol.Better(best) {
			best = sol.Clone()
		}
		result.History = append(result.History, optimization.GenerationStats{
			Generation:  iter,
			BestFitness: best.Fitness,
			MeanFitness: sol.Fitness,
		})

		if math.Abs(prev-sol.Fitness) < s.Tolerance && floats.Norm(grad, 2) < math.Sqrt(s.Tolerance) {
			result.Status = optimization.StatusConverged
			result.Stats.ConvergenceGeneration = iter
			break
		}
	}

	result.Best = best
	return result, nil
}

// estimateGradient fills grad with central finite differences of the
// penalized fitness. The step per dimension scales with the variable range
// and respects the box bounds by falling back to one-sided differences at
// the edges.
func (g *GD) estimateGradient(
	p *optimization.Problem,
	eval *optimization.Evaluator,
	s *optimization.GradientSettings,
	x []float64,
	grad []float64,
) {
	probe := append([]float64(nil), x...)
	for d := range p.Variables {
		v := &p.Variables[d]
		h := s.FDStep * v.Range()
		if h <= 0 {
			h = s.FDStep
		}

		hi := math.Min(x[d]+h, v.Max)
		lo := math.Max(x[d]-h, v.Min)
		if hi == lo {
			grad[d] = 0
			continue
		}

		probe[d] = hi
		fHi := eval.Evaluate(probe).Fitness
		probe[d] = lo
		fLo := eval.Evaluate(probe).Fitness
		probe[d] = x[d]

		grad[d] = (fHi - fLo) / (hi - lo)
	}
}
