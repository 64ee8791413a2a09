package gradient

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ductware/ZEPHYR/internal/optimization"
)

func quadraticProblem(variant optimization.GradientVariant) *optimization.Problem {
	start := -4.0
	p := &optimization.Problem{
		ID: "quadratic",
		Variables: []optimization.Variable{
			{ID: "x", Type: optimization.ContinuousVariable, Min: -10, Max: 10, Initial: &start},
		},
		Objectives: []optimization.Objective{{
			ID: "f", Sense: optimization.Minimize, Weight: 1,
			Eval: func(v map[string]float64, _ optimization.SystemConfig) (float64, error) {
				return (v["x"] - 3) * (v["x"] - 3), nil
			},
		}},
		Settings: optimization.DefaultSettings(),
		Seed:     1,
	}
	p.Settings.Gradient.Variant = variant
	p.Settings.Gradient.MaxIterations = 1500
	return p
}

func TestGDVariantsConvergeOnQuadratic(t *testing.T) {
	for _, variant := range []optimization.GradientVariant{
		optimization.VanillaGradient,
		optimization.MomentumGradient,
		optimization.AdamGradient,
	} {
		t.Run(string(variant), func(t *testing.T) {
			p := quadraticProblem(variant)
			eval := optimization.NewEvaluator(p, nil, 0)

			result, err := New().Optimize(context.Background(), p, eval)
			require.NoError(t, err)
			require.NotNil(t, result.Best)

			assert.InDelta(t, 3.0, result.Best.Assignment["x"], 1e-2)
			assert.Less(t, result.Best.Fitness, 1e-3)
		})
	}
}

func TestGDRejectsNonContinuousProblems(t *testing.T) {
	p := quadraticProblem(optimization.AdamGradient)
	p.Variables = append(p.Variables, optimization.Variable{
		ID: "n", Type: optimization.DiscreteVariable, Min: 0, Max: 5,
	})
	eval := optimization.NewEvaluator(p, nil, 0)

	result, err := New().Optimize(context.Background(), p, eval)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "continuous")
}

func TestGDStaysInsideBox(t *testing.T) {
	// Minimum of (x+20)^2 lies outside the box; the iterate must stick to
	// the lower bound instead of escaping.
	p := quadraticProblem(optimization.VanillaGradient)
	p.Objectives[0].Eval = func(v map[string]float64, _ optimization.SystemConfig) (float64, error) {
		return (v["x"] + 20) * (v["x"] + 20), nil
	}
	eval := optimization.NewEvaluator(p, nil, 0)

	result, err := New().Optimize(context.Background(), p, eval)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, result.Best.Assignment["x"], -10.0)
	assert.InDelta(t, -10.0, result.Best.Assignment["x"], 1e-2)
}

func TestGDDeterministicUnderSeed(t *testing.T) {
	run := func() *optimization.Result {
		p := quadraticProblem(optimization.AdamGradient)
		result, err := New().Optimize(context.Background(), p, optimization.NewEvaluator(p, nil, 0))
		require.NoError(t, err)
		return result
	}
	r1, r2 := run(), run()
	assert.Equal(t, r1.Best.Fitness, r2.Best.Fitness)
	assert.Equal(t, r1.Best.Assignment, r2.Best.Assignment)
}

func TestGDCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := quadraticProblem(optimization.AdamGradient)
	eval := optimization.NewEvaluator(p, nil, 0)
	result, err := New().Optimize(ctx, p, eval)
	require.NoError(t, err)

	assert.Equal(t, optimization.StatusCancelled, result.Status)
	assert.Equal(t, 1, eval.Evaluations())
}

func TestGDGradientEstimateAccuracy(t *testing.T) {
	p := quadraticProblem(optimization.VanillaGradient)
	eval := optimization.NewEvaluator(p, nil, 0)

	s := p.Settings.Gradient
	if s.FDStep <= 0 {
		s.FDStep = 1e-4
	}
	grad := make([]float64, 1)
	New().estimateGradient(p, eval, &s, []float64{1}, grad)

	// d/dx (x-3)^2 at x=1 is -4.
	assert.InDelta(t, -4.0, grad[0], 1e-3)
	assert.False(t, math.IsNaN(grad[0]))
}
