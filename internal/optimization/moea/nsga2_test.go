package moea

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ductware/ZEPHYR/internal/optimization"
	"github.com/ductware/ZEPHYR/internal/optimization/pareto"
)

// schafferProblem is Schaffer's problem N1: minimize x^2 and (x-2)^2. The
// true Pareto set is x in [0, 2].
func schafferProblem(seed int64) *optimization.Problem {
	p := &optimization.Problem{
		ID: "schaffer-n1",
		Variables: []optimization.Variable{
			{ID: "x", Type: optimization.ContinuousVariable, Min: -1, Max: 3},
		},
		Objectives: []optimization.Objective{
			{ID: "f1", Sense: optimization.Minimize, Weight: 0.5,
				Eval: func(v map[string]float64, _ optimization.SystemConfig) (float64, error) {
					return v["x"] * v["x"], nil
				}},
			{ID: "f2", Sense: optimization.Minimize, Weight: 0.5,
				Eval: func(v map[string]float64, _ optimization.SystemConfig) (float64, error) {
					return (v["x"] - 2) * (v["x"] - 2), nil
				}},
		},
		Aggregation: optimization.Pareto,
		Settings:    optimization.DefaultSettings(),
		Seed:        seed,
	}
	p.Settings.MultiObjective.PopulationSize = 40
	p.Settings.MultiObjective.MaxGenerations = 40
	return p
}

func TestNSGA2SchafferFront(t *testing.T) {
	p := schafferProblem(19)
	eval := optimization.NewEvaluator(p, nil, 0)

	result, err := New().Optimize(context.Background(), p, eval)
	require.NoError(t, err)
	require.NotNil(t, result.Front)
	require.NotEmpty(t, result.Front.Solutions)

	// Returned front members sit near the true Pareto set x in [0, 2].
	for _, sol := range result.Front.Solutions {
		x := sol.Assignment["x"]
		assert.GreaterOrEqual(t, x, -0.3)
		assert.LessOrEqual(t, x, 2.3)
	}
	assert.Greater(t, result.Front.Hypervolume, 0.0)
	assert.NotEmpty(t, result.KneePoints)
	assert.NotNil(t, result.Best)
}

func TestNSGA2FrontPairwiseNonDominated(t *testing.T) {
	p := schafferProblem(37)
	eval := optimization.NewEvaluator(p, nil, 0)

	result, err := New().Optimize(context.Background(), p, eval)
	require.NoError(t, err)

	sols := result.Front.Solutions
	for i := range sols {
		for j := range sols {
			if i == j {
				continue
			}
			assert.False(t, pareto.Dominates(sols[i].Objectives, sols[j].Objectives),
				"front member %d dominates member %d", i, j)
		}
	}
}

func TestNSGA2RejectsSingleObjective(t *testing.T) {
	p := schafferProblem(1)
	p.Objectives = p.Objectives[:1]
	eval := optimization.NewEvaluator(p, nil, 0)

	result, err := New().Optimize(context.Background(), p, eval)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "at least two objectives")
}

func TestNSGA2DeterministicUnderSeed(t *testing.T) {
	run := func() *optimization.Result {
		p := schafferProblem(55)
		result, err := New().Optimize(context.Background(), p, optimization.NewEvaluator(p, nil, 0))
		require.NoError(t, err)
		return result
	}
	r1, r2 := run(), run()

	require.Equal(t, len(r1.Front.Solutions), len(r2.Front.Solutions))
	assert.Equal(t, r1.Front.Hypervolume, r2.Front.Hypervolume)
	assert.Equal(t, r1.Best.Assignment, r2.Best.Assignment)
}

func TestNSGA2Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := schafferProblem(5)
	eval := optimization.NewEvaluator(p, nil, 0)
	result, err := New().Optimize(ctx, p, eval)
	require.NoError(t, err)

	assert.Equal(t, optimization.StatusCancelled, result.Status)
	assert.NotNil(t, result.Front)
	assert.NotEmpty(t, result.Front.Solutions)
	assert.LessOrEqual(t, eval.Evaluations(), p.Settings.MultiObjective.PopulationSize)
}

func TestNSGA2ConstrainedFrontPrefersFeasible(t *testing.T) {
	p := schafferProblem(67)
	// Feasible iff x >= 0.5, carving away part of the unconstrained front.
	p.Constraints = []optimization.Constraint{{
		ID:   "g",
		Kind: optimization.Inequality,
		Eval: func(v map[string]float64, _ optimization.SystemConfig) (float64, error) {
			return 0.5 - v["x"], nil
		},
	}}
	eval := optimization.NewEvaluator(p, nil, 0)

	result, err := New().Optimize(context.Background(), p, eval)
	require.NoError(t, err)
	require.NotEmpty(t, result.Front.Solutions)

	for _, sol := range result.Front.Solutions {
		assert.True(t, sol.Feasible)
		assert.GreaterOrEqual(t, sol.Assignment["x"], 0.5-1e-9)
	}
}

func TestTruncatePrefersRankThenCrowding(t *testing.T) {
	mk := func(objs ...float64) *individual {
		return &individual{
			x: []float64{0},
			point: &pareto.Point{
				Objectives: objs,
				Solution:   &optimization.Solution{Objectives: objs, Feasible: true},
			},
		}
	}
	merged := []*individual{
		mk(5, 5),   // rank 1
		mk(0, 4),   // rank 0 boundary
		mk(1, 2.9), // rank 0 sparse middle
		mk(2, 2.8), // rank 0 crowded middle
		mk(2.1, 2.7),
		mk(4, 0), // rank 0 boundary
	}
	next := truncate(merged, 4)

	require.Len(t, next, 4)
	for _, ind := range next {
		assert.Equal(t, 0, ind.point.Rank, "dominated individual survived truncation")
	}

	var sawLow, sawHigh bool
	for _, ind := range next {
		if ind.point.Objectives[0] == 0 {
			sawLow = true
		}
		if ind.point.Objectives[0] == 4 {
			sawHigh = true
		}
	}
	assert.True(t, sawLow)
	assert.True(t, sawHigh)
}
