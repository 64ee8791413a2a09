package annealing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ductware/ZEPHYR/internal/optimization"
)

func basinProblem(seed int64) *optimization.Problem {
	p := &optimization.Problem{
		ID: "basin",
		Variables: []optimization.Variable{
			{ID: "x", Type: optimization.ContinuousVariable, Min: -10, Max: 10},
		},
		Objectives: []optimization.Objective{{
			ID: "f", Sense: optimization.Minimize, Weight: 1,
			Eval: func(v map[string]float64, _ optimization.SystemConfig) (float64, error) {
				return (v["x"] - 3) * (v["x"] - 3), nil
			},
		}},
		Settings: optimization.DefaultSettings(),
		Seed:     seed,
	}
	p.Settings.Annealing.MaxIterations = 3000
	return p
}

func TestSAFindsBasin(t *testing.T) {
	p := basinProblem(17)
	eval := optimization.NewEvaluator(p, nil, 0)

	result, err := New().Optimize(context.Background(), p, eval)
	require.NoError(t, err)
	require.NotNil(t, result.Best)

	assert.Less(t, result.Best.Fitness, 0.5)
	assert.InDelta(t, 3.0, result.Best.Assignment["x"], 1.0)
	assert.NotEmpty(t, result.History)
}

func TestSABestNeverWorsens(t *testing.T) {
	p := basinProblem(23)
	eval := optimization.NewEvaluator(p, nil, 0)

	result, err := New().Optimize(context.Background(), p, eval)
	require.NoError(t, err)

	prev := result.History[0].BestFitness
	for _, gen := range result.History[1:] {
		assert.LessOrEqual(t, gen.BestFitness, prev)
		prev = gen.BestFitness
	}
}

func TestSACoolingSchedules(t *testing.T) {
	for _, schedule := range []optimization.CoolingSchedule{
		optimization.LinearCooling,
		optimization.ExponentialCooling,
		optimization.LogarithmicCooling,
	} {
		t.Run(string(schedule), func(t *testing.T) {
			s := optimization.AnnealingSettings{
				InitialTemperature: 100,
				FinalTemperature:   0.01,
				MaxIterations:      500,
				Schedule:           schedule,
			}
			prev := temperature(&s, 1)
			assert.LessOrEqual(t, prev, s.InitialTemperature)
			for iter := 2; iter <= s.MaxIterations; iter++ {
				cur := temperature(&s, iter)
				assert.LessOrEqual(t, cur, prev, "schedule %s warmed up at iteration %d", schedule, iter)
				prev = cur
			}
			assert.InDelta(t, s.FinalTemperature, temperature(&s, s.MaxIterations), 0.5)
		})
	}
}

func TestSADeterministicUnderSeed(t *testing.T) {
	run := func() *optimization.Result {
		p := basinProblem(41)
		result, err := New().Optimize(context.Background(), p, optimization.NewEvaluator(p, nil, 0))
		require.NoError(t, err)
		return result
	}
	r1, r2 := run(), run()
	assert.Equal(t, r1.Best.Fitness, r2.Best.Fitness)
	assert.Equal(t, r1.Best.Assignment, r2.Best.Assignment)
}

func TestSACancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := basinProblem(7)
	eval := optimization.NewEvaluator(p, nil, 0)
	result, err := New().Optimize(ctx, p, eval)
	require.NoError(t, err)

	assert.Equal(t, optimization.StatusCancelled, result.Status)
	assert.NotNil(t, result.Best)
	assert.Equal(t, 1, eval.Evaluations())
}

func TestSAMixedVariablesStayInDomain(t *testing.T) {
	p := basinProblem(9)
	p.Variables = append(p.Variables,
		optimization.Variable{ID: "n", Type: optimization.DiscreteVariable, Min: 0, Max: 12, Step: 4},
		optimization.Variable{ID: "m", Type: optimization.CategoricalVariable, Levels: []string{"a", "b", "c"}},
	)
	p.Settings.Annealing.MaxIterations = 400
	eval := optimization.NewEvaluator(p, nil, 0)

	result, err := New().Optimize(context.Background(), p, eval)
	require.NoError(t, err)

	for i := range p.Variables {
		v := &p.Variables[i]
		got := result.Best.Assignment[v.ID]
		assert.Equal(t, v.Clamp(got), got, "variable %s out of domain: %v", v.ID, got)
	}
}
