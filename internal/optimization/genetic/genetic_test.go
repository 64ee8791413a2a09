package genetic

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ductware/ZEPHYR/internal/optimization"
)

func sphereProblem(seed int64) *optimization.Problem {
	p := &optimization.Problem{
		ID: "sphere",
		Variables: []optimization.Variable{
			{ID: "x", Type: optimization.ContinuousVariable, Min: -5, Max: 5},
			{ID: "y", Type: optimization.ContinuousVariable, Min: -5, Max: 5},
		},
		Objectives: []optimization.Objective{{
			ID: "f", Sense: optimization.Minimize, Weight: 1,
			Eval: func(v map[string]float64, _ optimization.SystemConfig) (float64, error) {
				return (v["x"]-1)*(v["x"]-1) + (v["y"]+2)*(v["y"]+2), nil
			},
		}},
		Settings: optimization.DefaultSettings(),
		Seed:     seed,
	}
	p.Settings.Genetic.PopulationSize = 40
	p.Settings.Genetic.MaxGenerations = 80
	return p
}

func TestGAOptimizeSphere(t *testing.T) {
	p := sphereProblem(11)
	eval := optimization.NewEvaluator(p, nil, 0)

	result, err := New().Optimize(context.Background(), p, eval)
	require.NoError(t, err)
	require.NotNil(t, result.Best)

	assert.Contains(t, []optimization.Status{
		optimization.StatusConverged,
		optimization.StatusMaxIterations,
	}, result.Status)
	assert.Less(t, result.Best.Fitness, 1.0)
	assert.NotEmpty(t, result.History)
}

func TestGASolutionsStayInBounds(t *testing.T) {
	p := sphereProblem(3)
	p.Variables = append(p.Variables, optimization.Variable{
		ID: "mode", Type: optimization.CategoricalVariable, Levels: []string{"low", "high"},
	})
	eval := optimization.NewEvaluator(p, nil, 0)

	result, err := New().Optimize(context.Background(), p, eval)
	require.NoError(t, err)
	require.NotNil(t, result.Best)

	for i := range p.Variables {
		v := &p.Variables[i]
		got := result.Best.Assignment[v.ID]
		assert.Equal(t, v.Clamp(got), got, "variable %s out of domain: %v", v.ID, got)
	}
}

func TestGADeterministicUnderSeed(t *testing.T) {
	r1, err := New().Optimize(context.Background(), sphereProblem(99), optimization.NewEvaluator(sphereProblem(99), nil, 0))
	require.NoError(t, err)
	r2, err := New().Optimize(context.Background(), sphereProblem(99), optimization.NewEvaluator(sphereProblem(99), nil, 0))
	require.NoError(t, err)

	assert.Equal(t, r1.Best.Fitness, r2.Best.Fitness)
	assert.Equal(t, r1.Best.Assignment, r2.Best.Assignment)
	assert.Equal(t, len(r1.History), len(r2.History))
}

func TestGACancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := sphereProblem(5)
	eval := optimization.NewEvaluator(p, nil, 0)
	result, err := New().Optimize(ctx, p, eval)
	require.NoError(t, err)

	assert.Equal(t, optimization.StatusCancelled, result.Status)
	assert.NotNil(t, result.Best)
	assert.LessOrEqual(t, eval.Evaluations(), p.Settings.Genetic.PopulationSize)
}

func TestCrossoverRespectsDomains(t *testing.T) {
	p := &optimization.Problem{
		Variables: []optimization.Variable{
			{ID: "a", Type: optimization.ContinuousVariable, Min: 0, Max: 1},
			{ID: "b", Type: optimization.DiscreteVariable, Min: 0, Max: 10, Step: 2},
			{ID: "c", Type: optimization.CategoricalVariable, Levels: []string{"x", "y", "z"}},
		},
	}
	rng := rand.New(rand.NewSource(4))

	for i := 0; i < 200; i++ {
		pa := p.RandomVector(rng)
		pb := p.RandomVector(rng)
		c1, c2 := Crossover(rng, p, pa, pb)
		for d := range p.Variables {
			v := &p.Variables[d]
			assert.Equal(t, v.Clamp(c1[d]), c1[d])
			assert.Equal(t, v.Clamp(c2[d]), c2[d])
		}
	}
}

func TestMutateClampsToBounds(t *testing.T) {
	p := &optimization.Problem{
		Variables: []optimization.Variable{
			{ID: "a", Type: optimization.ContinuousVariable, Min: -1, Max: 1},
			{ID: "b", Type: optimization.DiscreteVariable, Min: 0, Max: 4},
		},
	}
	rng := rand.New(rand.NewSource(8))

	x := []float64{0.9, 4}
	for i := 0; i < 500; i++ {
		Mutate(rng, p, x, 1.0)
		for d := range p.Variables {
			v := &p.Variables[d]
			assert.Equal(t, v.Clamp(x[d]), x[d])
		}
	}
}
