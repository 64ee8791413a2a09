package optimization

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVariableClamp(t *testing.T) {
	tests := []struct {
		name     string
		variable Variable
		in       float64
		want     float64
	}{
		{
			name:     "continuous within bounds",
			variable: Variable{ID: "d", Type: ContinuousVariable, Min: 0, Max: 1},
			in:       0.25,
			want:     0.25,
		},
		{
			name:     "continuous below min",
			variable: Variable{ID: "d", Type: ContinuousVariable, Min: 0, Max: 1},
			in:       -3,
			want:     0,
		},
		{
			name:     "continuous above max",
			variable: Variable{ID: "d", Type: ContinuousVariable, Min: 0, Max: 1},
			in:       7,
			want:     1,
		},
		{
			name:     "discrete snaps to grid",
			variable: Variable{ID: "n", Type: DiscreteVariable, Min: 0, Max: 10, Step: 2.5},
			in:       3.9,
			want:     5,
		},
		{
			name:     "discrete default step",
			variable: Variable{ID: "n", Type: DiscreteVariable, Min: 0, Max: 10},
			in:       6.4,
			want:     6,
		},
		{
			name:     "discrete clamps then snaps",
			variable: Variable{ID: "n", Type: DiscreteVariable, Min: 0, Max: 10, Step: 3},
			in:       42,
			want:     9,
		},
		{
			name:     "categorical rounds to level index",
			variable: Variable{ID: "m", Type: CategoricalVariable, Levels: []string{"a", "b", "c"}},
			in:       1.4,
			want:     1,
		},
		{
			name:     "categorical clamps to last level",
			variable: Variable{ID: "m", Type: CategoricalVariable, Levels: []string{"a", "b", "c"}},
			in:       9,
			want:     2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.variable.Clamp(tt.in))
		})
	}
}

func TestVariableRandomStaysInDomain(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	vars := []Variable{
		{ID: "a", Type: ContinuousVariable, Min: -2, Max: 3},
		{ID: "b", Type: DiscreteVariable, Min: 0, Max: 9, Step: 3},
		{ID: "c", Type: CategoricalVariable, Levels: []string{"x", "y"}},
	}
	for i := 0; i < 500; i++ {
		for _, v := range vars {
			x := v.Random(rng)
			assert.Equal(t, v.Clamp(x), x, "variable %s produced out-of-domain value %v", v.ID, x)
		}
	}
}

func TestVariableLevel(t *testing.T) {
	v := Variable{ID: "material", Type: CategoricalVariable, Levels: []string{"galvanized", "stainless"}}
	assert.Equal(t, "galvanized", v.Level(0))
	assert.Equal(t, "stainless", v.Level(1.2))
	assert.Equal(t, "stainless", v.Level(9))
	assert.Equal(t, "galvanized", v.Level(-1))

	cont := Variable{ID: "d", Type: ContinuousVariable, Min: 0, Max: 1}
	assert.Equal(t, "", cont.Level(0.5))
}

func TestProblemValidate(t *testing.T) {
	objective := Objective{ID: "f", Sense: Minimize, Weight: 1, Eval: func(map[string]float64, SystemConfig) (float64, error) { return 0, nil }}
	variable := Variable{ID: "x", Type: ContinuousVariable, Min: 0, Max: 1}

	tests := []struct {
		name    string
		problem Problem
		wantErr string
	}{
		{
			name:    "no variables",
			problem: Problem{Objectives: []Objective{objective}},
			wantErr: "no variables",
		},
		{
			name:    "no objectives",
			problem: Problem{Variables: []Variable{variable}},
			wantErr: "no objectives",
		},
		{
			name: "inverted bounds",
			problem: Problem{
				Variables:  []Variable{{ID: "x", Type: ContinuousVariable, Min: 5, Max: 1}},
				Objectives: []Objective{objective},
			},
			wantErr: "min < max",
		},
		{
			name: "duplicate variable ids",
			problem: Problem{
				Variables:  []Variable{variable, variable},
				Objectives: []Objective{objective},
			},
			wantErr: "duplicate variable id",
		},
		{
			name: "categorical without levels",
			problem: Problem{
				Variables:  []Variable{{ID: "m", Type: CategoricalVariable}},
				Objectives: []Objective{objective},
			},
			wantErr: "at least one level",
		},
		{
			name: "objective without eval",
			problem: Problem{
				Variables:  []Variable{variable},
				Objectives: []Objective{{ID: "f", Sense: Minimize}},
			},
			wantErr: "no evaluation function",
		},
		{
			name: "constraint with unknown kind",
			problem: Problem{
				Variables:  []Variable{variable},
				Objectives: []Objective{objective},
				Constraints: []Constraint{{
					ID:   "g",
					Kind: "weird",
					Eval: func(map[string]float64, SystemConfig) (float64, error) { return 0, nil },
				}},
			},
			wantErr: "unknown kind",
		},
		{
			name: "valid",
			problem: Problem{
				Variables:  []Variable{variable},
				Objectives: []Objective{objective},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.problem.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestProblemSeedVector(t *testing.T) {
	start := 0.8
	p := &Problem{
		Variables: []Variable{
			{ID: "a", Type: ContinuousVariable, Min: 0, Max: 1, Initial: &start},
			{ID: "b", Type: ContinuousVariable, Min: -4, Max: 4},
			{ID: "c", Type: DiscreteVariable, Min: 0, Max: 10, Step: 2},
		},
	}
	got := p.SeedVector()
	// The discrete midpoint 5 snaps to the grid point 6 (ties round away
	// from zero).
	assert.Equal(t, []float64{0.8, 0, 6}, got)
}

func TestProblemNewRandDeterministic(t *testing.T) {
	p := &Problem{Seed: 42}
	r1 := p.NewRand()
	r2 := p.NewRand()
	for i := 0; i < 10; i++ {
		assert.Equal(t, r1.Float64(), r2.Float64())
	}
}
