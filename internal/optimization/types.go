// Package optimization defines the core model for the ZEPHYR system
// optimization engine: design variables, objectives, constraints, problems,
// solutions and the contract shared by all search algorithms.
package optimization

import (
	"math"
	"math/rand"
	"time"
)

// VariableType identifies the domain of a design variable.
type VariableType string

const (
	// ContinuousVariable takes any real value within [Min, Max].
	ContinuousVariable VariableType = "continuous"
	// DiscreteVariable takes values Min, Min+Step, Min+2*Step, ... up to Max.
	DiscreteVariable VariableType = "discrete"
	// CategoricalVariable takes one of a fixed list of named levels.
	CategoricalVariable VariableType = "categorical"
)

// Variable describes one bounded design variable. Internally every variable
// is searched as a single float64 dimension: continuous variables range over
// [Min, Max], discrete variables snap to the Step grid within [Min, Max], and
// categorical variables are encoded as the index of the chosen level.
type Variable struct {
	ID     string
	Name   string
	Type   VariableType
	Min    float64
	Max    float64
	Step   float64  // discrete grid spacing, defaults to 1
	Levels []string // categorical levels
	Units  string

	// Initial, when set, seeds the search at this encoded value.
	Initial *float64
}

// lower and upper return the encoded search bounds for the variable.
func (v *Variable) lower() float64 {
	if v.Type == CategoricalVariable {
		return 0
	}
	return v.Min
}

func (v *Variable) upper() float64 {
	if v.Type == CategoricalVariable {
		return float64(len(v.Levels) - 1)
	}
	return v.Max
}

// Range returns the width of the encoded search interval.
func (v *Variable) Range() float64 {
	return v.upper() - v.lower()
}

// Clamp projects an encoded value back into the variable's domain. For
// discrete and categorical variables the value additionally snaps to the
// nearest grid point or level index.
func (v *Variable) Clamp(x float64) float64 {
	lo, hi := v.lower(), v.upper()
	if x < lo {
		x = lo
	}
	if x > hi {
		x = hi
	}
	switch v.Type {
	case DiscreteVariable:
		step := v.Step
		if step <= 0 {
			step = 1
		}
		x = lo + math.Round((x-lo)/step)*step
		if x > hi {
			x -= step
		}
	case CategoricalVariable:
		x = math.Round(x)
	}
	return x
}

// Random draws a uniformly distributed encoded value from the domain.
func (v *Variable) Random(rng *rand.Rand) float64 {
	switch v.Type {
	case CategoricalVariable:
		return float64(rng.Intn(len(v.Levels)))
	case DiscreteVariable:
		return v.Clamp(v.Min + rng.Float64()*v.Range())
	default:
		return v.Min + rng.Float64()*v.Range()
	}
}

// Level resolves an encoded categorical value to its level name. It returns
// the empty string for non-categorical variables.
func (v *Variable) Level(x float64) string {
	if v.Type != CategoricalVariable || len(v.Levels) == 0 {
		return ""
	}
	i := int(math.Round(x))
	if i < 0 {
		i = 0
	}
	if i >= len(v.Levels) {
		i = len(v.Levels) - 1
	}
	return v.Levels[i]
}

func (v *Variable) validate() error {
	if v.ID == "" {
		return NewError("variable is missing an id")
	}
	switch v.Type {
	case ContinuousVariable, DiscreteVariable:
		if !(v.Min < v.Max) {
			return NewErrorf("variable %q: bounds must satisfy min < max (got [%g, %g])", v.ID, v.Min, v.Max)
		}
		if v.Type == DiscreteVariable && v.Step < 0 {
			return NewErrorf("variable %q: step must be non-negative", v.ID)
		}
	case CategoricalVariable:
		if len(v.Levels) == 0 {
			return NewErrorf("variable %q: categorical variable requires at least one level", v.ID)
		}
	default:
		return NewErrorf("variable %q: unknown type %q", v.ID, v.Type)
	}
	return nil
}

// Sense is the optimization direction of an objective.
type Sense string

const (
	Minimize Sense = "minimize"
	Maximize Sense = "maximize"
)

// SystemConfig is the domain system description (duct diameters, fan speed,
// materials, damper positions, ...) that evaluation functions consume. The
// engine treats it as opaque; it only guarantees that the shared base
// configuration is never mutated across evaluations.
type SystemConfig map[string]interface{}

// ConfigMapper applies a variable assignment onto a (private copy of a)
// system configuration before the evaluation functions run. It is supplied
// by the domain layer and may mutate cfg freely.
type ConfigMapper func(cfg SystemConfig, vars map[string]float64)

// EvalFunc is a caller-supplied objective or constraint evaluation. It
// receives the variable assignment keyed by variable ID together with the
// mapped system configuration, and returns a single number. Evaluations may
// be slow and may fail; the engine converts failures into penalties.
type EvalFunc func(vars map[string]float64, cfg SystemConfig) (float64, error)

// Objective is one optimization goal.
type Objective struct {
	ID     string
	Sense  Sense
	Weight float64
	Units  string
	Eval   EvalFunc
}

// ConstraintKind distinguishes inequality from equality constraints.
type ConstraintKind string

const (
	// Inequality constraints are satisfied when g(x) <= 0.
	Inequality ConstraintKind = "inequality"
	// Equality constraints are satisfied when |g(x)| <= Tolerance.
	Equality ConstraintKind = "equality"
)

// Constraint is one feasibility condition on the design.
type Constraint struct {
	ID        string
	Kind      ConstraintKind
	Tolerance float64 // equality tolerance, defaults to 1e-6
	Eval      EvalFunc
}

// Aggregation selects how multiple objectives combine.
type Aggregation string

const (
	WeightedSum Aggregation = "weighted_sum"
	Pareto      Aggregation = "pareto"
)

// Algorithm selects a single-objective search strategy. The set is closed:
// the engine instantiates one concrete optimizer per run, there are no
// long-lived shared algorithm instances.
type Algorithm string

const (
	GeneticAlgorithm   Algorithm = "genetic"
	SimulatedAnnealing Algorithm = "annealing"
	ParticleSwarm      Algorithm = "swarm"
	GradientDescent    Algorithm = "gradient"
	// NSGA2 is the multi-objective framework, dispatched through
	// OptimizeMultiObjective rather than OptimizeSystem.
	NSGA2 Algorithm = "nsga2"
)

// ConstraintPolicy selects how infeasible candidates are treated.
type ConstraintPolicy string

const (
	// PenaltyPolicy adds penaltyCoefficient * violation^2 to the fitness.
	PenaltyPolicy ConstraintPolicy = "penalty"
	// DeathPenaltyPolicy assigns infeasible candidates the worst possible
	// fitness, excluding them from selection.
	DeathPenaltyPolicy ConstraintPolicy = "death_penalty"
	// RepairPolicy projects candidates back into the box bounds (the only
	// closed-form projection available) and falls back to penalties for the
	// remaining constraint violation.
	RepairPolicy ConstraintPolicy = "repair"
)

// Convergence bundles the stopping criteria shared by all algorithms.
type Convergence struct {
	MaxIterations        int
	Tolerance            float64
	StagnationLimit      int
	ImprovementThreshold float64
}

// SelectionMethod selects the GA parent-selection operator.
type SelectionMethod string

const (
	TournamentSelection SelectionMethod = "tournament"
	RouletteSelection   SelectionMethod = "roulette"
)

// GeneticSettings configures the genetic algorithm.
type GeneticSettings struct {
	PopulationSize int
	MaxGenerations int
	CrossoverRate  float64
	MutationRate   float64
	EliteSize      int
	Selection      SelectionMethod
}

// CoolingSchedule selects the simulated annealing temperature decay.
type CoolingSchedule string

const (
	LinearCooling      CoolingSchedule = "linear"
	ExponentialCooling CoolingSchedule = "exponential"
	LogarithmicCooling CoolingSchedule = "logarithmic"
)

// AnnealingSettings configures simulated annealing.
type AnnealingSettings struct {
	InitialTemperature float64
	FinalTemperature   float64
	Schedule           CoolingSchedule
	MaxIterations      int
}

// SwarmSettings configures particle swarm optimization.
type SwarmSettings struct {
	SwarmSize     int
	MaxIterations int
	Inertia       float64
	Cognitive     float64
	Social        float64
	// VelocityClamp limits per-dimension speed to this fraction of the
	// variable range.
	VelocityClamp float64
}

// GradientVariant selects the gradient descent update rule.
type GradientVariant string

const (
	VanillaGradient  GradientVariant = "vanilla"
	MomentumGradient GradientVariant = "momentum"
	AdamGradient     GradientVariant = "adam"
)

// GradientSettings configures black-box gradient descent. Gradients are
// estimated with central finite differences, so the variant only applies to
// problems whose variables are all continuous.
type GradientSettings struct {
	Variant       GradientVariant
	LearningRate  float64
	Momentum      float64
	Beta1         float64
	Beta2         float64
	Epsilon       float64
	FDStep        float64 // finite-difference step as a fraction of the variable range
	Tolerance     float64
	MaxIterations int
}

// MultiObjectiveSettings configures the NSGA-II framework.
type MultiObjectiveSettings struct {
	PopulationSize       int
	MaxGenerations       int
	CrossoverRate        float64
	MutationRate         float64
	ArchiveSize          int
	ConvergenceThreshold float64 // minimum hypervolume improvement per generation
}

// Settings aggregates per-algorithm configuration and the shared constraint
// handling policy.
type Settings struct {
	Genetic        GeneticSettings
	Annealing      AnnealingSettings
	Swarm          SwarmSettings
	Gradient       GradientSettings
	MultiObjective MultiObjectiveSettings

	ConstraintPolicy   ConstraintPolicy
	PenaltyCoefficient float64
}

// DefaultSettings returns settings that work for small to medium problems.
func DefaultSettings() Settings {
	return Settings{
		Genetic: GeneticSettings{
			PopulationSize: 50,
			MaxGenerations: 100,
			CrossoverRate:  0.9,
			MutationRate:   0.1,
			EliteSize:      2,
			Selection:      TournamentSelection,
		},
		Annealing: AnnealingSettings{
			InitialTemperature: 100,
			FinalTemperature:   1e-3,
			Schedule:           ExponentialCooling,
			MaxIterations:      2000,
		},
		Swarm: SwarmSettings{
			SwarmSize:     40,
			MaxIterations: 200,
			Inertia:       0.729,
			Cognitive:     1.49445,
			Social:        1.49445,
			VelocityClamp: 0.2,
		},
		Gradient: GradientSettings{
			Variant:       AdamGradient,
			LearningRate:  0.05,
			Momentum:      0.9,
			Beta1:         0.9,
			Beta2:         0.999,
			Epsilon:       1e-8,
			FDStep:        1e-4,
			Tolerance:     1e-6,
			MaxIterations: 1000,
		},
		MultiObjective: MultiObjectiveSettings{
			PopulationSize:       60,
			MaxGenerations:       100,
			CrossoverRate:        0.9,
			MutationRate:         0.1,
			ArchiveSize:          100,
			ConvergenceThreshold: 1e-6,
		},
		ConstraintPolicy:   PenaltyPolicy,
		PenaltyCoefficient: 1e3,
	}
}

// Problem is the immutable description of one optimization run. It is
// validated once by the engine and never mutated afterwards.
type Problem struct {
	ID          string
	Variables   []Variable
	Objectives  []Objective
	Aggregation Aggregation
	Constraints []Constraint

	Settings    Settings
	Convergence Convergence

	// Seed drives the single pseudo-random generator threaded through the
	// run. Identical seeds reproduce identical trajectories. Zero selects a
	// time-based seed.
	Seed int64

	// MaxEvaluations caps the total number of objective evaluations. Zero
	// means no cap beyond the iteration budget.
	MaxEvaluations int

	// TimeLimit is the wall-clock deadline for the run. Zero disables it.
	TimeLimit time.Duration

	// BaseConfig and Mapper connect the engine to the domain layer. The base
	// configuration is deep-copied before every evaluation.
	BaseConfig SystemConfig
	Mapper     ConfigMapper

	// Parallel fans population evaluations out over worker goroutines. It
	// requires the evaluation functions to be pure.
	Parallel bool
}

// Validate checks the problem structure before any evaluation happens.
func (p *Problem) Validate() error {
	if len(p.Variables) == 0 {
		return NewError("problem has no variables")
	}
	if len(p.Objectives) == 0 {
		return NewError("problem has no objectives")
	}
	seen := make(map[string]bool, len(p.Variables))
	for i := range p.Variables {
		v := &p.Variables[i]
		if err := v.validate(); err != nil {
			return err
		}
		if seen[v.ID] {
			return NewErrorf("duplicate variable id %q", v.ID)
		}
		seen[v.ID] = true
	}
	for i := range p.Objectives {
		o := &p.Objectives[i]
		if o.Eval == nil {
			return NewErrorf("objective %q has no evaluation function", o.ID)
		}
		if o.Sense != Minimize && o.Sense != Maximize {
			return NewErrorf("objective %q: unknown sense %q", o.ID, o.Sense)
		}
		if o.Weight < 0 {
			return NewErrorf("objective %q: weight must be non-negative", o.ID)
		}
	}
	for i := range p.Constraints {
		c := &p.Constraints[i]
		if c.Eval == nil {
			return NewErrorf("constraint %q has no evaluation function", c.ID)
		}
		if c.Kind != Inequality && c.Kind != Equality {
			return NewErrorf("constraint %q: unknown kind %q", c.ID, c.Kind)
		}
	}
	return nil
}

// Dimension returns the size of the encoded search vector.
func (p *Problem) Dimension() int { return len(p.Variables) }

// HasNonContinuous reports whether any variable is discrete or categorical.
func (p *Problem) HasNonContinuous() bool {
	for i := range p.Variables {
		if p.Variables[i].Type != ContinuousVariable {
			return true
		}
	}
	return false
}

// Assignment decodes an encoded vector into the id -> value map handed to
// evaluation functions.
func (p *Problem) Assignment(x []float64) map[string]float64 {
	vars := make(map[string]float64, len(x))
	for i := range p.Variables {
		vars[p.Variables[i].ID] = x[i]
	}
	return vars
}

// ClampVector projects every component of x back into its variable domain,
// in place.
func (p *Problem) ClampVector(x []float64) {
	for i := range p.Variables {
		x[i] = p.Variables[i].Clamp(x[i])
	}
}

// RandomVector draws a uniformly random point from the search space.
func (p *Problem) RandomVector(rng *rand.Rand) []float64 {
	x := make([]float64, len(p.Variables))
	for i := range p.Variables {
		x[i] = p.Variables[i].Random(rng)
	}
	return x
}

// SeedVector returns the starting point for trajectory-based algorithms:
// declared initial values where present, domain midpoints otherwise.
func (p *Problem) SeedVector() []float64 {
	x := make([]float64, len(p.Variables))
	for i := range p.Variables {
		v := &p.Variables[i]
		if v.Initial != nil {
			x[i] = v.Clamp(*v.Initial)
		} else {
			x[i] = v.Clamp(v.lower() + v.Range()/2)
		}
	}
	return x
}

// NewRand builds the run's pseudo-random generator from the problem seed,
// falling back to the clock when no seed is set.
func (p *Problem) NewRand() *rand.Rand {
	seed := p.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}
