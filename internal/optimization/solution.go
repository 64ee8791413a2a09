package optimization

import "time"

// Status is the terminal state of an optimization run.
type Status string

const (
	StatusConverged     Status = "CONVERGED"
	StatusMaxIterations Status = "MAX_ITERATIONS"
	StatusCancelled     Status = "CANCELLED"
	StatusError         Status = "ERROR"
)

// Solution is one evaluated candidate design.
type Solution struct {
	// Assignment maps variable ID to its encoded value.
	Assignment map[string]float64 `json:"assignment"`
	// Objectives holds the raw objective values in problem order, in each
	// objective's declared sense.
	Objectives []float64 `json:"objectives"`
	// Fitness is the scalar ranking value after weighted-sum aggregation and
	// constraint-policy adjustment. Lower is always better.
	Fitness float64 `json:"fitness"`
	// Feasible reports whether all constraints are satisfied.
	Feasible bool `json:"feasible"`
	// Violation is the total constraint violation magnitude.
	Violation float64 `json:"violation"`
}

// Clone returns a deep copy of the solution.
func (s *Solution) Clone() *Solution {
	if s == nil {
		return nil
	}
	c := &Solution{
		Assignment: make(map[string]float64, len(s.Assignment)),
		Objectives: append([]float64(nil), s.Objectives...),
		Fitness:    s.Fitness,
		Feasible:   s.Feasible,
		Violation:  s.Violation,
	}
	for k, v := range s.Assignment {
		c.Assignment[k] = v
	}
	return c
}

// Better reports whether s should be preferred over other under
// minimization, treating nil as worst.
func (s *Solution) Better(other *Solution) bool {
	if s == nil {
		return false
	}
	if other == nil {
		return true
	}
	return s.Fitness < other.Fitness
}

// ParetoFront is an ordered set of mutually non-dominated solutions together
// with its quality metrics.
type ParetoFront struct {
	Solutions   []*Solution `json:"solutions"`
	Hypervolume float64     `json:"hypervolume"`
	Spacing     float64     `json:"spacing"`
}

// GenerationStats records per-generation search progress for reporting.
type GenerationStats struct {
	Generation  int     `json:"generation"`
	BestFitness float64 `json:"best_fitness"`
	MeanFitness float64 `json:"mean_fitness"`
	StdDev      float64 `json:"std_dev"`
	// Hypervolume is populated by multi-objective runs only.
	Hypervolume float64 `json:"hypervolume,omitempty"`
}

// Stats aggregates run-level bookkeeping.
type Stats struct {
	TotalEvaluations      int           `json:"total_evaluations"`
	ExecutionTime         time.Duration `json:"execution_time"`
	ConvergenceGeneration int           `json:"convergence_generation"`
}

// Result is the single uniform output of every run. Engine methods always
// return a result, never a raw error or panic.
type Result struct {
	Status Status    `json:"status"`
	Best   *Solution `json:"best,omitempty"`
	// Front and KneePoints are populated by multi-objective runs.
	Front      *ParetoFront `json:"front,omitempty"`
	KneePoints []*Solution  `json:"knee_points,omitempty"`

	Stats    Stats             `json:"stats"`
	History  []GenerationStats `json:"history,omitempty"`
	Warnings []string          `json:"warnings,omitempty"`
	Errors   []string          `json:"errors,omitempty"`
}

// Warn appends a warning message to the result.
func (r *Result) Warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}
