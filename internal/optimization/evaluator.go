package optimization

import (
	"math"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

const (
	// FailurePenalty is the large finite fitness assigned when a
	// caller-supplied evaluation function fails. It is deliberately not
	// +Inf or NaN so that one failing evaluation cannot poison sorting or
	// statistics for a whole generation.
	FailurePenalty = 1e12

	// WorstFitness marks candidates excluded from selection under the
	// death-penalty constraint policy.
	WorstFitness = 1e18

	// DefaultFailureLimit is the number of consecutive evaluator failures
	// tolerated before a run escalates to a terminal ERROR.
	DefaultFailureLimit = 50

	// feasibilityEps is the violation magnitude below which a candidate is
	// considered feasible.
	feasibilityEps = 1e-12

	equalityToleranceDefault = 1e-6
)

// Evaluator is the evaluation adapter between the search algorithms and the
// caller-supplied objective/constraint functions. It decodes search vectors
// into variable assignments, maps them onto a private copy of the base
// system configuration, aggregates objectives into a scalar fitness and
// applies the configured constraint policy.
//
// Evaluation faults (errors or panics inside caller functions) are caught
// per call and converted into FailurePenalty fitness values. A counter of
// consecutive failures escalates to FailureErr once the limit is exceeded.
type Evaluator struct {
	problem      *Problem
	weights      []float64 // normalized, summing to 1
	signs        []float64 // +1 minimize, -1 maximize
	adjusted     bool      // weights were re-normalized
	policy       ConstraintPolicy
	penaltyCoeff float64
	failureLimit int
	workers      int
	logger       *zap.Logger

	evaluations atomic.Int64
	consecutive atomic.Int64
}

// NewEvaluator builds the adapter for one run. failureLimit <= 0 selects
// DefaultFailureLimit.
func NewEvaluator(p *Problem, logger *zap.Logger, failureLimit int) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if failureLimit <= 0 {
		failureLimit = DefaultFailureLimit
	}

	weights := make([]float64, len(p.Objectives))
	signs := make([]float64, len(p.Objectives))
	sum := 0.0
	for i := range p.Objectives {
		weights[i] = p.Objectives[i].Weight
		sum += weights[i]
		if p.Objectives[i].Sense == Maximize {
			signs[i] = -1
		} else {
			signs[i] = 1
		}
	}

	adjusted := false
	if sum <= 0 {
		// No usable weights at all: fall back to equal weighting.
		for i := range weights {
			weights[i] = 1 / float64(len(weights))
		}
		adjusted = len(weights) > 0
	} else if math.Abs(sum-1) > 1e-9 {
		for i := range weights {
			weights[i] /= sum
		}
		adjusted = true
	}

	policy := p.Settings.ConstraintPolicy
	if policy == "" {
		policy = PenaltyPolicy
	}
	penalty := p.Settings.PenaltyCoefficient
	if penalty <= 0 {
		penalty = 1e3
	}

	workers := 1
	if p.Parallel {
		workers = runtime.NumCPU()
	}

	return &Evaluator{
		problem:      p,
		weights:      weights,
		signs:        signs,
		adjusted:     adjusted,
		policy:       policy,
		penaltyCoeff: penalty,
		failureLimit: failureLimit,
		workers:      workers,
		logger:       logger,
	}
}

// WeightsAdjusted reports whether objective weights had to be re-normalized
// to sum to 1. The engine surfaces this as a result warning.
func (e *Evaluator) WeightsAdjusted() bool { return e.adjusted }

// Weights returns the normalized objective weights.
func (e *Evaluator) Weights() []float64 { return e.weights }

// Evaluations returns the number of objective evaluations performed so far.
func (e *Evaluator) Evaluations() int { return int(e.evaluations.Load()) }

// Exhausted reports whether the problem's evaluation budget is spent.
func (e *Evaluator) Exhausted() bool {
	return e.problem.MaxEvaluations > 0 && e.Evaluations() >= e.problem.MaxEvaluations
}

// FailureErr returns a terminal error once more than failureLimit
// consecutive evaluations have failed, and nil otherwise.
func (e *Evaluator) FailureErr() error {
	if n := int(e.consecutive.Load()); n > e.failureLimit {
		return NewErrorf("%d consecutive evaluation failures (limit %d)", n, e.failureLimit).
			WithComponent("evaluator")
	}
	return nil
}

// Evaluate scores one candidate vector. The vector is not mutated; callers
// are responsible for clamping positions into bounds before evaluation.
func (e *Evaluator) Evaluate(x []float64) *Solution {
	e.evaluations.Add(1)

	vars := e.problem.Assignment(x)
	cfg, cfgErr := e.mappedConfig(vars)
	if cfgErr != nil {
		e.recordFailure("mapper", e.problem.ID, cfgErr)
	}

	sol := &Solution{
		Assignment: vars,
		Objectives: make([]float64, len(e.problem.Objectives)),
	}

	failed := cfgErr != nil
	fitness := 0.0
	for i := range e.problem.Objectives {
		obj := &e.problem.Objectives[i]
		var v float64
		err := cfgErr
		if err == nil {
			v, err = e.call(obj.Eval, vars, cfg)
		}
		if err != nil {
			if cfgErr == nil {
				e.recordFailure("objective", obj.ID, err)
			}
			failed = true
			// A finite stand-in oriented to be maximally unattractive.
			v = e.signs[i] * FailurePenalty
		}
		sol.Objectives[i] = v
		fitness += e.weights[i] * e.signs[i] * v
	}

	violation := 0.0
	penalty := 0.0
	for i := range e.problem.Constraints {
		con := &e.problem.Constraints[i]
		var v float64
		err := cfgErr
		if err == nil {
			v, err = e.call(con.Eval, vars, cfg)
		}
		if err != nil {
			if cfgErr == nil {
				e.recordFailure("constraint", con.ID, err)
				failed = true
			}
			violation += FailurePenalty
			penalty += FailurePenalty
			continue
		}
		mag := con.violation(v)
		violation += mag
		penalty += mag * mag
	}

	if !failed {
		e.consecutive.Store(0)
	}

	sol.Violation = violation
	sol.Feasible = violation <= feasibilityEps

	if failed {
		fitness = FailurePenalty
	}
	sol.Fitness = e.adjustFitness(fitness, sol, penalty)
	return sol
}

// EvaluateAll scores a whole population, fanning out over workers when the
// problem opted into parallel evaluation. Result order matches input order.
func (e *Evaluator) EvaluateAll(xs [][]float64) []*Solution {
	out := make([]*Solution, len(xs))
	if e.workers <= 1 || len(xs) < 2 {
		for i, x := range xs {
			out[i] = e.Evaluate(x)
		}
		return out
	}

	var wg sync.WaitGroup
	jobs := make(chan int)
	for w := 0; w < e.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				out[i] = e.Evaluate(xs[i])
			}
		}()
	}
	for i := range xs {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return out
}

// Oriented returns the solution's objective vector with every component
// converted to minimization orientation, for dominance comparisons.
func (e *Evaluator) Oriented(s *Solution) []float64 {
	out := make([]float64, len(s.Objectives))
	for i, v := range s.Objectives {
		out[i] = e.signs[i] * v
	}
	return out
}

// adjustFitness applies the configured constraint policy to the aggregated
// scalar fitness. All single-objective algorithms share this step so
// constraint semantics stay consistent across them. penalty is the sum of
// squared per-constraint violation magnitudes.
func (e *Evaluator) adjustFitness(fitness float64, sol *Solution, penalty float64) float64 {
	if sol.Feasible {
		return fitness
	}
	switch e.policy {
	case DeathPenaltyPolicy:
		return WorstFitness
	default:
		// Penalty, and the repair fallback for violations that box
		// projection cannot remove.
		return fitness + e.penaltyCoeff*penalty
	}
}

// violation converts a raw constraint value into its violation magnitude.
func (c *Constraint) violation(v float64) float64 {
	switch c.Kind {
	case Equality:
		tol := c.Tolerance
		if tol <= 0 {
			tol = equalityToleranceDefault
		}
		return math.Max(0, math.Abs(v)-tol)
	default:
		return math.Max(0, v)
	}
}

// mappedConfig deep-copies the base configuration and applies the domain
// mapper. The shared base is never handed to caller code directly; a panic
// in the mapper is reported as an evaluation failure.
func (e *Evaluator) mappedConfig(vars map[string]float64) (cfg SystemConfig, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewErrorf("config mapper panicked: %v", r).WithComponent("evaluator")
		}
	}()
	cfg = copyConfig(e.problem.BaseConfig)
	if e.problem.Mapper != nil {
		e.problem.Mapper(cfg, vars)
	}
	return cfg, nil
}

// call invokes one caller-supplied evaluation function, converting panics
// into errors so a faulty evaluator cannot abort a generation.
func (e *Evaluator) call(fn EvalFunc, vars map[string]float64, cfg SystemConfig) (v float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewErrorf("evaluation panicked: %v", r).WithComponent("evaluator")
		}
	}()
	v, err = fn(vars, cfg)
	if err == nil && (math.IsNaN(v) || math.IsInf(v, 0)) {
		err = NewErrorf("evaluation returned non-finite value %v", v)
	}
	return v, err
}

func (e *Evaluator) recordFailure(kind, id string, err error) {
	n := e.consecutive.Add(1)
	e.logger.Warn("evaluation failed",
		zap.String("kind", kind),
		zap.String("id", id),
		zap.Int64("consecutive_failures", n),
		zap.Error(err),
	)
}

// copyConfig returns a deep copy of a system configuration. Maps and slices
// are copied recursively; scalar values are copied as-is.
func copyConfig(cfg SystemConfig) SystemConfig {
	if cfg == nil {
		return SystemConfig{}
	}
	out := make(SystemConfig, len(cfg))
	for k, v := range cfg {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, e := range t {
			m[k] = copyValue(e)
		}
		return m
	case SystemConfig:
		return map[string]interface{}(copyConfig(t))
	case []interface{}:
		s := make([]interface{}, len(t))
		for i, e := range t {
			s[i] = copyValue(e)
		}
		return s
	case []float64:
		return append([]float64(nil), t...)
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
