// Package engine contains the optimization orchestrator: it validates
// problems, builds the evaluation adapter, dispatches to the requested
// algorithm and turns every internal failure into a terminal ERROR result.
// An Engine owns its own in-memory run history; there is no package-level
// state beyond the prometheus collectors.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ductware/ZEPHYR/internal/optimization"
	"github.com/ductware/ZEPHYR/internal/optimization/annealing"
	"github.com/ductware/ZEPHYR/internal/optimization/genetic"
	"github.com/ductware/ZEPHYR/internal/optimization/gradient"
	"github.com/ductware/ZEPHYR/internal/optimization/moea"
	"github.com/ductware/ZEPHYR/internal/optimization/swarm"
)

// Options tunes engine-wide behavior.
type Options struct {
	// FailureLimit is the consecutive evaluator-failure threshold before a
	// run escalates to ERROR. Zero selects the default.
	FailureLimit int
}

// Run is one completed optimization run kept in the engine's history store.
type Run struct {
	ID        string
	ProblemID string
	Algorithm optimization.Algorithm
	Result    *optimization.Result
	Started   time.Time
	Finished  time.Time
}

// Engine orchestrates optimization runs. It is safe for concurrent use;
// each run is independent and the history store is guarded by a lock.
type Engine struct {
	opts   Options
	logger *zap.Logger

	mu   sync.RWMutex
	runs map[string]*Run
	seq  atomic.Int64
}

// New creates an engine with its own empty run history.
func New(opts Options, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		opts:   opts,
		logger: logger,
		runs:   make(map[string]*Run),
	}
}

// OptimizeSystem runs a single-objective optimization with the requested
// algorithm. It always returns a result; validation failures, evaluator
// breakdowns and internal panics all surface as a terminal ERROR result,
// never as a panic or error to the caller.
func (e *Engine) OptimizeSystem(ctx context.Context, p *optimization.Problem, alg optimization.Algorithm) *optimization.Result {
	return e.run(ctx, p, alg)
}

// OptimizeMultiObjective runs the NSGA-II framework. The problem must carry
// at least two objectives.
func (e *Engine) OptimizeMultiObjective(ctx context.Context, p *optimization.Problem) *optimization.Result {
	return e.run(ctx, p, optimization.NSGA2)
}

func (e *Engine) run(ctx context.Context, p *optimization.Problem, alg optimization.Algorithm) *optimization.Result {
	started := time.Now()
	result := e.execute(ctx, p, alg)
	finished := time.Now()

	result.Stats.ExecutionTime = finished.Sub(started)

	id := fmt.Sprintf("opt_%d", e.seq.Add(1))
	e.mu.Lock()
	e.runs[id] = &Run{
		ID:        id,
		ProblemID: p.ID,
		Algorithm: alg,
		Result:    result,
		Started:   started,
		Finished:  finished,
	}
	e.mu.Unlock()

	runsTotal.WithLabelValues(string(alg), string(result.Status)).Inc()
	evaluationsTotal.Add(float64(result.Stats.TotalEvaluations))
	runDuration.WithLabelValues(string(alg)).Observe(result.Stats.ExecutionTime.Seconds())

	e.logger.Info("optimization run finished",
		zap.String("run_id", id),
		zap.String("problem_id", p.ID),
		zap.String("algorithm", string(alg)),
		zap.String("status", string(result.Status)),
		zap.Int("evaluations", result.Stats.TotalEvaluations),
		zap.Duration("duration", result.Stats.ExecutionTime),
	)
	return result
}

// execute performs validation, dispatch and post-processing. Any panic in
// the algorithm or in caller-supplied code that escaped the evaluator is
// converted into an ERROR result here.
func (e *Engine) execute(ctx context.Context, p *optimization.Problem, alg optimization.Algorithm) (result *optimization.Result) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("optimization run panicked", zap.Any("panic", r))
			result = errorResult(optimization.NewErrorf("internal panic: %v", r).WithComponent("engine"))
		}
	}()

	if p == nil {
		return errorResult(optimization.NewError("problem is nil"))
	}
	if err := p.Validate(); err != nil {
		return errorResult(err)
	}
	if alg == optimization.GradientDescent && p.HasNonContinuous() {
		return errorResult(optimization.NewError(
			"gradient descent supports continuous variables only; use the genetic or swarm algorithm for mixed problems"))
	}
	if alg == optimization.NSGA2 && len(p.Objectives) < 2 {
		return errorResult(optimization.NewError("multi-objective optimization requires at least two objectives"))
	}

	eval := optimization.NewEvaluator(p, e.logger, e.opts.FailureLimit)

	if p.TimeLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.TimeLimit)
		defer cancel()
	}

	var opt optimization.Optimizer
	switch alg {
	case optimization.GeneticAlgorithm:
		opt = genetic.New()
	case optimization.SimulatedAnnealing:
		opt = annealing.New()
	case optimization.ParticleSwarm:
		opt = swarm.New()
	case optimization.GradientDescent:
		opt = gradient.New()
	case optimization.NSGA2:
		opt = moea.New()
	default:
		return errorResult(optimization.NewErrorf("unknown algorithm %q", alg))
	}

	result, err := opt.Optimize(ctx, p, eval)
	if err != nil {
		e.logger.Error("optimization run failed",
			zap.String("problem_id", p.ID),
			zap.String("algorithm", string(alg)),
			zap.Error(err),
		)
		result = errorResult(err)
	}

	result.Stats.TotalEvaluations = eval.Evaluations()
	if eval.WeightsAdjusted() {
		msg := "objective weights re-normalized to sum to 1"
		result.Warn(msg)
		e.logger.Warn(msg, zap.String("problem_id", p.ID))
	}
	return result
}

// Run retrieves a stored run by ID.
func (e *Engine) Run(id string) (*Run, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.runs[id]
	return r, ok
}

// Runs lists all stored runs, oldest first.
func (e *Engine) Runs() []*Run {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Run, 0, len(e.runs))
	for _, r := range e.runs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Started.Before(out[j].Started) })
	return out
}

// Reset clears the run history.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runs = make(map[string]*Run)
}

func errorResult(err error) *optimization.Result {
	return &optimization.Result{
		Status: optimization.StatusError,
		Errors: []string{err.Error()},
	}
}
