package optimization

import "context"

// Optimizer is the single contract implemented by every search algorithm.
// Implementations are stateless across calls: the engine instantiates a
// fresh optimizer per run and feeds it the validated problem together with
// the evaluation adapter.
//
// An Optimizer returns a Result with one of the non-error terminal statuses,
// or an error when the run cannot continue (for example when the evaluator's
// consecutive-failure budget is exhausted). The engine converts such errors
// into a terminal ERROR result; they never reach the caller as exceptions.
type Optimizer interface {
	Optimize(ctx context.Context, problem *Problem, eval *Evaluator) (*Result, error)
}

// Cancelled reports whether the run context has been cancelled or timed out.
// Algorithms call this at generation/iteration boundaries only, never in the
// middle of an evaluation.
func Cancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
