// Package server exposes the optimization engine over HTTP: submissions run
// asynchronously against a registry of named evaluator bundles, and callers
// poll or cancel jobs by ID.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ductware/ZEPHYR/internal/config"
	"github.com/ductware/ZEPHYR/internal/optimization"
	"github.com/ductware/ZEPHYR/internal/optimization/engine"
)

// Job tracks one submitted optimization through its lifecycle.
type Job struct {
	ID        string                 `json:"id"`
	Bundle    string                 `json:"bundle"`
	Algorithm optimization.Algorithm `json:"algorithm"`
	Status    string                 `json:"status"` // pending, running, completed, cancelled
	Submitted time.Time              `json:"submitted"`
	Finished  *time.Time             `json:"finished,omitempty"`
	Result    *optimization.Result   `json:"result,omitempty"`

	cancel context.CancelFunc
}

// Server wires HTTP handlers to the engine.
type Server struct {
	cfg     *config.Config
	logger  *zap.Logger
	engine  *engine.Engine
	bundles map[string]Bundle

	mu   sync.RWMutex
	jobs map[string]*Job
	seq  int64
}

// NewServer creates a server with the built-in bundles registered.
func NewServer(cfg *config.Config, logger *zap.Logger, eng *engine.Engine) *Server {
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		engine:  eng,
		bundles: make(map[string]Bundle),
		jobs:    make(map[string]*Job),
	}
	for _, b := range BuiltinBundles() {
		s.bundles[b.Name] = b
	}
	return s
}

// Register adds or replaces an evaluator bundle.
func (s *Server) Register(b Bundle) {
	s.bundles[b.Name] = b
}

// RegisterRoutes mounts the API.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/optimize", s.handleOptimize)
		r.Get("/runs/{id}", s.handleStatus)
		r.Delete("/runs/{id}", s.handleCancel)
		r.Get("/bundles", s.handleBundles)
	})
}

type variableSpec struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	Min     float64  `json:"min"`
	Max     float64  `json:"max"`
	Step    float64  `json:"step,omitempty"`
	Levels  []string `json:"levels,omitempty"`
	Units   string   `json:"units,omitempty"`
	Initial *float64 `json:"initial,omitempty"`
}

type optimizeRequest struct {
	Bundle           string         `json:"bundle"`
	Algorithm        string         `json:"algorithm"`
	MultiObjective   bool           `json:"multi_objective"`
	Variables        []variableSpec `json:"variables"`
	Seed             int64          `json:"seed,omitempty"`
	MaxIterations    int            `json:"max_iterations,omitempty"`
	MaxEvaluations   int            `json:"max_evaluations,omitempty"`
	ConstraintPolicy string         `json:"constraint_policy,omitempty"`
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var req optimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	bundle, ok := s.bundles[req.Bundle]
	if !ok {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown bundle %q", req.Bundle))
		return
	}
	if len(req.Variables) == 0 {
		s.respondError(w, http.StatusBadRequest, "at least one variable is required")
		return
	}

	problem, err := s.buildProblem(&req, bundle)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	alg := optimization.Algorithm(req.Algorithm)
	if req.MultiObjective {
		alg = optimization.NSGA2
	}

	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.seq++
	job := &Job{
		ID:        fmt.Sprintf("job_%d", s.seq),
		Bundle:    req.Bundle,
		Algorithm: alg,
		Status:    "pending",
		Submitted: time.Now(),
		cancel:    cancel,
	}
	s.jobs[job.ID] = job
	s.mu.Unlock()

	go s.runJob(ctx, job, problem, req.MultiObjective)

	s.respond(w, http.StatusAccepted, map[string]string{
		"job_id": job.ID,
		"status": job.Status,
	})
}

func (s *Server) buildProblem(req *optimizeRequest, bundle Bundle) (*optimization.Problem, error) {
	vars := make([]optimization.Variable, len(req.Variables))
	for i, v := range req.Variables {
		vars[i] = optimization.Variable{
			ID:      v.ID,
			Name:    v.Name,
			Type:    optimization.VariableType(v.Type),
			Min:     v.Min,
			Max:     v.Max,
			Step:    v.Step,
			Levels:  v.Levels,
			Units:   v.Units,
			Initial: v.Initial,
		}
		if vars[i].Type == "" {
			vars[i].Type = optimization.ContinuousVariable
		}
	}

	settings := optimization.DefaultSettings()
	if req.ConstraintPolicy != "" {
		settings.ConstraintPolicy = optimization.ConstraintPolicy(req.ConstraintPolicy)
	}
	if req.MaxIterations > 0 {
		// Per-algorithm budgets win over the shared convergence setting, so
		// the request cap has to reach all of them.
		settings.Genetic.MaxGenerations = req.MaxIterations
		settings.Annealing.MaxIterations = req.MaxIterations
		settings.Swarm.MaxIterations = req.MaxIterations
		settings.Gradient.MaxIterations = req.MaxIterations
		settings.MultiObjective.MaxGenerations = req.MaxIterations
	}

	aggregation := optimization.WeightedSum
	if req.MultiObjective {
		aggregation = optimization.Pareto
	}

	p := &optimization.Problem{
		ID:             fmt.Sprintf("%s-problem", bundle.Name),
		Variables:      vars,
		Objectives:     bundle.Objectives,
		Constraints:    bundle.Constraints,
		Aggregation:    aggregation,
		Settings:       settings,
		Seed:           req.Seed,
		MaxEvaluations: req.MaxEvaluations,
		TimeLimit:      s.cfg.Engine.RunTimeout,
		BaseConfig:     bundle.BaseConfig,
		Mapper:         bundle.Mapper,
	}
	if req.MaxIterations > 0 {
		p.Convergence.MaxIterations = req.MaxIterations
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// runJob executes one submission. The engine never panics or returns an
// error; the job status mirrors the result's terminal status.
func (s *Server) runJob(ctx context.Context, job *Job, p *optimization.Problem, multi bool) {
	s.setStatus(job, "running")

	var result *optimization.Result
	if multi {
		result = s.engine.OptimizeMultiObjective(ctx, p)
	} else {
		result = s.engine.OptimizeSystem(ctx, p, job.Algorithm)
	}

	s.mu.Lock()
	job.Result = result
	switch result.Status {
	case optimization.StatusCancelled:
		job.Status = "cancelled"
	default:
		job.Status = "completed"
	}
	now := time.Now()
	job.Finished = &now
	s.mu.Unlock()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.RLock()
	job, ok := s.jobs[id]
	var snapshot Job
	if ok {
		snapshot = *job
	}
	s.mu.RUnlock()
	if !ok {
		s.respondError(w, http.StatusNotFound, "job not found")
		return
	}
	s.respond(w, http.StatusOK, &snapshot)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	job, ok := s.jobs[id]
	if ok && (job.Status == "pending" || job.Status == "running") {
		job.cancel()
	}
	s.mu.Unlock()
	if !ok {
		s.respondError(w, http.StatusNotFound, "job not found")
		return
	}
	s.logger.Info("cancellation requested", zap.String("job_id", id))
	s.respond(w, http.StatusOK, map[string]string{"status": "cancellation requested"})
}

func (s *Server) handleBundles(w http.ResponseWriter, _ *http.Request) {
	type info struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Objectives  int    `json:"objectives"`
		Constraints int    `json:"constraints"`
	}
	out := make([]info, 0, len(s.bundles))
	for _, b := range s.bundles {
		out = append(out, info{
			Name:        b.Name,
			Description: b.Description,
			Objectives:  len(b.Objectives),
			Constraints: len(b.Constraints),
		})
	}
	s.respond(w, http.StatusOK, out)
}

// Close cancels every job still in flight.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.cancel != nil && (job.Status == "pending" || job.Status == "running") {
			job.cancel()
		}
	}
	return nil
}

func (s *Server) setStatus(job *Job, status string) {
	s.mu.Lock()
	job.Status = status
	s.mu.Unlock()
}

func (s *Server) respond(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) respondError(w http.ResponseWriter, code int, msg string) {
	s.logger.Error("request error", zap.Int("status", code), zap.String("message", msg))
	s.respond(w, code, map[string]string{"error": msg})
}
