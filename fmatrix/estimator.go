package fmatrix

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is a stage of an estimation run
type State int

const (
	Idle State = iota
	Sampling
	Scoring
	Converged
	Truncating
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Sampling:
		return "sampling"
	case Scoring:
		return "scoring"
	case Converged:
		return "converged"
	case Truncating:
		return "truncating"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Estimator is the least-median-of-squares fundamental matrix estimator.
// An Estimator runs one estimation at a time.
type Estimator struct {
	cfg      EstimatorConfig
	tol      Tolerances
	solver   MinimalSolver
	sampler  Sampler
	residual ResidualEvaluator
	scorer   RobustScorer
	logger   *log.Logger
	onState  func(State)
	newRunID func() string

	state State
}

// Option customizes an Estimator
type Option func(*Estimator)

// WithResidual overrides the residual evaluator selected by the config
func WithResidual(r ResidualEvaluator) Option {
	return func(e *Estimator) { e.residual = r }
}

// WithScorer overrides the median scorer
func WithScorer(s RobustScorer) Option {
	return func(e *Estimator) { e.scorer = s }
}

// WithTolerances sets the numeric tolerances
func WithTolerances(t Tolerances) Option {
	return func(e *Estimator) { e.tol = t }
}

// WithLogger enables run summaries on the given logger
func WithLogger(l *log.Logger) Option {
	return func(e *Estimator) { e.logger = l }
}

// WithStateHook registers a callback invoked on every state transition
func WithStateHook(fn func(State)) Option {
	return func(e *Estimator) { e.onState = fn }
}

// WithRunID overrides the run identifier generator
func WithRunID(fn func() string) Option {
	return func(e *Estimator) { e.newRunID = fn }
}

// NewEstimator creates an estimator using solver for hypotheses and sampler
// to pick the minimal subsets
func NewEstimator(cfg EstimatorConfig, solver MinimalSolver, sampler Sampler, opts ...Option) *Estimator {
	e := &Estimator{
		cfg:      cfg,
		tol:      DefaultTolerances(),
		solver:   solver,
		sampler:  sampler,
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.residual == nil {
		e.residual = NewResidualEvaluator(cfg.Residual, e.tol)
	}
	if e.scorer == nil {
		e.scorer = NewMedianScorer(e.residual, cfg.InlierSigma)
	}
	return e
}

// State returns the stage reached by the most recent run
func (e *Estimator) State() State {
	return e.state
}

func (e *Estimator) setState(s State) {
	e.state = s
	if e.onState != nil {
		e.onState(s)
	}
}

// hypothesis is one scored candidate; gen is its generation order
type hypothesis struct {
	gen       int
	matrix    Matrix3
	residuals []float64
	cost      float64
}

// Estimate runs the sampling loop over points and returns the best matrix.
// points must hold at least SampleSize() correspondences. Samplers with a
// Reset method are rewound first, so an Estimator can be reused.
//
// With Rank2Truncate set, the returned Cost, Residuals and inliers are
// recomputed for the truncated matrix, not taken from the sampling phase.
func (e *Estimator) Estimate(points PointSet) (*Result, error) {
	start := time.Now()
	e.setState(Idle)

	k := e.solver.SampleSize()
	if len(points) < k {
		return nil, fmt.Errorf("estimate: %d correspondences, need at least %d: %w", len(points), k, ErrDegenerateInput)
	}

	if r, ok := e.sampler.(interface{ Reset() }); ok {
		r.Reset()
	}

	work := points
	cond := IdentityConditioning()
	if e.cfg.Precondition {
		var err error
		work, cond, err = Precondition(points, e.tol)
		if err != nil {
			return nil, fmt.Errorf("estimate: %w", err)
		}
	}

	best := hypothesis{gen: -1, cost: math.Inf(1)}
	samples, generated := 0, 0
	var batch []hypothesis

	flush := func() {
		e.setState(Scoring)
		e.scoreBatch(points, batch)
		for _, h := range batch {
			// Strict comparison keeps the earliest candidate on ties.
			if h.cost < best.cost {
				best = h
			}
		}
		batch = batch[:0]
	}

	for {
		e.setState(Sampling)
		idx, ok := e.sampler.Next(len(points), k)
		if !ok {
			break
		}
		samples++

		candidates, err := e.solver.Solve(work.Subset(idx))
		if err != nil {
			if errors.Is(err, ErrDegenerateSubset) {
				continue
			}
			return nil, err
		}
		for _, fc := range candidates {
			batch = append(batch, hypothesis{gen: generated, matrix: cond.Unprecondition(fc)})
			generated++
		}
		if len(batch) >= e.batchSize() {
			flush()
		}
	}
	if len(batch) > 0 {
		flush()
	}

	if best.gen < 0 {
		e.setState(Idle)
		return nil, fmt.Errorf("estimate: no candidate from %d samples: %w", samples, ErrNoSolution)
	}
	e.setState(Converged)

	final, residuals, cost := best.matrix, best.residuals, best.cost
	if e.cfg.Rank2Truncate {
		e.setState(Truncating)
		truncated, err := Truncate(best.matrix)
		if err != nil {
			return nil, err
		}
		final = truncated
		residuals = Residuals(points, final, e.residual)
		cost = e.scorer.Score(residuals)
	}

	mask, count, thresh := e.scorer.Classify(residuals, cost, k)
	e.setState(Done)

	result := &Result{
		RunID:       e.newRunID(),
		Matrix:      final,
		Cost:        cost,
		Threshold:   thresh,
		Inliers:     mask,
		InlierCount: count,
		Residuals:   residuals,
		Samples:     samples,
		Candidates:  generated,
		Truncated:   e.cfg.Rank2Truncate,
		Duration:    time.Since(start),
	}

	if e.logger != nil {
		e.logger.Printf("[LMEDSQ] run %s: %d samples, %d candidates, best #%d cost=%.4g, inliers %d/%d (%.1f%%) in %s",
			result.RunID, samples, generated, best.gen, cost, count, len(points),
			100*result.InlierFraction(), result.Duration.Round(time.Microsecond))
	}
	return result, nil
}

// batchSize is the number of candidates collected before scoring
func (e *Estimator) batchSize() int {
	if e.cfg.Workers <= 1 {
		return 1
	}
	return 8 * e.cfg.Workers
}

// scoreBatch fills residuals and cost for every hypothesis in the batch.
// Each worker owns distinct hypotheses, so no locking is needed.
func (e *Estimator) scoreBatch(points PointSet, batch []hypothesis) {
	score := func(h *hypothesis) {
		h.residuals = Residuals(points, h.matrix, e.residual)
		h.cost = e.scorer.Score(h.residuals)
	}

	if e.cfg.Workers <= 1 || len(batch) == 1 {
		for i := range batch {
			score(&batch[i])
		}
		return
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < e.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				score(&batch[i])
			}
		}()
	}
	for i := range batch {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
}
