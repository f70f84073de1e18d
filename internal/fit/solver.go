package fit

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/sqfit/internal/cloud"
	"github.com/banshee-data/sqfit/internal/superquadric"
)

// Defaults used by the reference fitter.
const (
	DefaultLambda        = 0.1
	DefaultMaxIterations = 1000
	DefaultMinThreshold  = 0.005
	DefaultRCond         = 1e-12
)

// Config holds the solver's tuning. Zero fields take their defaults.
type Config struct {
	// Lambda is the fixed damping factor λ applied to diag(H). Zero
	// selects DefaultLambda; an undamped step needs a tiny positive value.
	Lambda float64
	// MaxIterations caps the number of Newton rounds.
	MaxIterations int
	// MinThreshold is the step norm at or below which the fit converges.
	MinThreshold float64
	// RCond is the relative singular-value cutoff of the svd solver.
	RCond float64
	// LinearSolver selects how the damped system is solved.
	LinearSolver LinearSolver
	// Workers > 1 folds the evaluation over that many goroutines.
	Workers int
}

// DefaultConfig returns the reference tuning with the svd solver and a
// sequential evaluation.
func DefaultConfig() Config {
	return Config{
		Lambda:        DefaultLambda,
		MaxIterations: DefaultMaxIterations,
		MinThreshold:  DefaultMinThreshold,
		RCond:         DefaultRCond,
		LinearSolver:  SolverSVD,
		Workers:       1,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Lambda == 0 {
		c.Lambda = d.Lambda
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.MinThreshold == 0 {
		c.MinThreshold = d.MinThreshold
	}
	if c.RCond <= 0 {
		c.RCond = d.RCond
	}
	if c.LinearSolver == "" {
		c.LinearSolver = d.LinearSolver
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	return c
}

// State is the solver lifecycle: Initialized → Iterating → Converged or
// Exhausted. Both terminal states carry the latest parameters.
type State int

const (
	StateInitialized State = iota
	StateIterating
	StateConverged
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateIterating:
		return "iterating"
	case StateConverged:
		return "converged"
	case StateExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Iteration describes one completed Newton round.
type Iteration struct {
	N       int
	Step    float64
	Params  superquadric.Params
	Cond    float64
	Skipped int
}

// IterationObserver is called synchronously after every round.
type IterationObserver func(Iteration)

// Result is the outcome of Minimize. Gradient, Hessian and Skipped come
// from the evaluation at the start of the final round.
type Result struct {
	Params       superquadric.Params
	Converged    bool
	State        State
	Iterations   int
	Steps        []float64
	Gradient     superquadric.Vector
	Hessian      superquadric.Matrix
	Skipped      []SkippedElement
	SkippedTotal int
}

// FinalStep returns the last step norm, or 0 before any round ran.
func (r Result) FinalStep() float64 {
	if len(r.Steps) == 0 {
		return 0
	}
	return r.Steps[len(r.Steps)-1]
}

// Solver runs damped Newton fits. A Solver holds no per-fit state, so
// one value may serve concurrent Minimize calls as long as the observer
// tolerates concurrent invocation.
type Solver struct {
	cfg      Config
	eval     Evaluator
	observer IterationObserver
}

// NewSolver creates a solver. A nil oracle selects the analytic one.
func NewSolver(cfg Config, oracle superquadric.Oracle) *Solver {
	return &Solver{
		cfg:  cfg.withDefaults(),
		eval: Evaluator{Oracle: oracle},
	}
}

// Config returns the effective configuration with defaults applied.
func (s *Solver) Config() Config {
	return s.cfg
}

// OnIteration installs fn as the iteration observer; nil removes it.
func (s *Solver) OnIteration(fn IterationObserver) {
	s.observer = fn
}

// Minimize iterates from initial until the step norm drops to
// MinThreshold or MaxIterations rounds have run. A round whose step meets
// the threshold counts as converged even when it is the last allowed one;
// a loop that tests the cap first would report that run as not converged.
// A round in which every derivative element was skipped, or the set is
// empty, never converges: its zero step says nothing about the fit.
// Once a parameter is NaN the step is NaN too, so such a fit runs to
// MaxIterations and ends exhausted.
func (s *Solver) Minimize(initial superquadric.Params, set *cloud.SampleSet) Result {
	res := Result{State: StateIterating}
	p := initial

	for n := 1; ; n++ {
		acc := s.evaluate(p, set)
		delta, cond := solveDamped(s.cfg, &acc)
		p = p.Sub(delta)
		step := floats.Norm(delta[:], 2)
		if p.HasNaN() {
			// Every element of a NaN parameter vector is skipped, which
			// would otherwise read as a zero step.
			step = math.NaN()
		}

		res.Iterations = n
		res.Steps = append(res.Steps, step)
		res.Gradient = acc.Gradient
		res.Hessian = acc.Hessian
		res.Skipped = acc.Skipped
		res.SkippedTotal += len(acc.Skipped)

		diagf("iteration %d: step=%.6g cond=%.3g skipped=%d", n, step, cond, len(acc.Skipped))
		if s.observer != nil {
			s.observer(Iteration{N: n, Step: step, Params: p, Cond: cond, Skipped: len(acc.Skipped)})
		}

		if step <= s.cfg.MinThreshold {
			if acc.Contributed() {
				res.State = StateConverged
				break
			}
			opsf("iteration %d: no finite derivative element from %d points; not treating the step as convergence", n, acc.Points)
		}
		if n >= s.cfg.MaxIterations {
			res.State = StateExhausted
			break
		}
	}

	res.Params = p
	res.Converged = res.State == StateConverged
	if res.Converged {
		opsf("converged after %d iterations: %s", res.Iterations, p)
	} else {
		opsf("did not converge in %d iterations (last step %.6g): %s", res.Iterations, res.FinalStep(), p)
	}
	diagf("final gradient: %v", res.Gradient)
	diagf("final hessian: %v", res.Hessian)
	if res.SkippedTotal > 0 {
		diagf("skipped %d NaN derivative elements in total", res.SkippedTotal)
	}
	return res
}

func (s *Solver) evaluate(p superquadric.Params, set *cloud.SampleSet) Accumulation {
	if s.cfg.Workers <= 1 {
		return s.eval.Evaluate(p, set)
	}
	acc, err := s.eval.EvaluateParallel(context.Background(), p, set, s.cfg.Workers)
	if err != nil {
		// Background is never cancelled; fall back rather than lose the round.
		opsf("parallel evaluation failed: %v", err)
		return s.eval.Evaluate(p, set)
	}
	return acc
}
