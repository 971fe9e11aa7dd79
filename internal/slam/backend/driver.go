package backend

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/antares511/DPVO/internal/monitoring"
	"github.com/antares511/DPVO/internal/slam/framestore"
	"github.com/antares511/DPVO/internal/timeutil"
)

var (
	// ErrInsufficientFrames means there are too few committed keyframes
	// to form an optimisation problem. The store is left untouched.
	ErrInsufficientFrames = errors.New("insufficient frames for optimisation")

	// ErrInvalidIterations is returned for a negative round count.
	ErrInvalidIterations = errors.New("iterations must be non-negative")

	// ErrInvalidRefinement means the solver proposed a write outside the
	// window or with a malformed value. None of the round's writes were
	// applied.
	ErrInvalidRefinement = errors.New("solver produced an invalid refinement")
)

// DefaultMinFrames is the smallest store that can be optimised.
const DefaultMinFrames = 2

// Window is the solver's view of the store for one round: copies of
// records start .. start+len(Records)-1.
type Window struct {
	Start   int
	Records []framestore.Record
}

// End returns the index one past the last record in the window.
func (w Window) End() int { return w.Start + len(w.Records) }

// Problem is the solver's own representation of one round. The driver
// only passes it from BuildProblem to Step.
type Problem any

// Refinement is one proposed write to the record at Index.
type Refinement struct {
	Index  int
	Update framestore.Update
}

// Solver is the external optimisation stage. Both methods are called with
// the store lock held and must not call back into the store.
type Solver interface {
	BuildProblem(w Window) (Problem, error)
	Step(p Problem) ([]Refinement, error)
}

// Config tunes a Driver.
type Config struct {
	// MinFrames is the smallest committed count Optimize accepts. Zero
	// selects DefaultMinFrames.
	MinFrames int

	// WindowSize limits each round to the most recent records. Zero or
	// negative means every committed record.
	WindowSize int

	// Clock times rounds for Stats. Defaults to RealClock.
	Clock timeutil.Clock
}

// Stats summarises the driver's activity.
type Stats struct {
	Calls        int64
	Rounds       int64
	Skipped      int64
	Writes       int64
	LastDuration time.Duration
	LastFrames   int
}

// Driver applies solver rounds to a store.
type Driver struct {
	store  *framestore.Store
	solver Solver
	cfg    Config
	clock  timeutil.Clock
	logf   func(format string, v ...interface{})

	// serialises Optimize so rounds of concurrent callers do not interleave
	opMu sync.Mutex

	statsMu sync.Mutex
	stats   Stats
}

// New returns a Driver refining store with solver.
func New(store *framestore.Store, solver Solver, cfg Config) (*Driver, error) {
	if store == nil || solver == nil {
		return nil, errors.New("backend: store and solver are required")
	}
	if cfg.MinFrames < 0 {
		return nil, fmt.Errorf("backend: min frames must be non-negative, got %d", cfg.MinFrames)
	}
	if cfg.MinFrames == 0 {
		cfg.MinFrames = DefaultMinFrames
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Driver{
		store:  store,
		solver: solver,
		cfg:    cfg,
		clock:  clock,
		logf:   monitoring.Component("backend"),
	}, nil
}

// MinFrames returns the effective minimum store size.
func (d *Driver) MinFrames() int { return d.cfg.MinFrames }

// Optimize runs iterations rounds. It fails with ErrInsufficientFrames,
// without touching the store, when fewer than MinFrames records are
// committed, even for zero iterations. Rounds completed before a solver
// error stay applied.
func (d *Driver) Optimize(iterations int) error {
	if iterations < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidIterations, iterations)
	}

	d.opMu.Lock()
	defer d.opMu.Unlock()

	d.updateStats(func(s *Stats) { s.Calls++ })
	if n := d.store.Len(); n < d.cfg.MinFrames {
		d.updateStats(func(s *Stats) { s.Skipped++ })
		return fmt.Errorf("%w: %d committed, need %d", ErrInsufficientFrames, n, d.cfg.MinFrames)
	}
	if iterations == 0 {
		return nil
	}

	start := d.clock.Now()
	for r := 0; r < iterations; r++ {
		frames, writes, err := d.round()
		if err != nil {
			d.logf("round %d/%d failed after %d applied: %v", r+1, iterations, r, err)
			return fmt.Errorf("optimisation round %d/%d: %w", r+1, iterations, err)
		}
		d.updateStats(func(s *Stats) {
			s.Rounds++
			s.Writes += int64(writes)
			s.LastFrames = frames
		})
	}
	elapsed := d.clock.Since(start)
	d.updateStats(func(s *Stats) { s.LastDuration = elapsed })
	return nil
}

// round performs one locked build/step/apply cycle and returns the window
// size and the number of writes applied.
func (d *Driver) round() (frames, writes int, err error) {
	err = d.store.Locked(func(tx *framestore.Tx) error {
		start, recs, err := tx.Window(d.cfg.WindowSize)
		if err != nil {
			return err
		}
		w := Window{Start: start, Records: recs}
		frames = len(recs)

		p, err := d.solver.BuildProblem(w)
		if err != nil {
			return fmt.Errorf("build problem: %w", err)
		}
		refs, err := d.solver.Step(p)
		if err != nil {
			return fmt.Errorf("solver step: %w", err)
		}

		for _, ref := range refs {
			if ref.Index < w.Start || ref.Index >= w.End() {
				return fmt.Errorf("%w: index %d outside window [%d, %d)", ErrInvalidRefinement, ref.Index, w.Start, w.End())
			}
			if err := tx.CheckUpdate(ref.Index, ref.Update); err != nil {
				return fmt.Errorf("%w: record %d: %w", ErrInvalidRefinement, ref.Index, err)
			}
		}
		for _, ref := range refs {
			if ref.Update.Empty() {
				continue
			}
			if err := tx.Write(ref.Index, ref.Update); err != nil {
				// Unreachable after CheckUpdate under the same lock.
				return err
			}
			writes++
		}
		return nil
	})
	return frames, writes, err
}

func (d *Driver) updateStats(fn func(*Stats)) {
	d.statsMu.Lock()
	fn(&d.stats)
	d.statsMu.Unlock()
}

// Stats returns a copy of the driver counters.
func (d *Driver) Stats() Stats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.stats
}
