package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/antares511/DPVO/internal/slam/backend"
	"github.com/antares511/DPVO/internal/slam/framestore"
	"github.com/antares511/DPVO/internal/slam/frontend"
	"github.com/antares511/DPVO/internal/slam/geom"
	"github.com/antares511/DPVO/internal/timeutil"
)

// ErrClosed is returned by Process, Run and Initialize after Close.
var ErrClosed = errors.New("pipeline closed")

// Source yields frames in capture order and returns io.EOF when the
// stream ends.
type Source interface {
	Next() (frontend.Frame, error)
}

// Sink receives the final trajectory when the coordinator is closed.
// Implementations live outside this package (e.g. storage/sqlite).
type Sink interface {
	PersistTrajectory(t Trajectory) error
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock sets the clock used for lock statistics, round timing and
// BackendLoop.
func WithClock(c timeutil.Clock) Option {
	return func(co *Coordinator) { co.clock = c }
}

// WithSink registers a sink that Close hands the final trajectory to.
func WithSink(s Sink) Option {
	return func(co *Coordinator) { co.sink = s }
}

// Coordinator owns one frame store and drives the stages around it.
type Coordinator struct {
	cfg   Config
	clock timeutil.Clock
	sink  Sink

	store *framestore.Store
	front *frontend.Adapter
	back  *backend.Driver

	mu          sync.Mutex
	initialized bool
	closed      bool

	// inflight is read-held by Process for the whole frame and
	// write-held by Close while it marks the coordinator closed.
	inflight sync.RWMutex

	processed     atomic.Int64
	rejected      atomic.Int64
	optimizeCalls atomic.Int64
	skipped       atomic.Int64
	loopRounds    atomic.Int64
}

// New builds the store, frontend adapter and backend driver.
func New(cfg Config, tracker frontend.Tracker, solver backend.Solver, opts ...Option) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	c := &Coordinator{cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}
	if c.clock == nil {
		c.clock = timeutil.RealClock{}
	}

	store, err := framestore.New(framestore.Config{
		Capacity:           cfg.Capacity,
		ImageWidth:         cfg.ImageWidth,
		ImageHeight:        cfg.ImageHeight,
		Stereo:             cfg.Stereo,
		NormalizationScale: cfg.NormalizationScale,
		Clock:              c.clock,
	})
	if err != nil {
		return nil, fmt.Errorf("create frame store: %w", err)
	}
	front, err := frontend.New(store, tracker, frontend.Config{Iterations: cfg.FrontendIterations})
	if err != nil {
		return nil, fmt.Errorf("create frontend: %w", err)
	}
	back, err := backend.New(store, solver, backend.Config{
		MinFrames:  cfg.MinFrames,
		WindowSize: cfg.WindowSize,
		Clock:      c.clock,
	})
	if err != nil {
		return nil, fmt.Errorf("create backend: %w", err)
	}
	c.store, c.front, c.back = store, front, back
	return c, nil
}

// Initialize marks the coordinator ready. It is optional and idempotent;
// Process and Run call it implicitly.
func (c *Coordinator) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if !c.initialized {
		c.initialized = true
		diagf("initialised: capacity=%d image=%dx%d stereo=%v scale=%.2f frontend_iters=%d backend_iters=%d optimize_every=%d",
			c.cfg.Capacity, c.cfg.ImageWidth, c.cfg.ImageHeight, c.cfg.Stereo, c.store.Scale(),
			c.cfg.FrontendIterations, c.cfg.BackendIterations, c.cfg.OptimizeEvery)
	}
	return nil
}

// Close waits for in-flight Process calls, marks the coordinator
// finished and hands the final trajectory to the sink, if any. Later
// Process and Run calls fail with ErrClosed. Closing twice is a no-op.
func (c *Coordinator) Close() error {
	c.inflight.Lock()
	c.mu.Lock()
	already := c.closed
	c.closed = true
	c.mu.Unlock()
	c.inflight.Unlock()
	if already {
		return nil
	}

	st := c.Stats()
	diagf("closed: frames=%d measurements=%d processed=%d rejected=%d optimize=%d skipped=%d",
		st.Frames, st.Measurements, st.Processed, st.Rejected, st.OptimizeCalls, st.SkippedOptimize)
	if c.sink == nil {
		return nil
	}
	if err := c.sink.PersistTrajectory(c.Result()); err != nil {
		opsf("persist trajectory: %v", err)
		return fmt.Errorf("persist trajectory: %w", err)
	}
	return nil
}

// Process runs the frontend on f and then, when the cadence is due, the
// backend. It returns the committed index. Capacity errors are returned
// as frontend.ErrBufferFull; ErrInsufficientFrames from the cadence run
// is counted as a skip and not returned.
func (c *Coordinator) Process(f frontend.Frame) (int, error) {
	c.inflight.RLock()
	defer c.inflight.RUnlock()
	if err := c.Initialize(); err != nil {
		return 0, err
	}

	idx, err := c.front.Process(f)
	if err != nil {
		c.rejected.Add(1)
		if errors.Is(err, framestore.ErrCapacityExceeded) {
			opsf("frame %d rejected: %v", f.TimestampNanos, err)
		}
		return 0, err
	}
	c.processed.Add(1)
	tracef("committed frame %d at index %d (n=%d m=%d)", f.TimestampNanos, idx, c.store.Len(), c.store.Measurements())

	if every := c.cfg.OptimizeEvery; every > 0 && (idx+1)%every == 0 {
		if err := c.optimizeSkipping(c.cfg.BackendIterations); err != nil {
			return idx, err
		}
	}
	return idx, nil
}

// Run pulls frames from src until io.EOF, then runs a final
// BackendIterations optimisation. Frontend errors, including capacity
// errors, end the run and are returned. ctx is checked between frames.
func (c *Coordinator) Run(ctx context.Context, src Source) error {
	if err := c.Initialize(); err != nil {
		return err
	}
	for {
		if err := ctx.Err(); err != nil {
			diagf("run cancelled after %d frames", c.processed.Load())
			return err
		}
		f, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}
		if _, err := c.Process(f); err != nil {
			return fmt.Errorf("process frame %d: %w", f.TimestampNanos, err)
		}
	}
	diagf("stream ended after %d frames; running final optimisation", c.processed.Load())
	return c.optimizeSkipping(c.cfg.BackendIterations)
}

// Optimize runs the backend for iterations rounds and returns its error
// unchanged, including backend.ErrInsufficientFrames.
func (c *Coordinator) Optimize(iterations int) error {
	c.optimizeCalls.Add(1)
	err := c.back.Optimize(iterations)
	switch {
	case err == nil:
		tracef("optimised %d rounds over %d frames", iterations, c.store.Len())
	case errors.Is(err, backend.ErrInsufficientFrames):
		c.skipped.Add(1)
		diagf("optimisation skipped: %v", err)
	default:
		opsf("optimisation failed: %v", err)
	}
	return err
}

func (c *Coordinator) optimizeSkipping(iterations int) error {
	err := c.Optimize(iterations)
	if errors.Is(err, backend.ErrInsufficientFrames) {
		return nil
	}
	return err
}

// BackendLoop returns a Loop that optimises BackendIterations rounds
// every BackendInterval on the coordinator's clock. The caller runs it.
func (c *Coordinator) BackendLoop() (*backend.Loop, error) {
	l, err := backend.NewLoop(c.back, c.cfg.BackendIterations, c.cfg.BackendInterval, c.clock)
	if err != nil {
		return nil, err
	}
	l.OnRound = func(err error) {
		c.loopRounds.Add(1)
		if errors.Is(err, backend.ErrInsufficientFrames) {
			c.skipped.Add(1)
		}
	}
	return l, nil
}

// Store exposes the shared frame store for read-only inspection.
func (c *Coordinator) Store() *framestore.Store { return c.store }

// Config returns the configuration the coordinator was built with.
func (c *Coordinator) Config() Config { return c.cfg }

// Result returns a consistent copy of every committed record and both
// counters.
func (c *Coordinator) Result() Trajectory {
	snap := c.store.Snapshot()
	return Trajectory{
		Records:      snap.Records,
		Frames:       snap.Frames,
		Measurements: snap.Measurements,
	}
}

// Poses returns the current pose of every committed record in index
// order.
func (c *Coordinator) Poses() []geom.Pose {
	return c.Result().Poses()
}

// Depth returns a copy of record i's depth field, nil when unset.
func (c *Coordinator) Depth(i int) (*framestore.Field, error) {
	rec, err := c.store.Read(i)
	if err != nil {
		return nil, err
	}
	return rec.Depth, nil
}

// Stats summarises a coordinator's activity.
type Stats struct {
	Frames          int
	Measurements    int
	Capacity        int
	Processed       int64
	Rejected        int64
	OptimizeCalls   int64
	SkippedOptimize int64
	LoopRounds      int64
	Backend         backend.Stats
	Lock            framestore.LockStats
}

// Stats returns current counters.
func (c *Coordinator) Stats() Stats {
	tx := c.store.Acquire()
	frames, meas := tx.Len(), tx.Measurements()
	tx.Release()
	return Stats{
		Frames:          frames,
		Measurements:    meas,
		Capacity:        c.store.Capacity(),
		Processed:       c.processed.Load(),
		Rejected:        c.rejected.Load(),
		OptimizeCalls:   c.optimizeCalls.Load(),
		SkippedOptimize: c.skipped.Load(),
		LoopRounds:      c.loopRounds.Load(),
		Backend:         c.back.Stats(),
		Lock:            c.store.Stats(),
	}
}
