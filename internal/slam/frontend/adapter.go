package frontend

import (
	"errors"
	"fmt"
	"sync"

	"github.com/antares511/DPVO/internal/monitoring"
	"github.com/antares511/DPVO/internal/slam/framestore"
	"github.com/antares511/DPVO/internal/slam/geom"
	"github.com/antares511/DPVO/internal/slam/imaging"
)

// ErrBufferFull is returned by Process when the store has no room for
// another keyframe. It wraps framestore.ErrCapacityExceeded.
var ErrBufferFull = fmt.Errorf("frontend buffer full: %w", framestore.ErrCapacityExceeded)

// ErrInvalidIterations is returned by New for a negative iteration count.
var ErrInvalidIterations = errors.New("refinement iterations must be non-negative")

// DefaultIterations is the number of refinement passes per frame.
const DefaultIterations = 12

// Frame is one raw input frame.
type Frame struct {
	TimestampNanos int64
	Image          *imaging.Image
	Right          *imaging.Image // stereo only
	Intrinsics     geom.Intrinsics
}

// NormalizedFrame is what the tracking stage sees: images mapped to
// [-1, 1] and full-resolution intrinsics.
type NormalizedFrame struct {
	TimestampNanos int64
	Image          *imaging.Normalized
	Right          *imaging.Normalized
	Intrinsics     geom.Intrinsics
}

// State is the tracking stage's internal state after a frame. The adapter
// treats it as opaque apart from the two read-outs below.
type State interface {
	// Pose is the current camera-to-world estimate for the latest frame.
	Pose() geom.Pose

	// Measurements is the number of observations this frame adds to the
	// optimisation problem.
	Measurements() int
}

// Tracker is the external tracking stage.
type Tracker interface {
	// Track estimates the pose of frame given the previous state, which is
	// nil for the first frame.
	Track(frame NormalizedFrame, prior State) (State, error)

	// Refine runs one refinement iteration on s.
	Refine(s State) (State, error)
}

// Config tunes an Adapter.
type Config struct {
	// Iterations is the number of Refine calls per frame. Zero disables
	// refinement.
	Iterations int
}

// Adapter commits tracked frames into a Store. Process calls are
// serialised; the adapter is meant to be the store's only producer.
type Adapter struct {
	store      *framestore.Store
	tracker    Tracker
	iterations int
	logf       func(format string, v ...interface{})

	mu    sync.Mutex
	state State
}

// New returns an Adapter writing into store.
func New(store *framestore.Store, tracker Tracker, cfg Config) (*Adapter, error) {
	if store == nil || tracker == nil {
		return nil, errors.New("frontend: store and tracker are required")
	}
	if cfg.Iterations < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidIterations, cfg.Iterations)
	}
	return &Adapter{
		store:      store,
		tracker:    tracker,
		iterations: cfg.Iterations,
		logf:       monitoring.Component("frontend"),
	}, nil
}

// Process tracks f and commits it as the next keyframe, returning its
// index. It fails with ErrBufferFull before running the tracker when the
// store is at capacity. On any error the store and the tracker's prior
// state are left unchanged.
func (a *Adapter) Process(f Frame) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := a.store.Len(); n >= a.store.Capacity() {
		a.logf("dropping frame %d: buffer full (%d/%d)", f.TimestampNanos, n, a.store.Capacity())
		return 0, fmt.Errorf("%w: %d/%d frames committed", ErrBufferFull, n, a.store.Capacity())
	}
	if err := a.checkFrame(f); err != nil {
		return 0, err
	}

	nf := NormalizedFrame{
		TimestampNanos: f.TimestampNanos,
		Image:          imaging.Normalize(f.Image),
		Intrinsics:     f.Intrinsics,
	}
	if f.Right != nil {
		nf.Right = imaging.Normalize(f.Right)
	}

	state, err := a.tracker.Track(nf, a.state)
	if err != nil {
		return 0, fmt.Errorf("track frame %d: %w", f.TimestampNanos, err)
	}
	for i := 0; i < a.iterations; i++ {
		if state, err = a.tracker.Refine(state); err != nil {
			return 0, fmt.Errorf("refine frame %d (iteration %d): %w", f.TimestampNanos, i, err)
		}
	}

	pose := state.Pose()
	rec := framestore.Record{
		TimestampNanos: f.TimestampNanos,
		Image:          f.Image,
		Right:          f.Right,
		Pose:           pose,
		TrackedPose:    pose,
		Intrinsics:     f.Intrinsics.Scaled(a.store.Scale()),
	}

	tx := a.store.Acquire()
	idx, err := tx.Append(rec, state.Measurements())
	tx.Release()
	if err != nil {
		if errors.Is(err, framestore.ErrCapacityExceeded) {
			return 0, fmt.Errorf("%w: %v", ErrBufferFull, err)
		}
		return 0, err
	}

	a.state = state
	return idx, nil
}

func (a *Adapter) checkFrame(f Frame) error {
	w, h := a.store.ImageSize()
	if f.Image == nil {
		return fmt.Errorf("%w: frame %d has no image", framestore.ErrInvalidRecord, f.TimestampNanos)
	}
	if f.Image.Width() != w || f.Image.Height() != h {
		return fmt.Errorf("%w: frame %d is %dx%d, want %dx%d", framestore.ErrImageSize,
			f.TimestampNanos, f.Image.Width(), f.Image.Height(), w, h)
	}
	if a.store.Stereo() != (f.Right != nil) {
		return fmt.Errorf("%w: frame %d", framestore.ErrStereoMismatch, f.TimestampNanos)
	}
	if !f.Intrinsics.Valid() {
		return fmt.Errorf("%w: frame %d intrinsics %+v", framestore.ErrInvalidRecord, f.TimestampNanos, f.Intrinsics)
	}
	return nil
}

// Frames returns the number of committed keyframes.
func (a *Adapter) Frames() int { return a.store.Len() }

// Measurements returns the store's measurement count.
func (a *Adapter) Measurements() int { return a.store.Measurements() }

// Iterations returns the configured refinement count.
func (a *Adapter) Iterations() int { return a.iterations }

// LastPose returns the pose of the latest tracked frame and false when no
// frame has been committed yet.
func (a *Adapter) LastPose() (geom.Pose, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == nil {
		return geom.Pose{}, false
	}
	return a.state.Pose(), true
}
