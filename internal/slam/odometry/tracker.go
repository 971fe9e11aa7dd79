// Package odometry is a lightweight reference tracking stage. It estimates
// camera translation from the shift of the image intensity centroid,
// predicts with a constant-velocity model and converges toward the
// measurement over the refinement iterations.
//
// It is accurate enough to drive the pipeline end to end on synthetic or
// slowly moving sequences; it is not a substitute for a learned patch
// tracker.
package odometry

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"

	"github.com/antares511/DPVO/internal/config"
	"github.com/antares511/DPVO/internal/slam/frontend"
	"github.com/antares511/DPVO/internal/slam/geom"
)

var (
	ErrNoImage      = errors.New("frame has no image")
	ErrForeignState = errors.New("prior state was not produced by this tracker")
)

// Config tunes a Tracker.
type Config struct {
	// PatchesPerFrame is the measurement count reported per frame.
	PatchesPerFrame int
	// MotionHistory is how many past velocities the motion model averages.
	MotionHistory int
	// Gain is the fraction of the remaining residual removed per Refine.
	Gain float64
	// AssumedDepth converts pixel shifts into metric translation.
	AssumedDepth float64
}

// DefaultConfig matches config/tuning.defaults.json.
func DefaultConfig() Config {
	return Config{PatchesPerFrame: 96, MotionHistory: 8, Gain: 0.5, AssumedDepth: 1}
}

// ConfigFromTuning maps a tuning file onto a Config.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		PatchesPerFrame: cfg.GetPatchesPerFrame(),
		MotionHistory:   cfg.GetMotionHistory(),
		Gain:            cfg.GetRefineGain(),
		AssumedDepth:    cfg.GetAssumedDepth(),
	}
}

// Tracker implements frontend.Tracker. All per-sequence state lives in
// the returned State values, so a Tracker is safe to share.
type Tracker struct {
	cfg Config
}

// New validates cfg and returns a Tracker.
func New(cfg Config) (*Tracker, error) {
	switch {
	case cfg.PatchesPerFrame < 0:
		return nil, fmt.Errorf("patches per frame must be non-negative, got %d", cfg.PatchesPerFrame)
	case cfg.MotionHistory < 1:
		return nil, fmt.Errorf("motion history must be at least 1, got %d", cfg.MotionHistory)
	case cfg.Gain <= 0 || cfg.Gain > 1:
		return nil, fmt.Errorf("gain must be in (0, 1], got %f", cfg.Gain)
	case cfg.AssumedDepth <= 0:
		return nil, fmt.Errorf("assumed depth must be positive, got %f", cfg.AssumedDepth)
	}
	return &Tracker{cfg: cfg}, nil
}

// State is the tracker state after one frame.
type State struct {
	pose         geom.Pose
	target       geom.Pose
	measurements int
	centroid     [2]float64
	velocities   []r3.Vec
	iterations   int
}

// Pose implements frontend.State.
func (s *State) Pose() geom.Pose { return s.pose }

// Measurements implements frontend.State.
func (s *State) Measurements() int { return s.measurements }

// Target returns the pose the refinement converges to.
func (s *State) Target() geom.Pose { return s.target }

// Iterations returns the number of Refine calls applied since Track.
func (s *State) Iterations() int { return s.iterations }

// Residual returns the translational distance still to be refined away.
func (s *State) Residual() float64 {
	d, _ := geom.Distance(s.pose, s.target)
	return d
}

// Track implements frontend.Tracker.
func (t *Tracker) Track(frame frontend.NormalizedFrame, prior frontend.State) (frontend.State, error) {
	if frame.Image == nil {
		return nil, ErrNoImage
	}
	cx, cy := centroid(frame.Image.Gray(), frame.Image.Width, frame.Image.Height)

	if prior == nil {
		return &State{
			pose:         geom.Identity(),
			target:       geom.Identity(),
			measurements: t.cfg.PatchesPerFrame,
			centroid:     [2]float64{cx, cy},
		}, nil
	}
	p, ok := prior.(*State)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrForeignState, prior)
	}

	// Image content moves opposite to the camera.
	k := frame.Intrinsics
	measured := r3.Vec{
		X: -(cx - p.centroid[0]) * t.cfg.AssumedDepth / k.Fx,
		Y: -(cy - p.centroid[1]) * t.cfg.AssumedDepth / k.Fy,
	}

	next := &State{
		pose:         translate(p.target, meanVelocity(p.velocities)),
		target:       translate(p.target, geom.Rotate(p.target.Rotation, measured)),
		measurements: t.cfg.PatchesPerFrame,
		centroid:     [2]float64{cx, cy},
	}
	vel := r3.Sub(next.target.Translation, p.target.Translation)
	next.velocities = append(append([]r3.Vec(nil), p.velocities...), vel)
	if over := len(next.velocities) - t.cfg.MotionHistory; over > 0 {
		next.velocities = next.velocities[over:]
	}
	return next, nil
}

// Refine implements frontend.Tracker. Each call removes Gain of the
// remaining translational residual.
func (t *Tracker) Refine(s frontend.State) (frontend.State, error) {
	cur, ok := s.(*State)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrForeignState, s)
	}
	next := *cur
	delta := r3.Sub(cur.target.Translation, cur.pose.Translation)
	next.pose = translate(cur.pose, r3.Scale(t.cfg.Gain, delta))
	next.pose.Rotation = cur.target.Rotation
	next.iterations++
	return &next, nil
}

func translate(p geom.Pose, d r3.Vec) geom.Pose {
	p.Translation = r3.Add(p.Translation, d)
	return p
}

func meanVelocity(vs []r3.Vec) r3.Vec {
	if len(vs) == 0 {
		return r3.Vec{}
	}
	xs := make([]float64, len(vs))
	ys := make([]float64, len(vs))
	zs := make([]float64, len(vs))
	for i, v := range vs {
		xs[i], ys[i], zs[i] = v.X, v.Y, v.Z
	}
	return r3.Vec{X: stat.Mean(xs, nil), Y: stat.Mean(ys, nil), Z: stat.Mean(zs, nil)}
}

// centroid returns the intensity-weighted centre of a normalised grey
// image. A featureless (all black) image yields the geometric centre.
func centroid(gray []float32, w, h int) (float64, float64) {
	xs := make([]float64, len(gray))
	ys := make([]float64, len(gray))
	ws := make([]float64, len(gray))
	var total float64
	for i, v := range gray {
		xs[i] = float64(i % w)
		ys[i] = float64(i / w)
		ws[i] = float64(v) + 1
		total += ws[i]
	}
	if total <= 0 {
		return float64(w-1) / 2, float64(h-1) / 2
	}
	return stat.Mean(xs, ws), stat.Mean(ys, ws)
}
