// Package smoother is a small reference optimisation stage for the
// backend driver.
//
// Each Step solves a damped linear least-squares problem over the window's
// camera positions: stay close to the frontend's tracked positions, keep
// second differences (acceleration) small, and move no further than the
// damping allows from the current estimate. Rotations are carried through
// renormalised. Disparity fields are initialised on first use and relaxed
// toward their mean; depth is kept at the reciprocal of disparity.
//
// The fixed point of repeated steps is independent of the damping, so
// calling the driver again without new frames converges rather than
// drifting.
package smoother

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/antares511/DPVO/internal/config"
	"github.com/antares511/DPVO/internal/slam/backend"
	"github.com/antares511/DPVO/internal/slam/framestore"
)

var (
	ErrEmptyWindow     = errors.New("window holds no records")
	ErrIllConditioned  = errors.New("normal equations are not positive definite")
	ErrForeignProblem  = errors.New("problem was not built by this solver")
	errInvalidSmoother = errors.New("invalid smoother config")
)

// minDisparity keeps depth finite.
const minDisparity = 1e-3

// Config tunes a Solver.
type Config struct {
	PriorWeight      float64
	SmoothnessWeight float64
	Damping          float64

	// DisparityRate is the fraction of each pixel's distance to the mean
	// disparity removed per step, in [0, 1].
	DisparityRate float64

	// InitialDisparity seeds unset disparity fields.
	InitialDisparity float64

	// FieldWidth and FieldHeight size new depth and disparity fields.
	FieldWidth  int
	FieldHeight int
}

// DefaultConfig returns the tuning defaults for a store with the given
// field size.
func DefaultConfig(fieldWidth, fieldHeight int) Config {
	return Config{
		PriorWeight:      1,
		SmoothnessWeight: 4,
		Damping:          1,
		DisparityRate:    0.5,
		InitialDisparity: 1,
		FieldWidth:       fieldWidth,
		FieldHeight:      fieldHeight,
	}
}

// ConfigFromTuning maps a tuning file onto a Config for fields of the
// given size.
func ConfigFromTuning(cfg *config.TuningConfig, fieldWidth, fieldHeight int) Config {
	c := DefaultConfig(fieldWidth, fieldHeight)
	c.PriorWeight = cfg.GetPriorWeight()
	c.SmoothnessWeight = cfg.GetSmoothnessWeight()
	c.Damping = cfg.GetDamping()
	c.DisparityRate = cfg.GetDisparityRate()
	return c
}

// Solver implements backend.Solver.
type Solver struct {
	cfg Config
}

// New validates cfg and returns a Solver.
func New(cfg Config) (*Solver, error) {
	switch {
	case cfg.PriorWeight <= 0:
		return nil, fmt.Errorf("%w: prior weight must be positive, got %f", errInvalidSmoother, cfg.PriorWeight)
	case cfg.SmoothnessWeight < 0:
		return nil, fmt.Errorf("%w: smoothness weight must be non-negative, got %f", errInvalidSmoother, cfg.SmoothnessWeight)
	case cfg.Damping < 0:
		return nil, fmt.Errorf("%w: damping must be non-negative, got %f", errInvalidSmoother, cfg.Damping)
	case cfg.DisparityRate < 0 || cfg.DisparityRate > 1:
		return nil, fmt.Errorf("%w: disparity rate must be in [0, 1], got %f", errInvalidSmoother, cfg.DisparityRate)
	case cfg.InitialDisparity < minDisparity:
		return nil, fmt.Errorf("%w: initial disparity must be at least %g, got %f", errInvalidSmoother, minDisparity, cfg.InitialDisparity)
	case cfg.FieldWidth < 1 || cfg.FieldHeight < 1:
		return nil, fmt.Errorf("%w: field size %dx%d", errInvalidSmoother, cfg.FieldWidth, cfg.FieldHeight)
	}
	return &Solver{cfg: cfg}, nil
}

type problem struct {
	w       backend.Window
	tracked *mat.Dense // n × 3
	current *mat.Dense // n × 3
}

// BuildProblem implements backend.Solver.
func (s *Solver) BuildProblem(w backend.Window) (backend.Problem, error) {
	n := len(w.Records)
	if n == 0 {
		return nil, ErrEmptyWindow
	}
	p := &problem{
		w:       w,
		tracked: mat.NewDense(n, 3, nil),
		current: mat.NewDense(n, 3, nil),
	}
	for i, rec := range w.Records {
		p.tracked.SetRow(i, vec(rec.TrackedPose.Translation))
		p.current.SetRow(i, vec(rec.Pose.Translation))
	}
	return p, nil
}

// Step implements backend.Solver.
func (s *Solver) Step(bp backend.Problem) ([]backend.Refinement, error) {
	p, ok := bp.(*problem)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrForeignProblem, bp)
	}
	n := len(p.w.Records)

	a := s.normalMatrix(n)
	var chol mat.Cholesky
	if ok := chol.Factorize(a); !ok {
		return nil, fmt.Errorf("%w: window of %d", ErrIllConditioned, n)
	}

	// b = wp·tracked + λ·current
	var b, scaled mat.Dense
	b.Scale(s.cfg.PriorWeight, p.tracked)
	scaled.Scale(s.cfg.Damping, p.current)
	b.Add(&b, &scaled)

	var x mat.Dense
	if err := chol.SolveTo(&x, &b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIllConditioned, err)
	}

	refs := make([]backend.Refinement, n)
	for i, rec := range p.w.Records {
		pose := rec.Pose.Normalized()
		pose.Translation = r3.Vec{X: x.At(i, 0), Y: x.At(i, 1), Z: x.At(i, 2)}
		disp := s.relax(rec.Disparity)
		refs[i] = backend.Refinement{
			Index: p.w.Start + i,
			Update: framestore.Update{
				Pose:      &pose,
				Disparity: disp,
				Depth:     depthFrom(disp),
			},
		}
	}
	return refs, nil
}

// normalMatrix returns (wp + λ)·I + ws·DᵀD, where D takes second
// differences along the window.
func (s *Solver) normalMatrix(n int) *mat.SymDense {
	a := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		a.SetSym(i, i, s.cfg.PriorWeight+s.cfg.Damping)
	}
	coef := [3]float64{1, -2, 1}
	for k := 1; k+1 < n; k++ {
		for r := 0; r < 3; r++ {
			for c := r; c < 3; c++ {
				i, j := k-1+r, k-1+c
				a.SetSym(i, j, a.At(i, j)+s.cfg.SmoothnessWeight*coef[r]*coef[c])
			}
		}
	}
	return a
}

// Cost evaluates the prior and smoothness terms for the window's current
// poses. Each Step does not increase it.
func (s *Solver) Cost(w backend.Window) float64 {
	var cost float64
	for i, rec := range w.Records {
		cost += s.cfg.PriorWeight * r3.Norm2(r3.Sub(rec.Pose.Translation, rec.TrackedPose.Translation))
		if i >= 1 && i+1 < len(w.Records) {
			acc := r3.Add(r3.Sub(w.Records[i-1].Pose.Translation, r3.Scale(2, rec.Pose.Translation)), w.Records[i+1].Pose.Translation)
			cost += s.cfg.SmoothnessWeight * r3.Norm2(acc)
		}
	}
	return cost
}

func (s *Solver) relax(cur *framestore.Field) *framestore.Field {
	if cur == nil {
		return framestore.NewField(s.cfg.FieldWidth, s.cfg.FieldHeight, float32(s.cfg.InitialDisparity))
	}
	out := cur.Clone()
	mean := float32(cur.Mean())
	rate := float32(s.cfg.DisparityRate)
	for i, v := range out.Data {
		v += rate * (mean - v)
		if v < minDisparity {
			v = minDisparity
		}
		out.Data[i] = v
	}
	return out
}

func depthFrom(disp *framestore.Field) *framestore.Field {
	out := disp.Clone()
	for i, v := range out.Data {
		out.Data[i] = 1 / v
	}
	return out
}

func vec(v r3.Vec) []float64 { return []float64{v.X, v.Y, v.Z} }
