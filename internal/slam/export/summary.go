package export

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/antares511/DPVO/internal/slam/geom"
	"github.com/antares511/DPVO/internal/slam/pipeline"
)

// Summary describes a trajectory numerically.
type Summary struct {
	Frames       int     `json:"frames"`
	Measurements int     `json:"measurements"`
	DurationSec  float64 `json:"duration_sec"`
	PathLength   float64 `json:"path_length"`
	MeanStep     float64 `json:"mean_step"`
	StdStep      float64 `json:"std_step"`

	// CorrectionRMS is the RMS distance between the refined poses and the
	// frontend's tracked poses: how much the backend moved things.
	CorrectionRMS float64 `json:"correction_rms"`
	MaxCorrection float64 `json:"max_correction"`

	// DepthFrames counts records with a depth field.
	DepthFrames int `json:"depth_frames"`
}

// Summarize computes a Summary.
func Summarize(t pipeline.Trajectory) Summary {
	s := Summary{Frames: t.Frames, Measurements: t.Measurements}
	n := len(t.Records)
	if n == 0 {
		return s
	}
	s.DurationSec = float64(t.Records[n-1].TimestampNanos-t.Records[0].TimestampNanos) / 1e9

	corr := make([]float64, n)
	for i, r := range t.Records {
		corr[i], _ = geom.Distance(r.Pose, r.TrackedPose)
		if r.Depth != nil {
			s.DepthFrames++
		}
	}
	s.CorrectionRMS = math.Sqrt(floats.Dot(corr, corr) / float64(n))
	s.MaxCorrection = floats.Max(corr)

	if n > 1 {
		steps := make([]float64, n-1)
		for i := 1; i < n; i++ {
			steps[i-1], _ = geom.Distance(t.Records[i-1].Pose, t.Records[i].Pose)
		}
		s.PathLength = floats.Sum(steps)
		s.MeanStep, s.StdStep = stat.MeanStdDev(steps, nil)
		if math.IsNaN(s.StdStep) {
			s.StdStep = 0
		}
	}
	return s
}

// AbsoluteError returns the RMS translational error between est and ref,
// matching samples by exact timestamp. Unmatched samples are ignored; the
// second result is the number of matched pairs.
func AbsoluteError(est, ref []Sample) (rms float64, matched int) {
	byTS := make(map[int64]geom.Pose, len(ref))
	for _, s := range ref {
		byTS[s.TimestampNanos] = s.Pose
	}
	var errs []float64
	for _, s := range est {
		p, ok := byTS[s.TimestampNanos]
		if !ok {
			continue
		}
		d, _ := geom.Distance(s.Pose, p)
		errs = append(errs, d)
	}
	if len(errs) == 0 {
		return 0, 0
	}
	return math.Sqrt(floats.Dot(errs, errs) / float64(len(errs))), len(errs)
}
