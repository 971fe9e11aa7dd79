package framestore

import (
	"math"

	"github.com/antares511/DPVO/internal/slam/geom"
	"github.com/antares511/DPVO/internal/slam/imaging"
)

// Field is a per-pixel scalar grid (depth or disparity), row-major.
type Field struct {
	Width  int
	Height int
	Data   []float32
}

// NewField returns a width × height field filled with v.
func NewField(width, height int, v float32) *Field {
	f := &Field{Width: width, Height: height, Data: make([]float32, width*height)}
	for i := range f.Data {
		f.Data[i] = v
	}
	return f
}

// Clone returns a deep copy. Clone of nil is nil.
func (f *Field) Clone() *Field {
	if f == nil {
		return nil
	}
	out := &Field{Width: f.Width, Height: f.Height, Data: make([]float32, len(f.Data))}
	copy(out.Data, f.Data)
	return out
}

// At returns the value at (x, y).
func (f *Field) At(x, y int) float32 {
	return f.Data[y*f.Width+x]
}

// Mean returns the average value, or 0 for an empty field.
func (f *Field) Mean() float64 {
	if f == nil || len(f.Data) == 0 {
		return 0
	}
	var sum float64
	for _, v := range f.Data {
		sum += float64(v)
	}
	return sum / float64(len(f.Data))
}

func (f *Field) valid() bool {
	if f.Width <= 0 || f.Height <= 0 || len(f.Data) != f.Width*f.Height {
		return false
	}
	for _, v := range f.Data {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return false
		}
	}
	return true
}

// Record is one committed keyframe.
type Record struct {
	// TimestampNanos identifies the capture time; strictly increasing
	// within one store.
	TimestampNanos int64

	// Image is the left (or only) camera image. Images are immutable, so
	// sharing the pointer with readers is safe.
	Image *imaging.Image

	// Right is the right camera image of a stereo store, nil otherwise.
	Right *imaging.Image

	// Pose is the current camera-to-world estimate, refined by the backend.
	Pose geom.Pose

	// TrackedPose is the frontend estimate at commit time. It never
	// changes after Append.
	TrackedPose geom.Pose

	// Depth and Disparity are unset (nil) until a stage computes them.
	Depth     *Field
	Disparity *Field

	// Intrinsics are already divided by the store's normalisation scale.
	Intrinsics geom.Intrinsics
}

// clone returns a copy whose depth fields do not alias r.
func (r Record) clone() Record {
	r.Depth = r.Depth.Clone()
	r.Disparity = r.Disparity.Clone()
	return r
}

// Update carries the fields the backend may change on a committed record.
// Nil fields are left untouched.
type Update struct {
	Pose      *geom.Pose
	Depth     *Field
	Disparity *Field
}

// Empty reports whether the update changes nothing.
func (u Update) Empty() bool {
	return u.Pose == nil && u.Depth == nil && u.Disparity == nil
}
