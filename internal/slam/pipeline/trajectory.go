package pipeline

import (
	"github.com/antares511/DPVO/internal/slam/framestore"
	"github.com/antares511/DPVO/internal/slam/geom"
)

// Trajectory is the caller-facing result: copies of every committed
// record, in index order, with the store counters at the time of the copy.
type Trajectory struct {
	Records      []framestore.Record
	Frames       int
	Measurements int
}

// Poses returns the current pose of each record.
func (t Trajectory) Poses() []geom.Pose {
	out := make([]geom.Pose, len(t.Records))
	for i, r := range t.Records {
		out[i] = r.Pose
	}
	return out
}

// Timestamps returns the capture time of each record.
func (t Trajectory) Timestamps() []int64 {
	out := make([]int64, len(t.Records))
	for i, r := range t.Records {
		out[i] = r.TimestampNanos
	}
	return out
}

// PathLength returns the summed distance between consecutive positions.
func (t Trajectory) PathLength() float64 {
	var total float64
	for i := 1; i < len(t.Records); i++ {
		d, _ := geom.Distance(t.Records[i-1].Pose, t.Records[i].Pose)
		total += d
	}
	return total
}
