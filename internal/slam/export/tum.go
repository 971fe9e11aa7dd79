package export

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/antares511/DPVO/internal/slam/geom"
	"github.com/antares511/DPVO/internal/slam/pipeline"
)

// Sample is one timestamped pose.
type Sample struct {
	TimestampNanos int64
	Pose           geom.Pose
}

// Samples returns the trajectory's current poses as samples.
func Samples(t pipeline.Trajectory) []Sample {
	out := make([]Sample, len(t.Records))
	for i, r := range t.Records {
		out[i] = Sample{TimestampNanos: r.TimestampNanos, Pose: r.Pose}
	}
	return out
}

// WriteTUM writes one line per record in the TUM RGB-D format:
// "timestamp tx ty tz qx qy qz qw", timestamp in seconds.
func WriteTUM(w io.Writer, t pipeline.Trajectory) error {
	bw := bufio.NewWriter(w)
	for _, s := range Samples(t) {
		v := s.Pose.Vec7()
		if _, err := fmt.Fprintf(bw, "%.9f %.9f %.9f %.9f %.9f %.9f %.9f %.9f\n",
			float64(s.TimestampNanos)/1e9, v[0], v[1], v[2], v[3], v[4], v[5], v[6]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadTUM parses a TUM trajectory. Blank lines and lines starting with #
// are skipped.
func ReadTUM(r io.Reader) ([]Sample, error) {
	var out []Sample
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 8 {
			return nil, fmt.Errorf("line %d: want 8 fields, got %d", line, len(fields))
		}
		var vals [8]float64
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d field %d: %w", line, i+1, err)
			}
			vals[i] = v
		}
		var v7 [7]float64
		copy(v7[:], vals[1:])
		out = append(out, Sample{
			TimestampNanos: int64(vals[0]*1e9 + 0.5),
			Pose:           geom.PoseFromVec7(v7),
		})
	}
	return out, sc.Err()
}
