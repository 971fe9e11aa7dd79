package export

import (
	"bytes"
	"encoding/json"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/antares511/DPVO/internal/fsutil"
	"github.com/antares511/DPVO/internal/slam/framestore"
	"github.com/antares511/DPVO/internal/slam/geom"
	"github.com/antares511/DPVO/internal/slam/pipeline"
)

func testTrajectory(n int) pipeline.Trajectory {
	recs := make([]framestore.Record, n)
	for i := range recs {
		tracked := geom.NewPose(geom.AxisAngle(r3.Vec{Y: 1}, 0.05*float64(i)), r3.Vec{X: float64(i), Z: 0.5 * float64(i)})
		refined := tracked
		refined.Translation.X += 0.1
		recs[i] = framestore.Record{
			TimestampNanos: int64(i+1) * 100_000_000,
			Pose:           refined,
			TrackedPose:    tracked,
		}
	}
	return pipeline.Trajectory{Records: recs, Frames: n, Measurements: 96 * n}
}

func TestTUM_RoundTrip(t *testing.T) {
	traj := testTrajectory(4)
	var buf bytes.Buffer
	require.NoError(t, WriteTUM(&buf, traj))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "0.100000000 0.100000000 "), lines[0])

	got, err := ReadTUM(strings.NewReader("# header\n\n" + buf.String()))
	require.NoError(t, err)
	require.Len(t, got, 4)
	for i, s := range got {
		assert.Equal(t, traj.Records[i].TimestampNanos, s.TimestampNanos)
		trans, angle := geom.Distance(traj.Records[i].Pose, s.Pose)
		assert.InDelta(t, 0, trans, 1e-8)
		assert.InDelta(t, 0, angle, 1e-6)
	}
}

func TestReadTUM_Malformed(t *testing.T) {
	_, err := ReadTUM(strings.NewReader("1 2 3\n"))
	assert.ErrorContains(t, err, "line 1")
	_, err = ReadTUM(strings.NewReader("1 2 3 4 5 6 7 x\n"))
	assert.ErrorContains(t, err, "field 8")
}

func TestSummarize(t *testing.T) {
	s := Summarize(testTrajectory(5))
	assert.Equal(t, 5, s.Frames)
	assert.Equal(t, 480, s.Measurements)
	assert.InDelta(t, 0.4, s.DurationSec, 1e-9)
	step := r3.Norm(r3.Vec{X: 1, Z: 0.5})
	assert.InDelta(t, 4*step, s.PathLength, 1e-9)
	assert.InDelta(t, step, s.MeanStep, 1e-9)
	assert.InDelta(t, 0, s.StdStep, 1e-9)
	assert.InDelta(t, 0.1, s.CorrectionRMS, 1e-9)
	assert.InDelta(t, 0.1, s.MaxCorrection, 1e-9)
	assert.Zero(t, s.DepthFrames)

	empty := Summarize(pipeline.Trajectory{})
	assert.Zero(t, empty.PathLength)

	one := Summarize(testTrajectory(1))
	assert.Zero(t, one.StdStep)
}

func TestAbsoluteError(t *testing.T) {
	traj := testTrajectory(3)
	est := Samples(traj)
	ref := make([]Sample, len(traj.Records))
	for i, r := range traj.Records {
		ref[i] = Sample{TimestampNanos: r.TimestampNanos, Pose: r.TrackedPose}
	}
	ref = append(ref, Sample{TimestampNanos: 1, Pose: geom.Identity()})

	rms, matched := AbsoluteError(est, ref)
	assert.Equal(t, 3, matched)
	assert.InDelta(t, 0.1, rms, 1e-9)

	_, matched = AbsoluteError(est, nil)
	assert.Zero(t, matched)
}

func TestPlotTrajectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trajectory.png")
	require.NoError(t, PlotTrajectory(testTrajectory(6), "test run", path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	_, err = png.Decode(f)
	assert.NoError(t, err)

	assert.ErrorIs(t, PlotTrajectory(pipeline.Trajectory{}, "empty", path), ErrEmptyTrajectory)
}

func TestWriteTrajectoryPNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTrajectoryPNG(&buf, testTrajectory(3), "png"))
	_, err := png.Decode(&buf)
	assert.NoError(t, err)
}

func TestRenderTrajectoryHTML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderTrajectoryHTML(&buf, testTrajectory(3), ChartOptions{Title: "Run 42"}))
	html := buf.String()
	assert.Contains(t, html, "Run 42")
	assert.Contains(t, html, "refined")
	assert.Contains(t, html, "tracked")

	assert.ErrorIs(t, RenderTrajectoryHTML(&buf, pipeline.Trajectory{}, ChartOptions{}), ErrEmptyTrajectory)
}

func TestWriteBundle(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	written, err := WriteBundle(mfs, "/out/run-1", testTrajectory(5), "Run 1")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"/out/run-1/trajectory.tum",
		"/out/run-1/summary.json",
		"/out/run-1/trajectory.png",
		"/out/run-1/trajectory.html",
	}, written)
	assert.Equal(t, []string{
		"/out/run-1/summary.json",
		"/out/run-1/trajectory.html",
		"/out/run-1/trajectory.png",
		"/out/run-1/trajectory.tum",
	}, mfs.Files())

	data, err := mfs.ReadFile("/out/run-1/summary.json")
	require.NoError(t, err)
	var s Summary
	require.NoError(t, json.Unmarshal(data, &s))
	assert.Equal(t, 5, s.Frames)

	data, err = mfs.ReadFile("/out/run-1/trajectory.png")
	require.NoError(t, err)
	_, err = png.Decode(bytes.NewReader(data))
	assert.NoError(t, err)
}

func TestWriteBundle_EmptyTrajectory(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	written, err := WriteBundle(mfs, "out", pipeline.Trajectory{}, "empty")
	require.NoError(t, err)
	assert.Equal(t, []string{"out/trajectory.tum", "out/summary.json"}, written)
}
