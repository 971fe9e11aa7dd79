package export

import (
	"errors"
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/antares511/DPVO/internal/slam/pipeline"
)

// ErrEmptyTrajectory is returned when there is nothing to draw.
var ErrEmptyTrajectory = errors.New("trajectory has no records")

// newTrajectoryPlot draws the top-down (X/Z) path of the refined and the
// tracked poses.
func newTrajectoryPlot(t pipeline.Trajectory, title string) (*plot.Plot, error) {
	if len(t.Records) == 0 {
		return nil, ErrEmptyTrajectory
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "X"
	p.Y.Label.Text = "Z"

	refined := make(plotter.XYs, 0, len(t.Records))
	tracked := make(plotter.XYs, 0, len(t.Records))
	for _, r := range t.Records {
		refined = append(refined, plotter.XY{X: r.Pose.Translation.X, Y: r.Pose.Translation.Z})
		tracked = append(tracked, plotter.XY{X: r.TrackedPose.Translation.X, Y: r.TrackedPose.Translation.Z})
	}

	trackedLine, err := plotter.NewLine(tracked)
	if err != nil {
		return nil, fmt.Errorf("tracked line: %w", err)
	}
	trackedLine.Width = vg.Points(1)
	trackedLine.Color = color.RGBA{R: 160, G: 160, B: 160, A: 255}
	trackedLine.Dashes = []vg.Length{vg.Points(3), vg.Points(2)}

	refinedLine, refinedPoints, err := plotter.NewLinePoints(refined)
	if err != nil {
		return nil, fmt.Errorf("refined line: %w", err)
	}
	refinedLine.Width = vg.Points(1.5)
	refinedLine.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	refinedPoints.Radius = vg.Points(1.5)
	refinedPoints.Color = refinedLine.Color

	p.Add(plotter.NewGrid(), trackedLine, refinedLine, refinedPoints)
	p.Legend.Add("tracked", trackedLine)
	p.Legend.Add("refined", refinedLine)
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// PlotTrajectory saves the trajectory plot to path. The format follows the
// file extension (png, svg, pdf).
func PlotTrajectory(t pipeline.Trajectory, title, path string) error {
	p, err := newTrajectoryPlot(t, title)
	if err != nil {
		return err
	}
	if err := p.Save(8*vg.Inch, 8*vg.Inch, path); err != nil {
		return fmt.Errorf("save plot %s: %w", path, err)
	}
	return nil
}

// WriteTrajectoryPNG renders the trajectory plot as PNG to w.
func WriteTrajectoryPNG(w io.Writer, t pipeline.Trajectory, title string) error {
	p, err := newTrajectoryPlot(t, title)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(8*vg.Inch, 8*vg.Inch, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}
