package export

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/antares511/DPVO/internal/slam/pipeline"
)

// ChartOptions controls RenderTrajectoryHTML.
type ChartOptions struct {
	Title string
	// AssetsHost overrides where the echarts JavaScript is loaded from.
	AssetsHost string
}

// TrajectoryChart builds an interactive top-down scatter of the refined
// and tracked positions.
func TrajectoryChart(t pipeline.Trajectory, o ChartOptions) *charts.Scatter {
	refined := make([]opts.ScatterData, 0, len(t.Records))
	tracked := make([]opts.ScatterData, 0, len(t.Records))
	for i, r := range t.Records {
		refined = append(refined, opts.ScatterData{
			Name:  fmt.Sprintf("frame %d", i),
			Value: []interface{}{r.Pose.Translation.X, r.Pose.Translation.Z},
		})
		tracked = append(tracked, opts.ScatterData{
			Name:  fmt.Sprintf("frame %d", i),
			Value: []interface{}{r.TrackedPose.Translation.X, r.TrackedPose.Translation.Z},
		})
	}

	title := o.Title
	if title == "" {
		title = "Trajectory"
	}
	initOpts := opts.Initialization{PageTitle: title, Theme: "dark", Width: "900px", Height: "900px"}
	if o.AssetsHost != "" {
		initOpts.AssetsHost = o.AssetsHost
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("frames=%d measurements=%d", t.Frames, t.Measurements)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "X", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "Z", NameLocation: "middle", NameGap: 30}),
	)
	scatter.AddSeries("tracked", tracked, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))
	scatter.AddSeries("refined", refined, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))
	return scatter
}

// RenderTrajectoryHTML writes the trajectory chart as a standalone HTML
// page.
func RenderTrajectoryHTML(w io.Writer, t pipeline.Trajectory, o ChartOptions) error {
	if len(t.Records) == 0 {
		return ErrEmptyTrajectory
	}
	return TrajectoryChart(t, o).Render(w)
}
