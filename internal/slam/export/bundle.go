package export

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/antares511/DPVO/internal/fsutil"
	"github.com/antares511/DPVO/internal/slam/pipeline"
)

// Bundle file names, relative to the bundle directory.
const (
	TUMFile     = "trajectory.tum"
	PlotFile    = "trajectory.png"
	ChartFile   = "trajectory.html"
	SummaryFile = "summary.json"
)

// WriteBundle writes the TUM trajectory, summary, PNG plot and HTML chart
// for t into dir, creating it if needed. An empty trajectory still gets
// the TUM and summary files. It returns the paths written.
func WriteBundle(fsys fsutil.FileSystem, dir string, t pipeline.Trajectory, title string) ([]string, error) {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}

	var written []string
	create := func(name string, fn func(io.Writer) error) error {
		path := filepath.Join(dir, name)
		w, err := fsys.Create(path)
		if err != nil {
			return err
		}
		if err := fn(w); err != nil {
			w.Close()
			return fmt.Errorf("write %s: %w", name, err)
		}
		if err := w.Close(); err != nil {
			return err
		}
		written = append(written, path)
		return nil
	}

	if err := create(TUMFile, func(w io.Writer) error { return WriteTUM(w, t) }); err != nil {
		return written, err
	}

	summary, err := json.MarshalIndent(Summarize(t), "", "  ")
	if err != nil {
		return written, err
	}
	path := filepath.Join(dir, SummaryFile)
	if err := fsys.WriteFile(path, summary, 0o644); err != nil {
		return written, err
	}
	written = append(written, path)

	if len(t.Records) == 0 {
		return written, nil
	}

	if err := create(PlotFile, func(w io.Writer) error { return WriteTrajectoryPNG(w, t, title) }); err != nil {
		return written, err
	}
	err = create(ChartFile, func(w io.Writer) error {
		return RenderTrajectoryHTML(w, t, ChartOptions{Title: title})
	})
	return written, err
}
