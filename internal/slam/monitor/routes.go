// Package monitor exposes a running pipeline on the tsweb debug index:
// live counters, the trajectory as an interactive chart, a PNG plot and
// TUM text, and a tailsql view of the run database.
package monitor

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/antares511/DPVO/internal/httputil"
	"github.com/antares511/DPVO/internal/monitoring"
	"github.com/antares511/DPVO/internal/slam/export"
	"github.com/antares511/DPVO/internal/slam/pipeline"
	"github.com/antares511/DPVO/internal/slam/storage/sqlite"
)

const defaultRunsLimit = 20

// Handlers serves the debug views for one coordinator. DB may be nil, in
// which case the runs and SQL views are not registered.
type Handlers struct {
	Coordinator *pipeline.Coordinator
	DB          *sql.DB
	// RunID labels the current run in the status response.
	RunID string
}

// Status is the body of the status endpoint.
type Status struct {
	RunID            string         `json:"run_id,omitempty"`
	Frames           int            `json:"frames"`
	Measurements     int            `json:"measurements"`
	Capacity         int            `json:"capacity"`
	Processed        int64          `json:"processed"`
	Rejected         int64          `json:"rejected"`
	OptimizeCalls    int64          `json:"optimize_calls"`
	SkippedOptimize  int64          `json:"skipped_optimize"`
	LoopRounds       int64          `json:"loop_rounds"`
	BackendRounds    int64          `json:"backend_rounds"`
	BackendWrites    int64          `json:"backend_writes"`
	LastOptimizeMS   float64        `json:"last_optimize_ms"`
	LockAcquisitions int64          `json:"lock_acquisitions"`
	LockWaitMS       float64        `json:"lock_wait_ms"`
	MaxLockHoldMS    float64        `json:"max_lock_hold_ms"`
	Summary          export.Summary `json:"summary"`
}

// AttachDebugRoutes registers the pipeline views under /debug/ on mux.
func AttachDebugRoutes(mux *http.ServeMux, h *Handlers) error {
	debug := tsweb.Debugger(mux)

	if h.DB != nil {
		tsql, err := tailsql.NewServer(tailsql.Options{
			RoutePrefix: "/debug/tailsql/",
		})
		if err != nil {
			return fmt.Errorf("create tailsql server: %w", err)
		}
		tsql.SetDB("sqlite://slam.db", h.DB, &tailsql.DBOptions{
			Label: "SLAM runs",
		})
		debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
		debug.Handle("slam/runs", "Recent runs (JSON)", http.HandlerFunc(h.ServeRuns))
	}

	debug.Handle("slam/status", "Pipeline counters (JSON)", http.HandlerFunc(h.ServeStatus))
	debug.Handle("slam/trajectory", "Trajectory chart", http.HandlerFunc(h.ServeChart))
	debug.Handle("slam/trajectory.png", "Trajectory plot (PNG)", http.HandlerFunc(h.ServePlot))
	debug.Handle("slam/trajectory.tum", "Trajectory in TUM format", http.HandlerFunc(h.ServeTUM))
	debug.KVFunc("SLAM frames", func() any { return h.Coordinator.Stats().Frames })

	monitoring.Component("monitor")("debug routes attached (db=%t)", h.DB != nil)
	return nil
}

// ServeStatus writes the coordinator counters and a trajectory summary.
func (h *Handlers) ServeStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	st := h.Coordinator.Stats()
	httputil.WriteJSONOK(w, Status{
		RunID:            h.RunID,
		Frames:           st.Frames,
		Measurements:     st.Measurements,
		Capacity:         st.Capacity,
		Processed:        st.Processed,
		Rejected:         st.Rejected,
		OptimizeCalls:    st.OptimizeCalls,
		SkippedOptimize:  st.SkippedOptimize,
		LoopRounds:       st.LoopRounds,
		BackendRounds:    st.Backend.Rounds,
		BackendWrites:    st.Backend.Writes,
		LastOptimizeMS:   float64(st.Backend.LastDuration.Microseconds()) / 1000,
		LockAcquisitions: st.Lock.Acquisitions,
		LockWaitMS:       float64(st.Lock.TotalWait.Microseconds()) / 1000,
		MaxLockHoldMS:    float64(st.Lock.MaxHold.Microseconds()) / 1000,
		Summary:          export.Summarize(h.Coordinator.Result()),
	})
}

// ServeChart renders the trajectory as an echarts page.
func (h *Handlers) ServeChart(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	title := "Trajectory"
	if h.RunID != "" {
		title = "Trajectory " + h.RunID
	}
	if err := export.RenderTrajectoryHTML(&buf, h.Coordinator.Result(), export.ChartOptions{Title: title}); err != nil {
		writeRenderError(w, err)
		return
	}
	httputil.WriteBody(w, "text/html; charset=utf-8", buf.Bytes())
}

// ServePlot renders the trajectory as a PNG.
func (h *Handlers) ServePlot(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := export.WriteTrajectoryPNG(&buf, h.Coordinator.Result(), "Trajectory"); err != nil {
		writeRenderError(w, err)
		return
	}
	httputil.WriteBody(w, "image/png", buf.Bytes())
}

// ServeTUM writes the trajectory as TUM text.
func (h *Handlers) ServeTUM(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := export.WriteTUM(&buf, h.Coordinator.Result()); err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteBody(w, "text/plain; charset=utf-8", buf.Bytes())
}

// ServeRuns lists recent runs, newest first. The optional limit query
// parameter caps the result.
func (h *Handlers) ServeRuns(w http.ResponseWriter, r *http.Request) {
	if h.DB == nil {
		httputil.NotFound(w, "no run database")
		return
	}
	limit := defaultRunsLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			httputil.BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}
	runs, err := sqlite.NewRunStore(h.DB).List(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("list runs: %v", err))
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{"runs": runs})
}

func writeRenderError(w http.ResponseWriter, err error) {
	if errors.Is(err, export.ErrEmptyTrajectory) {
		httputil.NotFound(w, err.Error())
		return
	}
	httputil.InternalServerError(w, err.Error())
}
