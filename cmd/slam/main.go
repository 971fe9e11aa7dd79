// Command slam runs the visual odometry pipeline over an image directory
// or a synthetic sequence, records the run in SQLite and exports the
// trajectory.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/antares511/DPVO/internal/config"
	"github.com/antares511/DPVO/internal/fsutil"
	"github.com/antares511/DPVO/internal/monitoring"
	"github.com/antares511/DPVO/internal/slam/backend"
	"github.com/antares511/DPVO/internal/slam/export"
	"github.com/antares511/DPVO/internal/slam/monitor"
	"github.com/antares511/DPVO/internal/slam/odometry"
	"github.com/antares511/DPVO/internal/slam/pipeline"
	"github.com/antares511/DPVO/internal/slam/smoother"
	"github.com/antares511/DPVO/internal/slam/source"
	"github.com/antares511/DPVO/internal/slam/storage/sqlite"
	"github.com/antares511/DPVO/internal/version"
)

type options struct {
	configPath  string
	imageDir    string
	stride      int
	frames      int
	dbPath      string
	outDir      string
	listen      string
	backendLoop bool
	debugLogs   bool
	showVersion bool
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("slam", flag.ContinueOnError)
	fs.SetOutput(stderr)

	o := &options{}
	fs.StringVar(&o.configPath, "config", "", "Tuning config JSON (defaults to "+config.DefaultConfigPath+" when present)")
	fs.StringVar(&o.imageDir, "images", "", "Directory of image frames; empty runs the synthetic sequence")
	fs.IntVar(&o.stride, "stride", 1, "Use every n-th image from -images")
	fs.IntVar(&o.frames, "frames", 120, "Number of synthetic frames")
	fs.StringVar(&o.dbPath, "db", "slam.db", "SQLite run database; empty disables persistence")
	fs.StringVar(&o.outDir, "out", "", "Directory for trajectory.tum, trajectory.png and trajectory.html")
	fs.StringVar(&o.listen, "listen", "", "Serve /debug/ views on this address and keep serving after the run")
	fs.BoolVar(&o.backendLoop, "backend-loop", false, "Run the backend on a timer concurrently with the frontend")
	fs.BoolVar(&o.debugLogs, "debug", false, "Write diagnostic and trace logs to stderr")
	fs.BoolVar(&o.showVersion, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if o.stride < 1 {
		return nil, fmt.Errorf("-stride must be at least 1, got %d", o.stride)
	}
	if o.imageDir == "" && o.frames < 1 {
		return nil, fmt.Errorf("-frames must be at least 1, got %d", o.frames)
	}
	return o, nil
}

func main() {
	o, err := parseFlags(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatal(err)
	}
	if o.showVersion {
		fmt.Printf("slam %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, o); err != nil {
		log.Fatalf("slam: %v", err)
	}
}

func loadTuning(path string) (*config.TuningConfig, error) {
	if path != "" {
		return config.LoadTuningConfig(path)
	}
	if _, err := os.Stat(config.DefaultConfigPath); err == nil {
		return config.LoadTuningConfig(config.DefaultConfigPath)
	}
	return config.EmptyTuningConfig(), nil
}

func openSource(o *options, cfg pipeline.Config) (pipeline.Source, string, error) {
	intr := source.DefaultIntrinsics(cfg.ImageWidth, cfg.ImageHeight)
	if o.imageDir != "" {
		d, err := source.OpenDir(o.imageDir, source.DirConfig{
			Width:      cfg.ImageWidth,
			Height:     cfg.ImageHeight,
			Intrinsics: intr,
			Stride:     o.stride,
		})
		if err != nil {
			return nil, "", err
		}
		return d, o.imageDir, nil
	}
	s, err := source.NewSynthetic(source.SyntheticConfig{
		Width:      cfg.ImageWidth,
		Height:     cfg.ImageHeight,
		Frames:     o.frames,
		Intrinsics: intr,
	})
	if err != nil {
		return nil, "", err
	}
	return s, fmt.Sprintf("synthetic:%d", o.frames), nil
}

// run executes one pipeline run end to end. It returns after the run and
// the exports finish, or, with -listen, once ctx is cancelled.
func run(ctx context.Context, o *options) error {
	if o.debugLogs {
		pipeline.SetLogWriters(os.Stderr, os.Stderr, os.Stderr)
	}

	tuning, err := loadTuning(o.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := pipeline.ConfigFromTuning(tuning)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	tracker, err := odometry.New(odometry.ConfigFromTuning(tuning))
	if err != nil {
		return fmt.Errorf("create tracker: %w", err)
	}
	fw, fh := cfg.FieldSize()
	solver, err := smoother.New(smoother.ConfigFromTuning(tuning, fw, fh))
	if err != nil {
		return fmt.Errorf("create solver: %w", err)
	}

	src, srcName, err := openSource(o, cfg)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}

	var (
		runs  *sqlite.RunStore
		runID string
		popts []pipeline.Option
		h     = &monitor.Handlers{}
	)
	if o.dbPath != "" {
		db, err := sqlite.Open(o.dbPath)
		if err != nil {
			return err
		}
		defer db.Close()

		cfgJSON, err := json.Marshal(tuning)
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		runs = sqlite.NewRunStore(db)
		r := &sqlite.Run{Source: srcName, ConfigJSON: cfgJSON}
		if err := runs.Create(r); err != nil {
			return fmt.Errorf("create run: %w", err)
		}
		runID = r.RunID
		popts = append(popts, pipeline.WithSink(sqlite.NewTrajectorySink(db, runID)))
		h.DB = db
		h.RunID = runID
	}

	coord, err := pipeline.New(cfg, tracker, solver, popts...)
	if err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}
	h.Coordinator = coord
	log.Printf("slam %s: source=%s run=%s capacity=%d image=%dx%d",
		version.Version, srcName, runID, cfg.Capacity, cfg.ImageWidth, cfg.ImageHeight)

	var server *http.Server
	serverErr := make(chan error, 1)
	if o.listen != "" {
		mux := http.NewServeMux()
		if err := monitor.AttachDebugRoutes(mux, h); err != nil {
			return err
		}
		server = &http.Server{Addr: o.listen, Handler: mux}
		go func() {
			log.Printf("Starting HTTP server on %s", o.listen)
			serverErr <- server.ListenAndServe()
		}()
	}

	start := time.Now()
	runErr := runPipeline(ctx, coord, src, o.backendLoop)
	interrupted := errors.Is(runErr, context.Canceled)
	if interrupted {
		runErr = nil
	}

	// Close persists the trajectory through the sink.
	closeErr := coord.Close()
	traj := coord.Result()
	log.Printf("run finished in %s: frames=%d measurements=%d path=%.3f interrupted=%t",
		time.Since(start).Round(time.Millisecond), traj.Frames, traj.Measurements, traj.PathLength(), interrupted)

	if runs != nil {
		status := sqlite.StatusComplete
		if runErr != nil || closeErr != nil {
			status = sqlite.StatusFailed
		}
		if err := runs.Finish(runID, status, traj.Frames, traj.Measurements, traj.PathLength()); err != nil {
			monitoring.Logf("failed to finish run %s: %v", runID, err)
		}
	}
	if err := errors.Join(runErr, closeErr); err != nil {
		shutdown(server)
		return err
	}

	if o.outDir != "" {
		title := "Trajectory"
		if runID != "" {
			title = "Trajectory " + runID
		}
		written, err := export.WriteBundle(fsutil.OSFileSystem{}, o.outDir, traj, title)
		if err != nil {
			shutdown(server)
			return fmt.Errorf("export: %w", err)
		}
		log.Printf("wrote %d export files to %s", len(written), o.outDir)
	}

	if server != nil {
		log.Printf("serving debug views on %s until interrupted", o.listen)
		select {
		case <-ctx.Done():
		case err := <-serverErr:
			if err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("http server: %w", err)
			}
		}
		shutdown(server)
	}
	return nil
}

// runPipeline drives the frontend from src and, when loop is set, the
// backend on its own timer until the frontend finishes.
func runPipeline(ctx context.Context, coord *pipeline.Coordinator, src pipeline.Source, loop bool) error {
	var backendLoop *backend.Loop
	if loop {
		l, err := coord.BackendLoop()
		if err != nil {
			return err
		}
		backendLoop = l
	}

	g, gctx := errgroup.WithContext(ctx)
	loopCtx, stopLoop := context.WithCancel(gctx)
	defer stopLoop()

	g.Go(func() error {
		defer stopLoop()
		return coord.Run(gctx, src)
	})
	if backendLoop != nil {
		g.Go(func() error { return backendLoop.Run(loopCtx) })
	}
	return g.Wait()
}

func shutdown(server *http.Server) {
	if server == nil {
		return
	}
	log.Println("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
}
