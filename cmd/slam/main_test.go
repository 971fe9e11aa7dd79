package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antares511/DPVO/internal/slam/export"
	"github.com/antares511/DPVO/internal/slam/frontend"
	"github.com/antares511/DPVO/internal/slam/storage/sqlite"
)

func writeTuning(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tuning.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const smallTuning = `{
  "buffer_capacity": 32,
  "image_width": 64,
  "image_height": 48,
  "optimize_every": 4,
  "backend_iterations": 3,
  "backend_interval": "1ms"
}`

func TestParseFlags(t *testing.T) {
	o, err := parseFlags([]string{"-frames", "10", "-db", "", "-backend-loop"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, 10, o.frames)
	assert.Empty(t, o.dbPath)
	assert.True(t, o.backendLoop)
	assert.Equal(t, 1, o.stride)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"stride", []string{"-stride", "0"}, "-stride"},
		{"frames", []string{"-frames", "0"}, "-frames"},
		{"positional", []string{"extra"}, "unexpected arguments"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseFlags(tt.args, io.Discard)
			assert.ErrorContains(t, err, tt.want)
		})
	}

	// An image directory makes -frames irrelevant.
	_, err = parseFlags([]string{"-images", "frames/", "-frames", "0"}, io.Discard)
	assert.NoError(t, err)
}

func TestLoadTuning_FallsBackToDefaults(t *testing.T) {
	tuning, err := loadTuning("")
	require.NoError(t, err)
	assert.Equal(t, 1024, tuning.GetBufferCapacity())

	_, err = loadTuning(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestRun_SyntheticWithExports(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "slam.db")
	outDir := filepath.Join(dir, "out")

	err := run(context.Background(), &options{
		configPath: writeTuning(t, smallTuning),
		frames:     12,
		stride:     1,
		dbPath:     dbPath,
		outDir:     outDir,
	})
	require.NoError(t, err)

	for _, name := range []string{"trajectory.tum", "trajectory.png", "trajectory.html", "summary.json"} {
		_, err := os.Stat(filepath.Join(outDir, name))
		assert.NoError(t, err, name)
	}

	f, err := os.Open(filepath.Join(outDir, "trajectory.tum"))
	require.NoError(t, err)
	samples, err := export.ReadTUM(f)
	f.Close()
	require.NoError(t, err)
	assert.Len(t, samples, 12)

	raw, err := os.ReadFile(filepath.Join(outDir, "summary.json"))
	require.NoError(t, err)
	var summary export.Summary
	require.NoError(t, json.Unmarshal(raw, &summary))
	assert.Equal(t, 12, summary.Frames)

	db, err := sqlite.Open(dbPath)
	require.NoError(t, err)
	defer db.Close()
	runs, err := sqlite.NewRunStore(db).List(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, sqlite.StatusComplete, runs[0].Status)
	assert.Equal(t, 12, runs[0].Frames)
	assert.True(t, strings.HasPrefix(runs[0].Source, "synthetic:"))
	assert.Contains(t, string(runs[0].ConfigJSON), "buffer_capacity")

	poses, err := sqlite.NewPoseStore(db).ListByRun(runs[0].RunID)
	require.NoError(t, err)
	assert.Len(t, poses, 12)
}

func TestRun_BackendLoop(t *testing.T) {
	err := run(context.Background(), &options{
		configPath:  writeTuning(t, smallTuning),
		frames:      8,
		stride:      1,
		backendLoop: true,
	})
	assert.NoError(t, err)
}

func TestRun_CapacityExceededMarksRunFailed(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "slam.db")
	err := run(context.Background(), &options{
		configPath: writeTuning(t, `{"buffer_capacity": 5, "image_width": 64, "image_height": 48}`),
		frames:     8,
		stride:     1,
		dbPath:     dbPath,
	})
	require.ErrorIs(t, err, frontend.ErrBufferFull)

	db, err := sqlite.Open(dbPath)
	require.NoError(t, err)
	defer db.Close()
	runs, err := sqlite.NewRunStore(db).List(1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, sqlite.StatusFailed, runs[0].Status)
	assert.Equal(t, 5, runs[0].Frames)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := run(ctx, &options{
		configPath: writeTuning(t, smallTuning),
		frames:     8,
		stride:     1,
	})
	assert.NoError(t, err)
}
