package sqlite

import (
	"database/sql"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/antares511/DPVO/internal/slam/framestore"
	"github.com/antares511/DPVO/internal/slam/geom"
	"github.com/antares511/DPVO/internal/slam/pipeline"
)

// PoseRow is one persisted keyframe pose.
type PoseRow struct {
	RunID          string
	FrameIndex     int
	TimestampNanos int64
	Pose           geom.Pose
	Tracked        r3.Vec
	DepthMean      *float64
}

// PoseStore persists keyframe poses.
type PoseStore struct {
	db *sql.DB
}

// NewPoseStore creates a new PoseStore.
func NewPoseStore(db *sql.DB) *PoseStore {
	return &PoseStore{db: db}
}

// InsertTrajectory writes every record of a run in one transaction,
// replacing any rows already stored for the same indices.
func (s *PoseStore) InsertTrajectory(runID string, recs []framestore.Record) error {
	return retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		stmt, err := tx.Prepare(`
			INSERT OR REPLACE INTO slam_poses (
				run_id, frame_index, timestamp_ns,
				tx, ty, tz, qx, qy, qz, qw, scale,
				tracked_tx, tracked_ty, tracked_tz, depth_mean
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, rec := range recs {
			v := rec.Pose.Vec7()
			var depth interface{}
			if rec.Depth != nil {
				depth = rec.Depth.Mean()
			}
			t := rec.TrackedPose.Translation
			if _, err := stmt.Exec(runID, i, rec.TimestampNanos,
				v[0], v[1], v[2], v[3], v[4], v[5], v[6], rec.Pose.Scale,
				t.X, t.Y, t.Z, depth,
			); err != nil {
				return fmt.Errorf("insert pose %d: %w", i, err)
			}
		}
		return tx.Commit()
	})
}

// ListByRun returns a run's poses in frame order.
func (s *PoseStore) ListByRun(runID string) ([]PoseRow, error) {
	rows, err := s.db.Query(`
		SELECT run_id, frame_index, timestamp_ns,
		       tx, ty, tz, qx, qy, qz, qw, scale,
		       tracked_tx, tracked_ty, tracked_tz, depth_mean
		FROM slam_poses
		WHERE run_id = ?
		ORDER BY frame_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("query poses: %w", err)
	}
	defer rows.Close()

	var out []PoseRow
	for rows.Next() {
		var p PoseRow
		var v [7]float64
		var scale float64
		var depth sql.NullFloat64
		if err := rows.Scan(&p.RunID, &p.FrameIndex, &p.TimestampNanos,
			&v[0], &v[1], &v[2], &v[3], &v[4], &v[5], &v[6], &scale,
			&p.Tracked.X, &p.Tracked.Y, &p.Tracked.Z, &depth); err != nil {
			return nil, err
		}
		p.Pose = geom.PoseFromVec7(v)
		p.Pose.Scale = scale
		if depth.Valid {
			d := depth.Float64
			p.DepthMean = &d
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// TrajectorySink persists a coordinator's final trajectory under one run
// and marks the run complete. It implements pipeline.Sink.
type TrajectorySink struct {
	runs  *RunStore
	poses *PoseStore
	runID string
}

// NewTrajectorySink returns a sink writing to the existing run runID.
func NewTrajectorySink(db *sql.DB, runID string) *TrajectorySink {
	return &TrajectorySink{runs: NewRunStore(db), poses: NewPoseStore(db), runID: runID}
}

// PersistTrajectory implements pipeline.Sink.
func (s *TrajectorySink) PersistTrajectory(t pipeline.Trajectory) error {
	if err := s.poses.InsertTrajectory(s.runID, t.Records); err != nil {
		_ = s.runs.Finish(s.runID, StatusFailed, t.Frames, t.Measurements, 0)
		return fmt.Errorf("persist poses for run %s: %w", s.runID, err)
	}
	return s.runs.Finish(s.runID, StatusComplete, t.Frames, t.Measurements, t.PathLength())
}
