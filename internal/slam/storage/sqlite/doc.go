// Package sqlite contains the SQLite repositories for SLAM runs and their
// trajectories.
//
// The schema ships embedded in the binary and is brought up to date by
// Open with golang-migrate. All SQL lives here; the pipeline only sees the
// TrajectorySink adapter.
package sqlite
