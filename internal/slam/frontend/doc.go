// Package frontend adapts raw camera frames for the tracking stage and
// commits the tracked result into the shared frame store.
//
// An Adapter is the single producer of the store: for each frame it fails
// fast when the store is full, normalises the image, runs the tracking
// stage plus a fixed number of refinement iterations, and appends the
// resulting keyframe under the store lock. Frame and measurement counts
// are read from the store itself; the adapter keeps no copy of them.
package frontend
