// Package framestore owns the shared keyframe buffer of the SLAM pipeline.
//
// A Store is a fixed-capacity, append-only sequence of Records. The
// frontend appends one Record per keyframe, and the backend refines poses
// and depth fields in place. Both go through a single mutex exposed as a
// scoped token (Acquire / Tx.Release, or Locked). Every append and every
// backend optimisation round holds the token for its whole critical
// section, so a reader never observes a half-written record or a mix of
// fields from different rounds.
//
// Capacity is a hard ceiling. An append past it fails with
// ErrCapacityExceeded; records are never evicted or moved, so the index
// returned by Append stays valid for the lifetime of the Store.
//
// The mutex is not reentrant. Calling the Store convenience methods
// (Append, Read, Write, Len, ...) while holding a Tx deadlocks.
package framestore
