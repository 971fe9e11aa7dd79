// Package pipeline coordinates the SLAM frontend and backend around one
// shared frame store.
//
// A Coordinator owns the store, the frontend adapter and the backend
// driver. Callers feed it frames one at a time with Process, or hand it a
// Source with Run; the backend runs on a cadence of committed frames, on
// demand through Optimize, and once more when a stream ends. A backend
// Loop can also be started on its own goroutine for concurrent
// refinement.
//
// Logging goes through three streams configured with SetLogWriters:
// ops for actionable failures, diag for per-run diagnostics and trace for
// per-frame telemetry.
package pipeline
