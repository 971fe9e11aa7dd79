// Package backend runs the slow global refinement over committed
// keyframes.
//
// A Driver performs rounds of optimisation. Each round holds the store
// lock for its whole duration: it reads the active window, hands it to the
// Solver, validates every refinement the solver proposes and only then
// writes them back. A round therefore applies all of its writes or none.
// The frontend blocks for at most one round.
//
// Loop runs a Driver periodically on its own goroutine, so the refinement
// can proceed concurrently with the frontend.
package backend
