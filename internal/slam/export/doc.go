// Package export writes a finished trajectory in forms people and tools
// can consume: TUM text files for evaluation scripts, a PNG plot, an
// interactive HTML chart and a numeric summary.
package export
