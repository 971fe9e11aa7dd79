// Package source provides frame streams for the pipeline: an in-memory
// slice, a directory of image files, and a synthetic moving pattern.
//
// Every source returns io.EOF once exhausted and yields frames with
// strictly increasing timestamps.
package source
