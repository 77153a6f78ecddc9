// Package scheduler fires named recurring triggers at wall-clock moments.
//
// It knows nothing about what a trigger does. Each trigger:
//   - runs on its own goroutine, so a slow trigger never delays another
//   - is single-flight: a fire that overlaps a running invocation is dropped
//   - recovers panics, which are logged per trigger and never stop the loop
package scheduler
