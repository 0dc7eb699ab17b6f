// Package guidance computes framing-quality signals from live frames and
// drives the four-level alignment indicator (idle, aligning, almost, ok).
//
// Step is the pure per-frame transition; Loop runs it against a capture
// FrameSource in its own goroutine. Guidance is advisory: nothing here gates
// recording.
package guidance
