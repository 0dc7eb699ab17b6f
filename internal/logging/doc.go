// Package logging assembles structured slog loggers and formatting helpers used
// across rehearse components.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing (including rotated log files), and exposes context-aware helpers so
// capture, upload, and polling code can automatically tag log lines with
// session IDs, item IDs, and correlation IDs. The package also provides a no-op
// logger for tests and wiring code that cannot fail.
//
// Prefer these constructors over hand-rolled slog setup so new components emit
// data with the same shape as the rest of the system.
package logging
