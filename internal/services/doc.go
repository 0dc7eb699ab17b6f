// Package services defines shared utilities consumed by the capture view and
// its external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp practice session IDs, item IDs, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that translate failures
//     into a recovery policy (re-authenticate, redirect, retake, retry).
//
// Subpackages hold the concrete clients (the practice HTTP API).
package services
