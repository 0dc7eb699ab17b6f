// Package preflight validates that the local machine can record and submit:
// external binaries resolve, the capture node is accessible, working
// directories are writable and the practice API answers.
//
// Each check returns a Result; callers decide whether a failure is fatal.
package preflight
