// Package poller watches the derived-artifact endpoint for a completed item.
//
// The polling policy is a pure state machine (Transition) driven by a task
// goroutine. A Supervisor keeps at most one task alive and replaces it when the
// target or polling parameters change.
package poller
