// Package upload submits finished recordings to the practice API and decides
// what happens next: advance to the following item, complete the session, or
// report a failure with the recovery the caller should apply.
//
// Only one submission runs at a time per Orchestrator. A Submit issued while
// another is pending returns OutcomeIgnored and is not queued.
package upload
