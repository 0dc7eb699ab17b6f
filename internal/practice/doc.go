// Package practice drives a single practice item: it composes the capture
// controller, guidance indicator, upload orchestrator and result poller, and
// turns their outcomes into navigation and user messages.
package practice
