// Package main hosts the rehearse CLI entrypoint and command graph.
//
// The Cobra command tree records practice takes from the local camera,
// submits them to the practice API, polls for derived results and inspects
// the local submission journal. Configuration resolution, logger setup and
// API client construction live in the shared command context so subcommands
// only describe user-facing behaviour.
package main
