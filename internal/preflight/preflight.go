package preflight

import (
	"context"
	"fmt"

	"rehearse/internal/config"
	"rehearse/internal/deps"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes every preflight check for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	results = append(results, CheckDirectoryAccess("State directory", cfg.Paths.StateDir))
	results = append(results, CheckDirectoryAccess("Artifact directory", cfg.Paths.ArtifactDir))
	results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))
	results = append(results, CheckDeviceAccess("Capture device", cfg.Capture.Device))

	for _, status := range deps.CheckBinaries(deps.Requirements(cfg)) {
		results = append(results, fromStatus(status))
	}

	results = append(results, CheckServer(ctx, cfg.Server.BaseURL))
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}

func fromStatus(s deps.Status) Result {
	if s.Available {
		return Result{Name: s.Name, Passed: true, Detail: s.Command}
	}
	if s.Optional {
		return Result{Name: s.Name, Passed: true, Detail: fmt.Sprintf("optional: %s", s.Detail)}
	}
	return Result{Name: s.Name, Detail: s.Detail}
}
