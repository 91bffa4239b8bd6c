package preflight

import (
	"aer/internal/assets"
	"aer/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes the filesystem and binary checks for cfg. The worker ping
// is left to callers since it spawns a process.
func RunAll(cfg *config.Config, store *assets.Store) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	if store != nil {
		results = append(results, CheckCreatableDirectory("Asset directory", store.Dir()))
	}
	results = append(results,
		CheckCreatableDirectory("State directory", cfg.Paths.StateDir),
		CheckCreatableDirectory("Log directory", cfg.Paths.LogDir),
		CheckWorkerBinary(cfg.Worker.Binary),
	)
	if store != nil {
		results = append(results, CheckRequiredAssets(store))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
