package main

import (
	"bitbucket.org/Davydov/lhtree/likmodel"
	"bitbucket.org/Davydov/lhtree/optimize"
)

// RunSummary is storing lhtree run summary information.
type RunSummary struct {
	// RunID is a unique identifier of the run.
	RunID string `json:"runID"`
	// Version stores lhtree version.
	Version string `json:"version"`
	// CommandLine is an array storing binary name and all command-line parameters.
	CommandLine []string `json:"commandLine"`
	// Seed is the seed used for random number generation initialization.
	Seed int64 `json:"seed"`
	// NThreads is the number of processes used.
	NThreads int `json:"nThreads"`
	// StartingTree is the input tree.
	StartingTree string `json:"startingTree"`
	// FinalTree is the tree after branch length optimization (if performed).
	FinalTree string `json:"finalTree,omitempty"`
	// LnL is the final log-likelihood.
	LnL float64 `json:"lnL"`
	// Bootstrap is the log-likelihood of the bootstrap replicates.
	Bootstrap []float64 `json:"bootstrap,omitempty"`
	// Model is the model summary.
	Model likmodel.Summary `json:"model"`
	// Optimizer is the summary of the optimizer.
	Optimizer optimize.Summary `json:"optimizer"`
	// Resumed is true if the starting point was read from a checkpoint.
	Resumed bool `json:"resumed,omitempty"`
	// Time is the computations time in seconds.
	Time float64 `json:"time"`
}
