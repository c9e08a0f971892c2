package batchmast

import (
	"github.com/fbrundu/batchmast/de"
)

// RunParams describes one analysis run.
type RunParams struct {
	// Keys are the obs columns staged to the workers as cdat.csv.
	Keys []string

	// Group is the obs column whose levels are contrasted.
	Group string

	// FDR and LFC are the thresholds applied when ranking genes.
	FDR float64
	LFC float64

	// Covariates extends the model, pre-joined as "+cov1+cov2".
	// Covariates matching the group or stratum column, or constant in
	// the dataset at hand, are dropped before submission.
	Covariates string

	// Strata optionally splits the run: one job per value of each
	// stratum column, collected stratum by stratum.
	Strata []Stratum

	// MinPercent enables gene filtering before submission.
	MinPercent *MinPercent

	// OnTotal bases the filter threshold on the full cell count
	// instead of the smallest group.
	OnTotal bool

	// MinCellsLimit is the filter threshold floor. Defaults to 3.
	MinCellsLimit int

	// Jobs is the worker-side parallelism written to the manifest.
	// Defaults to 1.
	Jobs int
}

func (p RunParams) withDefaults() RunParams {
	if p.MinCellsLimit == 0 {
		p.MinCellsLimit = 3
	}
	if p.Jobs == 0 {
		p.Jobs = 1
	}
	return p
}

// Stratum is one obs column and the values to run separately.
type Stratum struct {
	Column string
	Values []string
}

// MinPercent is the minimum detection fraction for the gene filter,
// either global or per stratum value. The per-stratum map wins when it
// has an entry for the value at hand.
type MinPercent struct {
	Global    float64
	ByStratum map[string]float64
}

func (m *MinPercent) forValue(value string) float64 {
	if m.ByStratum != nil {
		if p, ok := m.ByStratum[value]; ok {
			return p
		}
	}
	return m.Global
}

// StratumResult carries the collected tables of one stratum column, or
// of the whole run when no strata were requested (Stratum empty).
type StratumResult struct {
	Stratum string
	Tables  map[string]*de.Table
	Top     map[string]map[string][]string
	Err     error
}

// ComputeParams describes a single job submission.
type ComputeParams struct {
	Keys       []string
	Group      string
	Covariates string

	// Block waits for the job to finish and fetches its results.
	Block bool

	// RemoteDir reuses an already staged workspace; matrix and
	// metadata uploads are skipped when set.
	RemoteDir string

	Jobs int
}

type ComputeResult struct {
	RemoteDir string
	JobID     string
	JobName   string

	// Table is only set for blocking submissions that succeeded.
	Table *de.Table
}

// CollectEvent reports one job reaching a terminal state during
// collection.
type CollectEvent struct {
	JobID      string
	Status     JobStatus
	Submission Submission
	Table      *de.Table
	Err        error
}
