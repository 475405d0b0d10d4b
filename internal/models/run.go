package models

import "time"

// RunConfig holds the optional settings of a new tracker run. Nil fields are left to the
// tracker: no run name gets a generated one, no experiment falls back to the configured one.
type RunConfig struct {
	ExperimentID *string           `json:"experiment_id,omitempty"`
	RunName      *string           `json:"run_name,omitempty"`
	Tags         map[string]string `json:"tags,omitempty"`
	Description  *string           `json:"description,omitempty"`
}

// RunInfo describes a tracker run as returned by CreateRun and GetRun.
//
// Status holds a RunStatus value. EndTime is nil while the run is RUNNING. ArtifactURI is the
// root checkpoints are uploaded under; its scheme (mlflow-artifacts, dbfs, file) selects the
// artifact store, and it may be empty for a run whose tracker did not report one.
type RunInfo struct {
	RunID        string            `json:"run_id"`
	ExperimentID string            `json:"experiment_id"`
	RunName      string            `json:"run_name"`
	Status       string            `json:"status"`
	StartTime    time.Time         `json:"start_time"`
	EndTime      *time.Time        `json:"end_time,omitempty"`
	ArtifactURI  string            `json:"artifact_uri,omitempty"`
	Tags         map[string]string `json:"tags,omitempty"`
	Description  string            `json:"description,omitempty"`
}

// RunStatus is the lifecycle state of a tracker run, spelled as MLflow spells it.
// Training runs end FINISHED, or FAILED when the loop returned an error.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "RUNNING"
	RunStatusFinished RunStatus = "FINISHED"
	RunStatusFailed   RunStatus = "FAILED"
	RunStatusKilled   RunStatus = "KILLED"
)

// IsTerminal reports whether a run in this status has ended, i.e. whether an end time is
// recorded when the run moves to it.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusFinished || s == RunStatusFailed || s == RunStatusKilled
}
