// Package model holds the persisted records of suitability runs.
package model

import (
	"math"
	"time"
)

// RunStatus represents the current state of a suitability run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusReducing  RunStatus = "reducing"
	RunStatusLabeling  RunStatus = "labeling"
	RunStatusSampling  RunStatus = "sampling"
	RunStatusTraining  RunStatus = "training"
	RunStatusTesting   RunStatus = "testing"
	RunStatusExporting RunStatus = "exporting"
	RunStatusComplete  RunStatus = "complete"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether no further transition is expected.
func (s RunStatus) Terminal() bool {
	return s == RunStatusComplete || s == RunStatusFailed
}

// RunInput describes what a run was started with.
type RunInput struct {
	TrajectoryID   string   `json:"trajectory_id"`
	TrajectoryPath string   `json:"trajectory_path"`
	Predictors     []string `json:"predictors"`
	ReferencePath  string   `json:"reference_path,omitempty"`
	Method         string   `json:"method"`
	Radius         float64  `json:"radius"`
	Seed           int64    `json:"seed"`
}

// Run represents a single pipeline run over one trajectory.
type Run struct {
	ID        string     `json:"id"`
	Input     RunInput   `json:"input"`
	Status    RunStatus  `json:"status"`
	Result    *RunResult `json:"result,omitempty"`
	Error     *RunError  `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RunError records why a run failed and in which stage.
type RunError struct {
	Message string    `json:"message"`
	Stage   RunStatus `json:"stage"`
}

// RunResult holds the final outcome of a run. F1 values are nil when the
// pooled score is undefined.
type RunResult struct {
	Visits     int           `json:"visits"`
	Presences  int           `json:"presences"`
	Regions    int           `json:"regions"`
	Absences   int           `json:"absences"`
	Degenerate bool          `json:"degenerate"`
	Relaxed    int           `json:"relaxed"`
	Folds      int           `json:"folds"`
	PresenceF1 *float64      `json:"presence_f1"`
	AbsenceF1  *float64      `json:"absence_f1"`
	Warnings   []string      `json:"warnings,omitempty"`
	OutputDir  string        `json:"output_dir,omitempty"`
	DurationMs int64         `json:"duration_ms"`
	Phases     []PhaseResult `json:"phases,omitempty"`
}

// Score converts a possibly-NaN score into its persisted form.
func Score(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// RunPhase represents a pipeline stage within a run.
type RunPhase struct {
	ID        string       `json:"id"`
	RunID     string       `json:"run_id"`
	Name      string       `json:"name"`
	Status    PhaseStatus  `json:"status"`
	Result    *PhaseResult `json:"result,omitempty"`
	StartedAt time.Time    `json:"started_at"`
}

// PhaseStatus represents the current state of a pipeline stage.
type PhaseStatus string

const (
	PhaseStatusRunning  PhaseStatus = "running"
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusFailed   PhaseStatus = "failed"
	PhaseStatusSkipped  PhaseStatus = "skipped"
)

// PhaseResult holds the outcome of a pipeline stage.
type PhaseResult struct {
	Name     string         `json:"name"`
	Status   PhaseStatus    `json:"status"`
	Duration int64          `json:"duration_ms"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
