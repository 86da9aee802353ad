// Package store persists suitability run history.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/habitat-cli/internal/model"
	"github.com/sells-group/habitat-cli/internal/sample"
)

// ErrNotFound is returned when a run or phase id does not exist.
var ErrNotFound = eris.New("store: not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status       model.RunStatus `json:"status,omitempty"`
	TrajectoryID string          `json:"trajectory_id,omitempty"`
	CreatedAfter time.Time       `json:"created_after,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for pipeline runs.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, input model.RunInput) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	CompleteRun(ctx context.Context, runID string, result *model.RunResult) error
	FailRun(ctx context.Context, runID string, runErr *model.RunError) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Phases
	CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error)
	CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error
	ListPhases(ctx context.Context, runID string) ([]model.RunPhase, error)

	// Samples
	SaveSamples(ctx context.Context, runID string, samples []sample.Sample) (int64, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// sampleColumns is the column order of the run_samples table.
var sampleColumns = []string{"run_id", "class", "region", "cell_row", "cell_col", "x", "y", "dwell_s"}

func sampleRows(runID string, samples []sample.Sample) [][]any {
	rows := make([][]any, len(samples))
	for i, s := range samples {
		rows[i] = []any{
			runID, string(s.Class), s.Region, s.Cell.Row, s.Cell.Col,
			s.Point.X, s.Point.Y, s.Dwell.Seconds(),
		}
	}
	return rows
}

func notFound(entity, id string) error {
	return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
}
