// Package trajectory collapses time-ordered GPS fixes into per-cell visit
// records and derives dwell-time presence samples from them.
package trajectory

import (
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/habitat-cli/internal/grid"
)

// ErrInvalidTrajectory is returned for empty or time-reversed trajectories.
var ErrInvalidTrajectory = eris.New("trajectory: invalid trajectory")

// Fix is one recorded position.
type Fix struct {
	Point grid.Point `json:"point"`
	Time  time.Time  `json:"time"`
}

// Trajectory is the ordered fix sequence of one tracked individual.
type Trajectory struct {
	ID    string `json:"id"`
	Fixes []Fix  `json:"fixes"`
}

// VisitRecord is one maximal run of consecutive fixes inside the same cell.
type VisitRecord struct {
	Cell  grid.CellID   `json:"cell"`
	Entry time.Time     `json:"entry"`
	Exit  time.Time     `json:"exit"`
	Dwell time.Duration `json:"dwell"`
	Point grid.Point    `json:"point"`
	Fixes int           `json:"fixes"`
}

// Options tunes Reduce.
type Options struct {
	// Strict aborts on fixes outside the grid instead of dropping them.
	Strict bool
}

// Validate checks that timestamps never decrease.
func Validate(tr Trajectory) error {
	if len(tr.Fixes) == 0 {
		return eris.Wrapf(ErrInvalidTrajectory, "trajectory %q: no fixes", tr.ID)
	}
	for i := 1; i < len(tr.Fixes); i++ {
		if tr.Fixes[i].Time.Before(tr.Fixes[i-1].Time) {
			return eris.Wrapf(ErrInvalidTrajectory,
				"trajectory %q: fix %d at %s precedes fix %d at %s",
				tr.ID, i, tr.Fixes[i].Time.Format(time.RFC3339),
				i-1, tr.Fixes[i-1].Time.Format(time.RFC3339))
		}
	}
	return nil
}

// Reduce walks the trajectory in order and emits one VisitRecord per run of
// same-cell fixes. Time gaps do not split a run; only a cell change does.
// A fix outside the grid is dropped and closes the open run unless
// opts.Strict is set, in which case the out-of-bounds error is returned.
func Reduce(tr Trajectory, g *grid.Grid, opts Options) ([]VisitRecord, error) {
	if err := Validate(tr); err != nil {
		return nil, err
	}

	var (
		visits  []VisitRecord
		cur     *VisitRecord
		dropped int
	)
	closeRun := func() {
		if cur == nil {
			return
		}
		cur.Dwell = cur.Exit.Sub(cur.Entry)
		visits = append(visits, *cur)
		cur = nil
	}

	for i, f := range tr.Fixes {
		cell, err := g.CellOf(f.Point)
		if err != nil {
			if opts.Strict {
				return nil, eris.Wrapf(err, "trajectory %q: fix %d", tr.ID, i)
			}
			dropped++
			closeRun()
			continue
		}

		if cur != nil && cur.Cell == cell {
			cur.Exit = f.Time
			cur.Fixes++
			continue
		}

		closeRun()
		cur = &VisitRecord{
			Cell:  cell,
			Entry: f.Time,
			Exit:  f.Time,
			Point: g.CoordinateOf(cell),
			Fixes: 1,
		}
	}
	closeRun()

	if dropped > 0 {
		zap.L().Warn("trajectory: dropped fixes outside grid",
			zap.String("trajectory", tr.ID),
			zap.Int("dropped", dropped),
			zap.Int("fixes", len(tr.Fixes)),
		)
	}
	return visits, nil
}
