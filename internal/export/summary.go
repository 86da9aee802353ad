package export

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/habitat-cli/internal/suitability"
)

// Summary is the human-readable record of one run.
type Summary struct {
	RunID        string                 `yaml:"run_id,omitempty"`
	TrajectoryID string                 `yaml:"trajectory_id"`
	Visits       int                    `yaml:"visits"`
	Presences    int                    `yaml:"presences"`
	Regions      int                    `yaml:"regions"`
	Absences     int                    `yaml:"absences"`
	Method       string                 `yaml:"method"`
	Degenerate   bool                   `yaml:"degenerate"`
	Relaxed      int                    `yaml:"relaxed"`
	Components   int                    `yaml:"components,omitempty"`
	SurfaceMode  string                 `yaml:"surface_mode"`
	Scores       suitability.ScoreTable `yaml:"scores"`
	Folds        []FoldSummary          `yaml:"folds"`
	Thresholds   []float64              `yaml:"mask_thresholds,omitempty"`
	Warnings     []string               `yaml:"warnings,omitempty"`
	Files        map[string]string      `yaml:"files,omitempty"`
}

// FoldSummary is the persisted view of one cross-validation fold.
type FoldSummary struct {
	Region         int                `yaml:"region"`
	TrainPresences int                `yaml:"train_presences"`
	TrainAbsences  int                `yaml:"train_absences"`
	ValPresences   int                `yaml:"val_presences"`
	ValAbsences    int                `yaml:"val_absences"`
	Presence       suitability.Counts `yaml:"presence"`
}

// SummarizeFolds drops the per-fold models and predictions.
func SummarizeFolds(folds []suitability.FoldResult) []FoldSummary {
	out := make([]FoldSummary, len(folds))
	for i, f := range folds {
		out[i] = FoldSummary{
			Region:         f.Region,
			TrainPresences: f.TrainPresences,
			TrainAbsences:  f.TrainAbsences,
			ValPresences:   f.ValPresences,
			ValAbsences:    f.ValAbsences,
			Presence:       f.Presence,
		}
	}
	return out
}

// WriteSummaryYAML writes s to path.
func WriteSummaryYAML(path string, s *Summary) error {
	raw, err := yaml.Marshal(s)
	if err != nil {
		return eris.Wrap(err, "export: marshal summary")
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return eris.Wrapf(err, "export: write %s", path)
	}
	return nil
}
