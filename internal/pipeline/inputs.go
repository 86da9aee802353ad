package pipeline

import (
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/habitat-cli/internal/config"
	"github.com/sells-group/habitat-cli/internal/grid"
	"github.com/sells-group/habitat-cli/internal/plausibility"
	"github.com/sells-group/habitat-cli/internal/trajectory"
)

// Inputs holds the loaded data of one run.
type Inputs struct {
	Trajectory trajectory.Trajectory
	Stack      *grid.Stack
	// Reference and Labels are nil when no plausibility test is requested.
	Reference *grid.Raster
	Labels    []string
	// Paths records where the inputs came from.
	TrajectoryPath string
	PredictorPaths []string
	ReferencePath  string
}

// BandName derives a predictor name from its file name.
func BandName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// LoadTrajectory reads a CSV or point-shapefile trajectory, chosen by file
// extension. The id defaults to the file name.
func LoadTrajectory(path, id string, cfg config.InputConfig) (trajectory.Trajectory, error) {
	if id == "" {
		id = BandName(path)
	}
	opts := trajectory.LoadOptions{SortFixes: cfg.SortFixes}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return trajectory.LoadShapefile(path, id, cfg.TimeField, opts)
	case ".csv", ".txt":
		return trajectory.LoadCSV(path, id, opts)
	default:
		return trajectory.Trajectory{}, eris.Errorf("pipeline: unsupported trajectory format %q", filepath.Ext(path))
	}
}

// LoadStack reads the predictor rasters; band names come from file names.
func LoadStack(paths []string) (*grid.Stack, error) {
	if len(paths) == 0 {
		return nil, eris.New("pipeline: no predictor rasters")
	}
	names := make([]string, len(paths))
	for i, p := range paths {
		names[i] = BandName(p)
	}
	stack, err := grid.LoadStack(names, paths)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load predictors")
	}
	return stack, nil
}

// LoadInputs reads every input named by cfg.
func LoadInputs(cfg *config.Config) (*Inputs, error) {
	tr, err := LoadTrajectory(cfg.Input.Trajectory, cfg.Input.TrajectoryID, cfg.Input)
	if err != nil {
		return nil, err
	}
	stack, err := LoadStack(cfg.Input.Predictors)
	if err != nil {
		return nil, err
	}

	in := &Inputs{
		Trajectory:     tr,
		Stack:          stack,
		TrajectoryPath: cfg.Input.Trajectory,
		PredictorPaths: cfg.Input.Predictors,
	}

	if cfg.Input.Reference != "" {
		in.Reference, err = grid.ReadASC(cfg.Input.Reference)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: load reference")
		}
		in.Labels, err = plausibility.LoadLabels(cfg.Input.Labels)
		if err != nil {
			return nil, err
		}
		in.ReferencePath = cfg.Input.Reference
	}

	zap.L().Info("pipeline: inputs loaded",
		zap.String("trajectory", tr.ID),
		zap.Int("fixes", len(tr.Fixes)),
		zap.Strings("predictors", stack.Names),
		zap.Bool("reference", in.Reference != nil),
	)
	return in, nil
}
