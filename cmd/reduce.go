package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/habitat-cli/internal/grid"
	"github.com/sells-group/habitat-cli/internal/pipeline"
	"github.com/sells-group/habitat-cli/internal/trajectory"
)

var reduceCmd = &cobra.Command{
	Use:   "reduce",
	Short: "Reduce a trajectory to per-cell visits and a dwell raster",
	Long:  "Collapses consecutive same-cell fixes into visit records on the grid of a reference raster and writes dwell.asc and visits.csv. No model is trained.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := applyInputFlags(cmd.Flags(), cfg); err != nil {
			return err
		}
		if err := cfg.Validate("reduce"); err != nil {
			return err
		}

		tr, err := pipeline.LoadTrajectory(cfg.Input.Trajectory, cfg.Input.TrajectoryID, cfg.Input)
		if err != nil {
			return err
		}
		ref, err := grid.ReadASC(cfg.Input.Predictors[0])
		if err != nil {
			return eris.Wrap(err, "reduce: load grid")
		}

		visits, err := trajectory.Reduce(tr, &ref.Grid, trajectory.Options{Strict: cfg.Reduce.Strict})
		if err != nil {
			return err
		}
		dwell := trajectory.DwellRaster(visits, ref.Grid)
		presences := trajectory.PresenceSamples(visits, time.Duration(cfg.Reduce.MinDwellSecs)*time.Second)

		files := make(map[string]string)
		if err := pipeline.WriteReduction(cfg.Output.Dir, visits, dwell, files); err != nil {
			return err
		}

		zap.L().Info("reduce complete",
			zap.String("trajectory", tr.ID),
			zap.Int("fixes", len(tr.Fixes)),
			zap.Int("visits", len(visits)),
			zap.Int("presence_cells", len(presences)),
		)
		fmt.Fprintf(os.Stdout, "%s: %d fixes, %d visits, %d presence cells\n", tr.ID, len(tr.Fixes), len(visits), len(presences))
		fmt.Fprintf(os.Stdout, "dwell:       %s\nvisit count: %s\nvisits:      %s\n",
			files[pipeline.FileDwell], files[pipeline.FileVisitCount], files[pipeline.FileVisits])
		return nil
	},
}

func init() {
	f := reduceCmd.Flags()
	f.String("trajectory", "", "trajectory file (.csv or point .shp)")
	f.String("id", "", "trajectory id (defaults to the file name)")
	f.String("grid", "", "raster whose grid the fixes are reduced onto")
	f.String("out", "", "output directory")
	f.Int("min-dwell", 0, "minimum summed dwell seconds for a presence cell")
	rootCmd.AddCommand(reduceCmd)
}
