package main

import (
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/sells-group/habitat-cli/internal/background"
	"github.com/sells-group/habitat-cli/internal/config"
	"github.com/sells-group/habitat-cli/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full suitability pipeline for one trajectory",
	Long:  "Reduces the trajectory to presences, labels regions, samples absences, cross-validates the classifier by region, builds the suitability surface and, when a reference layer is given, tests its masks. Artefacts are written to the output directory.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := applyInputFlags(cmd.Flags(), cfg); err != nil {
			return err
		}
		if err := cfg.Validate("run"); err != nil {
			return err
		}

		in, err := pipeline.LoadInputs(cfg)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close() //nolint:errcheck
		}

		out, err := pipeline.New(cfg, st).Run(ctx, in)
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		zap.L().Info("suitability run complete",
			zap.String("run_id", out.RunID),
			zap.String("output_dir", cfg.Output.Dir),
		)
		formatRunOutput(os.Stdout, out)
		return nil
	},
}

func init() {
	f := runCmd.Flags()
	f.String("trajectory", "", "trajectory file (.csv or point .shp)")
	f.String("id", "", "trajectory id (defaults to the file name)")
	f.StringSlice("predictors", nil, "predictor rasters (ESRI ASCII grid), comma separated")
	f.String("reference", "", "reference land-cover raster for the plausibility test")
	f.String("labels", "", "category labels of the reference raster (YAML)")
	f.String("out", "", "output directory")
	f.Float64("radius", 0, "region merge radius in map units")
	f.String("method", "", "background method (random, feature-distance)")
	f.Int("count", 0, "number of absences (0 matches presences)")
	f.Int64("seed", 0, "background sampling seed")
	f.Int("min-dwell", 0, "minimum summed dwell seconds for a presence cell")
	f.String("surface-mode", "", "probability surface (mean, final)")
	f.Int("workers", 0, "parallel cross-validation folds")
	rootCmd.AddCommand(runCmd)
}

// applyInputFlags copies every flag the user set onto c. Flags a command
// does not define are skipped so commands can share it.
func applyInputFlags(flags *pflag.FlagSet, c *config.Config) error {
	changed := func(name string) bool {
		return flags.Lookup(name) != nil && flags.Changed(name)
	}
	str := func(name string, dst *string) {
		if changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	num := func(name string, dst *int) {
		if changed(name) {
			*dst, _ = flags.GetInt(name)
		}
	}

	str("trajectory", &c.Input.Trajectory)
	str("id", &c.Input.TrajectoryID)
	str("surface", &c.Input.Surface)
	str("reference", &c.Input.Reference)
	str("labels", &c.Input.Labels)
	str("out", &c.Output.Dir)
	str("surface-mode", &c.Train.SurfaceMode)
	num("count", &c.Background.Count)
	num("min-dwell", &c.Reduce.MinDwellSecs)
	num("workers", &c.Train.Workers)

	if changed("predictors") {
		c.Input.Predictors, _ = flags.GetStringSlice("predictors")
	}
	if changed("grid") {
		path, _ := flags.GetString("grid")
		c.Input.Predictors = []string{path}
	}
	if changed("radius") {
		c.Region.Radius, _ = flags.GetFloat64("radius")
	}
	if changed("seed") {
		c.Background.Seed, _ = flags.GetInt64("seed")
	}
	if changed("thresholds") {
		c.Plausibility.Thresholds, _ = flags.GetFloat64Slice("thresholds")
	}
	if changed("chart") {
		c.Plausibility.Chart, _ = flags.GetBool("chart")
	}
	if changed("method") {
		s, _ := flags.GetString("method")
		m, err := background.ParseMethod(s)
		if err != nil {
			return eris.Wrap(err, "flag --method")
		}
		c.Background.Method = m
	}
	return nil
}

// formatRunOutput writes the pooled scores, warnings and artefacts of a run.
func formatRunOutput(out io.Writer, o *pipeline.Output) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if o.RunID != "" {
		_, _ = fmt.Fprintf(w, "Run:\t%s\n", o.RunID)
	}
	_, _ = fmt.Fprintf(w, "Visits:\t%d\n", len(o.Visits))
	_, _ = fmt.Fprintf(w, "Presences:\t%d\n", len(o.Presences))
	if o.Background != nil {
		_, _ = fmt.Fprintf(w, "Absences:\t%d\n", len(o.Background.Samples))
	}
	_ = w.Flush()

	if o.Train != nil {
		_, _ = fmt.Fprintln(out)
		w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "CLASS\tTP\tFP\tFN\tTN\tPRECISION\tRECALL\tF1")
		for _, r := range o.Train.Scores {
			_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%s\t%s\t%s\n",
				r.Class, r.TP, r.FP, r.FN, r.TN,
				formatScore(r.Precision), formatScore(r.Recall), formatScore(r.F1))
		}
		_ = w.Flush()
	}

	for _, msg := range o.Warnings {
		_, _ = fmt.Fprintf(out, "warning: %s\n", msg)
	}

	if len(o.Files) > 0 {
		_, _ = fmt.Fprintln(out)
		keys := make([]string, 0, len(o.Files))
		for k := range o.Files {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, k := range keys {
			_, _ = fmt.Fprintf(w, "%s\t%s\n", k, o.Files[k])
		}
		_ = w.Flush()
	}
}

// formatScore renders an undefined score as "n/a".
func formatScore(v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return fmt.Sprintf("%.3f", v)
}
