package main

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/habitat-cli/internal/export"
	"github.com/sells-group/habitat-cli/internal/grid"
	"github.com/sells-group/habitat-cli/internal/pipeline"
	"github.com/sells-group/habitat-cli/internal/plausibility"
	"github.com/sells-group/habitat-cli/internal/suitability"
)

var plausibilityCmd = &cobra.Command{
	Use:   "plausibility",
	Short: "Test suitability masks against a reference land-cover layer",
	Long:  "Thresholds an existing probability surface into masks and counts, per mask, the selected pixels in every reference category.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := applyInputFlags(cmd.Flags(), cfg); err != nil {
			return err
		}
		if err := cfg.Validate("plausibility"); err != nil {
			return err
		}

		rep, err := runPlausibility(cfg.Input.Surface, cfg.Input.Reference, cfg.Input.Labels, cfg.Plausibility.Thresholds)
		if err != nil {
			return err
		}

		dir := cfg.Output.Dir
		if dir == "" {
			dir = "."
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "plausibility: create output dir %s", dir)
		}
		files := make(map[string]string)
		if err := pipeline.WritePlausibility(dir, rep, cfg.Plausibility.Chart, files); err != nil {
			return err
		}
		if cfg.Output.Workbook {
			path := filepath.Join(dir, "plausibility.xlsx")
			if err := export.WriteWorkbook(path, nil, nil, rep); err != nil {
				return err
			}
			files[pipeline.FileWorkbook] = path
		}

		zap.L().Info("plausibility test complete",
			zap.Int("masks", len(rep.Masks)),
			zap.Int("categories", len(rep.Categories)),
			zap.Int("files", len(files)),
		)
		formatReport(os.Stdout, rep)
		return nil
	},
}

func init() {
	f := plausibilityCmd.Flags()
	f.String("surface", "", "probability surface raster")
	f.String("reference", "", "reference land-cover raster")
	f.String("labels", "", "category labels of the reference raster (YAML)")
	f.Float64Slice("thresholds", nil, "mask thresholds, comma separated")
	f.String("out", "", "output directory")
	f.Bool("chart", true, "render the shares bar chart")
	rootCmd.AddCommand(plausibilityCmd)
}

// runPlausibility loads the surface and reference layer and tests one mask
// per threshold.
func runPlausibility(surfacePath, referencePath, labelsPath string, thresholds []float64) (*plausibility.Report, error) {
	surface, err := grid.ReadASC(surfacePath)
	if err != nil {
		return nil, eris.Wrap(err, "plausibility: load surface")
	}
	reference, err := grid.ReadASC(referencePath)
	if err != nil {
		return nil, eris.Wrap(err, "plausibility: load reference")
	}
	labels, err := plausibility.LoadLabels(labelsPath)
	if err != nil {
		return nil, err
	}
	masks, err := suitability.MaskStack(surface, thresholds)
	if err != nil {
		return nil, err
	}
	return plausibility.Test(plausibility.MasksFromStack(masks), reference, labels)
}

// formatReport writes the relative category shares, one row per mask.
func formatReport(out io.Writer, rep *plausibility.Report) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprint(w, "MASK\tPIXELS")
	for _, l := range rep.Labels {
		_, _ = fmt.Fprintf(w, "\t%s", l)
	}
	_, _ = fmt.Fprintln(w)

	for m, name := range rep.Masks {
		_, _ = fmt.Fprintf(w, "%s\t%d", name, rep.Totals[m])
		for _, v := range rep.Relative[m] {
			if math.IsNaN(v) {
				_, _ = fmt.Fprint(w, "\t-")
				continue
			}
			_, _ = fmt.Fprintf(w, "\t%.1f%%", v*100)
		}
		_, _ = fmt.Fprintln(w)
	}
	_ = w.Flush()
}
