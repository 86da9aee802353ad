package pipeline

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/sells-group/habitat-cli/internal/export"
	"github.com/sells-group/habitat-cli/internal/grid"
	"github.com/sells-group/habitat-cli/internal/plausibility"
	"github.com/sells-group/habitat-cli/internal/region"
	"github.com/sells-group/habitat-cli/internal/suitability"
	"github.com/sells-group/habitat-cli/internal/trajectory"
)

// Artefact keys in Output.Files.
const (
	FileDwell      = "dwell"
	FileVisits     = "visits"
	FileVisitCount = "visit_count"
	FileSurface    = "surface"
	FileScores     = "scores"
	FileFolds      = "folds"
	FileCounts     = "counts"
	FileChart      = "chart"
	FileChartHTML  = "chart_html"
	FileShapefile  = "samples_shp"
	FileGeoJSON    = "samples_geojson"
	FileWorkbook   = "workbook"
	FileSummary    = "summary"
)

func writeCSV(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "pipeline: create %s", path)
	}
	if err := write(f); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return eris.Wrapf(f.Close(), "pipeline: close %s", path)
}

// WriteReduction writes the dwell and visit-count rasters and the visit
// table to dir.
func WriteReduction(dir string, visits []trajectory.VisitRecord, dwell *grid.Raster, files map[string]string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "pipeline: create output dir %s", dir)
	}
	path := filepath.Join(dir, "dwell.asc")
	if err := grid.WriteASC(path, dwell); err != nil {
		return err
	}
	files[FileDwell] = path

	path = filepath.Join(dir, "visit_count.asc")
	if err := grid.WriteASC(path, trajectory.VisitCountRaster(visits, dwell.Grid)); err != nil {
		return err
	}
	files[FileVisitCount] = path

	path = filepath.Join(dir, "visits.csv")
	if err := writeCSV(path, func(w io.Writer) error { return export.WriteVisitsCSV(w, visits) }); err != nil {
		return err
	}
	files[FileVisits] = path
	return nil
}

// WritePlausibility writes the count table and, when chart is set, the
// static and interactive bar charts of rep to dir.
func WritePlausibility(dir string, rep *plausibility.Report, chart bool, files map[string]string) error {
	path := filepath.Join(dir, "plausibility.csv")
	if err := writeCSV(path, func(w io.Writer) error { return export.WriteCountsCSV(w, rep) }); err != nil {
		return err
	}
	files[FileCounts] = path

	if chart {
		path = filepath.Join(dir, "plausibility.png")
		if err := plausibility.RenderPNG(rep, path); err != nil {
			return err
		}
		files[FileChart] = path

		path = filepath.Join(dir, "plausibility.html")
		if err := plausibility.WriteHTML(rep, path); err != nil {
			return err
		}
		files[FileChartHTML] = path
	}
	return nil
}

func (p *Pipeline) writeArtefacts(in *Inputs, out *Output) error {
	dir := p.cfg.Output.Dir
	if err := WriteReduction(dir, out.Visits, out.Dwell, out.Files); err != nil {
		return err
	}

	path := filepath.Join(dir, "surface.asc")
	if err := grid.WriteASC(path, out.Train.Surface); err != nil {
		return err
	}
	out.Files[FileSurface] = path

	path = filepath.Join(dir, "scores.csv")
	if err := writeCSV(path, func(w io.Writer) error { return export.WriteScoresCSV(w, out.Train.Scores) }); err != nil {
		return err
	}
	out.Files[FileScores] = path

	path = filepath.Join(dir, "folds.csv")
	if err := writeCSV(path, func(w io.Writer) error { return export.WriteFoldsCSV(w, out.Train.Folds) }); err != nil {
		return err
	}
	out.Files[FileFolds] = path

	if p.cfg.Output.Masks {
		for i, name := range out.Masks.Names {
			path = filepath.Join(dir, "mask_"+maskFileName(p.cfg.Plausibility.Thresholds[i])+".asc")
			if err := grid.WriteASC(path, out.Masks.Bands[i]); err != nil {
				return err
			}
			out.Files["mask "+name] = path
		}
	}

	if out.Report != nil {
		if err := WritePlausibility(dir, out.Report, p.cfg.Plausibility.Chart, out.Files); err != nil {
			return err
		}
	}

	samples := out.Samples()
	if p.cfg.Output.Shapefile {
		path = filepath.Join(dir, "samples.shp")
		if err := export.WriteSamplesShapefile(path, samples); err != nil {
			return err
		}
		out.Files[FileShapefile] = path
	}
	if p.cfg.Output.GeoJSON {
		path = filepath.Join(dir, "samples.geojson")
		if err := export.WriteSamplesGeoJSON(path, samples); err != nil {
			return err
		}
		out.Files[FileGeoJSON] = path
	}
	if p.cfg.Output.Workbook {
		path = filepath.Join(dir, "scores.xlsx")
		if err := export.WriteWorkbook(path, out.Train.Scores, out.Train.Folds, out.Report); err != nil {
			return err
		}
		out.Files[FileWorkbook] = path
	}

	path = filepath.Join(dir, "summary.yaml")
	out.Files[FileSummary] = path
	return export.WriteSummaryYAML(path, &export.Summary{
		RunID:        out.RunID,
		TrajectoryID: in.Trajectory.ID,
		Visits:       len(out.Visits),
		Presences:    len(out.Presences),
		Regions:      len(region.Regions(out.Presences)),
		Absences:     len(out.Background.Samples),
		Method:       string(p.cfg.Background.Method),
		Degenerate:   out.Background.Degenerate,
		Relaxed:      out.Background.Relaxed,
		Components:   out.Background.Components,
		SurfaceMode:  string(out.Train.Mode),
		Scores:       out.Train.Scores,
		Folds:        export.SummarizeFolds(out.Train.Folds),
		Thresholds:   p.cfg.Plausibility.Thresholds,
		Warnings:     out.Warnings,
		Files:        out.Files,
	})
}

// maskFileName renders a threshold as "p050" for 0.50.
func maskFileName(threshold float64) string {
	return fmt.Sprintf("p%03d", suitability.MaskPercent(threshold))
}
