package suitability

import (
	"fmt"
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/sells-group/habitat-cli/internal/grid"
	"github.com/sells-group/habitat-cli/internal/sample"
)

// StackFeatures returns the valid cells of stack in row-major order and
// their feature matrix. The matrix is nil when no cell is valid.
func StackFeatures(stack *grid.Stack) ([]grid.CellID, *mat.Dense) {
	cells := stack.ValidCells()
	if len(cells) == 0 {
		return nil, nil
	}
	x := mat.NewDense(len(cells), stack.NumBands(), nil)
	for i, c := range cells {
		x.SetRow(i, stack.Features(c))
	}
	return cells, x
}

// sampleFeatures extracts the feature rows of the samples lying on valid
// cells. Samples on NoData cells are skipped and reported by count.
func sampleFeatures(stack *grid.Stack, samples []sample.Sample) (*mat.Dense, []sample.Sample, int) {
	var kept []sample.Sample
	for _, s := range samples {
		if stack.Grid.Contains(s.Cell) && stack.Valid(s.Cell) {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		return nil, nil, len(samples)
	}
	x := mat.NewDense(len(kept), stack.NumBands(), nil)
	for i, s := range kept {
		x.SetRow(i, stack.Features(s.Cell))
	}
	return x, kept, len(samples) - len(kept)
}

// NewDataset reads the predictor values at every presence and absence cell.
// Presences must carry region ids.
func NewDataset(stack *grid.Stack, presences, absences []sample.Sample) (Dataset, error) {
	px, kept, droppedP := sampleFeatures(stack, presences)
	if px == nil {
		return Dataset{}, eris.New("suitability: no presence sample lies on valid predictor cells")
	}
	ax, _, droppedA := sampleFeatures(stack, absences)
	if ax == nil {
		return Dataset{}, ErrNoAbsences
	}
	if droppedP+droppedA > 0 {
		zap.L().Warn("suitability: samples on NoData cells skipped",
			zap.Int("presences", droppedP),
			zap.Int("absences", droppedA),
		)
	}

	regions := make([]int, len(kept))
	for i, s := range kept {
		if s.Region == sample.NoRegion {
			return Dataset{}, eris.Errorf("suitability: presence at %v has no region", s.Cell)
		}
		regions[i] = s.Region
	}
	return Dataset{Presence: px, Regions: regions, Absence: ax}, nil
}

// Mask thresholds a surface: 1 where p >= threshold, 0 below, NaN where the
// surface is undefined.
func Mask(surface *grid.Raster, threshold float64) *grid.Raster {
	out := grid.NewRaster(surface.Grid, 0)
	for i, v := range surface.Data {
		switch {
		case math.IsNaN(v):
			out.Data[i] = math.NaN()
		case v >= threshold:
			out.Data[i] = 1
		}
	}
	return out
}

// MaskPercent is threshold rounded to whole percent. Mask names and file
// names derive from it, so two thresholds with the same percent collide.
func MaskPercent(threshold float64) int {
	return int(math.Round(threshold * 100))
}

// MaskName is the band name MaskStack uses for threshold.
func MaskName(threshold float64) string {
	pct := MaskPercent(threshold)
	return fmt.Sprintf("p>=%d.%02d", pct/100, pct%100)
}

// MaskStack builds one mask band per threshold.
func MaskStack(surface *grid.Raster, thresholds []float64) (*grid.Stack, error) {
	if len(thresholds) == 0 {
		return nil, eris.New("suitability: no mask thresholds")
	}
	names := make([]string, len(thresholds))
	bands := make([]*grid.Raster, len(thresholds))
	seen := make(map[int]float64, len(thresholds))
	for i, th := range thresholds {
		if th < 0 || th > 1 || math.IsNaN(th) {
			return nil, eris.Errorf("suitability: mask threshold %g outside [0, 1]", th)
		}
		if prev, ok := seen[MaskPercent(th)]; ok {
			return nil, eris.Errorf("suitability: mask thresholds %g and %g share name %s", prev, th, MaskName(th))
		}
		seen[MaskPercent(th)] = th
		names[i] = MaskName(th)
		bands[i] = Mask(surface, th)
	}
	return grid.NewStack(names, bands)
}
