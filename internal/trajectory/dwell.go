package trajectory

import (
	"time"

	"github.com/sells-group/habitat-cli/internal/grid"
	"github.com/sells-group/habitat-cli/internal/sample"
)

// DwellRaster sums dwell seconds per cell across every visit, so disjoint
// returns to the same cell accumulate.
func DwellRaster(visits []VisitRecord, g grid.Grid) *grid.Raster {
	r := grid.NewRaster(g, 0)
	for _, v := range visits {
		if !g.Contains(v.Cell) {
			continue
		}
		r.Data[g.Index(v.Cell)] += v.Dwell.Seconds()
	}
	return r
}

// VisitCountRaster counts distinct visits per cell.
func VisitCountRaster(visits []VisitRecord, g grid.Grid) *grid.Raster {
	r := grid.NewRaster(g, 0)
	for _, v := range visits {
		if !g.Contains(v.Cell) {
			continue
		}
		r.Data[g.Index(v.Cell)]++
	}
	return r
}

// PresenceSamples emits one presence sample per cell whose summed dwell is
// at least minDwell, ordered by the cell's first visit.
func PresenceSamples(visits []VisitRecord, minDwell time.Duration) []sample.Sample {
	total := make(map[grid.CellID]time.Duration)
	var order []grid.CellID
	first := make(map[grid.CellID]grid.Point)
	for _, v := range visits {
		if _, seen := total[v.Cell]; !seen {
			order = append(order, v.Cell)
			first[v.Cell] = v.Point
		}
		total[v.Cell] += v.Dwell
	}

	var out []sample.Sample
	for _, c := range order {
		if total[c] < minDwell {
			continue
		}
		out = append(out, sample.Sample{
			Cell:   c,
			Point:  first[c],
			Class:  sample.Presence,
			Region: sample.NoRegion,
			Dwell:  total[c],
		})
	}
	return out
}
