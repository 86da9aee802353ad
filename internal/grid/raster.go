package grid

import (
	"math"

	"github.com/rotisserie/eris"
)

// Raster is a single band of float values over a Grid. Missing values are
// NaN in memory.
type Raster struct {
	Grid Grid
	Data []float64
}

// NewRaster allocates a raster filled with fill.
func NewRaster(g Grid, fill float64) *Raster {
	data := make([]float64, g.Len())
	if fill != 0 {
		for i := range data {
			data[i] = fill
		}
	}
	return &Raster{Grid: g, Data: data}
}

// At returns the value stored for c.
func (r *Raster) At(c CellID) float64 { return r.Data[r.Grid.Index(c)] }

// Set stores v for c.
func (r *Raster) Set(c CellID, v float64) { r.Data[r.Grid.Index(c)] = v }

// Valid reports whether c holds a finite value.
func (r *Raster) Valid(c CellID) bool {
	v := r.At(c)
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Stack is a set of co-registered predictor bands.
type Stack struct {
	Grid  Grid
	Names []string
	Bands []*Raster
}

// NewStack builds a stack, requiring every band to share the first band's grid.
func NewStack(names []string, bands []*Raster) (*Stack, error) {
	if len(bands) == 0 {
		return nil, eris.New("grid: stack needs at least one band")
	}
	if len(names) != len(bands) {
		return nil, eris.Errorf("grid: %d band names for %d bands", len(names), len(bands))
	}
	g := bands[0].Grid
	for i, b := range bands[1:] {
		if !b.Grid.SameAs(&g) {
			return nil, eris.Wrapf(ErrGridMismatch, "grid: band %q", names[i+1])
		}
	}
	return &Stack{Grid: g, Names: names, Bands: bands}, nil
}

// NumBands returns the predictor count.
func (s *Stack) NumBands() int { return len(s.Bands) }

// Valid reports whether every band holds a finite value at c.
func (s *Stack) Valid(c CellID) bool {
	for _, b := range s.Bands {
		if !b.Valid(c) {
			return false
		}
	}
	return true
}

// Features returns the predictor vector at c.
func (s *Stack) Features(c CellID) []float64 {
	idx := s.Grid.Index(c)
	out := make([]float64, len(s.Bands))
	for i, b := range s.Bands {
		out[i] = b.Data[idx]
	}
	return out
}

// ValidCells lists every cell with a complete predictor vector, row-major.
func (s *Stack) ValidCells() []CellID {
	cells := make([]CellID, 0, s.Grid.Len())
	for i := 0; i < s.Grid.Len(); i++ {
		c := s.Grid.CellAt(i)
		if s.Valid(c) {
			cells = append(cells, c)
		}
	}
	return cells
}
