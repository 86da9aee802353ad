// Package grid maps geographic coordinates onto raster cells and holds the
// in-memory raster types shared by every pipeline stage.
package grid

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// Sentinel errors for grid lookups.
var (
	ErrOutOfBounds  = eris.New("grid: coordinate out of bounds")
	ErrGridMismatch = eris.New("grid: rasters do not share a grid")
)

// geometry comparisons tolerate float noise from file headers.
const epsilon = 1e-9

// Point is a geographic coordinate in the grid's reference system.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// CellID addresses one raster cell. Row 0 is the northern edge.
type CellID struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Grid is a north-up raster definition. OriginX/OriginY is the upper-left
// corner of cell (0, 0). The extent is half-open on the east and south edges.
type Grid struct {
	OriginX    float64 `json:"origin_x"`
	OriginY    float64 `json:"origin_y"`
	CellWidth  float64 `json:"cell_width"`
	CellHeight float64 `json:"cell_height"`
	Rows       int     `json:"rows"`
	Cols       int     `json:"cols"`
	CRS        string  `json:"crs,omitempty"`
}

// Validate checks that the grid has a usable shape.
func (g *Grid) Validate() error {
	if g.Rows <= 0 || g.Cols <= 0 {
		return eris.Errorf("grid: invalid shape %dx%d", g.Rows, g.Cols)
	}
	if g.CellWidth <= 0 || g.CellHeight <= 0 {
		return eris.Errorf("grid: invalid resolution %gx%g", g.CellWidth, g.CellHeight)
	}
	return nil
}

// Len returns the number of cells.
func (g *Grid) Len() int { return g.Rows * g.Cols }

// MaxX returns the eastern (exclusive) edge.
func (g *Grid) MaxX() float64 { return g.OriginX + float64(g.Cols)*g.CellWidth }

// MinY returns the southern (exclusive) edge.
func (g *Grid) MinY() float64 { return g.OriginY - float64(g.Rows)*g.CellHeight }

// Contains reports whether c addresses a cell of the grid.
func (g *Grid) Contains(c CellID) bool {
	return c.Row >= 0 && c.Row < g.Rows && c.Col >= 0 && c.Col < g.Cols
}

// CellOf maps a coordinate to its cell using floor division.
func (g *Grid) CellOf(p Point) (CellID, error) {
	if math.IsNaN(p.X) || math.IsNaN(p.Y) {
		return CellID{}, eris.Wrap(ErrOutOfBounds, "grid: NaN coordinate")
	}
	col := int(math.Floor((p.X - g.OriginX) / g.CellWidth))
	row := int(math.Floor((g.OriginY - p.Y) / g.CellHeight))
	c := CellID{Row: row, Col: col}
	if !g.Contains(c) {
		return CellID{}, eris.Wrapf(ErrOutOfBounds, "grid: point (%g, %g)", p.X, p.Y)
	}
	return c, nil
}

// CoordinateOf returns the center of cell c.
func (g *Grid) CoordinateOf(c CellID) Point {
	return Point{
		X: g.OriginX + (float64(c.Col)+0.5)*g.CellWidth,
		Y: g.OriginY - (float64(c.Row)+0.5)*g.CellHeight,
	}
}

// Index returns the row-major offset of c.
func (g *Grid) Index(c CellID) int { return c.Row*g.Cols + c.Col }

// CellAt is the inverse of Index.
func (g *Grid) CellAt(i int) CellID { return CellID{Row: i / g.Cols, Col: i % g.Cols} }

// Distance is the Euclidean distance between two cell centers in
// geographic units, so non-square pixels are measured correctly.
func (g *Grid) Distance(a, b CellID) float64 {
	return PointDistance(g.CoordinateOf(a), g.CoordinateOf(b))
}

// PointDistance is the planar Euclidean distance between two points.
func PointDistance(p, q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Bounds returns the grid extent as a go-geom bounding box.
func (g *Grid) Bounds() *geom.Bounds {
	return geom.NewBounds(geom.XY).Set(g.OriginX, g.MinY(), g.MaxX(), g.OriginY)
}

// SameAs reports whether two grids describe the same cells.
func (g *Grid) SameAs(o *Grid) bool {
	if g == nil || o == nil {
		return false
	}
	return g.Rows == o.Rows && g.Cols == o.Cols &&
		math.Abs(g.OriginX-o.OriginX) <= epsilon*math.Max(1, math.Abs(g.OriginX)) &&
		math.Abs(g.OriginY-o.OriginY) <= epsilon*math.Max(1, math.Abs(g.OriginY)) &&
		math.Abs(g.CellWidth-o.CellWidth) <= epsilon*g.CellWidth &&
		math.Abs(g.CellHeight-o.CellHeight) <= epsilon*g.CellHeight
}
