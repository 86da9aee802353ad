package grid

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// NoDataValue is written for NaN cells in ESRI ASCII output.
const NoDataValue = -9999.0

// ReadASC loads an ESRI ASCII grid. The GDAL dx/dy extension for
// non-square pixels is accepted alongside cellsize.
func ReadASC(path string) (*Raster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "grid: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	r, err := DecodeASC(f)
	if err != nil {
		return nil, eris.Wrapf(err, "grid: decode %s", path)
	}
	return r, nil
}

// DecodeASC parses an ESRI ASCII grid from r.
func DecodeASC(r io.Reader) (*Raster, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 1024*1024), 64*1024*1024)
	sc.Split(bufio.ScanWords)

	header := make(map[string]float64)
	var pending string
	for sc.Scan() {
		key := strings.ToLower(sc.Text())
		if _, err := strconv.ParseFloat(key, 64); err == nil {
			pending = sc.Text()
			break
		}
		if !sc.Scan() {
			return nil, eris.Errorf("grid: header %q has no value", key)
		}
		v, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil {
			return nil, eris.Wrapf(err, "grid: header %q", key)
		}
		header[key] = v
	}

	g, noData, err := gridFromHeader(header)
	if err != nil {
		return nil, err
	}

	data := make([]float64, 0, min(g.Len(), ascPrealloc))
	parse := func(tok string) error {
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return eris.Wrapf(err, "grid: cell %d", len(data))
		}
		if hasNoData(header) && v == noData {
			v = math.NaN()
		}
		data = append(data, v)
		return nil
	}
	if pending != "" {
		if err := parse(pending); err != nil {
			return nil, err
		}
	}
	for sc.Scan() {
		if err := parse(sc.Text()); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "grid: scan")
	}
	if len(data) != g.Len() {
		return nil, eris.Errorf("grid: expected %d cells, read %d", g.Len(), len(data))
	}
	return &Raster{Grid: g, Data: data}, nil
}

func hasNoData(h map[string]float64) bool {
	_, ok := h["nodata_value"]
	return ok
}

// MaxASCCells bounds nrows*ncols accepted from an ASCII grid header.
const MaxASCCells = 1 << 28

// ascPrealloc caps the up-front allocation; larger grids grow as read.
const ascPrealloc = 1 << 20

func headerDim(h map[string]float64, key string) (int, error) {
	v, ok := h[key]
	if !ok {
		return 0, eris.Errorf("grid: missing %s", key)
	}
	if v != math.Trunc(v) || v < 1 || v > MaxASCCells {
		return 0, eris.Errorf("grid: %s must be a positive integer, got %v", key, v)
	}
	return int(v), nil
}

func gridFromHeader(h map[string]float64) (Grid, float64, error) {
	var g Grid
	var err error
	if g.Cols, err = headerDim(h, "ncols"); err != nil {
		return Grid{}, 0, err
	}
	if g.Rows, err = headerDim(h, "nrows"); err != nil {
		return Grid{}, 0, err
	}
	if g.Rows > MaxASCCells/g.Cols {
		return Grid{}, 0, eris.Errorf("grid: %d x %d cells exceeds limit of %d", g.Rows, g.Cols, MaxASCCells)
	}

	if cs, ok := h["cellsize"]; ok {
		g.CellWidth, g.CellHeight = cs, cs
	} else {
		g.CellWidth, g.CellHeight = h["dx"], h["dy"]
	}
	if err := g.Validate(); err != nil {
		return Grid{}, 0, err
	}

	switch {
	case hasKey(h, "xllcorner"):
		g.OriginX = h["xllcorner"]
	case hasKey(h, "xllcenter"):
		g.OriginX = h["xllcenter"] - g.CellWidth/2
	default:
		return Grid{}, 0, eris.New("grid: missing xllcorner/xllcenter")
	}
	var yll float64
	switch {
	case hasKey(h, "yllcorner"):
		yll = h["yllcorner"]
	case hasKey(h, "yllcenter"):
		yll = h["yllcenter"] - g.CellHeight/2
	default:
		return Grid{}, 0, eris.New("grid: missing yllcorner/yllcenter")
	}
	g.OriginY = yll + float64(g.Rows)*g.CellHeight
	return g, h["nodata_value"], nil
}

func hasKey(h map[string]float64, k string) bool {
	_, ok := h[k]
	return ok
}

// WriteASC writes r as an ESRI ASCII grid, using NoDataValue for NaN.
func WriteASC(path string, r *Raster) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "grid: create %s", path)
	}
	if err := EncodeASC(f, r); err != nil {
		f.Close() //nolint:errcheck
		return eris.Wrapf(err, "grid: encode %s", path)
	}
	return eris.Wrapf(f.Close(), "grid: close %s", path)
}

// EncodeASC serialises r to w.
func EncodeASC(w io.Writer, r *Raster) error {
	bw := bufio.NewWriter(w)
	g := r.Grid
	fmt.Fprintf(bw, "ncols %d\nnrows %d\n", g.Cols, g.Rows)
	fmt.Fprintf(bw, "xllcorner %s\nyllcorner %s\n", formatFloat(g.OriginX), formatFloat(g.MinY()))
	if g.CellWidth == g.CellHeight {
		fmt.Fprintf(bw, "cellsize %s\n", formatFloat(g.CellWidth))
	} else {
		fmt.Fprintf(bw, "dx %s\ndy %s\n", formatFloat(g.CellWidth), formatFloat(g.CellHeight))
	}
	fmt.Fprintf(bw, "NODATA_value %s\n", formatFloat(NoDataValue))

	for row := 0; row < g.Rows; row++ {
		for col := 0; col < g.Cols; col++ {
			if col > 0 {
				bw.WriteByte(' ') //nolint:errcheck
			}
			v := r.Data[row*g.Cols+col]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				v = NoDataValue
			}
			bw.WriteString(formatFloat(v)) //nolint:errcheck
		}
		bw.WriteByte('\n') //nolint:errcheck
	}
	return eris.Wrap(bw.Flush(), "grid: flush")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// LoadStack reads one ASCII grid per band and checks they are co-registered.
func LoadStack(names, paths []string) (*Stack, error) {
	if len(names) != len(paths) {
		return nil, eris.Errorf("grid: %d band names for %d paths", len(names), len(paths))
	}
	bands := make([]*Raster, 0, len(paths))
	for _, p := range paths {
		r, err := ReadASC(p)
		if err != nil {
			return nil, err
		}
		bands = append(bands, r)
	}
	return NewStack(names, bands)
}
