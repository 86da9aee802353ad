package trajectory

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/habitat-cli/internal/grid"
	"github.com/sells-group/habitat-cli/internal/sample"
	"github.com/sells-group/habitat-cli/internal/shapefile"
)

var t0 = time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC)

// testGrid is 10x10 cells of 30m with the upper-left corner at (0, 300).
func testGrid() *grid.Grid {
	return &grid.Grid{OriginX: 0, OriginY: 300, CellWidth: 30, CellHeight: 30, Rows: 10, Cols: 10}
}

// center returns the center of cell (row, col) in testGrid.
func center(row, col int) grid.Point {
	return testGrid().CoordinateOf(grid.CellID{Row: row, Col: col})
}

func fixesAt(points []grid.Point, step time.Duration) []Fix {
	out := make([]Fix, len(points))
	for i, p := range points {
		out[i] = Fix{Point: p, Time: t0.Add(time.Duration(i) * step)}
	}
	return out
}

// ---------------------------------------------------------------------------
// Reduce
// ---------------------------------------------------------------------------

func TestReduce_AllSameCell(t *testing.T) {
	for _, n := range []int{1, 2, 7, 50} {
		pts := make([]grid.Point, n)
		for i := range pts {
			// Jitter inside cell (2, 3).
			pts[i] = grid.Point{X: 95 + float64(i%5), Y: 225 - float64(i%3)}
		}
		tr := Trajectory{ID: "same", Fixes: fixesAt(pts, 7*time.Minute)}

		visits, err := Reduce(tr, testGrid(), Options{})
		require.NoError(t, err)
		require.Len(t, visits, 1)
		assert.Equal(t, grid.CellID{Row: 2, Col: 3}, visits[0].Cell)
		assert.Equal(t, tr.Fixes[n-1].Time.Sub(tr.Fixes[0].Time), visits[0].Dwell)
		assert.Equal(t, n, visits[0].Fixes)
	}
}

func TestReduce_SingleFixZeroDwell(t *testing.T) {
	tr := Trajectory{ID: "one", Fixes: fixesAt([]grid.Point{center(0, 0)}, time.Minute)}
	visits, err := Reduce(tr, testGrid(), Options{})
	require.NoError(t, err)
	require.Len(t, visits, 1)
	assert.Zero(t, visits[0].Dwell)
}

func TestReduce_RunsOfFiveThreeTwo(t *testing.T) {
	var pts []grid.Point
	for i := 0; i < 5; i++ {
		pts = append(pts, center(1, 1))
	}
	for i := 0; i < 3; i++ {
		pts = append(pts, center(1, 2))
	}
	for i := 0; i < 2; i++ {
		pts = append(pts, center(4, 4))
	}
	tr := Trajectory{ID: "runs", Fixes: fixesAt(pts, 10*time.Minute)}

	visits, err := Reduce(tr, testGrid(), Options{})
	require.NoError(t, err)
	require.Len(t, visits, 3)

	assert.Equal(t, 40*time.Minute, visits[0].Dwell)
	assert.Equal(t, 20*time.Minute, visits[1].Dwell)
	assert.Equal(t, 10*time.Minute, visits[2].Dwell)
	assert.Equal(t, []int{5, 3, 2}, []int{visits[0].Fixes, visits[1].Fixes, visits[2].Fixes})
	assert.Equal(t, tr.Fixes[5].Time, visits[1].Entry)
	assert.Equal(t, tr.Fixes[7].Time, visits[1].Exit)
}

func TestReduce_VisitRecords(t *testing.T) {
	tr := Trajectory{ID: "records", Fixes: fixesAt([]grid.Point{
		{X: 31, Y: 299}, {X: 59, Y: 271}, {X: 61, Y: 299},
	}, 5*time.Minute)}

	visits, err := Reduce(tr, testGrid(), Options{})
	require.NoError(t, err)

	want := []VisitRecord{
		{
			Cell:  grid.CellID{Row: 0, Col: 1},
			Entry: t0,
			Exit:  t0.Add(5 * time.Minute),
			Dwell: 5 * time.Minute,
			Point: center(0, 1),
			Fixes: 2,
		},
		{
			Cell:  grid.CellID{Row: 0, Col: 2},
			Entry: t0.Add(10 * time.Minute),
			Exit:  t0.Add(10 * time.Minute),
			Point: center(0, 2),
			Fixes: 1,
		},
	}
	if diff := cmp.Diff(want, visits); diff != "" {
		t.Errorf("Reduce() mismatch (-want +got):\n%s", diff)
	}
}

func TestReduce_TimeGapDoesNotSplitRun(t *testing.T) {
	tr := Trajectory{ID: "gap", Fixes: []Fix{
		{Point: center(3, 3), Time: t0},
		{Point: center(3, 3), Time: t0.Add(6 * time.Hour)},
	}}
	visits, err := Reduce(tr, testGrid(), Options{})
	require.NoError(t, err)
	require.Len(t, visits, 1)
	assert.Equal(t, 6*time.Hour, visits[0].Dwell)
}

func TestReduce_NonMonotonic(t *testing.T) {
	tr := Trajectory{ID: "bad", Fixes: []Fix{
		{Point: center(0, 0), Time: t0.Add(time.Hour)},
		{Point: center(0, 0), Time: t0},
	}}
	_, err := Reduce(tr, testGrid(), Options{})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrInvalidTrajectory))
}

func TestReduce_EqualTimestampsAllowed(t *testing.T) {
	tr := Trajectory{ID: "eq", Fixes: []Fix{
		{Point: center(0, 0), Time: t0},
		{Point: center(0, 1), Time: t0},
	}}
	visits, err := Reduce(tr, testGrid(), Options{})
	require.NoError(t, err)
	assert.Len(t, visits, 2)
}

func TestReduce_Empty(t *testing.T) {
	_, err := Reduce(Trajectory{ID: "empty"}, testGrid(), Options{})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrInvalidTrajectory))
}

func TestReduce_OutsideGrid(t *testing.T) {
	outside := grid.Point{X: -50, Y: 100}
	tr := Trajectory{ID: "out", Fixes: fixesAt([]grid.Point{
		center(2, 2), center(2, 2), outside, center(2, 2),
	}, time.Minute)}

	visits, err := Reduce(tr, testGrid(), Options{})
	require.NoError(t, err)
	require.Len(t, visits, 2, "leaving the grid closes the run")
	assert.Equal(t, time.Minute, visits[0].Dwell)
	assert.Zero(t, visits[1].Dwell)

	_, err = Reduce(tr, testGrid(), Options{Strict: true})
	require.Error(t, err)
	assert.True(t, eris.Is(err, grid.ErrOutOfBounds))
}

// ---------------------------------------------------------------------------
// Dwell rasters and presence selection
// ---------------------------------------------------------------------------

func TestDwellRaster_SumsDisjointVisits(t *testing.T) {
	tr := Trajectory{ID: "revisit", Fixes: fixesAt([]grid.Point{
		center(5, 5), center(5, 5), center(5, 5), // 20 min
		center(6, 6), center(6, 6), // 10 min
		center(5, 5), center(5, 5), // 10 min
	}, 10*time.Minute)}

	visits, err := Reduce(tr, testGrid(), Options{})
	require.NoError(t, err)
	require.Len(t, visits, 3)

	g := *testGrid()
	dwell := DwellRaster(visits, g)
	assert.Equal(t, (30 * time.Minute).Seconds(), dwell.At(grid.CellID{Row: 5, Col: 5}))
	assert.Equal(t, (10 * time.Minute).Seconds(), dwell.At(grid.CellID{Row: 6, Col: 6}))
	assert.Zero(t, dwell.At(grid.CellID{Row: 0, Col: 0}))

	counts := VisitCountRaster(visits, g)
	assert.Equal(t, 2.0, counts.At(grid.CellID{Row: 5, Col: 5}))
	assert.Equal(t, 1.0, counts.At(grid.CellID{Row: 6, Col: 6}))
}

func TestPresenceSamples_FiltersByTotalDwell(t *testing.T) {
	visits := []VisitRecord{
		{Cell: grid.CellID{Row: 1, Col: 1}, Dwell: 20 * time.Minute, Point: center(1, 1)},
		{Cell: grid.CellID{Row: 2, Col: 2}, Dwell: 5 * time.Minute, Point: center(2, 2)},
		{Cell: grid.CellID{Row: 1, Col: 1}, Dwell: 15 * time.Minute, Point: center(1, 1)},
		{Cell: grid.CellID{Row: 3, Col: 3}, Dwell: 30 * time.Minute, Point: center(3, 3)},
	}

	got := PresenceSamples(visits, 30*time.Minute)
	require.Len(t, got, 2)
	assert.Equal(t, grid.CellID{Row: 1, Col: 1}, got[0].Cell)
	assert.Equal(t, 35*time.Minute, got[0].Dwell)
	assert.Equal(t, grid.CellID{Row: 3, Col: 3}, got[1].Cell)
	for _, s := range got {
		assert.Equal(t, sample.Presence, s.Class)
		assert.Equal(t, sample.NoRegion, s.Region)
	}
}

// ---------------------------------------------------------------------------
// Loaders
// ---------------------------------------------------------------------------

func TestParseTime(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-05-01T06:00:00Z", t0},
		{"2024-05-01T08:00:00+02:00", t0},
		{"2024-05-01 06:00:00", t0},
		{"1714543200", t0},
		{"1714543200.5", t0.Add(500 * time.Millisecond)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTime(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}

	_, err := ParseTime("yesterday")
	assert.Error(t, err)
}

func TestReadCSV(t *testing.T) {
	src := "x,y,time\n15,285,2024-05-01T06:00:00Z\n16,284,2024-05-01T06:10:00Z\n"
	tr, err := ReadCSV(strings.NewReader(src), "ind-1", LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "ind-1", tr.ID)
	require.Len(t, tr.Fixes, 2)
	assert.Equal(t, grid.Point{X: 16, Y: 284}, tr.Fixes[1].Point)
}

func TestReadCSV_SortFixes(t *testing.T) {
	src := "x,y,time\n1,1,2024-05-01T06:10:00Z\n2,2,2024-05-01T06:00:00Z\n"

	_, err := ReadCSV(strings.NewReader(src), "ind", LoadOptions{})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrInvalidTrajectory))

	tr, err := ReadCSV(strings.NewReader(src), "ind", LoadOptions{SortFixes: true})
	require.NoError(t, err)
	assert.Equal(t, 2.0, tr.Fixes[0].Point.X)
}

func TestLoadShapefile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixes.shp")
	w, err := shp.Create(path, shp.POINT)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{shp.StringField("TIME", 32)}))
	for i, ts := range []string{"2024-05-01T06:00:00Z", "2024-05-01T06:30:00Z"} {
		n := w.Write(&shp.Point{X: 15 + float64(i), Y: 285})
		require.NoError(t, w.WriteAttribute(int(n), 0, ts))
	}
	require.NoError(t, shapefile.Close(w, path))

	tr, err := LoadShapefile(path, "shp", "time", LoadOptions{})
	require.NoError(t, err)
	require.Len(t, tr.Fixes, 2)
	assert.Equal(t, 30*time.Minute, tr.Fixes[1].Time.Sub(tr.Fixes[0].Time))

	_, err = LoadShapefile(path, "shp", "stamp", LoadOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no \"stamp\" field")
}

func TestLoadCSV_MissingFile(t *testing.T) {
	_, err := LoadCSV(filepath.Join(os.TempDir(), "does-not-exist.csv"), "x", LoadOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trajectory: open")
}
