package trajectory

import (
	"encoding/csv"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jonas-p/go-shp"
	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/habitat-cli/internal/grid"
)

// fixRow is the CSV layout for trajectory files: x, y and a timestamp.
type fixRow struct {
	X    float64 `csv:"x"`
	Y    float64 `csv:"y"`
	Time string  `csv:"time"`
}

// timeLayouts are tried in order before falling back to unix seconds.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// ParseTime accepts RFC3339, "YYYY-MM-DD HH:MM:SS" (UTC) or unix seconds.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, eris.Errorf("trajectory: unrecognised timestamp %q", s)
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC(), nil
}

// LoadOptions controls how fixes are read.
type LoadOptions struct {
	// SortFixes orders fixes by time instead of rejecting reversed input.
	SortFixes bool
}

// ReadCSV decodes a trajectory with columns x, y, time.
func ReadCSV(r io.Reader, id string, opts LoadOptions) (Trajectory, error) {
	dec, err := csvutil.NewDecoder(csv.NewReader(r))
	if err != nil {
		return Trajectory{}, eris.Wrap(err, "trajectory: read csv header")
	}

	tr := Trajectory{ID: id}
	for {
		var row fixRow
		if err := dec.Decode(&row); err == io.EOF {
			break
		} else if err != nil {
			return Trajectory{}, eris.Wrapf(err, "trajectory: decode row %d", len(tr.Fixes)+1)
		}
		ts, err := ParseTime(row.Time)
		if err != nil {
			return Trajectory{}, eris.Wrapf(err, "trajectory: row %d", len(tr.Fixes)+1)
		}
		tr.Fixes = append(tr.Fixes, Fix{Point: grid.Point{X: row.X, Y: row.Y}, Time: ts})
	}
	return finish(tr, opts)
}

// LoadCSV opens path and decodes it with ReadCSV.
func LoadCSV(path, id string, opts LoadOptions) (Trajectory, error) {
	f, err := os.Open(path)
	if err != nil {
		return Trajectory{}, eris.Wrapf(err, "trajectory: open %s", path)
	}
	defer f.Close() //nolint:errcheck
	return ReadCSV(f, id, opts)
}

// LoadShapefile reads a POINT shapefile whose timeField attribute holds the
// fix timestamp. Non-point shapes are skipped.
func LoadShapefile(path, id, timeField string, opts LoadOptions) (Trajectory, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return Trajectory{}, eris.Wrapf(err, "trajectory: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	timeIdx := -1
	for i, f := range reader.Fields() {
		name := strings.TrimRight(f.String(), "\x00")
		if strings.EqualFold(name, timeField) {
			timeIdx = i
			break
		}
	}
	if timeIdx < 0 {
		return Trajectory{}, eris.Errorf("trajectory: shapefile %s has no %q field", path, timeField)
	}

	tr := Trajectory{ID: id}
	var skipped int
	for reader.Next() {
		n, shape := reader.Shape()
		pt, ok := shape.(*shp.Point)
		if !ok {
			skipped++
			continue
		}
		raw := strings.TrimSpace(strings.TrimRight(reader.Attribute(timeIdx), "\x00"))
		ts, err := ParseTime(raw)
		if err != nil {
			return Trajectory{}, eris.Wrapf(err, "trajectory: record %d", n)
		}
		tr.Fixes = append(tr.Fixes, Fix{Point: grid.Point{X: pt.X, Y: pt.Y}, Time: ts})
	}

	if skipped > 0 {
		zap.L().Debug("trajectory: skipped non-point shapes",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	return finish(tr, opts)
}

func finish(tr Trajectory, opts LoadOptions) (Trajectory, error) {
	if opts.SortFixes {
		sort.SliceStable(tr.Fixes, func(i, j int) bool {
			return tr.Fixes[i].Time.Before(tr.Fixes[j].Time)
		})
	}
	if err := Validate(tr); err != nil {
		return Trajectory{}, err
	}
	return tr, nil
}
