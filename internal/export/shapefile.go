// Package export writes run artefacts: sample layers, score tables and the
// run summary.
package export

import (
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"

	"github.com/sells-group/habitat-cli/internal/sample"
	"github.com/sells-group/habitat-cli/internal/shapefile"
)

// sampleFields is the DBF layout of a sample shapefile.
var sampleFields = []shp.Field{
	shp.StringField("CLASS", 8),
	shp.NumberField("REGION", 10),
	shp.NumberField("ROW", 10),
	shp.NumberField("COL", 10),
	shp.FloatField("DWELL_S", 18, 3),
}

// WriteSamplesShapefile writes samples as a POINT shapefile (.shp, .shx,
// .dbf) at path.
func WriteSamplesShapefile(path string, samples []sample.Sample) error {
	base := strings.TrimSuffix(path, ".shp")
	w, err := shp.Create(base+".shp", shp.POINT)
	if err != nil {
		return eris.Wrapf(err, "export: create shapefile %s", path)
	}
	if err := w.SetFields(sampleFields); err != nil {
		w.Close()
		return eris.Wrap(err, "export: set shapefile fields")
	}

	for _, s := range samples {
		row := int(w.Write(&shp.Point{X: s.Point.X, Y: s.Point.Y}))
		attrs := []any{string(s.Class), s.Region, s.Cell.Row, s.Cell.Col, s.Dwell.Seconds()}
		for field, v := range attrs {
			if err := w.WriteAttribute(row, field, v); err != nil {
				w.Close()
				return eris.Wrapf(err, "export: write attribute %d of sample %d", field, row)
			}
		}
	}
	return shapefile.Close(w, base+".shp")
}
