package export

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/habitat-cli/internal/sample"
)

// SamplesGeoJSON builds a FeatureCollection with one point feature per
// sample. Feature ids are the sample positions.
func SamplesGeoJSON(samples []sample.Sample) *geojson.FeatureCollection {
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(samples))}
	bounds := geom.NewBounds(geom.XY)
	for i, s := range samples {
		pt := geom.NewPoint(geom.XY).MustSetCoords(geom.Coord{s.Point.X, s.Point.Y})
		bounds.Extend(pt)
		props := map[string]interface{}{
			"class":  string(s.Class),
			"region": s.Region,
			"row":    s.Cell.Row,
			"col":    s.Cell.Col,
		}
		if s.Dwell > 0 {
			props["dwell_s"] = s.Dwell.Seconds()
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         fmt.Sprintf("%d", i),
			Geometry:   pt,
			Properties: props,
		})
	}
	if len(samples) > 0 {
		fc.BBox = bounds
	}
	return fc
}

// WriteSamplesGeoJSON writes SamplesGeoJSON to path.
func WriteSamplesGeoJSON(path string, samples []sample.Sample) error {
	raw, err := json.Marshal(SamplesGeoJSON(samples))
	if err != nil {
		return eris.Wrap(err, "export: marshal geojson")
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return eris.Wrapf(err, "export: write %s", path)
	}
	return nil
}
