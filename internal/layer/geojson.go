package layer

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// GeoJSON encodes the collection as a GeoJSON FeatureCollection.
func (c Collection) GeoJSON() ([]byte, error) {
	fc := geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(c.Features))}
	for _, f := range c.Features {
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         f.ID,
			Geometry:   f.Geometry,
			Properties: f.Properties,
		})
	}
	data, err := json.Marshal(&fc)
	if err != nil {
		return nil, eris.Wrapf(err, "layer: encode %s collection", c.Kind)
	}
	return data, nil
}
