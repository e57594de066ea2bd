package shapefile

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

// SRID is the spatial reference of barrier coordinates (WGS 84).
const SRID = 4326

// EncodePoint returns the EWKB encoding of a lon/lat point.
func EncodePoint(lon, lat float64) ([]byte, error) {
	p := geom.NewPointFlat(geom.XY, []float64{lon, lat}).SetSRID(SRID)
	data, err := ewkb.Marshal(p, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "shapefile: encode point")
	}
	return data, nil
}

// DecodePoint reads an EWKB point back into lon/lat.
func DecodePoint(data []byte) (lon, lat float64, err error) {
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return 0, 0, eris.Wrap(err, "shapefile: decode point")
	}
	p, ok := g.(*geom.Point)
	if !ok {
		return 0, 0, eris.Errorf("shapefile: expected point, got %T", g)
	}
	return p.X(), p.Y(), nil
}
