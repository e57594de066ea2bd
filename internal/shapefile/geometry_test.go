package shapefile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

func TestEncodePoint(t *testing.T) {
	data, err := EncodePoint(-122.68, 45.52)
	require.NoError(t, err)

	g, err := ewkb.Unmarshal(data)
	require.NoError(t, err)
	p, ok := g.(*geom.Point)
	require.True(t, ok)
	assert.Equal(t, SRID, p.SRID())
	assert.InDelta(t, -122.68, p.X(), 1e-12)
	assert.InDelta(t, 45.52, p.Y(), 1e-12)
}

func TestDecodePoint(t *testing.T) {
	data, err := EncodePoint(-80.19, 25.77)
	require.NoError(t, err)

	lon, lat, err := DecodePoint(data)
	require.NoError(t, err)
	assert.InDelta(t, -80.19, lon, 1e-12)
	assert.InDelta(t, 25.77, lat, 1e-12)
}

func TestDecodePoint_NotAPoint(t *testing.T) {
	ls := geom.NewLineStringFlat(geom.XY, []float64{0, 0, 1, 1}).SetSRID(SRID)
	data, err := ewkb.Marshal(ls, ewkb.NDR)
	require.NoError(t, err)

	_, _, err = DecodePoint(data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected point")
}

func TestDecodePoint_Garbage(t *testing.T) {
	_, _, err := DecodePoint([]byte{0x01, 0x02})
	assert.Error(t, err)
}
