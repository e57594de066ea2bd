package shapefile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/barrier-explorer/internal/barrier"
	"github.com/sells-group/barrier-explorer/internal/tier"
)

type testRow struct {
	x, y   float64
	id     string
	state  string
	tiers  string
	ptiers string
	height string
}

func writeTestShapefile(t *testing.T, rows []testRow) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dams.shp")

	w, err := shp.Create(path, shp.POINT)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{
		shp.StringField("SARPID", 16),
		shp.StringField("State", 4),
		shp.NumberField("tiers", 20),
		shp.NumberField("ptiers", 20),
		shp.StringField("Height", 8),
	}))
	for i, r := range rows {
		w.Write(&shp.Point{X: r.x, Y: r.y})
		require.NoError(t, w.WriteAttribute(i, 0, r.id))
		require.NoError(t, w.WriteAttribute(i, 1, r.state))
		require.NoError(t, w.WriteAttribute(i, 2, r.tiers))
		require.NoError(t, w.WriteAttribute(i, 3, r.ptiers))
		require.NoError(t, w.WriteAttribute(i, 4, r.height))
	}
	w.Close()
	return path
}

func TestReadBarriers(t *testing.T) {
	path := writeTestShapefile(t, []testRow{
		{x: -122.5, y: 45.1, id: "D1", state: "OR", tiers: "65", ptiers: "", height: "12.5"},
		{x: -120.0, y: 47.3, id: "D2", state: "WA", tiers: "", ptiers: "abc", height: ""},
		{x: -121.0, y: 46.0, id: "", state: "WA", tiers: "1"},
	})

	recs, err := ReadBarriers(path, barrier.TypeDams)
	require.NoError(t, err)
	require.Len(t, recs, 2, "record without an id is skipped")

	d1 := recs[0]
	assert.Equal(t, "D1", d1.ID)
	assert.Equal(t, barrier.TypeDams, d1.Type)
	assert.InDelta(t, -122.5, d1.Lon, 1e-9)
	assert.InDelta(t, 45.1, d1.Lat, 1e-9)
	assert.Equal(t, "OR", d1.Fields["state"])
	assert.Equal(t, "12.5", d1.Fields["height"])
	require.NotNil(t, d1.Packed[tier.Full])
	assert.Equal(t, int64(65), *d1.Packed[tier.Full])
	assert.Nil(t, d1.Packed[tier.Perennial])
	assert.NotContains(t, d1.Fields, "tiers")

	d2 := recs[1]
	assert.NotContains(t, d2.Fields, "height", "empty attributes are dropped")
	assert.Nil(t, d2.Packed[tier.Full])
	require.NotNil(t, d2.Packed[tier.Perennial])
	assert.Equal(t, int64(-1), *d2.Packed[tier.Perennial])
}

func TestReadBarriers_CustomIDField(t *testing.T) {
	path := writeTestShapefile(t, []testRow{{id: "D1", state: "OR"}})

	_, err := ReadBarriers(path, barrier.TypeDams, WithIDField("BarrierID"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no "barrierid" attribute`)

	recs, err := ReadBarriers(path, barrier.TypeDams, WithIDField("State"))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "OR", recs[0].ID)
	assert.Equal(t, "D1", recs[0].Fields["sarpid"])
}

func TestReadBarriers_MissingFile(t *testing.T) {
	_, err := ReadBarriers(filepath.Join(t.TempDir(), "nope.shp"), barrier.TypeDams)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shapefile: open")
}

func TestParsePacked(t *testing.T) {
	assert.Nil(t, parsePacked(""))
	assert.Equal(t, int64(42), *parsePacked("42"))
	assert.Equal(t, int64(42), *parsePacked("42.0"))
	assert.Equal(t, int64(-1), *parsePacked("4.5"))
	assert.Equal(t, int64(-1), *parsePacked("x"))
}

func TestPackedColumn(t *testing.T) {
	assert.Equal(t, "tiers", PackedColumn(tier.Full))
	assert.Equal(t, "ptiers", PackedColumn(tier.Perennial))
	assert.Equal(t, "mtiers", PackedColumn(tier.Mainstem))
}

func TestReadBarriers_Charset(t *testing.T) {
	path := writeTestShapefile(t, []testRow{{id: "D1", state: "Caf\xe9"}})

	recs, err := ReadBarriers(path, barrier.TypeDams, WithCharset("1252"))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Caf\u00e9", recs[0].Fields["state"])

	// The .cpg sidecar is used when no charset is given.
	cpg := path[:len(path)-len(".shp")] + ".cpg"
	require.NoError(t, os.WriteFile(cpg, []byte("ISO 88591\n"), 0o644))
	recs, err = ReadBarriers(path, barrier.TypeDams)
	require.NoError(t, err)
	assert.Equal(t, "Caf\u00e9", recs[0].Fields["state"])

	_, err = ReadBarriers(path, barrier.TypeDams, WithCharset("klingon"))
	assert.ErrorContains(t, err, "unsupported charset")
}

func TestCharsetDecoder(t *testing.T) {
	for _, name := range []string{"", "UTF-8", "utf8", "65001"} {
		dec, err := charsetDecoder(name)
		require.NoError(t, err, name)
		assert.Nil(t, dec, name)
	}
	for _, name := range []string{"1252", "88591", "latin1", "windows-1252"} {
		dec, err := charsetDecoder(name)
		require.NoError(t, err, name)
		assert.NotNil(t, dec, name)
	}
}
