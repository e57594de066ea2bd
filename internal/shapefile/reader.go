// Package shapefile imports barrier inventories from ESRI point shapefiles.
package shapefile

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sells-group/barrier-explorer/internal/barrier"
	"github.com/sells-group/barrier-explorer/internal/tier"
)

// DefaultIDField is the attribute holding the barrier id.
const DefaultIDField = "sarpid"

type options struct {
	idField string
	charset string
}

// Option configures ReadBarriers.
type Option func(*options)

// WithIDField sets the attribute that holds the barrier id.
func WithIDField(name string) Option {
	return func(o *options) {
		if name != "" {
			o.idField = strings.ToLower(name)
		}
	}
}

// WithCharset sets the DBF attribute encoding, overriding any .cpg sidecar.
// Names are WHATWG labels ("windows-1252", "latin1") or ESRI code page
// numbers ("1252", "88591").
func WithCharset(name string) Option {
	return func(o *options) { o.charset = name }
}

// PackedColumn is the attribute (and store column) holding a scenario's
// packed tiers: tiers, ptiers or mtiers.
func PackedColumn(s tier.Scenario) string {
	return s.Prefix + "tiers"
}

// ReadBarriers reads every point in the shapefile at path as a raw record
// of type t. Attribute names are lowercased. Records without an id or a
// point geometry are skipped. An unparseable packed tier value is kept as
// -1 so the codec reports it as malformed.
func ReadBarriers(path string, t barrier.Type, opts ...Option) ([]barrier.RawRecord, error) {
	o := options{idField: DefaultIDField}
	for _, opt := range opts {
		opt(&o)
	}

	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "shapefile: open %s", path)
	}
	defer func() { _ = reader.Close() }()

	charset := o.charset
	if charset == "" {
		charset = sidecarCharset(path)
	}
	dec, err := charsetDecoder(charset)
	if err != nil {
		return nil, eris.Wrapf(err, "shapefile: %s", path)
	}
	attribute := func(idx int) string {
		v := strings.TrimSpace(strings.TrimRight(reader.Attribute(idx), "\x00"))
		if dec == nil || v == "" {
			return v
		}
		out, err := dec.String(v)
		if err != nil {
			return v
		}
		return out
	}

	fields := reader.Fields()
	names := make([]string, len(fields))
	idIdx := -1
	for i, f := range fields {
		names[i] = strings.ToLower(strings.TrimRight(f.String(), "\x00"))
		if names[i] == o.idField {
			idIdx = i
		}
	}
	if idIdx < 0 {
		return nil, eris.Errorf("shapefile: %s has no %q attribute", path, o.idField)
	}

	packedCols := make(map[string]tier.Scenario, len(tier.Scenarios))
	for _, s := range tier.Scenarios {
		packedCols[PackedColumn(s)] = s
	}

	var records []barrier.RawRecord
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()
		pt, ok := shape.(*shp.Point)
		if !ok {
			skipped++
			continue
		}

		id := attribute(idIdx)
		if id == "" {
			skipped++
			continue
		}

		rec := barrier.RawRecord{
			ID:     id,
			Type:   t,
			Lon:    pt.X,
			Lat:    pt.Y,
			Fields: make(map[string]any, len(names)),
			Packed: make(tier.Packed, len(tier.Scenarios)),
		}
		for i, name := range names {
			if i == idIdx {
				continue
			}
			val := attribute(i)
			if s, ok := packedCols[name]; ok {
				rec.Packed[s] = parsePacked(val)
				continue
			}
			if val != "" {
				rec.Fields[name] = val
			}
		}
		records = append(records, rec)
	}
	if err := reader.Err(); err != nil {
		return nil, eris.Wrapf(err, "shapefile: read %s", path)
	}

	if skipped > 0 {
		zap.L().Warn("shapefile: skipped records",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	return records, nil
}

// sidecarCharset reads the code page named in the .cpg file next to path.
func sidecarCharset(path string) string {
	data, err := os.ReadFile(strings.TrimSuffix(path, filepath.Ext(path)) + ".cpg")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// charsetDecoder returns nil for UTF-8 or an empty name.
func charsetDecoder(name string) (*encoding.Decoder, error) {
	label := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", ""))
	if label == "" {
		return nil, nil
	}
	if _, err := strconv.Atoi(label); err == nil {
		if label == "65001" {
			return nil, nil
		}
		if rest, ok := strings.CutPrefix(label, "8859"); ok {
			label = "iso-8859-" + rest
		} else {
			label = "windows-" + label
		}
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, eris.Wrapf(err, "unsupported charset %q", name)
	}
	if n, _ := htmlindex.Name(enc); n == "utf-8" {
		return nil, nil
	}
	return enc.NewDecoder(), nil
}

// parsePacked returns nil for an empty value (not ranked).
func parsePacked(val string) *int64 {
	if val == "" {
		return nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		// Numeric DBF fields may carry a fraction.
		f, ferr := strconv.ParseFloat(val, 64)
		if ferr != nil || f != float64(int64(f)) {
			n = -1
		} else {
			n = int64(f)
		}
	}
	return &n
}
