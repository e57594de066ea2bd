// Package barrier defines aquatic barrier records and the ingestion adapter
// that turns raw inventory rows into records the facet engine can index.
package barrier

import (
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/barrier-explorer/internal/tier"
)

// Lookup errors for request parameters.
var (
	ErrUnknownType  = eris.New("barrier: unknown barrier type")
	ErrUnknownLayer = eris.New("barrier: unknown summary unit layer")
)

// Type identifies the barrier data set a record belongs to.
type Type string

// Barrier data sets.
const (
	TypeDams          Type = "dams"
	TypeSmallBarriers Type = "small_barriers"
	TypeCombined      Type = "combined_barriers"
)

// Types lists every barrier data set.
var Types = []Type{TypeDams, TypeSmallBarriers, TypeCombined}

// ParseType validates a barrier type name.
func ParseType(s string) (Type, error) {
	for _, t := range Types {
		if string(t) == s {
			return t, nil
		}
	}
	return "", eris.Wrapf(ErrUnknownType, "%q", s)
}

// ValueField is the label for the unit being counted.
func (t Type) ValueField() string {
	switch t {
	case TypeDams:
		return "dams"
	case TypeSmallBarriers:
		return "road-related barriers"
	default:
		return "barriers"
	}
}

// Sources returns the stored data sets that make up t.
func (t Type) Sources() []Type {
	if t == TypeCombined {
		return []Type{TypeDams, TypeSmallBarriers}
	}
	return []Type{t}
}

// Layer is a summary unit layer.
type Layer string

// Summary unit layers. The record field holding the unit id has the same name.
const (
	LayerState  Layer = "State"
	LayerCounty Layer = "County"
	LayerHUC2   Layer = "HUC2"
	LayerHUC6   Layer = "HUC6"
	LayerHUC8   Layer = "HUC8"
	LayerHUC10  Layer = "HUC10"
	LayerHUC12  Layer = "HUC12"
	LayerECO3   Layer = "ECO3"
	LayerECO4   Layer = "ECO4"
)

// Layers lists every summary unit layer.
var Layers = []Layer{LayerState, LayerCounty, LayerHUC2, LayerHUC6, LayerHUC8, LayerHUC10, LayerHUC12, LayerECO3, LayerECO4}

// ParseLayer validates a layer name.
func ParseLayer(s string) (Layer, error) {
	for _, l := range Layers {
		if string(l) == s {
			return l, nil
		}
	}
	return "", eris.Wrapf(ErrUnknownLayer, "%q", s)
}

// Column returns the inventory column holding unit ids for the layer.
func (l Layer) Column() string {
	switch l {
	case LayerState:
		return "state"
	case LayerCounty:
		return "county"
	case LayerECO3:
		return "ecoregion3"
	case LayerECO4:
		return "ecoregion4"
	default:
		return "huc" + string(l[3:])
	}
}

// UnitSelection selects summary units of one layer.
type UnitSelection struct {
	Layer Layer    `json:"layer"`
	IDs   []string `json:"ids"`
}

// ValidateUnits checks that every selection names a known layer.
func ValidateUnits(units []UnitSelection) error {
	for _, u := range units {
		if _, err := ParseLayer(string(u.Layer)); err != nil {
			return err
		}
	}
	return nil
}

// RawRecord is a barrier row as delivered by a store, before tier decoding.
type RawRecord struct {
	ID     string
	Type   Type
	Lat    float64
	Lon    float64
	Fields map[string]any
	Packed tier.Packed
}

// Record is a normalized barrier with decoded tiers.
type Record struct {
	ID      string             `json:"id"`
	Type    Type               `json:"barriertype"`
	Lat     float64            `json:"lat"`
	Lon     float64            `json:"lon"`
	Fields  map[string]string  `json:"fields"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
	Tiers   tier.Scores        `json:"tiers,omitempty"`
}

// Value returns a categorical field. Ranked tiers are exposed as their
// decimal value; NotRanked tiers are reported as missing.
func (r Record) Value(field string) (string, bool) {
	if v, ok := r.Fields[field]; ok {
		return v, true
	}
	if s, ok := r.Tiers[field]; ok && s.Ranked() {
		return strconv.Itoa(int(s)), true
	}
	if v, ok := r.Metrics[field]; ok {
		return strconv.FormatFloat(v, 'f', -1, 64), true
	}
	return "", false
}

// Number returns a numeric field.
func (r Record) Number(field string) (float64, bool) {
	if v, ok := r.Metrics[field]; ok {
		return v, true
	}
	if s, ok := r.Tiers[field]; ok && s.Ranked() {
		return float64(s), true
	}
	if v, ok := r.Fields[field]; ok {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f, true
		}
	}
	return 0, false
}

// RecordID returns the barrier id.
func (r Record) RecordID() string { return r.ID }

// QualifiedID prefixes the id with the record's data set. Dams and small
// barriers are numbered independently, so combined loads use it.
func (r Record) QualifiedID() string { return string(r.Type) + ":" + r.ID }
