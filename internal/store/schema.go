package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/barrier-explorer/internal/barrier"
	"github.com/sells-group/barrier-explorer/internal/shapefile"
	"github.com/sells-group/barrier-explorer/internal/tier"
)

// storedTypes are the barrier types with their own table. Combined
// barriers are read from both.
var storedTypes = []barrier.Type{barrier.TypeDams, barrier.TypeSmallBarriers}

func isStored(t barrier.Type) bool {
	for _, st := range storedTypes {
		if st == t {
			return true
		}
	}
	return false
}

// unitColumns holds one column per summary unit layer, in layer order.
var unitColumns = func() []string {
	cols := make([]string, len(barrier.Layers))
	for i, l := range barrier.Layers {
		cols[i] = l.Column()
	}
	return cols
}()

var packedColumns = func() []string {
	cols := make([]string, len(tier.Scenarios))
	for i, s := range tier.Scenarios {
		cols[i] = shapefile.PackedColumn(s)
	}
	return cols
}()

// reservedColumns are stored in their own columns rather than properties.
var reservedColumns = func() map[string]bool {
	m := map[string]bool{"id": true, "lat": true, "lon": true}
	for _, c := range unitColumns {
		m[c] = true
	}
	for _, c := range packedColumns {
		m[c] = true
	}
	return m
}()

// barrierColumns lists the writable columns shared by both backends.
func barrierColumns() []string {
	cols := []string{"id", "lat", "lon"}
	cols = append(cols, unitColumns...)
	cols = append(cols, packedColumns...)
	return append(cols, "properties")
}

// selectList returns the read column list. Unit columns are coalesced so
// they scan into plain strings.
func selectList() string {
	parts := []string{"id", "lat", "lon"}
	for _, c := range unitColumns {
		parts = append(parts, fmt.Sprintf("COALESCE(%s, '')", c))
	}
	parts = append(parts, packedColumns...)
	parts = append(parts, "properties")
	return strings.Join(parts, ", ")
}

// unitFilter builds the OR of unit membership predicates. in renders the
// predicate for one column and its ids. Selections without ids are ignored.
func unitFilter(units []barrier.UnitSelection, in func(col string, ids []string) string) string {
	var preds []string
	for _, u := range units {
		ids := dedupe(u.IDs)
		if len(ids) == 0 {
			continue
		}
		preds = append(preds, in(u.Layer.Column(), ids))
	}
	if len(preds) == 0 {
		return ""
	}
	return " WHERE (" + strings.Join(preds, " OR ") + ")"
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanBarrier reads one row produced by selectList.
func scanBarrier(row rowScanner, t barrier.Type) (barrier.RawRecord, error) {
	rec := barrier.RawRecord{Type: t}
	units := make([]string, len(unitColumns))
	packed := make([]*int64, len(packedColumns))
	var props []byte

	dest := []any{&rec.ID, &rec.Lat, &rec.Lon}
	for i := range units {
		dest = append(dest, &units[i])
	}
	for i := range packed {
		dest = append(dest, &packed[i])
	}
	dest = append(dest, &props)
	if err := row.Scan(dest...); err != nil {
		return rec, eris.Wrap(err, "store: scan barrier")
	}

	rec.Fields = make(map[string]any)
	if len(props) > 0 {
		dec := json.NewDecoder(strings.NewReader(string(props)))
		dec.UseNumber()
		if err := dec.Decode(&rec.Fields); err != nil {
			return rec, eris.Wrapf(err, "store: decode properties of %s", rec.ID)
		}
	}
	for i, col := range unitColumns {
		if units[i] != "" {
			rec.Fields[col] = units[i]
		}
	}
	rec.Packed = make(tier.Packed, len(tier.Scenarios))
	for i, s := range tier.Scenarios {
		rec.Packed[s] = packed[i]
	}
	return rec, nil
}

// barrierRow renders rec in barrierColumns order.
func barrierRow(rec barrier.RawRecord) ([]any, error) {
	row := []any{rec.ID, rec.Lat, rec.Lon}
	for _, col := range unitColumns {
		row = append(row, unitValue(rec.Fields[col]))
	}
	for _, s := range tier.Scenarios {
		if p := rec.Packed[s]; p != nil {
			row = append(row, *p)
		} else {
			row = append(row, nil)
		}
	}

	props := make(map[string]any, len(rec.Fields))
	for k, v := range rec.Fields {
		if !reservedColumns[k] {
			props[k] = v
		}
	}
	data, err := json.Marshal(props)
	if err != nil {
		return nil, eris.Wrapf(err, "store: encode properties of %s", rec.ID)
	}
	return append(row, data), nil
}

func unitValue(v any) any {
	switch v := v.(type) {
	case nil:
		return nil
	case string:
		if v = strings.TrimSpace(v); v == "" {
			return nil
		}
		return v
	default:
		return fmt.Sprint(v)
	}
}
