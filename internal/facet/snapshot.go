package facet

import (
	"maps"
	"slices"
)

// FilterState maps a dimension field to its selected values. Absent or
// empty entries are unrestricted.
type FilterState map[string][]string

// Active reports whether field has a non-empty selection.
func (f FilterState) Active(field string) bool {
	return len(f[field]) > 0
}

// Clone returns a deep copy.
func (f FilterState) Clone() FilterState {
	out := make(FilterState, len(f))
	for k, v := range f {
		out[k] = slices.Clone(v)
	}
	return out
}

// Snapshot is an immutable view of the engine's aggregates after one
// mutation. Consumers may hold a snapshot indefinitely; later mutations
// publish new snapshots and never modify old ones.
type Snapshot struct {
	Generation      uint64                    `json:"generation"`
	ValueField      string                    `json:"valueField"`
	Total           int                       `json:"total"`
	FilteredTotal   int                       `json:"filteredTotal"`
	Filters         FilterState               `json:"filters"`
	DimensionTotals map[string]map[string]int `json:"dimensionTotals"`
}

// HasFilters reports whether any dimension is restricted.
func (s *Snapshot) HasFilters() bool {
	for _, v := range s.Filters {
		if len(v) > 0 {
			return true
		}
	}
	return false
}

// Totals returns a copy of the per-value counts for field, or nil if
// unknown. The snapshot's own maps are shared between readers and must not
// be written.
func (s *Snapshot) Totals(field string) map[string]int {
	return maps.Clone(s.DimensionTotals[field])
}
