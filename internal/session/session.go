// Package session keeps exploration sessions: one facet engine per user
// selection of barrier type and summary units.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/barrier-explorer/internal/barrier"
	"github.com/sells-group/barrier-explorer/internal/facet"
)

// Session owns an engine. Mutations are serialized by the session; reads go
// through the engine's published snapshot and never block.
type Session struct {
	ID        string                  `json:"id"`
	Type      barrier.Type            `json:"barrierType"`
	Units     []barrier.UnitSelection `json:"units"`
	Stats     barrier.IngestStats     `json:"stats"`
	CreatedAt time.Time               `json:"createdAt"`

	mu      sync.Mutex
	engine  *facet.Engine
	records []barrier.Record
}

// New wraps engine in a session with a fresh id.
func New(t barrier.Type, units []barrier.UnitSelection, engine *facet.Engine, stats barrier.IngestStats) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Type:      t,
		Units:     units,
		Stats:     stats,
		CreatedAt: time.Now().UTC(),
		engine:    engine,
	}
}

// Snapshot returns the current published state.
func (s *Session) Snapshot() *facet.Snapshot {
	return s.engine.Snapshot()
}

// Dispatch applies a filter action and returns the new snapshot.
func (s *Session) Dispatch(a facet.Action) (*facet.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Dispatch(a)
}

// Restore replaces all filters with those encoded in a query fragment.
// Dimensions absent from the fragment are cleared.
func (s *Session) Restore(query string) (*facet.Snapshot, error) {
	filters, err := facet.ParseQuery(query)
	if err != nil {
		return nil, err
	}
	for _, d := range s.engine.Dimensions() {
		if _, ok := filters[d.Field]; !ok {
			filters[d.Field] = nil
		}
	}
	return s.SetFilters(filters)
}

// SetFilters replaces the selections of the fields in filters in one
// recomputation.
func (s *Session) SetFilters(filters facet.FilterState) (*facet.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.SetFilters(filters)
}

// QueryString encodes the active filters.
func (s *Session) QueryString() string {
	return s.engine.QueryString()
}

// FilteredIDs lists the barriers passing every active filter.
func (s *Session) FilteredIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.FilteredIDs()
}

// Dimensions returns the session's dimension configuration.
func (s *Session) Dimensions() []facet.Dimension {
	return s.engine.Dimensions()
}

// FilteredRecords returns the barriers passing every active filter, in
// load order.
func (s *Session) FilteredRecords() []barrier.Record {
	s.mu.Lock()
	idx := s.engine.FilteredIndexes()
	s.mu.Unlock()

	out := make([]barrier.Record, 0, len(idx))
	for _, i := range idx {
		if i < len(s.records) {
			out = append(out, s.records[i])
		}
	}
	return out
}
