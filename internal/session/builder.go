package session

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/barrier-explorer/internal/barrier"
	"github.com/sells-group/barrier-explorer/internal/facet"
	"github.com/sells-group/barrier-explorer/internal/tier"
)

// Source lists raw barrier records for a selection of summary units.
type Source interface {
	ListBarriers(ctx context.Context, t barrier.Type, units []barrier.UnitSelection) ([]barrier.RawRecord, error)
}

// Builder loads records from a Source and indexes them in a facet engine.
type Builder struct {
	source     Source
	codec      *tier.Codec
	dimsDir    string
	workers    int
	engineOpts []facet.Option
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithDimensionDir sets a directory of per-type dimension overrides.
func WithDimensionDir(dir string) BuilderOption {
	return func(b *Builder) { b.dimsDir = dir }
}

// WithIngestWorkers sets the number of tier decode workers.
func WithIngestWorkers(n int) BuilderOption {
	return func(b *Builder) { b.workers = n }
}

// WithEngineOptions appends options passed to every engine.
func WithEngineOptions(opts ...facet.Option) BuilderOption {
	return func(b *Builder) { b.engineOpts = append(b.engineOpts, opts...) }
}

// NewBuilder creates a Builder reading from src and decoding tiers with codec.
func NewBuilder(src Source, codec *tier.Codec, opts ...BuilderOption) *Builder {
	b := &Builder{source: src, codec: codec}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build loads the barriers of type t inside units and returns an engine
// over them with no filters applied.
func (b *Builder) Build(ctx context.Context, t barrier.Type, units []barrier.UnitSelection) (*facet.Engine, barrier.IngestStats, error) {
	engine, _, stats, err := b.build(ctx, t, units)
	return engine, stats, err
}

func (b *Builder) build(ctx context.Context, t barrier.Type, units []barrier.UnitSelection) (*facet.Engine, []barrier.Record, barrier.IngestStats, error) {
	start := time.Now()
	var stats barrier.IngestStats

	if err := barrier.ValidateUnits(units); err != nil {
		return nil, nil, stats, err
	}
	dims, err := facet.ResolveDimensions(b.dimsDir, string(t))
	if err != nil {
		return nil, nil, stats, err
	}

	raws, err := b.source.ListBarriers(ctx, t, units)
	if err != nil {
		return nil, nil, stats, eris.Wrapf(err, "session: load %s", t)
	}

	adapter := barrier.NewAdapter(b.codec,
		barrier.WithNumericFields(facet.NumericSources(dims)...),
		barrier.WithWorkers(b.workers),
	)
	records, stats, err := adapter.Ingest(ctx, raws)
	if err != nil {
		return nil, nil, stats, err
	}
	if t == barrier.TypeCombined {
		for i := range records {
			records[i].ID = records[i].QualifiedID()
		}
	}

	opts := append([]facet.Option{facet.WithValueField(t.ValueField())}, b.engineOpts...)
	engine, err := facet.Load(records, dims, opts...)
	if err != nil {
		return nil, nil, stats, err
	}

	zap.L().Info("session: engine built",
		zap.String("type", string(t)),
		zap.Int("units", len(units)),
		zap.Int("records", stats.Records),
		zap.Int("ranked", stats.Ranked),
		zap.Int("malformed", stats.Malformed),
		zap.Duration("elapsed", time.Since(start)),
	)
	return engine, records, stats, nil
}

// Manager creates sessions with a Builder and keeps them in a Cache.
type Manager struct {
	builder *Builder
	cache   *Cache
}

// NewManager creates a Manager.
func NewManager(b *Builder, c *Cache) *Manager {
	return &Manager{builder: b, cache: c}
}

// Create builds and stores a new session.
func (m *Manager) Create(ctx context.Context, t barrier.Type, units []barrier.UnitSelection) (*Session, error) {
	engine, records, stats, err := m.builder.build(ctx, t, units)
	if err != nil {
		return nil, err
	}
	s := New(t, units, engine, stats)
	s.records = records
	m.cache.Add(s)
	return s, nil
}

// Get returns a live session.
func (m *Manager) Get(id string) (*Session, error) {
	return m.cache.Get(id)
}

// Delete ends a session.
func (m *Manager) Delete(id string) error {
	return m.cache.Delete(id)
}

// Len returns the number of cached sessions.
func (m *Manager) Len() int {
	return m.cache.Len()
}

// Stats returns cache statistics.
func (m *Manager) Stats() Stats {
	return m.cache.Stats()
}

// Sweep removes expired sessions every interval until ctx is done.
func (m *Manager) Sweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.cache.Sweep(); n > 0 {
				zap.L().Debug("session: swept expired sessions", zap.Int("removed", n))
			}
		}
	}
}
