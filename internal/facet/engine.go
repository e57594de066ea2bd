package facet

import (
	"maps"
	"slices"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrUnknownDimension is returned when a mutation names a field that is not
// in the engine's dimension configuration.
var ErrUnknownDimension = eris.New("facet: unknown dimension")

// Recompute strategies reported to observers.
const (
	StrategyRescan      = "rescan"
	StrategyIncremental = "incremental"
)

// Option configures an Engine.
type Option func(*Engine)

// WithValueField sets the label describing the unit being counted.
func WithValueField(label string) Option {
	return func(e *Engine) { e.valueField = label }
}

// WithIncrementalThreshold enables incremental recomputation for record sets
// of at least n records. Zero disables it.
func WithIncrementalThreshold(n int) Option {
	return func(e *Engine) { e.threshold = n }
}

// WithObserver registers a callback invoked after every recomputation.
func WithObserver(fn func(strategy string, elapsed time.Duration)) Option {
	return func(e *Engine) { e.observer = fn }
}

// selection is a non-empty inclusion set for one dimension.
type selection struct {
	codes  []bool   // by value code
	values []string // known values in code order, then unknown values sorted
}

func (s *selection) passCode(c int) bool {
	return s == nil || s.codes[c]
}

// dimIndex holds the per-dimension inverted index built at load time.
type dimIndex struct {
	dim      Dimension
	values   []string
	codes    map[string]int32
	single   []int32   // value code per record, -1 when missing
	multi    [][]int32 // value codes per record for MultiValued
	postings [][]int32 // record indexes per value code
	missing  []int32   // records without a value
}

func (x *dimIndex) passes(r int, sel *selection) bool {
	if sel == nil {
		return true
	}
	if x.multi != nil {
		for _, c := range x.multi[r] {
			if sel.codes[c] {
				return true
			}
		}
		return false
	}
	c := x.single[r]
	return c >= 0 && sel.codes[c]
}

func (x *dimIndex) add(counts []int, r int, delta int) {
	if x.multi != nil {
		for _, c := range x.multi[r] {
			counts[c] += delta
		}
		return
	}
	if c := x.single[r]; c >= 0 {
		counts[c] += delta
	}
}

// Engine maintains filtered totals and per-dimension breakdowns over a fixed
// record set. Mutations must be serialized by the owner; Snapshot may be
// called concurrently with a mutation and returns the last published view.
type Engine struct {
	dims       []*dimIndex
	byField    map[string]int
	ids        []string
	valueField string
	sels       []*selection

	counts   [][]int
	filtered int

	threshold   int
	incremental bool
	failCount   []int32
	failXor     []int32
	stamp       []uint32
	stampGen    uint32

	generation uint64
	observer   func(string, time.Duration)
	snap       atomic.Pointer[Snapshot]
}

// Load indexes records over dims and publishes the unfiltered snapshot.
// An empty record set is valid.
func Load[R Record](records []R, dims []Dimension, opts ...Option) (*Engine, error) {
	if err := ValidateDimensions(dims); err != nil {
		return nil, err
	}

	e := &Engine{
		byField: make(map[string]int, len(dims)),
		ids:     make([]string, len(records)),
		sels:    make([]*selection, len(dims)),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.incremental = e.threshold > 0 && len(records) >= e.threshold
	if e.incremental {
		e.failCount = make([]int32, len(records))
		e.failXor = make([]int32, len(records))
		e.stamp = make([]uint32, len(records))
	}

	seen := make(map[string]struct{}, len(records))
	dupes := 0
	for i, r := range records {
		e.ids[i] = r.RecordID()
		if _, ok := seen[e.ids[i]]; ok {
			dupes++
		}
		seen[e.ids[i]] = struct{}{}
	}
	if dupes > 0 {
		zap.L().Warn("facet: duplicate record ids", zap.Int("duplicates", dupes))
	}
	for d, dim := range dims {
		e.byField[dim.Field] = d
		e.dims = append(e.dims, buildIndex(dim, records))
	}

	start := time.Now()
	e.rescan()
	e.publish(start, StrategyRescan)

	zap.L().Debug("facet: engine loaded",
		zap.Int("records", len(records)),
		zap.Int("dimensions", len(dims)),
		zap.Bool("incremental", e.incremental),
	)
	return e, nil
}

func buildIndex[R Record](dim Dimension, records []R) *dimIndex {
	domain := dim.Domain()
	x := &dimIndex{
		dim:    dim,
		values: slices.Clone(domain),
		codes:  make(map[string]int32, len(domain)),
	}
	for i, v := range domain {
		x.codes[v] = int32(i)
	}
	code := func(v string) int32 {
		c, ok := x.codes[v]
		if !ok {
			c = int32(len(x.values))
			x.codes[v] = c
			x.values = append(x.values, v)
		}
		return c
	}

	if dim.kind() == MultiValued {
		x.multi = make([][]int32, len(records))
	} else {
		x.single = make([]int32, len(records))
	}
	for r, rec := range records {
		vals := dim.extract(rec)
		if x.multi != nil {
			cs := make([]int32, len(vals))
			for i, v := range vals {
				cs[i] = code(v)
			}
			x.multi[r] = cs
		} else if len(vals) == 0 {
			x.single[r] = -1
		} else {
			x.single[r] = code(vals[0])
		}
		if len(vals) == 0 {
			x.missing = append(x.missing, int32(r))
		}
	}

	x.postings = make([][]int32, len(x.values))
	for r := range records {
		if x.multi != nil {
			for _, c := range x.multi[r] {
				x.postings[c] = append(x.postings[c], int32(r))
			}
		} else if c := x.single[r]; c >= 0 {
			x.postings[c] = append(x.postings[c], int32(r))
		}
	}
	return x
}

// contribute adds delta to every breakdown a record with the given failure
// state counts toward.
func (e *Engine) contribute(counts [][]int, r int, failCount, failXor int32, delta int) {
	switch failCount {
	case 0:
		for d, x := range e.dims {
			x.add(counts[d], r, delta)
		}
	case 1:
		x := e.dims[failXor]
		x.add(counts[failXor], r, delta)
	}
}

// rescan recomputes every aggregate in one pass over the records.
func (e *Engine) rescan() {
	active := make([]int, 0, len(e.dims))
	for d, s := range e.sels {
		if s != nil {
			active = append(active, d)
		}
	}

	counts := make([][]int, len(e.dims))
	for d, x := range e.dims {
		counts[d] = make([]int, len(x.values))
	}

	filtered := 0
	for r := range e.ids {
		var fc, xor int32
		for _, d := range active {
			if e.dims[d].passes(r, e.sels[d]) {
				continue
			}
			fc++
			xor ^= int32(d)
			if fc >= 2 && !e.incremental {
				break
			}
		}
		if e.incremental {
			e.failCount[r] = fc
			e.failXor[r] = xor
		}
		if fc == 0 {
			filtered++
		}
		e.contribute(counts, r, fc, xor, 1)
	}

	e.counts = counts
	e.filtered = filtered
}

// update replaces dimension d's selection, touching only records whose
// membership on d changes. Requires failCount and failXor to be current.
func (e *Engine) update(d int, next *selection) {
	prev := e.sels[d]
	e.sels[d] = next
	x := e.dims[d]

	e.stampGen++
	if e.stampGen == 0 {
		clear(e.stamp)
		e.stampGen = 1
	}

	visit := func(r32 int32) {
		r := int(r32)
		if e.stamp[r] == e.stampGen {
			return
		}
		e.stamp[r] = e.stampGen
		before, after := x.passes(r, prev), x.passes(r, next)
		if before == after {
			return
		}
		fc, xor := e.failCount[r], e.failXor[r]
		e.contribute(e.counts, r, fc, xor, -1)
		if fc == 0 {
			e.filtered--
		}
		if after {
			fc--
		} else {
			fc++
		}
		xor ^= int32(d)
		e.failCount[r], e.failXor[r] = fc, xor
		e.contribute(e.counts, r, fc, xor, 1)
		if fc == 0 {
			e.filtered++
		}
	}

	for c := range x.values {
		if prev.passCode(c) == next.passCode(c) {
			continue
		}
		for _, r := range x.postings[c] {
			visit(r)
		}
	}
	if (prev == nil) != (next == nil) {
		for _, r := range x.missing {
			visit(r)
		}
	}
}

type change struct {
	dim int
	sel *selection
}

func (e *Engine) apply(changes []change) *Snapshot {
	start := time.Now()
	if e.incremental {
		for _, c := range changes {
			e.update(c.dim, c.sel)
		}
		return e.publish(start, StrategyIncremental)
	}
	for _, c := range changes {
		e.sels[c.dim] = c.sel
	}
	e.rescan()
	return e.publish(start, StrategyRescan)
}

// publish builds a fresh snapshot from the current aggregates.
func (e *Engine) publish(start time.Time, strategy string) *Snapshot {
	totals := make(map[string]map[string]int, len(e.dims))
	for d, x := range e.dims {
		m := make(map[string]int, len(x.values))
		if len(e.ids) > 0 {
			for c, v := range x.values {
				m[v] = e.counts[d][c]
			}
		}
		totals[x.dim.Field] = m
	}

	filters := make(FilterState)
	for d, s := range e.sels {
		if s != nil {
			filters[e.dims[d].dim.Field] = slices.Clone(s.values)
		}
	}

	snap := &Snapshot{
		Generation:      e.generation,
		ValueField:      e.valueField,
		Total:           len(e.ids),
		FilteredTotal:   e.filtered,
		Filters:         filters,
		DimensionTotals: totals,
	}
	e.generation++
	e.snap.Store(snap)

	if e.observer != nil {
		e.observer(strategy, time.Since(start))
	}
	return snap
}

func (e *Engine) newSelection(d int, values []string) *selection {
	if len(values) == 0 {
		return nil
	}
	x := e.dims[d]
	s := &selection{codes: make([]bool, len(x.values))}
	var unknown []string
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		if c, ok := x.codes[v]; ok {
			s.codes[c] = true
		} else {
			unknown = append(unknown, v)
		}
	}
	for c, on := range s.codes {
		if on {
			s.values = append(s.values, x.values[c])
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		s.values = append(s.values, unknown...)
		zap.L().Debug("facet: filter values not present in dimension",
			zap.String("field", x.dim.Field),
			zap.Strings("values", unknown),
		)
	}
	return s
}

func (e *Engine) lookup(field string) (int, error) {
	d, ok := e.byField[field]
	if !ok {
		return 0, eris.Wrapf(ErrUnknownDimension, "field %q", field)
	}
	return d, nil
}

// SetFilter replaces the inclusion set for field. An empty values list
// clears the restriction.
func (e *Engine) SetFilter(field string, values []string) (*Snapshot, error) {
	d, err := e.lookup(field)
	if err != nil {
		return nil, err
	}
	return e.apply([]change{{dim: d, sel: e.newSelection(d, values)}}), nil
}

// ResetFilters clears the inclusion sets of fields. If any field is unknown
// nothing is changed.
func (e *Engine) ResetFilters(fields ...string) (*Snapshot, error) {
	changes := make([]change, 0, len(fields))
	for _, f := range fields {
		d, err := e.lookup(f)
		if err != nil {
			return nil, err
		}
		changes = append(changes, change{dim: d})
	}
	return e.apply(changes), nil
}

// ResetAll clears every filter.
func (e *Engine) ResetAll() *Snapshot {
	changes := make([]change, len(e.dims))
	for d := range e.dims {
		changes[d] = change{dim: d}
	}
	return e.apply(changes)
}

// Snapshot returns the most recently published aggregates.
func (e *Engine) Snapshot() *Snapshot {
	return e.snap.Load()
}

// Total is the number of loaded records.
func (e *Engine) Total() int { return e.Snapshot().Total }

// FilteredTotal is the number of records passing every active filter.
func (e *Engine) FilteredTotal() int { return e.Snapshot().FilteredTotal }

// Filters returns a copy of the current selections.
func (e *Engine) Filters() FilterState { return e.Snapshot().Filters.Clone() }

// ValueField is the label for the unit being counted.
func (e *Engine) ValueField() string { return e.valueField }

// Incremental reports whether filter changes use the incremental strategy.
func (e *Engine) Incremental() bool { return e.incremental }

// DimensionTotals returns a copy of the per-value counts for field,
// ignoring field's own filter.
func (e *Engine) DimensionTotals(field string) (map[string]int, error) {
	if _, err := e.lookup(field); err != nil {
		return nil, err
	}
	return maps.Clone(e.Snapshot().DimensionTotals[field]), nil
}

// Dimensions returns the configured dimensions in order.
func (e *Engine) Dimensions() []Dimension {
	out := make([]Dimension, len(e.dims))
	for d, x := range e.dims {
		out[d] = x.dim
	}
	return out
}

// Values returns every value key known for field: declared domain values
// followed by values discovered at load.
func (e *Engine) Values(field string) ([]string, error) {
	d, err := e.lookup(field)
	if err != nil {
		return nil, err
	}
	return slices.Clone(e.dims[d].values), nil
}

// FilteredIndexes returns the load positions of records passing every
// active filter, in load order. Like the mutations, it must not run
// concurrently with them.
func (e *Engine) FilteredIndexes() []int {
	out := make([]int, 0, e.filtered)
	for r := range e.ids {
		pass := true
		for d, s := range e.sels {
			if !e.dims[d].passes(r, s) {
				pass = false
				break
			}
		}
		if pass {
			out = append(out, r)
		}
	}
	return out
}

// FilteredIDs returns the ids of records passing every active filter, in
// load order.
func (e *Engine) FilteredIDs() []string {
	idx := e.FilteredIndexes()
	ids := make([]string, len(idx))
	for i, r := range idx {
		ids[i] = e.ids[r]
	}
	return ids
}

// QueryString serializes the current filters for export requests.
func (e *Engine) QueryString() string {
	order := make([]string, len(e.dims))
	for d, x := range e.dims {
		order[d] = x.dim.Field
	}
	return EncodeQuery(e.Snapshot().Filters, order)
}

// SetFilters replaces the selections of every field in filters in one
// recomputation. Fields not in filters keep their selection.
func (e *Engine) SetFilters(filters FilterState) (*Snapshot, error) {
	fields := make([]string, 0, len(filters))
	for f := range filters {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	changes := make([]change, 0, len(fields))
	for _, f := range fields {
		d, err := e.lookup(f)
		if err != nil {
			return nil, err
		}
		changes = append(changes, change{dim: d, sel: e.newSelection(d, filters[f])})
	}
	return e.apply(changes), nil
}
