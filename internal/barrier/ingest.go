package barrier

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/barrier-explorer/internal/tier"
)

// Fields set by the adapter on every record.
const (
	FieldBarrierType = "barriertype"
	FieldRanked      = "ranked"
)

// defaultChunkSize is the number of records decoded per worker task.
const defaultChunkSize = 2048

// Adapter normalizes raw rows and merges decoded tiers into each record.
type Adapter struct {
	codec         *tier.Codec
	numericFields map[string]bool
	chunkSize     int
	workers       int
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithNumericFields marks fields whose string values are parsed as numbers.
func WithNumericFields(fields ...string) AdapterOption {
	return func(a *Adapter) {
		for _, f := range fields {
			a.numericFields[f] = true
		}
	}
}

// WithWorkers sets the number of concurrent decode workers.
func WithWorkers(n int) AdapterOption {
	return func(a *Adapter) {
		if n > 0 {
			a.workers = n
		}
	}
}

// WithChunkSize sets the number of records per decode task.
func WithChunkSize(n int) AdapterOption {
	return func(a *Adapter) {
		if n > 0 {
			a.chunkSize = n
		}
	}
}

// NewAdapter creates an Adapter decoding tiers with codec.
func NewAdapter(codec *tier.Codec, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		codec:         codec,
		numericFields: make(map[string]bool),
		chunkSize:     defaultChunkSize,
		workers:       4,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// IngestStats summarizes one ingestion run.
type IngestStats struct {
	Records   int `json:"records"`
	Ranked    int `json:"ranked"`
	Malformed int `json:"malformed"`
}

// Ingest converts raw rows into records. Malformed packed tiers degrade to
// NotRanked and are counted, never fatal. Only context cancellation fails.
func (a *Adapter) Ingest(ctx context.Context, raws []RawRecord) ([]Record, IngestStats, error) {
	records := make([]Record, len(raws))
	malformed := make([]int, (len(raws)+a.chunkSize-1)/a.chunkSize)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for chunk := range malformed {
		start := chunk * a.chunkSize
		end := min(start+a.chunkSize, len(raws))
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				var bad int
				records[i], bad = a.Normalize(raws[i])
				malformed[chunk] += bad
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, IngestStats{}, eris.Wrap(err, "barrier: ingest")
	}

	stats := IngestStats{Records: len(records)}
	for _, n := range malformed {
		stats.Malformed += n
	}
	for i := range records {
		if records[i].Fields[FieldRanked] == "true" {
			stats.Ranked++
		}
	}
	if stats.Malformed > 0 {
		zap.L().Warn("barrier: malformed packed tiers decoded as not ranked",
			zap.Int("malformed", stats.Malformed),
			zap.Int("records", stats.Records),
		)
	}
	return records, stats, nil
}

// Normalize converts one raw row. It returns the number of malformed packed
// tier values found on the row.
func (a *Adapter) Normalize(raw RawRecord) (Record, int) {
	rec := Record{
		ID:      strings.TrimSpace(raw.ID),
		Type:    raw.Type,
		Lat:     raw.Lat,
		Lon:     raw.Lon,
		Fields:  make(map[string]string, len(raw.Fields)+2),
		Metrics: make(map[string]float64),
	}

	for name, v := range raw.Fields {
		a.normalizeField(&rec, name, v)
	}

	scores, malformed := a.codec.DecodeAll(raw.Packed)
	rec.Tiers = scores

	ranked := false
	for _, f := range a.codec.Fields() {
		if scores[tier.Key(tier.Full, f.Name)].Ranked() {
			ranked = true
			break
		}
	}
	rec.Fields[FieldRanked] = strconv.FormatBool(ranked)
	if raw.Type != "" {
		rec.Fields[FieldBarrierType] = string(raw.Type)
	}
	return rec, malformed
}

func (a *Adapter) normalizeField(rec *Record, name string, v any) {
	switch val := v.(type) {
	case nil:
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return
		}
		if a.numericFields[name] {
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				rec.Metrics[name] = f
				return
			}
		}
		rec.Fields[name] = s
	case bool:
		rec.Fields[name] = strconv.FormatBool(val)
	case float64:
		rec.Metrics[name] = val
	case float32:
		rec.Metrics[name] = float64(val)
	case int:
		rec.Metrics[name] = float64(val)
	case int16:
		rec.Metrics[name] = float64(val)
	case int32:
		rec.Metrics[name] = float64(val)
	case int64:
		rec.Metrics[name] = float64(val)
	case json.Number:
		if f, err := val.Float64(); err == nil {
			rec.Metrics[name] = f
		}
	default:
		rec.Fields[name] = strings.TrimSpace(fmt.Sprint(val))
	}
}
