package main

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/barrier-explorer/internal/barrier"
	"github.com/sells-group/barrier-explorer/internal/facet"
	"github.com/sells-group/barrier-explorer/internal/session"
	"github.com/sells-group/barrier-explorer/internal/store"
	"github.com/sells-group/barrier-explorer/internal/tier"
)

// initStore opens the configured store. The root command has already
// validated cfg for the running command's mode.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	return st, nil
}

func newCodec() (*tier.Codec, error) {
	codec, err := tier.NewCodec(cfg.Tiers.PackFields())
	if err != nil {
		return nil, eris.Wrap(err, "tier codec")
	}
	return codec, nil
}

func newBuilder(src session.Source, codec *tier.Codec, observer func(string, time.Duration)) *session.Builder {
	engineOpts := []facet.Option{facet.WithIncrementalThreshold(cfg.Engine.IncrementalThreshold)}
	if observer != nil {
		engineOpts = append(engineOpts, facet.WithObserver(observer))
	}
	return session.NewBuilder(src, codec,
		session.WithDimensionDir(cfg.Facets.Dir),
		session.WithIngestWorkers(cfg.Engine.IngestWorkers),
		session.WithEngineOptions(engineOpts...),
	)
}

// parseUnits parses Layer=id1,id2 flag values.
func parseUnits(values []string) ([]barrier.UnitSelection, error) {
	units := make([]barrier.UnitSelection, 0, len(values))
	for _, v := range values {
		name, ids, ok := strings.Cut(v, "=")
		if !ok || ids == "" {
			return nil, eris.Errorf("unit %q: expected Layer=id[,id...]", v)
		}
		layer, err := barrier.ParseLayer(name)
		if err != nil {
			return nil, err
		}
		units = append(units, barrier.UnitSelection{Layer: layer, IDs: splitList(ids)})
	}
	return units, nil
}

// parseFilters parses field=v1,v2 flag values. Repeating a field appends
// to its selection.
func parseFilters(values []string) (facet.FilterState, error) {
	filters := make(facet.FilterState, len(values))
	for _, v := range values {
		field, list, ok := strings.Cut(v, "=")
		if !ok || field == "" {
			return nil, eris.Errorf("filter %q: expected field=value[,value...]", v)
		}
		filters[field] = append(filters[field], splitList(list)...)
	}
	return filters, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
