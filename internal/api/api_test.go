package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/barrier-explorer/internal/barrier"
	"github.com/sells-group/barrier-explorer/internal/config"
	"github.com/sells-group/barrier-explorer/internal/export"
	"github.com/sells-group/barrier-explorer/internal/metrics"
	"github.com/sells-group/barrier-explorer/internal/session"
	"github.com/sells-group/barrier-explorer/internal/tier"
)

type fakeSource struct {
	records []barrier.RawRecord
	err     error
}

func (f *fakeSource) ListBarriers(_ context.Context, _ barrier.Type, _ []barrier.UnitSelection) ([]barrier.RawRecord, error) {
	return f.records, f.err
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type fixture struct {
	handler  http.Handler
	sessions *session.Manager
	metrics  *metrics.Metrics
	source   *fakeSource
}

func newFixture(t *testing.T, cfg config.ServerConfig, pingErr error) *fixture {
	t.Helper()
	packed, err := tier.Encode(tier.Scores{"NC": 2, "NCWC": 1}, tier.DefaultCodec().Fields())
	require.NoError(t, err)

	src := &fakeSource{records: []barrier.RawRecord{
		{ID: "D1", Type: barrier.TypeDams, Fields: map[string]any{"state": "OR", "feasibility": "1"},
			Packed: tier.Packed{tier.Full: &packed}},
		{ID: "D2", Type: barrier.TypeDams, Fields: map[string]any{"state": "OR", "feasibility": "2"}},
		{ID: "D3", Type: barrier.TypeDams, Fields: map[string]any{"state": "WA", "feasibility": "1"}},
	}}
	codec := tier.DefaultCodec()
	mgr := session.NewManager(session.NewBuilder(src, codec), session.NewCache(10, time.Hour))
	m := metrics.New()
	return &fixture{
		handler:  NewRouter(NewServer(mgr, fakePinger{err: pingErr}, codec, m), cfg),
		sessions: mgr,
		metrics:  m,
		source:   src,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) create(t *testing.T) sessionResponse {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/dams/sessions", createRequest{
		Units: []barrier.UnitSelection{{Layer: barrier.LayerState, IDs: []string{"OR", "WA"}}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var out sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestCreateSession(t *testing.T) {
	f := newFixture(t, config.ServerConfig{}, nil)
	out := f.create(t)

	assert.NotEmpty(t, out.ID)
	assert.Equal(t, barrier.TypeDams, out.Type)
	assert.Equal(t, 3, out.Stats.Records)
	assert.Equal(t, 1, out.Stats.Ranked)
	require.NotNil(t, out.Snapshot)
	assert.Equal(t, 3, out.Snapshot.Total)
	assert.Equal(t, 3, out.Snapshot.FilteredTotal)
	assert.Equal(t, 2, out.Snapshot.Totals("state")["OR"])
	assert.Equal(t, 1, f.sessions.Len())
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.IngestRecordsTotal.WithLabelValues("ranked")), 0)
}

func TestCreateSession_WithQuery(t *testing.T) {
	f := newFixture(t, config.ServerConfig{}, nil)
	rec := f.do(t, http.MethodPost, "/api/dams/sessions", createRequest{
		Units: []barrier.UnitSelection{{Layer: barrier.LayerState, IDs: []string{"OR"}}},
		Query: "state=WA",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var out sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 1, out.Snapshot.FilteredTotal)
	assert.Equal(t, []string{"WA"}, out.Snapshot.Filters["state"])
}

func TestCreateSession_Errors(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   any
		status int
	}{
		{"unknown type", "/api/culverts/sessions", createRequest{Units: []barrier.UnitSelection{{Layer: barrier.LayerState, IDs: []string{"OR"}}}}, http.StatusBadRequest},
		{"bad json", "/api/dams/sessions", "{", http.StatusBadRequest},
		{"no units", "/api/dams/sessions", createRequest{}, http.StatusBadRequest},
		{"unknown layer", "/api/dams/sessions", createRequest{Units: []barrier.UnitSelection{{Layer: "Basin", IDs: []string{"1"}}}}, http.StatusBadRequest},
		{"unknown dimension in query", "/api/dams/sessions", createRequest{
			Units: []barrier.UnitSelection{{Layer: barrier.LayerState, IDs: []string{"OR"}}},
			Query: "bogus=1",
		}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, config.ServerConfig{}, nil)
			rec := f.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Zero(t, f.sessions.Len())
		})
	}
}

func TestCreateSession_StoreFailure(t *testing.T) {
	f := newFixture(t, config.ServerConfig{}, nil)
	f.source.err = errors.New("connection refused")

	rec := f.do(t, http.MethodPost, "/api/dams/sessions", createRequest{
		Units: []barrier.UnitSelection{{Layer: barrier.LayerState, IDs: []string{"OR"}}},
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestDispatch(t *testing.T) {
	f := newFixture(t, config.ServerConfig{}, nil)
	id := f.create(t).ID

	rec := f.do(t, http.MethodPost, "/api/sessions/"+id+"/actions",
		map[string]any{"type": "SET_FILTER", "field": "feasibility", "filterValue": []string{"1"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var snap struct {
		Generation      uint64                    `json:"generation"`
		FilteredTotal   int                       `json:"filteredTotal"`
		DimensionTotals map[string]map[string]int `json:"dimensionTotals"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 2, snap.FilteredTotal)
	// The filtered dimension keeps counts for unselected values.
	assert.Equal(t, 1, snap.DimensionTotals["feasibility"]["2"])
	assert.Equal(t, 1, snap.DimensionTotals["state"]["OR"])
	assert.Equal(t, 1, snap.DimensionTotals["state"]["WA"])

	rec = f.do(t, http.MethodPost, "/api/sessions/"+id+"/actions",
		map[string]any{"type": "RESET_FILTERS", "fields": []string{"feasibility"}})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 3, snap.FilteredTotal)
}

func TestDispatch_Errors(t *testing.T) {
	f := newFixture(t, config.ServerConfig{}, nil)
	id := f.create(t).ID

	rec := f.do(t, http.MethodPost, "/api/sessions/"+id+"/actions", map[string]any{"type": "SORT"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/sessions/"+id+"/actions",
		map[string]any{"type": "SET_FILTER", "field": "nope", "filterValue": []string{"1"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown dimension")

	rec = f.do(t, http.MethodPost, "/api/sessions/missing/actions", map[string]any{"type": "RESET_FILTERS"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRestoreAndExport(t *testing.T) {
	f := newFixture(t, config.ServerConfig{}, nil)
	id := f.create(t).ID

	rec := f.do(t, http.MethodPost, "/api/sessions/"+id+"/restore", restoreRequest{Query: "state=OR&feasibility=2"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/sessions/"+id+"/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var exported restoreRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &exported))
	assert.Contains(t, exported.Query, "state=OR")
	assert.Contains(t, exported.Query, "feasibility=2")

	rec = f.do(t, http.MethodGet, "/api/sessions/"+id+"/ids", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ids struct {
		Count int      `json:"count"`
		IDs   []string `json:"ids"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ids))
	assert.Equal(t, 1, ids.Count)
	assert.Equal(t, []string{"D2"}, ids.IDs)

	// A narrower restore clears dimensions it does not mention.
	rec = f.do(t, http.MethodPost, "/api/sessions/"+id+"/restore", restoreRequest{Query: "state=WA"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/sessions/"+id+"/export", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &exported))
	assert.Equal(t, "state=WA", exported.Query)

	rec = f.do(t, http.MethodPost, "/api/sessions/"+id+"/restore", restoreRequest{Query: "state=%zz"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDownload(t *testing.T) {
	f := newFixture(t, config.ServerConfig{}, nil)
	id := f.create(t).ID

	rec := f.do(t, http.MethodPost, "/api/sessions/"+id+"/actions",
		map[string]any{"type": "SET_FILTER", "field": "state", "filterValue": []string{"WA"}})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/sessions/"+id+"/download", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, export.ContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "dams.xlsx")

	wb, err := xlsx.OpenBinary(rec.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, wb.Sheets, 1)
	rows := wb.Sheets[0].Rows
	require.Len(t, rows, 2, "header plus one filtered barrier")
	assert.Equal(t, "D3", rows[1].Cells[0].String())

	rec = f.do(t, http.MethodGet, "/api/sessions/missing/download", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetAndDeleteSession(t *testing.T) {
	f := newFixture(t, config.ServerConfig{}, nil)
	id := f.create(t).ID

	rec := f.do(t, http.MethodGet, "/api/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var out sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, id, out.ID)

	rec = f.do(t, http.MethodDelete, "/api/sessions/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDecodeTiers(t *testing.T) {
	f := newFixture(t, config.ServerConfig{}, nil)
	packed, err := tier.Encode(tier.Scores{"NC": 3}, tier.DefaultCodec().Fields())
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/api/tiers/decode?packed="+jsonNumber(packed), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var out decodeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.False(t, out.Malformed)
	assert.Equal(t, tier.Score(3), out.Tiers["NC"])
	assert.Equal(t, tier.NotRanked, out.Tiers["WC"])

	rec = f.do(t, http.MethodGet, "/api/tiers/decode?packed=-5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.True(t, out.Malformed)
	assert.Equal(t, tier.NotRanked, out.Tiers["NC"])

	rec = f.do(t, http.MethodGet, "/api/tiers/decode?packed=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func jsonNumber(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, config.ServerConfig{}, nil)
	rec := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	f = newFixture(t, config.ServerConfig{}, errors.New("down"))
	rec = f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, config.ServerConfig{}, nil)
	f.do(t, http.MethodGet, "/health", nil)

	rec := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "barriers_http_requests_total")
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.HTTPRequestsTotal.WithLabelValues("GET", "/health", "200")), 0)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, config.ServerConfig{RateLimit: 0.001, RateBurst: 1}, nil)

	rec := f.do(t, http.MethodGet, "/api/tiers/decode?packed=0", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/tiers/decode?packed=0", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// Health checks bypass the limiter.
	rec = f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORS(t *testing.T) {
	f := newFixture(t, config.ServerConfig{CORSOrigins: []string{"https://example.org"}}, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/tiers/decode", nil)
	req.Header.Set("Origin", "https://example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, "https://example.org", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.True(t, strings.Contains(rec.Header().Get("Access-Control-Allow-Methods"), http.MethodGet))
}
