package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/barrier-explorer/internal/barrier"
	"github.com/sells-group/barrier-explorer/internal/export"
	"github.com/sells-group/barrier-explorer/internal/facet"
	"github.com/sells-group/barrier-explorer/internal/session"
	"github.com/sells-group/barrier-explorer/internal/tier"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

type createRequest struct {
	Units []barrier.UnitSelection `json:"units"`
	Query string                  `json:"query,omitempty"`
}

type sessionResponse struct {
	ID       string                  `json:"id"`
	Type     barrier.Type            `json:"barrierType"`
	Units    []barrier.UnitSelection `json:"units"`
	Stats    barrier.IngestStats     `json:"stats"`
	Snapshot *facet.Snapshot         `json:"snapshot"`
}

type restoreRequest struct {
	Query string `json:"query"`
}

type decodeResponse struct {
	Packed    int64       `json:"packed"`
	Tiers     tier.Scores `json:"tiers"`
	Malformed bool        `json:"malformed"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: encode response", zap.Error(err))
	}
}

// writeError maps domain errors to HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, facet.ErrUnknownDimension),
		errors.Is(err, facet.ErrUnknownAction),
		errors.Is(err, facet.ErrInvalidQuery),
		errors.Is(err, barrier.ErrUnknownType),
		errors.Is(err, barrier.ErrUnknownLayer):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		zap.L().Error("api: request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeJSON(w, status, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return false
	}
	return true
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return sess, true
}

func respond(sess *session.Session, snap *facet.Snapshot) sessionResponse {
	return sessionResponse{
		ID:       sess.ID,
		Type:     sess.Type,
		Units:    sess.Units,
		Stats:    sess.Stats,
		Snapshot: snap,
	}
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	t, err := barrier.ParseType(chi.URLParam(r, "barrierType"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req createRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Units) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "units are required"})
		return
	}

	sess, err := s.sessions.Create(r.Context(), t, req.Units)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.metrics.ObserveIngest(sess.Stats)

	snap := sess.Snapshot()
	if req.Query != "" {
		if snap, err = sess.Restore(req.Query); err != nil {
			_ = s.sessions.Delete(sess.ID)
			writeError(w, r, err)
			return
		}
	}

	zap.L().Info("api: session created",
		zap.String("session", sess.ID),
		zap.String("type", string(t)),
		zap.Int("records", sess.Stats.Records),
	)
	writeJSON(w, http.StatusCreated, respond(sess, snap))
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, respond(sess, sess.Snapshot()))
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var a facet.Action
	if !decodeBody(w, r, &a) {
		return
	}
	snap, err := sess.Dispatch(a)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) restore(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req restoreRequest
	if !decodeBody(w, r, &req) {
		return
	}
	snap, err := sess.Restore(req.Query)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) export(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, restoreRequest{Query: sess.QueryString()})
}

func (s *Server) filteredIDs(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	ids := sess.FilteredIDs()
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(ids),
		"ids":   ids,
	})
}

func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.xlsx"`, sess.Type))
	if err := export.WriteXLSX(w, sess.Type, sess.FilteredRecords()); err != nil {
		zap.L().Error("api: download failed", zap.String("session", sess.ID), zap.Error(err))
	}
}

func (s *Server) decodeTiers(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("packed")
	packed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "packed must be an integer"})
		return
	}
	scores, err := s.codec.Decode(packed)
	if err != nil && !errors.Is(err, tier.ErrMalformed) {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decodeResponse{
		Packed:    packed,
		Tiers:     scores,
		Malformed: err != nil,
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		zap.L().Warn("api: health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.sessions.Len(),
	})
}
