package auditapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/leapstack-labs/lakegov/internal/audit"
	"github.com/leapstack-labs/lakegov/internal/lineage"
)

type handlers struct {
	ledger  *audit.Ledger
	lineage *lineage.Log
	logger  *slog.Logger
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.RunFilter{
		Pipeline: q.Get("pipeline"),
		Status:   audit.RunStatus(q.Get("status")),
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			h.writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		filter.Limit = limit
	}

	runs, err := h.ledger.ListRuns(r.Context(), filter)
	h.respond(w, nonNil(runs), err)
}

func (h *handlers) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.ledger.GetRun(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, run, err)
}

func (h *handlers) listGDPR(w http.ResponseWriter, r *http.Request) {
	requests, err := h.ledger.ListGDPRRequests(r.Context(), r.URL.Query().Get("user_id"))
	h.respond(w, nonNil(requests), err)
}

func (h *handlers) getGDPR(w http.ResponseWriter, r *http.Request) {
	req, err := h.ledger.GetGDPRRequest(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, req, err)
}

func (h *handlers) listExports(w http.ResponseWriter, r *http.Request) {
	exports, err := h.ledger.ListExports(r.Context())
	h.respond(w, nonNil(exports), err)
}

func (h *handlers) getExport(w http.ResponseWriter, r *http.Request) {
	rec, err := h.ledger.GetExport(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, rec, err)
}

func (h *handlers) listLineage(w http.ResponseWriter, r *http.Request) {
	idx, err := h.lineage.Index(r.Context())
	if err != nil {
		h.respond(w, nil, err)
		return
	}

	q := r.URL.Query()
	var edges []lineage.Edge
	switch {
	case q.Get("from") != "":
		edges = idx.ByFrom(q.Get("from"))
	case q.Get("to") != "":
		edges = idx.ByTo(q.Get("to"))
	case q.Get("prefix") != "":
		edges = idx.WithPrefix(q.Get("prefix"))
	default:
		edges = idx.All()
	}
	h.writeJSON(w, http.StatusOK, nonNil(edges))
}

func (h *handlers) respond(w http.ResponseWriter, v any, err error) {
	switch {
	case errors.Is(err, audit.ErrNotFound):
		h.writeError(w, http.StatusNotFound, err)
	case err != nil:
		h.logger.Error("audit api request failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, err)
	default:
		h.writeJSON(w, http.StatusOK, v)
	}
}

func (h *handlers) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("failed to write response", "error", err)
	}
}

// nonNil renders empty lists as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
