package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"vpn-switcher/internal/engine"
	"vpn-switcher/internal/trust"
)

// RecentFunc fetches the newest journal entries; nil when the daemon runs
// without a journal.
type RecentFunc func(limit int) (any, error)

// Handler serves the read-only status API.
type Handler struct {
	eng     *engine.Engine
	rules   engine.Loader
	journal RecentFunc
}

func NewHandler(eng *engine.Engine, rules engine.Loader, journal RecentFunc) *Handler {
	return &Handler{eng: eng, rules: rules, journal: journal}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.eng.Status())
}

func (h *Handler) Rules(w http.ResponseWriter, _ *http.Request) {
	m, err := h.rules.Load()
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rulesResponse{
		Rules:    m.Rules,
		Fallback: m.Fallback,
	})
}

func (h *Handler) Journal(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "journal disabled"})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.journal(limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type rulesResponse struct {
	Rules    []trust.Rule `json:"rules"`
	Fallback string       `json:"fallback,omitempty"`
}
