package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/filebridge/filebridge/pkg/store"
)

// SettingHandler exposes the key/value settings table.
type SettingHandler struct {
	store DataStore
}

// NewSettingHandler creates a new settings handler.
func NewSettingHandler(st DataStore) *SettingHandler {
	return &SettingHandler{store: st}
}

// Get handles GET /api/settings/{key}.
func (h *SettingHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse("store not initialized"))
		return
	}

	key := chi.URLParam(r, "key")
	setting, err := h.store.GetSetting(r.Context(), key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse("setting not found"))
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse("failed to read setting"))
		return
	}
	writeJSON(w, http.StatusOK, okResponse(setting))
}

// Put handles PUT /api/settings/{key}, upserting the value.
func (h *SettingHandler) Put(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse("store not initialized"))
		return
	}

	var body struct {
		Value string `json:"value"`
	}
	if !decodeJSONBody(w, r, &body) {
		return
	}

	key := chi.URLParam(r, "key")
	if err := h.store.PutSetting(r.Context(), key, body.Value); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("failed to store setting"))
		return
	}
	writeJSON(w, http.StatusOK, okResponse(map[string]string{"key": key, "value": body.Value}))
}
