package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/filebridge/filebridge/pkg/store"
)

// MountHandler exposes the mount table over the management API.
type MountHandler struct {
	store DataStore
}

// NewMountHandler creates a new mount handler. A nil store makes every
// endpoint answer 503.
func NewMountHandler(st DataStore) *MountHandler {
	return &MountHandler{store: st}
}

func (h *MountHandler) ready(w http.ResponseWriter) bool {
	if h.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse("store not initialized"))
		return false
	}
	return true
}

// List handles GET /api/mounts, ordered by mount order.
func (h *MountHandler) List(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	mounts, err := h.store.ListMounts(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("failed to list mounts"))
		return
	}
	writeJSON(w, http.StatusOK, okResponse(map[string]interface{}{
		"mounts": mounts,
		"count":  len(mounts),
	}))
}

// Create handles POST /api/mounts.
func (h *MountHandler) Create(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	var mount store.Mount
	if !decodeJSONBody(w, r, &mount) {
		return
	}
	if mount.Path == "" || mount.Driver == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("path and driver are required"))
		return
	}

	if err := h.store.CreateMount(r.Context(), &mount); err != nil {
		writeJSON(w, http.StatusConflict, errorResponse(err.Error()))
		return
	}
	writeJSON(w, http.StatusCreated, okResponse(mount))
}

// Delete handles DELETE /api/mounts/{path}. The path parameter is the
// chi wildcard remainder, so nested mount paths work unescaped.
func (h *MountHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	path := "/" + chi.URLParam(r, "*")
	if err := h.store.DeleteMount(r.Context(), path); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse("mount not found"))
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse("failed to delete mount"))
		return
	}
	writeJSON(w, http.StatusOK, okResponse(map[string]string{"deleted": path}))
}
