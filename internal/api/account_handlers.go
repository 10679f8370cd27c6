package api

import (
	"errors"
	"net/http"
	"strings"

	"pulsecast/internal/store"
)

// StreamKey handles GET and POST /api/stream-key. GET returns the account's
// key, minting one on first call. POST regenerates unconditionally; a worker
// still running under the old key is orphaned, not reconciled.
func (h *Handler) StreamKey(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		updated, err := h.Store.EnsureStreamKey(user.ID)
		if err != nil {
			writeErrorCode(w, http.StatusInternalServerError, CodeInternal)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"streamKey": updated.StreamKey})
	case http.MethodPost:
		updated, err := h.Store.RotateStreamKey(user.ID)
		if err != nil {
			writeErrorCode(w, http.StatusInternalServerError, CodeInternal)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"streamKey": updated.StreamKey})
	default:
		methodNotAllowed(w, "GET, POST")
	}
}

type updateProfileRequest struct {
	DisplayName *string `json:"displayName"`
}

// Me handles GET and PUT /api/me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, newUserPayload(user))
	case http.MethodPut:
		var req updateProfileRequest
		if err := decodeJSON(r, &req); err != nil {
			writeErrorMessage(w, http.StatusBadRequest, CodeInvalidRequest, "invalid request body")
			return
		}
		if req.DisplayName == nil {
			writeErrorMessage(w, http.StatusBadRequest, CodeInvalidRequest, "displayName is required")
			return
		}
		updated, err := h.Store.UpdateDisplayName(user.ID, *req.DisplayName)
		if err != nil {
			switch {
			case errors.Is(err, store.ErrDisplayNameTaken):
				writeErrorCode(w, http.StatusConflict, CodeConflict)
			case errors.Is(err, store.ErrNotFound):
				writeErrorCode(w, http.StatusNotFound, CodeNotFound)
			default:
				writeErrorCode(w, http.StatusInternalServerError, CodeInternal)
			}
			return
		}
		writeJSON(w, http.StatusOK, newUserPayload(updated))
	default:
		methodNotAllowed(w, "GET, PUT")
	}
}

// Categories handles GET /api/categories.
func (h *Handler) Categories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	categories, err := h.Store.ListCategories()
	if err != nil {
		writeErrorCode(w, http.StatusServiceUnavailable, CodeCatalogUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"categories": categories})
}

// CategoryByID handles GET /api/categories/{id}.
func (h *Handler) CategoryByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/categories/")
	if id == "" || strings.Contains(id, "/") {
		writeErrorCode(w, http.StatusNotFound, CodeNotFound)
		return
	}
	category, ok, err := h.Store.GetCategory(id)
	if err != nil {
		writeErrorCode(w, http.StatusServiceUnavailable, CodeCatalogUnavailable)
		return
	}
	if !ok {
		writeErrorCode(w, http.StatusNotFound, CodeNotFound)
		return
	}
	writeJSON(w, http.StatusOK, category)
}
