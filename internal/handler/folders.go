package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/creatorhub/internal/service"
)

// FolderHandler manages the saved-streamer folders.
type FolderHandler struct {
	folders *service.FolderService
	logger  *slog.Logger
}

func NewFolderHandler(folders *service.FolderService, logger *slog.Logger) *FolderHandler {
	return &FolderHandler{folders: folders, logger: logger}
}

// HandleList returns All, Favourites and then the user's own folders.
//
// HTTP: GET /api/folders
func (h *FolderHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	folders, err := h.folders.List(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, folders)
}

type createFolderRequest struct {
	Name string `json:"name"`
}

// HandleCreate adds a folder.
//
// HTTP: POST /api/folders
// Body: {"name": "Valorant"}
// Response: 201 Created
func (h *FolderHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var input createFolderRequest
	if err := decodeJSON(w, r, &input); err != nil {
		writeError(w, err)
		return
	}

	f, err := h.folders.Create(r.Context(), userID, input.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

// HandleDelete removes a folder. The two system folders answer 403.
//
// HTTP: DELETE /api/folders/{id}
func (h *FolderHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.folders.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
