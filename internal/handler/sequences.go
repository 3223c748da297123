package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/creatorhub/internal/apperror"
	"github.com/sakif/creatorhub/internal/service"
)

// SequenceHandler serves the email sequence editor.
type SequenceHandler struct {
	sequences *service.SequenceService
	logger    *slog.Logger
}

func NewSequenceHandler(sequences *service.SequenceService, logger *slog.Logger) *SequenceHandler {
	return &SequenceHandler{sequences: sequences, logger: logger}
}

// HandleList returns every sequence of the user with its stats.
//
// HTTP: GET /api/sequences
func (h *SequenceHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	seqs, err := h.sequences.List(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, seqs)
}

// HandleCreate saves a new sequence.
//
// HTTP: POST /api/sequences
// Body: {"name": "...", "description": "...", "emails": [{"subject", "body", "delayDays"}]}
// Response: 201 Created
func (h *SequenceHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var input service.SequenceInput
	if err := decodeJSON(w, r, &input); err != nil {
		writeError(w, err)
		return
	}

	seq, err := h.sequences.Create(r.Context(), userID, input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, seq)
}

// HandleGet returns one sequence.
//
// HTTP: GET /api/sequences/{id}
func (h *SequenceHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	seq, err := h.sequences.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, seq)
}

// HandleUpdate replaces a sequence's name, description and steps.
//
// HTTP: PUT /api/sequences/{id}
func (h *SequenceHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var input service.SequenceInput
	if err := decodeJSON(w, r, &input); err != nil {
		writeError(w, err)
		return
	}

	seq, err := h.sequences.Update(r.Context(), userID, chi.URLParam(r, "id"), input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, seq)
}

// HandleDelete removes a sequence. Enrolled leads go back to "not started".
//
// HTTP: DELETE /api/sequences/{id}
func (h *SequenceHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.sequences.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDuplicate copies a sequence as "<name> (copy)".
//
// HTTP: POST /api/sequences/{id}/duplicate
// Response: 201 Created with the copy
func (h *SequenceHandler) HandleDuplicate(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	seq, err := h.sequences.Duplicate(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, seq)
}

// HandlePreview renders every step for one lead, with the date each step
// would go out.
//
// HTTP: GET /api/sequences/{id}/preview?lead_id=...
func (h *SequenceHandler) HandlePreview(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	leadID := r.URL.Query().Get("lead_id")
	if leadID == "" {
		writeError(w, apperror.ValidationFailed("lead_id", "pick a lead to preview"))
		return
	}

	steps, err := h.sequences.Preview(r.Context(), userID, chi.URLParam(r, "id"), leadID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, steps)
}
