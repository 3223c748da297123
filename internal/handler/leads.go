package handler

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/creatorhub/internal/listing"
	"github.com/sakif/creatorhub/internal/model"
	"github.com/sakif/creatorhub/internal/repository"
	"github.com/sakif/creatorhub/internal/service"
)

// LeadHandler serves the CRM table and the outreach actions on leads.
type LeadHandler struct {
	leads  *service.LeadService
	logger *slog.Logger
}

func NewLeadHandler(leads *service.LeadService, logger *slog.Logger) *LeadHandler {
	return &LeadHandler{leads: leads, logger: logger}
}

// HandleList returns one page of leads.
//
// HTTP: GET /api/leads?q=&stage=&status=&sequence=&platform=&sort=&dir=&page=&pageSize=
//
// RESPONSE FORMAT:
//
//	{"items": [...], "page": 1, "pageSize": 10, "total": 42, "totalPages": 5}
func (h *LeadHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	q, err := parseLeadQuery(r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}

	page, err := h.leads.List(r.Context(), userID, q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func parseLeadQuery(v url.Values) (service.LeadQuery, error) {
	lq, err := listing.ParseQuery(v)
	if err != nil {
		return service.LeadQuery{}, err
	}
	return service.LeadQuery{
		Filter: repository.LeadFilter{
			Stage:          model.LeadStage(v.Get("stage")),
			SequenceStatus: model.SequenceStatus(v.Get("status")),
			SequenceID:     v.Get("sequence"),
			Platform:       model.Platform(v.Get("platform")),
		},
		Query: lq,
	}, nil
}

// HandleCreate adds a lead by hand.
//
// HTTP: POST /api/leads
// Body: service.LeadInput
// Response: 201 Created with the lead
func (h *LeadHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var input service.LeadInput
	if err := decodeJSON(w, r, &input); err != nil {
		writeError(w, err)
		return
	}

	lead, err := h.leads.Create(r.Context(), userID, input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, lead)
}

// HandleGet returns a single lead.
//
// HTTP: GET /api/leads/{id}
func (h *LeadHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	lead, err := h.leads.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

// HandleUpdate applies a partial update; absent fields are left alone.
//
// HTTP: PUT /api/leads/{id}
func (h *LeadHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var input service.LeadUpdate
	if err := decodeJSON(w, r, &input); err != nil {
		writeError(w, err)
		return
	}

	lead, err := h.leads.Update(r.Context(), userID, chi.URLParam(r, "id"), input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

// HandleDelete removes a lead and its outreach history.
//
// HTTP: DELETE /api/leads/{id}
// Response: 204 No Content
func (h *LeadHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.leads.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleBulkDelete removes several leads at once.
//
// HTTP: POST /api/leads/bulk-delete
// Body: {"ids": ["...", "..."]}
// Response: {"deleted": 2}
func (h *LeadHandler) HandleBulkDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var input idsRequest
	if err := decodeJSON(w, r, &input); err != nil {
		writeError(w, err)
		return
	}

	n, err := h.leads.BulkDelete(r.Context(), userID, input.IDs)
	if err != nil {
		writeError(w, err)
		return
	}
	h.logger.Info("leads deleted", slog.String("userID", userID), slog.Int("count", n))
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

// HandleImport turns scraped creators into leads.
//
// HTTP: POST /api/leads/import
// Body: {"twitch": [...], "youtube": [...]}
// Response: {"created": 3, "updated": 1, "skipped": 0, "leads": [...]}
func (h *LeadHandler) HandleImport(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var input service.ImportInput
	if err := decodeJSON(w, r, &input); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.leads.ImportFromCreators(r.Context(), userID, input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type enrollRequest struct {
	IDs        []string `json:"ids"`
	SequenceID string   `json:"sequenceId"`
}

// HandleEnroll starts a sequence for the selected leads.
//
// HTTP: POST /api/leads/enroll
// Body: {"ids": [...], "sequenceId": "..."}
// Response: {"enrolled": [...], "skipped": [...]}
func (h *LeadHandler) HandleEnroll(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var input enrollRequest
	if err := decodeJSON(w, r, &input); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.leads.Enroll(r.Context(), userID, input.IDs, input.SequenceID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandlePause stops the dispatcher from sending to a lead.
//
// HTTP: POST /api/leads/{id}/pause
func (h *LeadHandler) HandlePause(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	lead, err := h.leads.Pause(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

// HandleResume picks a paused sequence back up where it stopped.
//
// HTTP: POST /api/leads/{id}/resume
func (h *LeadHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	lead, err := h.leads.Resume(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

type replyRequest struct {
	Classification model.Classification `json:"classification"`
}

// HandleReply records that the creator answered. The lead is never
// contacted again by its sequence.
//
// HTTP: POST /api/leads/{id}/reply
// Body: {"classification": "interested"} (optional)
func (h *LeadHandler) HandleReply(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var input replyRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &input); err != nil {
			writeError(w, err)
			return
		}
	}

	lead, err := h.leads.MarkReplied(r.Context(), userID, chi.URLParam(r, "id"), input.Classification)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

// HandleHistory lists the emails sent to a lead, oldest first.
//
// HTTP: GET /api/leads/{id}/history
func (h *LeadHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	msgs, err := h.leads.History(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// HandleStats returns the numbers for the CRM header cards.
//
// HTTP: GET /api/leads/stats
func (h *LeadHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	stats, err := h.leads.Stats(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
