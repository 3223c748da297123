package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/creatorhub/internal/apperror"
	"github.com/sakif/creatorhub/internal/listing"
	"github.com/sakif/creatorhub/internal/model"
	"github.com/sakif/creatorhub/internal/service"
)

// DiscoveryHandler serves creator search, the search progress and the
// saved-streamer tables.
type DiscoveryHandler struct {
	discovery *service.DiscoveryService
	logger    *slog.Logger
}

func NewDiscoveryHandler(discovery *service.DiscoveryService, logger *slog.Logger) *DiscoveryHandler {
	return &DiscoveryHandler{discovery: discovery, logger: logger}
}

// HandleLookups returns the category and language lists for the filter
// dropdowns.
//
// HTTP: GET /api/discovery/lookups
func (h *DiscoveryHandler) HandleLookups(w http.ResponseWriter, r *http.Request) {
	lookups, err := h.discovery.Lookups(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lookups)
}

// HandleSearch starts a search. It costs one credit, refunded if the
// backend rejects the search.
//
// HTTP: POST /api/discovery/search
// Body: {"language": "en", "min_followers": 1000, ..., "limit": 100}
// Response: 202 Accepted {"credits": 24, "progress": {...}}
func (h *DiscoveryHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var input service.SearchInput
	if err := decodeJSON(w, r, &input); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.discovery.Search(r.Context(), userID, input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

// HandleProgress returns one progress snapshot.
//
// HTTP: GET /api/discovery/progress
func (h *DiscoveryHandler) HandleProgress(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	p, err := h.discovery.Progress(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// HandleProgressStream pushes progress snapshots as Server-Sent Events
// until the search finishes or the browser goes away.
//
// HTTP: GET /api/discovery/progress/stream
//
// Each event is one JSON snapshot:
//
//	event: progress
//	data: {"status":"running","processed":40,"total":100,"found":12}
//
// The stream ends after the first snapshot with a terminal status, or
// straight after the first snapshot when no search is running.
func (h *DiscoveryHandler) HandleProgressStream(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, fmt.Errorf("response writer %T does not support flushing", w))
		return
	}

	// A search can outlast the server's WriteTimeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// The poller stops when r.Context() is cancelled, which also closes
	// the channel.
	for p := range h.discovery.WatchProgress(r.Context(), userID) {
		data, err := json.Marshal(p)
		if err != nil {
			h.logger.Error("encoding progress event", slog.String("error", err.Error()))
			return
		}
		if _, err := fmt.Fprintf(w, "event: progress\ndata: %s\n\n", data); err != nil {
			return
		}
		flusher.Flush()
	}
}

// HandleTerminate stops the running search.
//
// HTTP: POST /api/discovery/terminate
func (h *DiscoveryHandler) HandleTerminate(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.discovery.Terminate(r.Context(), userID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type saveFilterRequest struct {
	Name string `json:"name"`
	model.SearchFilter
}

// HandleSaveFilter stores the current filter under a name.
//
// HTTP: POST /api/discovery/filters
// Body: {"name": "English, 10k+", "language": "en", "min_followers": 10000}
func (h *DiscoveryHandler) HandleSaveFilter(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var input saveFilterRequest
	if err := decodeJSON(w, r, &input); err != nil {
		writeError(w, err)
		return
	}

	if err := h.discovery.SaveFilter(r.Context(), userID, input.Name, input.SearchFilter); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// HandleStreamers returns one page of a saved-streamer folder.
//
// HTTP: GET /api/discovery/streamers?folder=&q=&sort=&dir=&page=&pageSize=
//
//	&language=&category=&min_followers=&max_followers=&min_viewers=&max_viewers=
func (h *DiscoveryHandler) HandleStreamers(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	q, err := parseStreamerQuery(r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}

	page, err := h.discovery.SavedStreamers(r.Context(), userID, q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func parseStreamerQuery(v url.Values) (service.StreamerQuery, error) {
	lq, err := listing.ParseQuery(v)
	if err != nil {
		return service.StreamerQuery{}, err
	}

	f := model.SearchFilter{
		Language: v.Get("language"),
		Category: v.Get("category"),
	}
	for name, dst := range map[string]*int64{
		"min_followers": &f.MinFollowers,
		"max_followers": &f.MaxFollowers,
		"min_viewers":   &f.MinViewers,
		"max_viewers":   &f.MaxViewers,
	} {
		raw := v.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return service.StreamerQuery{}, apperror.ValidationFailed(name, name+" must be a number")
		}
		*dst = n
	}

	return service.StreamerQuery{FolderID: v.Get("folder"), Filter: f, Query: lq}, nil
}

type favouriteRequest struct {
	Favourite bool `json:"favourite"`
}

// HandleFavourite stars or unstars a streamer.
//
// HTTP: POST /api/discovery/streamers/{id}/favourite
// Body: {"favourite": true}
func (h *DiscoveryHandler) HandleFavourite(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var input favouriteRequest
	if err := decodeJSON(w, r, &input); err != nil {
		writeError(w, err)
		return
	}

	if err := h.discovery.ToggleFavourite(r.Context(), userID, chi.URLParam(r, "id"), input.Favourite); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type moveRequest struct {
	FolderID string `json:"folderId"`
}

// HandleMove files a saved streamer into another folder.
//
// HTTP: POST /api/discovery/streamers/{id}/move
// Body: {"folderId": "..."}
func (h *DiscoveryHandler) HandleMove(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var input moveRequest
	if err := decodeJSON(w, r, &input); err != nil {
		writeError(w, err)
		return
	}

	if err := h.discovery.MoveStreamer(r.Context(), userID, chi.URLParam(r, "id"), input.FolderID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDeleteStreamer removes a saved streamer.
//
// HTTP: DELETE /api/discovery/streamers/{id}
func (h *DiscoveryHandler) HandleDeleteStreamer(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.discovery.DeleteStreamer(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleAddToCRM imports the selected saved streamers as leads.
//
// HTTP: POST /api/discovery/streamers/crm
// Body: {"ids": [...]}
func (h *DiscoveryHandler) HandleAddToCRM(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var input idsRequest
	if err := decodeJSON(w, r, &input); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.discovery.AddToCRM(r.Context(), userID, input.IDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
