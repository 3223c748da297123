// Package backend is the HTTP client for the external scraping service.
//
// The scraper (a separate deployment) owns the Twitch/YouTube crawling,
// saved streamers, folders and saved filters. creatorhub only speaks its
// REST contract. Every call goes through a token-bucket limiter so a busy
// dashboard can't hammer the scraper, and every failure is translated into
// an apperror so handlers map it to the right status (502 for "the backend
// is down", 404 for "no such streamer", 400 for a rejected filter).
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/sakif/creatorhub/internal/apperror"
	"github.com/sakif/creatorhub/internal/model"
)

// serviceName is how the scraper is named in user-facing errors.
const serviceName = "the creator search service"

// maxErrorBody caps how much of an error response we keep for logs.
const maxErrorBody = 2 << 10

// StatusError is a non-2xx response from the scraper.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend: %s %s returned %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Options tune a Client. Zero values fall back to sane defaults.
type Options struct {
	Timeout    time.Duration
	RatePerSec float64
	Burst      int
	HTTPClient *http.Client
}

// Client calls the scraper's REST API.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient builds a Client for the scraper at baseURL.
func NewClient(baseURL string, opts Options, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("backend: invalid base URL %q", baseURL)
	}

	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 10
	}
	if opts.Burst <= 0 {
		opts.Burst = int(opts.RatePerSec) + 1
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}

	return &Client{
		baseURL: u.String(),
		http:    hc,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.Burst),
		logger:  logger.With(slog.String("component", "backend")),
	}, nil
}

// =========================================================================
// LOOKUPS
// =========================================================================

// Categories returns the game/category list used by the search filter.
func (c *Client) Categories(ctx context.Context) ([]model.Category, error) {
	var out []model.Category
	if err := c.getList(ctx, "/categories", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Languages returns the stream language list used by the search filter.
func (c *Client) Languages(ctx context.Context) ([]model.Language, error) {
	var out []model.Language
	if err := c.getList(ctx, "/languages", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// =========================================================================
// SEARCH
// =========================================================================

// SearchRequest starts a Twitch scrape for UserID.
type SearchRequest struct {
	UserID string `json:"user_id"`
	Limit  int    `json:"limit,omitempty"`
	model.SearchFilter
}

// StartSearch asks the scraper to begin a search. Results land in the
// user's "All" folder; Progress reports how far along it is.
func (c *Client) StartSearch(ctx context.Context, req SearchRequest) error {
	return c.do(ctx, http.MethodPost, "/Twitch_scraper/search", nil, req, nil)
}

// Progress returns the state of the user's current search.
func (c *Client) Progress(ctx context.Context, userID string) (*model.ScrapingProgress, error) {
	var p model.ScrapingProgress
	q := url.Values{"user_id": {userID}}
	if err := c.do(ctx, http.MethodGet, "/Twitch_scraper/progress", q, nil, &p); err != nil {
		return nil, err
	}
	if p.Status == "" {
		p.Status = model.ScrapeIdle
	}
	return &p, nil
}

// Terminate stops the user's running search.
func (c *Client) Terminate(ctx context.Context, userID string) error {
	body := map[string]string{"user_id": userID}
	return c.do(ctx, http.MethodPost, "/Twitch_scraper/terminate", nil, body, nil)
}

// SaveFilter stores a named filter for later reuse.
func (c *Client) SaveFilter(ctx context.Context, f model.SavedFilter) error {
	return c.do(ctx, http.MethodPost, "/filters/save", nil, f, nil)
}

// =========================================================================
// SAVED STREAMERS
// =========================================================================

// Streamers lists the user's saved streamers in folderID. An empty
// folderID or the "all" folder lists every saved streamer.
func (c *Client) Streamers(ctx context.Context, userID, folderID string) ([]model.SavedStreamer, error) {
	path := "/streamers/all"
	if folderID != "" && folderID != model.FolderAllID {
		path = "/streamers/" + url.PathEscape(folderID)
	}
	var out []model.SavedStreamer
	if err := c.getList(ctx, path, url.Values{"user_id": {userID}}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetFavourite flags or unflags a saved streamer as favourite.
func (c *Client) SetFavourite(ctx context.Context, streamerID string, favourite bool) error {
	body := struct {
		StreamerID  string `json:"streamer_id"`
		IsFavourite bool   `json:"is_favourite"`
	}{streamerID, favourite}
	return c.do(ctx, http.MethodPost, "/streamers/favourite", nil, body, nil)
}

// MoveStreamer moves a saved streamer into folderID.
func (c *Client) MoveStreamer(ctx context.Context, savedID, folderID string) error {
	body := struct {
		ID       string `json:"id"`
		FolderID string `json:"folder_id"`
	}{savedID, folderID}
	return c.do(ctx, http.MethodPost, "/saved-streamers/move", nil, body, nil)
}

// DeleteStreamer removes a saved streamer.
func (c *Client) DeleteStreamer(ctx context.Context, savedID string) error {
	return c.do(ctx, http.MethodDelete, "/saved-streamers/"+url.PathEscape(savedID), nil, nil, nil)
}

// =========================================================================
// FOLDERS
// =========================================================================

// Folders lists the user's own folders (system folders are not included).
func (c *Client) Folders(ctx context.Context, userID string) ([]model.Folder, error) {
	var out []model.Folder
	if err := c.getList(ctx, "/folders", url.Values{"user_id": {userID}}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateFolder creates a folder and returns it as stored by the scraper.
func (c *Client) CreateFolder(ctx context.Context, userID, name string) (*model.Folder, error) {
	body := map[string]string{"user_id": userID, "name": name}
	var f model.Folder
	if err := c.do(ctx, http.MethodPost, "/folders", nil, body, &f); err != nil {
		return nil, err
	}
	if f.Name == "" {
		f.Name = name
	}
	return &f, nil
}

// DeleteFolder removes a folder.
func (c *Client) DeleteFolder(ctx context.Context, folderID string) error {
	return c.do(ctx, http.MethodDelete, "/folders/"+url.PathEscape(folderID), nil, nil, nil)
}

// =========================================================================
// TRANSPORT
// =========================================================================

// getList decodes either a bare JSON array or an {"data": [...]} envelope;
// the scraper uses both depending on the endpoint.
func (c *Client) getList(ctx context.Context, path string, q url.Values, out any) error {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, q, nil, &raw); err != nil {
		return err
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] == '{' {
		var env struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return fmt.Errorf("backend: decoding %s envelope: %w", path, err)
		}
		trimmed = env.Data
		if len(trimmed) == 0 {
			return nil
		}
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return fmt.Errorf("backend: decoding %s: %w", path, err)
	}
	return nil
}

// do sends one request. in is JSON-encoded when non-nil; out is decoded
// from a 2xx body when non-nil.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("backend: waiting for rate limiter: %w", err)
	}

	target := c.baseURL + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("backend: encoding %s body: %w", path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("backend: building %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("backend request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return apperror.Unavailable(serviceName, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("backend request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return c.statusError(&StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		})
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return apperror.Unavailable(serviceName, fmt.Errorf("backend: decoding %s: %w", path, err))
	}
	return nil
}

// statusError maps a scraper status to the apperror the handlers expect.
func (c *Client) statusError(se *StatusError) error {
	switch {
	case se.StatusCode == http.StatusNotFound:
		return &apperror.AppError{Err: apperror.ErrNotFound, Message: "not found", Cause: se}
	case se.StatusCode == http.StatusBadRequest || se.StatusCode == http.StatusUnprocessableEntity:
		return &apperror.AppError{Err: apperror.ErrValidation, Message: backendMessage(se.Body), Cause: se}
	case se.StatusCode == http.StatusConflict:
		return &apperror.AppError{Err: apperror.ErrConflict, Message: backendMessage(se.Body), Cause: se}
	default:
		c.logger.Error("backend returned an error",
			slog.String("method", se.Method),
			slog.String("path", se.Path),
			slog.Int("status", se.StatusCode),
			slog.String("body", se.Body),
		)
		return apperror.Unavailable(serviceName, se)
	}
}

// backendMessage pulls a human message out of {"error": "..."} or
// {"message": "..."} error bodies, falling back to a generic text.
func backendMessage(body string) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal([]byte(body), &payload) == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return "the request was rejected by " + serviceName
}
