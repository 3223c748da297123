package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/sakif/creatorhub/internal/auth"
	"github.com/sakif/creatorhub/internal/backend"
	"github.com/sakif/creatorhub/internal/handler"
	"github.com/sakif/creatorhub/internal/logging"
	"github.com/sakif/creatorhub/internal/model"
	"github.com/sakif/creatorhub/internal/repository/sqlite"
	"github.com/sakif/creatorhub/internal/service"
)

// =========================================================================
// FAKE SCRAPER
// =========================================================================
//
// The discovery and folder handlers talk to the scraper through a real
// backend.Client, pointed at this httptest server.

type fakeScraper struct {
	mu        sync.Mutex
	progress  model.ScrapingProgress
	searches  []map[string]any
	folders   []model.Folder
	streamers []model.SavedStreamer
	down      bool
}

func (s *fakeScraper) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s.mu.Lock()
			down := s.down
			s.mu.Unlock()
			if down {
				http.Error(w, "maintenance", http.StatusServiceUnavailable)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/categories", func(w http.ResponseWriter, r *http.Request) {
		scraperJSON(w, []model.Category{{ID: "509658", Name: "Just Chatting"}})
	})
	r.Get("/languages", func(w http.ResponseWriter, r *http.Request) {
		scraperJSON(w, map[string]any{"data": []model.Language{{ID: "en", Name: "English"}}})
	})
	r.Get("/Twitch_scraper/progress", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		scraperJSON(w, s.progress)
	})
	r.Post("/Twitch_scraper/search", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.mu.Lock()
		defer s.mu.Unlock()
		s.searches = append(s.searches, body)
		s.progress = model.ScrapingProgress{Status: model.ScrapeRunning}
		w.WriteHeader(http.StatusAccepted)
	})
	r.Post("/Twitch_scraper/terminate", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.progress.Status = model.ScrapeTerminated
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/streamers/{folder}", func(w http.ResponseWriter, r *http.Request) {
		folder := chi.URLParam(r, "folder")
		s.mu.Lock()
		defer s.mu.Unlock()
		out := []model.SavedStreamer{}
		for _, st := range s.streamers {
			if folder == model.FolderAllID || st.FolderID == folder {
				out = append(out, st)
			}
		}
		scraperJSON(w, out)
	})
	r.Post("/streamers/favourite", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			StreamerID  string `json:"streamer_id"`
			IsFavourite bool   `json:"is_favourite"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.mu.Lock()
		defer s.mu.Unlock()
		for i := range s.streamers {
			if s.streamers[i].StreamerID == body.StreamerID {
				s.streamers[i].IsFavourite = body.IsFavourite
			}
		}
		w.WriteHeader(http.StatusNoContent)
	})
	r.Post("/saved-streamers/move", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ID       string `json:"id"`
			FolderID string `json:"folder_id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.mu.Lock()
		defer s.mu.Unlock()
		for i := range s.streamers {
			if s.streamers[i].ID == body.ID {
				s.streamers[i].FolderID = body.FolderID
			}
		}
		w.WriteHeader(http.StatusNoContent)
	})
	r.Delete("/saved-streamers/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, st := range s.streamers {
			if st.ID == id {
				s.streamers = append(s.streamers[:i], s.streamers[i+1:]...)
				break
			}
		}
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/folders", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		scraperJSON(w, s.folders)
	})
	r.Post("/folders", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Name string `json:"name"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.mu.Lock()
		defer s.mu.Unlock()
		f := model.Folder{ID: "f-" + body.Name, Name: body.Name}
		s.folders = append(s.folders, f)
		scraperJSON(w, f)
	})
	r.Delete("/folders/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, f := range s.folders {
			if f.ID == id {
				s.folders = append(s.folders[:i], s.folders[i+1:]...)
				break
			}
		}
		w.WriteHeader(http.StatusNoContent)
	})
	return r
}

func (s *fakeScraper) set(fn func(s *fakeScraper)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

func (s *fakeScraper) saved() []model.SavedStreamer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.SavedStreamer(nil), s.streamers...)
}

func (s *fakeScraper) searchBodies() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.searches...)
}

func scraperJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// =========================================================================
// TEST API
// =========================================================================

// testAPI is the full JSON API over an in-memory database and the fake
// scraper, mounted the same way the server mounts it.
type testAPI struct {
	router  http.Handler
	db      *sqlite.DB
	tokens  *auth.TokenService
	user    *model.User
	scraper *fakeScraper
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	log := logging.Discard()

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	user := &model.User{FirstName: "Sam", LastName: "Rivera", Email: "sam@brand.com", Credits: 5}
	require.NoError(t, db.Users().Create(context.Background(), user))

	scraper := &fakeScraper{progress: model.ScrapingProgress{Status: model.ScrapeIdle}}
	srv := httptest.NewServer(scraper.routes())
	t.Cleanup(srv.Close)

	client, err := backend.NewClient(srv.URL, backend.Options{RatePerSec: 1000}, log)
	require.NoError(t, err)

	tokens, err := auth.NewTokenService("handler-test-secret-handler-test-secret")
	require.NoError(t, err)

	authSvc := service.NewAuthService(db.Users(), tokens, auth.NewPasswordServiceForTest(4), 25, log)
	leadSvc := service.NewLeadService(db.Leads(), db.Sequences(), db.Messages(), log)
	seqSvc := service.NewSequenceService(db.Sequences(), db.Leads(), db.Messages(), db.Users(), log)
	discSvc := service.NewDiscoveryService(client, db.Users(), leadSvc, service.DiscoveryConfig{
		LookupTTL:    time.Minute,
		PollInterval: 10 * time.Millisecond,
	}, log)
	folderSvc := service.NewFolderService(client, log)

	authH := handler.NewAuthHandler(authSvc, nil, false, log)
	leadH := handler.NewLeadHandler(leadSvc, log)
	seqH := handler.NewSequenceHandler(seqSvc, log)
	discH := handler.NewDiscoveryHandler(discSvc, log)
	folderH := handler.NewFolderHandler(folderSvc, log)

	r := chi.NewRouter()
	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", authH.HandleSignUp)
		r.Post("/login", authH.HandleLogin)
		r.Post("/logout", authH.HandleLogout)
		r.Get("/google/login", authH.HandleGoogleLogin)
	})
	r.Route("/api", func(r chi.Router) {
		r.Use(auth.RequireAuth(tokens))
		r.Get("/me", authH.HandleMe)

		r.Get("/leads", leadH.HandleList)
		r.Post("/leads", leadH.HandleCreate)
		r.Get("/leads/stats", leadH.HandleStats)
		r.Post("/leads/bulk-delete", leadH.HandleBulkDelete)
		r.Post("/leads/import", leadH.HandleImport)
		r.Post("/leads/enroll", leadH.HandleEnroll)
		r.Get("/leads/{id}", leadH.HandleGet)
		r.Put("/leads/{id}", leadH.HandleUpdate)
		r.Delete("/leads/{id}", leadH.HandleDelete)
		r.Post("/leads/{id}/pause", leadH.HandlePause)
		r.Post("/leads/{id}/resume", leadH.HandleResume)
		r.Post("/leads/{id}/reply", leadH.HandleReply)
		r.Get("/leads/{id}/history", leadH.HandleHistory)

		r.Get("/sequences", seqH.HandleList)
		r.Post("/sequences", seqH.HandleCreate)
		r.Get("/sequences/{id}", seqH.HandleGet)
		r.Put("/sequences/{id}", seqH.HandleUpdate)
		r.Delete("/sequences/{id}", seqH.HandleDelete)
		r.Post("/sequences/{id}/duplicate", seqH.HandleDuplicate)
		r.Get("/sequences/{id}/preview", seqH.HandlePreview)

		r.Get("/discovery/lookups", discH.HandleLookups)
		r.Post("/discovery/search", discH.HandleSearch)
		r.Get("/discovery/progress", discH.HandleProgress)
		r.Get("/discovery/progress/stream", discH.HandleProgressStream)
		r.Post("/discovery/terminate", discH.HandleTerminate)
		r.Get("/discovery/streamers", discH.HandleStreamers)
		r.Post("/discovery/streamers/crm", discH.HandleAddToCRM)
		r.Post("/discovery/streamers/{id}/favourite", discH.HandleFavourite)
		r.Post("/discovery/streamers/{id}/move", discH.HandleMove)
		r.Delete("/discovery/streamers/{id}", discH.HandleDeleteStreamer)

		r.Get("/folders", folderH.HandleList)
		r.Post("/folders", folderH.HandleCreate)
		r.Delete("/folders/{id}", folderH.HandleDelete)
	})

	return &testAPI{router: r, db: db, tokens: tokens, user: user, scraper: scraper}
}

// do sends a request as the test user. body is JSON-encoded unless it is
// already a string.
func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	token, err := a.tokens.Generate(a.user.ID)
	require.NoError(t, err)
	return a.send(t, method, path, body, &http.Cookie{Name: auth.CookieName, Value: token})
}

// send sends a request with an optional cookie.
func (a *testAPI) send(t *testing.T, method, path string, body any, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = bytes.NewBufferString(b)
	default:
		buf, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(buf)
	}

	req := httptest.NewRequest(method, path, rd)
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v), "body: %s", rr.Body.String())
	return v
}
