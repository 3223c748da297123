package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sakif/creatorhub/internal/apperror"
	"github.com/sakif/creatorhub/internal/backend"
	"github.com/sakif/creatorhub/internal/logging"
	"github.com/sakif/creatorhub/internal/model"
	"github.com/sakif/creatorhub/internal/repository/sqlite"
)

// =========================================================================
// IN-MEMORY STORE
// =========================================================================
//
// The lead and sequence services lean on real SQL behaviour (the unique
// handle, filters, cascades), so their tests run against an in-memory
// SQLite database instead of a fake. The auth tests keep a hand-written
// fake (see auth_test.go) because they only need a map.

type testEnv struct {
	db        *sqlite.DB
	user      *model.User
	leads     *LeadService
	sequences *SequenceService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	user := &model.User{FirstName: "Sam", LastName: "Rivera", Email: "sam@brand.com", Credits: 3}
	require.NoError(t, db.Users().Create(context.Background(), user))

	log := logging.Discard()
	return &testEnv{
		db:        db,
		user:      user,
		leads:     NewLeadService(db.Leads(), db.Sequences(), db.Messages(), log),
		sequences: NewSequenceService(db.Sequences(), db.Leads(), db.Messages(), db.Users(), log),
	}
}

func (e *testEnv) createLead(t *testing.T, username, email string) *model.CrmLead {
	t.Helper()
	lead, err := e.leads.Create(context.Background(), e.user.ID, LeadInput{
		Platform: model.PlatformTwitch,
		Username: username,
		Email:    email,
	})
	require.NoError(t, err)
	return lead
}

func (e *testEnv) createSequence(t *testing.T, name string) *model.EmailSequence {
	t.Helper()
	seq, err := e.sequences.Create(context.Background(), e.user.ID, SequenceInput{
		Name: name,
		Emails: []model.SequenceEmail{
			{Subject: "Hi {{first_name}}", Body: "Big fan of your {{platform}} channel.", DelayDays: 0},
			{Subject: "Following up", Body: "Any thoughts, {{first_name}}? {{sender_first_name}}", DelayDays: 3},
		},
	})
	require.NoError(t, err)
	return seq
}

// =========================================================================
// FAKE SCRAPER BACKEND
// =========================================================================

// fakeBackend implements ScraperBackend in memory and counts lookup calls.
type fakeBackend struct {
	mu sync.Mutex

	categories []model.Category
	languages  []model.Language
	lookupErr  error
	lookups    int

	progress  model.ScrapingProgress
	searches  []backend.SearchRequest
	searchErr error

	filters    []model.SavedFilter
	streamers  []model.SavedStreamer
	favourites map[string]bool
	moves      map[string]string

	folders []model.Folder
	nextID  int

	// owner, when set, is the only user who sees streamers and folders.
	owner string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		categories: []model.Category{{ID: "1", Name: "Just Chatting"}},
		languages:  []model.Language{{ID: "en", Name: "English"}},
		progress:   model.ScrapingProgress{Status: model.ScrapeIdle},
		favourites: make(map[string]bool),
		moves:      make(map[string]string),
	}
}

func (f *fakeBackend) Categories(context.Context) ([]model.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	return f.categories, f.lookupErr
}

func (f *fakeBackend) Languages(context.Context) ([]model.Language, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.languages, f.lookupErr
}

func (f *fakeBackend) StartSearch(_ context.Context, req backend.SearchRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.searchErr != nil {
		return f.searchErr
	}
	f.searches = append(f.searches, req)
	f.progress = model.ScrapingProgress{Status: model.ScrapeRunning, Total: req.Limit}
	return nil
}

func (f *fakeBackend) Progress(context.Context, string) (*model.ScrapingProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.progress
	return &p, nil
}

func (f *fakeBackend) Terminate(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress.Status = model.ScrapeTerminated
	return nil
}

func (f *fakeBackend) SaveFilter(_ context.Context, sf model.SavedFilter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filters = append(f.filters, sf)
	return nil
}

func (f *fakeBackend) Streamers(_ context.Context, userID, folderID string) ([]model.SavedStreamer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.SavedStreamer, 0, len(f.streamers))
	if f.owner != "" && userID != f.owner {
		return out, nil
	}
	for _, s := range f.streamers {
		if folderID == model.FolderAllID || s.FolderID == folderID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeBackend) SetFavourite(_ context.Context, id string, fav bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.favourites[id] = fav
	return nil
}

func (f *fakeBackend) MoveStreamer(_ context.Context, savedID, folderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moves[savedID] = folderID
	return nil
}

func (f *fakeBackend) DeleteStreamer(_ context.Context, savedID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.streamers {
		if s.ID == savedID {
			f.streamers = append(f.streamers[:i], f.streamers[i+1:]...)
			return nil
		}
	}
	return apperror.NotFound("saved streamer", savedID)
}

func (f *fakeBackend) Folders(_ context.Context, userID string) ([]model.Folder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.owner != "" && userID != f.owner {
		return nil, nil
	}
	return append([]model.Folder(nil), f.folders...), nil
}

func (f *fakeBackend) CreateFolder(_ context.Context, _ string, name string) (*model.Folder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	folder := model.Folder{ID: fmt.Sprintf("f%d", f.nextID), Name: name}
	f.folders = append(f.folders, folder)
	return &folder, nil
}

func (f *fakeBackend) DeleteFolder(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, folder := range f.folders {
		if folder.ID == id {
			f.folders = append(f.folders[:i], f.folders[i+1:]...)
			return nil
		}
	}
	return apperror.NotFound("folder", id)
}

func streamer(id, username string, followers int64, folder string, fav bool) model.SavedStreamer {
	return model.SavedStreamer{
		ID:          "saved-" + id,
		StreamerID:  id,
		FolderID:    folder,
		IsFavourite: fav,
		Streamer: model.TwitchData{
			ID:          id,
			Username:    username,
			DisplayName: username,
			Followers:   followers,
			Language:    "en",
			Email:       username + "@example.com",
		},
	}
}
