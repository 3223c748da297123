package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sakif/creatorhub/internal/apperror"
	"github.com/sakif/creatorhub/internal/backend"
	"github.com/sakif/creatorhub/internal/listing"
	"github.com/sakif/creatorhub/internal/model"
	"github.com/sakif/creatorhub/internal/repository"
)

// ScraperBackend is the part of the scraping backend the discovery and
// folder services use. *backend.Client implements it; tests use a fake.
type ScraperBackend interface {
	Categories(ctx context.Context) ([]model.Category, error)
	Languages(ctx context.Context) ([]model.Language, error)
	StartSearch(ctx context.Context, req backend.SearchRequest) error
	Progress(ctx context.Context, userID string) (*model.ScrapingProgress, error)
	Terminate(ctx context.Context, userID string) error
	SaveFilter(ctx context.Context, f model.SavedFilter) error
	Streamers(ctx context.Context, userID, folderID string) ([]model.SavedStreamer, error)
	SetFavourite(ctx context.Context, streamerID string, favourite bool) error
	MoveStreamer(ctx context.Context, savedID, folderID string) error
	DeleteStreamer(ctx context.Context, savedID string) error
	Folders(ctx context.Context, userID string) ([]model.Folder, error)
	CreateFolder(ctx context.Context, userID, name string) (*model.Folder, error)
	DeleteFolder(ctx context.Context, folderID string) error
}

var _ ScraperBackend = (*backend.Client)(nil)

// Search limits.
const (
	DefaultSearchLimit = 100
	MaxSearchLimit     = 1000
	SearchCost         = 1 // credits per search
)

// DiscoveryConfig tunes the discovery service.
type DiscoveryConfig struct {
	LookupTTL    time.Duration // how long categories + languages are cached
	PollInterval time.Duration // progress stream polling period
}

// DiscoveryService is the creator search: lookups, starting and watching a
// scrape, and the saved-streamers tables it fills.
//
// CREDITS:
// Starting a search costs SearchCost credits, taken before the backend is
// called. If the backend refuses or can't be reached the credit is given
// back, so a user is only charged for searches that actually started.
type DiscoveryService struct {
	backend ScraperBackend
	users   repository.UserRepository
	leads   *LeadService
	poller  *backend.Poller
	ttl     time.Duration
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	lookups  *model.Lookups
	cachedAt time.Time
}

func NewDiscoveryService(
	b ScraperBackend,
	users repository.UserRepository,
	leads *LeadService,
	cfg DiscoveryConfig,
	logger *slog.Logger,
) *DiscoveryService {
	return &DiscoveryService{
		backend: b,
		users:   users,
		leads:   leads,
		poller:  backend.NewPoller(b, cfg.PollInterval, logger),
		ttl:     cfg.LookupTTL,
		logger:  logger,
		now:     time.Now,
	}
}

// Lookups returns the categories and languages for the filter dropdowns.
//
// Both lists change rarely, so they are cached for the configured TTL. On a
// miss the two requests run concurrently; if either fails nothing is cached.
func (s *DiscoveryService) Lookups(ctx context.Context) (*model.Lookups, error) {
	s.mu.Lock()
	if s.lookups != nil && s.now().Sub(s.cachedAt) < s.ttl {
		l := s.lookups
		s.mu.Unlock()
		return l, nil
	}
	s.mu.Unlock()

	var fresh model.Lookups
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cats, err := s.backend.Categories(gctx)
		fresh.Categories = cats
		return err
	})
	g.Go(func() error {
		langs, err := s.backend.Languages(gctx)
		fresh.Languages = langs
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.lookups = &fresh
	s.cachedAt = s.now()
	s.mu.Unlock()
	return &fresh, nil
}

// SearchInput is the body of POST /api/discovery/search.
type SearchInput struct {
	model.SearchFilter
	Limit int `json:"limit"`
}

// SearchStarted is returned once the backend accepted the search.
type SearchStarted struct {
	Credits  int                    `json:"credits"` // balance after the search was paid for
	Progress model.ScrapingProgress `json:"progress"`
}

// Search validates the filter, charges a credit and starts a scrape.
// Results land in the user's "All" folder.
func (s *DiscoveryService) Search(ctx context.Context, userID string, in SearchInput) (*SearchStarted, error) {
	if err := listing.ValidateFilter(in.SearchFilter); err != nil {
		return nil, err
	}
	switch {
	case in.Limit < 0:
		return nil, apperror.ValidationFailed("limit", "limit cannot be negative")
	case in.Limit == 0:
		in.Limit = DefaultSearchLimit
	case in.Limit > MaxSearchLimit:
		in.Limit = MaxSearchLimit
	}

	current, err := s.backend.Progress(ctx, userID)
	if err != nil {
		return nil, err
	}
	if current.Status == model.ScrapeRunning {
		return nil, &apperror.AppError{
			Err:     apperror.ErrConflict,
			Message: "a search is already running, wait for it to finish or stop it first",
		}
	}

	balance, err := s.users.AdjustCredits(ctx, userID, -SearchCost)
	if err != nil {
		return nil, err
	}

	err = s.backend.StartSearch(ctx, backend.SearchRequest{
		UserID:       userID,
		Limit:        in.Limit,
		SearchFilter: in.SearchFilter,
	})
	if err != nil {
		s.refund(userID)
		return nil, err
	}

	s.logger.Info("search started",
		slog.String("userID", userID),
		slog.Int("limit", in.Limit),
		slog.Int("activeFilters", listing.ActiveFilters(in.SearchFilter)),
		slog.Int("credits", balance),
	)
	return &SearchStarted{
		Credits:  balance,
		Progress: model.ScrapingProgress{Status: model.ScrapeRunning, Total: in.Limit},
	}, nil
}

// refund gives the search credit back. It runs on its own context so a
// cancelled request still gets its money back.
func (s *DiscoveryService) refund(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.users.AdjustCredits(ctx, userID, SearchCost); err != nil {
		s.logger.Error("refunding search credit",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
	}
}

// Progress returns one snapshot of the user's search.
func (s *DiscoveryService) Progress(ctx context.Context, userID string) (*model.ScrapingProgress, error) {
	return s.backend.Progress(ctx, userID)
}

// WatchProgress streams snapshots until the search ends or ctx is done.
func (s *DiscoveryService) WatchProgress(ctx context.Context, userID string) <-chan model.ScrapingProgress {
	return s.poller.Poll(ctx, userID)
}

// Terminate stops the user's running search. Credits are not refunded:
// whatever was found so far is already saved.
func (s *DiscoveryService) Terminate(ctx context.Context, userID string) error {
	if err := s.backend.Terminate(ctx, userID); err != nil {
		return err
	}
	s.logger.Info("search terminated", slog.String("userID", userID))
	return nil
}

// SaveFilter stores a named filter on the backend.
func (s *DiscoveryService) SaveFilter(ctx context.Context, userID, name string, f model.SearchFilter) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return apperror.ValidationFailed("name", "give the filter a name")
	}
	if len(name) > MaxFolderNameLength {
		return apperror.ValidationFailed("name",
			fmt.Sprintf("filter name must be %d characters or less", MaxFolderNameLength))
	}
	if listing.ActiveFilters(f) == 0 {
		return apperror.ValidationFailed("filter", "set at least one filter before saving")
	}
	if err := listing.ValidateFilter(f); err != nil {
		return err
	}
	return s.backend.SaveFilter(ctx, model.SavedFilter{UserID: userID, Name: name, SearchFilter: f})
}

// StreamerQuery selects a page of saved streamers.
type StreamerQuery struct {
	FolderID string
	Filter   model.SearchFilter
	listing.Query
}

// SavedStreamers returns one page of a folder. The Favourites folder is the
// "All" folder narrowed to starred streamers.
func (s *DiscoveryService) SavedStreamers(ctx context.Context, userID string, q StreamerQuery) (listing.Page[model.SavedStreamer], error) {
	if err := listing.ValidateFilter(q.Filter); err != nil {
		return listing.Page[model.SavedStreamer]{}, err
	}

	folder := strings.TrimSpace(q.FolderID)
	favouritesOnly := strings.EqualFold(folder, model.FolderFavouritesID)
	if folder == "" || favouritesOnly {
		folder = model.FolderAllID
	}

	items, err := s.backend.Streamers(ctx, userID, folder)
	if err != nil {
		return listing.Page[model.SavedStreamer]{}, err
	}

	match := listing.MatchTwitch(q.Filter)
	search := strings.ToLower(q.Search)
	items = listing.Filter(items, func(st model.SavedStreamer) bool {
		if favouritesOnly && !st.IsFavourite {
			return false
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(st.Streamer.Username), search) &&
			!strings.Contains(strings.ToLower(st.Streamer.DisplayName), search) {
			return false
		}
		return match(st.Streamer)
	})
	return listing.Apply(items, listing.SavedStreamerColumns, q.Query)
}

// savedStreamer finds one of the user's saved streamers by its saved ID or
// the underlying streamer ID. Anything the user hasn't saved is
// apperror.ErrNotFound.
func (s *DiscoveryService) savedStreamer(ctx context.Context, userID, id string) (*model.SavedStreamer, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "streamer ID is required")
	}

	saved, err := s.backend.Streamers(ctx, userID, model.FolderAllID)
	if err != nil {
		return nil, err
	}
	for i := range saved {
		if saved[i].ID == id || saved[i].StreamerID == id {
			return &saved[i], nil
		}
	}
	return nil, apperror.NotFound("saved streamer", id)
}

// ToggleFavourite stars or unstars a saved streamer.
func (s *DiscoveryService) ToggleFavourite(ctx context.Context, userID, id string, favourite bool) error {
	st, err := s.savedStreamer(ctx, userID, id)
	if err != nil {
		return err
	}
	return s.backend.SetFavourite(ctx, st.StreamerID, favourite)
}

// MoveStreamer files a saved streamer into another of the user's folders.
// Favourites is a flag rather than a place, so it can't be a move target.
func (s *DiscoveryService) MoveStreamer(ctx context.Context, userID, id, folderID string) error {
	folderID = strings.TrimSpace(folderID)
	switch {
	case folderID == "":
		return apperror.ValidationFailed("folderId", "choose a folder")
	case strings.EqualFold(folderID, model.FolderFavouritesID):
		return apperror.ValidationFailed("folderId", "use the star to add a streamer to Favourites")
	}

	st, err := s.savedStreamer(ctx, userID, id)
	if err != nil {
		return err
	}

	folders, err := userFolders(ctx, s.backend, userID)
	if err != nil {
		return err
	}
	found := false
	for _, f := range folders {
		if f.ID == folderID {
			found = true
			break
		}
	}
	if !found {
		return apperror.NotFound("folder", folderID)
	}

	return s.backend.MoveStreamer(ctx, st.ID, folderID)
}

// DeleteStreamer removes a saved streamer from every folder.
func (s *DiscoveryService) DeleteStreamer(ctx context.Context, userID, id string) error {
	st, err := s.savedStreamer(ctx, userID, id)
	if err != nil {
		return err
	}
	return s.backend.DeleteStreamer(ctx, st.ID)
}

// AddToCRM imports saved streamers as leads. ids may be saved-streamer IDs
// or the underlying streamer IDs.
func (s *DiscoveryService) AddToCRM(ctx context.Context, userID string, ids []string) (*ImportResult, error) {
	ids = cleanIDs(ids)
	if len(ids) == 0 {
		return nil, apperror.ValidationFailed("ids", "select at least one streamer")
	}

	saved, err := s.backend.Streamers(ctx, userID, model.FolderAllID)
	if err != nil {
		return nil, err
	}

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var picked []model.TwitchData
	for _, st := range saved {
		if want[st.ID] || want[st.StreamerID] {
			picked = append(picked, st.Streamer)
		}
	}
	if len(picked) == 0 {
		return nil, apperror.NotFound("saved streamer", strings.Join(ids, ","))
	}

	res, err := s.leads.ImportFromCreators(ctx, userID, ImportInput{Twitch: picked})
	if err != nil {
		if errors.Is(err, apperror.ErrValidation) {
			return nil, err
		}
		return nil, fmt.Errorf("adding streamers to CRM: %w", err)
	}
	return res, nil
}
