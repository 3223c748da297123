package model

// Platform identifies where a creator streams or publishes.
type Platform string

const (
	PlatformTwitch  Platform = "twitch"
	PlatformYouTube Platform = "youtube"
)

// Valid reports whether p is a known platform.
func (p Platform) Valid() bool {
	return p == PlatformTwitch || p == PlatformYouTube
}

// TwitchData is one scraped Twitch channel as returned by the scraping backend.
// The JSON names follow the backend's snake_case payloads.
type TwitchData struct {
	ID          string            `json:"id"`
	Username    string            `json:"username"`
	DisplayName string            `json:"display_name"`
	Followers   int64             `json:"followers"`
	ViewerCount int64             `json:"viewer_count"`
	Language    string            `json:"language"`
	Category    string            `json:"category"`
	Title       string            `json:"title"`
	Email       string            `json:"email"`
	Socials     map[string]string `json:"socials,omitempty"` // platform → URL
	ProfileURL  string            `json:"profile_url"`
}

// YouTubeData is one scraped YouTube channel.
type YouTubeData struct {
	ID          string            `json:"id"`
	ChannelID   string            `json:"channel_id"`
	ChannelName string            `json:"channel_name"`
	Subscribers int64             `json:"subscribers"`
	ViewCount   int64             `json:"view_count"`
	VideoCount  int64             `json:"video_count"`
	Country     string            `json:"country"`
	Email       string            `json:"email"`
	Socials     map[string]string `json:"socials,omitempty"`
	ChannelURL  string            `json:"channel_url"`
}

// Category and Language are lookup entries used to populate the search filters.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Language struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Lookups bundles both lookup lists for a single dashboard request.
type Lookups struct {
	Categories []Category `json:"categories"`
	Languages  []Language `json:"languages"`
}

// ScrapeStatus is the lifecycle state reported by the backend for a search.
type ScrapeStatus string

const (
	ScrapeIdle       ScrapeStatus = "idle"
	ScrapeRunning    ScrapeStatus = "running"
	ScrapeCompleted  ScrapeStatus = "completed"
	ScrapeFailed     ScrapeStatus = "failed"
	ScrapeTerminated ScrapeStatus = "terminated"
)

// Terminal reports whether no further progress updates will follow.
func (s ScrapeStatus) Terminal() bool {
	return s == ScrapeCompleted || s == ScrapeFailed || s == ScrapeTerminated
}

// ScrapingProgress is the polled progress payload of an in-flight search.
type ScrapingProgress struct {
	Status    ScrapeStatus `json:"status"`
	Processed int          `json:"processed"`
	Total     int          `json:"total"`
	Found     int          `json:"found"`
	Message   string       `json:"message,omitempty"`
}

// Percent is Processed/Total as 0..100, 0 when Total is unknown.
func (p ScrapingProgress) Percent() int {
	if p.Total <= 0 {
		return 0
	}
	pct := p.Processed * 100 / p.Total
	if pct > 100 {
		return 100
	}
	return pct
}

// SavedStreamer is a Twitch channel the user saved into a folder.
type SavedStreamer struct {
	ID          string     `json:"id"`
	StreamerID  string     `json:"streamer_id"`
	FolderID    string     `json:"folder_id"`
	IsFavourite bool       `json:"is_favourite"`
	Streamer    TwitchData `json:"streamer"`
}

// SearchFilter is the set of criteria the discovery search accepts.
// Zero values mean "not set".
type SearchFilter struct {
	Language     string `json:"language"`
	Category     string `json:"category"`
	MinFollowers int64  `json:"min_followers"`
	MaxFollowers int64  `json:"max_followers"`
	MinViewers   int64  `json:"min_viewers"`
	MaxViewers   int64  `json:"max_viewers"`
}

// SavedFilter is a named SearchFilter persisted on the backend.
type SavedFilter struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	SearchFilter
}

// Folder groups saved streamers. "All" and "Favourites" are system folders
// that always exist and cannot be removed.
type Folder struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	System bool   `json:"system"`
}

const (
	FolderAll        = "All"
	FolderFavourites = "Favourites"

	// Folder IDs the backend understands for the two system folders.
	FolderAllID        = "all"
	FolderFavouritesID = "favourites"
)

// SystemFolders returns fresh copies of the two mandatory folders.
func SystemFolders() []Folder {
	return []Folder{
		{ID: FolderAllID, Name: FolderAll, System: true},
		{ID: FolderFavouritesID, Name: FolderFavourites, System: true},
	}
}
