package listing

import (
	"strings"

	"github.com/sakif/creatorhub/internal/apperror"
	"github.com/sakif/creatorhub/internal/model"
)

// LeadColumns are the sortable columns of the CRM table.
var LeadColumns = Columns[model.CrmLead]{
	"name":        ByText(func(l model.CrmLead) string { return l.DisplayName }),
	"username":    ByText(func(l model.CrmLead) string { return l.Username }),
	"email":       ByText(func(l model.CrmLead) string { return l.Email }),
	"platform":    ByText(func(l model.CrmLead) string { return string(l.Platform) }),
	"followers":   ByNumber(func(l model.CrmLead) int64 { return l.Followers }),
	"viewers":     ByNumber(func(l model.CrmLead) int64 { return l.AvgViewers }),
	"stage":       ByNumber(func(l model.CrmLead) int { return stageRank(l.Stage) }),
	"status":      ByText(func(l model.CrmLead) string { return string(l.SequenceStatus) }),
	"replied":     ByBool(func(l model.CrmLead) bool { return l.Replied }),
	"step":        ByNumber(func(l model.CrmLead) int { return l.CurrentStep }),
	"createdAt":   ByNumber(func(l model.CrmLead) int64 { return l.CreatedAt.UnixNano() }),
	"lastContact": ByNumber(func(l model.CrmLead) int64 { return unixOrZero(l) }),
}

// TwitchColumns are the sortable columns of the search results and saved
// streamers tables.
var TwitchColumns = Columns[model.TwitchData]{
	"username":  ByText(func(t model.TwitchData) string { return t.Username }),
	"followers": ByNumber(func(t model.TwitchData) int64 { return t.Followers }),
	"viewers":   ByNumber(func(t model.TwitchData) int64 { return t.ViewerCount }),
	"language":  ByText(func(t model.TwitchData) string { return t.Language }),
	"category":  ByText(func(t model.TwitchData) string { return t.Category }),
	"email":     ByText(func(t model.TwitchData) string { return t.Email }),
}

// SavedStreamerColumns reuse TwitchColumns on the embedded record and add
// the favourite flag.
var SavedStreamerColumns = func() Columns[model.SavedStreamer] {
	cols := Columns[model.SavedStreamer]{
		"favourite": ByBool(func(s model.SavedStreamer) bool { return s.IsFavourite }),
	}
	for name, c := range TwitchColumns {
		cols[name] = func(a, b model.SavedStreamer) int { return c(a.Streamer, b.Streamer) }
	}
	return cols
}()

// YouTubeColumns are the sortable columns of YouTube results.
var YouTubeColumns = Columns[model.YouTubeData]{
	"name":        ByText(func(y model.YouTubeData) string { return y.ChannelName }),
	"subscribers": ByNumber(func(y model.YouTubeData) int64 { return y.Subscribers }),
	"views":       ByNumber(func(y model.YouTubeData) int64 { return y.ViewCount }),
	"videos":      ByNumber(func(y model.YouTubeData) int64 { return y.VideoCount }),
	"country":     ByText(func(y model.YouTubeData) string { return y.Country }),
}

func stageRank(s model.LeadStage) int {
	for i, st := range model.LeadStages {
		if st == s {
			return i
		}
	}
	return len(model.LeadStages)
}

func unixOrZero(l model.CrmLead) int64 {
	if l.LastContactedAt == nil {
		return 0
	}
	return l.LastContactedAt.UnixNano()
}

// MatchLead is the free-text search used by the CRM table: it matches the
// display name, username or email, case-insensitively.
func MatchLead(search string) func(model.CrmLead) bool {
	needle := strings.ToLower(strings.TrimSpace(search))
	return func(l model.CrmLead) bool {
		if needle == "" {
			return true
		}
		return strings.Contains(strings.ToLower(l.DisplayName), needle) ||
			strings.Contains(strings.ToLower(l.Username), needle) ||
			strings.Contains(strings.ToLower(l.Email), needle)
	}
}

// ActiveFilters counts the criteria that are set on f. The filter accordion
// shows this number next to its title.
func ActiveFilters(f model.SearchFilter) int {
	n := 0
	if f.Language != "" {
		n++
	}
	if f.Category != "" {
		n++
	}
	if f.MinFollowers > 0 {
		n++
	}
	if f.MaxFollowers > 0 {
		n++
	}
	if f.MinViewers > 0 {
		n++
	}
	if f.MaxViewers > 0 {
		n++
	}
	return n
}

// ValidateFilter rejects negative bounds and inverted ranges.
func ValidateFilter(f model.SearchFilter) error {
	if f.MinFollowers < 0 || f.MaxFollowers < 0 || f.MinViewers < 0 || f.MaxViewers < 0 {
		return apperror.ValidationFailed("filter", "follower and viewer bounds cannot be negative")
	}
	if f.MaxFollowers > 0 && f.MinFollowers > f.MaxFollowers {
		return apperror.ValidationFailed("max_followers", "max followers must be greater than min followers")
	}
	if f.MaxViewers > 0 && f.MinViewers > f.MaxViewers {
		return apperror.ValidationFailed("max_viewers", "max viewers must be greater than min viewers")
	}
	return nil
}

// MatchTwitch reports whether t satisfies every criterion set on f.
// Language and category compare case-insensitively.
func MatchTwitch(f model.SearchFilter) func(model.TwitchData) bool {
	return func(t model.TwitchData) bool {
		if f.Language != "" && !strings.EqualFold(f.Language, t.Language) {
			return false
		}
		if f.Category != "" && !strings.EqualFold(f.Category, t.Category) {
			return false
		}
		if f.MinFollowers > 0 && t.Followers < f.MinFollowers {
			return false
		}
		if f.MaxFollowers > 0 && t.Followers > f.MaxFollowers {
			return false
		}
		if f.MinViewers > 0 && t.ViewerCount < f.MinViewers {
			return false
		}
		if f.MaxViewers > 0 && t.ViewerCount > f.MaxViewers {
			return false
		}
		return true
	}
}
