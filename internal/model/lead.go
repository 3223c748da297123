package model

import "time"

// LeadStage is the position of a lead in the sales pipeline.
type LeadStage string

const (
	StageNew         LeadStage = "new"
	StageContacted   LeadStage = "contacted"
	StageEngaged     LeadStage = "engaged"
	StageNegotiating LeadStage = "negotiating"
	StageWon         LeadStage = "won"
	StageLost        LeadStage = "lost"
)

// LeadStages lists every stage in pipeline order.
var LeadStages = []LeadStage{StageNew, StageContacted, StageEngaged, StageNegotiating, StageWon, StageLost}

func (s LeadStage) Valid() bool {
	for _, v := range LeadStages {
		if s == v {
			return true
		}
	}
	return false
}

// SequenceStatus tracks a lead's progress through its email sequence.
type SequenceStatus string

const (
	SequenceNotStarted SequenceStatus = "not_started"
	SequenceActive     SequenceStatus = "active"
	SequencePaused     SequenceStatus = "paused"
	SequenceCompleted  SequenceStatus = "completed"
	SequenceReplied    SequenceStatus = "replied"
)

var SequenceStatuses = []SequenceStatus{SequenceNotStarted, SequenceActive, SequencePaused, SequenceCompleted, SequenceReplied}

func (s SequenceStatus) Valid() bool {
	for _, v := range SequenceStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Classification is how a reply from the creator was categorised.
type Classification string

const (
	ClassUnclassified  Classification = "unclassified"
	ClassInterested    Classification = "interested"
	ClassNotInterested Classification = "not_interested"
	ClassOutOfOffice   Classification = "out_of_office"
	ClassBounced       Classification = "bounced"
)

var Classifications = []Classification{ClassUnclassified, ClassInterested, ClassNotInterested, ClassOutOfOffice, ClassBounced}

func (c Classification) Valid() bool {
	for _, v := range Classifications {
		if c == v {
			return true
		}
	}
	return false
}

// CrmLead is a creator record augmented with outreach state.
//
// (Platform, Username) is unique per user: importing the same creator twice
// updates the existing lead instead of creating a duplicate.
type CrmLead struct {
	ID              string            `json:"id"`
	UserID          string            `json:"userId"`
	Platform        Platform          `json:"platform"`
	Username        string            `json:"username"`
	DisplayName     string            `json:"displayName"`
	Email           string            `json:"email"`
	Followers       int64             `json:"followers"`
	AvgViewers      int64             `json:"avgViewers"`
	Socials         map[string]string `json:"socials,omitempty"`
	Notes           string            `json:"notes"`
	SequenceID      string            `json:"sequenceId,omitempty"`
	SequenceStatus  SequenceStatus    `json:"sequenceStatus"`
	CurrentStep     int               `json:"currentStep"` // number of steps already sent
	Stage           LeadStage         `json:"stage"`
	Replied         bool              `json:"replied"`
	Classification  Classification    `json:"classification"`
	EnrolledAt      *time.Time        `json:"enrolledAt,omitempty"`
	LastContactedAt *time.Time        `json:"lastContactedAt,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// LeadFromTwitch converts a scraped Twitch record into a fresh lead.
func LeadFromTwitch(userID string, t TwitchData) CrmLead {
	name := t.DisplayName
	if name == "" {
		name = t.Username
	}
	return CrmLead{
		UserID:         userID,
		Platform:       PlatformTwitch,
		Username:       t.Username,
		DisplayName:    name,
		Email:          t.Email,
		Followers:      t.Followers,
		AvgViewers:     t.ViewerCount,
		Socials:        t.Socials,
		SequenceStatus: SequenceNotStarted,
		Stage:          StageNew,
		Classification: ClassUnclassified,
	}
}

// LeadFromYouTube converts a scraped YouTube channel into a fresh lead.
// YouTube has no live viewer count, so AvgViewers carries the total views.
func LeadFromYouTube(userID string, y YouTubeData) CrmLead {
	username := y.ChannelID
	if username == "" {
		username = y.ID
	}
	return CrmLead{
		UserID:         userID,
		Platform:       PlatformYouTube,
		Username:       username,
		DisplayName:    y.ChannelName,
		Email:          y.Email,
		Followers:      y.Subscribers,
		AvgViewers:     y.ViewCount,
		Socials:        y.Socials,
		SequenceStatus: SequenceNotStarted,
		Stage:          StageNew,
		Classification: ClassUnclassified,
	}
}

// LeadStats summarises a user's pipeline for the CRM header cards.
type LeadStats struct {
	Total     int                    `json:"total"`
	ByStage   map[LeadStage]int      `json:"byStage"`
	ByStatus  map[SequenceStatus]int `json:"byStatus"`
	Replied   int                    `json:"replied"`
	WithEmail int                    `json:"withEmail"`
	ReplyRate float64                `json:"replyRate"` // replied / contacted, 0..1
}
