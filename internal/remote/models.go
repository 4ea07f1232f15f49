package remote

import "time"

// DefaultLimit is the page size used when a request does not name one.
const DefaultLimit = 20

type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityUnlisted Visibility = "unlisted"
	VisibilityPrivate  Visibility = "private"
	VisibilityDirect   Visibility = "direct"
)

// Valid reports whether v is one of the four known visibilities.
func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPublic, VisibilityUnlisted, VisibilityPrivate, VisibilityDirect:
		return true
	}
	return false
}

// Account is a remote user profile.
type Account struct {
	ID             string         `json:"id"`
	Username       string         `json:"username"`
	Acct           string         `json:"acct"`
	DisplayName    string         `json:"display_name"`
	Note           string         `json:"note"`
	URL            string         `json:"url"`
	Avatar         string         `json:"avatar"`
	AvatarStatic   string         `json:"avatar_static"`
	Header         string         `json:"header"`
	HeaderStatic   string         `json:"header_static"`
	Locked         bool           `json:"locked"`
	Fields         []ProfileField `json:"fields"`
	Emojis         []CustomEmoji  `json:"emojis"`
	Bot            bool           `json:"bot"`
	Group          bool           `json:"group"`
	Discoverable   *bool          `json:"discoverable"`
	CreatedAt      time.Time      `json:"created_at"`
	LastStatusAt   *string        `json:"last_status_at"`
	StatusesCount  int64          `json:"statuses_count"`
	FollowersCount int64          `json:"followers_count"`
	FollowingCount int64          `json:"following_count"`
}

type ProfileField struct {
	Name       string     `json:"name"`
	Value      string     `json:"value"`
	VerifiedAt *time.Time `json:"verified_at"`
}

type CustomEmoji struct {
	Shortcode       string  `json:"shortcode"`
	URL             string  `json:"url"`
	StaticURL       string  `json:"static_url"`
	VisibleInPicker bool    `json:"visible_in_picker"`
	Category        *string `json:"category"`
}

type Tag struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type Mention struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Acct     string `json:"acct"`
	URL      string `json:"url"`
}

type Poll struct {
	ID          string       `json:"id"`
	ExpiresAt   *time.Time   `json:"expires_at"`
	Expired     bool         `json:"expired"`
	Multiple    bool         `json:"multiple"`
	VotesCount  int64        `json:"votes_count"`
	VotersCount *int64       `json:"voters_count"`
	Options     []PollOption `json:"options"`
	Voted       *bool        `json:"voted"`
	OwnVotes    []int        `json:"own_votes"`
}

type PollOption struct {
	Title      string `json:"title"`
	VotesCount *int64 `json:"votes_count"`
}

type Application struct {
	Name    string  `json:"name"`
	Website *string `json:"website"`
}

// Post is a status as presented to the UI. PlainContent is Content with the
// markup stripped, for screen readers.
type Post struct {
	ID                 string            `json:"id"`
	URI                string            `json:"uri"`
	URL                *string           `json:"url"`
	Account            Account           `json:"account"`
	Content            string            `json:"content"`
	PlainContent       *string           `json:"plain_content"`
	SpoilerText        string            `json:"spoiler_text"`
	Visibility         Visibility        `json:"visibility"`
	Sensitive          bool              `json:"sensitive"`
	CreatedAt          time.Time         `json:"created_at"`
	EditedAt           *time.Time        `json:"edited_at"`
	Language           *string           `json:"language"`
	InReplyToID        *string           `json:"in_reply_to_id"`
	InReplyToAccountID *string           `json:"in_reply_to_account_id"`
	MediaAttachments   []MediaAttachment `json:"media_attachments"`
	Tags               []Tag             `json:"tags"`
	Mentions           []Mention         `json:"mentions"`
	Emojis             []CustomEmoji     `json:"emojis"`
	ReblogsCount       int64             `json:"reblogs_count"`
	FavouritesCount    int64             `json:"favourites_count"`
	RepliesCount       int64             `json:"replies_count"`
	Reblog             *Post             `json:"reblog"`
	Poll               *Poll             `json:"poll"`
	Application        *Application      `json:"application"`
	Reblogged          *bool             `json:"reblogged"`
	Favourited         *bool             `json:"favourited"`
	Bookmarked         *bool             `json:"bookmarked"`
	Muted              *bool             `json:"muted"`
	Pinned             *bool             `json:"pinned"`
}

// NewPost is the body of post.create.
type NewPost struct {
	Content     string     `json:"content"`
	SpoilerText *string    `json:"spoiler_text,omitempty"`
	Visibility  Visibility `json:"visibility"`
	Sensitive   bool       `json:"sensitive"`
	Language    *string    `json:"language,omitempty"`
	InReplyToID *string    `json:"in_reply_to_id,omitempty"`
	MediaIDs    []string   `json:"media_ids"`
	Poll        *NewPoll   `json:"poll,omitempty"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
}

type NewPoll struct {
	Options    []string `json:"options"`
	ExpiresIn  int64    `json:"expires_in"`
	Multiple   bool     `json:"multiple"`
	HideTotals bool     `json:"hide_totals"`
}

type MediaType string

const (
	MediaImage   MediaType = "image"
	MediaVideo   MediaType = "video"
	MediaGifv    MediaType = "gifv"
	MediaAudio   MediaType = "audio"
	MediaUnknown MediaType = "unknown"
)

type MediaAttachment struct {
	ID          string     `json:"id"`
	Type        MediaType  `json:"type"`
	URL         string     `json:"url"`
	PreviewURL  *string    `json:"preview_url"`
	RemoteURL   *string    `json:"remote_url"`
	Meta        *MediaMeta `json:"meta"`
	Description *string    `json:"description"`
	Blurhash    *string    `json:"blurhash"`
}

type MediaMeta struct {
	Original      *MediaDimensions `json:"original"`
	Small         *MediaDimensions `json:"small"`
	Focus         *MediaFocus      `json:"focus"`
	Length        *string          `json:"length"`
	Duration      *float64         `json:"duration"`
	FPS           *int             `json:"fps"`
	AudioEncode   *string          `json:"audio_encode"`
	AudioBitrate  *string          `json:"audio_bitrate"`
	AudioChannels *string          `json:"audio_channels"`
}

type MediaDimensions struct {
	Width     *int     `json:"width"`
	Height    *int     `json:"height"`
	Size      *string  `json:"size"`
	Aspect    *float64 `json:"aspect"`
	FrameRate *string  `json:"frame_rate"`
	Duration  *float64 `json:"duration"`
	Bitrate   *int64   `json:"bitrate"`
}

type MediaFocus struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// MediaUploadRequest names a local file to upload.
type MediaUploadRequest struct {
	FilePath    string      `json:"file_path"`
	Description *string     `json:"description"`
	Focus       *MediaFocus `json:"focus"`
}

type NotificationType string

const (
	NotificationMention              NotificationType = "mention"
	NotificationReblog               NotificationType = "reblog"
	NotificationFavourite            NotificationType = "favourite"
	NotificationFollow               NotificationType = "follow"
	NotificationFollowRequest        NotificationType = "follow_request"
	NotificationPoll                 NotificationType = "poll"
	NotificationUpdate               NotificationType = "update"
	NotificationAdminSignUp          NotificationType = "admin_sign_up"
	NotificationAdminReport          NotificationType = "admin_report"
	NotificationSeveredRelationships NotificationType = "severed_relationships"
	NotificationUnknown              NotificationType = "unknown"
)

type Notification struct {
	ID        string           `json:"id"`
	Type      NotificationType `json:"type"`
	CreatedAt time.Time        `json:"created_at"`
	Account   Account          `json:"account"`
	Status    *Post            `json:"status"`
	Read      bool             `json:"read"`
}

// NotificationRequest asks for one page of notifications, optionally
// filtered by type.
type NotificationRequest struct {
	MaxID        string             `json:"max_id,omitempty"`
	SinceID      string             `json:"since_id,omitempty"`
	MinID        string             `json:"min_id,omitempty"`
	Limit        int                `json:"limit,omitempty"`
	Types        []NotificationType `json:"types,omitempty"`
	ExcludeTypes []NotificationType `json:"exclude_types,omitempty"`
}

func (r NotificationRequest) EffectiveLimit() int {
	if r.Limit > 0 {
		return r.Limit
	}
	return DefaultLimit
}

type NotificationResponse struct {
	Notifications []Notification `json:"notifications"`
	MaxID         *string        `json:"max_id"`
	MinID         *string        `json:"min_id"`
	HasMore       bool           `json:"has_more"`
}

// NewNotificationResponse computes pagination cursors like NewTimelineResponse.
func NewNotificationResponse(items []Notification, limit int) *NotificationResponse {
	if items == nil {
		items = []Notification{}
	}
	resp := &NotificationResponse{Notifications: items, HasMore: len(items) == limit}
	if len(items) > 0 {
		first, last := items[0].ID, items[len(items)-1].ID
		resp.MaxID, resp.MinID = &first, &last
	}
	return resp
}

type InstanceInfo struct {
	URL                 string   `json:"url"`
	Title               string   `json:"title"`
	ShortDescription    *string  `json:"short_description"`
	Description         string   `json:"description"`
	Version             string   `json:"version"`
	UserCount           *int64   `json:"user_count"`
	StatusCount         *int64   `json:"status_count"`
	DomainCount         *int64   `json:"domain_count"`
	Thumbnail           *string  `json:"thumbnail"`
	MaxTootChars        *int     `json:"max_toot_chars"`
	MaxMediaAttachments *int     `json:"max_media_attachments"`
	Languages           []string `json:"languages"`
	Registrations       bool     `json:"registrations"`
	ApprovalRequired    bool     `json:"approval_required"`
}

// PendingApp is an application registered with an instance for an
// authorization that has not completed yet.
type PendingApp struct {
	ClientID     string
	ClientSecret string
	InstanceURL  string
}

// AuthStart is returned to the UI so the user can authorize in a browser.
type AuthStart struct {
	AuthURL string `json:"auth_url"`
	State   string `json:"state"`
}

// StreamKind classifies a message received on a live stream.
type StreamKind int

const (
	StreamUpdate StreamKind = iota
	StreamStatusUpdate
	StreamDelete
	StreamNotification
	StreamOther
)

func (k StreamKind) String() string {
	switch k {
	case StreamUpdate:
		return "update"
	case StreamStatusUpdate:
		return "status.update"
	case StreamDelete:
		return "delete"
	case StreamNotification:
		return "notification"
	default:
		return "other"
	}
}

// StreamMessage is one decoded stream frame. Exactly one of Post, PostID or
// Notification is set, according to Kind.
type StreamMessage struct {
	Kind         StreamKind
	Event        string
	Post         *Post
	PostID       string
	Notification *Notification
}
