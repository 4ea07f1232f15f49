package mastodon

import (
	"time"

	"github.com/blindodon/mastodon-core/internal/htmlconv"
	"github.com/blindodon/mastodon-core/internal/remote"
)

// Mastodon's status and account JSON line up with the domain models field for
// field, so those decode directly. The types below cover the entities whose
// shape differs.

type apiNotification struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	CreatedAt time.Time       `json:"created_at"`
	Account   *remote.Account `json:"account"`
	Status    *remote.Post    `json:"status"`
}

type apiInstance struct {
	URI              string   `json:"uri"`
	Title            string   `json:"title"`
	ShortDescription string   `json:"short_description"`
	Description      string   `json:"description"`
	Version          string   `json:"version"`
	Thumbnail        *string  `json:"thumbnail"`
	Languages        []string `json:"languages"`
	Registrations    bool     `json:"registrations"`
	ApprovalRequired bool     `json:"approval_required"`
	MaxTootChars     *int     `json:"max_toot_chars"`
	Stats            struct {
		UserCount   *int64 `json:"user_count"`
		StatusCount *int64 `json:"status_count"`
		DomainCount *int64 `json:"domain_count"`
	} `json:"stats"`
	Configuration struct {
		Statuses struct {
			MaxCharacters       *int `json:"max_characters"`
			MaxMediaAttachments *int `json:"max_media_attachments"`
		} `json:"statuses"`
	} `json:"configuration"`
}

func (i *apiInstance) toInfo(instanceURL string) *remote.InstanceInfo {
	info := &remote.InstanceInfo{
		URL:                 instanceURL,
		Title:               i.Title,
		Description:         i.Description,
		Version:             i.Version,
		UserCount:           i.Stats.UserCount,
		StatusCount:         i.Stats.StatusCount,
		DomainCount:         i.Stats.DomainCount,
		Thumbnail:           i.Thumbnail,
		MaxTootChars:        i.Configuration.Statuses.MaxCharacters,
		MaxMediaAttachments: i.Configuration.Statuses.MaxMediaAttachments,
		Languages:           i.Languages,
		Registrations:       i.Registrations,
		ApprovalRequired:    i.ApprovalRequired,
	}
	if info.MaxTootChars == nil {
		info.MaxTootChars = i.MaxTootChars
	}
	short := i.ShortDescription
	if short == "" {
		short = i.Description
	}
	info.ShortDescription = &short
	if info.Languages == nil {
		info.Languages = []string{}
	}
	return info
}

// notificationTypes maps Mastodon's type strings onto the domain set.
var notificationTypes = map[string]remote.NotificationType{
	"mention":               remote.NotificationMention,
	"reblog":                remote.NotificationReblog,
	"favourite":             remote.NotificationFavourite,
	"follow":                remote.NotificationFollow,
	"follow_request":        remote.NotificationFollowRequest,
	"poll":                  remote.NotificationPoll,
	"update":                remote.NotificationUpdate,
	"admin.sign_up":         remote.NotificationAdminSignUp,
	"admin.report":          remote.NotificationAdminReport,
	"severed_relationships": remote.NotificationSeveredRelationships,
}

func convertNotificationType(t string) remote.NotificationType {
	if nt, ok := notificationTypes[t]; ok {
		return nt
	}
	return remote.NotificationUnknown
}

// wireNotificationType is the inverse of convertNotificationType, used for
// the types[] and exclude_types[] filters.
func wireNotificationType(t remote.NotificationType) string {
	for wire, nt := range notificationTypes {
		if nt == t {
			return wire
		}
	}
	return string(t)
}

// convertNotification returns false for notifications without an account,
// which the UI cannot render.
func convertNotification(n *apiNotification) (remote.Notification, bool) {
	if n.Account == nil {
		return remote.Notification{}, false
	}
	out := remote.Notification{
		ID:        n.ID,
		Type:      convertNotificationType(n.Type),
		CreatedAt: n.CreatedAt,
		Account:   *n.Account,
		Status:    n.Status,
	}
	if out.Status != nil {
		preparePost(out.Status)
	}
	return out, true
}

// preparePost fills the derived fields of p and of the post it boosts.
func preparePost(p *remote.Post) {
	plain := htmlconv.PlainText(p.Content)
	p.PlainContent = &plain
	if p.MediaAttachments == nil {
		p.MediaAttachments = []remote.MediaAttachment{}
	}
	if p.Tags == nil {
		p.Tags = []remote.Tag{}
	}
	if p.Mentions == nil {
		p.Mentions = []remote.Mention{}
	}
	if p.Emojis == nil {
		p.Emojis = []remote.CustomEmoji{}
	}
	if p.Reblog != nil {
		preparePost(p.Reblog)
	}
}

func preparePosts(posts []remote.Post) []remote.Post {
	if posts == nil {
		return []remote.Post{}
	}
	for i := range posts {
		preparePost(&posts[i])
	}
	return posts
}
