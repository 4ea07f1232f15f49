// Package remote defines what the core needs from a microblogging service:
// the domain models handed to the UI and the capability interfaces a
// concrete protocol client implements.
package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnauthorized is returned when the service rejects the access token.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrRateLimited is returned when the service throttles the client.
	ErrRateLimited = errors.New("rate limited")
	// ErrNetwork wraps transport failures that never produced a response.
	ErrNetwork = errors.New("network error")
	// ErrNotFound is returned for missing remote objects and local files.
	ErrNotFound = errors.New("not found")
)

// APIError is a non-2xx answer from the service.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == 401
	case ErrRateLimited:
		return e.Status == 429
	case ErrNotFound:
		return e.Status == 404
	}
	return false
}

// Authenticator creates clients, either through the OAuth authorization
// code flow or from a stored token.
type Authenticator interface {
	// RegisterApp registers this application with the instance and returns
	// the credentials plus the URL the user must visit.
	RegisterApp(ctx context.Context, instanceURL string) (*PendingApp, *AuthStart, error)
	// Exchange trades an authorization code for an authenticated client.
	Exchange(ctx context.Context, app *PendingApp, code string) (Client, error)
	// FromToken builds a client without contacting the instance.
	FromToken(instanceURL, accessToken string) (Client, error)
}

// Client performs one remote operation per call on behalf of one account.
type Client interface {
	InstanceURL() string
	AccessToken() string

	VerifyCredentials(ctx context.Context) (*Account, error)
	Timeline(ctx context.Context, req TimelineRequest) (*TimelineResponse, error)

	CreatePost(ctx context.Context, post NewPost) (*Post, error)
	Boost(ctx context.Context, postID string) (*Post, error)
	Unboost(ctx context.Context, postID string) (*Post, error)
	Favourite(ctx context.Context, postID string) (*Post, error)
	Unfavourite(ctx context.Context, postID string) (*Post, error)

	Notifications(ctx context.Context, req NotificationRequest) (*NotificationResponse, error)
	ClearNotifications(ctx context.Context) error
	DismissNotification(ctx context.Context, id string) error

	UploadMedia(ctx context.Context, req MediaUploadRequest) (*MediaAttachment, error)
	Instance(ctx context.Context) (*InstanceInfo, error)

	// Stream opens a live stream for t. Messages arrive on the returned
	// channel until ctx is cancelled or the connection drops; the error
	// channel then yields the cause (nil on cancellation) and both close.
	Stream(ctx context.Context, t Timeline) (<-chan StreamMessage, <-chan error, error)

	// Close releases resources held by the client, such as the locked token.
	Close()
}

// NormalizeURL trims s, adds https:// when no scheme is given and drops a
// trailing slash.
func NormalizeURL(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
		s = "https://" + s
	}
	return strings.TrimRight(s, "/")
}

// Domain returns an instance URL without its scheme.
func Domain(instanceURL string) string {
	n := NormalizeURL(instanceURL)
	return strings.TrimPrefix(strings.TrimPrefix(n, "https://"), "http://")
}

// AccountID is the stable local identifier of an account: username@domain.
func AccountID(username, instanceURL string) string {
	return username + "@" + Domain(instanceURL)
}
