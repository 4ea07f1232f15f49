package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimelineJSON(t *testing.T) {
	tests := []struct {
		wire    string
		want    Timeline
		display string
	}{
		{`"home"`, Home{}, "Home"},
		{`"local"`, Local{}, "Local"},
		{`"federated"`, Federated{}, "Federated"},
		{`"notifications"`, Notifications{}, "Notifications"},
		{`"direct"`, Direct{}, "Direct Messages"},
		{`"bookmarks"`, Bookmarks{}, "Bookmarks"},
		{`"favourites"`, Favourites{}, "Favourites"},
		{`"trending"`, Trending{}, "Trending"},
		{`{"user":{"user_id":"42"}}`, UserPosts{UserID: "42"}, "User: 42"},
		{`{"hashtag":{"tag":"golang"}}`, Hashtag{Tag: "golang"}, "#golang"},
		{`{"list":{"list_id":"7"}}`, List{ListID: "7"}, "List: 7"},
		{`{"search":{"query":"a11y"}}`, Search{Query: "a11y"}, "Search: a11y"},
	}

	for _, tt := range tests {
		t.Run(tt.display, func(t *testing.T) {
			got, err := UnmarshalTimeline([]byte(tt.wire))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.display, got.DisplayName())

			back, err := MarshalTimeline(got)
			require.NoError(t, err)
			assert.JSONEq(t, tt.wire, string(back))
		})
	}
}

func TestTimelineJSONRejects(t *testing.T) {
	for _, wire := range []string{
		`null`,
		`"sideways"`,
		`"hashtag"`,
		`{"hashtag":{}}`,
		`{"hashtag":{"tag":"a","extra":1}}`,
		`{"home":{},"local":{}}`,
		`{"galaxy":{"id":"1"}}`,
		`42`,
	} {
		t.Run(wire, func(t *testing.T) {
			_, err := UnmarshalTimeline([]byte(wire))
			assert.Error(t, err)
		})
	}
}

func TestTimelineRequestDecode(t *testing.T) {
	var req TimelineRequest
	err := json.Unmarshal([]byte(`{"timeline_type":{"hashtag":{"tag":"go"}},"limit":5,"max_id":"100"}`), &req)
	require.NoError(t, err)
	assert.Equal(t, Hashtag{Tag: "go"}, req.Timeline)
	assert.Equal(t, 5, req.EffectiveLimit())
	assert.Equal(t, "100", req.MaxID)
	assert.Empty(t, req.MinID)

	var bare TimelineRequest
	require.NoError(t, json.Unmarshal([]byte(`{"timeline_type":"home"}`), &bare))
	assert.Equal(t, DefaultLimit, bare.EffectiveLimit())

	assert.Error(t, json.Unmarshal([]byte(`{"limit":5}`), &bare))
	assert.Error(t, json.Unmarshal([]byte(`{"timeline_type":"home","limit":0}`), &bare))
}

func TestNewTimelineResponse(t *testing.T) {
	posts := make([]Post, 3)
	for i := range posts {
		posts[i].ID = fmt.Sprint(300 - i)
	}

	full := NewTimelineResponse(posts, 3)
	require.NotNil(t, full.MaxID)
	assert.Equal(t, "300", *full.MaxID)
	assert.Equal(t, "298", *full.MinID)
	assert.True(t, full.HasMore)

	partial := NewTimelineResponse(posts, 20)
	assert.False(t, partial.HasMore)

	empty := NewTimelineResponse(nil, 20)
	assert.NotNil(t, empty.Posts)
	assert.Nil(t, empty.MaxID)
	assert.False(t, empty.HasMore)

	data, err := json.Marshal(empty)
	require.NoError(t, err)
	assert.JSONEq(t, `{"posts":[],"max_id":null,"min_id":null,"has_more":false}`, string(data))
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct{ in, want string }{
		{"mastodon.social", "https://mastodon.social"},
		{"  https://mastodon.social/ ", "https://mastodon.social"},
		{"http://localhost:3000//", "http://localhost:3000"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeURL(tt.in), tt.in)
	}
}

func TestAccountID(t *testing.T) {
	assert.Equal(t, "alice@mastodon.social", AccountID("alice", "https://mastodon.social/"))
	assert.Equal(t, "bob@localhost:3000", AccountID("bob", "http://localhost:3000"))
	assert.Equal(t, "carol@fosstodon.org", AccountID("carol", "fosstodon.org"))
}

func TestAPIErrorClassification(t *testing.T) {
	wrapped := fmt.Errorf("fetch: %w", &APIError{Status: 401, Message: "The access token is invalid"})
	assert.True(t, errors.Is(wrapped, ErrUnauthorized))
	assert.False(t, errors.Is(wrapped, ErrRateLimited))

	assert.True(t, errors.Is(&APIError{Status: 429}, ErrRateLimited))
	assert.True(t, errors.Is(&APIError{Status: 404}, ErrNotFound))

	var apiErr *APIError
	require.True(t, errors.As(wrapped, &apiErr))
	assert.Equal(t, 401, apiErr.Status)
}

func TestVisibilityValid(t *testing.T) {
	assert.True(t, VisibilityDirect.Valid())
	assert.False(t, Visibility("local").Valid())
}
