package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Timeline identifies one of the timelines a client can page through or
// stream. It is a closed set; the unexported marker keeps other packages from
// adding variants, so a switch over the concrete types below is exhaustive.
type Timeline interface {
	// DisplayName is the human-readable label, also used to tag stream events.
	DisplayName() string
	timeline()
}

type (
	Home          struct{}
	Local         struct{}
	Federated     struct{}
	Notifications struct{}
	Direct        struct{}
	Bookmarks     struct{}
	Favourites    struct{}
	Trending      struct{}

	UserPosts struct {
		UserID string `json:"user_id"`
	}
	Hashtag struct {
		Tag string `json:"tag"`
	}
	List struct {
		ListID string `json:"list_id"`
	}
	Search struct {
		Query string `json:"query"`
	}
)

func (Home) DisplayName() string          { return "Home" }
func (Local) DisplayName() string         { return "Local" }
func (Federated) DisplayName() string     { return "Federated" }
func (Notifications) DisplayName() string { return "Notifications" }
func (Direct) DisplayName() string        { return "Direct Messages" }
func (Bookmarks) DisplayName() string     { return "Bookmarks" }
func (Favourites) DisplayName() string    { return "Favourites" }
func (Trending) DisplayName() string      { return "Trending" }
func (t UserPosts) DisplayName() string   { return "User: " + t.UserID }
func (t Hashtag) DisplayName() string     { return "#" + t.Tag }
func (t List) DisplayName() string        { return "List: " + t.ListID }
func (t Search) DisplayName() string      { return "Search: " + t.Query }

func (Home) timeline()          {}
func (Local) timeline()         {}
func (Federated) timeline()     {}
func (Notifications) timeline() {}
func (Direct) timeline()        {}
func (Bookmarks) timeline()     {}
func (Favourites) timeline()    {}
func (Trending) timeline()      {}
func (UserPosts) timeline()     {}
func (Hashtag) timeline()       {}
func (List) timeline()          {}
func (Search) timeline()        {}

// TimelineName returns the wire tag of t.
func TimelineName(t Timeline) string {
	switch t.(type) {
	case Home:
		return "home"
	case Local:
		return "local"
	case Federated:
		return "federated"
	case Notifications:
		return "notifications"
	case Direct:
		return "direct"
	case Bookmarks:
		return "bookmarks"
	case Favourites:
		return "favourites"
	case Trending:
		return "trending"
	case UserPosts:
		return "user"
	case Hashtag:
		return "hashtag"
	case List:
		return "list"
	case Search:
		return "search"
	default:
		panic(fmt.Sprintf("remote: unhandled timeline %T", t))
	}
}

// MarshalTimeline encodes unit variants as a bare string ("home") and data
// variants as a single-key object ({"hashtag":{"tag":"go"}}).
func MarshalTimeline(t Timeline) ([]byte, error) {
	name := TimelineName(t)
	switch t.(type) {
	case UserPosts, Hashtag, List, Search:
		return json.Marshal(map[string]Timeline{name: t})
	default:
		return json.Marshal(name)
	}
}

// UnmarshalTimeline is the inverse of MarshalTimeline.
func UnmarshalTimeline(data []byte) (Timeline, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, fmt.Errorf("timeline type is required")
	}

	if data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return nil, err
		}
		switch name {
		case "home":
			return Home{}, nil
		case "local":
			return Local{}, nil
		case "federated":
			return Federated{}, nil
		case "notifications":
			return Notifications{}, nil
		case "direct":
			return Direct{}, nil
		case "bookmarks":
			return Bookmarks{}, nil
		case "favourites":
			return Favourites{}, nil
		case "trending":
			return Trending{}, nil
		case "user", "hashtag", "list", "search":
			return nil, fmt.Errorf("timeline type %q requires data", name)
		}
		return nil, fmt.Errorf("unknown timeline type %q", name)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("invalid timeline type: %w", err)
	}
	if len(obj) != 1 {
		return nil, fmt.Errorf("timeline type must have exactly one variant, got %d", len(obj))
	}

	for name, body := range obj {
		switch name {
		case "user":
			var v UserPosts
			if err := decodeVariant(body, &v); err != nil || v.UserID == "" {
				return nil, fmt.Errorf("timeline type user requires user_id")
			}
			return v, nil
		case "hashtag":
			var v Hashtag
			if err := decodeVariant(body, &v); err != nil || v.Tag == "" {
				return nil, fmt.Errorf("timeline type hashtag requires tag")
			}
			return v, nil
		case "list":
			var v List
			if err := decodeVariant(body, &v); err != nil || v.ListID == "" {
				return nil, fmt.Errorf("timeline type list requires list_id")
			}
			return v, nil
		case "search":
			var v Search
			if err := decodeVariant(body, &v); err != nil || v.Query == "" {
				return nil, fmt.Errorf("timeline type search requires query")
			}
			return v, nil
		default:
			return nil, fmt.Errorf("unknown timeline type %q", name)
		}
	}
	panic("unreachable")
}

func decodeVariant(body json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// TimelineRequest asks for one page of a timeline.
type TimelineRequest struct {
	Timeline Timeline
	Limit    int
	MaxID    string
	SinceID  string
	MinID    string
}

type timelineRequestWire struct {
	TimelineType json.RawMessage `json:"timeline_type"`
	Limit        *int            `json:"limit,omitempty"`
	MaxID        *string         `json:"max_id,omitempty"`
	SinceID      *string         `json:"since_id,omitempty"`
	MinID        *string         `json:"min_id,omitempty"`
}

func (r *TimelineRequest) UnmarshalJSON(data []byte) error {
	var w timelineRequestWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	t, err := UnmarshalTimeline(w.TimelineType)
	if err != nil {
		return err
	}
	*r = TimelineRequest{Timeline: t}
	if w.Limit != nil {
		if *w.Limit <= 0 {
			return fmt.Errorf("limit must be positive")
		}
		r.Limit = *w.Limit
	}
	r.MaxID = deref(w.MaxID)
	r.SinceID = deref(w.SinceID)
	r.MinID = deref(w.MinID)
	return nil
}

func (r TimelineRequest) MarshalJSON() ([]byte, error) {
	tt, err := MarshalTimeline(r.Timeline)
	if err != nil {
		return nil, err
	}
	w := timelineRequestWire{TimelineType: tt}
	if r.Limit > 0 {
		w.Limit = &r.Limit
	}
	w.MaxID = ref(r.MaxID)
	w.SinceID = ref(r.SinceID)
	w.MinID = ref(r.MinID)
	return json.Marshal(w)
}

// EffectiveLimit returns the requested limit or DefaultLimit.
func (r TimelineRequest) EffectiveLimit() int {
	if r.Limit > 0 {
		return r.Limit
	}
	return DefaultLimit
}

// TimelineResponse is one page of posts. MaxID is the first post's id and
// MinID the last's.
type TimelineResponse struct {
	Posts   []Post  `json:"posts"`
	MaxID   *string `json:"max_id"`
	MinID   *string `json:"min_id"`
	HasMore bool    `json:"has_more"`
}

// NewTimelineResponse computes the pagination cursors for posts fetched with limit.
func NewTimelineResponse(posts []Post, limit int) *TimelineResponse {
	if posts == nil {
		posts = []Post{}
	}
	resp := &TimelineResponse{Posts: posts, HasMore: len(posts) == limit}
	if len(posts) > 0 {
		first, last := posts[0].ID, posts[len(posts)-1].ID
		resp.MaxID, resp.MinID = &first, &last
	}
	return resp
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func ref(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
