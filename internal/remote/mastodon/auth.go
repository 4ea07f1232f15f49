package mastodon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/oauth2"

	"github.com/blindodon/mastodon-core/internal/remote"
)

// Options configures how the application registers itself with instances.
type Options struct {
	AppName     string
	Website     string
	Scopes      []string
	RedirectURI string
	Timeout     time.Duration

	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
	// Dialer overrides the websocket dialer used for streaming.
	Dialer *websocket.Dialer
}

// Authenticator registers the application and runs the authorization code
// flow against any instance.
type Authenticator struct {
	opts   Options
	http   *http.Client
	dialer *websocket.Dialer
}

var _ remote.Authenticator = (*Authenticator)(nil)

// NewAuthenticator returns an Authenticator. Zero option fields get the
// defaults of the desktop application.
func NewAuthenticator(opts Options) *Authenticator {
	if opts.AppName == "" {
		opts.AppName = "Blindodon"
	}
	if len(opts.Scopes) == 0 {
		opts.Scopes = []string{"read", "write", "follow", "push"}
	}
	if opts.RedirectURI == "" {
		opts.RedirectURI = "urn:ietf:wg:oauth:2.0:oob"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}

	a := &Authenticator{opts: opts, http: opts.HTTPClient, dialer: opts.Dialer}
	if a.http == nil {
		a.http = &http.Client{Timeout: opts.Timeout}
	}
	if a.dialer == nil {
		a.dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.Timeout,
		}
	}
	return a
}

func (a *Authenticator) oauthConfig(app *remote.PendingApp) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     app.ClientID,
		ClientSecret: app.ClientSecret,
		RedirectURL:  a.opts.RedirectURI,
		Scopes:       a.opts.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   app.InstanceURL + "/oauth/authorize",
			TokenURL:  app.InstanceURL + "/oauth/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// RegisterApp creates an application on the instance via /api/v1/apps and
// builds the authorization URL the user opens in a browser.
func (a *Authenticator) RegisterApp(ctx context.Context, instanceURL string) (*remote.PendingApp, *remote.AuthStart, error) {
	instanceURL = remote.NormalizeURL(instanceURL)
	anon := newClient(instanceURL, "", a.http, a.dialer)
	defer anon.Close()

	payload := map[string]string{
		"client_name":   a.opts.AppName,
		"redirect_uris": a.opts.RedirectURI,
		"scopes":        strings.Join(a.opts.Scopes, " "),
	}
	if a.opts.Website != "" {
		payload["website"] = a.opts.Website
	}

	var reg struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	}
	if err := anon.postJSON(ctx, "/api/v1/apps", payload, &reg); err != nil {
		return nil, nil, fmt.Errorf("register app: %w", err)
	}
	if reg.ClientID == "" || reg.ClientSecret == "" {
		return nil, nil, fmt.Errorf("register app: instance returned no client credentials")
	}

	app := &remote.PendingApp{
		ClientID:     reg.ClientID,
		ClientSecret: reg.ClientSecret,
		InstanceURL:  instanceURL,
	}
	state := uuid.NewString()
	return app, &remote.AuthStart{
		AuthURL: a.oauthConfig(app).AuthCodeURL(state),
		State:   state,
	}, nil
}

// Exchange trades the authorization code for a token and returns a client
// holding it.
func (a *Authenticator) Exchange(ctx context.Context, app *remote.PendingApp, code string) (remote.Client, error) {
	if app == nil {
		return nil, fmt.Errorf("exchange code: no registered app")
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.http)
	tok, err := a.oauthConfig(app).Exchange(ctx, strings.TrimSpace(code))
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", classifyOAuthError(err))
	}
	return newClient(app.InstanceURL, tok.AccessToken, a.http, a.dialer), nil
}

// FromToken wraps a stored token without contacting the instance.
func (a *Authenticator) FromToken(instanceURL, accessToken string) (remote.Client, error) {
	if strings.TrimSpace(instanceURL) == "" {
		return nil, fmt.Errorf("instance url is empty")
	}
	if accessToken == "" {
		return nil, fmt.Errorf("access token is empty")
	}
	return newClient(instanceURL, accessToken, a.http, a.dialer), nil
}

// classifyOAuthError maps token endpoint failures onto the remote sentinels.
func classifyOAuthError(err error) error {
	var rerr *oauth2.RetrieveError
	if !errors.As(err, &rerr) || rerr.Response == nil {
		return fmt.Errorf("%w: %v", remote.ErrNetwork, err)
	}
	msg := rerr.ErrorDescription
	if msg == "" {
		msg = rerr.ErrorCode
	}
	if msg == "" {
		msg = strings.TrimSpace(string(rerr.Body))
	}
	return &remote.APIError{Status: rerr.Response.StatusCode, Message: msg}
}
