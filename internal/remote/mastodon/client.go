// Package mastodon implements remote.Client and remote.Authenticator against
// the Mastodon REST and streaming APIs.
package mastodon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/blindodon/mastodon-core/internal/logger"
	"github.com/blindodon/mastodon-core/internal/remote"
	"github.com/blindodon/mastodon-core/internal/securemem"
)

// maxErrorBody bounds how much of a failed response is read for its message.
const maxErrorBody = 64 << 10

// Client talks to one instance on behalf of one account.
type Client struct {
	baseURL string
	token   *securemem.Token
	http    *http.Client
	dialer  *websocket.Dialer
	log     *logger.Logger
}

var _ remote.Client = (*Client)(nil)

func newClient(baseURL, accessToken string, httpClient *http.Client, dialer *websocket.Dialer) *Client {
	return &Client{
		baseURL: remote.NormalizeURL(baseURL),
		token:   securemem.NewToken(accessToken),
		http:    httpClient,
		dialer:  dialer,
		log:     logger.Global().WithPrefix("mastodon"),
	}
}

func (c *Client) InstanceURL() string { return c.baseURL }

// AccessToken returns a copy of the token for persistence.
func (c *Client) AccessToken() string { return c.token.Reveal() }

// Close wipes the token from memory. The client is unusable afterwards.
func (c *Client) Close() { c.token.Destroy() }

func (c *Client) endpoint(path string, query url.Values) string {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if tok := c.token.Reveal(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// getJSON issues a GET and decodes the JSON answer into out.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

// postJSON posts payload as JSON (or an empty body when nil) and decodes
// the answer into out when out is non-nil.
func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, nil, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %s %s: %v", remote.ErrNetwork, req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	c.log.Debug("%s %s -> %d (%s)", req.Method, req.URL.Path, resp.StatusCode, time.Since(start).Round(time.Millisecond))

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

// decodeError turns a failed response into *remote.APIError, preferring the
// "error" field Mastodon puts in its error bodies.
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var body struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	msg := ""
	if json.Unmarshal(data, &body) == nil {
		msg = body.Error
		if body.ErrorDescription != "" {
			msg = body.ErrorDescription
		}
	}
	if msg == "" {
		msg = strings.TrimSpace(string(data))
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &remote.APIError{Status: resp.StatusCode, Message: msg}
}

// VerifyCredentials returns the account the token belongs to.
func (c *Client) VerifyCredentials(ctx context.Context) (*remote.Account, error) {
	var acc remote.Account
	if err := c.getJSON(ctx, "/api/v1/accounts/verify_credentials", nil, &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

// Instance describes the instance the client is bound to.
func (c *Client) Instance(ctx context.Context) (*remote.InstanceInfo, error) {
	var inst apiInstance
	if err := c.getJSON(ctx, "/api/v1/instance", nil, &inst); err != nil {
		return nil, err
	}
	return inst.toInfo(c.baseURL), nil
}
