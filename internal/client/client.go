package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/zmcp/odata-registry/internal/constants"
	"github.com/zmcp/odata-registry/internal/debug"
	"github.com/zmcp/odata-registry/internal/destination"
)

// Client is the HTTP entity client. Every call carries its own resolved
// endpoint, so one client instance serves any number of destinations and
// credentials concurrently. Calls are single-shot: a remote failure
// propagates immediately, without retry or backoff. The only extra round
// trip is the SAP CSRF handshake for modifying requests.
type Client struct {
	httpClient *http.Client
	verbose    bool

	mu   sync.Mutex
	csrf map[string]*csrfState // keyed by endpoint URL
}

// csrfState pairs a fetched CSRF token with the session cookies it is
// valid for.
type csrfState struct {
	token   string
	cookies []*http.Cookie
}

// New creates an entity client.
func New(verbose bool) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: time.Duration(constants.DefaultTimeout) * time.Second,
		},
		verbose: verbose,
		csrf:    make(map[string]*csrfState),
	}
}

// Read lists entities of an entity set with the given query options.
func (c *Client) Read(ctx context.Context, ep *destination.Endpoint, entitySet string, options map[string]string) (interface{}, error) {
	return c.readPath(ctx, ep, entitySet, options)
}

// ReadOne fetches one entity by its rendered key.
func (c *Client) ReadOne(ctx context.Context, ep *destination.Endpoint, entitySet, key string, options map[string]string) (interface{}, error) {
	return c.readPath(ctx, ep, entitySet+keyPredicate(key), options)
}

// Create posts a new entity.
func (c *Client) Create(ctx context.Context, ep *destination.Endpoint, entitySet string, payload map[string]interface{}) (interface{}, error) {
	return c.modify(ctx, ep, constants.POST, entitySet, payload)
}

// Update patches an existing entity identified by its rendered key.
func (c *Client) Update(ctx context.Context, ep *destination.Endpoint, entitySet, key string, payload map[string]interface{}) (interface{}, error) {
	return c.modify(ctx, ep, constants.PATCH, entitySet+keyPredicate(key), payload)
}

// Delete removes an entity identified by its rendered key.
func (c *Client) Delete(ctx context.Context, ep *destination.Endpoint, entitySet, key string) error {
	_, err := c.modify(ctx, ep, constants.DELETE, entitySet+keyPredicate(key), nil)
	return err
}

// GetRaw fetches an arbitrary relative document (e.g. $metadata) as bytes.
func (c *Client) GetRaw(ctx context.Context, ep *destination.Endpoint, relative string) ([]byte, error) {
	req, err := c.buildRequest(ctx, ep, constants.GET, relative, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(constants.Accept, "application/xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d fetching %s: %s", resp.StatusCode, relative, snippet(body))
	}
	return body, nil
}

func (c *Client) readPath(ctx context.Context, ep *destination.Endpoint, path string, options map[string]string) (interface{}, error) {
	if qs := encodeQueryOptions(options); qs != "" {
		path += "?" + qs
	}
	req, err := c.buildRequest(ctx, ep, constants.GET, path, nil)
	if err != nil {
		return nil, err
	}

	if c.verbose {
		fmt.Fprintf(os.Stderr, "[VERBOSE] GET %s\n", debug.MaskURL(req.URL.String()))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	return parseResponse(resp)
}

func (c *Client) modify(ctx context.Context, ep *destination.Endpoint, method, path string, payload map[string]interface{}) (interface{}, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode payload: %w", err)
		}
	}

	state, err := c.ensureCSRF(ctx, ep)
	if err != nil {
		return nil, err
	}

	resp, err := c.doModify(ctx, ep, method, path, body, state)
	if err != nil {
		return nil, err
	}

	// A 403 on a modifying call usually means the cached token expired.
	// Refetch once and replay; this is the protocol handshake, not a retry.
	if resp.StatusCode == http.StatusForbidden && isCSRFFailure(resp) {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if c.verbose {
			fmt.Fprintf(os.Stderr, "[VERBOSE] CSRF token rejected, refetching\n")
		}
		c.dropCSRF(ep)
		state, err = c.ensureCSRF(ctx, ep)
		if err != nil {
			return nil, err
		}
		resp, err = c.doModify(ctx, ep, method, path, body, state)
		if err != nil {
			return nil, err
		}
	}

	return parseResponse(resp)
}

func (c *Client) doModify(ctx context.Context, ep *destination.Endpoint, method, path string, body []byte, state *csrfState) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := c.buildRequest(ctx, ep, method, path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set(constants.ContentType, constants.ContentTypeJSON)
	}
	if state != nil {
		req.Header.Set(constants.CSRFTokenHeader, state.token)
		for _, cookie := range state.cookies {
			req.AddCookie(cookie)
		}
	}

	if c.verbose {
		fmt.Fprintf(os.Stderr, "[VERBOSE] %s %s\n", method, debug.MaskURL(req.URL.String()))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	return resp, nil
}

// ensureCSRF returns the cached CSRF state for an endpoint, fetching it on
// first use. Services that do not implement the handshake yield (nil, nil).
func (c *Client) ensureCSRF(ctx context.Context, ep *destination.Endpoint) (*csrfState, error) {
	c.mu.Lock()
	state, ok := c.csrf[ep.URL]
	c.mu.Unlock()
	if ok {
		return state, nil
	}

	req, err := c.buildRequest(ctx, ep, constants.GET, "", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(constants.CSRFTokenHeader, constants.CSRFTokenFetch)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("CSRF token fetch failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	token := resp.Header.Get(constants.CSRFTokenHeader)
	if token == "" || strings.EqualFold(token, "required") {
		// Service does not use CSRF protection.
		c.mu.Lock()
		c.csrf[ep.URL] = nil
		c.mu.Unlock()
		return nil, nil
	}

	state = &csrfState{token: token, cookies: resp.Cookies()}
	if c.verbose {
		fmt.Fprintf(os.Stderr, "[VERBOSE] Fetched CSRF token %s\n", debug.MaskToken(token))
	}
	c.mu.Lock()
	c.csrf[ep.URL] = state
	c.mu.Unlock()
	return state, nil
}

func (c *Client) dropCSRF(ep *destination.Endpoint) {
	c.mu.Lock()
	delete(c.csrf, ep.URL)
	c.mu.Unlock()
}

// buildRequest assembles a request against the endpoint with the proper
// credential: end-user bearer token when present, technical basic auth
// otherwise.
func (c *Client) buildRequest(ctx context.Context, ep *destination.Endpoint, method, relative string, body io.Reader) (*http.Request, error) {
	base := ep.URL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	fullURL := base + strings.TrimPrefix(relative, "/")

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(constants.UserAgent, constants.DefaultUserAgent)
	req.Header.Set(constants.Accept, constants.ContentTypeJSON)

	if ep.Token != "" {
		req.Header.Set(constants.Authorization, "Bearer "+ep.Token)
	} else if ep.Username != "" {
		req.SetBasicAuth(ep.Username, ep.Password)
	}

	return req, nil
}

// keyPredicate wraps a rendered key literal for the URL path. Composite
// keys, quoted strings, and numeric or boolean literals pass through
// unchanged; a bare string is quoted as a convenience for direct callers.
func keyPredicate(key string) string {
	switch {
	case strings.Contains(key, "="):
		return "(" + key + ")"
	case len(key) >= 2 && strings.HasPrefix(key, "'") && strings.HasSuffix(key, "'"):
		return "(" + key + ")"
	case key == "true" || key == "false":
		return "(" + key + ")"
	case isNumeric(key):
		return "(" + key + ")"
	}
	return "('" + url.PathEscape(key) + "')"
}

func isNumeric(s string) bool {
	digits := 0
	dot := false
	for i, r := range s {
		switch {
		case r == '-' && i == 0:
		case r == '.' && !dot:
			dot = true
		case r >= '0' && r <= '9':
			digits++
		default:
			return false
		}
	}
	return digits > 0
}

// encodeQueryOptions encodes query options with RFC 3986 space encoding.
// OData servers expect %20, not '+'.
func encodeQueryOptions(options map[string]string) string {
	if len(options) == 0 {
		return ""
	}
	values := url.Values{}
	for k, v := range options {
		values.Set(k, v)
	}
	return strings.ReplaceAll(values.Encode(), "+", "%20")
}

func isCSRFFailure(resp *http.Response) bool {
	return strings.EqualFold(resp.Header.Get(constants.CSRFTokenHeader), "required")
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
