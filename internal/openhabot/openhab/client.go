// Package openhab is the client side of the openHAB REST API used by the bot:
// server URL validation, the login probes, the HABot chat endpoint and item
// state reads.
package openhab

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/bdobrica/openhabot/common/retry"
)

const (
	defaultTimeout = 15 * time.Second

	// maxBodySize caps how much of a response body is read.
	maxBodySize = 4 << 20

	chatResource = "habot/chat"
)

//go:embed chat_response.schema.json
var chatResponseSchema string

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

// chatSchema compiles the embedded HABot response schema on first use.
func chatSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiledSchema, schemaErr = jsonschema.CompileString("chat_response.schema.json", chatResponseSchema)
	})
	return compiledSchema, schemaErr
}

// errServerSide marks 5xx answers so item reads can retry them.
var errServerSide = errors.New("openhab: server error")

// ClientConfig configures a Client.
type ClientConfig struct {
	// Timeout is the per-request timeout of the default HTTP client.
	// Ignored when HTTPClient is set. Defaults to 15 s.
	Timeout time.Duration

	// HTTPClient overrides the HTTP client (tests, custom transports).
	HTTPClient *http.Client

	// ItemRetry controls retries of item state reads on 5xx answers.
	// Zero value means one retry after 200 ms.
	ItemRetry retry.Config
}

// Client talks to the REST API of one openHAB server as one user.
// It is safe for concurrent use.
type Client struct {
	creds     Credentials
	http      *http.Client
	itemRetry retry.Config
}

// NewClient returns a Client for the server and user in creds.
func NewClient(creds Credentials, cfg ClientConfig) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	rc := cfg.ItemRetry
	if rc.MaxAttempts == 0 {
		rc = retry.Config{MaxAttempts: 2, InitialDelay: 200 * time.Millisecond, MaxDelay: time.Second}
	}
	rc.ShouldRetry = func(err error) bool { return errors.Is(err, errServerSide) }
	return &Client{creds: creds, http: hc, itemRetry: rc}
}

// Ping opens an authenticated session against the REST root.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "", nil, "")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Chat sends text to the HABot chat endpoint and returns its structured reply.
func (c *Client) Chat(ctx context.Context, text string) (*ChatResponse, error) {
	resp, err := c.do(ctx, http.MethodPost, chatResource, strings.NewReader(text), "text/plain")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: read chat response: %v", ErrRequestFailed, err)
	}
	return decodeChatResponse(body)
}

// decodeChatResponse validates body against the HABot schema and decodes it.
func decodeChatResponse(body []byte) (*ChatResponse, error) {
	sch, err := chatSchema()
	if err != nil {
		return nil, fmt.Errorf("openhab: compile chat schema: %w", err)
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, errors.Join(ErrRequestFailed, fmt.Errorf("%w: %v", ErrMalformedResponse, err))
	}
	if err := sch.Validate(doc); err != nil {
		return nil, errors.Join(ErrRequestFailed, fmt.Errorf("%w: %v", ErrMalformedResponse, err))
	}

	var out ChatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errors.Join(ErrRequestFailed, fmt.Errorf("%w: %v", ErrMalformedResponse, err))
	}
	return &out, nil
}

// ItemState returns the current state of the named item as plain text.
// Server-side failures are retried according to ClientConfig.ItemRetry.
func (c *Client) ItemState(ctx context.Context, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("%w: empty item name", ErrRequestFailed)
	}

	var state string
	err := retry.Do(ctx, c.itemRetry, func() error {
		resp, err := c.do(ctx, http.MethodGet, "items/"+url.PathEscape(name)+"/state", nil, "")
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			return fmt.Errorf("%w: read item state: %v", ErrRequestFailed, err)
		}
		state = strings.TrimSpace(string(body))
		return nil
	})
	if err != nil {
		return "", err
	}
	return state, nil
}

// Items lists every item defined on the server.
func (c *Client) Items(ctx context.Context) ([]Item, error) {
	resp, err := c.do(ctx, http.MethodGet, "items", nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var items []Item
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&items); err != nil {
		return nil, errors.Join(ErrRequestFailed, fmt.Errorf("%w: decode items: %v", ErrMalformedResponse, err))
	}
	return items, nil
}

// do performs an authenticated request against {server}/rest/{resource} and
// returns the response when the status is 2xx. The caller closes the body.
func (c *Client) do(ctx context.Context, method, resource string, body io.Reader, contentType string) (*http.Response, error) {
	endpoint := strings.TrimRight(c.creds.ServerURL, "/") + restPath + "/" + resource

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrRequestFailed, err)
	}
	req.SetBasicAuth(c.creds.Username, c.creds.Password)
	req.Header.Set("Accept", "application/json, text/plain")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrRequestFailed, method, resource, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return nil, errors.Join(ErrRequestFailed, fmt.Errorf("%w (HTTP %d)", ErrUnauthorized, resp.StatusCode))
	case resp.StatusCode >= 500:
		resp.Body.Close()
		return nil, errors.Join(ErrRequestFailed, fmt.Errorf("%w: %s %s: HTTP %d", errServerSide, method, resource, resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s %s: HTTP %d", ErrRequestFailed, method, resource, resp.StatusCode)
	}
	return resp, nil
}
