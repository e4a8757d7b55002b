package openhab

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// PublicServerURL is the openHAB cloud instance offered to users who
	// answer "yes" to the public-server question.
	PublicServerURL = "https://myopenhab.org:443"

	// DefaultProbeTimeout bounds the reachability probe.
	DefaultProbeTimeout = 3000 * time.Millisecond

	// restPath is the API root that users must leave out of the server URL.
	restPath = "/rest"
)

// ValidateURL checks that candidate is the root of an openHAB installation
// and returns it in canonical form (trimmed, without a trailing slash).
func ValidateURL(candidate string) (string, error) {
	raw := strings.TrimSpace(candidate)
	if raw == "" {
		return "", ErrEmptyInput
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotAURL, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return "", ErrNotAURL
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", ErrNotAURL
	}

	if strings.Contains(strings.ToLower(u.Path), restPath) {
		return "", ErrReservedSuffix
	}

	u.Scheme = scheme
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	u.Fragment = ""
	return u.String(), nil
}

// Prober performs the two network checks of the login flow. The zero value
// is not usable; construct with NewProber.
type Prober struct {
	client  *http.Client
	timeout time.Duration
}

// NewProber returns a Prober whose reachability probe uses timeout
// (DefaultProbeTimeout when zero). Redirects are never followed: the probe
// asks whether the address itself answers.
func NewProber(timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Prober{
		client: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout: timeout,
	}
}

// CheckReachable issues a HEAD request against serverURL. Any HTTP response,
// whatever its status, counts as reachable.
func (p *Prober) CheckReachable(ctx context.Context, serverURL string) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, serverURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", ErrTimeout, p.timeout)
		}
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	resp.Body.Close()
	return nil
}

// CheckCredentials opens an authenticated session against the REST root of
// serverURL. Every failure, including network errors, is reported as
// ErrInvalidCredentials.
func (p *Prober) CheckCredentials(ctx context.Context, serverURL, username, password string) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	c := NewClient(Credentials{ServerURL: serverURL, Username: username, Password: password}, ClientConfig{
		HTTPClient: p.client,
	})
	if err := c.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	return nil
}
