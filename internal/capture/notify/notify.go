// Package notify delivers push notifications about captured ideas.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const userAgent = "idea-capture/1"

// DefaultTimeout bounds one notification request.
const DefaultTimeout = 10 * time.Second

// Notifier sends a titled plain-text message.
type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}

// New returns an ntfy notifier for endpoint, or a no-op notifier when endpoint is empty.
func New(endpoint string, timeout time.Duration, tags ...string) Notifier {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return Noop{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Ntfy{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		tags:     tags,
	}
}

// ValidateEndpoint checks that endpoint is an absolute http(s) URL.
func ValidateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("parse notify endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("notify endpoint must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("notify endpoint has no host")
	}
	return nil
}

// Ntfy posts messages to an ntfy topic URL.
type Ntfy struct {
	endpoint string
	client   *http.Client
	tags     []string
}

// Notify posts message as the request body. Only transport errors and
// error statuses are reported; the response body is discarded.
func (n *Ntfy) Notify(ctx context.Context, title, message string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if title != "" {
		req.Header.Set("Title", title)
	}
	if len(n.tags) > 0 {
		req.Header.Set("Tags", strings.Join(n.tags, ","))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Noop discards notifications.
type Noop struct{}

func (Noop) Notify(context.Context, string, string) error { return nil }
