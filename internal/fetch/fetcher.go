// Package fetch downloads and parses podcast feeds into store metadata.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"quill/internal/config"
	"quill/internal/store"
)

// Result carries everything a successful fetch produced: channel metadata
// plus the episode list in document order.
type Result struct {
	Feed     store.FeedMetadata
	Episodes []store.EpisodeMetadata
}

// Fetcher downloads feed documents over HTTP and parses them with gofeed.
// A single Fetcher is safe for concurrent use.
type Fetcher struct {
	client    *http.Client
	userAgent string
}

// New builds a fetcher from configuration.
func New(cfg *config.Config) *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Timeout: time.Duration(cfg.Fetch.TimeoutSeconds) * time.Second,
		},
		userAgent: cfg.Fetch.UserAgent,
	}
}

// NewWithClient builds a fetcher around an explicit HTTP client, used by
// tests to point at httptest servers with short timeouts.
func NewWithClient(client *http.Client, userAgent string) *Fetcher {
	return &Fetcher{client: client, userAgent: userAgent}
}

// Fetch downloads and parses the feed at source. Failures come back as
// *Error with a kind the caller can persist; the feed row itself is never
// touched here.
func (f *Fetcher) Fetch(ctx context.Context, source string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, &Error{Kind: KindParse, Source: source, Err: fmt.Errorf("build request: %w", err)}
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &Error{Kind: classifyTransportError(err), Source: source, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{Kind: KindHTTP, Source: source, StatusCode: resp.StatusCode}
	}

	parsed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		if ctx.Err() != nil || isTimeout(err) {
			return nil, &Error{Kind: KindTimeout, Source: source, Err: err}
		}
		return nil, &Error{Kind: KindParse, Source: source, Err: err}
	}

	return &Result{
		Feed:     feedMetadata(parsed),
		Episodes: episodeMetadata(parsed),
	}, nil
}

func classifyTransportError(err error) Kind {
	if isTimeout(err) {
		return KindTimeout
	}
	return KindNetwork
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var timeoutErr interface{ Timeout() bool }
	return errors.As(err, &timeoutErr) && timeoutErr.Timeout()
}
