// Package search queries the iTunes podcast directory.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"quill/internal/config"
)

const defaultEndpoint = "https://itunes.apple.com/search"

// resultLimit caps how many directory entries one query returns.
const resultLimit = 50

// Result is one podcast from the directory.
type Result struct {
	Title    string
	Author   string
	Genre    string
	Episodes int
	FeedURL  string
}

// Client performs directory searches. A single Client is safe for
// concurrent use.
type Client struct {
	client    *http.Client
	endpoint  string
	userAgent string
}

// New builds a search client from configuration.
func New(cfg *config.Config) *Client {
	return &Client{
		client: &http.Client{
			Timeout: time.Duration(cfg.Fetch.TimeoutSeconds) * time.Second,
		},
		endpoint:  defaultEndpoint,
		userAgent: cfg.Fetch.UserAgent,
	}
}

// NewWithClient builds a search client around an explicit HTTP client and
// endpoint, used by tests to point at httptest servers.
func NewWithClient(client *http.Client, endpoint, userAgent string) *Client {
	return &Client{client: client, endpoint: endpoint, userAgent: userAgent}
}

type searchResponse struct {
	Results []searchEntry `json:"results"`
}

type searchEntry struct {
	CollectionName   string `json:"collectionName"`
	ArtistName       string `json:"artistName"`
	PrimaryGenreName string `json:"primaryGenreName"`
	TrackCount       int    `json:"trackCount"`
	FeedURL          string `json:"feedUrl"`
}

// Search looks terms up in the directory and returns the matching
// podcasts. Entries without a feed URL are dropped since nothing can be
// subscribed to them.
func (c *Client) Search(ctx context.Context, terms string) ([]Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	query := req.URL.Query()
	query.Set("term", terms)
	query.Set("entity", "podcast")
	query.Set("limit", strconv.Itoa(resultLimit))
	req.URL.RawQuery = query.Encode()
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", terms, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("search %q: unexpected status %d", terms, resp.StatusCode)
	}

	var payload searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("search %q: decode response: %w", terms, err)
	}

	results := make([]Result, 0, len(payload.Results))
	for _, entry := range payload.Results {
		if entry.FeedURL == "" {
			continue
		}
		results = append(results, Result{
			Title:    entry.CollectionName,
			Author:   entry.ArtistName,
			Genre:    entry.PrimaryGenreName,
			Episodes: entry.TrackCount,
			FeedURL:  entry.FeedURL,
		})
	}
	return results, nil
}
