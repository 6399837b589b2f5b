package gdmusic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"tuneresolve/resolver"
	"tuneresolve/resolver/source"
)

// Client talks to a GD-style public aggregator. The API is unsigned; requests
// take types=url|search|lyric with source, id and br parameters.
type Client struct {
	baseURL string
	http    *source.HTTPClient
	logger  resolver.Logger
}

// NewClient creates a client with retry and circuit breaker.
func NewClient(baseURL string, opts source.ClientOptions, logger resolver.Logger) *Client {
	if opts.Name == "" {
		opts.Name = "gdmusic"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    source.NewHTTPClient(opts, logger),
		logger:  logger,
	}
}

func (c *Client) endpoint(query url.Values) string {
	return c.baseURL + "?" + query.Encode()
}

type urlResponse struct {
	URL string `json:"url"`
	BR  int    `json:"br"`
}

// TrackURL resolves a playable URL at the given bitrate token.
func (c *Client) TrackURL(ctx context.Context, platform, trackID, br string) (string, error) {
	query := url.Values{}
	query.Set("types", "url")
	query.Set("source", platform)
	query.Set("id", trackID)
	query.Set("br", br)

	var resp urlResponse
	if err := c.http.GetJSON(ctx, c.endpoint(query), nil, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.URL) == "" {
		return "", source.NewError("gdmusic", platform, trackID, source.ErrNotFound)
	}
	return resp.URL, nil
}

type searchItem struct {
	ID     json.Number `json:"id"`
	Name   string      `json:"name"`
	Artist artistField `json:"artist"`
	Album  string      `json:"album"`
}

type artistField string

func (a *artistField) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*a = artistField(single)
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err == nil {
		*a = artistField(strings.Join(many, " / "))
		return nil
	}
	return fmt.Errorf("unsupported artist field: %s", string(data))
}

// Search finds tracks on the given platform by keyword.
func (c *Client) Search(ctx context.Context, platform, keyword string, limit int) ([]resolver.TrackReference, error) {
	if limit <= 0 {
		limit = 10
	}
	query := url.Values{}
	query.Set("types", "search")
	query.Set("source", platform)
	query.Set("name", keyword)
	query.Set("count", strconv.Itoa(limit))
	query.Set("pages", "1")

	var items []searchItem
	if err := c.http.GetJSON(ctx, c.endpoint(query), nil, &items); err != nil {
		return nil, err
	}

	tracks := make([]resolver.TrackReference, 0, len(items))
	for _, item := range items {
		tracks = append(tracks, resolver.TrackReference{
			Platform: platform,
			NativeID: item.ID.String(),
			Title:    item.Name,
			Artist:   string(item.Artist),
			Album:    item.Album,
		})
	}
	return tracks, nil
}

type lyricResponse struct {
	Lyric  string `json:"lyric"`
	TLyric string `json:"tlyric"`
}

// Lyric fetches the raw lyric text for a track.
func (c *Client) Lyric(ctx context.Context, platform, trackID string) (string, error) {
	query := url.Values{}
	query.Set("types", "lyric")
	query.Set("source", platform)
	query.Set("id", trackID)

	var resp lyricResponse
	if err := c.http.GetJSON(ctx, c.endpoint(query), nil, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Lyric) == "" {
		return "", source.NewError("gdmusic", platform, trackID, source.ErrNotFound)
	}
	return resp.Lyric, nil
}
