package tunehub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"tuneresolve/resolver"
	"tuneresolve/resolver/source"
)

// Client talks to a TuneHub aggregator deployment. Every request carries a
// signature over its path and query; unsigned requests are rejected upstream.
type Client struct {
	baseURL string
	signer  *Signer
	http    *source.HTTPClient
	logger  resolver.Logger
}

// NewClient creates a TuneHub client with retry and circuit breaker.
func NewClient(baseURL string, signer *Signer, opts source.ClientOptions, logger resolver.Logger) *Client {
	if opts.Name == "" {
		opts.Name = "tunehub"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		signer:  signer,
		http:    source.NewHTTPClient(opts, logger),
		logger:  logger,
	}
}

type apiResponse struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	URL  string          `json:"url"`
	Data json.RawMessage `json:"data"`
}

type trackPayload struct {
	ID     json.Number `json:"id"`
	URL    string      `json:"url"`
	Name   string      `json:"name"`
	Artist artistField `json:"artist"`
	Album  string      `json:"album"`
	BR     int         `json:"br"`
	Lyric  string      `json:"lyric"`
}

// artistField tolerates both a plain string and an array of names.
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

func (c *Client) signedURL(query url.Values) string {
	path := "/api?" + query.Encode()
	sign := c.signer.Sign(path)
	return c.baseURL + path + "&sign=" + url.QueryEscape(sign)
}

// TrackURL resolves a playable URL for the track at the given bitrate token.
func (c *Client) TrackURL(ctx context.Context, platform, trackID, br string) (string, error) {
	query := url.Values{}
	query.Set("source", platform)
	query.Set("id", trackID)
	query.Set("type", "url")
	query.Set("br", br)
	endpoint := c.signedURL(query)

	var resp apiResponse
	err := c.http.GetJSON(ctx, endpoint, nil, &resp)
	if err != nil {
		// Some deployments answer type=url with a redirect straight to the
		// media file instead of a JSON body.
		if errors.Is(err, source.ErrMalformed) {
			if u, redirectErr := c.resolveRedirect(ctx, endpoint); redirectErr == nil && u != "" {
				return u, nil
			}
		}
		return "", err
	}

	playable, err := extractURL(&resp)
	if err != nil {
		return "", source.NewError("tunehub", platform, trackID, err)
	}
	if playable == "" {
		return "", source.NewError("tunehub", platform, trackID, source.ErrNotFound)
	}
	return playable, nil
}

// extractURL handles the response shapes seen in the wild: a top-level url,
// a data object, or a data array with the match first.
func extractURL(resp *apiResponse) (string, error) {
	if resp.URL != "" {
		return resp.URL, nil
	}
	if len(resp.Data) == 0 {
		return "", nil
	}

	var obj trackPayload
	if err := json.Unmarshal(resp.Data, &obj); err == nil && obj.URL != "" {
		return obj.URL, nil
	}

	var list []trackPayload
	if err := json.Unmarshal(resp.Data, &list); err == nil {
		if len(list) == 0 {
			return "", nil
		}
		return list[0].URL, nil
	}

	return "", source.ErrMalformed
}

// resolveRedirect re-requests the endpoint without following redirects and
// returns the Location target, if any.
func (c *Client) resolveRedirect(ctx context.Context, endpoint string) (string, error) {
	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 300 || resp.StatusCode >= 400 {
		return "", nil
	}
	loc, err := resp.Location()
	if err != nil {
		return "", err
	}
	return loc.String(), nil
}

// Search finds tracks on the given platform by keyword.
func (c *Client) Search(ctx context.Context, platform, keyword string, limit int) ([]resolver.TrackReference, error) {
	if limit <= 0 {
		limit = 10
	}
	query := url.Values{}
	query.Set("source", platform)
	query.Set("type", "search")
	query.Set("keyword", keyword)
	query.Set("limit", strconv.Itoa(limit))
	query.Set("page", "1")

	var resp apiResponse
	if err := c.http.GetJSON(ctx, c.signedURL(query), nil, &resp); err != nil {
		return nil, err
	}

	var list []trackPayload
	if len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, &list); err != nil {
			return nil, source.NewError("tunehub", platform, "", source.ErrMalformed)
		}
	}

	tracks := make([]resolver.TrackReference, 0, len(list))
	for _, item := range list {
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

// Lyric fetches the raw lyric text for a track.
func (c *Client) Lyric(ctx context.Context, platform, trackID string) (string, error) {
	query := url.Values{}
	query.Set("source", platform)
	query.Set("id", trackID)
	query.Set("type", "lrc")

	var resp apiResponse
	if err := c.http.GetJSON(ctx, c.signedURL(query), nil, &resp); err != nil {
		return "", err
	}

	var obj trackPayload
	if len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, &obj); err == nil && obj.Lyric != "" {
			return obj.Lyric, nil
		}
	}
	// Fallback shape {"lyric": "..."} at the top level.
	var bare struct {
		Lyric string `json:"lyric"`
	}
	if err := json.Unmarshal(resp.Data, &bare); err == nil && bare.Lyric != "" {
		return bare.Lyric, nil
	}
	return "", source.NewError("tunehub", platform, trackID, source.ErrNotFound)
}
