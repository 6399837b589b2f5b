package origin

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"tuneresolve/resolver"
	"tuneresolve/resolver/source"
)

// Client talks to a self-hosted origin platform API gateway. Authenticated
// deployments pass the account cookie on every request, which unlocks the
// lossless and above levels.
type Client struct {
	baseURL string
	cookie  string
	http    *source.HTTPClient
	logger  resolver.Logger
}

// NewClient creates an origin client with retry and circuit breaker.
func NewClient(baseURL, cookie string, opts source.ClientOptions, logger resolver.Logger) *Client {
	if opts.Name == "" {
		opts.Name = "origin"
	}
	if logger != nil {
		if cookie != "" {
			logger.Info("origin client initialized with account cookie", "cookie_length", len(cookie))
		} else {
			logger.Warn("origin client initialized without account cookie, lossless resolution may fail")
		}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		cookie:  cookie,
		http:    source.NewHTTPClient(opts, logger),
		logger:  logger,
	}
}

func (c *Client) header() http.Header {
	if c.cookie == "" {
		return nil
	}
	h := make(http.Header)
	h.Set("Cookie", c.cookie)
	return h
}

type songURLResponse struct {
	Code int `json:"code"`
	Data []struct {
		ID    int64  `json:"id"`
		URL   string `json:"url"`
		Level string `json:"level"`
		BR    int    `json:"br"`
	} `json:"data"`
}

// SongURL resolves a playable URL for the track at the given level token.
// The gateway answers code 200 with a null URL for tracks it cannot serve.
func (c *Client) SongURL(ctx context.Context, trackID, level string) (string, string, error) {
	query := url.Values{}
	query.Set("id", trackID)
	query.Set("level", level)

	var resp songURLResponse
	if err := c.http.GetJSON(ctx, c.baseURL+"/song/url/v1?"+query.Encode(), c.header(), &resp); err != nil {
		return "", "", err
	}
	if resp.Code != 200 || len(resp.Data) == 0 {
		return "", "", source.ErrNotFound
	}
	item := resp.Data[0]
	if strings.TrimSpace(item.URL) == "" {
		return "", "", source.ErrNotFound
	}
	served := item.Level
	if served == "" {
		served = level
	}
	return item.URL, served, nil
}

type searchResponse struct {
	Code   int `json:"code"`
	Result struct {
		Songs []struct {
			ID   int64  `json:"id"`
			Name string `json:"name"`
			Ar   []struct {
				ID   int64  `json:"id"`
				Name string `json:"name"`
			} `json:"ar"`
			Al struct {
				ID     int64  `json:"id"`
				Name   string `json:"name"`
				PicURL string `json:"picUrl"`
			} `json:"al"`
		} `json:"songs"`
	} `json:"result"`
}

// Search finds tracks by keyword, best match first.
func (c *Client) Search(ctx context.Context, platform, keyword string, limit int) ([]resolver.TrackReference, error) {
	if limit <= 0 {
		limit = 10
	}
	query := url.Values{}
	query.Set("keywords", keyword)
	query.Set("limit", strconv.Itoa(limit))

	var resp searchResponse
	if err := c.http.GetJSON(ctx, c.baseURL+"/cloudsearch?"+query.Encode(), c.header(), &resp); err != nil {
		return nil, err
	}

	songs := resp.Result.Songs
	tracks := make([]resolver.TrackReference, 0, len(songs))
	for _, song := range songs {
		names := make([]string, 0, len(song.Ar))
		for _, artist := range song.Ar {
			names = append(names, artist.Name)
		}
		tracks = append(tracks, resolver.TrackReference{
			Platform: platform,
			NativeID: strconv.FormatInt(song.ID, 10),
			Title:    song.Name,
			Artist:   strings.Join(names, " / "),
			Album:    song.Al.Name,
		})
	}
	return tracks, nil
}

type lyricResponse struct {
	Code int `json:"code"`
	Lrc  struct {
		Lyric string `json:"lyric"`
	} `json:"lrc"`
}

// Lyric fetches the raw lyric text for a track.
func (c *Client) Lyric(ctx context.Context, trackID string) (string, error) {
	query := url.Values{}
	query.Set("id", trackID)

	var resp lyricResponse
	if err := c.http.GetJSON(ctx, c.baseURL+"/lyric?"+query.Encode(), c.header(), &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Lrc.Lyric) == "" {
		return "", source.ErrNotFound
	}
	return resp.Lrc.Lyric, nil
}
