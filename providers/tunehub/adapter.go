package tunehub

import (
	"context"
	"strings"

	"tuneresolve/resolver"
	"tuneresolve/resolver/source"
)

// bitrateTokens maps quality tiers to the aggregator's br parameter,
// best first. The service has no tier above 999.
var bitrateTokens = source.TokenTable{
	{Quality: source.QualityHiRes, Token: "999"},
	{Quality: source.QualityLossless, Token: "740"},
	{Quality: source.QualityHigh, Token: "320"},
	{Quality: source.QualityStandard, Token: "128"},
}

// Adapter serves playable URLs from a signed TuneHub deployment.
type Adapter struct {
	client  *Client
	enabled bool
}

func NewAdapter(client *Client, enabled bool) *Adapter {
	return &Adapter{client: client, enabled: enabled}
}

func (a *Adapter) Name() string {
	return "tunehub"
}

func (a *Adapter) Enabled() bool {
	return a.enabled && a.client != nil
}

func (a *Adapter) Resolve(ctx context.Context, platform, trackID string, quality source.Quality) (string, string, error) {
	token, _ := bitrateTokens.TokenFor(quality)
	playable, err := a.client.TrackURL(ctx, platform, trackID, token)
	if err != nil {
		return "", "", err
	}
	if strings.TrimSpace(playable) == "" {
		return "", "", source.NewError("tunehub", platform, trackID, source.ErrNotFound)
	}
	return playable, token, nil
}

func (a *Adapter) Search(ctx context.Context, platform, query string, limit int) ([]resolver.TrackReference, error) {
	return a.client.Search(ctx, platform, query, limit)
}

func (a *Adapter) Lyrics(ctx context.Context, platform, trackID string) (string, error) {
	return a.client.Lyric(ctx, platform, trackID)
}
