package gdmusic

import (
	"context"

	"tuneresolve/resolver"
	"tuneresolve/resolver/source"
)

// bitrateTokens maps quality tiers to the aggregator's br parameter. Public
// deployments top out at 999 (lossless); hires and above degrade to it.
var bitrateTokens = source.TokenTable{
	{Quality: source.QualityLossless, Token: "999"},
	{Quality: source.QualityHigh, Token: "320"},
	{Quality: source.QualityStandard, Token: "128"},
}

// Adapter serves playable URLs from a public GD-style aggregator. It is the
// last resolution stop before the identity bridge.
type Adapter struct {
	client  *Client
	enabled bool
}

func NewAdapter(client *Client, enabled bool) *Adapter {
	return &Adapter{client: client, enabled: enabled}
}

func (a *Adapter) Name() string {
	return "gdmusic"
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
	return playable, token, nil
}

func (a *Adapter) Search(ctx context.Context, platform, query string, limit int) ([]resolver.TrackReference, error) {
	return a.client.Search(ctx, platform, query, limit)
}

func (a *Adapter) Lyrics(ctx context.Context, platform, trackID string) (string, error) {
	return a.client.Lyric(ctx, platform, trackID)
}
