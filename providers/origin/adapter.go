package origin

import (
	"context"

	"tuneresolve/resolver"
	"tuneresolve/resolver/source"
)

// levelTokens maps quality tiers to the gateway's level parameter.
var levelTokens = source.TokenTable{
	{Quality: source.QualityImmersive, Token: "jymaster"},
	{Quality: source.QualityHiRes, Token: "hires"},
	{Quality: source.QualityLossless, Token: "lossless"},
	{Quality: source.QualityHigh, Token: "exhigh"},
	{Quality: source.QualityStandard, Token: "standard"},
}

// Adapter serves playable URLs straight from the track's home platform.
// It only answers for its own platform; requests for any other platform
// report not found so the pipeline moves on.
type Adapter struct {
	client   *Client
	platform string
	enabled  bool
}

func NewAdapter(client *Client, platform string, enabled bool) *Adapter {
	return &Adapter{client: client, platform: platform, enabled: enabled}
}

func (a *Adapter) Name() string {
	return "origin"
}

func (a *Adapter) Enabled() bool {
	return a.enabled && a.client != nil
}

// Platform returns the single platform this adapter serves.
func (a *Adapter) Platform() string {
	return a.platform
}

func (a *Adapter) Resolve(ctx context.Context, platform, trackID string, quality source.Quality) (string, string, error) {
	if platform != a.platform {
		return "", "", source.NewError("origin", platform, trackID, source.ErrNotFound)
	}
	token, _ := levelTokens.TokenFor(quality)
	playable, served, err := a.client.SongURL(ctx, trackID, token)
	if err != nil {
		return "", "", source.NewError("origin", platform, trackID, err)
	}
	return playable, served, nil
}

func (a *Adapter) Search(ctx context.Context, platform, query string, limit int) ([]resolver.TrackReference, error) {
	if platform != a.platform {
		return nil, source.NewError("origin", platform, "", source.ErrNotFound)
	}
	return a.client.Search(ctx, platform, query, limit)
}

func (a *Adapter) Lyrics(ctx context.Context, platform, trackID string) (string, error) {
	if platform != a.platform {
		return "", source.NewError("origin", platform, trackID, source.ErrNotFound)
	}
	return a.client.Lyric(ctx, trackID)
}
