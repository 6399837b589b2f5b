package pipeline

import (
	"context"
	"strings"

	"tuneresolve/resolver"
	"tuneresolve/resolver/source"
	"tuneresolve/resolver/source/registry"
)

// Bridge re-identifies a track on sibling platforms when its home platform
// cannot serve it. Each sibling platform is searched by title first, then by
// title plus artist, and the top hit is that platform's candidate. Whether a
// candidate actually resolves is the caller's business; the next platform in
// the configured order is only consulted after the previous candidate failed.
type Bridge struct {
	registry  *registry.Registry
	platforms []string
	logger    resolver.Logger
}

func NewBridge(reg *registry.Registry, platforms []string, logger resolver.Logger) *Bridge {
	return &Bridge{registry: reg, platforms: platforms, logger: logger}
}

// Platforms returns the sibling platforms to try for the track, in the
// configured order. The track's own platform is excluded; metadata-poor
// tracks (no title) cannot be bridged at all.
func (b *Bridge) Platforms(track resolver.TrackReference) []string {
	if strings.TrimSpace(track.Title) == "" {
		return nil
	}
	siblings := make([]string, 0, len(b.platforms))
	for _, platform := range b.platforms {
		if platform == track.Platform {
			continue
		}
		siblings = append(siblings, platform)
	}
	return siblings
}

// TopHit searches one platform for the track's best counterpart and returns
// the top search result.
func (b *Bridge) TopHit(ctx context.Context, platform string, track resolver.TrackReference) (resolver.TrackReference, bool) {
	title := strings.TrimSpace(track.Title)
	if title == "" {
		return resolver.TrackReference{}, false
	}

	queries := []string{title}
	if artist := strings.TrimSpace(track.Artist); artist != "" {
		queries = append(queries, title+" "+artist)
	}

	for _, query := range queries {
		if ctx.Err() != nil {
			return resolver.TrackReference{}, false
		}
		if hit, ok := b.searchPlatform(ctx, platform, query); ok {
			if b.logger != nil {
				b.logger.Info("bridge matched track on sibling platform",
					"from", track.Key(), "to", hit.Key(), "query", query)
			}
			return hit, true
		}
	}
	return resolver.TrackReference{}, false
}

func (b *Bridge) searchPlatform(ctx context.Context, platform, query string) (resolver.TrackReference, bool) {
	for _, adapter := range b.registry.Enabled() {
		hits, err := adapter.Search(ctx, platform, query, 1)
		if err != nil {
			if !source.Retryable(err) {
				return resolver.TrackReference{}, false
			}
			continue
		}
		if len(hits) > 0 && hits[0].NativeID != "" {
			return hits[0], true
		}
	}
	return resolver.TrackReference{}, false
}
