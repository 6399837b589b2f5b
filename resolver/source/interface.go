package source

import (
	"context"

	"tuneresolve/resolver"
)

// Adapter resolves playable URLs for one upstream provider. Implementations
// must be safe for concurrent use.
type Adapter interface {
	// Name returns the adapter's registry identifier.
	Name() string

	// Enabled reports whether the adapter is configured and usable.
	Enabled() bool

	// Resolve returns a playable URL for the track at the requested quality,
	// degrading to the nearest supported tier. The second return value is the
	// provider token of the tier actually served.
	Resolve(ctx context.Context, platform, trackID string, quality Quality) (string, string, error)

	// Search returns up to limit tracks on the given platform matching query,
	// best match first.
	Search(ctx context.Context, platform, query string, limit int) ([]resolver.TrackReference, error)

	// Lyrics returns the raw lyric text for the track, or ErrNotFound.
	Lyrics(ctx context.Context, platform, trackID string) (string, error)
}
