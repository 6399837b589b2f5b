package lyrics

import (
	"context"
	"errors"

	"tuneresolve/resolver"
	"tuneresolve/resolver/cache"
	"tuneresolve/resolver/source"
	"tuneresolve/resolver/source/registry"
)

// Service fetches lyrics through the adapter chain with a bounded cache in
// front. Cache failures are logged and ignored so lookups still work when
// storage is sick.
type Service struct {
	store    *cache.Store
	registry *registry.Registry
	logger   resolver.Logger
}

func NewService(store *cache.Store, reg *registry.Registry, logger resolver.Logger) *Service {
	return &Service{store: store, registry: reg, logger: logger}
}

// Get returns the lyric text for a track, trying adapters in registration
// order until one answers.
func (s *Service) Get(ctx context.Context, platform, trackID string) (string, error) {
	if text, ok, err := s.store.GetLyric(ctx, platform, trackID); err != nil {
		s.warn("lyric cache read failed", "platform", platform, "track_id", trackID, "error", err)
	} else if ok {
		return text, nil
	}

	var lastErr error
	for _, adapter := range s.registry.Enabled() {
		text, err := adapter.Lyrics(ctx, platform, trackID)
		if err == nil && text != "" {
			text = NormalizeLRCTimestamps(text)
			if err := s.store.SetLyric(ctx, platform, trackID, text); err != nil {
				s.warn("lyric cache write failed", "platform", platform, "track_id", trackID, "error", err)
			}
			return text, nil
		}
		if err != nil {
			if !source.Retryable(err) && !errors.Is(err, context.Canceled) {
				return "", err
			}
			lastErr = err
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}

	if lastErr == nil {
		lastErr = source.ErrNotFound
	}
	return "", lastErr
}

func (s *Service) warn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
