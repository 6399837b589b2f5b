package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"tuneresolve/resolver"
	"tuneresolve/resolver/cache"
	"tuneresolve/resolver/source"
	"tuneresolve/resolver/source/registry"
	"tuneresolve/resolver/worker"
)

const cacheCategoryResolution = "resolution"

// Orchestrator drives a track through the resolution chain: cache lookup,
// then each enabled adapter in priority order, then the identity bridge as
// the last resort. Only validated URLs are served or cached.
type Orchestrator struct {
	registry  *registry.Registry
	store     *cache.Store
	memo      *expirable.LRU[string, resolver.ResolutionResult]
	validator *Validator
	bridge    *Bridge
	pool      *worker.Pool
	logger    resolver.Logger
	cacheTTL  int64
	now       func() time.Time
}

// OrchestratorOptions configure cache behavior.
type OrchestratorOptions struct {
	CacheTTLSeconds int64
	MemoSize        int
	MemoTTL         time.Duration
}

func NewOrchestrator(
	reg *registry.Registry,
	store *cache.Store,
	validator *Validator,
	bridge *Bridge,
	pool *worker.Pool,
	opts OrchestratorOptions,
	logger resolver.Logger,
) *Orchestrator {
	if opts.CacheTTLSeconds <= 0 {
		opts.CacheTTLSeconds = 86400
	}
	if opts.MemoSize <= 0 {
		opts.MemoSize = 256
	}
	if opts.MemoTTL <= 0 {
		opts.MemoTTL = 10 * time.Minute
	}
	return &Orchestrator{
		registry:  reg,
		store:     store,
		memo:      expirable.NewLRU[string, resolver.ResolutionResult](opts.MemoSize, nil, opts.MemoTTL),
		validator: validator,
		bridge:    bridge,
		pool:      pool,
		logger:    logger,
		cacheTTL:  opts.CacheTTLSeconds,
		now:       time.Now,
	}
}

func resultKey(track resolver.TrackReference, quality source.Quality) string {
	return track.Key() + ":" + quality.String()
}

// Resolve returns a validated playable URL for the track. The only failure
// callers see is ErrAllSourcesExhausted; everything upstream of that is
// logged and absorbed by the chain.
func (o *Orchestrator) Resolve(ctx context.Context, track resolver.TrackReference, quality source.Quality) (*resolver.ResolutionResult, error) {
	key := resultKey(track, quality)

	if result, ok := o.cachedResult(ctx, key); ok {
		o.recordPlay(ctx, track)
		return result, nil
	}

	result, err := o.resolveChain(ctx, track, quality)
	if err == nil {
		o.commit(ctx, key, track, result)
		return result, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	result, err = o.resolveBridged(ctx, track, quality)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s: %w", track.Key(), source.ErrAllSourcesExhausted)
	}

	// Cache under the original identity too, so the next request for the
	// unservable track skips straight to the bridged URL.
	o.commit(ctx, key, track, result)
	return result, nil
}

// resolveBridged walks the sibling platforms in configured order, re-running
// the full adapter chain on each platform's top search hit. The first
// candidate whose URL survives validation wins; a candidate that searches
// fine but resolves dead does not stop the walk.
func (o *Orchestrator) resolveBridged(ctx context.Context, track resolver.TrackReference, quality source.Quality) (*resolver.ResolutionResult, error) {
	for _, platform := range o.bridge.Platforms(track) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		alternate, ok := o.bridge.TopHit(ctx, platform, track)
		if !ok {
			continue
		}

		result, err := o.resolveChain(ctx, alternate, quality)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			o.debug("bridged candidate failed, trying next platform",
				"track", track.Key(), "candidate", alternate.Key(), "error", err)
			continue
		}
		result.Source = resolver.SourceBridge
		return result, nil
	}
	return nil, source.ErrAllSourcesExhausted
}

// resolveChain tries every enabled adapter in registration order and returns
// the first result whose URL survives validation.
func (o *Orchestrator) resolveChain(ctx context.Context, track resolver.TrackReference, quality source.Quality) (*resolver.ResolutionResult, error) {
	var lastErr error
	for _, adapter := range o.registry.Enabled() {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		playable, token, err := adapter.Resolve(ctx, track.Platform, track.NativeID, quality)
		if err != nil {
			if !source.Retryable(err) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			o.debug("adapter failed, trying next", "adapter", adapter.Name(), "track", track.Key(), "error", err)
			lastErr = err
			continue
		}

		if err := o.validator.Validate(ctx, playable); err != nil {
			o.debug("candidate url dead, trying next", "adapter", adapter.Name(), "track", track.Key(), "error", err)
			lastErr = err
			continue
		}

		return &resolver.ResolutionResult{
			URL:         playable,
			QualityUsed: token,
			Source:      resolver.Source(adapter.Name()),
			Track:       track,
			ResolvedAt:  o.now(),
		}, nil
	}

	if lastErr == nil {
		lastErr = source.ErrNotFound
	}
	return nil, lastErr
}

// cachedResult checks the memo and the persistent cache. Every hit, memo
// included, is revalidated with a probe before it is served: provider URLs
// are short-lived and can die well inside the cache TTL, so a hit costs one
// HEAD request rather than zero network calls. Dead cached URLs are purged.
// Cache trouble is logged and treated as a miss.
func (o *Orchestrator) cachedResult(ctx context.Context, key string) (*resolver.ResolutionResult, bool) {
	if result, ok := o.memo.Get(key); ok {
		if o.validator.Validate(ctx, result.URL) == nil {
			return &result, true
		}
		o.memo.Remove(key)
	}

	payload, ok, err := o.store.Get(ctx, key)
	if err != nil {
		o.warn("cache read failed, resolving fresh", "key", key, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var result resolver.ResolutionResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		o.warn("cache payload corrupt, purging", "key", key, "error", err)
		o.purge(ctx, key)
		return nil, false
	}

	if err := o.validator.Validate(ctx, result.URL); err != nil {
		o.debug("cached url dead, purging", "key", key, "error", err)
		o.purge(ctx, key)
		return nil, false
	}

	o.memo.Add(key, result)
	return &result, true
}

func (o *Orchestrator) purge(ctx context.Context, key string) {
	if err := o.store.Delete(ctx, key); err != nil {
		o.warn("cache purge failed", "key", key, "error", err)
	}
}

// commit records a successful resolution: memo, persistent cache, play
// history, and an opportunistic sweep of expired rows. All of it fails open.
func (o *Orchestrator) commit(ctx context.Context, key string, track resolver.TrackReference, result *resolver.ResolutionResult) {
	o.memo.Add(key, *result)

	payload, err := json.Marshal(result)
	if err == nil {
		if err := o.store.Set(ctx, key, string(payload), o.cacheTTL, cacheCategoryResolution); err != nil {
			o.warn("cache write failed", "key", key, "error", err)
		}
	}

	o.recordPlay(ctx, track)

	if _, err := o.store.Sweep(ctx); err != nil {
		o.warn("cache sweep failed", "error", err)
	}
}

// recordPlay upserts the play log with the current time. It runs on every
// served resolution, cache hits included, so played_at always reflects the
// most recent play rather than the last cache miss.
func (o *Orchestrator) recordPlay(ctx context.Context, track resolver.TrackReference) {
	entry := resolver.HistoryEntry{
		TrackID:  track.Key(),
		Title:    track.Title,
		Artist:   track.Artist,
		Album:    track.Album,
		PlayedAt: o.now(),
	}
	if err := o.store.UpsertHistory(ctx, entry); err != nil {
		o.warn("history write failed", "track", track.Key(), "error", err)
	}
}

func (o *Orchestrator) debug(msg string, args ...any) {
	if o.logger != nil {
		o.logger.Debug(msg, args...)
	}
}

func (o *Orchestrator) warn(msg string, args ...any) {
	if o.logger != nil {
		o.logger.Warn(msg, args...)
	}
}

// Outcome pairs one track of a batch with its resolution or failure.
type Outcome struct {
	Track  resolver.TrackReference
	Result *resolver.ResolutionResult
	Err    error
}

// ResolveAll resolves a batch concurrently on the worker pool. Individual
// failures land in their Outcome; the only overall error is a dead context.
// Each outcome slot is written by exactly one goroutine: the worker task if
// it was enqueued, the submitting goroutine if the pool rejected it. Waiting
// never abandons a running task, so no write can land after return.
func (o *Orchestrator) ResolveAll(ctx context.Context, tracks []resolver.TrackReference, quality source.Quality) ([]Outcome, error) {
	outcomes := make([]Outcome, len(tracks))

	group, groupCtx := errgroup.WithContext(ctx)
	for i, track := range tracks {
		i, track := i, track
		group.Go(func() error {
			err := o.pool.SubmitWait(func() error {
				if err := groupCtx.Err(); err != nil {
					outcomes[i] = Outcome{Track: track, Err: err}
					return nil
				}
				result, err := o.Resolve(groupCtx, track, quality)
				outcomes[i] = Outcome{Track: track, Result: result, Err: err}
				return nil
			})
			if err != nil {
				outcomes[i] = Outcome{Track: track, Err: err}
			}
			return groupCtx.Err()
		})
	}
	if err := group.Wait(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}
