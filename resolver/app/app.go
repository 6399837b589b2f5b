package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"tuneresolve/providers/gdmusic"
	"tuneresolve/providers/origin"
	"tuneresolve/providers/tunehub"
	"tuneresolve/resolver"
	"tuneresolve/resolver/cache"
	"tuneresolve/resolver/config"
	"tuneresolve/resolver/cover"
	logpkg "tuneresolve/resolver/logger"
	"tuneresolve/resolver/lyrics"
	"tuneresolve/resolver/pipeline"
	"tuneresolve/resolver/source"
	"tuneresolve/resolver/source/registry"
	"tuneresolve/resolver/worker"
)

// App wires all application dependencies.
type App struct {
	Config       *config.Config
	Logger       *logpkg.Logger
	Store        *cache.Store
	Covers       *cover.Store
	Lyrics       *lyrics.Service
	Registry     *registry.Registry
	Orchestrator *pipeline.Orchestrator
	Pool         *worker.Pool

	defaultQuality source.Quality
}

// New builds the application container.
func New(ctx context.Context, configPath string) (*App, error) {
	conf, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log := logpkg.New(conf.GetString("LogLevel"), conf.GetString("LogFormat"), conf.GetBool("LogSource"))

	gormLogger := logpkg.NewGormLogger(log.Slog(), logpkg.ParseGormLevel(conf.GetString("GormLogLevel")))
	databasePath := strings.TrimSpace(conf.GetString("Database"))
	if databasePath == "" {
		databasePath = "cache.db"
	}

	store, err := cache.NewStore(databasePath, gormLogger, cache.Options{
		Enabled:         conf.GetBool("CacheEnabled"),
		LyricTTLSeconds: conf.GetInt64("LyricTTLSeconds"),
		LyricMax:        conf.GetInt("LyricCacheMax"),
	})
	if err != nil {
		return nil, fmt.Errorf("init cache store: %w", err)
	}

	clientOpts := func(name string) source.ClientOptions {
		return source.ClientOptions{
			Name:         name,
			Timeout:      time.Duration(conf.GetInt("RequestTimeoutSeconds")) * time.Second,
			MaxRetries:   conf.GetInt("MaxRetries"),
			RetryWaitMin: time.Duration(conf.GetInt("RetryWaitMinMS")) * time.Millisecond,
			RetryWaitMax: time.Duration(conf.GetInt("RetryWaitMaxMS")) * time.Millisecond,
			Budget:       time.Duration(conf.GetInt("AttemptBudgetSeconds")) * time.Second,
			RateLimit:    conf.GetFloat64("RateLimitPerSecond"),
			RateBurst:    conf.GetInt("RateLimitBurst"),
			ProxyURL:     conf.GetString("ProxyURL"),
		}
	}

	reg := registry.New()
	originPlatform := strings.TrimSpace(conf.GetString("OriginPlatform"))
	if originPlatform == "" {
		originPlatform = "netease"
	}

	// Registration order is resolution priority: the track's home platform
	// first, the signed aggregator second, the public aggregator last.
	if baseURL := conf.GetProviderString("origin", "base_url"); baseURL != "" {
		client := origin.NewClient(baseURL, conf.GetProviderString("origin", "cookie"),
			clientOpts("origin"), log.With("provider", "origin"))
		adapter := origin.NewAdapter(client, originPlatform, conf.ProviderEnabled("origin"))
		if err := reg.Register(adapter); err != nil {
			return nil, err
		}
	} else {
		log.Warn("origin provider has no base_url, skipping")
	}

	if baseURL := conf.GetProviderString("tunehub", "base_url"); baseURL != "" {
		signer := tunehub.NewSigner(
			conf.GetProviderString("tunehub", "fingerprint"),
			conf.GetProviderString("tunehub", "secret"),
		)
		client := tunehub.NewClient(baseURL, signer, clientOpts("tunehub"), log.With("provider", "tunehub"))
		adapter := tunehub.NewAdapter(client, conf.ProviderEnabled("tunehub"))
		if err := reg.Register(adapter); err != nil {
			return nil, err
		}
	} else {
		log.Warn("tunehub provider has no base_url, skipping")
	}

	if baseURL := conf.GetProviderString("gdmusic", "base_url"); baseURL != "" {
		client := gdmusic.NewClient(baseURL, clientOpts("gdmusic"), log.With("provider", "gdmusic"))
		adapter := gdmusic.NewAdapter(client, conf.ProviderEnabled("gdmusic"))
		if err := reg.Register(adapter); err != nil {
			return nil, err
		}
	} else {
		log.Warn("gdmusic provider has no base_url, skipping")
	}

	if len(reg.Enabled()) == 0 {
		log.Warn("no providers enabled, every resolution will fail")
	}

	coverStore, err := cover.NewStore(cover.Options{
		Dir:      filepath.Join(conf.GetString("CacheDir"), "covers"),
		MaxFiles: conf.GetInt64("CoverMaxFiles"),
		MaxBytes: conf.GetInt64("CoverMaxBytes"),
	}, store, source.NewHTTPClient(clientOpts("cover"), log.With("component", "cover")), log.With("component", "cover"))
	if err != nil {
		return nil, fmt.Errorf("init cover store: %w", err)
	}

	pool := worker.New(conf.GetInt("WorkerPoolSize"))

	defaultQuality, err := source.ParseQuality(conf.GetString("DefaultQuality"))
	if err != nil {
		log.Warn("unknown default quality, using lossless", "value", conf.GetString("DefaultQuality"))
		defaultQuality = source.QualityLossless
	}

	validator := pipeline.NewValidator(
		source.NewHTTPClient(clientOpts("probe"), log.With("component", "probe")),
		log.With("component", "probe"),
	)
	bridge := pipeline.NewBridge(reg, conf.GetStringSlice("BridgePlatforms"), log.With("component", "bridge"))

	orchestrator := pipeline.NewOrchestrator(reg, store, validator, bridge, pool, pipeline.OrchestratorOptions{
		CacheTTLSeconds: conf.GetInt64("CacheTTLSeconds"),
		MemoSize:        conf.GetInt("MemoCacheSize"),
		MemoTTL:         time.Duration(conf.GetInt("MemoTTLSeconds")) * time.Second,
	}, log.With("component", "pipeline"))

	return &App{
		Config:         conf,
		Logger:         log,
		Store:          store,
		Covers:         coverStore,
		Lyrics:         lyrics.NewService(store, reg, log.With("component", "lyrics")),
		Registry:       reg,
		Orchestrator:   orchestrator,
		Pool:           pool,
		defaultQuality: defaultQuality,
	}, nil
}

// DefaultQuality returns the configured target quality tier.
func (a *App) DefaultQuality() source.Quality {
	return a.defaultQuality
}

// Resolve returns a validated playable URL for one track at the default
// quality.
func (a *App) Resolve(ctx context.Context, track resolver.TrackReference) (*resolver.ResolutionResult, error) {
	return a.Orchestrator.Resolve(ctx, track, a.defaultQuality)
}

// ResolveAll resolves a batch of tracks concurrently.
func (a *App) ResolveAll(ctx context.Context, tracks []resolver.TrackReference) ([]pipeline.Outcome, error) {
	return a.Orchestrator.ResolveAll(ctx, tracks, a.defaultQuality)
}

// QueryHistory returns recent plays, newest first.
func (a *App) QueryHistory(ctx context.Context, limit, withinDays int) ([]resolver.HistoryEntry, error) {
	return a.Store.QueryHistory(ctx, limit, withinDays)
}

// QueryHistoryByArtist filters recent plays to one artist.
func (a *App) QueryHistoryByArtist(ctx context.Context, artist string, limit int) ([]resolver.HistoryEntry, error) {
	return a.Store.QueryHistoryByArtist(ctx, artist, limit)
}

// QueryHistoryByAlbum filters recent plays to one album.
func (a *App) QueryHistoryByAlbum(ctx context.Context, album string, limit int) ([]resolver.HistoryEntry, error) {
	return a.Store.QueryHistoryByAlbum(ctx, album, limit)
}

// ClearHistory drops the play log.
func (a *App) ClearHistory(ctx context.Context) error {
	return a.Store.ClearHistory(ctx)
}

// GetCoverLocal returns a local path for cover art, downloading on a miss,
// or the remote URL when the cache cannot serve it.
func (a *App) GetCoverLocal(ctx context.Context, remoteURL string) string {
	return a.Covers.Get(ctx, remoteURL)
}

// GetLyrics returns lyric text for a track.
func (a *App) GetLyrics(ctx context.Context, platform, trackID string) (string, error) {
	return a.Lyrics.Get(ctx, platform, trackID)
}

// CacheStats reports cache table sizes.
func (a *App) CacheStats(ctx context.Context) (resolver.CacheStats, error) {
	return a.Store.Stats(ctx)
}

// ClearCache drops cached resolutions, lyrics and cover files.
func (a *App) ClearCache(ctx context.Context) error {
	if err := a.Covers.Clear(ctx); err != nil {
		return err
	}
	return a.Store.ClearAll(ctx)
}

// Shutdown drains the worker pool and closes storage.
func (a *App) Shutdown(ctx context.Context) error {
	if err := a.Pool.Shutdown(ctx); err != nil {
		a.Logger.Warn("worker pool shutdown incomplete", "error", err)
	}
	return a.Store.Close()
}
