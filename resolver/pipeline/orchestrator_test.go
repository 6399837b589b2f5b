package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/gorm/logger"

	"tuneresolve/resolver"
	"tuneresolve/resolver/cache"
	logpkg "tuneresolve/resolver/logger"
	"tuneresolve/resolver/source"
	"tuneresolve/resolver/source/registry"
	"tuneresolve/resolver/worker"
)

type scriptedAdapter struct {
	name         string
	resolveFn    func(platform, trackID string, q source.Quality) (string, string, error)
	searchFn     func(platform, query string, limit int) ([]resolver.TrackReference, error)
	resolveCalls atomic.Int32
	searchCalls  atomic.Int32
}

func (a *scriptedAdapter) Name() string  { return a.name }
func (a *scriptedAdapter) Enabled() bool { return true }

func (a *scriptedAdapter) Resolve(ctx context.Context, platform, trackID string, q source.Quality) (string, string, error) {
	a.resolveCalls.Add(1)
	if a.resolveFn == nil {
		return "", "", source.ErrNotFound
	}
	return a.resolveFn(platform, trackID, q)
}

func (a *scriptedAdapter) Search(ctx context.Context, platform, query string, limit int) ([]resolver.TrackReference, error) {
	a.searchCalls.Add(1)
	if a.searchFn == nil {
		return nil, source.ErrNotFound
	}
	return a.searchFn(platform, query, limit)
}

func (a *scriptedAdapter) Lyrics(ctx context.Context, platform, trackID string) (string, error) {
	return "", source.ErrNotFound
}

type harness struct {
	orchestrator *Orchestrator
	store        *cache.Store
	serverURL    string
}

// newHarness wires an orchestrator against a probe server where /live paths
// answer 200 and /dead paths answer 404.
func newHarness(t *testing.T, bridgePlatforms []string, adapters ...source.Adapter) *harness {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/dead") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	file, err := os.CreateTemp("", "tuneresolve-pipeline-*.db")
	if err != nil {
		t.Fatalf("create temp db: %v", err)
	}
	path := file.Name()
	_ = file.Close()
	t.Cleanup(func() { os.Remove(path) })

	base := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	store, err := cache.NewStore(path, logpkg.NewGormLogger(base, logger.Silent), cache.Options{Enabled: true})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	reg := registry.New()
	for _, a := range adapters {
		if err := reg.Register(a); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	probe := source.NewHTTPClient(source.ClientOptions{
		Name:         "probe-test",
		MaxRetries:   1,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 2 * time.Millisecond,
		RateLimit:    1000,
		RateBurst:    1000,
	}, nil)

	pool := worker.New(2)
	t.Cleanup(func() { pool.StopNow() })

	orchestrator := NewOrchestrator(
		reg,
		store,
		NewValidator(probe, logpkg.Discard()),
		NewBridge(reg, bridgePlatforms, logpkg.Discard()),
		pool,
		OrchestratorOptions{CacheTTLSeconds: 60, MemoSize: 16, MemoTTL: time.Minute},
		logpkg.Discard(),
	)
	return &harness{orchestrator: orchestrator, store: store, serverURL: server.URL}
}

func TestResolvePrefersFirstAdapter(t *testing.T) {
	var h *harness
	origin := &scriptedAdapter{name: "origin", resolveFn: func(platform, trackID string, q source.Quality) (string, string, error) {
		return h.serverURL + "/live/origin.flac", "lossless", nil
	}}
	tunehub := &scriptedAdapter{name: "tunehub"}
	h = newHarness(t, nil, origin, tunehub)

	track := resolver.TrackReference{Platform: "netease", NativeID: "123", Title: "Song"}
	result, err := h.orchestrator.Resolve(context.Background(), track, source.QualityLossless)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if result.Source != "origin" || result.QualityUsed != "lossless" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if tunehub.resolveCalls.Load() != 0 {
		t.Fatal("later adapter called although the first succeeded")
	}
}

func TestResolveFallsThroughOnFailure(t *testing.T) {
	var h *harness
	origin := &scriptedAdapter{name: "origin", resolveFn: func(platform, trackID string, q source.Quality) (string, string, error) {
		return "", "", source.ErrNotFound
	}}
	tunehub := &scriptedAdapter{name: "tunehub", resolveFn: func(platform, trackID string, q source.Quality) (string, string, error) {
		return h.serverURL + "/live/tunehub.mp3", "320", nil
	}}
	h = newHarness(t, nil, origin, tunehub)

	track := resolver.TrackReference{Platform: "netease", NativeID: "123", Title: "Song"}
	result, err := h.orchestrator.Resolve(context.Background(), track, source.QualityHigh)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if result.Source != "tunehub" {
		t.Fatalf("source = %s, want tunehub", result.Source)
	}
}

func TestResolveDeadURLFallsThrough(t *testing.T) {
	var h *harness
	tunehub := &scriptedAdapter{name: "tunehub", resolveFn: func(platform, trackID string, q source.Quality) (string, string, error) {
		return h.serverURL + "/dead/expired.mp3", "320", nil
	}}
	gdmusic := &scriptedAdapter{name: "gdmusic", resolveFn: func(platform, trackID string, q source.Quality) (string, string, error) {
		return h.serverURL + "/live/fresh.mp3", "320", nil
	}}
	h = newHarness(t, nil, tunehub, gdmusic)

	track := resolver.TrackReference{Platform: "netease", NativeID: "123", Title: "Song"}
	result, err := h.orchestrator.Resolve(context.Background(), track, source.QualityHigh)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if result.Source != "gdmusic" {
		t.Fatalf("source = %s, want gdmusic", result.Source)
	}
}

// Full chain scenario: the origin platform is down, the signed aggregator
// hands out an expired URL, the public aggregator has never heard of the
// track, and only the bridge finds a sibling copy.
func TestResolveBridgeAsLastResort(t *testing.T) {
	var h *harness
	origin := &scriptedAdapter{name: "origin", resolveFn: func(platform, trackID string, q source.Quality) (string, string, error) {
		return "", "", source.ErrUnreachable
	}}
	tunehub := &scriptedAdapter{
		name: "tunehub",
		resolveFn: func(platform, trackID string, q source.Quality) (string, string, error) {
			if platform == "qqmusic" && trackID == "456" {
				return h.serverURL + "/live/bridged.mp3", "320", nil
			}
			return h.serverURL + "/dead/expired.mp3", "320", nil
		},
		searchFn: func(platform, query string, limit int) ([]resolver.TrackReference, error) {
			if platform == "qqmusic" && strings.Contains(query, "Song") {
				return []resolver.TrackReference{{Platform: "qqmusic", NativeID: "456", Title: "Song", Artist: "Artist"}}, nil
			}
			return nil, source.ErrNotFound
		},
	}
	gdmusic := &scriptedAdapter{name: "gdmusic", resolveFn: func(platform, trackID string, q source.Quality) (string, string, error) {
		return "", "", source.ErrNotFound
	}}
	h = newHarness(t, []string{"netease", "qqmusic", "kuwo"}, origin, tunehub, gdmusic)

	track := resolver.TrackReference{Platform: "netease", NativeID: "123", Title: "Song", Artist: "Artist"}
	result, err := h.orchestrator.Resolve(context.Background(), track, source.QualityHigh)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if result.Source != resolver.SourceBridge {
		t.Fatalf("source = %s, want bridge", result.Source)
	}
	if result.Track.Platform != "qqmusic" || result.Track.NativeID != "456" {
		t.Fatalf("unexpected bridged track: %+v", result.Track)
	}
	if result.URL != h.serverURL+"/live/bridged.mp3" {
		t.Fatalf("unexpected url: %s", result.URL)
	}
}

func TestBridgeNotUsedWhenChainSucceeds(t *testing.T) {
	var h *harness
	tunehub := &scriptedAdapter{
		name: "tunehub",
		resolveFn: func(platform, trackID string, q source.Quality) (string, string, error) {
			return h.serverURL + "/live/direct.mp3", "320", nil
		},
		searchFn: func(platform, query string, limit int) ([]resolver.TrackReference, error) {
			return []resolver.TrackReference{{Platform: platform, NativeID: "999"}}, nil
		},
	}
	h = newHarness(t, []string{"qqmusic"}, tunehub)

	track := resolver.TrackReference{Platform: "netease", NativeID: "123", Title: "Song"}
	if _, err := h.orchestrator.Resolve(context.Background(), track, source.QualityHigh); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if tunehub.searchCalls.Load() != 0 {
		t.Fatal("bridge searched although the chain succeeded")
	}
}

func TestResolveAllSourcesExhausted(t *testing.T) {
	h := newHarness(t, []string{"qqmusic"},
		&scriptedAdapter{name: "origin"},
		&scriptedAdapter{name: "tunehub"},
		&scriptedAdapter{name: "gdmusic"},
	)

	track := resolver.TrackReference{Platform: "netease", NativeID: "123", Title: "Song"}
	_, err := h.orchestrator.Resolve(context.Background(), track, source.QualityHigh)
	if !errors.Is(err, source.ErrAllSourcesExhausted) {
		t.Fatalf("expected all sources exhausted, got: %v", err)
	}
}

func TestResolveServesCachedResult(t *testing.T) {
	var h *harness
	calls := 0
	adapter := &scriptedAdapter{name: "tunehub", resolveFn: func(platform, trackID string, q source.Quality) (string, string, error) {
		calls++
		return h.serverURL + "/live/cached.mp3", "320", nil
	}}
	h = newHarness(t, nil, adapter)
	ctx := context.Background()

	track := resolver.TrackReference{Platform: "netease", NativeID: "123", Title: "Song"}
	if _, err := h.orchestrator.Resolve(ctx, track, source.QualityHigh); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	result, err := h.orchestrator.Resolve(ctx, track, source.QualityHigh)
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if calls != 1 {
		t.Fatalf("adapter called %d times, want 1", calls)
	}
	if result.URL != h.serverURL+"/live/cached.mp3" {
		t.Fatalf("unexpected cached url: %s", result.URL)
	}
}

func TestResolveSurvivesProcessRestart(t *testing.T) {
	var h *harness
	adapter := &scriptedAdapter{name: "tunehub", resolveFn: func(platform, trackID string, q source.Quality) (string, string, error) {
		return h.serverURL + "/live/persisted.mp3", "320", nil
	}}
	h = newHarness(t, nil, adapter)
	ctx := context.Background()

	track := resolver.TrackReference{Platform: "netease", NativeID: "77", Title: "Song"}
	if _, err := h.orchestrator.Resolve(ctx, track, source.QualityHigh); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	// A fresh orchestrator over the same store has a cold memo but must
	// still hit the persistent row.
	fresh := NewOrchestrator(
		h.orchestrator.registry,
		h.store,
		h.orchestrator.validator,
		h.orchestrator.bridge,
		h.orchestrator.pool,
		OrchestratorOptions{CacheTTLSeconds: 60},
		logpkg.Discard(),
	)
	before := adapter.resolveCalls.Load()
	if _, err := fresh.Resolve(ctx, track, source.QualityHigh); err != nil {
		t.Fatalf("resolve after restart: %v", err)
	}
	if adapter.resolveCalls.Load() != before {
		t.Fatal("persistent cache missed after restart")
	}
}

func TestResolveRecordsHistory(t *testing.T) {
	var h *harness
	adapter := &scriptedAdapter{name: "tunehub", resolveFn: func(platform, trackID string, q source.Quality) (string, string, error) {
		return h.serverURL + "/live/history.mp3", "320", nil
	}}
	h = newHarness(t, nil, adapter)
	ctx := context.Background()

	track := resolver.TrackReference{Platform: "netease", NativeID: "123", Title: "Song", Artist: "Artist", Album: "Album"}
	if _, err := h.orchestrator.Resolve(ctx, track, source.QualityHigh); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	entries, err := h.store.QueryHistory(ctx, 10, 0)
	if err != nil {
		t.Fatalf("query history: %v", err)
	}
	if len(entries) != 1 || entries[0].TrackID != "netease:123" || entries[0].Artist != "Artist" {
		t.Fatalf("unexpected history: %+v", entries)
	}
}

func TestResolveAll(t *testing.T) {
	var h *harness
	adapter := &scriptedAdapter{name: "tunehub", resolveFn: func(platform, trackID string, q source.Quality) (string, string, error) {
		if trackID == "missing" {
			return "", "", source.ErrNotFound
		}
		return h.serverURL + "/live/" + trackID + ".mp3", "320", nil
	}}
	h = newHarness(t, nil, adapter)

	tracks := []resolver.TrackReference{
		{Platform: "netease", NativeID: "1", Title: "A"},
		{Platform: "netease", NativeID: "missing"},
		{Platform: "netease", NativeID: "3", Title: "C"},
	}
	outcomes, err := h.orchestrator.ResolveAll(context.Background(), tracks, source.QualityHigh)
	if err != nil {
		t.Fatalf("resolve all: %v", err)
	}
	if len(outcomes) != 3 {
		t.Fatalf("got %d outcomes, want 3", len(outcomes))
	}
	if outcomes[0].Err != nil || outcomes[0].Result == nil {
		t.Fatalf("track 1 failed: %+v", outcomes[0])
	}
	if !errors.Is(outcomes[1].Err, source.ErrAllSourcesExhausted) {
		t.Fatalf("track 2 should exhaust sources, got: %v", outcomes[1].Err)
	}
	if outcomes[2].Err != nil || outcomes[2].Result == nil {
		t.Fatalf("track 3 failed: %+v", outcomes[2])
	}
}

// A sibling platform whose top search hit resolves dead must not end the
// bridge walk: the next configured platform gets its turn.
func TestBridgeTriesNextPlatformWhenCandidateFails(t *testing.T) {
	var h *harness
	adapter := &scriptedAdapter{
		name: "tunehub",
		resolveFn: func(platform, trackID string, q source.Quality) (string, string, error) {
			switch {
			case platform == "qqmusic" && trackID == "b1":
				return h.serverURL + "/dead/gone.mp3", "320", nil
			case platform == "kuwo" && trackID == "c1":
				return h.serverURL + "/live/sibling.mp3", "320", nil
			}
			return "", "", source.ErrNotFound
		},
		searchFn: func(platform, query string, limit int) ([]resolver.TrackReference, error) {
			switch platform {
			case "qqmusic":
				return []resolver.TrackReference{{Platform: "qqmusic", NativeID: "b1", Title: "Song"}}, nil
			case "kuwo":
				return []resolver.TrackReference{{Platform: "kuwo", NativeID: "c1", Title: "Song"}}, nil
			}
			return nil, source.ErrNotFound
		},
	}
	h = newHarness(t, []string{"netease", "qqmusic", "kuwo"}, adapter)

	track := resolver.TrackReference{Platform: "netease", NativeID: "123", Title: "Song"}
	result, err := h.orchestrator.Resolve(context.Background(), track, source.QualityHigh)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if result.Source != resolver.SourceBridge {
		t.Fatalf("source = %s, want bridge", result.Source)
	}
	if result.Track.Platform != "kuwo" || result.Track.NativeID != "c1" {
		t.Fatalf("unexpected bridged track: %+v", result.Track)
	}
	if result.URL != h.serverURL+"/live/sibling.mp3" {
		t.Fatalf("unexpected url: %s", result.URL)
	}
}

// A repeat play served from cache still counts as a play: played_at must
// move forward, not stay at the last cache miss.
func TestCacheHitRefreshesHistory(t *testing.T) {
	var h *harness
	adapter := &scriptedAdapter{name: "tunehub", resolveFn: func(platform, trackID string, q source.Quality) (string, string, error) {
		return h.serverURL + "/live/replay.mp3", "320", nil
	}}
	h = newHarness(t, nil, adapter)
	ctx := context.Background()

	now := time.Unix(1_700_000_000, 0)
	h.orchestrator.now = func() time.Time { return now }

	track := resolver.TrackReference{Platform: "netease", NativeID: "123", Title: "Song"}
	if _, err := h.orchestrator.Resolve(ctx, track, source.QualityHigh); err != nil {
		t.Fatalf("first resolve: %v", err)
	}

	now = now.Add(2 * time.Hour)
	if _, err := h.orchestrator.Resolve(ctx, track, source.QualityHigh); err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if adapter.resolveCalls.Load() != 1 {
		t.Fatalf("second resolve bypassed the cache: %d adapter calls", adapter.resolveCalls.Load())
	}

	entries, err := h.store.QueryHistory(ctx, 10, 0)
	if err != nil {
		t.Fatalf("query history: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d history rows, want 1", len(entries))
	}
	if got := entries[0].PlayedAt.Unix(); got != now.Unix() {
		t.Fatalf("played_at = %d, want %d", got, now.Unix())
	}
}

// Cancelling mid-batch must leave every outcome written exactly once, with
// no writes landing after ResolveAll returns.
func TestResolveAllCancelMidFlight(t *testing.T) {
	adapter := &scriptedAdapter{name: "tunehub", resolveFn: func(platform, trackID string, q source.Quality) (string, string, error) {
		time.Sleep(150 * time.Millisecond)
		return "", "", source.ErrUnreachable
	}}
	h := newHarness(t, nil, adapter)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	tracks := []resolver.TrackReference{
		{Platform: "netease", NativeID: "1", Title: "A"},
		{Platform: "netease", NativeID: "2", Title: "B"},
		{Platform: "netease", NativeID: "3", Title: "C"},
		{Platform: "netease", NativeID: "4", Title: "D"},
	}
	outcomes, err := h.orchestrator.ResolveAll(ctx, tracks, source.QualityHigh)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got: %v", err)
	}
	if len(outcomes) != len(tracks) {
		t.Fatalf("got %d outcomes, want %d", len(outcomes), len(tracks))
	}
	for i, outcome := range outcomes {
		if outcome.Err == nil {
			t.Fatalf("outcome %d has no error after cancel: %+v", i, outcome)
		}
	}
}

// A broken cache backend degrades to a live resolution, never to a caller
// visible failure.
func TestResolveCacheErrorFailsOpen(t *testing.T) {
	var h *harness
	adapter := &scriptedAdapter{name: "tunehub", resolveFn: func(platform, trackID string, q source.Quality) (string, string, error) {
		return h.serverURL + "/live/degraded.mp3", "320", nil
	}}
	h = newHarness(t, nil, adapter)

	// Close the underlying database so every read and write errors out.
	if err := h.store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	track := resolver.TrackReference{Platform: "netease", NativeID: "123", Title: "Song"}
	result, err := h.orchestrator.Resolve(context.Background(), track, source.QualityHigh)
	if err != nil {
		t.Fatalf("resolve should fail open, got: %v", err)
	}
	if result.URL != h.serverURL+"/live/degraded.mp3" {
		t.Fatalf("unexpected url: %s", result.URL)
	}
}
