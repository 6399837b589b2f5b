package cover

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"

	"tuneresolve/resolver"
	"tuneresolve/resolver/cache"
	"tuneresolve/resolver/source"
)

// Store caches cover art on disk under a stable name derived from the remote
// URL. The cache is bounded twice, by file count and by total bytes; when
// either bound is exceeded the oldest files go first. Every failure fails
// open by returning the remote URL, so callers always have something to show.
type Store struct {
	dir      string
	maxFiles int64
	maxBytes int64
	index    *cache.Store
	http     *source.HTTPClient
	logger   resolver.Logger
}

// Options bound the cover cache.
type Options struct {
	Dir      string
	MaxFiles int64
	MaxBytes int64
}

// NewStore creates a cover store rooted at opts.Dir.
func NewStore(opts Options, index *cache.Store, httpClient *source.HTTPClient, logger resolver.Logger) (*Store, error) {
	if opts.Dir == "" {
		opts.Dir = "./cache/covers"
	}
	if opts.MaxFiles <= 0 {
		opts.MaxFiles = 2000
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 200 << 20
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, err
	}
	return &Store{
		dir:      opts.Dir,
		maxFiles: opts.MaxFiles,
		maxBytes: opts.MaxBytes,
		index:    index,
		http:     httpClient,
		logger:   logger,
	}, nil
}

func hashURL(remoteURL string) string {
	sum := md5.Sum([]byte(remoteURL))
	return hex.EncodeToString(sum[:])
}

// Get returns a local path for the cover at remoteURL, downloading it on a
// miss. On any failure the remote URL comes back unchanged.
func (s *Store) Get(ctx context.Context, remoteURL string) string {
	if remoteURL == "" {
		return ""
	}

	urlHash := hashURL(remoteURL)
	row, err := s.index.CoverLookup(ctx, urlHash)
	if err != nil {
		s.warn("cover index lookup failed", "url", remoteURL, "error", err)
		return remoteURL
	}
	if row != nil {
		if _, statErr := os.Stat(row.LocalPath); statErr == nil {
			return row.LocalPath
		}
		// File vanished under us; drop the stale row and re-download.
		if delErr := s.index.CoverDelete(ctx, []uint{row.ID}); delErr != nil {
			s.warn("stale cover row cleanup failed", "url", remoteURL, "error", delErr)
		}
	}

	body, err := s.http.GetBytes(ctx, remoteURL)
	if err != nil {
		s.warn("cover download failed", "url", remoteURL, "error", err)
		return remoteURL
	}

	localPath := filepath.Join(s.dir, urlHash+".jpg")
	if err := os.WriteFile(localPath, body, 0644); err != nil {
		s.warn("cover write failed", "path", localPath, "error", err)
		return remoteURL
	}
	if err := s.index.CoverInsert(ctx, urlHash, remoteURL, localPath, int64(len(body))); err != nil {
		s.warn("cover index insert failed", "url", remoteURL, "error", err)
		return remoteURL
	}

	if err := s.evict(ctx); err != nil {
		s.warn("cover eviction failed", "error", err)
	}
	return localPath
}

// evict deletes oldest files until both bounds hold, count first.
func (s *Store) evict(ctx context.Context) error {
	files, bytes, err := s.index.CoverTotals(ctx)
	if err != nil {
		return err
	}
	if files <= s.maxFiles && bytes <= s.maxBytes {
		return nil
	}

	oldest, err := s.index.CoverOldest(ctx, int(files))
	if err != nil {
		return err
	}

	var removed []uint
	for _, row := range oldest {
		if files <= s.maxFiles && bytes <= s.maxBytes {
			break
		}
		if err := os.Remove(row.LocalPath); err != nil && !os.IsNotExist(err) {
			s.warn("cover file remove failed", "path", row.LocalPath, "error", err)
		}
		removed = append(removed, row.ID)
		files--
		bytes -= row.SizeBytes
	}
	return s.index.CoverDelete(ctx, removed)
}

// Clear removes every cached cover file and its index rows.
func (s *Store) Clear(ctx context.Context) error {
	rows, err := s.index.CoverOldest(ctx, int(^uint(0)>>1))
	if err != nil {
		return err
	}
	var ids []uint
	for _, row := range rows {
		if err := os.Remove(row.LocalPath); err != nil && !os.IsNotExist(err) {
			s.warn("cover file remove failed", "path", row.LocalPath, "error", err)
		}
		ids = append(ids, row.ID)
	}
	return s.index.CoverDelete(ctx, ids)
}

func (s *Store) warn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
