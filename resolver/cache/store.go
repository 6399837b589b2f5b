package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"tuneresolve/resolver"
	"tuneresolve/resolver/source"
)

// Store provides access to the resolution cache database: TTL entries,
// lyrics, the cover file index and the play history log.
type Store struct {
	db       *gorm.DB
	enabled  bool
	lyricTTL int64
	lyricMax int
	now      func() time.Time
}

// Options tune store behavior beyond the defaults.
type Options struct {
	// Enabled gates all reads and writes. A disabled store misses on every
	// read and silently drops writes.
	Enabled bool
	// LyricTTLSeconds is the lyric freshness window.
	LyricTTLSeconds int64
	// LyricMax caps the lyric table size; least recently read rows are
	// trimmed past it.
	LyricMax int
}

// NewStore creates a store backed by SQLite.
func NewStore(dsn string, gormLogger logger.Interface, opts Options) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn required")
	}

	if gormLogger == nil {
		gormLogger = logger.Default.LogMode(logger.Silent)
	}

	dbDir := filepath.Dir(dsn)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		Logger:                 gormLogger,
	})
	if err != nil {
		return nil, err
	}

	if err := applySQLitePragmas(db); err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&CacheEntryModel{}, &LyricModel{}, &CoverModel{}, &HistoryModel{}); err != nil {
		return nil, err
	}

	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if opts.LyricTTLSeconds <= 0 {
		opts.LyricTTLSeconds = 86400
	}
	if opts.LyricMax <= 0 {
		opts.LyricMax = 500
	}

	return &Store{
		db:       db,
		enabled:  opts.Enabled,
		lyricTTL: opts.LyricTTLSeconds,
		lyricMax: opts.LyricMax,
		now:      time.Now,
	}, nil
}

func applySQLitePragmas(db *gorm.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=-64000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, stmt := range pragmas {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %v: %w", op, err, source.ErrCacheUnavailable)
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

// Get returns the payload stored under key if it has not expired.
// Expired rows are deleted on read so the table self-cleans under load.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	if s == nil || !s.enabled {
		return "", false, nil
	}

	var model CacheEntryModel
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storeErr("cache get", err)
	}

	if model.TTLSeconds > 0 && s.now().Unix() >= model.StoredAt+model.TTLSeconds {
		if err := s.db.WithContext(ctx).Unscoped().Delete(&CacheEntryModel{}, "key = ?", key).Error; err != nil {
			return "", false, storeErr("cache expire", err)
		}
		return "", false, nil
	}

	return model.Payload, true, nil
}

// Set stores payload under key, replacing any previous row.
// A ttlSeconds of zero means the entry never expires.
func (s *Store) Set(ctx context.Context, key, payload string, ttlSeconds int64, category string) error {
	if s == nil || !s.enabled {
		return nil
	}

	model := &CacheEntryModel{
		Key:        key,
		Payload:    payload,
		Category:   category,
		TTLSeconds: ttlSeconds,
		StoredAt:   s.now().Unix(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"deleted_at",
			"updated_at",
			"payload",
			"category",
			"ttl_seconds",
			"stored_at",
		}),
	}).Create(model).Error
	if err != nil {
		return storeErr("cache set", err)
	}
	return nil
}

// Delete removes a single entry by key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if s == nil || !s.enabled {
		return nil
	}
	if err := s.db.WithContext(ctx).Unscoped().Delete(&CacheEntryModel{}, "key = ?", key).Error; err != nil {
		return storeErr("cache delete", err)
	}
	return nil
}

// Sweep deletes all expired entries and returns how many were removed.
func (s *Store) Sweep(ctx context.Context) (int64, error) {
	if s == nil || !s.enabled {
		return 0, nil
	}

	res := s.db.WithContext(ctx).Unscoped().
		Where("ttl_seconds > 0 AND stored_at + ttl_seconds <= ?", s.now().Unix()).
		Delete(&CacheEntryModel{})
	if res.Error != nil {
		return 0, storeErr("cache sweep", res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteCategory removes every entry in a category.
func (s *Store) DeleteCategory(ctx context.Context, category string) error {
	if s == nil || !s.enabled {
		return nil
	}
	err := s.db.WithContext(ctx).Unscoped().
		Where("category = ?", category).
		Delete(&CacheEntryModel{}).Error
	if err != nil {
		return storeErr("cache delete category", err)
	}
	return nil
}

// ClearAll drops every cached entry and lyric. History and the cover index
// are managed by their own clear operations.
func (s *Store) ClearAll(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Unscoped().
		Delete(&CacheEntryModel{}).Error; err != nil {
		return storeErr("cache clear", err)
	}
	if err := s.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Unscoped().
		Delete(&LyricModel{}).Error; err != nil {
		return storeErr("lyric clear", err)
	}
	return nil
}

// Stats reports table sizes for diagnostics.
func (s *Store) Stats(ctx context.Context) (resolver.CacheStats, error) {
	stats := resolver.CacheStats{ByCategory: make(map[string]int64)}
	if s == nil || s.db == nil {
		return stats, nil
	}

	if err := s.db.WithContext(ctx).Model(&CacheEntryModel{}).Count(&stats.TotalEntries).Error; err != nil {
		return stats, storeErr("cache stats", err)
	}

	rows := make([]struct {
		Category string
		Count    int64
	}, 0)
	if err := s.db.WithContext(ctx).Model(&CacheEntryModel{}).
		Select("category, COUNT(*) as count").
		Group("category").
		Scan(&rows).Error; err != nil {
		return stats, storeErr("cache stats", err)
	}
	for _, row := range rows {
		stats.ByCategory[row.Category] = row.Count
	}

	if err := s.db.WithContext(ctx).Model(&CacheEntryModel{}).
		Where("ttl_seconds > 0 AND stored_at + ttl_seconds <= ?", s.now().Unix()).
		Count(&stats.Expired).Error; err != nil {
		return stats, storeErr("cache stats", err)
	}

	if err := s.db.WithContext(ctx).Model(&LyricModel{}).Count(&stats.LyricEntries).Error; err != nil {
		return stats, storeErr("cache stats", err)
	}

	var coverTotals struct {
		Files int64
		Bytes int64
	}
	if err := s.db.WithContext(ctx).Model(&CoverModel{}).
		Select("COUNT(*) as files, COALESCE(SUM(size_bytes), 0) as bytes").
		Scan(&coverTotals).Error; err != nil {
		return stats, storeErr("cache stats", err)
	}
	stats.CoverFiles = coverTotals.Files
	stats.CoverBytes = coverTotals.Bytes

	return stats, nil
}

// GetLyric returns a fresh cached lyric and bumps its access time.
func (s *Store) GetLyric(ctx context.Context, platform, trackID string) (string, bool, error) {
	if s == nil || !s.enabled {
		return "", false, nil
	}

	var model LyricModel
	err := s.db.WithContext(ctx).Where("platform = ? AND track_id = ?", platform, trackID).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storeErr("lyric get", err)
	}

	nowUnix := s.now().Unix()
	if nowUnix >= model.CreatedAt.Unix()+s.lyricTTL {
		if err := s.db.WithContext(ctx).Unscoped().Delete(&LyricModel{}, model.ID).Error; err != nil {
			return "", false, storeErr("lyric expire", err)
		}
		return "", false, nil
	}

	if err := s.db.WithContext(ctx).Model(&LyricModel{}).
		Where("id = ?", model.ID).
		UpdateColumn("last_access", nowUnix).Error; err != nil {
		return "", false, storeErr("lyric touch", err)
	}

	return model.Text, true, nil
}

// SetLyric stores a lyric and trims the least recently read rows past the cap.
func (s *Store) SetLyric(ctx context.Context, platform, trackID, text string) error {
	if s == nil || !s.enabled {
		return nil
	}

	model := &LyricModel{
		Platform:   platform,
		TrackID:    trackID,
		Text:       text,
		LastAccess: s.now().Unix(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "platform"}, {Name: "track_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"deleted_at",
			"updated_at",
			"created_at",
			"text",
			"last_access",
		}),
	}).Create(model).Error
	if err != nil {
		return storeErr("lyric set", err)
	}

	return s.trimLyrics(ctx)
}

func (s *Store) trimLyrics(ctx context.Context) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&LyricModel{}).Count(&count).Error; err != nil {
		return storeErr("lyric trim", err)
	}
	excess := count - int64(s.lyricMax)
	if excess <= 0 {
		return nil
	}

	var ids []uint
	if err := s.db.WithContext(ctx).Model(&LyricModel{}).
		Order("last_access ASC").
		Limit(int(excess)).
		Pluck("id", &ids).Error; err != nil {
		return storeErr("lyric trim", err)
	}
	if len(ids) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Unscoped().Delete(&LyricModel{}, ids).Error; err != nil {
		return storeErr("lyric trim", err)
	}
	return nil
}

// CoverLookup returns the cover index row for a URL hash.
func (s *Store) CoverLookup(ctx context.Context, urlHash string) (*CoverModel, error) {
	if s == nil || !s.enabled {
		return nil, nil
	}
	var model CoverModel
	err := s.db.WithContext(ctx).Where("url_hash = ?", urlHash).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("cover lookup", err)
	}
	return &model, nil
}

// CoverInsert records a downloaded cover file.
func (s *Store) CoverInsert(ctx context.Context, urlHash, remoteURL, localPath string, sizeBytes int64) error {
	if s == nil || !s.enabled {
		return nil
	}
	model := &CoverModel{
		URLHash:   urlHash,
		RemoteURL: remoteURL,
		LocalPath: localPath,
		SizeBytes: sizeBytes,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "url_hash"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"deleted_at",
			"updated_at",
			"remote_url",
			"local_path",
			"size_bytes",
		}),
	}).Create(model).Error
	if err != nil {
		return storeErr("cover insert", err)
	}
	return nil
}

// CoverOldest returns up to limit cover rows, oldest first.
func (s *Store) CoverOldest(ctx context.Context, limit int) ([]CoverModel, error) {
	if s == nil || !s.enabled {
		return nil, nil
	}
	var models []CoverModel
	err := s.db.WithContext(ctx).Model(&CoverModel{}).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, storeErr("cover list", err)
	}
	return models, nil
}

// CoverDelete removes cover index rows by ID.
func (s *Store) CoverDelete(ctx context.Context, ids []uint) error {
	if s == nil || !s.enabled || len(ids) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Unscoped().Delete(&CoverModel{}, ids).Error; err != nil {
		return storeErr("cover delete", err)
	}
	return nil
}

// CoverTotals returns the indexed file count and byte total.
func (s *Store) CoverTotals(ctx context.Context) (int64, int64, error) {
	if s == nil || !s.enabled {
		return 0, 0, nil
	}
	var totals struct {
		Files int64
		Bytes int64
	}
	err := s.db.WithContext(ctx).Model(&CoverModel{}).
		Select("COUNT(*) as files, COALESCE(SUM(size_bytes), 0) as bytes").
		Scan(&totals).Error
	if err != nil {
		return 0, 0, storeErr("cover totals", err)
	}
	return totals.Files, totals.Bytes, nil
}

// UpsertHistory records a play, replacing any previous row for the track so
// the log keeps one row per track with the latest played_at. The play log is
// not a cache: it is written and read regardless of the cache enable flag.
func (s *Store) UpsertHistory(ctx context.Context, entry resolver.HistoryEntry) error {
	if s == nil || s.db == nil {
		return nil
	}

	model := historyToModel(entry)
	if model.PlayedAt <= 0 {
		model.PlayedAt = s.now().Unix()
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "track_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"deleted_at",
			"updated_at",
			"title",
			"artist",
			"artist_id",
			"album",
			"album_id",
			"cover_url",
			"duration_seconds",
			"played_at",
		}),
	}).Create(model).Error
	if err != nil {
		return storeErr("history upsert", err)
	}
	return nil
}

// QueryHistory returns the most recent plays, newest first. A withinDays of
// zero means no age filter.
func (s *Store) QueryHistory(ctx context.Context, limit, withinDays int) ([]resolver.HistoryEntry, error) {
	return s.queryHistory(ctx, limit, withinDays, "", "")
}

// QueryHistoryByArtist filters recent plays to one artist.
func (s *Store) QueryHistoryByArtist(ctx context.Context, artist string, limit int) ([]resolver.HistoryEntry, error) {
	return s.queryHistory(ctx, limit, 0, artist, "")
}

// QueryHistoryByAlbum filters recent plays to one album.
func (s *Store) QueryHistoryByAlbum(ctx context.Context, album string, limit int) ([]resolver.HistoryEntry, error) {
	return s.queryHistory(ctx, limit, 0, "", album)
}

func (s *Store) queryHistory(ctx context.Context, limit, withinDays int, artist, album string) ([]resolver.HistoryEntry, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	query := s.db.WithContext(ctx).Model(&HistoryModel{})
	if withinDays > 0 {
		cutoff := s.now().AddDate(0, 0, -withinDays).Unix()
		query = query.Where("played_at >= ?", cutoff)
	}
	if artist != "" {
		query = query.Where("artist = ?", artist)
	}
	if album != "" {
		query = query.Where("album = ?", album)
	}

	var models []HistoryModel
	if err := query.Order("played_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, storeErr("history query", err)
	}

	entries := make([]resolver.HistoryEntry, 0, len(models))
	for _, model := range models {
		entries = append(entries, historyToInternal(model))
	}
	return entries, nil
}

// ClearHistory drops the entire play log.
func (s *Store) ClearHistory(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Unscoped().
		Delete(&HistoryModel{}).Error
	if err != nil {
		return storeErr("history clear", err)
	}
	return nil
}

// SetNow overrides the store clock, for tests.
func (s *Store) SetNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	return sqlDB.Close()
}
