package cache

import (
	"gorm.io/gorm"

	"tuneresolve/resolver"
)

// CacheEntryModel mirrors the cache_entries schema: a generic TTL store for
// serialized payloads, bucketed by category.
type CacheEntryModel struct {
	gorm.Model
	Key        string `gorm:"uniqueIndex;not null"`
	Payload    string `gorm:"not null;default:''"`
	Category   string `gorm:"not null;default:'';index"`
	TTLSeconds int64  `gorm:"not null;default:0"`
	StoredAt   int64  `gorm:"not null;default:0"`
}

func (CacheEntryModel) TableName() string {
	return "cache_entries"
}

// LyricModel stores one lyric document per (platform, track) pair.
// LastAccess drives least-recently-used trimming.
type LyricModel struct {
	gorm.Model
	Platform   string `gorm:"not null;default:'';index:idx_lyric_platform_track,unique"`
	TrackID    string `gorm:"not null;default:'';index:idx_lyric_platform_track,unique"`
	Text       string
	LastAccess int64 `gorm:"not null;default:0;index"`
}

func (LyricModel) TableName() string {
	return "lyrics"
}

// CoverModel indexes downloaded cover art files on disk.
type CoverModel struct {
	gorm.Model
	URLHash   string `gorm:"uniqueIndex;not null"`
	RemoteURL string `gorm:"not null;default:''"`
	LocalPath string `gorm:"not null;default:''"`
	SizeBytes int64  `gorm:"not null;default:0"`
}

func (CoverModel) TableName() string {
	return "covers"
}

// HistoryModel mirrors the play_history schema, one row per track.
type HistoryModel struct {
	gorm.Model
	TrackID         string `gorm:"uniqueIndex;not null"`
	Title           string
	Artist          string `gorm:"index"`
	ArtistID        string
	Album           string `gorm:"index"`
	AlbumID         string
	CoverURL        string
	DurationSeconds int
	PlayedAt        int64 `gorm:"not null;default:0;index"`
}

func (HistoryModel) TableName() string {
	return "play_history"
}

func historyToInternal(model HistoryModel) resolver.HistoryEntry {
	return resolver.HistoryEntry{
		TrackID:         model.TrackID,
		Title:           model.Title,
		Artist:          model.Artist,
		ArtistID:        model.ArtistID,
		Album:           model.Album,
		AlbumID:         model.AlbumID,
		CoverURL:        model.CoverURL,
		DurationSeconds: model.DurationSeconds,
		PlayedAt:        unixTime(model.PlayedAt),
	}
}

func historyToModel(entry resolver.HistoryEntry) *HistoryModel {
	return &HistoryModel{
		TrackID:         entry.TrackID,
		Title:           entry.Title,
		Artist:          entry.Artist,
		ArtistID:        entry.ArtistID,
		Album:           entry.Album,
		AlbumID:         entry.AlbumID,
		CoverURL:        entry.CoverURL,
		DurationSeconds: entry.DurationSeconds,
		PlayedAt:        entry.PlayedAt.Unix(),
	}
}
