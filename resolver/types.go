package resolver

import "time"

// TrackReference identifies a track on a specific platform together with the
// display metadata needed for search-based recovery. Identity is the pair
// (Platform, NativeID); references on different platforms are never assumed
// equivalent without going through the bridge.
type TrackReference struct {
	Platform string `json:"platform"`
	NativeID string `json:"native_id"`
	Title    string `json:"title,omitempty"`
	Artist   string `json:"artist,omitempty"`
	Album    string `json:"album,omitempty"`
}

// Key returns the cache identity of the reference.
func (t TrackReference) Key() string {
	return t.Platform + ":" + t.NativeID
}

// Source identifies which adapter produced a resolution.
type Source string

const (
	SourceOrigin  Source = "origin"
	SourceTuneHub Source = "tunehub"
	SourceGDMusic Source = "gdmusic"
	SourceBridge  Source = "bridge"
)

// ResolutionResult is the terminal success value of the pipeline. It is never
// mutated after creation, only superseded by a newer resolution.
type ResolutionResult struct {
	URL         string         `json:"url"`
	QualityUsed string         `json:"quality_used"`
	Source      Source         `json:"source"`
	Track       TrackReference `json:"track"`
	ResolvedAt  time.Time      `json:"resolved_at"`
}

// HistoryEntry is one row of the play-history log. TrackID is unique; a
// repeat play replaces the row instead of appending a duplicate.
type HistoryEntry struct {
	TrackID         string    `json:"track_id"`
	Title           string    `json:"title"`
	Artist          string    `json:"artist"`
	ArtistID        string    `json:"artist_id"`
	Album           string    `json:"album"`
	AlbumID         string    `json:"album_id"`
	CoverURL        string    `json:"cover_url"`
	DurationSeconds int       `json:"duration_seconds"`
	PlayedAt        time.Time `json:"played_at"`
}

// CacheStats summarizes the persistent cache contents.
type CacheStats struct {
	TotalEntries int64
	ByCategory   map[string]int64
	Expired      int64
	LyricEntries int64
	CoverFiles   int64
	CoverBytes   int64
}
