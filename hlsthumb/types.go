package hlsthumb

import (
	"context"
	"errors"
	"time"
)

// thumbnails spread over the stream when no interval is given
const defaultThumbnailCount = 30

// default output width when neither width nor height is set
const defaultWidth = 150

// default playlist fetch retries (attempts = retries + 1)
const defaultRetryCount = 2

var (
	ErrNotFound     = errors.New("not found")
	ErrPlaylistGone = errors.New("playlist gone")
)

type Config struct {
	PlaylistURL string
	OutputDir   string // thumbnails and manifest output.
	TempDir     string // downloaded segments, cleared by the owner on startup.

	Interval              float64 // fixed seconds between thumbnails, excludes TargetThumbnailCount
	TargetThumbnailCount  int     // thumbnails spread over current stream duration
	InitialThumbnailCount int     // how many thumbnails to backfill on first poll, 0 = from the very start

	Width  int
	Height int

	ExpireTime  time.Duration // how long thumbnails outlive their segment
	NeverDelete bool          // keep all thumbnails for process lifetime, excludes ExpireTime

	IgnorePlaylist404 bool

	// fetch retries per poll: 0 = single attempt, -1 = retry forever,
	// nil picks the default. Zero is legal, so unset is a nil pointer.
	PlaylistRetryCount *int

	OutputNamePrefix string // defaults to sha1 of the effective playlist url
	ManifestFileName string

	FFmpegBinary  string
	FFmpegTimeout time.Duration

	// overridable collaborators
	Fetcher   Fetcher
	Extractor FrameExtractor
}

func (c Config) withDefaultValues() Config {
	if c.Interval == 0 && c.TargetThumbnailCount == 0 {
		c.TargetThumbnailCount = defaultThumbnailCount
	}
	if c.Width == 0 && c.Height == 0 {
		c.Width = defaultWidth
	}
	if c.PlaylistRetryCount == nil {
		retries := defaultRetryCount
		c.PlaylistRetryCount = &retries
	}
	if c.ManifestFileName == "" {
		c.ManifestFileName = "thumbnails.json"
	}
	if c.FFmpegBinary == "" {
		c.FFmpegBinary = "ffmpeg"
	}
	if c.FFmpegTimeout == 0 {
		c.FFmpegTimeout = 30 * time.Second
	}
	return c
}

func (c Config) validate() error {
	if c.PlaylistURL == "" {
		return errors.New("playlist url must be set")
	}
	if c.Interval < 0 {
		return errors.New("interval must not be negative")
	}
	if c.Interval > 0 && c.TargetThumbnailCount > 0 {
		return errors.New("interval and target thumbnail count are mutually exclusive")
	}
	if c.Width < 0 || c.Height < 0 {
		return errors.New("width and height must not be negative")
	}
	if c.NeverDelete && c.ExpireTime > 0 {
		return errors.New("expire time must be unset when never delete is requested")
	}
	if c.PlaylistRetryCount != nil && *c.PlaylistRetryCount < -1 {
		return errors.New("playlist retry count must be -1, zero or positive")
	}
	return nil
}

// Playlist is a parsed media playlist snapshot, immutable once produced.
type Playlist struct {
	MediaSequence  uint64
	TargetDuration float64
	EndList        bool
	Segments       []Segment
}

// Segment as referenced by the playlist, uri already resolved to absolute.
type Segment struct {
	URI      string
	Duration float64
}

// TotalDuration is the sum of all segment durations.
func (p *Playlist) TotalDuration() float64 {
	var total float64
	for _, s := range p.Segments {
		total += s.Duration
	}
	return total
}

// StartTimes returns the playlist-internal start time of every segment,
// with zero at the first currently present segment.
func (p *Playlist) StartTimes() []float64 {
	times := make([]float64, len(p.Segments))
	var total float64
	for i, s := range p.Segments {
		times[i] = total
		total += s.Duration
	}
	return times
}

// IndexOf translates a sequence number to a segment index of this snapshot.
func (p *Playlist) IndexOf(sn uint64) (int, bool) {
	if sn < p.MediaSequence || sn >= p.MediaSequence+uint64(len(p.Segments)) {
		return 0, false
	}
	return int(sn - p.MediaSequence), true
}

// Thumbnail is a single generated frame, immutable once written.
type Thumbnail struct {
	SN   uint64  `json:"sn"`
	Name string  `json:"name"`
	Time float64 `json:"time"` // seconds into the segment
}

// ThumbnailLocation is the cursor of the last grabbed thumbnail.
type ThumbnailLocation struct {
	SN   uint64
	Time float64
}

// Fetcher downloads playlist and segment bodies.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// ExtractRequest asks for frames inside a single segment, starting at
// Start seconds and repeating every Interval seconds while below Duration.
type ExtractRequest struct {
	URI      string
	Duration float64

	Start    float64
	Interval float64

	BaseName    string // output files are <BaseName>-<index>.jpg
	StartNumber int    // index of the first produced frame
}

// ExtractedFrame reports one produced frame, times rounded to milliseconds.
type ExtractedFrame struct {
	Index int
	Name  string
	Time  float64 // seconds into the segment
}

// FrameExtractor turns a segment into zero or more frames on disk.
// Frames missing after a run (end of segment rounding) are simply absent
// from the result, that is not an error.
type FrameExtractor interface {
	Extract(ctx context.Context, req ExtractRequest) ([]ExtractedFrame, error)
}

type Manager interface {
	Start() error
	Destroy(doNotDeleteFiles bool)

	GetThumbnails() Manifest
	HasPlaylistEnded() bool

	OnNewThumbnail(event func(Thumbnail))
	OnThumbnailRemoved(event func(Thumbnail))
	OnThumbnailsChanged(event func())
	OnPlaylistEnded(event func())
	OnFinished(event func())
	OnError(event func(error))
}
