package hlsthumb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// how often the expired thumbnail gc runs
const gcPeriod = 30 * time.Second

// ManagerCtx is one end-to-end pipeline bound to a single playlist url.
// The pipeline is cooperative: at most one of poll, schedule, extract and
// manifest write is in flight at any time, the gc serializes against it
// on the same mutex.
type ManagerCtx struct {
	logger zerolog.Logger
	config Config

	extractor FrameExtractor

	mu        sync.Mutex
	poller    *playlistPoller
	scheduler *scheduler
	records   *recordSet
	timeline  removalTimeline
	manifest  *manifestWriter

	prefix string // fixed once the effective playlist url is known

	playlistEnded bool
	gone          bool
	finished      bool
	destroyed     atomic.Bool

	events struct {
		onNewThumbnail      func(Thumbnail)
		onThumbnailRemoved  func(Thumbnail)
		onThumbnailsChanged func()
		onPlaylistEnded     func()
		onFinished          func()
		onError             func(error)
	}

	ctx    context.Context
	cancel context.CancelFunc
}

func New(config *Config) (*ManagerCtx, error) {
	cfg := config.withDefaultValues()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	fetcher := cfg.Fetcher
	if fetcher == nil {
		fetcher = newHTTPFetcher()
	}

	extractor := cfg.Extractor
	if extractor == nil {
		extractor = NewFFmpegExtractor(FFmpegConfig{
			Binary:    cfg.FFmpegBinary,
			Timeout:   cfg.FFmpegTimeout,
			Width:     cfg.Width,
			Height:    cfg.Height,
			OutputDir: cfg.OutputDir,
			TempDir:   cfg.TempDir,
			Fetcher:   fetcher,
		})
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &ManagerCtx{
		logger:    log.With().Str("module", "hlsthumb").Str("submodule", "manager").Logger(),
		config:    cfg,
		extractor: extractor,
		poller:    newPlaylistPoller(fetcher, cfg.PlaylistURL, *cfg.PlaylistRetryCount, cfg.IgnorePlaylist404),
		scheduler: newScheduler(cfg.Interval, cfg.TargetThumbnailCount, cfg.InitialThumbnailCount),
		records:   newRecordSet(),
		manifest:  newManifestWriter(cfg.OutputDir, cfg.ManifestFileName),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

func (m *ManagerCtx) Start() error {
	if err := os.MkdirAll(m.config.OutputDir, 0755); err != nil {
		return fmt.Errorf("unable to create output dir: %w", err)
	}

	if err := os.MkdirAll(m.config.TempDir, 0755); err != nil {
		return fmt.Errorf("unable to create temp dir: %w", err)
	}

	// polling pipeline, single shot timer re-armed at the end of each tick
	go func() {
		var delay time.Duration

		for {
			select {
			case <-m.ctx.Done():
				return
			case <-time.After(delay):
			}

			var ok bool
			delay, ok = m.tick()
			if !ok {
				return
			}
		}
	}()

	// periodic gc of expired thumbnails
	if !m.config.NeverDelete {
		go func() {
			ticker := time.NewTicker(gcPeriod)
			defer ticker.Stop()

			for {
				select {
				case <-m.ctx.Done():
					return
				case <-ticker.C:
					m.collectGarbage(time.Now())
				}
			}
		}()
	}

	return nil
}

//
// pipeline
//

// tick runs one poll iteration and reports the delay until the next one.
// A false return stops the polling loop for good.
func (m *ManagerCtx) tick() (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.destroyed.Load() {
		return 0, false
	}

	result, playlist := m.poller.poll(m.ctx)

	// destroy may have been requested while the poll was in flight
	if m.destroyed.Load() {
		return 0, false
	}

	switch result {
	case pollChanged:
		m.handleChanged(playlist)
	case pollUnchanged:
		// nothing to do
	case pollGone:
		m.handleGone()
		return 0, false
	}

	return m.poller.nextDelay(), true
}

func (m *ManagerCtx) handleChanged(playlist *Playlist) {
	if m.prefix == "" {
		m.prefix = m.config.OutputNamePrefix
		if m.prefix == "" {
			m.prefix = hashPrefix(m.poller.effectiveURL)
		}
	}

	now := time.Now()
	m.timeline.initialize(playlist.MediaSequence)
	removed := m.timeline.markThrough(playlist.MediaSequence, now)
	m.records.markRemoved(playlist.MediaSequence, now)

	thumbnails := m.scheduler.run(m.ctx, playlist, m.extractSegment)
	for _, thumbnail := range thumbnails {
		m.records.add(thumbnail)
	}

	endedNow := playlist.EndList && !m.playlistEnded
	if endedNow {
		m.playlistEnded = true
	}

	// the manifest is written before events so that readers are at least
	// as fresh as the events delivered to the process
	if len(thumbnails) > 0 || removed > 0 || endedNow {
		m.writeManifest()
	}

	for _, thumbnail := range thumbnails {
		m.logger.Debug().
			Uint64("sn", thumbnail.SN).
			Float64("time", thumbnail.Time).
			Str("name", thumbnail.Name).
			Msg("new thumbnail")
		m.emitNewThumbnail(thumbnail)
	}
	if len(thumbnails) > 0 {
		m.emitThumbnailsChanged()
	}
	if endedNow {
		m.logger.Info().Msg("playlist ended")
		m.emitPlaylistEnded()
	}
}

func (m *ManagerCtx) handleGone() {
	// failing before the effective playlist url was ever determined is an
	// initialization error, surface it and self-destruct
	if m.poller.effectiveURL == "" {
		m.logger.Error().Str("url", m.config.PlaylistURL).Msg("playlist could not be fetched")
		m.emitError(fmt.Errorf("%w: %s", ErrPlaylistGone, m.config.PlaylistURL))
		m.destroyLocked(false)
		return
	}

	m.logger.Info().Msg("playlist gone")
	m.gone = true

	if last := m.poller.last; last != nil {
		now := time.Now()
		end := last.MediaSequence + uint64(len(last.Segments))

		m.timeline.initialize(last.MediaSequence)
		m.timeline.markThrough(end, now)
		m.records.markRemoved(end, now)
		m.writeManifest()
	}

	m.maybeFinish()
}

// extractSegment adapts the frame extractor for the scheduler, frame
// indexes continue across extraction batches of the same segment so
// filenames never collide.
func (m *ManagerCtx) extractSegment(ctx context.Context, seg Segment, sn uint64, start, interval float64) ([]ExtractedFrame, error) {
	return m.extractor.Extract(ctx, ExtractRequest{
		URI:         seg.URI,
		Duration:    seg.Duration,
		Start:       start,
		Interval:    interval,
		BaseName:    fmt.Sprintf("%s-%d", m.prefix, sn),
		StartNumber: m.records.nextIndex(sn),
	})
}

//
// gc
//

func (m *ManagerCtx) collectGarbage(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.destroyed.Load() {
		return
	}

	highest, ok := m.timeline.reap(now, m.config.ExpireTime)
	if !ok {
		m.maybeFinish()
		return
	}

	dropped := m.records.dropThrough(highest)
	if len(dropped) == 0 {
		m.maybeFinish()
		return
	}

	var removed []Thumbnail
	for _, record := range dropped {
		for _, thumbnail := range record.Thumbnails {
			if err := verifiedRemove(filepath.Join(m.config.OutputDir, thumbnail.Name)); err != nil {
				m.logger.Err(err).Str("name", thumbnail.Name).Msg("unable to remove thumbnail")
			}
			removed = append(removed, thumbnail)
		}
	}

	m.logger.Debug().Uint64("highest", highest).Int("thumbnails", len(removed)).Msg("expired thumbnails reaped")
	m.writeManifest()

	for _, thumbnail := range removed {
		m.emitThumbnailRemoved(thumbnail)
	}
	if len(removed) > 0 {
		m.emitThumbnailsChanged()
	}

	m.maybeFinish()
}

// maybeFinish emits finished once the playlist is gone and every record
// has been reaped, then tears the generator down.
func (m *ManagerCtx) maybeFinish() {
	if !m.gone || m.finished || !m.records.empty() {
		return
	}

	m.finished = true
	m.logger.Info().Msg("finished")
	m.emitFinished()
	m.destroyLocked(false)
}

//
// manifest
//

func (m *ManagerCtx) buildManifest() Manifest {
	manifest := Manifest{
		Ended:    m.playlistEnded,
		Segments: []ManifestSegment{},
	}

	for _, record := range m.records.list {
		segment := ManifestSegment{
			SN:         record.SN,
			Thumbnails: []ManifestThumbnail{},
		}
		if record.RemovalTime != nil {
			ms := record.RemovalTime.UnixMilli()
			segment.RemovalTime = &ms
		}
		for _, thumbnail := range record.Thumbnails {
			segment.Thumbnails = append(segment.Thumbnails, ManifestThumbnail{
				Time: thumbnail.Time,
				Name: thumbnail.Name,
			})
		}
		manifest.Segments = append(manifest.Segments, segment)
	}

	return manifest
}

// writeManifest persists the current state, a failure is logged and the
// in-memory state stays authoritative until the next event retries.
func (m *ManagerCtx) writeManifest() {
	if m.destroyed.Load() {
		return
	}

	if err := m.manifest.write(m.buildManifest()); err != nil {
		m.logger.Err(err).Msg("unable to write manifest")
	}
}

//
// public api
//

func (m *ManagerCtx) GetThumbnails() Manifest {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.buildManifest()
}

func (m *ManagerCtx) HasPlaylistEnded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.playlistEnded
}

// Destroy stops timers, aborts in-flight fetches and extractions best
// effort and suppresses any further event emission. Unless requested
// otherwise, thumbnail files and the manifest are unlinked.
func (m *ManagerCtx) Destroy(doNotDeleteFiles bool) {
	// suppress events before waiting for an in-flight iteration
	m.destroyed.Store(true)
	m.cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.cleanupLocked(doNotDeleteFiles)
}

func (m *ManagerCtx) destroyLocked(doNotDeleteFiles bool) {
	m.destroyed.Store(true)
	m.cancel()
	m.cleanupLocked(doNotDeleteFiles)
}

func (m *ManagerCtx) cleanupLocked(doNotDeleteFiles bool) {
	if m.config.NeverDelete || doNotDeleteFiles {
		return
	}

	for _, record := range m.records.list {
		for _, thumbnail := range record.Thumbnails {
			if err := verifiedRemove(filepath.Join(m.config.OutputDir, thumbnail.Name)); err != nil {
				m.logger.Err(err).Str("name", thumbnail.Name).Msg("unable to remove thumbnail")
			}
		}
	}

	if err := m.manifest.remove(); err != nil {
		m.logger.Err(err).Msg("unable to remove manifest")
	}
}

//
// events
//

func (m *ManagerCtx) OnNewThumbnail(event func(Thumbnail)) {
	m.events.onNewThumbnail = event
}

func (m *ManagerCtx) OnThumbnailRemoved(event func(Thumbnail)) {
	m.events.onThumbnailRemoved = event
}

func (m *ManagerCtx) OnThumbnailsChanged(event func()) {
	m.events.onThumbnailsChanged = event
}

func (m *ManagerCtx) OnPlaylistEnded(event func()) {
	m.events.onPlaylistEnded = event
}

func (m *ManagerCtx) OnFinished(event func()) {
	m.events.onFinished = event
}

func (m *ManagerCtx) OnError(event func(error)) {
	m.events.onError = event
}

func (m *ManagerCtx) emitNewThumbnail(thumbnail Thumbnail) {
	if m.destroyed.Load() || m.events.onNewThumbnail == nil {
		return
	}
	m.events.onNewThumbnail(thumbnail)
}

func (m *ManagerCtx) emitThumbnailRemoved(thumbnail Thumbnail) {
	if m.destroyed.Load() || m.events.onThumbnailRemoved == nil {
		return
	}
	m.events.onThumbnailRemoved(thumbnail)
}

func (m *ManagerCtx) emitThumbnailsChanged() {
	if m.destroyed.Load() || m.events.onThumbnailsChanged == nil {
		return
	}
	m.events.onThumbnailsChanged()
}

func (m *ManagerCtx) emitPlaylistEnded() {
	if m.destroyed.Load() || m.events.onPlaylistEnded == nil {
		return
	}
	m.events.onPlaylistEnded()
}

func (m *ManagerCtx) emitFinished() {
	if m.destroyed.Load() || m.events.onFinished == nil {
		return
	}
	m.events.onFinished()
}

func (m *ManagerCtx) emitError(err error) {
	if m.destroyed.Load() || m.events.onError == nil {
		return
	}
	m.events.onError(err)
}
