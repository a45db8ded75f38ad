package hlsthumb

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/Eyevinn/hls-m3u8/m3u8"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// backoff between playlist fetch attempts
const pollRetryBackoff = 5 * time.Second

// poll delay after the playlist signalled end of list
const endListPollDelay = 30 * time.Second

// poll delay while target duration is not yet known
const unknownPollDelay = 2 * time.Second

type pollResult int

const (
	pollUnchanged pollResult = iota
	pollChanged
	pollGone
)

// playlistPoller fetches and parses the hls playlist and classifies
// transitions between consecutive snapshots.
type playlistPoller struct {
	logger  zerolog.Logger
	fetcher Fetcher

	playlistURL  string
	effectiveURL string // media playlist url once a master playlist was resolved

	retryCount int // -1 = retry forever
	ignore404  bool
	backoff    time.Duration

	last *Playlist
}

func newPlaylistPoller(fetcher Fetcher, playlistURL string, retryCount int, ignore404 bool) *playlistPoller {
	return &playlistPoller{
		logger:      log.With().Str("module", "hlsthumb").Str("submodule", "poller").Logger(),
		fetcher:     fetcher,
		playlistURL: playlistURL,
		retryCount:  retryCount,
		ignore404:   ignore404,
		backoff:     pollRetryBackoff,
	}
}

// url the poller currently considers authoritative.
func (p *playlistPoller) url() string {
	if p.effectiveURL != "" {
		return p.effectiveURL
	}
	return p.playlistURL
}

// poll attempts the fetch up to retryCount+1 times with a backoff in
// between. A 404 short-circuits to gone unless ignore404 is set, in which
// case it counts as a normal failure. Exhausting retries also yields gone.
func (p *playlistPoller) poll(ctx context.Context) (pollResult, *Playlist) {
	attempt := 0

	for {
		playlist, err := p.fetch(ctx)
		if err == nil {
			if p.equals(playlist) {
				return pollUnchanged, playlist
			}

			p.last = playlist
			return pollChanged, playlist
		}

		if errors.Is(err, ErrNotFound) && !p.ignore404 {
			p.logger.Warn().Err(err).Msg("playlist not found")
			return pollGone, nil
		}

		p.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("playlist fetch failed")

		// attempt counter saturates so unlimited retries cannot overflow
		if attempt < int(^uint(0)>>1)-1 {
			attempt++
		}

		if p.retryCount >= 0 && attempt >= p.retryCount+1 {
			return pollGone, nil
		}

		select {
		case <-ctx.Done():
			return pollGone, nil
		case <-time.After(p.backoff):
		}
	}
}

// fetch downloads and parses a single playlist. The first master playlist
// resolves its first variant against the request url, which is cached as
// the effective url used henceforth.
func (p *playlistPoller) fetch(ctx context.Context) (*Playlist, error) {
	data, err := p.fetcher.Fetch(ctx, p.url())
	if err != nil {
		return nil, err
	}

	parsed, listType, err := m3u8.DecodeFrom(bufio.NewReader(bytes.NewReader(data)), false)
	if err != nil {
		return nil, fmt.Errorf("unable to parse playlist: %w", err)
	}

	if listType == m3u8.MASTER {
		master := parsed.(*m3u8.MasterPlaylist)
		if len(master.Variants) == 0 {
			return nil, errors.New("master playlist has no variants")
		}

		mediaURL, err := resolveURL(p.url(), master.Variants[0].URI)
		if err != nil {
			return nil, fmt.Errorf("unable to resolve variant url: %w", err)
		}

		p.logger.Info().Str("url", mediaURL).Msg("selected first variant of master playlist")
		p.effectiveURL = mediaURL

		data, err = p.fetcher.Fetch(ctx, mediaURL)
		if err != nil {
			return nil, err
		}

		parsed, listType, err = m3u8.DecodeFrom(bufio.NewReader(bytes.NewReader(data)), false)
		if err != nil {
			return nil, fmt.Errorf("unable to parse media playlist: %w", err)
		}

		if listType != m3u8.MEDIA {
			return nil, errors.New("variant did not resolve to a media playlist")
		}
	}

	if p.effectiveURL == "" {
		p.effectiveURL = p.playlistURL
	}

	media, ok := parsed.(*m3u8.MediaPlaylist)
	if !ok {
		return nil, errors.New("unexpected playlist type")
	}

	return p.snapshot(media)
}

// snapshot converts a decoded media playlist, resolving segment uris
// against the effective playlist url.
func (p *playlistPoller) snapshot(media *m3u8.MediaPlaylist) (*Playlist, error) {
	playlist := &Playlist{
		MediaSequence:  media.SeqNo,
		TargetDuration: float64(media.TargetDuration),
		EndList:        media.Closed,
	}

	for _, seg := range media.GetAllSegments() {
		uri, err := resolveURL(p.url(), seg.URI)
		if err != nil {
			return nil, fmt.Errorf("unable to resolve segment url: %w", err)
		}

		playlist.Segments = append(playlist.Segments, Segment{
			URI:      uri,
			Duration: seg.Duration,
		})
	}

	return playlist, nil
}

// equals is deliberately lossy: a live playlist only ever slides or
// appends, so segment count plus media sequence identify a snapshot.
func (p *playlistPoller) equals(playlist *Playlist) bool {
	return p.last != nil &&
		len(p.last.Segments) == len(playlist.Segments) &&
		p.last.MediaSequence == playlist.MediaSequence
}

// nextDelay is the advisory delay until the next poll.
func (p *playlistPoller) nextDelay() time.Duration {
	if p.last == nil {
		return unknownPollDelay
	}
	if p.last.EndList {
		return endListPollDelay
	}
	if p.last.TargetDuration > 0 {
		delay := time.Duration(p.last.TargetDuration * float64(time.Second) / 2)
		if delay < time.Second {
			delay = time.Second
		}
		return delay
	}
	return unknownPollDelay
}

func resolveURL(base, ref string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(refURL).String(), nil
}
