package hlsthumb

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// extractFn produces frames for one segment, starting at offset start and
// repeating every interval seconds while inside the segment.
type extractFn func(ctx context.Context, seg Segment, sn uint64, start, interval float64) ([]ExtractedFrame, error)

// scheduler decides which segments to grab frames from so that thumbnails
// are spread evenly over the stream duration without duplicates or gaps.
type scheduler struct {
	logger zerolog.Logger

	interval     float64 // fixed, 0 = derive from targetCount
	targetCount  int
	initialCount int

	lastLoc *ThumbnailLocation
}

func newScheduler(interval float64, targetCount, initialCount int) *scheduler {
	return &scheduler{
		logger:       log.With().Str("module", "hlsthumb").Str("submodule", "scheduler").Logger(),
		interval:     interval,
		targetCount:  targetCount,
		initialCount: initialCount,
	}
}

// currentInterval returns the spacing for this snapshot. With a target
// count it is recomputed from the live duration on every poll, so a
// growing stream stretches future spacing accordingly.
func (s *scheduler) currentInterval(total float64) (float64, bool) {
	if s.interval > 0 {
		return s.interval, true
	}
	if total <= 0 {
		// no duration to divide yet, skip this tick
		return 0, false
	}
	return total / float64(s.targetCount), true
}

// nextTime is where on the playlist-internal timeline the next thumbnail
// belongs. If the cursor still lies inside the window it advances one
// interval past it, otherwise the backfill rules apply.
func (s *scheduler) nextTime(playlist *Playlist, interval, total float64) float64 {
	if s.lastLoc != nil {
		if idx, ok := playlist.IndexOf(s.lastLoc.SN); ok {
			return playlist.StartTimes()[idx] + s.lastLoc.Time + interval
		}
	}

	if s.initialCount <= 0 {
		return 0
	}

	next := total - float64(s.initialCount)*interval
	if next < 0 {
		next = 0
	}
	return next
}

// run walks the snapshot forward from the segment containing nextTime and
// extracts frames. The cursor advances exactly once per produced frame, so
// re-running on an unchanged playlist emits nothing. An extraction error
// aborts the walk with the cursor untouched, the same offset is
// reattempted on the next tick if the segment is still in the window.
func (s *scheduler) run(ctx context.Context, playlist *Playlist, extract extractFn) []Thumbnail {
	total := playlist.TotalDuration()

	interval, ok := s.currentInterval(total)
	if !ok {
		s.logger.Debug().Msg("stream duration not known yet, skipping tick")
		return nil
	}

	next := s.nextTime(playlist, interval, total)
	if next >= total {
		return nil
	}

	starts := playlist.StartTimes()

	var produced []Thumbnail
	for i, seg := range playlist.Segments {
		if next >= starts[i]+seg.Duration {
			continue
		}

		start := next - starts[i]
		if start < 0 {
			// wanted instant fell into end-of-segment rounding of the
			// previous segment, grab the very beginning instead
			start = 0
		}

		sn := playlist.MediaSequence + uint64(i)

		frames, err := extract(ctx, seg, sn, start, interval)
		if err != nil {
			s.logger.Error().Err(err).Uint64("sn", sn).Msg("frame extraction failed, aborting walk")
			return produced
		}

		for _, frame := range frames {
			produced = append(produced, Thumbnail{
				SN:   sn,
				Name: frame.Name,
				Time: frame.Time,
			})

			s.lastLoc = &ThumbnailLocation{SN: sn, Time: frame.Time}
			next = starts[i] + frame.Time + interval
		}
	}

	return produced
}
