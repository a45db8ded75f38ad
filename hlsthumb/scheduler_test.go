package hlsthumb

import (
	"context"
	"fmt"
	"reflect"
	"testing"
)

// produces a frame for every requested offset inside the segment
func fullExtract(ctx context.Context, seg Segment, sn uint64, start, interval float64) ([]ExtractedFrame, error) {
	var frames []ExtractedFrame
	index := 0
	for offset := start; offset < seg.Duration; offset += interval {
		frames = append(frames, ExtractedFrame{
			Index: index,
			Name:  fmt.Sprintf("test-%d-%d.jpg", sn, index),
			Time:  roundMillis(offset),
		})
		index++
	}
	return frames, nil
}

func uniformPlaylist(mediaSequence uint64, segments int, duration float64, endList bool) *Playlist {
	playlist := &Playlist{
		MediaSequence:  mediaSequence,
		TargetDuration: duration,
		EndList:        endList,
	}
	for i := 0; i < segments; i++ {
		playlist.Segments = append(playlist.Segments, Segment{
			URI:      fmt.Sprintf("http://example.com/seg-%d.ts", mediaSequence+uint64(i)),
			Duration: duration,
		})
	}
	return playlist
}

type snTime struct {
	sn   uint64
	time float64
}

func locations(thumbnails []Thumbnail) []snTime {
	var out []snTime
	for _, t := range thumbnails {
		out = append(out, snTime{t.SN, t.Time})
	}
	return out
}

func TestSchedulerRun(t *testing.T) {
	tests := []struct {
		name         string
		interval     float64
		targetCount  int
		initialCount int
		playlist     *Playlist
		lastLoc      *ThumbnailLocation
		want         []snTime
	}{
		{
			name:        "even spread over ended playlist",
			targetCount: 5,
			playlist:    uniformPlaylist(0, 10, 6, true),
			want: []snTime{
				{0, 0}, {2, 0}, {4, 0}, {6, 0}, {8, 0},
			},
		},
		{
			name:         "initial count backfills from the tail",
			interval:     6,
			initialCount: 3,
			playlist:     uniformPlaylist(0, 10, 6, true),
			want: []snTime{
				{7, 0}, {8, 0}, {9, 0},
			},
		},
		{
			name:         "initial count larger than duration clamps to start",
			interval:     30,
			initialCount: 5,
			playlist:     uniformPlaylist(0, 10, 6, true),
			want: []snTime{
				{0, 0}, {5, 0},
			},
		},
		{
			name:     "cursor advances into freshly appended segment",
			interval: 6,
			playlist: uniformPlaylist(101, 6, 6, false),
			lastLoc:  &ThumbnailLocation{SN: 105, Time: 0},
			want: []snTime{
				{106, 0},
			},
		},
		{
			name:     "next time beyond duration emits nothing",
			interval: 6,
			playlist: uniformPlaylist(101, 6, 6, false),
			lastLoc:  &ThumbnailLocation{SN: 106, Time: 0},
			want:     nil,
		},
		{
			name:     "cursor out of window restarts from zero",
			interval: 12,
			playlist: uniformPlaylist(200, 5, 6, false),
			lastLoc:  &ThumbnailLocation{SN: 150, Time: 3},
			want: []snTime{
				{200, 0}, {202, 0}, {204, 0},
			},
		},
		{
			name:     "intra segment offsets below duration",
			interval: 2.5,
			playlist: uniformPlaylist(0, 2, 6, false),
			want: []snTime{
				{0, 0}, {0, 2.5}, {0, 5}, {1, 1.5}, {1, 4},
			},
		},
		{
			name:        "zero duration skips the tick",
			targetCount: 5,
			playlist:    &Playlist{MediaSequence: 0},
			want:        nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newScheduler(tt.interval, tt.targetCount, tt.initialCount)
			s.lastLoc = tt.lastLoc

			got := locations(s.run(context.Background(), tt.playlist, fullExtract))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("run() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSchedulerIdempotence(t *testing.T) {
	playlist := uniformPlaylist(0, 10, 6, false)

	s := newScheduler(0, 5, 0)

	first := s.run(context.Background(), playlist, fullExtract)
	if len(first) != 5 {
		t.Fatalf("first run produced %d thumbnails, want 5", len(first))
	}

	second := s.run(context.Background(), playlist, fullExtract)
	if len(second) != 0 {
		t.Errorf("second run on unchanged playlist produced %d thumbnails, want 0", len(second))
	}
}

func TestSchedulerIntervalAdapts(t *testing.T) {
	s := newScheduler(0, 10, 0)

	interval, ok := s.currentInterval(60)
	if !ok || interval != 6 {
		t.Fatalf("currentInterval(60) = %v, %v", interval, ok)
	}

	// duration doubled between polls, the spacing follows
	interval, ok = s.currentInterval(120)
	if !ok || interval != 12 {
		t.Fatalf("currentInterval(120) = %v, %v", interval, ok)
	}
}

func TestSchedulerAbortsOnExtractionError(t *testing.T) {
	playlist := uniformPlaylist(0, 4, 6, false)

	calls := 0
	failing := func(ctx context.Context, seg Segment, sn uint64, start, interval float64) ([]ExtractedFrame, error) {
		calls++
		if sn >= 1 {
			return nil, fmt.Errorf("boom")
		}
		return fullExtract(ctx, seg, sn, start, interval)
	}

	s := newScheduler(6, 0, 0)

	got := s.run(context.Background(), playlist, failing)
	if len(got) != 1 {
		t.Fatalf("run() produced %d thumbnails, want 1", len(got))
	}
	if calls != 2 {
		t.Errorf("extractor called %d times, want 2", calls)
	}

	// cursor still points at the last produced frame, the failed segment
	// is reattempted on the next run
	if s.lastLoc == nil || s.lastLoc.SN != 0 {
		t.Errorf("lastLoc = %v, want sn 0", s.lastLoc)
	}

	retry := s.run(context.Background(), playlist, fullExtract)
	if len(retry) != 3 {
		t.Errorf("retry produced %d thumbnails, want 3", len(retry))
	}
}
