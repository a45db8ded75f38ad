package hlsthumb

import (
	"testing"
	"time"
)

func intPtr(v int) *int {
	return &v
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:   "minimal valid config",
			config: Config{PlaylistURL: "http://example.com/playlist.m3u8"},
		},
		{
			name:    "missing playlist url",
			config:  Config{},
			wantErr: true,
		},
		{
			name: "interval and target count are exclusive",
			config: Config{
				PlaylistURL:          "http://example.com/playlist.m3u8",
				Interval:             5,
				TargetThumbnailCount: 10,
			},
			wantErr: true,
		},
		{
			name: "never delete with expire time",
			config: Config{
				PlaylistURL: "http://example.com/playlist.m3u8",
				NeverDelete: true,
				ExpireTime:  10 * time.Second,
			},
			wantErr: true,
		},
		{
			name: "never delete without expire time",
			config: Config{
				PlaylistURL: "http://example.com/playlist.m3u8",
				NeverDelete: true,
			},
		},
		{
			name: "negative interval",
			config: Config{
				PlaylistURL: "http://example.com/playlist.m3u8",
				Interval:    -1,
			},
			wantErr: true,
		},
		{
			name: "negative dimensions",
			config: Config{
				PlaylistURL: "http://example.com/playlist.m3u8",
				Width:       -1,
			},
			wantErr: true,
		},
		{
			name: "retry count below the unlimited sentinel",
			config: Config{
				PlaylistURL:        "http://example.com/playlist.m3u8",
				PlaylistRetryCount: intPtr(-2),
			},
			wantErr: true,
		},
		{
			name: "zero retry count is legal",
			config: Config{
				PlaylistURL:        "http://example.com/playlist.m3u8",
				PlaylistRetryCount: intPtr(0),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.withDefaultValues().validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	c := Config{PlaylistURL: "http://example.com/playlist.m3u8"}.withDefaultValues()

	if c.TargetThumbnailCount != 30 {
		t.Errorf("target count = %d, want default 30", c.TargetThumbnailCount)
	}
	if c.Width != 150 {
		t.Errorf("width = %d, want default 150", c.Width)
	}
	if c.PlaylistRetryCount == nil || *c.PlaylistRetryCount != 2 {
		t.Errorf("retry count = %v, want default 2", c.PlaylistRetryCount)
	}
	if c.ManifestFileName != "thumbnails.json" {
		t.Errorf("manifest file name = %s", c.ManifestFileName)
	}
	if c.FFmpegBinary != "ffmpeg" {
		t.Errorf("ffmpeg binary = %s", c.FFmpegBinary)
	}

	// a fixed interval suppresses the target count default
	c = Config{PlaylistURL: "http://example.com/playlist.m3u8", Interval: 5}.withDefaultValues()
	if c.TargetThumbnailCount != 0 {
		t.Errorf("target count = %d, want 0 with fixed interval", c.TargetThumbnailCount)
	}

	// height alone suppresses the width default
	c = Config{PlaylistURL: "http://example.com/playlist.m3u8", Height: 90}.withDefaultValues()
	if c.Width != 0 {
		t.Errorf("width = %d, want 0 when height is set", c.Width)
	}

	// unlimited retries survive the defaults
	unlimited := -1
	c = Config{PlaylistURL: "http://example.com/playlist.m3u8", PlaylistRetryCount: &unlimited}.withDefaultValues()
	if c.PlaylistRetryCount == nil || *c.PlaylistRetryCount != -1 {
		t.Errorf("retry count = %v, want -1", c.PlaylistRetryCount)
	}

	// an explicit zero means a single attempt and must not be coerced
	// to the default
	single := 0
	c = Config{PlaylistURL: "http://example.com/playlist.m3u8", PlaylistRetryCount: &single}.withDefaultValues()
	if c.PlaylistRetryCount == nil || *c.PlaylistRetryCount != 0 {
		t.Errorf("retry count = %v, want explicit 0", c.PlaylistRetryCount)
	}
}

func TestPlaylistHelpers(t *testing.T) {
	playlist := &Playlist{
		MediaSequence: 100,
		Segments: []Segment{
			{Duration: 6},
			{Duration: 4},
			{Duration: 5.5},
		},
	}

	if got := playlist.TotalDuration(); got != 15.5 {
		t.Errorf("TotalDuration() = %v, want 15.5", got)
	}

	starts := playlist.StartTimes()
	want := []float64{0, 6, 10}
	for i := range want {
		if starts[i] != want[i] {
			t.Errorf("StartTimes()[%d] = %v, want %v", i, starts[i], want[i])
		}
	}

	if _, ok := playlist.IndexOf(99); ok {
		t.Error("sn 99 must not be in the window")
	}
	if idx, ok := playlist.IndexOf(102); !ok || idx != 2 {
		t.Errorf("IndexOf(102) = %d, %v", idx, ok)
	}
	if _, ok := playlist.IndexOf(103); ok {
		t.Error("sn 103 must not be in the window")
	}
}
