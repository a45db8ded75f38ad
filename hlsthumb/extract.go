package hlsthumb

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/m1k1o/go-thumbnail/internal/utils"
)

// ffmpegLogWriter forwards ffmpeg stderr to the extractor logger. ffmpeg
// runs with -loglevel warning, so it prints only warnings and errors; every
// line is logged at warn level.
type ffmpegLogWriter struct {
	logger zerolog.Logger
}

func (w ffmpegLogWriter) Write(p []byte) (n int, err error) {
	for _, line := range strings.Split(strings.TrimSpace(string(p)), "\n") {
		if line == "" {
			continue
		}
		w.logger.Warn().Msg(line)
	}
	return len(p), nil
}

type FFmpegConfig struct {
	Binary  string
	Timeout time.Duration

	Width  int // 0 = derive from height
	Height int // 0 = derive from width

	OutputDir string
	TempDir   string

	Fetcher Fetcher
}

// FFmpegExtractor downloads a segment into the temp dir and shells out to
// ffmpeg to grab evenly spaced jpeg frames from it.
type FFmpegExtractor struct {
	logger zerolog.Logger
	config FFmpegConfig
}

func NewFFmpegExtractor(config FFmpegConfig) *FFmpegExtractor {
	return &FFmpegExtractor{
		logger: log.With().Str("module", "hlsthumb").Str("submodule", "extractor").Logger(),
		config: config,
	}
}

func (e *FFmpegExtractor) Extract(ctx context.Context, req ExtractRequest) ([]ExtractedFrame, error) {
	offsets := frameOffsets(req.Start, req.Interval, req.Duration)
	if len(offsets) == 0 {
		return nil, nil
	}

	data, err := e.config.Fetcher.Fetch(ctx, req.URI)
	if err != nil {
		return nil, fmt.Errorf("unable to fetch segment: %w", err)
	}

	segmentPath := filepath.Join(e.config.TempDir, fmt.Sprintf("%s-%d.ts", req.BaseName, req.StartNumber))
	if err := os.WriteFile(segmentPath, data, 0644); err != nil {
		return nil, fmt.Errorf("unable to write segment: %w", err)
	}
	// segment is dropped as soon as it has been processed, even on error
	defer os.Remove(segmentPath)

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	args := []string{
		"-loglevel", "warning",
	}

	// feeding -ss 0 can trip seek_timestamp handling in ffmpeg, skip it
	if offsets[0] > 0 {
		args = append(args, "-ss", formatSeconds(offsets[0]))
	}

	args = append(args,
		"-i", segmentPath,
		"-vf", fmt.Sprintf("fps=1/%s,%s", formatSeconds(req.Interval), scaleFilter(e.config.Width, e.config.Height)),
		"-frames:v", strconv.Itoa(len(offsets)),
		"-start_number", strconv.Itoa(req.StartNumber),
		"-f", "image2",
		filepath.Join(e.config.TempDir, req.BaseName+"-%d.jpg"),
	)

	cmd := exec.CommandContext(ctx, e.config.Binary, args...)
	cmd.Stderr = ffmpegLogWriter{logger: e.logger}

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %w", err)
	}

	// frames at the tail of a segment may be missing due to rounding,
	// they are dropped rather than treated as failure
	var frames []ExtractedFrame
	for i, offset := range offsets {
		index := req.StartNumber + i
		name := fmt.Sprintf("%s-%d.jpg", req.BaseName, index)

		framePath := filepath.Join(e.config.TempDir, name)
		if _, err := os.Stat(framePath); os.IsNotExist(err) {
			e.logger.Debug().Str("name", name).Msg("frame missing, dropped")
			continue
		}

		if err := utils.MoveFile(framePath, filepath.Join(e.config.OutputDir, name)); err != nil {
			return frames, fmt.Errorf("unable to move frame: %w", err)
		}

		frames = append(frames, ExtractedFrame{
			Index: index,
			Name:  name,
			Time:  offset,
		})
	}

	return frames, nil
}

// frameOffsets lists the intra-segment grab times, rounded to
// milliseconds, for start + k*interval below the segment duration.
func frameOffsets(start, interval, duration float64) []float64 {
	if interval <= 0 {
		return nil
	}

	var offsets []float64
	for offset := start; offset < duration; offset += interval {
		offsets = append(offsets, roundMillis(offset))
	}
	return offsets
}

// scaleFilter keeps aspect ratio when only one dimension is given.
func scaleFilter(width, height int) string {
	switch {
	case width > 0 && height > 0:
		return fmt.Sprintf("scale=%d:%d", width, height)
	case width > 0:
		return fmt.Sprintf("scale=%d:-2", width)
	default:
		return fmt.Sprintf("scale=-2:%d", height)
	}
}

func formatSeconds(seconds float64) string {
	return strconv.FormatFloat(roundMillis(seconds), 'f', 3, 64)
}
