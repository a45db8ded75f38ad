package hlsthumb

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Manifest is the json document external consumers poll to discover
// which thumbnails currently exist.
type Manifest struct {
	Ended    bool              `json:"ended"`
	Segments []ManifestSegment `json:"segments"`
}

type ManifestSegment struct {
	SN          uint64              `json:"sn"`
	RemovalTime *int64              `json:"removalTime"` // unix ms, null while in window
	Thumbnails  []ManifestThumbnail `json:"thumbnails"`
}

type ManifestThumbnail struct {
	Time float64 `json:"time"`
	Name string  `json:"name"`
}

// manifestWriter serializes the manifest atomically, a reader always sees
// either the previous or the new valid content.
type manifestWriter struct {
	logger zerolog.Logger
	path   string
}

func newManifestWriter(outputDir, fileName string) *manifestWriter {
	return &manifestWriter{
		logger: log.With().Str("module", "hlsthumb").Str("submodule", "manifest").Logger(),
		path:   filepath.Join(outputDir, fileName),
	}
}

func (w *manifestWriter) write(manifest Manifest) error {
	if manifest.Segments == nil {
		manifest.Segments = []ManifestSegment{}
	}

	data, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("unable to marshal manifest: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(w.path), ".manifest-*.tmp")
	if err != nil {
		return fmt.Errorf("unable to create temp manifest: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("unable to write manifest: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	if err := os.Rename(tmp.Name(), w.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("unable to replace manifest: %w", err)
	}

	return nil
}

func (w *manifestWriter) remove() error {
	return verifiedRemove(w.path)
}
