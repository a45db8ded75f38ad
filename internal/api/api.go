package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/m1k1o/go-thumbnail/hlsthumb"
	"github.com/m1k1o/go-thumbnail/internal/config"
	"github.com/m1k1o/go-thumbnail/internal/metrics"
)

type ApiManagerCtx struct {
	logger  zerolog.Logger
	config  *config.Server
	metrics *metrics.Metrics

	mu         sync.Mutex
	generators map[string]*generatorEntry

	shutdown chan struct{}
}

type generatorEntry struct {
	id          string
	playlistURL string
	manager     hlsthumb.Manager
	createdAt   time.Time
	lastPing    time.Time
}

func New(config *config.Server) *ApiManagerCtx {
	return &ApiManagerCtx{
		logger:     log.With().Str("module", "api").Logger(),
		config:     config,
		metrics:    metrics.New(),
		generators: map[string]*generatorEntry{},
		shutdown:   make(chan struct{}),
	}
}

func (a *ApiManagerCtx) Start() {
	if a.config.PingTimeout > 0 {
		go a.reaper()
	}
}

func (a *ApiManagerCtx) Shutdown() {
	close(a.shutdown)

	a.mu.Lock()
	entries := make([]*generatorEntry, 0, len(a.generators))
	for _, entry := range a.generators {
		entries = append(entries, entry)
	}
	a.generators = map[string]*generatorEntry{}
	a.mu.Unlock()

	for _, entry := range entries {
		entry.manager.Destroy(false)
	}
}

func (a *ApiManagerCtx) Mount(r *chi.Mux) {
	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		//nolint
		w.Write([]byte("pong"))
	})

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		a.metrics.Handler(func() {
			a.mu.Lock()
			a.metrics.SetActiveGenerators(len(a.generators))
			a.mu.Unlock()
		}).ServeHTTP(w, r)
	})

	r.Route("/thumbnails", func(r chi.Router) {
		r.Get("/", a.list)
		r.Post("/", a.create)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", a.get)
			r.Delete("/", a.remove)
			r.Post("/ping", a.ping)
		})
	})
}

// createRequest mirrors the generator configuration surface, zero values
// fall back to the server defaults.
type createRequest struct {
	PlaylistURL string `json:"playlistUrl"`

	Interval              float64 `json:"interval"`
	TargetThumbnailCount  int     `json:"targetThumbnailCount"`
	InitialThumbnailCount int     `json:"initialThumbnailCount"`

	Width  int `json:"width"`
	Height int `json:"height"`

	ExpireTime  int  `json:"expireTime"` // seconds
	NeverDelete bool `json:"neverDelete"`

	IgnorePlaylist404 bool `json:"ignorePlaylist404"`

	// pointer so an explicit zero (single attempt) is distinguishable
	// from an omitted field
	PlaylistRetryCount *int `json:"playlistRetryCount"`

	OutputNamePrefix string `json:"outputNamePrefix"`
}

func (a *ApiManagerCtx) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "400 invalid request body", http.StatusBadRequest)
		return
	}

	if req.PlaylistURL == "" {
		http.Error(w, "400 playlistUrl must be set", http.StatusBadRequest)
		return
	}

	id := uuid.NewString()

	manager, err := hlsthumb.New(a.generatorConfig(id, req))
	if err != nil {
		http.Error(w, fmt.Sprintf("400 %v", err), http.StatusBadRequest)
		return
	}

	manager.OnNewThumbnail(func(t hlsthumb.Thumbnail) {
		a.metrics.IncThumbnailsCreated()
	})
	manager.OnThumbnailRemoved(func(t hlsthumb.Thumbnail) {
		a.metrics.IncThumbnailsRemoved()
	})
	manager.OnPlaylistEnded(func() {
		a.metrics.IncPlaylistsEnded()
	})
	manager.OnFinished(func() {
		a.metrics.IncGeneratorsFinished()
		a.forget(id)
	})
	manager.OnError(func(err error) {
		a.logger.Err(err).Str("id", id).Msg("generator failed")
		a.forget(id)
	})

	// the entry must be registered before the first poll can fail and
	// call back into forget
	now := time.Now()
	a.mu.Lock()
	a.generators[id] = &generatorEntry{
		id:          id,
		playlistURL: req.PlaylistURL,
		manager:     manager,
		createdAt:   now,
		lastPing:    now,
	}
	a.mu.Unlock()

	if err := manager.Start(); err != nil {
		a.logger.Err(err).Str("id", id).Msg("unable to start generator")
		a.forget(id)
		http.Error(w, "500 unable to start generator", http.StatusInternalServerError)
		return
	}

	a.logger.Info().Str("id", id).Str("url", req.PlaylistURL).Msg("generator created")

	w.Header().Set("Content-Type", "application/json")
	//nolint
	json.NewEncoder(w).Encode(map[string]string{"id": id})
}

func (a *ApiManagerCtx) generatorConfig(id string, req createRequest) *hlsthumb.Config {
	defaults := a.config.Generator

	cfg := &hlsthumb.Config{
		PlaylistURL: req.PlaylistURL,
		OutputDir:   a.config.OutputDir,
		TempDir:     a.config.TempDir,

		Interval:              req.Interval,
		TargetThumbnailCount:  req.TargetThumbnailCount,
		InitialThumbnailCount: req.InitialThumbnailCount,

		Width:  req.Width,
		Height: req.Height,

		ExpireTime:  time.Duration(req.ExpireTime) * time.Second,
		NeverDelete: req.NeverDelete || defaults.NeverDelete,

		IgnorePlaylist404:  req.IgnorePlaylist404 || defaults.IgnorePlaylist404,
		PlaylistRetryCount: req.PlaylistRetryCount,

		OutputNamePrefix: req.OutputNamePrefix,
		ManifestFileName: fmt.Sprintf("thumbnails-%s.json", id),

		FFmpegBinary:  defaults.FFmpegBinary,
		FFmpegTimeout: time.Duration(defaults.FFmpegTimeout) * time.Second,
	}

	if cfg.Interval == 0 && cfg.TargetThumbnailCount == 0 {
		cfg.Interval = defaults.Interval
		cfg.TargetThumbnailCount = defaults.TargetThumbnailCount
	}
	if cfg.InitialThumbnailCount == 0 {
		cfg.InitialThumbnailCount = defaults.InitialThumbnailCount
	}
	if cfg.Width == 0 && cfg.Height == 0 {
		cfg.Width = defaults.Width
		cfg.Height = defaults.Height
	}
	if cfg.ExpireTime == 0 {
		cfg.ExpireTime = time.Duration(defaults.ExpireTime) * time.Second
	}
	if cfg.PlaylistRetryCount == nil {
		cfg.PlaylistRetryCount = defaults.PlaylistRetryCount
	}

	return cfg
}

type listEntry struct {
	ID          string    `json:"id"`
	PlaylistURL string    `json:"playlistUrl"`
	Ended       bool      `json:"ended"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (a *ApiManagerCtx) list(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	entries := make([]listEntry, 0, len(a.generators))
	for _, entry := range a.generators {
		entries = append(entries, listEntry{
			ID:          entry.id,
			PlaylistURL: entry.playlistURL,
			Ended:       entry.manager.HasPlaylistEnded(),
			CreatedAt:   entry.createdAt,
		})
	}
	a.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	//nolint
	json.NewEncoder(w).Encode(entries)
}

func (a *ApiManagerCtx) get(w http.ResponseWriter, r *http.Request) {
	entry, ok := a.entry(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "404 generator not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	//nolint
	json.NewEncoder(w).Encode(entry.manager.GetThumbnails())
}

func (a *ApiManagerCtx) ping(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	a.mu.Lock()
	entry, ok := a.generators[id]
	if ok {
		entry.lastPing = time.Now()
	}
	a.mu.Unlock()

	if !ok {
		http.Error(w, "404 generator not found", http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (a *ApiManagerCtx) remove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	a.mu.Lock()
	entry, ok := a.generators[id]
	delete(a.generators, id)
	a.mu.Unlock()

	if !ok {
		http.Error(w, "404 generator not found", http.StatusNotFound)
		return
	}

	doNotDeleteFiles := r.URL.Query().Get("keepFiles") == "1"
	entry.manager.Destroy(doNotDeleteFiles)

	a.logger.Info().Str("id", id).Bool("keep-files", doNotDeleteFiles).Msg("generator destroyed")
	w.WriteHeader(http.StatusNoContent)
}

func (a *ApiManagerCtx) entry(id string) (*generatorEntry, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry, ok := a.generators[id]
	return entry, ok
}

// forget drops a generator that terminated on its own.
func (a *ApiManagerCtx) forget(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.generators, id)
}
