package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds prometheus counters and gauges for the thumbnail service.
type Metrics struct {
	registry                *prometheus.Registry
	thumbnailsCreatedTotal  prometheus.Counter
	thumbnailsRemovedTotal  prometheus.Counter
	playlistsEndedTotal     prometheus.Counter
	generatorsFinishedTotal prometheus.Counter
	activeGenerators        prometheus.Gauge
}

// New creates and registers prometheus metrics for the service.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	thumbnailsCreatedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "thumbnail_created_total",
		Help: "Total number of thumbnails extracted",
	})
	thumbnailsRemovedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "thumbnail_removed_total",
		Help: "Total number of thumbnails expired and removed",
	})
	playlistsEndedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "thumbnail_playlists_ended_total",
		Help: "Total number of playlists that signalled end of list",
	})
	generatorsFinishedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "thumbnail_generators_finished_total",
		Help: "Total number of generators that drained and finished",
	})
	activeGenerators := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "thumbnail_active_generators",
		Help: "Number of running thumbnail generators",
	})

	registry.MustRegister(
		thumbnailsCreatedTotal,
		thumbnailsRemovedTotal,
		playlistsEndedTotal,
		generatorsFinishedTotal,
		activeGenerators,
	)

	return &Metrics{
		registry:                registry,
		thumbnailsCreatedTotal:  thumbnailsCreatedTotal,
		thumbnailsRemovedTotal:  thumbnailsRemovedTotal,
		playlistsEndedTotal:     playlistsEndedTotal,
		generatorsFinishedTotal: generatorsFinishedTotal,
		activeGenerators:        activeGenerators,
	}
}

func (m *Metrics) IncThumbnailsCreated() {
	m.thumbnailsCreatedTotal.Inc()
}

func (m *Metrics) IncThumbnailsRemoved() {
	m.thumbnailsRemovedTotal.Inc()
}

func (m *Metrics) IncPlaylistsEnded() {
	m.playlistsEndedTotal.Inc()
}

func (m *Metrics) IncGeneratorsFinished() {
	m.generatorsFinishedTotal.Inc()
}

func (m *Metrics) SetActiveGenerators(n int) {
	m.activeGenerators.Set(float64(n))
}

// Handler serves the registry, updateGauges runs before each scrape to
// refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
