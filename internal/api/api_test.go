package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m1k1o/go-thumbnail/hlsthumb"
	"github.com/m1k1o/go-thumbnail/internal/config"
)

type stubManager struct {
	destroyed        bool
	doNotDeleteFiles bool
	ended            bool
}

func (s *stubManager) Start() error { return nil }
func (s *stubManager) Destroy(doNotDeleteFiles bool) {
	s.destroyed = true
	s.doNotDeleteFiles = doNotDeleteFiles
}
func (s *stubManager) GetThumbnails() hlsthumb.Manifest { return hlsthumb.Manifest{Ended: s.ended} }

func (s *stubManager) HasPlaylistEnded() bool { return s.ended }

func (s *stubManager) OnNewThumbnail(func(hlsthumb.Thumbnail)) {}

func (s *stubManager) OnThumbnailRemoved(func(hlsthumb.Thumbnail)) {}

func (s *stubManager) OnThumbnailsChanged(func()) {}

func (s *stubManager) OnPlaylistEnded(func()) {}

func (s *stubManager) OnFinished(func()) {}

func (s *stubManager) OnError(func(error)) {}

func newTestApi(t *testing.T) (*ApiManagerCtx, *chi.Mux) {
	t.Helper()

	a := New(&config.Server{
		OutputDir:   t.TempDir(),
		TempDir:     t.TempDir(),
		PingTimeout: time.Minute,
	})

	router := chi.NewRouter()
	a.Mount(router)
	return a, router
}

func (a *ApiManagerCtx) insertStub(id string, manager hlsthumb.Manager, lastPing time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.generators[id] = &generatorEntry{
		id:        id,
		manager:   manager,
		createdAt: lastPing,
		lastPing:  lastPing,
	}
}

func TestCreateRejectsInvalidBody(t *testing.T) {
	_, router := newTestApi(t)

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/thumbnails", strings.NewReader("not json")))

	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestCreateRequiresPlaylistURL(t *testing.T) {
	_, router := newTestApi(t)

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/thumbnails", strings.NewReader(`{}`)))

	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestCreateRejectsConflictingOptions(t *testing.T) {
	_, router := newTestApi(t)

	body := `{"playlistUrl":"http://example.com/live.m3u8","interval":5,"targetThumbnailCount":10}`

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/thumbnails", strings.NewReader(body)))

	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Contains(t, res.Body.String(), "mutually exclusive")
}

func TestUnknownGenerator(t *testing.T) {
	_, router := newTestApi(t)

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/thumbnails/nope", nil),
		httptest.NewRequest(http.MethodDelete, "/thumbnails/nope", nil),
		httptest.NewRequest(http.MethodPost, "/thumbnails/nope/ping", nil),
	} {
		res := httptest.NewRecorder()
		router.ServeHTTP(res, req)
		assert.Equal(t, http.StatusNotFound, res.Code)
	}
}

func TestDeleteDestroysGenerator(t *testing.T) {
	a, router := newTestApi(t)

	stub := &stubManager{}
	a.insertStub("abc", stub, time.Now())

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodDelete, "/thumbnails/abc?keepFiles=1", nil))

	require.Equal(t, http.StatusNoContent, res.Code)
	assert.True(t, stub.destroyed)
	assert.True(t, stub.doNotDeleteFiles)

	_, ok := a.entry("abc")
	assert.False(t, ok)
}

func TestPingUpdatesAndReaperSweeps(t *testing.T) {
	a, router := newTestApi(t)

	fresh := &stubManager{}
	stale := &stubManager{}

	now := time.Now()
	a.insertStub("fresh", fresh, now.Add(-2*time.Minute))
	a.insertStub("stale", stale, now.Add(-2*time.Minute))

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/thumbnails/fresh/ping", nil))
	require.Equal(t, http.StatusNoContent, res.Code)

	a.reapInactive(time.Now())

	assert.False(t, fresh.destroyed, "pinged generator survives")
	assert.True(t, stale.destroyed, "stale generator is reaped")

	_, ok := a.entry("fresh")
	assert.True(t, ok)
	_, ok = a.entry("stale")
	assert.False(t, ok)
}

func TestGeneratorConfigRetryCount(t *testing.T) {
	a, _ := newTestApi(t)

	// an explicit zero must reach the generator untouched
	zero := 0
	cfg := a.generatorConfig("id", createRequest{
		PlaylistURL:        "http://example.com/live.m3u8",
		PlaylistRetryCount: &zero,
	})
	require.NotNil(t, cfg.PlaylistRetryCount)
	assert.Equal(t, 0, *cfg.PlaylistRetryCount)

	// an omitted field falls back to the server default, which is unset
	// here so the library default applies downstream
	cfg = a.generatorConfig("id", createRequest{
		PlaylistURL: "http://example.com/live.m3u8",
	})
	assert.Nil(t, cfg.PlaylistRetryCount)
}

func TestListReportsState(t *testing.T) {
	a, router := newTestApi(t)

	a.insertStub("abc", &stubManager{ended: true}, time.Now())

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/thumbnails", nil))

	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), `"id":"abc"`)
	assert.Contains(t, res.Body.String(), `"ended":true`)
}
