package http

import (
	"net/http"
	"net/http/pprof"

	"github.com/go-chi/chi"
)

// WithDebugPProf exposes the runtime profiles next to the thumbnail api.
// Generators block on ffmpeg and playlist fetches, so goroutine and cpu
// profiles are the ones that matter when a stream stalls.
func (s *ServerCtx) WithDebugPProf(pathPrefix string) {
	s.logger.Info().Msgf("with pprof endpoint at %s", pathPrefix)

	s.router.Route(pathPrefix, func(r chi.Router) {
		r.Get("/", pprof.Index)
		r.Get("/cmdline", pprof.Cmdline)
		r.Get("/profile", pprof.Profile)
		r.Get("/symbol", pprof.Symbol)
		r.Get("/trace", pprof.Trace)

		// named profiles, e.g. goroutine, heap, block
		r.Get("/{profile}", func(w http.ResponseWriter, r *http.Request) {
			pprof.Handler(chi.URLParam(r, "profile")).ServeHTTP(w, r)
		})
	})
}
