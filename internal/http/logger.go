package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/rs/zerolog"
)

type logformatter struct {
	logger zerolog.Logger
}

func (l *logformatter) NewLogEntry(r *http.Request) middleware.LogEntry {
	req := map[string]any{}

	if reqID := middleware.GetReqID(r.Context()); reqID != "" {
		req["id"] = reqID
	}

	req["scheme"] = "http"
	if r.TLS != nil {
		req["scheme"] = "https"
	}

	req["proto"] = r.Proto
	req["method"] = r.Method
	req["remote"] = r.RemoteAddr
	req["agent"] = r.UserAgent()
	req["uri"] = r.RequestURI

	return &logentry{
		logger: l.logger.With().Fields(req).Logger(),
	}
}

type logentry struct {
	logger zerolog.Logger
}

func (e *logentry) Panic(v any, stack []byte) {
	e.logger = e.logger.With().
		Str("panic", "recovered").
		Interface("value", v).
		Str("stack", string(stack)).
		Logger()
}

func (e *logentry) Write(status, bytes int, header http.Header, elapsed time.Duration, extra any) {
	logger := e.logger.With().
		Int("status", status).
		Int("bytes", bytes).
		Dur("elapsed", elapsed).
		Logger()

	if status >= 500 {
		logger.Error().Msg("request failed")
	} else {
		logger.Debug().Msg("request complete")
	}
}
