package middleware

import (
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// RequestLogger logs one line per request and attaches a request-scoped
// logger carrying the chi request id to the context.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		logger := log.With().Str("requestId", chimiddleware.GetReqID(r.Context())).Logger()
		r = r.WithContext(logger.WithContext(r.Context()))

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		evt := logger.Info()
		if status >= http.StatusInternalServerError {
			evt = logger.Error()
		}
		evt.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("remoteAddr", r.RemoteAddr).
			Msg("http request")
	})
}
