package api

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/rs/zerolog"

	"github.com/harrylevesque/controlx/internal/metrics"
)

// RequestIDHeader carries the per-request correlation id.
const RequestIDHeader = "X-Request-ID"

// requestID tags each request with an id (the caller's, when it sent one)
// and puts a logger carrying it into the request context.
func requestID(base zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if _, err := uuid.Parse(id); err != nil {
				id = uuid.New().String()
			}
			w.Header().Set(RequestIDHeader, id)

			l := base.With().Str("request_id", id).Logger()
			next.ServeHTTP(w, r.WithContext(l.WithContext(r.Context())))
		})
	}
}

func accessLog(_ io.Writer, p handlers.LogFormatterParams) {
	elapsed := time.Since(p.TimeStamp)
	metrics.Get().ObserveRequest(p.Request.Method, p.StatusCode, elapsed)

	zerolog.Ctx(p.Request.Context()).Info().
		Str("method", p.Request.Method).
		Str("path", p.URL.Path).
		Str("remote", p.Request.RemoteAddr).
		Int("status", p.StatusCode).
		Int("size", p.Size).
		Dur("duration", elapsed).
		Msg("request")
}

// recoveryLogger routes recovered panics into zerolog.
type recoveryLogger struct {
	logger zerolog.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.logger.Error().Msg(fmt.Sprint(v...))
}
