package api

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/harrylevesque/controlx/internal/auth"
	"github.com/harrylevesque/controlx/internal/dispatch"
	"github.com/harrylevesque/controlx/internal/metrics"
	"github.com/harrylevesque/controlx/internal/models"
)

// Options configures the router beyond its collaborators.
type Options struct {
	CORSOrigins    []string
	MetricsEnabled bool
	MetricsPath    string
}

// NewRouter wires the HTTP surface: the authenticated /api/ catch-all,
// health and metrics, wrapped in request-id, access-log, CORS and panic
// recovery middleware.
func NewRouter(d *dispatch.Dispatcher, a *auth.Authenticator, logger zerolog.Logger, opts Options) http.Handler {
	s := &Server{dispatcher: d}

	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if _, err := fmt.Fprintln(w, "OK"); err != nil {
			zerolog.Ctx(r.Context()).Debug().Err(err).Msg("write health response")
		}
	}).Methods("GET")
	if opts.MetricsEnabled {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, metrics.Get().Handler()).Methods("GET")
	}

	r.PathPrefix("/api/").
		Handler(a.Middleware(http.HandlerFunc(s.DynamicAPIHandler))).
		Methods(models.Methods...)

	var h http.Handler = r
	if len(opts.CORSOrigins) > 0 {
		h = handlers.CORS(
			handlers.AllowedOrigins(opts.CORSOrigins),
			handlers.AllowedMethods(models.Methods),
			handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
			handlers.AllowCredentials(),
		)(h)
	}
	h = handlers.CustomLoggingHandler(io.Discard, h, accessLog)
	h = requestID(logger)(h)
	h = handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{logger}), handlers.PrintRecoveryStack(true))(h)
	return h
}
