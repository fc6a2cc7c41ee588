package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/harrylevesque/controlx/internal/dispatch"
	"github.com/harrylevesque/controlx/internal/models"
	"github.com/harrylevesque/controlx/internal/utils"
)

// maxBodyBytes caps the parameter body read from a caller.
const maxBodyBytes = 1 << 20

// Server holds the collaborators the handlers need.
type Server struct {
	dispatcher *dispatch.Dispatcher
}

// DynamicAPIHandler resolves /api/<route> to a stored endpoint and runs it.
// Command-level failures are reported with status 200 and an "error" field;
// only a missing endpoint (404) or a storage failure (500) change the status.
func (s *Server) DynamicAPIHandler(w http.ResponseWriter, r *http.Request) {
	route := models.RoutePath(strings.TrimPrefix(r.URL.Path, "/api"))
	params := decodeParams(r)

	res, err := s.dispatcher.Dispatch(r.Context(), route, r.Method, params)
	if err != nil {
		var resErr *dispatch.ResolutionError
		if errors.As(err, &resErr) {
			err = utils.New(http.StatusNotFound, resErr.Error())
		} else {
			zerolog.Ctx(r.Context()).Error().Err(err).Str("route", route).Msg("endpoint lookup failed")
			err = utils.Wrap(http.StatusInternalServerError, "endpoint lookup failed", err)
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res.Payload())
}

// decodeParams reads the body as a JSON object. A missing, oversized,
// malformed or non-object body yields an empty mapping.
func decodeParams(r *http.Request) map[string]any {
	params := map[string]any{}
	if r.Body == nil {
		return params
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil || len(body) > maxBodyBytes {
		return params
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return params
	}
	if _, err := dec.Token(); err != io.EOF {
		return params
	}
	if obj, ok := v.(map[string]any); ok {
		return obj
	}
	return params
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	var ce *utils.CustomError
	msg := err.Error()
	if errors.As(err, &ce) {
		msg = ce.Message
	}
	writeJSON(w, utils.StatusCode(err), dispatch.ErrorResponse{Error: msg})
}
