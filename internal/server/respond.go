package server

import (
	"context"
	"net/http"

	goahttp "goa.design/goa/v3/http"
	"goa.design/goa/v3/middleware"

	"threatwatch/internal/logging"
)

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// respond writes v as JSON. Responses are always JSON regardless of Accept.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, status int, v any) {
	ctx := context.WithValue(r.Context(), goahttp.ContentTypeKey, "application/json")
	enc := goahttp.ResponseEncoder(ctx, w)
	w.WriteHeader(status)
	if err := enc.Encode(v); err != nil {
		logging.Warn().Err(err).Str("path", r.URL.Path).Msg("failed to encode response")
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, msg string) {
	s.respond(w, r, status, errorBody{Error: msg, RequestID: requestID(r.Context())})
}

// internal logs err with the request ID and hides it from the client.
func (s *Server) internal(w http.ResponseWriter, r *http.Request, err error) {
	id := requestID(r.Context())
	logging.Error().Err(err).Str("request_id", id).Str("path", r.URL.Path).Msg("request failed")
	s.respond(w, r, http.StatusInternalServerError, errorBody{Error: "internal error", RequestID: id})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(middleware.RequestIDKey).(string)
	return id
}
