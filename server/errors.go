package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xhad/concierge/internal/types"
	"github.com/xhad/concierge/pkg/ingest"
)

// validationError is a malformed request body or parameter.
type validationError struct{ msg string }

func (e *validationError) Error() string { return e.msg }

func invalid(msg string) error { return &validationError{msg: msg} }

// pipelineError is a failed answer pipeline run.
type pipelineError struct{ err error }

func (e *pipelineError) Error() string { return "answer pipeline failed: " + e.err.Error() }
func (e *pipelineError) Unwrap() error { return e.err }

var errRateLimited = errors.New("rate limit exceeded")

type errorBody struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps an error to its HTTP status and the detail shown to the
// caller. Internal errors get a generic detail.
func statusFor(err error) (int, string) {
	var (
		notFound   *types.NotFoundError
		denied     *types.AccessDeniedError
		embedErr   *types.EmbeddingServiceError
		genErr     *types.GenerationServiceError
		validation *validationError
		pipeline   *pipelineError
	)

	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, validation.msg
	case errors.Is(err, types.ErrUnauthenticated):
		return http.StatusUnauthorized, "Not authenticated"
	case errors.As(err, &denied):
		return http.StatusForbidden, "Access denied"
	case errors.As(err, &notFound):
		return http.StatusNotFound, notFound.Error()
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests, "Rate limit exceeded"
	case errors.As(err, &pipeline), errors.As(err, &embedErr), errors.As(err, &genErr):
		return http.StatusBadGateway, "The assistant is temporarily unavailable"
	case errors.Is(err, ingest.ErrQueueFull):
		return http.StatusServiceUnavailable, "Ingestion queue is full, try again later"
	}
	return http.StatusInternalServerError, "Internal server error"
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, detail := statusFor(err)
	if status >= 500 {
		s.log.Error("http.error", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	} else {
		s.log.Debug("http.error", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, errorBody{Detail: detail})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return invalid("invalid JSON body: " + err.Error())
	}
	return nil
}
