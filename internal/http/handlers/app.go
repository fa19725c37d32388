package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"slidecast/internal/batch"
	"slidecast/internal/domain"
	"slidecast/internal/infra"
	"slidecast/internal/monitor"
	"slidecast/internal/presign"
	"slidecast/internal/providers"
	"slidecast/internal/publisher"
	"slidecast/internal/storage"
	"slidecast/internal/submission"
)

const maxJSONBody = 1 << 20

// App holds the components the HTTP API fronts. Files is nil when objects
// live in an external store that serves its own presigned URLs.
type App struct {
	Jobs        domain.JobStore
	Coordinator *submission.Coordinator
	Monitor     *monitor.Monitor
	Publisher   *publisher.Publisher
	Presign     *presign.Manager
	Batches     *batch.Orchestrator
	Providers   *providers.Registry
	Files       *storage.FileStore
	Logger      *infra.Logger
}

func (a *App) log() *infra.Logger {
	if a.Logger == nil {
		l := zerolog.Nop()
		return &l
	}
	return a.Logger
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (a *App) error(w http.ResponseWriter, code int, kind, msg string) {
	a.json(w, code, errorResponse{Error: kind, Message: msg})
}

// fail maps a component error onto a status code. Unexpected errors are
// logged and hidden behind a generic message.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	var validation *domain.ValidationError
	switch {
	case errors.As(err, &validation):
		a.error(w, http.StatusBadRequest, "bad_request", validation.Error())
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, domain.ErrTerminalState):
		a.error(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, domain.ErrNotPublishable):
		a.error(w, http.StatusConflict, "conflict", domain.ErrNotPublishable.Error())
	case errors.Is(err, storage.ErrTooLarge):
		a.error(w, http.StatusRequestEntityTooLarge, "too_large", err.Error())
	case domain.IsTransient(err):
		a.error(w, http.StatusServiceUnavailable, "provider_unavailable", err.Error())
	case domain.IsTerminal(err):
		a.error(w, http.StatusBadGateway, "provider_rejected", err.Error())
	default:
		a.log().Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("http: request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

// decode reads a JSON body into dst, rejecting unknown fields.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &domain.ValidationError{Reason: "invalid payload: " + err.Error()}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return &domain.ValidationError{Reason: "invalid payload: trailing data"}
	}
	return nil
}

// parseValidity accepts "90s"-style durations or plain seconds. Empty means 0.
func parseValidity(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if d, err := time.ParseDuration(raw); err == nil && d >= 0 {
		return d, nil
	}
	if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
		return time.Duration(n) * time.Second, nil
	}
	return 0, &domain.ValidationError{Field: "min_validity", Reason: "must be a duration such as 45m or a number of seconds"}
}
