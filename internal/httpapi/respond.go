package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"memepulse/internal/fetcher"
	"memepulse/internal/service"
	"memepulse/internal/storage"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}

// writeError maps domain errors to status codes. Unknown errors are logged and hidden.
func writeError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		badRequest(w, verr.Error())
	case errors.Is(err, storage.ErrInvalidInput):
		badRequest(w, err.Error())
	case errors.Is(err, service.ErrTokenNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Token not supported"})
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Alert not found"})
	case errors.Is(err, fetcher.ErrUpstreamUnavailable):
		logger.Warn().Err(err).Msg("upstream failure")
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "Price provider unavailable"})
	default:
		logger.Error().Err(err).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Internal server error"})
	}
}
