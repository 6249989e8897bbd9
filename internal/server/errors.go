package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/wavetap/wavetap/internal/resilience"
	"github.com/wavetap/wavetap/pkg/extract"
	"github.com/wavetap/wavetap/pkg/transcode"
)

// errorBody is the JSON error payload returned by every endpoint.
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// writeJSON encodes v with the given status. Encode failures after the
// header is written can only be logged.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encode failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, message, kind string) {
	writeJSON(w, status, errorBody{Error: message, Kind: kind})
}

// writeMappedError translates resolution and transcoding failures into HTTP
// statuses and a JSON body carrying the failure kind.
func writeMappedError(w http.ResponseWriter, err error) {
	status, kind := statusForError(err)
	writeError(w, status, err.Error(), kind)
}

func statusForError(err error) (int, string) {
	var resErr *extract.ResolutionError
	if errors.As(err, &resErr) {
		switch resErr.Kind {
		case extract.KindUnsupported:
			return http.StatusUnprocessableEntity, string(resErr.Kind)
		case extract.KindNotFound:
			return http.StatusNotFound, string(resErr.Kind)
		case extract.KindRateLimited:
			return http.StatusTooManyRequests, string(resErr.Kind)
		default:
			return http.StatusBadGateway, string(resErr.Kind)
		}
	}

	var tcErr *transcode.Error
	if errors.As(err, &tcErr) {
		switch tcErr.Kind {
		case transcode.KindTimeout:
			return http.StatusGatewayTimeout, string(tcErr.Kind)
		default:
			return http.StatusBadGateway, string(tcErr.Kind)
		}
	}

	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusServiceUnavailable, "resolver_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, ""
	}
}
