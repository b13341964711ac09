package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/koustreak/querydeck/internal/errs"
	"github.com/koustreak/querydeck/internal/logger"
)

const maxBodyBytes = 16 << 20

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

type messageBody struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// fail renders err. Server-side failures are logged; client errors are not.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).ErrorWith("request failed", err, map[string]any{
			"path":   r.URL.Path,
			"status": status,
		})
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Kind: errs.KindOf(err).String()})
}

func statusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.ErrKindConnectionNotFound, errs.ErrKindNotFound:
		return http.StatusNotFound
	case errs.ErrKindInvalidInput, errs.ErrKindInvalidIdentifier, errs.ErrKindConfig, errs.ErrKindSerialization:
		return http.StatusBadRequest
	case errs.ErrKindNotConnected:
		return http.StatusConflict
	case errs.ErrKindPermissionDenied:
		return http.StatusForbidden
	case errs.ErrKindUnsupported:
		return http.StatusNotImplemented
	case errs.ErrKindConnectionFailed, errs.ErrKindSSH:
		return http.StatusBadGateway
	case errs.ErrKindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON body into v. Errors that already carry a kind (a
// malformed port, say) keep it.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errs.New(errs.ErrKindInvalidInput, "request body is required")
		}
		if errs.KindOf(err) != errs.ErrKindUnknown {
			return err
		}
		return errs.Wrap(errs.ErrKindSerialization, "invalid request body", err)
	}
	return nil
}
