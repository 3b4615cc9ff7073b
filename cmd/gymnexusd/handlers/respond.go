// Package handlers provides the REST handlers of the local daemon.
package handlers

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/kimhsiao/gymnexus/backend/internal/errors"
	"github.com/kimhsiao/gymnexus/backend/internal/logging"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("Failed to encode response", err)
	}
}

// statusFor maps an error code to an HTTP status.
func statusFor(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrValidation:
		return http.StatusBadRequest
	case apperrors.ErrNotFound:
		return http.StatusNotFound
	case apperrors.ErrSyncInProgress:
		return http.StatusConflict
	case apperrors.ErrQuotaExceeded:
		return http.StatusInsufficientStorage
	case apperrors.ErrUnavailable, apperrors.ErrTransientNetwork:
		return http.StatusServiceUnavailable
	case apperrors.ErrRemoteRejected, apperrors.ErrSyncFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	status := statusFor(code)
	if status >= 500 {
		logging.ErrorWithCode("Request failed", string(code), err)
	}

	var body ErrorBody
	body.Error.Code = string(code)
	body.Error.Message = err.Error()
	writeJSON(w, status, body)
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "invalid request body", err)
	}
	return nil
}
