package restapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"bustracker.campus.org/internal/logging"
	"bustracker.campus.org/internal/models"
	"bustracker.campus.org/internal/tracking"
)

const maxBodyBytes = 64 << 10

func (api *RestAPI) sendResponse(w http.ResponseWriter, r *http.Request, response models.ResponseModel) {
	setJSONResponseType(&w)
	if response.Code != 0 && response.Code != http.StatusOK {
		w.WriteHeader(response.Code)
	}
	err := json.NewEncoder(w).Encode(response)
	if err != nil {
		logging.LogError(api.Logger, "failed to encode response", err,
			slog.String("path", r.URL.Path))
	}
}

func (api *RestAPI) sendEntry(w http.ResponseWriter, r *http.Request, entry any) {
	api.sendResponse(w, r, models.NewEntryResponse(entry, api.Clock))
}

func (api *RestAPI) sendNotFound(w http.ResponseWriter, r *http.Request) {
	api.sendError(w, r, http.StatusNotFound, "resource not found")
}

func (api *RestAPI) sendForbidden(w http.ResponseWriter, r *http.Request) {
	api.sendError(w, r, http.StatusForbidden, "access denied")
}

func setJSONResponseType(w *http.ResponseWriter) {
	(*w).Header().Set("Content-Type", "application/json")
}

func (api *RestAPI) sendError(w http.ResponseWriter, r *http.Request, code int, message string) {
	api.sendResponse(w, r, models.NewResponse(code, nil, message, api.Clock))
}

func (api *RestAPI) validationErrorResponse(w http.ResponseWriter, r *http.Request, fieldErrors map[string][]string) {
	api.sendResponse(w, r, models.NewResponse(http.StatusBadRequest,
		models.FieldErrorsData{FieldErrors: fieldErrors}, "validation error", api.Clock))
}

func (api *RestAPI) serverErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	logging.LogError(api.Logger, "request failed", err,
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("request_id", GetRequestID(r.Context())))
	api.sendError(w, r, http.StatusInternalServerError, "internal server error")
}

// trackingErrorResponse maps tracker errors onto HTTP status codes.
func (api *RestAPI) trackingErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	var verr *tracking.ValidationError
	switch {
	case errors.As(err, &verr):
		api.validationErrorResponse(w, r, verr.FieldMap())
	case errors.Is(err, tracking.ErrNotFound):
		api.sendError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, tracking.ErrNotAssigned):
		api.sendForbidden(w, r)
	case errors.Is(err, tracking.ErrAlreadySharing),
		errors.Is(err, tracking.ErrNotSharing),
		errors.Is(err, tracking.ErrBusInactive):
		api.sendError(w, r, http.StatusConflict, err.Error())
	default:
		api.serverErrorResponse(w, r, err)
	}
}

// decodeJSON reads a bounded JSON body into dst, answering 400 itself on failure.
func (api *RestAPI) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		api.sendError(w, r, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
