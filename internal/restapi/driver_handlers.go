package restapi

import (
	"net/http"

	"bustracker.campus.org/internal/tracking"
)

func (api *RestAPI) startSharingHandler(w http.ResponseWriter, r *http.Request) {
	var req tracking.StartRequest
	if !api.decodeJSON(w, r, &req) {
		return
	}
	view, err := api.Tracker.StartSharing(r.Context(), req)
	if err != nil {
		api.trackingErrorResponse(w, r, err)
		return
	}
	api.sendEntry(w, r, view)
}

func (api *RestAPI) reportPositionHandler(w http.ResponseWriter, r *http.Request) {
	var rep tracking.PositionReport
	if !api.decodeJSON(w, r, &rep) {
		return
	}
	view, err := api.Tracker.ReportPosition(r.Context(), rep)
	if err != nil {
		api.trackingErrorResponse(w, r, err)
		return
	}
	api.sendEntry(w, r, view)
}

func (api *RestAPI) stopSharingHandler(w http.ResponseWriter, r *http.Request) {
	var req tracking.StopRequest
	if !api.decodeJSON(w, r, &req) {
		return
	}
	view, err := api.Tracker.StopSharing(r.Context(), req)
	if err != nil {
		api.trackingErrorResponse(w, r, err)
		return
	}
	api.sendEntry(w, r, view)
}
