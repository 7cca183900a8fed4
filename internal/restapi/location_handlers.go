package restapi

import (
	"net/http"
	"strconv"
	"strings"

	"bustracker.campus.org/internal/geo"
	"bustracker.campus.org/internal/models"
	"bustracker.campus.org/internal/tracking"
)

const (
	defaultNearbyRadiusMeters = 1000
	maxNearbyRadiusMeters     = 20000
	maxTripsLimit             = 100
)

func (api *RestAPI) busLocationHandler(w http.ResponseWriter, r *http.Request) {
	busID := r.PathValue("id")
	view, err := api.Tracker.Status(r.Context(), busID)
	if err != nil {
		api.trackingErrorResponse(w, r, err)
		return
	}
	api.sendEntry(w, r, view)
}

func (api *RestAPI) activeLocationsHandler(w http.ResponseWriter, r *http.Request) {
	views, err := api.Tracker.ActiveLocations(r.Context())
	if err != nil {
		api.serverErrorResponse(w, r, err)
		return
	}
	api.sendResponse(w, r, models.NewListResponse(views, false, api.Clock))
}

// NearbyBus is one entry of the nearby query.
type NearbyBus struct {
	DistanceMeters float64       `json:"distanceMeters"`
	Location       tracking.View `json:"location"`
}

func (api *RestAPI) nearbyBusesHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	fieldErrors := map[string][]string{}

	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil || lat < -90 || lat > 90 {
		fieldErrors["lat"] = []string{"must be a number between -90 and 90"}
	}
	lng, err := strconv.ParseFloat(q.Get("lng"), 64)
	if err != nil || lng < -180 || lng > 180 {
		fieldErrors["lng"] = []string{"must be a number between -180 and 180"}
	}
	radius := float64(defaultNearbyRadiusMeters)
	if raw := q.Get("radius"); raw != "" {
		radius, err = strconv.ParseFloat(raw, 64)
		if err != nil || radius <= 0 || radius > maxNearbyRadiusMeters {
			fieldErrors["radius"] = []string{"must be a positive number of meters up to " + strconv.Itoa(maxNearbyRadiusMeters)}
		}
	}
	if len(fieldErrors) > 0 {
		api.validationErrorResponse(w, r, fieldErrors)
		return
	}

	hits := api.Tracker.NearbyBuses(geo.Point{Lat: lat, Lng: lng}, radius)
	out := make([]NearbyBus, 0, len(hits))
	for _, hit := range hits {
		view, err := api.Tracker.Status(r.Context(), hit.BusID)
		if err != nil {
			api.trackingErrorResponse(w, r, err)
			return
		}
		if !view.IsSharing {
			continue
		}
		out = append(out, NearbyBus{DistanceMeters: hit.DistanceMeters, Location: view})
	}
	api.sendResponse(w, r, models.NewListResponse(out, false, api.Clock))
}

// ETAResponse is the entry of the ETA endpoint.
type ETAResponse struct {
	BusID     string             `json:"busId"`
	IsSharing bool               `json:"isSharing"`
	NextStop  *tracking.StopView `json:"nextStop"`
	ETA       *tracking.ETAView  `json:"eta"`
}

func (api *RestAPI) etaHandler(w http.ResponseWriter, r *http.Request) {
	busID := strings.TrimSpace(r.URL.Query().Get("busId"))
	if busID == "" {
		api.validationErrorResponse(w, r, map[string][]string{"busId": {"is required"}})
		return
	}
	view, err := api.Tracker.Status(r.Context(), busID)
	if err != nil {
		api.trackingErrorResponse(w, r, err)
		return
	}
	api.sendEntry(w, r, ETAResponse{
		BusID:     view.BusID,
		IsSharing: view.IsSharing,
		NextStop:  view.NextStop,
		ETA:       view.ETAToNextStop,
	})
}

func (api *RestAPI) busTripsHandler(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxTripsLimit {
			api.validationErrorResponse(w, r, map[string][]string{"limit": {"must be between 1 and " + strconv.Itoa(maxTripsLimit)}})
			return
		}
		limit = n
	}
	trips, err := api.Tracker.Trips(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		api.trackingErrorResponse(w, r, err)
		return
	}
	api.sendResponse(w, r, models.NewListResponse(trips, len(trips) == limit, api.Clock))
}
