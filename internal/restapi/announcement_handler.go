package restapi

import (
	"log/slog"
	"net/http"
	"strings"

	"bustracker.campus.org/internal/hub"
	"bustracker.campus.org/internal/logging"
)

const maxAnnouncementLength = 500

type announcementRequest struct {
	Message  string `json:"message"`
	BusID    string `json:"busId,omitempty"`
	Severity string `json:"severity,omitempty"`
}

var alertSeverities = map[string]bool{"low": true, "medium": true, "high": true, "critical": true}

func (api *RestAPI) announcementHandler(w http.ResponseWriter, r *http.Request) {
	api.broadcast(w, r, hub.EventAnnouncement)
}

func (api *RestAPI) alertHandler(w http.ResponseWriter, r *http.Request) {
	api.broadcast(w, r, hub.EventEmergencyAlert)
}

// broadcast publishes an announcement or alert to the bus's observers, or to
// everyone when no bus is named.
func (api *RestAPI) broadcast(w http.ResponseWriter, r *http.Request, event string) {
	var req announcementRequest
	if !api.decodeJSON(w, r, &req) {
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	req.BusID = strings.TrimSpace(req.BusID)

	fieldErrors := map[string][]string{}
	if req.Message == "" {
		fieldErrors["message"] = []string{"is required"}
	} else if len(req.Message) > maxAnnouncementLength {
		fieldErrors["message"] = []string{"must be at most 500 characters"}
	}
	if event == hub.EventEmergencyAlert && !alertSeverities[req.Severity] {
		fieldErrors["severity"] = []string{"must be one of low, medium, high, critical"}
	}
	if len(fieldErrors) > 0 {
		api.validationErrorResponse(w, r, fieldErrors)
		return
	}

	scope := hub.ScopeAll()
	if req.BusID != "" {
		// unknown buses are rejected rather than silently reaching nobody
		if _, err := api.Tracker.Status(r.Context(), req.BusID); err != nil {
			api.trackingErrorResponse(w, r, err)
			return
		}
		scope = hub.ScopeBus(req.BusID)
	}

	payload := hub.Announcement{
		Message:  req.Message,
		BusID:    req.BusID,
		Severity: req.Severity,
		From:     "operations",
	}
	api.Hub.Publish(hub.Event{
		Name:      event,
		BusID:     req.BusID,
		RequestID: GetRequestID(r.Context()),
		Data:      payload,
		Scope:     scope,
	})

	logging.LogOperation(api.Logger, "announcement_published",
		slog.String("event", event),
		slog.String("bus_id", req.BusID),
		slog.String("request_id", GetRequestID(r.Context())))

	api.sendEntry(w, r, payload)
}
