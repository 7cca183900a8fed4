package hub

import "time"

const (
	EventLocationUpdate         = "locationUpdate"
	EventLocationSharingStarted = "locationSharingStarted"
	EventLocationSharingStopped = "locationSharingStopped"
	EventAnnouncement           = "announcement"
	EventEmergencyAlert         = "emergencyAlert"

	// Replies sent to a single observer.
	EventLocationSnapshot      = "locationSnapshot"
	EventLocationSharingStatus = "locationSharingStatus"
	EventError                 = "error"
)

// Scope selects the observers an event is delivered to: every registered
// observer, or only those subscribed to BusID.
type Scope struct {
	All   bool
	BusID string
}

func ScopeAll() Scope { return Scope{All: true} }

func ScopeBus(busID string) Scope { return Scope{BusID: busID} }

// Event is the unit pushed to observers and relays.
type Event struct {
	Name      string    `json:"event"`
	BusID     string    `json:"busId,omitempty"`
	RequestID string    `json:"requestId,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Scope     Scope     `json:"-"`
}

// Announcement is the payload of announcement and emergencyAlert events.
type Announcement struct {
	Message  string `json:"message"`
	BusID    string `json:"busId,omitempty"`
	Severity string `json:"severity,omitempty"`
	From     string `json:"from,omitempty"`
}

// ErrorPayload is the payload of error replies.
type ErrorPayload struct {
	Message string `json:"message"`
}
