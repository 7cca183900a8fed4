package restapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"bustracker.campus.org/internal/hub"
	"bustracker.campus.org/internal/logging"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 4096
	wsSendBuffer     = 64
)

// Client message types.
const (
	msgSubscribeToBus           = "subscribeToBus"
	msgUnsubscribeFromBus       = "unsubscribeFromBus"
	msgGetLocationSharingStatus = "getLocationSharingStatus"
)

var (
	errObserverClosed = errors.New("observer closed")
	errSlowObserver   = errors.New("observer send buffer full")
)

type clientMessage struct {
	Type      string `json:"type"`
	BusID     string `json:"busId"`
	RequestID string `json:"requestId,omitempty"`
}

// wsObserver is a hub observer backed by a WebSocket connection. Send only
// enqueues; writePump owns every write to the connection.
type wsObserver struct {
	id        string
	conn      *websocket.Conn
	send      chan hub.Event
	done      chan struct{}
	closeOnce sync.Once
}

func newWSObserver(conn *websocket.Conn) *wsObserver {
	return &wsObserver{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan hub.Event, wsSendBuffer),
		done: make(chan struct{}),
	}
}

func (o *wsObserver) ID() string { return o.id }

func (o *wsObserver) Send(ev hub.Event) error {
	select {
	case <-o.done:
		return errObserverClosed
	default:
	}
	select {
	case o.send <- ev:
		return nil
	case <-o.done:
		return errObserverClosed
	default:
		// a consumer this far behind is dropped; the hub forgets it on error
		o.close()
		return errSlowObserver
	}
}

func (o *wsObserver) close() {
	o.closeOnce.Do(func() { close(o.done) })
}

func (o *wsObserver) writePump(logger *slog.Logger) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		o.close()
		_ = o.conn.Close()
	}()

	for {
		select {
		case ev := <-o.send:
			_ = o.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := o.conn.WriteJSON(ev); err != nil {
				logger.Debug("websocket write failed", slog.String("observer", o.id), slog.String("error", err.Error()))
				return
			}
		case <-ticker.C:
			_ = o.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := o.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-o.done:
			_ = o.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(wsWriteWait))
			return
		}
	}
}

// websocketHandler upgrades an observer connection. The API key is checked
// before the upgrade so rejected clients get a plain 403.
func (api *RestAPI) websocketHandler(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if api.IsInvalidAPIKey(key) {
		api.sendForbidden(w, r)
		return
	}
	if api.shuttingDown() {
		api.sendError(w, r, http.StatusServiceUnavailable, "server is shutting down")
		return
	}

	conn, err := api.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the client.
		api.Logger.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	obs := newWSObserver(conn)
	if !api.trackObserver(obs) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server is shutting down"),
			time.Now().Add(wsWriteWait))
		_ = conn.Close()
		return
	}
	defer api.untrackObserver(obs)

	role := "viewer"
	if api.IsAdminKey(key) {
		role = "admin"
	}
	api.Hub.Register(obs, hub.Identity{Key: key, Role: role})

	logger := api.Logger.With(
		slog.String("component", "websocket"),
		slog.String("observer", obs.id))
	logging.LogOperation(logger, "observer_connected", slog.String("role", role))

	go obs.writePump(logger)

	api.readPump(r.Context(), obs, logger)

	api.Hub.Disconnect(obs)
	obs.close()
	logging.LogOperation(logger, "observer_disconnected")
}

// readPump handles client messages until the connection fails or the observer
// is dropped by the hub.
func (api *RestAPI) readPump(ctx context.Context, obs *wsObserver, logger *slog.Logger) {
	conn := obs.conn
	conn.SetReadLimit(wsMaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("websocket closed unexpectedly", slog.String("error", err.Error()))
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			api.replyError(obs, "", "", "malformed message")
			continue
		}
		api.handleClientMessage(ctx, obs, msg)
	}
}

func (api *RestAPI) handleClientMessage(ctx context.Context, obs *wsObserver, msg clientMessage) {
	busID := strings.TrimSpace(msg.BusID)
	if busID == "" {
		api.replyError(obs, busID, msg.RequestID, "busId is required")
		return
	}

	switch msg.Type {
	case msgSubscribeToBus:
		if err := api.Hub.Subscribe(ctx, obs, busID); err != nil {
			api.replyError(obs, busID, msg.RequestID, err.Error())
		}
	case msgUnsubscribeFromBus:
		api.Hub.Unsubscribe(obs, busID)
	case msgGetLocationSharingStatus:
		view, err := api.Tracker.Status(ctx, busID)
		if err != nil {
			api.replyError(obs, busID, msg.RequestID, err.Error())
			return
		}
		api.Hub.Reply(obs, hub.Event{
			Name:      hub.EventLocationSharingStatus,
			BusID:     busID,
			RequestID: msg.RequestID,
			Data:      view,
		})
	default:
		api.replyError(obs, busID, msg.RequestID, "unknown message type "+msg.Type)
	}
}

func (api *RestAPI) replyError(obs *wsObserver, busID, requestID, message string) {
	api.Hub.Reply(obs, hub.Event{
		Name:      hub.EventError,
		BusID:     busID,
		RequestID: requestID,
		Data:      hub.ErrorPayload{Message: message},
	})
}
