package realtime

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 16
)

// Browser-facing frame envelope. Inbound frames carry event "broadcast";
// outbound frames additionally use the presence event names.
const (
	wireEventBroadcast     = "broadcast"
	wireEventPresenceJoin  = "presence_join"
	wireEventPresenceLeave = "presence_leave"
)

type wireFrame struct {
	Event   string          `json:"event"`
	ActorID string          `json:"actorId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Cross-origin policy is enforced by the router's CORS layer.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeChannel upgrades the request to a websocket and bridges it onto a hub
// channel: inbound broadcast frames are published under the connection's
// client id, hub deliveries are written back in order by a single writer
// goroutine. Presence is tracked immediately with the actor's id.
func ServeChannel(hub *Hub, logger *zap.Logger, w http.ResponseWriter, r *http.Request, channel, actorID string) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	clientID := actorID + "/" + uuid.NewString()
	subscription, err := hub.Subscribe(channel, clientID)
	if err != nil {
		conn.Close()
		return err
	}
	if err := subscription.Track(PresenceMeta{ActorID: actorID}); err != nil {
		subscription.Close()
		conn.Close()
		return err
	}

	// Replay the current roster so a late joiner sees peers that tracked
	// before it connected. Join events only cover future arrivals.
	for _, meta := range subscription.Presence() {
		if meta.ActorID == "" || meta.ActorID == actorID {
			continue
		}
		subscription.deliver(Event{Kind: EventPresenceJoin, ActorID: meta.ActorID})
	}

	go writePump(conn, subscription, logger)
	go readPump(conn, subscription, hub, channel, clientID, logger)
	return nil
}

func readPump(conn *websocket.Conn, subscription *Subscription, hub *Hub, channel, clientID string, logger *zap.Logger) {
	defer func() {
		subscription.Close()
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("websocket read failed", zap.String("channel", channel), zap.Error(err))
			}
			return
		}

		var frame wireFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			logger.Warn("discarding malformed websocket frame", zap.String("channel", channel), zap.Error(err))
			continue
		}
		if frame.Event != wireEventBroadcast || len(frame.Payload) == 0 {
			continue
		}
		hub.Publish(channel, clientID, frame.Payload)
	}
}

func writePump(conn *websocket.Conn, subscription *Subscription, logger *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case event, ok := <-subscription.Events():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			frame := wireFrame{}
			switch event.Kind {
			case EventBroadcast:
				frame.Event = wireEventBroadcast
				frame.Payload = event.Frame
			case EventPresenceJoin:
				frame.Event = wireEventPresenceJoin
				frame.ActorID = event.ActorID
			case EventPresenceLeave:
				frame.Event = wireEventPresenceLeave
				frame.ActorID = event.ActorID
			}
			if err := conn.WriteJSON(frame); err != nil {
				logger.Warn("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
