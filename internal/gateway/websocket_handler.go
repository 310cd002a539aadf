package gateway

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/taprally/internal/clocksync"
	"github.com/mcdev12/taprally/internal/events"
	"github.com/mcdev12/taprally/internal/game"
)

// maxProtocolErrors is how many malformed messages a connection may send
// before it is dropped.
const maxProtocolErrors = 5

// WebSocketHandler upgrades room connections and bridges websocket messages
// into the room actors.
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	registry          *game.Registry
	clock             clockwork.Clock
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(cm *ConnectionManager, registry *game.Registry, clock clockwork.Clock) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		registry:          registry,
		clock:             clock,
	}
}

// HandleRoomConnection handles `GET /ws?room_id=...&player_id=...`.
// Joining happens as part of the upgrade; disconnecting leaves the room.
func (h *WebSocketHandler) HandleRoomConnection(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room_id")
	if roomID == "" {
		http.Error(w, "room_id is required", http.StatusBadRequest)
		return
	}
	playerID := r.URL.Query().Get("player_id")
	if playerID == "" {
		http.Error(w, "player_id is required", http.StatusBadRequest)
		return
	}

	ws, err := h.connectionManager.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to upgrade WebSocket connection")
		return
	}

	room, snap, err := h.registry.Join(roomID, playerID)
	if err != nil {
		log.Warn().
			Err(err).
			Str("room_id", roomID).
			Str("player_id", playerID).
			Msg("join refused")
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error())
		ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		ws.Close()
		return
	}

	conn := newConnection(h.connectionManager, ws, roomID, playerID, func() {
		h.registry.Leave(roomID, playerID)
	})
	h.connectionManager.registerConnection(conn)

	go conn.writePump()
	go h.readPump(conn, room)

	h.sendSnapshot(conn, snap)

	log.Info().
		Str("connection_id", conn.ID).
		Str("player_id", playerID).
		Str("room_id", roomID).
		Msg("WebSocket connection established")
}

// readPump parses client messages and routes them into the room actor.
func (h *WebSocketHandler) readPump(conn *Connection, room *game.Room) {
	defer func() {
		h.connectionManager.unregisterConnection(conn)
		conn.Conn.Close()
	}()

	conn.Conn.SetReadLimit(h.connectionManager.config.MaxMessageSize)
	conn.Conn.SetReadDeadline(time.Now().Add(h.connectionManager.config.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.Conn.SetReadDeadline(time.Now().Add(h.connectionManager.config.ReadTimeout))
		return nil
	})

	protocolErrors := 0
	for {
		_, raw, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("connection_id", conn.ID).Msg("WebSocket read error")
			}
			return
		}
		received := h.clock.Now()

		var msg clientMessage
		if err := unmarshalStrictType(raw, &msg); err != nil {
			protocolErrors++
			log.Warn().
				Err(err).
				Str("connection_id", conn.ID).
				Int("protocol_errors", protocolErrors).
				Msg("malformed client message")
			if protocolErrors >= maxProtocolErrors {
				return
			}
			continue
		}

		switch msg.Type {
		case msgTypePing:
			h.handlePing(conn, msg, received)

		case msgTypeSyncReport:
			room.RecordSyncExchange(conn.PlayerID, clocksync.Exchange{
				ClientSend:    time.UnixMilli(msg.ClientSendMS),
				ServerReceive: time.UnixMilli(msg.ServerReceiveMS),
				ServerSend:    time.UnixMilli(msg.ServerSendMS),
				ClientReceive: time.UnixMilli(msg.ClientReceiveMS),
			})

		case msgTypeStartRound:
			if err := room.StartRound(conn.PlayerID); err != nil {
				h.sendJSON(conn, errorMessage{Type: "error", Reason: err.Error()})
			}

		case msgTypeTap:
			verdict := room.Tap(conn.PlayerID, msg.Seq, time.UnixMilli(msg.ClientTimeMS))
			reply := tapReplyMessage{Type: "tap_ack", Seq: msg.Seq}
			if !verdict.Accepted {
				reply.Type = "tap_rejected"
				reply.Reason = string(verdict.Reason)
			}
			h.sendJSON(conn, reply)

		case msgTypeRoomInfo:
			h.sendSnapshot(conn, room.Snapshot())

		default:
			protocolErrors++
			log.Warn().
				Str("connection_id", conn.ID).
				Str("type", msg.Type).
				Msg("unknown message type")
			if protocolErrors >= maxProtocolErrors {
				return
			}
		}
	}
}

// handlePing replies immediately with the server's receive and send stamps.
// The client is expected to echo all four timestamps back in a sync_report.
func (h *WebSocketHandler) handlePing(conn *Connection, msg clientMessage, received time.Time) {
	h.sendJSON(conn, pongMessage{
		Type:            "pong",
		ClientSendMS:    msg.ClientSendMS,
		ServerReceiveMS: received.UnixMilli(),
		ServerSendMS:    h.clock.Now().UnixMilli(),
	})
}

func (h *WebSocketHandler) sendSnapshot(conn *Connection, snap game.Snapshot) {
	payload := events.RoomSnapshotPayload{Players: snap.Players}
	if snap.Round != nil {
		payload.RoundID = snap.Round.ID
		payload.RoundState = snap.Round.State
		payload.StartTimeMS = snap.Round.StartTimeMS
		payload.DurationMS = snap.Round.DurationMS
	}
	evt, err := events.New(conn.RoomID, events.EventTypeRoomSnapshot, payload, h.clock.Now())
	if err != nil {
		log.Error().Err(err).Msg("failed to build snapshot event")
		return
	}
	h.connectionManager.SendEvent(conn, evt)
}

// RegisterRoutes registers the gateway routes with an HTTP mux.
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleRoomConnection)
	mux.HandleFunc("/stats", h.HandleStats)
}

// HandleStats reports active connection counts.
func (h *WebSocketHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	total, rooms := h.connectionManager.ConnectionStats()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	writeJSON(w, map[string]int{
		"total_connections": total,
		"active_rooms":      rooms,
	})
}
