package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Client → server messages, JSON over the websocket. All timestamps are
// unix milliseconds.
type clientMessage struct {
	Type string `json:"type"`

	// ping / sync_report
	ClientSendMS    int64 `json:"client_send_ms,omitempty"`
	ServerReceiveMS int64 `json:"server_receive_ms,omitempty"`
	ServerSendMS    int64 `json:"server_send_ms,omitempty"`
	ClientReceiveMS int64 `json:"client_receive_ms,omitempty"`

	// tap
	Seq          uint64 `json:"seq,omitempty"`
	ClientTimeMS int64  `json:"client_time_ms,omitempty"`
}

const (
	msgTypePing       = "ping"
	msgTypeSyncReport = "sync_report"
	msgTypeStartRound = "start_round"
	msgTypeTap        = "tap"
	msgTypeRoomInfo   = "room_info"
)

// pongMessage echoes the client's send time with the server's receive and
// send stamps, taken at I/O time so queueing inside the coordinator never
// skews the sync math.
type pongMessage struct {
	Type            string `json:"type"` // "pong"
	ClientSendMS    int64  `json:"client_send_ms"`
	ServerReceiveMS int64  `json:"server_receive_ms"`
	ServerSendMS    int64  `json:"server_send_ms"`
}

// tapReplyMessage acknowledges a tap back to its sender only; rejected taps
// of other players are never surfaced to the room.
type tapReplyMessage struct {
	Type   string `json:"type"` // "tap_ack" or "tap_rejected"
	Seq    uint64 `json:"seq"`
	Reason string `json:"reason,omitempty"`
}

// errorMessage reports a refused request (e.g. start_round mid-round).
type errorMessage struct {
	Type   string `json:"type"` // "error"
	Reason string `json:"reason"`
}

// unmarshalStrictType decodes a client message and insists on a type tag.
func unmarshalStrictType(raw []byte, msg *clientMessage) error {
	if err := json.Unmarshal(raw, msg); err != nil {
		return err
	}
	if msg.Type == "" {
		return fmt.Errorf("missing message type")
	}
	return nil
}

// sendJSON marshals a reply and queues it on the connection.
func (h *WebSocketHandler) sendJSON(conn *Connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("connection_id", conn.ID).Msg("failed to marshal reply")
		return
	}
	conn.enqueue(data)
}

func writeJSON(w http.ResponseWriter, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write JSON response")
	}
}
