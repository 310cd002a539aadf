package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is the envelope for everything the coordinator pushes to room
// members and to the relay.
type Event struct {
	ID        string          `json:"id"`        // Event UUID
	RoomID    string          `json:"room_id"`   // Room identifier
	Type      EventType       `json:"type"`      // Event type
	Timestamp time.Time       `json:"timestamp"` // Event creation time
	Data      json.RawMessage `json:"data"`      // Event-specific payload
}

// EventType represents the type of room event.
type EventType string

const (
	EventTypePresence       EventType = "Presence"
	EventTypeRoomSnapshot   EventType = "RoomSnapshot"
	EventTypeRoundScheduled EventType = "RoundScheduled"
	EventTypeRoundActive    EventType = "RoundActive"
	EventTypeTapTally       EventType = "TapTally"
	EventTypeRoundFinished  EventType = "RoundFinished"
)

// PresencePayload lists room members in join order.
type PresencePayload struct {
	Players []string `json:"players"`
}

// RoomSnapshotPayload answers an explicit room_info request.
type RoomSnapshotPayload struct {
	Players     []string `json:"players"`
	RoundID     string   `json:"round_id,omitempty"`
	RoundState  string   `json:"round_state,omitempty"`
	StartTimeMS int64    `json:"start_time_ms,omitempty"`
	DurationMS  int64    `json:"duration_ms,omitempty"`
}

// RoundScheduledPayload announces the fair start time in server UTC.
type RoundScheduledPayload struct {
	RoundID     string `json:"round_id"`
	StartTimeMS int64  `json:"start_time_ms"`
	DurationMS  int64  `json:"duration_ms"`
}

// RoundActivePayload marks the instant the window opened.
type RoundActivePayload struct {
	RoundID string `json:"round_id"`
}

// TapTallyPayload carries the running count after an accepted tap.
type TapTallyPayload struct {
	RoundID  string `json:"round_id"`
	PlayerID string `json:"player_id"`
	TapCount int    `json:"tap_count"`
}

// Standing is one row of the final ranking.
type Standing struct {
	PlayerID string `json:"player_id"`
	TapCount int    `json:"tap_count"`
}

// RoundFinishedPayload carries the final, verified ranking.
type RoundFinishedPayload struct {
	RoundID   string     `json:"round_id"`
	Standings []Standing `json:"standings"`
}

// New builds an event envelope for a room, marshaling the payload.
func New(roomID string, typ EventType, payload any, now time.Time) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return &Event{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		Type:      typ,
		Timestamp: now,
		Data:      data,
	}, nil
}

// ParsePayload parses an event's data into the matching payload struct.
func ParsePayload(event *Event) (any, error) {
	switch event.Type {
	case EventTypePresence:
		var payload PresencePayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeRoomSnapshot:
		var payload RoomSnapshotPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeRoundScheduled:
		var payload RoundScheduledPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeRoundActive:
		var payload RoundActivePayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeTapTally:
		var payload TapTallyPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeRoundFinished:
		var payload RoundFinishedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	default:
		return nil, nil // Unknown event type
	}
}
