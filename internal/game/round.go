package game

import (
	"time"

	"github.com/google/uuid"
)

// RoundState tracks a round through its lifecycle.
type RoundState int

const (
	RoundWaiting RoundState = iota
	RoundCountdown
	RoundActive
	RoundFinished
)

func (s RoundState) String() string {
	switch s {
	case RoundWaiting:
		return "waiting"
	case RoundCountdown:
		return "countdown"
	case RoundActive:
		return "active"
	case RoundFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Round is one tap competition. Exactly one round per room may be in
// Countdown or Active at a time; all fields are owned by the room actor.
type Round struct {
	ID        uuid.UUID
	State     RoundState
	StartTime time.Time // server UTC
	EndTime   time.Time // StartTime + Duration
	Duration  time.Duration
	CreatedAt time.Time

	// standings is the cached finalize result; nil until the round finishes.
	standings []Standing
}

// InProgress reports whether the round still blocks scheduling a new one.
func (r *Round) InProgress() bool {
	return r != nil && (r.State == RoundCountdown || r.State == RoundActive)
}
