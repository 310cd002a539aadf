package game

import "errors"

var (
	// ErrRoomFull is returned when a join would exceed the room capacity.
	ErrRoomFull = errors.New("room is full")

	// ErrDuplicatePlayer is returned when the player id is already taken
	// inside the room.
	ErrDuplicatePlayer = errors.New("player id already in room")

	// ErrRoomClosed is returned for operations against a torn-down room.
	ErrRoomClosed = errors.New("room closed")

	// ErrRoundInProgress is returned when a round is requested while one is
	// already scheduled or running.
	ErrRoundInProgress = errors.New("round already scheduled or active")
)
