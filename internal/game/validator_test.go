package game

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activeRound(start time.Time, duration time.Duration) *Round {
	return &Round{
		ID:        uuid.New(),
		State:     RoundActive,
		StartTime: start,
		EndTime:   start.Add(duration),
		Duration:  duration,
		CreatedAt: start.Add(-3 * time.Second),
	}
}

func syncedPlayer(id string, joinSeq int, offset time.Duration) *Player {
	p := newPlayer(id, joinSeq, 5, time.Now())
	p.Offset = offset
	p.Synced = true
	return p
}

func lowConfidencePlayer(id string, joinSeq int) *Player {
	p := newPlayer(id, joinSeq, 5, time.Now())
	p.Synced = true
	p.LowConfidence = true
	return p
}

func TestValidateAcceptsInWindowTap(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	round := activeRound(start, 15*time.Second)
	player := syncedPlayer("alice", 0, 50*time.Millisecond)
	v := NewTapValidator(300*time.Millisecond, 500*time.Millisecond)

	// Client clock runs 50ms ahead: a tap 5s into the window carries a
	// client stamp 50ms later than server truth.
	verdict := v.Validate(TapEvent{
		PlayerID:   "alice",
		Seq:        1,
		ClientTime: start.Add(5*time.Second + 50*time.Millisecond),
	}, round, player)

	require.True(t, verdict.Accepted)
	assert.Equal(t, start.Add(5*time.Second), verdict.EstimatedTime)
	assert.Equal(t, 1, player.TapCount)
	assert.Len(t, player.TapLog, 1)
}

func TestValidateRejectsBeforeWindow(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	round := activeRound(start, 15*time.Second)
	player := syncedPlayer("alice", 0, 0)
	v := NewTapValidator(300*time.Millisecond, 500*time.Millisecond)

	verdict := v.Validate(TapEvent{PlayerID: "alice", Seq: 1, ClientTime: start.Add(-time.Millisecond)}, round, player)

	assert.False(t, verdict.Accepted)
	assert.Equal(t, ReasonOutOfWindow, verdict.Reason)
	assert.Equal(t, 0, player.TapCount)
}

func TestValidateRejectsAfterGraceWindow(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	round := activeRound(start, 15*time.Second)
	player := syncedPlayer("alice", 0, 0)
	v := NewTapValidator(300*time.Millisecond, 500*time.Millisecond)

	end := round.EndTime

	// Inside the grace window still counts.
	verdict := v.Validate(TapEvent{PlayerID: "alice", Seq: 1, ClientTime: end.Add(299 * time.Millisecond)}, round, player)
	assert.True(t, verdict.Accepted)

	// Just past it does not.
	verdict = v.Validate(TapEvent{PlayerID: "alice", Seq: 2, ClientTime: end.Add(301 * time.Millisecond)}, round, player)
	assert.False(t, verdict.Accepted)
	assert.Equal(t, ReasonOutOfWindow, verdict.Reason)
	assert.Equal(t, 1, player.TapCount)
}

func TestValidateLowConfidenceBoundary(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	round := activeRound(start, 15*time.Second)
	v := NewTapValidator(300*time.Millisecond, 500*time.Millisecond)

	// end + 400ms: beyond the 300ms grace window, but a player whose offset
	// could not be measured gets the extra 500ms tolerance.
	clientTime := round.EndTime.Add(400 * time.Millisecond)

	unsynced := lowConfidencePlayer("bob", 1)
	verdict := v.Validate(TapEvent{PlayerID: "bob", Seq: 1, ClientTime: clientTime}, round, unsynced)
	assert.True(t, verdict.Accepted, "low-confidence player inside widened bound")

	synced := syncedPlayer("alice", 0, 0)
	verdict = v.Validate(TapEvent{PlayerID: "alice", Seq: 1, ClientTime: clientTime}, round, synced)
	assert.False(t, verdict.Accepted, "synced player past the grace window")
	assert.Equal(t, ReasonOutOfWindow, verdict.Reason)
}

func TestValidateLowConfidenceWidensStartBound(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	round := activeRound(start, 15*time.Second)
	v := NewTapValidator(300*time.Millisecond, 500*time.Millisecond)

	unsynced := lowConfidencePlayer("bob", 0)
	verdict := v.Validate(TapEvent{PlayerID: "bob", Seq: 1, ClientTime: start.Add(-400 * time.Millisecond)}, round, unsynced)
	assert.True(t, verdict.Accepted)

	verdict = v.Validate(TapEvent{PlayerID: "bob", Seq: 2, ClientTime: start.Add(-600 * time.Millisecond)}, round, unsynced)
	assert.False(t, verdict.Accepted)
	assert.Equal(t, ReasonOutOfWindow, verdict.Reason)
}

func TestValidateRejectsDuplicateSeq(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	round := activeRound(start, 15*time.Second)
	player := syncedPlayer("alice", 0, 0)
	v := NewTapValidator(300*time.Millisecond, 500*time.Millisecond)

	first := v.Validate(TapEvent{PlayerID: "alice", Seq: 7, ClientTime: start.Add(time.Second)}, round, player)
	require.True(t, first.Accepted)

	replay := v.Validate(TapEvent{PlayerID: "alice", Seq: 7, ClientTime: start.Add(2 * time.Second)}, round, player)
	assert.False(t, replay.Accepted)
	assert.Equal(t, ReasonDuplicate, replay.Reason)
	assert.Equal(t, 1, player.TapCount, "first wins, replay never double counts")
}

func TestValidateRejectedSeqDoesNotBurnSlot(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	round := activeRound(start, 15*time.Second)
	player := syncedPlayer("alice", 0, 0)
	v := NewTapValidator(300*time.Millisecond, 500*time.Millisecond)

	rejected := v.Validate(TapEvent{PlayerID: "alice", Seq: 3, ClientTime: start.Add(-time.Minute)}, round, player)
	require.Equal(t, ReasonOutOfWindow, rejected.Reason)

	// The same sequence number resubmitted in-window is not a duplicate.
	verdict := v.Validate(TapEvent{PlayerID: "alice", Seq: 3, ClientTime: start.Add(time.Second)}, round, player)
	assert.True(t, verdict.Accepted)
}

func TestValidateRejectsWhenRoundNotActive(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	player := syncedPlayer("alice", 0, 0)
	v := NewTapValidator(300*time.Millisecond, 500*time.Millisecond)

	for _, state := range []RoundState{RoundWaiting, RoundCountdown, RoundFinished} {
		round := activeRound(start, 15*time.Second)
		round.State = state
		verdict := v.Validate(TapEvent{PlayerID: "alice", Seq: 1, ClientTime: start.Add(time.Second)}, round, player)
		assert.False(t, verdict.Accepted, state.String())
		assert.Equal(t, ReasonRoundNotActive, verdict.Reason)
	}

	verdict := v.Validate(TapEvent{PlayerID: "alice", Seq: 1, ClientTime: start}, nil, player)
	assert.Equal(t, ReasonRoundNotActive, verdict.Reason)
}

func TestValidateRejectsUnknownPlayer(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	round := activeRound(start, 15*time.Second)
	v := NewTapValidator(300*time.Millisecond, 500*time.Millisecond)

	verdict := v.Validate(TapEvent{PlayerID: "ghost", Seq: 1, ClientTime: start.Add(time.Second)}, round, nil)
	assert.False(t, verdict.Accepted)
	assert.Equal(t, ReasonUnknownPlayer, verdict.Reason)
}
