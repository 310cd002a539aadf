package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelopeAndParse(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	evt, err := New("lobby", EventTypeRoundScheduled, RoundScheduledPayload{
		RoundID:     "r-1",
		StartTimeMS: now.Add(3 * time.Second).UnixMilli(),
		DurationMS:  15000,
	}, now)
	require.NoError(t, err)

	assert.NotEmpty(t, evt.ID)
	assert.Equal(t, "lobby", evt.RoomID)
	assert.Equal(t, now, evt.Timestamp)

	parsed, err := ParsePayload(evt)
	require.NoError(t, err)
	payload, ok := parsed.(RoundScheduledPayload)
	require.True(t, ok)
	assert.Equal(t, "r-1", payload.RoundID)
	assert.Equal(t, int64(15000), payload.DurationMS)
}

func TestParsePayloadUnknownType(t *testing.T) {
	evt := &Event{Type: EventType("Mystery"), Data: []byte(`{}`)}
	parsed, err := ParsePayload(evt)
	assert.NoError(t, err)
	assert.Nil(t, parsed)
}

func TestParsePayloadStandingsOrderPreserved(t *testing.T) {
	now := time.Now()
	evt, err := New("lobby", EventTypeRoundFinished, RoundFinishedPayload{
		RoundID: "r-1",
		Standings: []Standing{
			{PlayerID: "alice", TapCount: 10},
			{PlayerID: "bob", TapCount: 10},
		},
	}, now)
	require.NoError(t, err)

	parsed, err := ParsePayload(evt)
	require.NoError(t, err)
	standings := parsed.(RoundFinishedPayload).Standings
	require.Len(t, standings, 2)
	assert.Equal(t, "alice", standings[0].PlayerID)
	assert.Equal(t, "bob", standings[1].PlayerID)
}
