package game

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/taprally/internal/clocksync"
)

// Player is one room member. All fields are owned by the room actor; the
// transport layer only ever sees player ids.
type Player struct {
	ID       string
	JoinedAt time.Time
	joinSeq  int

	// Clock sync state, written only via the sync path.
	Offset        time.Duration // client clock minus server clock, estimated
	Latency       time.Duration // one-way, estimated
	Synced        bool
	LowConfidence bool

	// Tap state.
	TapCount int
	TapLog   []time.Time // reported client timestamps of accepted taps, for audit

	estimator *clocksync.Estimator
	seenSeqs  map[uint64]struct{}
	syncTimer clockwork.Timer
}

func newPlayer(id string, joinSeq int, exchanges int, joinedAt time.Time) *Player {
	return &Player{
		ID:        id,
		JoinedAt:  joinedAt,
		joinSeq:   joinSeq,
		estimator: clocksync.NewEstimator(exchanges),
		seenSeqs:  make(map[uint64]struct{}),
	}
}

func (p *Player) seen(seq uint64) bool {
	_, ok := p.seenSeqs[seq]
	return ok
}

// recordTap admits one tap: marks the sequence number, bumps the count and
// appends to the audit log.
func (p *Player) recordTap(seq uint64, clientTime time.Time) {
	p.seenSeqs[seq] = struct{}{}
	p.TapCount++
	p.TapLog = append(p.TapLog, clientTime)
}

// applyEstimate copies the estimator's result onto the player. Players with
// no samples at all fall back to a zero offset.
func (p *Player) applyEstimate(lowConfidence bool) {
	if offset, latency, ok := p.estimator.Estimate(); ok {
		p.Offset = offset
		p.Latency = latency
	} else {
		p.Offset = 0
		p.Latency = 0
	}
	p.Synced = true
	p.LowConfidence = lowConfidence
}
