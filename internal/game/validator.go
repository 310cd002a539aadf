package game

import "time"

// RejectReason classifies why a tap did not count.
type RejectReason string

const (
	ReasonOutOfWindow    RejectReason = "OutOfWindow"
	ReasonRoundNotActive RejectReason = "RoundNotActive"
	ReasonUnknownPlayer  RejectReason = "UnknownPlayer"
	ReasonDuplicate      RejectReason = "Duplicate"
)

// TapEvent is one reported tap. ReceivedAt is stamped by the coordinator on
// arrival; ClientTime is untrusted input.
type TapEvent struct {
	PlayerID   string
	Seq        uint64
	ClientTime time.Time
	ReceivedAt time.Time
}

// Verdict is the validation outcome for a single tap.
type Verdict struct {
	Accepted      bool
	Reason        RejectReason // empty when accepted
	EstimatedTime time.Time    // ClientTime mapped onto the server clock
}

// TapValidator is the anti-cheat boundary: it converts a client-reported
// timestamp through the player's measured offset and checks it against the
// authoritative round window. A client lying about its timestamp can shift
// a tap only within the grace window (plus the low-confidence tolerance),
// which is the accepted exposure.
type TapValidator struct {
	grace     time.Duration
	tolerance time.Duration // extra slack for low-confidence players
}

// NewTapValidator builds a validator with the given grace window and
// low-confidence tolerance.
func NewTapValidator(grace, tolerance time.Duration) *TapValidator {
	return &TapValidator{grace: grace, tolerance: tolerance}
}

// Validate admits or rejects one tap. On acceptance the player's tap count
// is incremented exactly once and the tap is logged; rejected taps leave
// the player untouched so an out-of-window sequence number can never burn
// a slot.
func (v *TapValidator) Validate(tap TapEvent, round *Round, player *Player) Verdict {
	if player == nil {
		return Verdict{Reason: ReasonUnknownPlayer}
	}
	if round == nil || round.State != RoundActive {
		return Verdict{Reason: ReasonRoundNotActive}
	}
	if player.seen(tap.Seq) {
		return Verdict{Reason: ReasonDuplicate}
	}

	estimated := tap.ClientTime.Add(-player.Offset)

	var tol time.Duration
	if player.LowConfidence {
		tol = v.tolerance
	}
	if estimated.Before(round.StartTime.Add(-tol)) || estimated.After(round.EndTime.Add(v.grace+tol)) {
		return Verdict{Reason: ReasonOutOfWindow, EstimatedTime: estimated}
	}

	player.recordTap(tap.Seq, tap.ClientTime)
	return Verdict{Accepted: true, EstimatedTime: estimated}
}
