package clocksync

import (
	"sort"
	"time"
)

// Exchange holds the four timestamps of one completed ping-pong round trip.
// The server stamps ServerReceive/ServerSend itself; ClientSend and
// ClientReceive are reported by the client in its sync report.
type Exchange struct {
	ClientSend    time.Time
	ServerReceive time.Time
	ServerSend    time.Time
	ClientReceive time.Time
}

type sample struct {
	latency time.Duration
	offset  time.Duration
}

// Estimator accumulates ping-pong exchanges for a single player and derives
// one-way latency and clock offset estimates from them. The server computes
// both values itself and never accepts a client-reported offset.
//
// Not safe for concurrent use; the owning room serializes all access.
type Estimator struct {
	need    int
	samples []sample
}

// NewEstimator returns an estimator that considers itself complete after
// need successful exchanges.
func NewEstimator(need int) *Estimator {
	if need < 1 {
		need = 1
	}
	return &Estimator{need: need, samples: make([]sample, 0, need)}
}

// AddExchange records one round trip and reports whether enough exchanges
// have been collected. Exchanges beyond the required count are ignored.
func (e *Estimator) AddExchange(x Exchange) (done bool) {
	if len(e.samples) >= e.need {
		return true
	}

	rtt := x.ClientReceive.Sub(x.ClientSend)
	turnaround := x.ServerSend.Sub(x.ServerReceive)
	latency := (rtt - turnaround) / 2
	if latency < 0 {
		latency = 0
	}
	// Offset is the client clock minus the server clock: with symmetric
	// latency the ping covered ClientSend+latency of server time when it
	// arrived at ServerReceive.
	offset := x.ClientSend.Add(latency).Sub(x.ServerReceive)

	e.samples = append(e.samples, sample{latency: latency, offset: offset})
	return len(e.samples) >= e.need
}

// Complete reports whether the required number of exchanges was collected.
func (e *Estimator) Complete() bool {
	return len(e.samples) >= e.need
}

// SampleCount returns the number of exchanges recorded so far.
func (e *Estimator) SampleCount() int {
	return len(e.samples)
}

// Estimate returns the averaged offset and latency. With three or more
// samples the highest- and lowest-latency samples are discarded before
// averaging. ok is false when no samples exist at all; callers then fall
// back to a zero offset and flag the player as low-confidence.
func (e *Estimator) Estimate() (offset, latency time.Duration, ok bool) {
	if len(e.samples) == 0 {
		return 0, 0, false
	}

	kept := make([]sample, len(e.samples))
	copy(kept, e.samples)
	if len(kept) >= 3 {
		sort.Slice(kept, func(i, j int) bool { return kept[i].latency < kept[j].latency })
		kept = kept[1 : len(kept)-1]
	}

	var offSum, latSum time.Duration
	for _, s := range kept {
		offSum += s.offset
		latSum += s.latency
	}
	n := time.Duration(len(kept))
	return offSum / n, latSum / n, true
}
