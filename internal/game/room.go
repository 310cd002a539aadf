package game

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/taprally/internal/clocksync"
	"github.com/mcdev12/taprally/internal/config"
	"github.com/mcdev12/taprally/internal/events"
)

// Broadcaster fans a room event out to the room's members (and, when
// configured, to the external relay). Implementations must not block.
type Broadcaster interface {
	Broadcast(event *events.Event)
}

// RoundInfo is the externally visible slice of round state.
type RoundInfo struct {
	ID          string
	State       string
	StartTimeMS int64
	DurationMS  int64
}

// Snapshot is a point-in-time copy of room state, safe to use outside the
// actor.
type Snapshot struct {
	RoomID  string
	Players []string // join order
	Round   *RoundInfo
}

// Room owns all mutable state for one session: membership, per-player sync
// state, the current round and its timers. Every mutation funnels through a
// single command loop, so concurrent taps from many connections apply
// one-at-a-time against the authoritative state. Phase transitions are
// one-shot clock timers whose fire re-enters the same loop.
type Room struct {
	id          string
	cfg         config.GameConfig
	clock       clockwork.Clock
	broadcaster Broadcaster
	validator   *TapValidator
	aggregator  *ResultAggregator

	cmdCh     chan func()
	closed    chan struct{}
	closeOnce sync.Once
	onEmpty   func(roomID string)

	// Actor-owned state below; untouched outside the command loop.
	players     map[string]*Player
	joined      []*Player // join order
	nextJoinSeq int
	round       *Round
	startTimer  clockwork.Timer
	closeTimer  clockwork.Timer
}

// NewRoom creates a room and starts its command loop. onEmpty is invoked
// once, from the actor goroutine, after the last player leaves and the room
// has shut itself down.
func NewRoom(id string, cfg config.GameConfig, clock clockwork.Clock, broadcaster Broadcaster, onEmpty func(roomID string)) *Room {
	r := &Room{
		id:          id,
		cfg:         cfg,
		clock:       clock,
		broadcaster: broadcaster,
		validator:   NewTapValidator(cfg.GraceWindow(), cfg.LowConfidenceTolerance()),
		aggregator:  &ResultAggregator{},
		cmdCh:       make(chan func(), 64),
		closed:      make(chan struct{}),
		onEmpty:     onEmpty,
		players:     make(map[string]*Player),
	}
	go r.run()
	return r
}

// ID returns the room identifier.
func (r *Room) ID() string {
	return r.id
}

func (r *Room) run() {
	for {
		select {
		case fn := <-r.cmdCh:
			fn()
		case <-r.closed:
			return
		}
	}
}

// do posts a mutation into the command loop. Returns false if the room is
// already closed. A command that lands in the buffer while the room closes
// concurrently is never executed, so callers waiting on a reply channel
// must also select on closed; awaitClosed below wraps that pattern.
func (r *Room) do(fn func()) bool {
	select {
	case r.cmdCh <- fn:
		return true
	case <-r.closed:
		return false
	}
}

// awaitClosed returns true when the room closed before the posted command
// produced its reply. FIFO ordering guarantees the command either ran
// before the close or will never run at all.
func awaitClosed[T any](r *Room, reply <-chan T, out *T) bool {
	select {
	case v := <-reply:
		*out = v
		return false
	case <-r.closed:
		return true
	}
}

// Close tears the room down. Closing the channel stops the command loop,
// and every timer goroutine parked in scheduleAt stops and drains its own
// timer on the way out. Safe to call from any goroutine, more than once.
func (r *Room) Close() {
	r.closeOnce.Do(func() {
		close(r.closed)
		log.Debug().Str("room_id", r.id).Msg("room closed")
	})
}

// Join adds a player. Fails with ErrDuplicatePlayer, ErrRoomFull or
// ErrRoomClosed; on success returns a state snapshot for the new member.
func (r *Room) Join(playerID string) (Snapshot, error) {
	type result struct {
		snap Snapshot
		err  error
	}
	reply := make(chan result, 1)
	ok := r.do(func() {
		if _, exists := r.players[playerID]; exists {
			reply <- result{err: ErrDuplicatePlayer}
			return
		}
		if len(r.players) >= r.cfg.MaxPlayersPerRoom {
			reply <- result{err: ErrRoomFull}
			return
		}

		p := newPlayer(playerID, r.nextJoinSeq, r.cfg.SyncExchanges, r.clock.Now())
		r.nextJoinSeq++
		r.players[playerID] = p
		r.joined = append(r.joined, p)
		p.syncTimer = r.scheduleAt(r.clock.Now().Add(r.cfg.SyncTimeout()), func() {
			r.syncTimedOut(playerID)
		})

		log.Info().
			Str("room_id", r.id).
			Str("player_id", playerID).
			Int("players", len(r.players)).
			Msg("player joined")

		r.broadcastPresence()
		reply <- result{snap: r.snapshotLocked()}
	})
	var res result
	if !ok || awaitClosed(r, reply, &res) {
		return Snapshot{}, ErrRoomClosed
	}
	return res.snap, res.err
}

// Leave removes a player. The last leave tears the room down regardless of
// round phase.
func (r *Room) Leave(playerID string) {
	r.do(func() {
		p, exists := r.players[playerID]
		if !exists {
			return
		}
		stopAndDrainTimer(p.syncTimer)
		delete(r.players, playerID)
		for i, q := range r.joined {
			if q == p {
				r.joined = append(r.joined[:i], r.joined[i+1:]...)
				break
			}
		}

		log.Info().
			Str("room_id", r.id).
			Str("player_id", playerID).
			Int("players", len(r.players)).
			Msg("player left")

		if len(r.players) == 0 {
			r.Close()
			if r.onEmpty != nil {
				r.onEmpty(r.id)
			}
			return
		}
		r.broadcastPresence()
	})
}

// PlayerCount returns the current number of members.
func (r *Room) PlayerCount() int {
	reply := make(chan int, 1)
	var n int
	if !r.do(func() { reply <- len(r.players) }) || awaitClosed(r, reply, &n) {
		return 0
	}
	return n
}

// Snapshot returns a copy of the room's visible state.
func (r *Room) Snapshot() Snapshot {
	reply := make(chan Snapshot, 1)
	var snap Snapshot
	if !r.do(func() { reply <- r.snapshotLocked() }) || awaitClosed(r, reply, &snap) {
		return Snapshot{RoomID: r.id}
	}
	return snap
}

// RecordSyncExchange feeds one completed ping-pong round trip into the
// player's estimator. Once enough exchanges accumulate the player becomes
// synced and the sync timeout is cancelled.
func (r *Room) RecordSyncExchange(playerID string, x clocksync.Exchange) {
	r.do(func() {
		p, exists := r.players[playerID]
		if !exists || p.Synced {
			return
		}
		if done := p.estimator.AddExchange(x); !done {
			return
		}
		stopAndDrainTimer(p.syncTimer)
		p.applyEstimate(false)

		log.Info().
			Str("room_id", r.id).
			Str("player_id", playerID).
			Dur("offset", p.Offset).
			Dur("latency", p.Latency).
			Msg("player synced")

		r.maybeAutoStart()
	})
}

func (r *Room) syncTimedOut(playerID string) {
	p, exists := r.players[playerID]
	if !exists || p.Synced {
		return
	}
	// Whatever samples exist get averaged; none at all means zero offset.
	// Either way the player's taps are judged with the widened tolerance.
	p.applyEstimate(true)

	log.Warn().
		Str("room_id", r.id).
		Str("player_id", playerID).
		Int("samples", p.estimator.SampleCount()).
		Msg("sync timed out, marking player low-confidence")

	r.maybeAutoStart()
}

// StartRound schedules a round on behalf of a member. Fails with
// ErrRoundInProgress while one is already scheduled or running; requests
// from non-members are refused without touching round state.
func (r *Room) StartRound(playerID string) error {
	reply := make(chan error, 1)
	ok := r.do(func() {
		if _, exists := r.players[playerID]; !exists {
			reply <- ErrRoomClosed
			return
		}
		reply <- r.scheduleRound("host")
	})
	var err error
	if !ok || awaitClosed(r, reply, &err) {
		return ErrRoomClosed
	}
	return err
}

// scheduleRound runs inside the actor: picks the fair start time and arms
// the countdown timer.
func (r *Room) scheduleRound(trigger string) error {
	if r.round.InProgress() {
		return ErrRoundInProgress
	}

	// The start must be far enough out that even the slowest player's "go"
	// signal lands before the window opens on their clock.
	var maxLatency time.Duration
	for _, p := range r.players {
		if p.Latency > maxLatency {
			maxLatency = p.Latency
		}
	}
	lead := r.cfg.LeadTime()
	if twice := 2 * maxLatency; twice > lead {
		lead = twice
	}

	now := r.clock.Now()
	// Clients only ever see millisecond timestamps, so the enforced window
	// has to open exactly where the advertised start_time_ms says it does.
	round := &Round{
		ID:        uuid.New(),
		State:     RoundCountdown,
		StartTime: now.Add(lead).Truncate(time.Millisecond),
		Duration:  r.cfg.Duration(),
		CreatedAt: now,
	}
	round.EndTime = round.StartTime.Add(round.Duration)
	r.round = round

	stopAndDrainTimer(r.startTimer)
	r.startTimer = r.scheduleAt(round.StartTime, func() { r.activateRound(round) })

	log.Info().
		Str("room_id", r.id).
		Str("round_id", round.ID.String()).
		Str("trigger", trigger).
		Time("start_time", round.StartTime).
		Dur("lead", lead).
		Msg("round scheduled")

	r.broadcast(events.EventTypeRoundScheduled, events.RoundScheduledPayload{
		RoundID:     round.ID.String(),
		StartTimeMS: round.StartTime.UnixMilli(),
		DurationMS:  round.Duration.Milliseconds(),
	})
	return nil
}

// maybeAutoStart schedules a round once every present player is synced and
// the configured minimum is met.
func (r *Room) maybeAutoStart() {
	if !r.cfg.AutoStart || r.round.InProgress() {
		return
	}
	if len(r.players) < r.cfg.AutoStartMinPlayers {
		return
	}
	for _, p := range r.players {
		if !p.Synced {
			return
		}
	}
	if err := r.scheduleRound("auto"); err != nil {
		log.Error().Err(err).Str("room_id", r.id).Msg("auto-start failed")
	}
}

// activateRound runs inside the actor when the countdown timer fires.
func (r *Room) activateRound(round *Round) {
	if r.round != round || round.State != RoundCountdown {
		return // stale timer
	}
	round.State = RoundActive

	stopAndDrainTimer(r.closeTimer)
	r.closeTimer = r.scheduleAt(round.EndTime.Add(r.cfg.GraceWindow()), func() { r.finishRound(round) })

	log.Info().
		Str("room_id", r.id).
		Str("round_id", round.ID.String()).
		Msg("round active")

	r.broadcast(events.EventTypeRoundActive, events.RoundActivePayload{RoundID: round.ID.String()})
}

// finishRound runs inside the actor when the grace window lapses: the round
// is terminal, results are finalized and broadcast.
func (r *Room) finishRound(round *Round) {
	if r.round != round || round.State != RoundActive {
		return // stale timer
	}
	round.State = RoundFinished

	standings := r.aggregator.Finalize(round, r.joined)
	payload := events.RoundFinishedPayload{
		RoundID:   round.ID.String(),
		Standings: make([]events.Standing, len(standings)),
	}
	for i, s := range standings {
		payload.Standings[i] = events.Standing{PlayerID: s.PlayerID, TapCount: s.TapCount}
	}

	log.Info().
		Str("room_id", r.id).
		Str("round_id", round.ID.String()).
		Int("players", len(standings)).
		Msg("round finished")

	r.broadcast(events.EventTypeRoundFinished, payload)
}

// Tap validates one reported tap against the authoritative window and
// returns the verdict. Accepted taps bump the running tally broadcast.
func (r *Room) Tap(playerID string, seq uint64, clientTime time.Time) Verdict {
	receivedAt := r.clock.Now()
	reply := make(chan Verdict, 1)
	ok := r.do(func() {
		tap := TapEvent{
			PlayerID:   playerID,
			Seq:        seq,
			ClientTime: clientTime,
			ReceivedAt: receivedAt,
		}
		p := r.players[playerID]
		verdict := r.validator.Validate(tap, r.round, p)
		if verdict.Accepted {
			r.broadcast(events.EventTypeTapTally, events.TapTallyPayload{
				RoundID:  r.round.ID.String(),
				PlayerID: playerID,
				TapCount: p.TapCount,
			})
		} else {
			log.Debug().
				Str("room_id", r.id).
				Str("player_id", playerID).
				Uint64("seq", seq).
				Str("reason", string(verdict.Reason)).
				Msg("tap rejected")
		}
		reply <- verdict
	})
	var verdict Verdict
	if !ok || awaitClosed(r, reply, &verdict) {
		return Verdict{Reason: ReasonRoundNotActive}
	}
	return verdict
}

// snapshotLocked runs inside the actor.
func (r *Room) snapshotLocked() Snapshot {
	snap := Snapshot{
		RoomID:  r.id,
		Players: make([]string, len(r.joined)),
	}
	for i, p := range r.joined {
		snap.Players[i] = p.ID
	}
	if r.round != nil {
		snap.Round = &RoundInfo{
			ID:          r.round.ID.String(),
			State:       r.round.State.String(),
			StartTimeMS: r.round.StartTime.UnixMilli(),
			DurationMS:  r.round.Duration.Milliseconds(),
		}
	}
	return snap
}

func (r *Room) broadcastPresence() {
	players := make([]string, len(r.joined))
	for i, p := range r.joined {
		players[i] = p.ID
	}
	r.broadcast(events.EventTypePresence, events.PresencePayload{Players: players})
}

func (r *Room) broadcast(typ events.EventType, payload any) {
	evt, err := events.New(r.id, typ, payload, r.clock.Now())
	if err != nil {
		log.Error().Err(err).Str("room_id", r.id).Msg("failed to build event")
		return
	}
	r.broadcaster.Broadcast(evt)
}

// scheduleAt arms a one-shot timer whose fire re-enters the command loop.
// Room teardown stops the waiting goroutine via the closed channel.
func (r *Room) scheduleAt(deadline time.Time, fn func()) clockwork.Timer {
	d := deadline.Sub(r.clock.Now())
	if d < 0 {
		d = 0
	}
	t := r.clock.NewTimer(d)
	go func() {
		select {
		case <-t.Chan():
			r.do(fn)
		case <-r.closed:
			stopAndDrainTimer(t)
		}
	}()
	return t
}

// stopAndDrainTimer safely stops a timer and drains its channel, following
// the pattern from the time.Timer.Stop documentation. Nil-safe.
func stopAndDrainTimer(timer clockwork.Timer) {
	if timer == nil {
		return
	}
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
