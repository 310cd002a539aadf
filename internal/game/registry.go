package game

import (
	"errors"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/taprally/internal/config"
)

// Registry tracks active rooms. Rooms are created on first join and removed
// as soon as they empty; operations on different rooms never block each
// other since each room runs its own actor.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	cfg         config.GameConfig
	clock       clockwork.Clock
	broadcaster Broadcaster
}

// NewRegistry builds an empty registry.
func NewRegistry(cfg config.GameConfig, clock clockwork.Clock, broadcaster Broadcaster) *Registry {
	return &Registry{
		rooms:       make(map[string]*Room),
		cfg:         cfg,
		clock:       clock,
		broadcaster: broadcaster,
	}
}

// Join adds the player to the room, creating the room if absent. A room that
// is tearing down concurrently is replaced and the join retried.
func (g *Registry) Join(roomID, playerID string) (*Room, Snapshot, error) {
	for {
		room := g.getOrCreate(roomID)
		snap, err := room.Join(playerID)
		if errors.Is(err, ErrRoomClosed) {
			g.removeIf(roomID, room)
			continue
		}
		if err != nil {
			return nil, Snapshot{}, err
		}
		return room, snap, nil
	}
}

// Leave removes the player; the room tears itself down when it empties.
func (g *Registry) Leave(roomID, playerID string) {
	if room := g.Get(roomID); room != nil {
		room.Leave(playerID)
	}
}

// Get returns the room or nil.
func (g *Registry) Get(roomID string) *Room {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.rooms[roomID]
}

// RoomCount returns the number of active rooms.
func (g *Registry) RoomCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}

// CloseAll tears down every room, for process shutdown.
func (g *Registry) CloseAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, room := range g.rooms {
		room.Close()
		delete(g.rooms, id)
	}
}

func (g *Registry) getOrCreate(roomID string) *Room {
	g.mu.RLock()
	room := g.rooms[roomID]
	g.mu.RUnlock()
	if room != nil {
		return room
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if existing := g.rooms[roomID]; existing != nil {
		return existing
	}
	// The closure must remove exactly this room: a concurrent Join may have
	// already replaced a closing room's entry with a fresh one.
	room = NewRoom(roomID, g.cfg, g.clock, g.broadcaster, func(id string) {
		g.removeIf(id, room)
	})
	g.rooms[roomID] = room
	log.Info().Str("room_id", roomID).Msg("room created")
	return room
}

// removeIf drops the registry entry, but only while it still maps to the
// given room.
func (g *Registry) removeIf(roomID string, expect *Room) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rooms[roomID] != expect {
		return
	}
	delete(g.rooms, roomID)
	log.Info().Str("room_id", roomID).Msg("room removed")
}
