package room

import (
	"context"
	"log"
	"sync"
	"time"

	"whiteboard-backend/internal/store"
)

// Config tunables for the live-session engine.
type Config struct {
	DenyInterval      time.Duration // min gap between identical permission-denied events
	LockIdleTimeout   time.Duration // server-side idle lock sweep window
	LockSweepInterval time.Duration
	TimerMinDuration  time.Duration
	TimerMaxDuration  time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		DenyInterval:      1500 * time.Millisecond,
		LockIdleTimeout:   30 * time.Second,
		LockSweepInterval: 5 * time.Second,
		TimerMinDuration:  5 * time.Minute,
		TimerMaxDuration:  120 * time.Minute,
	}
}

// Hub is the per-room state arena: rooms are created on first join and
// removed when their presence empties. All per-room ephemeral state
// (presence, locks, role cache, timer) lives inside the Room it belongs
// to, never in package globals.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]*Room
	store store.BoardStore
	cfg   Config
}

// NewHub creates a hub backed by the given session store.
func NewHub(st store.BoardStore, cfg Config) *Hub {
	return &Hub{
		rooms: make(map[string]*Room),
		store: st,
		cfg:   cfg,
	}
}

// Join admits a connection to the room for roomID, creating the room from
// the persisted board on first join. Returns store.ErrBoardNotFound when
// no such board exists.
func (h *Hub) Join(ctx context.Context, roomID string, conn Conn) (*Room, error) {
	for {
		h.mu.RLock()
		r, ok := h.rooms[roomID]
		h.mu.RUnlock()

		if !ok {
			board, err := h.store.FindByRoomID(ctx, roomID)
			if err != nil {
				return nil, err
			}

			h.mu.Lock()
			if existing, ok := h.rooms[roomID]; ok {
				r = existing
			} else {
				r = newRoom(h, board)
				h.rooms[roomID] = r
				log.Printf("[Hub] created room %s", roomID)
			}
			h.mu.Unlock()
		}

		err := r.Join(ctx, conn)
		if err == ErrRoomClosed {
			// Raced with teardown; the next pass creates a fresh room.
			continue
		}
		return r, err
	}
}

// Room returns the live room for roomID, if any.
func (h *Hub) Room(roomID string) (*Room, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[roomID]
	return r, ok
}

// BroadcastTitle pushes a title change into the live session, if one
// exists. The HTTP handler persists the title before calling this.
func (h *Hub) BroadcastTitle(roomID, title string) {
	if r, ok := h.Room(roomID); ok {
		r.SetTitle(title)
	}
}

// EvictBoard ends the live session for a deleted board.
func (h *Hub) EvictBoard(roomID, reason string) {
	if r, ok := h.Room(roomID); ok {
		r.EndSession(reason)
	}
}

// RoomCount reports the number of live rooms.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// dropRoom removes a torn-down room from the arena. The pointer check
// keeps a replacement room created in the meantime intact.
func (h *Hub) dropRoom(roomID string, r *Room) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, ok := h.rooms[roomID]; ok && current == r {
		delete(h.rooms, roomID)
		log.Printf("[Hub] removed room %s", roomID)
	}
}
