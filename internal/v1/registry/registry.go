// Package registry tracks which session belongs to which player and
// room on this replica, and announces joins and leaves on the bus.
package registry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/triviaroyale/server/internal/v1/bus"
	"github.com/triviaroyale/server/internal/v1/logging"
)

// Entry records one admitted session.
type Entry struct {
	Username string
	RoomName string
}

// RosterStore is the slice of the shared store the registry needs to
// clean up after a disconnect.
type RosterStore interface {
	SetIsMember(ctx context.Context, key, member string) (bool, error)
	SetRem(ctx context.Context, key, member string) error
}

// Registry is the per-replica session table. Announcements are
// published asynchronously; admission and disconnect never wait on
// bus delivery.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Entry
	pub      bus.Publisher
	store    RosterStore
}

// New creates an empty Registry.
func New(pub bus.Publisher, st RosterStore) *Registry {
	return &Registry{
		sessions: make(map[string]Entry),
		pub:      pub,
		store:    st,
	}
}

// Admit records an admitted session and announces the join to the
// room.
func (r *Registry) Admit(sessionID, username, roomName string) {
	r.mu.Lock()
	r.sessions[sessionID] = Entry{Username: username, RoomName: roomName}
	r.mu.Unlock()

	go r.announce(roomName, bus.PlayersUpdate{Action: "joined", Username: username})
}

// Forget removes a session on disconnect. If the player is still on
// the room roster they are taken off it, and the leave is announced.
func (r *Registry) Forget(sessionID string) {
	r.mu.Lock()
	entry, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		member, err := r.store.SetIsMember(ctx, entry.RoomName, entry.Username)
		if err != nil {
			logging.Error(ctx, "failed to check roster on disconnect",
				zap.String("username", entry.Username),
				zap.String("room_name", entry.RoomName),
				zap.Error(err))
		} else if member {
			if err := r.store.SetRem(ctx, entry.RoomName, entry.Username); err != nil {
				logging.Error(ctx, "failed to remove player from roster on disconnect",
					zap.String("username", entry.Username),
					zap.String("room_name", entry.RoomName),
					zap.Error(err))
			}
		}

		if err := r.pub.PublishEvent(ctx, entry.RoomName, bus.PlayersUpdate{Action: "left", Username: entry.Username}); err != nil {
			logging.Error(ctx, "failed to announce leave",
				zap.String("username", entry.Username),
				zap.String("room_name", entry.RoomName),
				zap.Error(err))
		}
	}()
}

// Lookup returns the entry for a session, if present.
func (r *Registry) Lookup(sessionID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.sessions[sessionID]
	return entry, ok
}

// Len returns the number of admitted sessions on this replica.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) announce(roomName string, ev bus.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.pub.PublishEvent(ctx, roomName, ev); err != nil {
		logging.Error(ctx, "failed to announce players update",
			zap.String("room_name", roomName), zap.Error(err))
	}
}
