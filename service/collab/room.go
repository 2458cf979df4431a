package collab

import (
	"sync"
	"time"
)

// Room is one collaboration context. Mutations go through the owning
// registry; the room mutex serializes member/history read-modify-writes
// so two events on the same room never interleave.
type Room struct {
	mu             sync.Mutex
	ID             string
	Kind           RoomKind
	members        map[string]struct{}
	history        []*Message
	createdAt      time.Time
	lastActivityAt time.Time

	// defunct is set, under mu, when the room is removed from the
	// registry map. A caller that looked the pointer up before the
	// removal must check it after locking and treat the room as gone.
	defunct bool
}

// RoomStat is the read-only snapshot exposed to the ops API.
type RoomStat struct {
	ID         string    `json:"id"`
	Kind       RoomKind  `json:"kind"`
	Members    int       `json:"members"`
	History    int       `json:"history"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

// RoomRegistry owns the roomId -> Room map. Rooms are created lazily
// on first join and reclaimed eagerly when the last member leaves.
type RoomRegistry struct {
	mu         sync.RWMutex
	rooms      map[string]*Room
	historyCap int
	clock      func() time.Time
}

func NewRoomRegistry(historyCap int, clock func() time.Time) *RoomRegistry {
	if historyCap <= 0 {
		historyCap = 1000
	}
	if clock == nil {
		clock = time.Now
	}
	return &RoomRegistry{
		rooms:      make(map[string]*Room),
		historyCap: historyCap,
		clock:      clock,
	}
}

// Join adds the user to the room, creating it if needed. Returns the
// member list after the join (joiner included) and up to replay recent
// chat messages, oldest first.
func (r *RoomRegistry) Join(roomID string, kind RoomKind, userID string, replay int) (members []string, history []*Message) {
	now := r.clock()
	for {
		r.mu.Lock()
		room, ok := r.rooms[roomID]
		if !ok {
			room = &Room{
				ID:        roomID,
				Kind:      kind,
				members:   make(map[string]struct{}),
				createdAt: now,
			}
			r.rooms[roomID] = room
		}
		r.mu.Unlock()

		room.mu.Lock()
		if room.defunct {
			// lost the race with a last-member leave that deleted the
			// room between the lookup and the lock; take a fresh one
			room.mu.Unlock()
			continue
		}
		room.members[userID] = struct{}{}
		room.lastActivityAt = now

		members = make([]string, 0, len(room.members))
		for id := range room.members {
			members = append(members, id)
		}
		if replay > 0 && len(room.history) > 0 {
			n := len(room.history)
			if n > replay {
				n = replay
			}
			history = make([]*Message, n)
			copy(history, room.history[len(room.history)-n:])
		}
		room.mu.Unlock()
		return members, history
	}
}

// Leave removes the user. Returns the remaining members and whether
// the room was deleted (last member gone, memory reclaimed eagerly).
// Leaving a room one is not in, or a room that does not exist, is a
// no-op.
func (r *RoomRegistry) Leave(roomID, userID string) (remaining []string, wasMember, deleted bool) {
	now := r.clock()
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return nil, false, false
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	if _, wasMember = room.members[userID]; !wasMember {
		return nil, false, false
	}
	delete(room.members, userID)
	room.lastActivityAt = now

	if len(room.members) == 0 {
		delete(r.rooms, roomID)
		room.defunct = true
		room.history = nil
		return nil, true, true
	}
	remaining = make([]string, 0, len(room.members))
	for id := range room.members {
		remaining = append(remaining, id)
	}
	return remaining, true, false
}

// Touch validates membership and bumps room activity. Returns false
// when the room does not exist or the user is not a member, which
// callers treat as an unauthorized event and drop.
func (r *RoomRegistry) Touch(roomID, userID string) bool {
	now := r.clock()
	r.mu.RLock()
	room, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	if room.defunct {
		return false
	}
	if _, ok := room.members[userID]; !ok {
		return false
	}
	room.lastActivityAt = now
	return true
}

// Members returns the current member set, or nil if the room is gone.
func (r *RoomRegistry) Members(roomID string) []string {
	r.mu.RLock()
	room, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	if room.defunct {
		return nil
	}
	out := make([]string, 0, len(room.members))
	for id := range room.members {
		out = append(out, id)
	}
	return out
}

// AppendChat appends a message to room history, evicting the oldest
// past the cap. The caller has already validated membership.
func (r *RoomRegistry) AppendChat(roomID string, msg *Message) bool {
	now := r.clock()
	r.mu.RLock()
	room, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	if room.defunct {
		return false
	}
	room.history = append(room.history, msg)
	if len(room.history) > r.historyCap {
		room.history = room.history[len(room.history)-r.historyCap:]
	}
	room.lastActivityAt = now
	return true
}

// HistoryLen reports the current chat history length (tests, stats).
func (r *RoomRegistry) HistoryLen(roomID string) int {
	r.mu.RLock()
	room, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	if room.defunct {
		return 0
	}
	return len(room.history)
}

// RoomsOf lists every room the user is currently a member of.
func (r *RoomRegistry) RoomsOf(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for id, room := range r.rooms {
		room.mu.Lock()
		_, ok := room.members[userID]
		room.mu.Unlock()
		if ok {
			out = append(out, id)
		}
	}
	return out
}

// RemoveUser drops the user from every room (grace window expired).
// Emptied rooms are deleted. Returns the ids of deleted rooms.
func (r *RoomRegistry) RemoveUser(userID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted []string
	for id, room := range r.rooms {
		room.mu.Lock()
		if _, ok := room.members[userID]; ok {
			delete(room.members, userID)
			if len(room.members) == 0 {
				delete(r.rooms, id)
				room.defunct = true
				room.history = nil
				deleted = append(deleted, id)
			}
		}
		room.mu.Unlock()
	}
	return deleted
}

// SweepIdle deletes zero-member rooms idle past maxIdle. Safety net
// for membership bookkeeping that drifted; eager deletion on leave is
// the primary reclamation path. Returns deleted room ids.
func (r *RoomRegistry) SweepIdle(maxIdle time.Duration) []string {
	now := r.clock()
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted []string
	for id, room := range r.rooms {
		room.mu.Lock()
		if len(room.members) == 0 && now.Sub(room.lastActivityAt) > maxIdle {
			delete(r.rooms, id)
			room.defunct = true
			room.history = nil
			deleted = append(deleted, id)
		}
		room.mu.Unlock()
	}
	return deleted
}

// Stats snapshots every live room.
func (r *RoomRegistry) Stats() []RoomStat {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RoomStat, 0, len(r.rooms))
	for _, room := range r.rooms {
		room.mu.Lock()
		out = append(out, RoomStat{
			ID:         room.ID,
			Kind:       room.Kind,
			Members:    len(room.members),
			History:    len(room.history),
			CreatedAt:  room.createdAt,
			LastActive: room.lastActivityAt,
		})
		room.mu.Unlock()
	}
	return out
}
