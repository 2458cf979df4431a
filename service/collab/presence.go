package collab

import (
	"sync"
	"time"
)

// PresenceStore holds the live record for every known user. It is
// process-local; per-entry read-modify-writes are serialized by the
// store lock.
type PresenceStore struct {
	mu    sync.RWMutex
	users map[string]*UserPresence
	clock func() time.Time
}

func NewPresenceStore(clock func() time.Time) *PresenceStore {
	if clock == nil {
		clock = time.Now
	}
	return &PresenceStore{
		users: make(map[string]*UserPresence),
		clock: clock,
	}
}

// Connect creates or revives the presence entry for an authenticated
// connection. A user reconnecting inside the grace window keeps their
// entry; the connection id is reassigned and status flips back to
// online. Reports whether this was a reconnect of a retained entry.
func (s *PresenceStore) Connect(id *UserIdentity, connID string) (UserPresence, bool) {
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()

	p, reconnect := s.users[id.UserID]
	if !reconnect {
		p = &UserPresence{
			UserID: id.UserID,
			Color:  UserColor(id.UserID),
		}
		s.users[id.UserID] = p
	}
	p.ConnID = connID
	p.DisplayName = id.DisplayName
	p.Email = id.Email
	p.Role = id.Role
	p.Status = StatusOnline
	p.LastSeen = now
	return *p, reconnect
}

// Touch bumps lastSeen on any inbound event.
func (s *PresenceStore) Touch(userID string) {
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.users[userID]; ok {
		p.LastSeen = now
	}
}

func (s *PresenceStore) SetCursor(userID, file string, pos CursorPosition) {
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.users[userID]; ok {
		p.CurrentFile = file
		p.Cursor = &pos
		p.LastSeen = now
	}
}

func (s *PresenceStore) SetSelection(userID, file string, sel SelectionRange) {
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.users[userID]; ok {
		p.CurrentFile = file
		p.Selection = &sel
		p.LastSeen = now
	}
}

// MarkOffline flips the entry to offline without deleting it. The
// connID guard makes the call a no-op when a newer connection has
// already taken over the user (reconnect race).
func (s *PresenceStore) MarkOffline(userID, connID string) bool {
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.users[userID]
	if !ok || p.ConnID != connID {
		return false
	}
	p.Status = StatusOffline
	p.LastSeen = now
	return true
}

// RemoveIfOffline is the deferred grace-window check: the entry is
// deleted only if the user has not come back online in the interim.
func (s *PresenceStore) RemoveIfOffline(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.users[userID]
	if !ok || p.Status != StatusOffline {
		return false
	}
	delete(s.users, userID)
	return true
}

// Get returns a copy of the entry.
func (s *PresenceStore) Get(userID string) (UserPresence, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.users[userID]
	if !ok {
		return UserPresence{}, false
	}
	return *p, true
}

// Online lists every user whose status is not offline.
func (s *PresenceStore) Online() []UserPresence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]UserPresence, 0, len(s.users))
	for _, p := range s.users {
		if p.Status != StatusOffline {
			out = append(out, *p)
		}
	}
	return out
}

// SweepOffline removes entries stuck offline past the grace window.
// Backstop for deferred checks lost to a process restart; returns the
// user ids removed so the caller can drop their room memberships.
func (s *PresenceStore) SweepOffline(grace time.Duration) []string {
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []string
	for id, p := range s.users {
		if p.Status == StatusOffline && now.Sub(p.LastSeen) > grace {
			delete(s.users, id)
			removed = append(removed, id)
		}
	}
	return removed
}
