package collab

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type sessionState int

const (
	stateUnauthenticated sessionState = iota
	stateAuthenticated
	stateClosed
)

// session is the typed per-connection record. Connection-scoped state
// lives here, never on the transport's connection object.
type session struct {
	connID    string
	state     sessionState
	userID    string
	identity  *UserIdentity
	createdAt time.Time

	// limiter throttles cursor/selection fan-out from this connection.
	limiter *rate.Limiter
}

// sessionTable indexes sessions by connection id and by user id. A
// user maps to at most one live connection; re-authentication from a
// new connection takes the slot over.
type sessionTable struct {
	mu     sync.RWMutex
	byConn map[string]*session
	byUser map[string]string // userID -> connID
}

func newSessionTable() *sessionTable {
	return &sessionTable{
		byConn: make(map[string]*session),
		byUser: make(map[string]string),
	}
}

func (t *sessionTable) add(s *session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byConn[s.connID] = s
}

func (t *sessionTable) get(connID string) *session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.byConn[connID]
}

// bind marks the session authenticated and points the user index at
// it. Returns the previous connection id if another live connection
// held the user.
func (t *sessionTable) bind(connID, userID string, id *UserIdentity) (prevConn string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byConn[connID]
	if !ok {
		return ""
	}
	s.state = stateAuthenticated
	s.userID = userID
	s.identity = id
	if old, ok := t.byUser[userID]; ok && old != connID {
		prevConn = old
	}
	t.byUser[userID] = connID
	return prevConn
}

// remove drops the session. The user index is cleared only if it still
// points at this connection.
func (t *sessionTable) remove(connID string) *session {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byConn[connID]
	if !ok {
		return nil
	}
	delete(t.byConn, connID)
	if s.userID != "" && t.byUser[s.userID] == connID {
		delete(t.byUser, s.userID)
	}
	s.state = stateClosed
	return s
}

func (t *sessionTable) connOf(userID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.byUser[userID]
	return c, ok
}

// authedConns snapshots every authenticated connection id.
func (t *sessionTable) authedConns() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.byConn))
	for id, s := range t.byConn {
		if s.state == stateAuthenticated {
			out = append(out, id)
		}
	}
	return out
}

func (t *sessionTable) closeAll() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.byConn))
	for id, s := range t.byConn {
		s.state = stateClosed
		out = append(out, id)
	}
	t.byConn = make(map[string]*session)
	t.byUser = make(map[string]string)
	return out
}
