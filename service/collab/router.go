package collab

import (
	"CollabProject/logger"
)

// Router fans events out to connections through the transport Sender.
// Three primitives: everyone, one room (optionally excluding a
// connection), one user. Send errors are logged and swallowed; a dead
// peer is the transport's problem, not the broadcasting handler's.
type Router struct {
	sessions *sessionTable
	sender   Sender
}

func newRouter(sessions *sessionTable, sender Sender) *Router {
	return &Router{sessions: sessions, sender: sender}
}

// BroadcastAll delivers to every authenticated connection, optionally
// excluding one.
func (r *Router) BroadcastAll(event string, payload any, excludeConn string) {
	for _, connID := range r.sessions.authedConns() {
		if connID == excludeConn {
			continue
		}
		if err := r.sender.Send(connID, event, payload); err != nil {
			logger.Debugf("[router] broadcast-all send conn=%s event=%s err=%v", connID, event, err)
		}
	}
}

// BroadcastRoom delivers to the given room members, optionally
// excluding one connection (usually the sender's).
func (r *Router) BroadcastRoom(members []string, event string, payload any, excludeConn string) {
	for _, userID := range members {
		connID, ok := r.sessions.connOf(userID)
		if !ok || connID == excludeConn {
			continue
		}
		if err := r.sender.Send(connID, event, payload); err != nil {
			logger.Debugf("[router] room send user=%s event=%s err=%v", userID, event, err)
		}
	}
}

// SendTo delivers to a single user's live connection, if any.
func (r *Router) SendTo(userID, event string, payload any) {
	connID, ok := r.sessions.connOf(userID)
	if !ok {
		return
	}
	if err := r.sender.Send(connID, event, payload); err != nil {
		logger.Debugf("[router] unicast user=%s event=%s err=%v", userID, event, err)
	}
}
