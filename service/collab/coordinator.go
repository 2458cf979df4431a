package collab

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"CollabProject/logger"
	"CollabProject/tools/decode"
	"CollabProject/tools/errs"
	"CollabProject/tools/ids"
)

// Config tunes the coordinator. Zero values fall back to production
// defaults; Clock is injectable for tests.
type Config struct {
	NodeID         string
	GraceWindow    time.Duration // presence retention after disconnect
	JanitorEvery   time.Duration // periodic sweep interval
	RoomIdleTTL    time.Duration // empty-room backstop threshold
	AuthTimeout    time.Duration // unauthenticated connection kick
	ChatHistoryCap int
	ChatReplay     int // messages replayed to a joiner
	OpRingCap      int
	OpCacheTTL     time.Duration
	CursorRate     rate.Limit // cursor/selection events per second per connection
	CursorBurst    int
	Clock          func() time.Time
}

func (c *Config) norm() {
	if c.NodeID == "" {
		c.NodeID = "collab-1"
	}
	if c.GraceWindow <= 0 {
		c.GraceWindow = 30 * time.Second
	}
	if c.JanitorEvery <= 0 {
		c.JanitorEvery = time.Hour
	}
	if c.RoomIdleTTL <= 0 {
		c.RoomIdleTTL = 24 * time.Hour
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = 10 * time.Second
	}
	if c.ChatHistoryCap <= 0 {
		c.ChatHistoryCap = 1000
	}
	if c.ChatReplay <= 0 {
		c.ChatReplay = 50
	}
	if c.OpRingCap <= 0 {
		c.OpRingCap = 100
	}
	if c.OpCacheTTL <= 0 {
		c.OpCacheTTL = time.Hour
	}
	if c.CursorRate <= 0 {
		c.CursorRate = 30
	}
	if c.CursorBurst <= 0 {
		c.CursorBurst = 60
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// Coordinator is the realtime collaboration core: it owns presence,
// rooms, the edit-op log and the per-connection sessions, and fans
// events out through the transport Sender. One instance per process,
// constructed and stopped by the entry point.
type Coordinator struct {
	conf     Config
	verifier TokenVerifier
	sender   Sender
	cache    Cache

	sessions *sessionTable
	presence *PresenceStore
	rooms    *RoomRegistry
	ops      *OpLog
	router   *Router

	timerMu sync.Mutex
	timers  map[string]*time.Timer

	stopCh   chan struct{}
	stopOnce sync.Once
}

func New(conf Config, verifier TokenVerifier, sender Sender, cache Cache) *Coordinator {
	conf.norm()
	c := &Coordinator{
		conf:     conf,
		verifier: verifier,
		sender:   sender,
		cache:    cache,
		sessions: newSessionTable(),
		presence: NewPresenceStore(conf.Clock),
		rooms:    NewRoomRegistry(conf.ChatHistoryCap, conf.Clock),
		ops:      NewOpLog(conf.OpRingCap, cache, conf.OpCacheTTL),
		timers:   make(map[string]*time.Timer),
		stopCh:   make(chan struct{}),
	}
	c.router = newRouter(c.sessions, sender)
	return c
}

// Start launches the janitor sweep.
func (c *Coordinator) Start() {
	go c.janitor()
}

// Stop cancels timers and the janitor and closes every connection.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })

	c.timerMu.Lock()
	for k, t := range c.timers {
		t.Stop()
		delete(c.timers, k)
	}
	c.timerMu.Unlock()

	for _, connID := range c.sessions.closeAll() {
		c.sender.Close(connID)
	}
}

// ---- transport ingress ----

// OnConnect registers a fresh, unauthenticated session. The connection
// is kicked if no successful auth arrives inside AuthTimeout.
func (c *Coordinator) OnConnect(connID string) {
	s := &session{
		connID:    connID,
		state:     stateUnauthenticated,
		createdAt: c.conf.Clock(),
		limiter:   rate.NewLimiter(c.conf.CursorRate, c.conf.CursorBurst),
	}
	c.sessions.add(s)

	c.setTimer("unauth:"+connID, c.conf.AuthTimeout, func() {
		if s := c.sessions.get(connID); s != nil && s.state == stateUnauthenticated {
			logger.Infof("[session] auth timeout conn=%s", connID)
			c.sender.Close(connID)
		}
	})
}

// OnMessage dispatches one inbound event. Events for unknown or closed
// connections, malformed payloads and unauthorized room references are
// all dropped with a log entry; only auth failures are surfaced to the
// client. The transport calls this from a single goroutine per
// connection, which is what preserves per-sender ordering end to end.
func (c *Coordinator) OnMessage(connID, event string, payload map[string]any) {
	s := c.sessions.get(connID)
	if s == nil {
		logger.Debugf("[session] event for unknown conn=%s event=%s", connID, event)
		return
	}

	if event == EvtAuth {
		c.handleAuth(s, payload)
		return
	}
	if s.state != stateAuthenticated {
		logger.Debugf("[session] event before auth conn=%s event=%s", connID, event)
		return
	}
	c.presence.Touch(s.userID)

	switch event {
	case EvtJoinRoom:
		c.handleJoin(s, payload)
	case EvtLeaveRoom:
		c.handleLeave(s, payload)
	case EvtCursorMove:
		c.handleCursor(s, payload)
	case EvtSelectionChange:
		c.handleSelection(s, payload)
	case EvtSubmitEdit:
		c.handleEdit(s, payload)
	case EvtSendChat:
		c.handleChat(s, payload)
	case EvtTypingStart, EvtTypingStop:
		c.handleTyping(s, event, payload)
	case EvtTerminalOutput, EvtTerminalInput:
		c.handleTerminal(s, event, payload)
	default:
		logger.Debugf("[session] unknown event conn=%s event=%s", connID, event)
	}
}

// OnDisconnect runs the disconnect sequence: mark offline, report the
// user gone to their rooms, and schedule the deferred grace-window
// deletion. The user stays a logical room member for the window so a
// fast reconnect resumes without a duplicate join flow.
func (c *Coordinator) OnDisconnect(connID string) {
	c.cancelTimer("unauth:" + connID)

	s := c.sessions.remove(connID)
	if s == nil || s.userID == "" {
		return
	}
	userID := s.userID

	// A newer connection for this user makes the whole sequence a no-op.
	if !c.presence.MarkOffline(userID, connID) {
		return
	}

	for _, roomID := range c.rooms.RoomsOf(userID) {
		c.router.BroadcastRoom(c.rooms.Members(roomID), EvtUserOffline,
			&PresenceEventPayload{RoomID: roomID, UserID: userID}, connID)
	}
	c.router.BroadcastAll(EvtUserOffline, &PresenceEventPayload{UserID: userID}, connID)

	c.setTimer("grace:"+userID, c.conf.GraceWindow, func() {
		c.expireUser(userID)
	})
}

// expireUser finalizes presence removal after the grace window. If the
// user re-authenticated in the interim the presence check fails and
// nothing happens.
func (c *Coordinator) expireUser(userID string) {
	c.cancelTimer("grace:" + userID)
	if !c.presence.RemoveIfOffline(userID) {
		return
	}
	for _, roomID := range c.rooms.RemoveUser(userID) {
		c.ops.DropRoom(roomID)
	}
	logger.Infof("[presence] grace window elapsed, removed user=%s", userID)
}

// ---- event handlers ----

func (c *Coordinator) handleAuth(s *session, payload map[string]any) {
	if s.state != stateUnauthenticated {
		// exactly one attempt per connection
		logger.Debugf("[auth] repeated auth conn=%s", s.connID)
		return
	}

	p, err := decode.Decode[AuthPayload](payload)
	if err != nil || p.Token == "" {
		c.rejectAuth(s.connID, errs.ErrArgs)
		return
	}
	id, err := c.verifier.Verify(p.Token)
	if err != nil {
		logger.Infof("[auth] verify failed conn=%s err=%v", s.connID, err)
		c.rejectAuth(s.connID, errs.ErrTokenInvalid)
		return
	}

	c.cancelTimer("unauth:" + s.connID)
	if prev := c.sessions.bind(s.connID, id.UserID, id); prev != "" {
		// one live connection per user; the old one gets closed and its
		// disconnect sequence no-ops on the connID guard
		c.sender.Close(prev)
	}
	me, reconnect := c.presence.Connect(id, s.connID)

	c.router.SendTo(id.UserID, EvtAuthSuccess, &AuthSuccessPayload{
		User:   me,
		Online: c.presence.Online(),
	})
	c.router.BroadcastAll(EvtUserOnline, &PresenceEventPayload{UserID: me.UserID, User: &me}, s.connID)
	logger.Infof("[auth] user=%s conn=%s reconnect=%v", id.UserID, s.connID, reconnect)
}

func (c *Coordinator) rejectAuth(connID string, ce *errs.CodeError) {
	_ = c.sender.Send(connID, EvtAuthError, &AuthErrorPayload{Code: ce.Code, Msg: ce.Msg})
	c.sessions.remove(connID)
	c.sender.Close(connID)
}

func (c *Coordinator) handleJoin(s *session, payload map[string]any) {
	p, err := decode.Decode[JoinRoomPayload](payload)
	if err != nil || p.RoomID == "" {
		logger.Debugf("[room] malformed join conn=%s err=%v", s.connID, err)
		return
	}
	kind := RoomKind(p.Kind)
	if p.Kind == "" {
		kind = RoomProject
	}
	if !ValidRoomKind(kind) {
		logger.Debugf("[room] bad kind conn=%s kind=%q", s.connID, p.Kind)
		return
	}

	members, history := c.rooms.Join(p.RoomID, kind, s.userID, c.conf.ChatReplay)

	users := make([]UserPresence, 0, len(members))
	for _, uid := range members {
		if u, ok := c.presence.Get(uid); ok {
			users = append(users, u)
		}
	}
	snapshot := &RoomUsersPayload{RoomID: p.RoomID, Kind: kind, Users: users, History: history}
	if kind == RoomFile {
		// file rooms replay recent edit operations to the joiner
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		snapshot.Ops = c.ops.Recent(ctx, p.RoomID, c.conf.OpRingCap)
		cancel()
	}
	c.router.SendTo(s.userID, EvtRoomUsers, snapshot)

	joined := &PresenceEventPayload{RoomID: p.RoomID, UserID: s.userID}
	if me, ok := c.presence.Get(s.userID); ok {
		joined.User = &me
	}
	c.router.BroadcastRoom(members, EvtUserOnline, joined, s.connID)
}

func (c *Coordinator) handleLeave(s *session, payload map[string]any) {
	p, err := decode.Decode[LeaveRoomPayload](payload)
	if err != nil || p.RoomID == "" {
		logger.Debugf("[room] malformed leave conn=%s err=%v", s.connID, err)
		return
	}
	remaining, wasMember, deleted := c.rooms.Leave(p.RoomID, s.userID)
	if !wasMember {
		return
	}
	if deleted {
		c.ops.DropRoom(p.RoomID)
		return
	}
	c.router.BroadcastRoom(remaining, EvtUserOffline,
		&PresenceEventPayload{RoomID: p.RoomID, UserID: s.userID}, s.connID)
}

func (c *Coordinator) handleCursor(s *session, payload map[string]any) {
	if !s.limiter.Allow() {
		logger.Debugf("[cursor] rate limited conn=%s", s.connID)
		return
	}
	p, err := decode.Decode[CursorPayload](payload)
	if err != nil || p.RoomID == "" || p.FileID == "" {
		logger.Debugf("[cursor] malformed conn=%s err=%v", s.connID, err)
		return
	}
	if !c.rooms.Touch(p.RoomID, s.userID) {
		logger.Debugf("[cursor] not a member conn=%s room=%s", s.connID, p.RoomID)
		return
	}
	pos := CursorPosition{Line: p.Line, Column: p.Column}
	c.presence.SetCursor(s.userID, p.FileID, pos)

	c.router.BroadcastRoom(c.rooms.Members(p.RoomID), EvtCursorUpdate, &CursorUpdatePayload{
		RoomID:      p.RoomID,
		FileID:      p.FileID,
		UserID:      s.userID,
		DisplayName: s.identity.DisplayName,
		Color:       UserColor(s.userID),
		Line:        p.Line,
		Column:      p.Column,
	}, s.connID)
}

func (c *Coordinator) handleSelection(s *session, payload map[string]any) {
	if !s.limiter.Allow() {
		logger.Debugf("[selection] rate limited conn=%s", s.connID)
		return
	}
	p, err := decode.Decode[SelectionPayload](payload)
	if err != nil || p.RoomID == "" || p.FileID == "" {
		logger.Debugf("[selection] malformed conn=%s err=%v", s.connID, err)
		return
	}
	if !c.rooms.Touch(p.RoomID, s.userID) {
		logger.Debugf("[selection] not a member conn=%s room=%s", s.connID, p.RoomID)
		return
	}
	sel := SelectionRange{Start: p.Start, End: p.End}
	c.presence.SetSelection(s.userID, p.FileID, sel)

	c.router.BroadcastRoom(c.rooms.Members(p.RoomID), EvtSelectionUpdate, &SelectionUpdatePayload{
		RoomID:      p.RoomID,
		FileID:      p.FileID,
		UserID:      s.userID,
		DisplayName: s.identity.DisplayName,
		Color:       UserColor(s.userID),
		Start:       p.Start,
		End:         p.End,
	}, s.connID)
}

func (c *Coordinator) handleEdit(s *session, payload map[string]any) {
	p, err := decode.Decode[EditPayload](payload)
	if err != nil || p.RoomID == "" || p.FileID == "" || !validOpKind(p.Kind) || p.Position < 0 {
		logger.Debugf("[edit] malformed conn=%s err=%v", s.connID, err)
		return
	}
	if !c.rooms.Touch(p.RoomID, s.userID) {
		logger.Debugf("[edit] not a member conn=%s room=%s", s.connID, p.RoomID)
		return
	}

	op := &EditOperation{
		Kind:      p.Kind,
		FileID:    p.FileID,
		Position:  p.Position,
		Content:   p.Content,
		Length:    p.Length,
		UserID:    s.userID,
		Timestamp: c.conf.Clock(),
	}
	c.ops.Append(p.RoomID, op)

	c.router.BroadcastRoom(c.rooms.Members(p.RoomID), EvtEditBroadcast,
		&EditBroadcastPayload{RoomID: p.RoomID, Op: op}, s.connID)
}

func (c *Coordinator) handleChat(s *session, payload map[string]any) {
	p, err := decode.Decode[ChatPayload](payload)
	if err != nil || p.RoomID == "" || p.Payload == "" {
		logger.Debugf("[chat] malformed conn=%s err=%v", s.connID, err)
		return
	}
	if !c.rooms.Touch(p.RoomID, s.userID) {
		logger.Debugf("[chat] not a member conn=%s room=%s", s.connID, p.RoomID)
		return
	}

	msg := &Message{
		ID:         ids.GenerateString(),
		RoomID:     p.RoomID,
		SenderID:   s.userID,
		SenderName: s.identity.DisplayName,
		Payload:    p.Payload,
		Timestamp:  c.conf.Clock(),
	}
	c.rooms.AppendChat(p.RoomID, msg)

	if c.cache != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := c.cache.AppendChat(ctx, p.RoomID, msg, c.conf.OpCacheTTL); err != nil {
				logger.Warnf("[chat] cache mirror failed room=%s err=%v", p.RoomID, err)
			}
		}()
	}

	// sender included: the author's UI updates from the same
	// authoritative event as everyone else's
	c.router.BroadcastRoom(c.rooms.Members(p.RoomID), EvtChatMessage, msg, "")
}

func (c *Coordinator) handleTyping(s *session, event string, payload map[string]any) {
	p, err := decode.Decode[RoomEventPayload](payload)
	if err != nil || p.RoomID == "" {
		logger.Debugf("[typing] malformed conn=%s err=%v", s.connID, err)
		return
	}
	if !c.rooms.Touch(p.RoomID, s.userID) {
		return
	}
	c.router.BroadcastRoom(c.rooms.Members(p.RoomID), event, &TypingEventPayload{
		RoomID:      p.RoomID,
		UserID:      s.userID,
		DisplayName: s.identity.DisplayName,
	}, s.connID)
}

func (c *Coordinator) handleTerminal(s *session, event string, payload map[string]any) {
	p, err := decode.Decode[TerminalPayload](payload)
	if err != nil || p.RoomID == "" {
		logger.Debugf("[terminal] malformed conn=%s err=%v", s.connID, err)
		return
	}
	if !c.rooms.Touch(p.RoomID, s.userID) {
		return
	}
	c.router.BroadcastRoom(c.rooms.Members(p.RoomID), event, &TerminalEventPayload{
		RoomID: p.RoomID,
		UserID: s.userID,
		Data:   p.Data,
	}, s.connID)
}

// ---- read-side accessors (REST surface, tests) ----

func (c *Coordinator) OnlineUsers() []UserPresence { return c.presence.Online() }

func (c *Coordinator) RoomStats() []RoomStat { return c.rooms.Stats() }

func (c *Coordinator) RecentOps(ctx context.Context, fileID string, limit int) []*EditOperation {
	return c.ops.Recent(ctx, fileID, limit)
}

func (c *Coordinator) Presence(userID string) (UserPresence, bool) {
	return c.presence.Get(userID)
}

// ---- timers ----

func (c *Coordinator) setTimer(key string, d time.Duration, fn func()) {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	if old, ok := c.timers[key]; ok {
		old.Stop()
	}
	c.timers[key] = time.AfterFunc(d, fn)
}

func (c *Coordinator) cancelTimer(key string) {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	if t, ok := c.timers[key]; ok {
		t.Stop()
		delete(c.timers, key)
	}
}
