package collab

import (
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSender captures everything the coordinator pushes out.
type fakeSender struct {
	mu     sync.Mutex
	sent   []sentEvent
	closed []string
}

type sentEvent struct {
	ConnID  string
	Event   string
	Payload any
}

func (f *fakeSender) Send(connID, event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentEvent{ConnID: connID, Event: event, Payload: payload})
	return nil
}

func (f *fakeSender) Close(connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, connID)
}

func (f *fakeSender) eventsFor(connID, event string) []sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentEvent
	for _, e := range f.sent {
		if e.ConnID == connID && (event == "" || e.Event == event) {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeSender) wasClosed(connID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.closed {
		if id == connID {
			return true
		}
	}
	return false
}

// fakeVerifier accepts tokens of the form "tok-<user>".
type fakeVerifier struct{}

func (fakeVerifier) Verify(token string) (*UserIdentity, error) {
	const prefix = "tok-"
	if len(token) <= len(prefix) || token[:len(prefix)] != prefix {
		return nil, errors.New("invalid token")
	}
	user := token[len(prefix):]
	return testIdentity(user), nil
}

func newTestCoordinator(conf Config) (*Coordinator, *fakeSender) {
	sender := &fakeSender{}
	c := New(conf, fakeVerifier{}, sender, nil)
	return c, sender
}

func connectAndAuth(c *Coordinator, connID, user string) {
	c.OnConnect(connID)
	c.OnMessage(connID, EvtAuth, map[string]any{"token": "tok-" + user})
}

func TestAuthSuccess(t *testing.T) {
	c, sender := newTestCoordinator(Config{})
	defer c.Stop()

	connectAndAuth(c, "c1", "alice")

	got := sender.eventsFor("c1", EvtAuthSuccess)
	require.Len(t, got, 1)
	p := got[0].Payload.(*AuthSuccessPayload)
	assert.Equal(t, "alice", p.User.UserID)
	assert.Equal(t, StatusOnline, p.User.Status)
	require.Len(t, p.Online, 1, "connecting client gets the full online list")

	pres, ok := c.Presence("alice")
	require.True(t, ok)
	assert.Equal(t, "c1", pres.ConnID)
}

func TestAuthBroadcastsOnlineToOthers(t *testing.T) {
	c, sender := newTestCoordinator(Config{})
	defer c.Stop()

	connectAndAuth(c, "c1", "alice")
	connectAndAuth(c, "c2", "bob")

	got := sender.eventsFor("c1", EvtUserOnline)
	require.Len(t, got, 1)
	assert.Equal(t, "bob", got[0].Payload.(*PresenceEventPayload).UserID)
	assert.Empty(t, sender.eventsFor("c2", EvtUserOnline), "joiner is excluded from its own broadcast")
}

func TestAuthFailure(t *testing.T) {
	c, sender := newTestCoordinator(Config{})
	defer c.Stop()

	c.OnConnect("c1")
	c.OnMessage("c1", EvtAuth, map[string]any{"token": "garbage"})

	require.Len(t, sender.eventsFor("c1", EvtAuthError), 1)
	assert.True(t, sender.wasClosed("c1"))
	assert.Empty(t, c.OnlineUsers(), "no partial state on auth failure")

	// the connection is terminal: later events are dropped
	c.OnMessage("c1", EvtJoinRoom, map[string]any{"room_id": "proj:1"})
	assert.Empty(t, c.RoomStats())
}

func TestEventsBeforeAuthAreDropped(t *testing.T) {
	c, _ := newTestCoordinator(Config{})
	defer c.Stop()

	c.OnConnect("c1")
	c.OnMessage("c1", EvtJoinRoom, map[string]any{"room_id": "proj:1"})
	assert.Empty(t, c.RoomStats())
}

func TestJoinRoomSnapshotAndBroadcast(t *testing.T) {
	c, sender := newTestCoordinator(Config{})
	defer c.Stop()

	connectAndAuth(c, "c1", "alice")
	connectAndAuth(c, "c2", "bob")

	c.OnMessage("c1", EvtJoinRoom, map[string]any{"room_id": "proj:42", "kind": "project"})
	c.OnMessage("c2", EvtJoinRoom, map[string]any{"room_id": "proj:42", "kind": "project"})

	// bob's snapshot includes himself and alice
	got := sender.eventsFor("c2", EvtRoomUsers)
	require.Len(t, got, 1)
	snap := got[0].Payload.(*RoomUsersPayload)
	ids := make([]string, 0, len(snap.Users))
	for _, u := range snap.Users {
		ids = append(ids, u.UserID)
	}
	assert.ElementsMatch(t, []string{"alice", "bob"}, ids)

	// alice saw bob join the room
	var roomScoped []sentEvent
	for _, e := range sender.eventsFor("c1", EvtUserOnline) {
		if e.Payload.(*PresenceEventPayload).RoomID == "proj:42" {
			roomScoped = append(roomScoped, e)
		}
	}
	require.Len(t, roomScoped, 1)
	assert.Equal(t, "bob", roomScoped[0].Payload.(*PresenceEventPayload).UserID)
}

func TestJoinBroadcastWithoutPresenceEntry(t *testing.T) {
	c, sender := newTestCoordinator(Config{})
	defer c.Stop()

	connectAndAuth(c, "c1", "alice")
	connectAndAuth(c, "c2", "bob")
	c.OnMessage("c2", EvtJoinRoom, map[string]any{"room_id": "proj:1"})

	// drop alice's presence entry out from under the join
	c.presence.mu.Lock()
	delete(c.presence.users, "alice")
	c.presence.mu.Unlock()

	c.OnMessage("c1", EvtJoinRoom, map[string]any{"room_id": "proj:1"})

	var roomScoped []*PresenceEventPayload
	for _, e := range sender.eventsFor("c2", EvtUserOnline) {
		if p := e.Payload.(*PresenceEventPayload); p.RoomID == "proj:1" {
			roomScoped = append(roomScoped, p)
		}
	}
	require.Len(t, roomScoped, 1)
	assert.Equal(t, "alice", roomScoped[0].UserID)
	assert.Nil(t, roomScoped[0].User, "no zero-valued user on a missing entry")
}

func TestEditBroadcastScenario(t *testing.T) {
	c, sender := newTestCoordinator(Config{})
	defer c.Stop()

	connectAndAuth(c, "c1", "alice")
	connectAndAuth(c, "c2", "bob")
	c.OnMessage("c1", EvtJoinRoom, map[string]any{"room_id": "proj:42"})
	c.OnMessage("c2", EvtJoinRoom, map[string]any{"room_id": "proj:42"})

	c.OnMessage("c1", EvtSubmitEdit, map[string]any{
		"room_id": "proj:42", "file_id": "main.ts",
		"kind": "insert", "position": 0, "content": "x",
	})

	got := sender.eventsFor("c2", EvtEditBroadcast)
	require.Len(t, got, 1, "B receives exactly one edit broadcast")
	p := got[0].Payload.(*EditBroadcastPayload)
	assert.Equal(t, "alice", p.Op.UserID)
	assert.Equal(t, "insert", p.Op.Kind)
	assert.Equal(t, 0, p.Op.Position)
	assert.Equal(t, "x", p.Op.Content)
	assert.False(t, p.Op.Timestamp.IsZero(), "timestamp is server-assigned")

	assert.Empty(t, sender.eventsFor("c1", EvtEditBroadcast), "sender is excluded")
}

func TestEditOrderPreservedPerSender(t *testing.T) {
	c, sender := newTestCoordinator(Config{})
	defer c.Stop()

	connectAndAuth(c, "c1", "alice")
	connectAndAuth(c, "c2", "bob")
	c.OnMessage("c1", EvtJoinRoom, map[string]any{"room_id": "f", "kind": "file"})
	c.OnMessage("c2", EvtJoinRoom, map[string]any{"room_id": "f", "kind": "file"})

	for i := 0; i < 3; i++ {
		c.OnMessage("c1", EvtSubmitEdit, map[string]any{
			"room_id": "f", "file_id": "f", "kind": "insert", "position": i,
		})
	}
	got := sender.eventsFor("c2", EvtEditBroadcast)
	require.Len(t, got, 3)
	for i, e := range got {
		assert.Equal(t, i, e.Payload.(*EditBroadcastPayload).Op.Position)
	}
}

func TestEditFromNonMemberDropped(t *testing.T) {
	c, sender := newTestCoordinator(Config{})
	defer c.Stop()

	connectAndAuth(c, "c1", "alice")
	connectAndAuth(c, "c2", "bob")
	c.OnMessage("c1", EvtJoinRoom, map[string]any{"room_id": "proj:42"})

	// bob never joined
	c.OnMessage("c2", EvtSubmitEdit, map[string]any{
		"room_id": "proj:42", "file_id": "main.ts", "kind": "insert", "position": 0,
	})
	assert.Empty(t, sender.eventsFor("c1", EvtEditBroadcast))
}

func TestMalformedEventsDroppedSilently(t *testing.T) {
	c, sender := newTestCoordinator(Config{})
	defer c.Stop()

	connectAndAuth(c, "c1", "alice")
	before := len(sender.eventsFor("c1", ""))

	c.OnMessage("c1", EvtSubmitEdit, map[string]any{"file_id": "main.ts"})        // no room
	c.OnMessage("c1", EvtSubmitEdit, map[string]any{"room_id": "r", "kind": "?"}) // bad kind
	c.OnMessage("c1", EvtSendChat, map[string]any{"room_id": "r"})                // no payload
	c.OnMessage("c1", "no-such-event", map[string]any{})

	assert.Len(t, sender.eventsFor("c1", ""), before, "nothing surfaced to the client")
	assert.False(t, sender.wasClosed("c1"), "connection stays open")
}

func TestChatEchoScenario(t *testing.T) {
	c, sender := newTestCoordinator(Config{})
	defer c.Stop()

	connectAndAuth(c, "c1", "alice")
	c.OnMessage("c1", EvtJoinRoom, map[string]any{"room_id": "chat:team1", "kind": "chat"})
	c.OnMessage("c1", EvtSendChat, map[string]any{"room_id": "chat:team1", "payload": "hello"})

	got := sender.eventsFor("c1", EvtChatMessage)
	require.Len(t, got, 1, "sender receives its own chat broadcast")
	msg := got[0].Payload.(*Message)
	assert.Equal(t, "hello", msg.Payload)
	assert.Equal(t, "alice", msg.SenderID)
	assert.NotEmpty(t, msg.ID)

	assert.Equal(t, 1, c.rooms.HistoryLen("chat:team1"))
}

func TestCursorBroadcast(t *testing.T) {
	c, sender := newTestCoordinator(Config{})
	defer c.Stop()

	connectAndAuth(c, "c1", "alice")
	connectAndAuth(c, "c2", "bob")
	c.OnMessage("c1", EvtJoinRoom, map[string]any{"room_id": "proj:1"})
	c.OnMessage("c2", EvtJoinRoom, map[string]any{"room_id": "proj:1"})

	c.OnMessage("c1", EvtCursorMove, map[string]any{
		"room_id": "proj:1", "file_id": "main.ts", "line": 10, "column": 4,
	})

	got := sender.eventsFor("c2", EvtCursorUpdate)
	require.Len(t, got, 1)
	p := got[0].Payload.(*CursorUpdatePayload)
	assert.Equal(t, "alice", p.UserID)
	assert.Equal(t, UserColor("alice"), p.Color)
	assert.Equal(t, 10, p.Line)
	assert.Empty(t, sender.eventsFor("c1", EvtCursorUpdate), "sender excluded")

	pres, _ := c.Presence("alice")
	require.NotNil(t, pres.Cursor)
	assert.Equal(t, "main.ts", pres.CurrentFile)
}

func TestCursorRateLimit(t *testing.T) {
	c, sender := newTestCoordinator(Config{CursorRate: 1, CursorBurst: 2})
	defer c.Stop()

	connectAndAuth(c, "c1", "alice")
	connectAndAuth(c, "c2", "bob")
	c.OnMessage("c1", EvtJoinRoom, map[string]any{"room_id": "proj:1"})
	c.OnMessage("c2", EvtJoinRoom, map[string]any{"room_id": "proj:1"})

	for i := 0; i < 5; i++ {
		c.OnMessage("c1", EvtCursorMove, map[string]any{
			"room_id": "proj:1", "file_id": "main.ts", "line": i, "column": 0,
		})
	}
	got := sender.eventsFor("c2", EvtCursorUpdate)
	assert.Len(t, got, 2, "burst exhausted, excess dropped")
}

func TestTypingAndTerminalRelay(t *testing.T) {
	c, sender := newTestCoordinator(Config{})
	defer c.Stop()

	connectAndAuth(c, "c1", "alice")
	connectAndAuth(c, "c2", "bob")
	c.OnMessage("c1", EvtJoinRoom, map[string]any{"room_id": "term:1", "kind": "terminal"})
	c.OnMessage("c2", EvtJoinRoom, map[string]any{"room_id": "term:1", "kind": "terminal"})

	c.OnMessage("c1", EvtTypingStart, map[string]any{"room_id": "term:1"})
	require.Len(t, sender.eventsFor("c2", EvtTypingStart), 1)
	assert.Empty(t, sender.eventsFor("c1", EvtTypingStart))

	c.OnMessage("c1", EvtTerminalOutput, map[string]any{"room_id": "term:1", "data": "$ ls\n"})
	got := sender.eventsFor("c2", EvtTerminalOutput)
	require.Len(t, got, 1)
	assert.Equal(t, "$ ls\n", got[0].Payload.(*TerminalEventPayload).Data)
}

func TestLeaveRoomBroadcastAndEagerDeletion(t *testing.T) {
	c, sender := newTestCoordinator(Config{})
	defer c.Stop()

	connectAndAuth(c, "c1", "alice")
	connectAndAuth(c, "c2", "bob")
	c.OnMessage("c1", EvtJoinRoom, map[string]any{"room_id": "proj:1"})
	c.OnMessage("c2", EvtJoinRoom, map[string]any{"room_id": "proj:1"})

	c.OnMessage("c2", EvtLeaveRoom, map[string]any{"room_id": "proj:1"})
	var roomScoped int
	for _, e := range sender.eventsFor("c1", EvtUserOffline) {
		if e.Payload.(*PresenceEventPayload).RoomID == "proj:1" {
			roomScoped++
		}
	}
	assert.Equal(t, 1, roomScoped)

	c.OnMessage("c1", EvtLeaveRoom, map[string]any{"room_id": "proj:1"})
	assert.Empty(t, c.RoomStats(), "last leave reclaims the room eagerly")
}

func TestDisconnectMarksOfflineAndBroadcasts(t *testing.T) {
	c, sender := newTestCoordinator(Config{GraceWindow: time.Minute})
	defer c.Stop()

	connectAndAuth(c, "c1", "alice")
	connectAndAuth(c, "c2", "bob")
	c.OnMessage("c1", EvtJoinRoom, map[string]any{"room_id": "proj:1"})
	c.OnMessage("c2", EvtJoinRoom, map[string]any{"room_id": "proj:1"})

	c.OnDisconnect("c1")

	pres, ok := c.Presence("alice")
	require.True(t, ok, "entry retained during the grace window")
	assert.Equal(t, StatusOffline, pres.Status)

	assert.NotEmpty(t, sender.eventsFor("c2", EvtUserOffline))
	// alice stays a logical member for a fast reconnect
	assert.Contains(t, c.rooms.Members("proj:1"), "alice")
}

func TestReconnectWithinGraceWindow(t *testing.T) {
	c, _ := newTestCoordinator(Config{GraceWindow: 50 * time.Millisecond})
	defer c.Stop()

	connectAndAuth(c, "c1", "alice")
	c.OnMessage("c1", EvtJoinRoom, map[string]any{"room_id": "proj:1"})
	c.OnDisconnect("c1")

	connectAndAuth(c, "c2", "alice")

	pres, ok := c.Presence("alice")
	require.True(t, ok)
	assert.Equal(t, StatusOnline, pres.Status)
	assert.Equal(t, "c2", pres.ConnID)

	// the deferred check must be a no-op now
	time.Sleep(120 * time.Millisecond)
	pres, ok = c.Presence("alice")
	require.True(t, ok)
	assert.Equal(t, StatusOnline, pres.Status)
	assert.Contains(t, c.rooms.Members("proj:1"), "alice", "membership survived the reconnect")
}

func TestGraceWindowExpiry(t *testing.T) {
	c, _ := newTestCoordinator(Config{GraceWindow: 30 * time.Millisecond})
	defer c.Stop()

	connectAndAuth(c, "c1", "alice")
	c.OnMessage("c1", EvtJoinRoom, map[string]any{"room_id": "proj:1"})
	c.OnDisconnect("c1")

	_, ok := c.Presence("alice")
	assert.True(t, ok, "still present right after disconnect")

	time.Sleep(100 * time.Millisecond)
	_, ok = c.Presence("alice")
	assert.False(t, ok, "presence removed after the grace window")
	assert.Empty(t, c.RoomStats(), "rooms emptied by the expiry are reclaimed")
}

func TestStaleDisconnectAfterReconnectIsNoop(t *testing.T) {
	c, _ := newTestCoordinator(Config{GraceWindow: time.Minute})
	defer c.Stop()

	connectAndAuth(c, "c1", "alice")
	connectAndAuth(c, "c2", "alice") // new connection takes the user over

	c.OnDisconnect("c1") // old connection going away must not flip alice offline

	pres, ok := c.Presence("alice")
	require.True(t, ok)
	assert.Equal(t, StatusOnline, pres.Status)
	assert.Equal(t, "c2", pres.ConnID)
}

func TestJanitorSweep(t *testing.T) {
	clk := newFakeClock()
	c, _ := newTestCoordinator(Config{GraceWindow: 30 * time.Second, Clock: clk.Now})
	defer c.Stop()

	connectAndAuth(c, "c1", "alice")
	c.OnMessage("c1", EvtJoinRoom, map[string]any{"room_id": "proj:1"})

	// simulate a lost deferred check: mark offline, cancel the timer
	c.OnDisconnect("c1")
	c.cancelTimer("grace:alice")

	clk.Advance(31 * time.Second)
	c.sweepOnce()

	_, ok := c.Presence("alice")
	assert.False(t, ok)
	assert.Empty(t, c.RoomStats())
}
