package collab

import (
	"context"
	"time"
)

// Inbound event types (client -> coordinator).
const (
	EvtAuth            = "auth"
	EvtJoinRoom        = "join-room"
	EvtLeaveRoom       = "leave-room"
	EvtCursorMove      = "cursor-move"
	EvtSelectionChange = "selection-change"
	EvtSubmitEdit      = "submit-edit"
	EvtSendChat        = "send-chat"
	EvtTypingStart     = "typing-start"
	EvtTypingStop      = "typing-stop"
	EvtTerminalOutput  = "terminal-output"
	EvtTerminalInput   = "terminal-input"
)

// Outbound event types (coordinator -> clients).
const (
	EvtAuthSuccess     = "auth-success"
	EvtAuthError       = "auth-error"
	EvtRoomUsers       = "room-users"
	EvtUserOnline      = "user-online"
	EvtUserOffline     = "user-offline"
	EvtCursorUpdate    = "cursor-update"
	EvtSelectionUpdate = "selection-update"
	EvtEditBroadcast   = "edit-broadcast"
	EvtChatMessage     = "chat-message"
)

// Status is a user's presence status.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusBusy    Status = "busy"
	StatusOffline Status = "offline"
)

// RoomKind tags what a room collaborates on.
type RoomKind string

const (
	RoomProject   RoomKind = "project"
	RoomFile      RoomKind = "file"
	RoomTerminal  RoomKind = "terminal"
	RoomChat      RoomKind = "chat"
	RoomDashboard RoomKind = "dashboard"
)

func ValidRoomKind(k RoomKind) bool {
	switch k {
	case RoomProject, RoomFile, RoomTerminal, RoomChat, RoomDashboard:
		return true
	}
	return false
}

// UserIdentity is what the token verifier hands back for a valid token.
type UserIdentity struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Role        string `json:"role"`
}

// TokenVerifier is the external authentication contract. The
// coordinator never inspects tokens itself.
type TokenVerifier interface {
	Verify(token string) (*UserIdentity, error)
}

// Sender is the egress contract the transport layer implements:
// deliver an event to one connection, or force-close it. Send must not
// block the caller (queue-and-drop is acceptable).
type Sender interface {
	Send(connID string, event string, payload any) error
	Close(connID string)
}

// Cache is the best-effort external TTL cache. Absence of data and
// write failures are never treated as errors by the coordinator.
type Cache interface {
	AppendOp(ctx context.Context, fileID string, op *EditOperation, ttl time.Duration) error
	RecentOps(ctx context.Context, fileID string, limit int) ([]*EditOperation, error)
	AppendChat(ctx context.Context, roomID string, msg *Message, ttl time.Duration) error
}

// CursorPosition is a line/column pair.
type CursorPosition struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// SelectionRange is a start/end cursor pair.
type SelectionRange struct {
	Start CursorPosition `json:"start"`
	End   CursorPosition `json:"end"`
}

// UserPresence is the live record for one logical user.
type UserPresence struct {
	UserID      string          `json:"user_id"`
	ConnID      string          `json:"conn_id"`
	DisplayName string          `json:"display_name"`
	Email       string          `json:"email"`
	Role        string          `json:"role"`
	Status      Status          `json:"status"`
	Color       string          `json:"color"`
	LastSeen    time.Time       `json:"last_seen"`
	CurrentFile string          `json:"current_file,omitempty"`
	Cursor      *CursorPosition `json:"cursor,omitempty"`
	Selection   *SelectionRange `json:"selection,omitempty"`
}

// Message is one chat message. Immutable once created.
type Message struct {
	ID         string    `json:"id"`
	RoomID     string    `json:"room_id"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Payload    string    `json:"payload"`
	Timestamp  time.Time `json:"timestamp"`
}

// EditOperation is one accepted edit broadcast. Timestamp and UserID
// are server-assigned on receipt.
type EditOperation struct {
	Kind      string    `json:"kind"` // insert | delete | replace
	FileID    string    `json:"file_id"`
	Position  int       `json:"position"`
	Content   string    `json:"content,omitempty"`
	Length    int       `json:"length,omitempty"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

func validOpKind(k string) bool {
	switch k {
	case "insert", "delete", "replace":
		return true
	}
	return false
}

// ---- inbound payload shapes ----

type AuthPayload struct {
	Token string `json:"token"`
}

type JoinRoomPayload struct {
	RoomID string `json:"room_id"`
	Kind   string `json:"kind"`
}

type LeaveRoomPayload struct {
	RoomID string `json:"room_id"`
}

type CursorPayload struct {
	RoomID string `json:"room_id"`
	FileID string `json:"file_id"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

type SelectionPayload struct {
	RoomID string         `json:"room_id"`
	FileID string         `json:"file_id"`
	Start  CursorPosition `json:"start"`
	End    CursorPosition `json:"end"`
}

type EditPayload struct {
	RoomID   string `json:"room_id"`
	FileID   string `json:"file_id"`
	Kind     string `json:"kind"`
	Position int    `json:"position"`
	Content  string `json:"content"`
	Length   int    `json:"length"`
}

type ChatPayload struct {
	RoomID  string `json:"room_id"`
	Payload string `json:"payload"`
}

type RoomEventPayload struct {
	RoomID string `json:"room_id"`
}

type TerminalPayload struct {
	RoomID string `json:"room_id"`
	Data   string `json:"data"`
}
