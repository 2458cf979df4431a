package collab

// Outbound payload shapes. RoomID is empty on system-wide presence
// events and set on room-scoped ones.

type AuthSuccessPayload struct {
	User   UserPresence   `json:"user"`
	Online []UserPresence `json:"online"`
}

type AuthErrorPayload struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

type PresenceEventPayload struct {
	RoomID string        `json:"room_id,omitempty"`
	User   *UserPresence `json:"user,omitempty"`
	UserID string        `json:"user_id"`
}

type RoomUsersPayload struct {
	RoomID  string           `json:"room_id"`
	Kind    RoomKind         `json:"kind"`
	Users   []UserPresence   `json:"users"`
	History []*Message       `json:"history,omitempty"`
	Ops     []*EditOperation `json:"ops,omitempty"`
}

type CursorUpdatePayload struct {
	RoomID      string `json:"room_id"`
	FileID      string `json:"file_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Color       string `json:"color"`
	Line        int    `json:"line"`
	Column      int    `json:"column"`
}

type SelectionUpdatePayload struct {
	RoomID      string         `json:"room_id"`
	FileID      string         `json:"file_id"`
	UserID      string         `json:"user_id"`
	DisplayName string         `json:"display_name"`
	Color       string         `json:"color"`
	Start       CursorPosition `json:"start"`
	End         CursorPosition `json:"end"`
}

type EditBroadcastPayload struct {
	RoomID string         `json:"room_id"`
	Op     *EditOperation `json:"op"`
}

type TypingEventPayload struct {
	RoomID      string `json:"room_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

type TerminalEventPayload struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
	Data   string `json:"data"`
}
